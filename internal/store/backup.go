package store

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"coinfolio.mini/cfm/internal/ledger"
)

// PeriodicBackup saves through Store and additionally backs the database up
// after every Every-th height. Backup failures are logged, not returned: the
// committed state itself was saved.
type PeriodicBackup struct {
	Store      *Store
	Every      int64
	MaxBackups int
}

func (p PeriodicBackup) Save(st *ledger.State) error {
	if err := p.Store.Save(st); err != nil {
		return err
	}
	if p.Every > 0 && st.Height > 0 && st.Height%p.Every == 0 {
		if path, err := p.Store.BackupCurrent(p.MaxBackups); err != nil {
			log.Printf("WARN: Backup at height %d failed: %v", st.Height, err)
		} else if path != "" {
			log.Printf("INFO: Backed up ledger at height %d to %s", st.Height, path)
		}
	}
	return nil
}

type backupInfo struct {
	path      string
	timestamp int64
}

// BackupCurrent writes a snapshot of the database to a timestamped file and
// prunes old backups beyond maxBackups. Returns the backup path when created.
func (s *Store) BackupCurrent(maxBackups int) (string, error) {
	snapshot, err := s.ExportSnapshot()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup directory: %w", err)
	}

	backupPath := uniqueBackupPath(s.backupDir, filepath.Base(s.file))
	if err := os.WriteFile(backupPath, snapshot, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	prefix, ext := s.backupPattern()
	s.pruneBackups(prefix, ext, maxBackups)

	return backupPath, nil
}

// ExportSnapshot returns a consistent copy of the current database contents.
func (s *Store) ExportSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.file); errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.file), "cfm-export-*.db")
	if err != nil {
		return nil, fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	os.Remove(tempPath)

	escaped := strings.ReplaceAll(tempPath, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("vacuum into temp file: %w", err)
	}

	data, err := os.ReadFile(tempPath)
	os.Remove(tempPath)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}

	return data, nil
}

func (s *Store) backupPattern() (prefix, ext string) {
	base := filepath.Base(s.file)
	ext = filepath.Ext(base)
	prefix = strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return prefix, ext
}

func (s *Store) restoreLatestBackup() error {
	prefix, ext := s.backupPattern()
	backups, err := s.listBackups(prefix, ext)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return errNoBackups
	}

	latest := backups[len(backups)-1]
	if err := s.resetDatabaseFiles(); err != nil {
		return err
	}
	if err := copyFile(latest.path, s.file); err != nil {
		return fmt.Errorf("copy backup %s: %w", filepath.Base(latest.path), err)
	}
	return s.openDB()
}

// listBackups returns the backups of the database file ordered oldest first.
func (s *Store) listBackups(prefix, ext string) ([]backupInfo, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []backupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if ext != "" && !strings.HasSuffix(name, ext) {
			continue
		}

		stem := strings.TrimSuffix(name, ext)
		ts, parseErr := strconv.ParseInt(strings.TrimPrefix(stem, prefix+"-"), 10, 64)
		if parseErr != nil {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			ts = info.ModTime().Unix()
		}

		backups = append(backups, backupInfo{
			path:      filepath.Join(s.backupDir, name),
			timestamp: ts,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].timestamp == backups[j].timestamp {
			return backups[i].path < backups[j].path
		}
		return backups[i].timestamp < backups[j].timestamp
	})

	return backups, nil
}

func (s *Store) pruneBackups(prefix, ext string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}
	backups, err := s.listBackups(prefix, ext)
	if err != nil || len(backups) <= maxBackups {
		return
	}
	for i := 0; i < len(backups)-maxBackups; i++ {
		_ = os.Remove(backups[i].path)
	}
}

func uniqueBackupPath(dir, base string) string {
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}

	timestamp := time.Now().Unix()
	for {
		name := fmt.Sprintf("%s-%d%s", prefix, timestamp, ext)
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		timestamp++
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
