// Package store persists committed ledger state to a SQLite database file.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"coinfolio.mini/cfm/internal/ledger"
	"coinfolio.mini/cfm/internal/types"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile        = "cfm.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

var (
	errNoBackups = errors.New("no ledger backups available")

	// ErrHashMismatch is returned by Load when the stored app hash does not
	// match the digest of the stored entities.
	ErrHashMismatch = errors.New("stored app hash does not match ledger contents")
)

// Store manages persistence of the committed ledger to a SQLite database file.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
}

// NewStore opens (or creates) the ledger database at filePath. A database
// that cannot be opened is replaced by the latest backup, or by an empty
// database when there is none.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	if err := s.tryOpenOrRecover(); err != nil {
		return nil, err
	}

	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	return s, nil
}

// Path returns the absolute path of the database file.
func (s *Store) Path() string { return s.file }

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) tryOpenOrRecover() error {
	if err := s.openDB(); err != nil {
		if recErr := s.recoverDatabase(err); recErr != nil {
			return recErr
		}
	}
	return nil
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(s.file)))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil {
		db.Close()
		return fmt.Errorf("check sqlite: %w", err)
	}
	if check != "ok" {
		db.Close()
		return fmt.Errorf("check sqlite: %s", check)
	}

	s.db = db
	return nil
}

func (s *Store) recoverDatabase(openErr error) error {
	if err := s.restoreLatestBackup(); err != nil {
		if errors.Is(err, errNoBackups) {
			if cleanErr := s.resetDatabaseFiles(); cleanErr != nil {
				return fmt.Errorf("reset database after %v: %w", openErr, cleanErr)
			}
			if err := s.openDB(); err != nil {
				return fmt.Errorf("create fresh database after %v: %w", openErr, err)
			}
			return nil
		}
		return fmt.Errorf("restore database after %v: %w", openErr, err)
	}
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", filepath.Base(path), err)
			}
		}
	}
	return firstErr
}

func (s *Store) ensureSchema() error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"portfolios", `CREATE TABLE IF NOT EXISTS portfolios (
			owner TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			holdings TEXT NOT NULL
		)`},
		{"currencies", `CREATE TABLE IF NOT EXISTS currencies (
			id TEXT PRIMARY KEY,
			issued TEXT NOT NULL
		)`},
		{"timestamps", `CREATE TABLE IF NOT EXISTS timestamps (
			seq INTEGER PRIMARY KEY,
			tx_hash TEXT NOT NULL UNIQUE,
			time TEXT NOT NULL
		)`},
		{"meta", `CREATE TABLE IF NOT EXISTS meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			height INTEGER NOT NULL,
			app_hash BLOB,
			ledger_time TEXT
		)`},
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st.sql); err != nil {
			return fmt.Errorf("create %s table: %w", st.name, err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	return nil
}

// Save writes the writes merged into st since its last save in a single SQL
// transaction: touched portfolios and currencies are upserted, new timestamp
// entries appended and the meta row replaced.
func (s *Store) Save(st *ledger.State) error {
	delta := st.Unsaved()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}

	if err := savePortfolios(tx, delta.Portfolios); err != nil {
		tx.Rollback()
		return err
	}
	if err := saveCurrencies(tx, delta.Currencies); err != nil {
		tx.Rollback()
		return err
	}
	if err := saveTimestamps(tx, delta.FirstSeq, delta.Timestamps); err != nil {
		tx.Rollback()
		return err
	}

	var ledgerTime any
	if delta.Time != nil {
		ledgerTime = formatTime(*delta.Time)
	}
	if _, err := tx.Exec(`INSERT INTO meta (id, height, app_hash, ledger_time) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET height = excluded.height, app_hash = excluded.app_hash,
		ledger_time = excluded.ledger_time`, st.Height, st.AppHash, ledgerTime); err != nil {
		tx.Rollback()
		return fmt.Errorf("write meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	st.MarkSaved(delta)
	return nil
}

func savePortfolios(tx *sql.Tx, portfolios []types.Portfolio) error {
	stmt, err := tx.Prepare(`INSERT INTO portfolios (owner, id, holdings) VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET id = excluded.id, holdings = excluded.holdings`)
	if err != nil {
		return fmt.Errorf("prepare portfolio upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range portfolios {
		holdings, err := json.Marshal(p.Holdings)
		if err != nil {
			return fmt.Errorf("encode holdings of %s: %w", p.Owner, err)
		}
		if _, err := stmt.Exec(p.Owner.Hex(), strconv.FormatUint(p.ID, 10), string(holdings)); err != nil {
			return fmt.Errorf("upsert portfolio %s: %w", p.Owner, err)
		}
	}
	return nil
}

func saveCurrencies(tx *sql.Tx, currencies []ledger.CurrencyEntry) error {
	stmt, err := tx.Prepare(`INSERT INTO currencies (id, issued) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET issued = excluded.issued`)
	if err != nil {
		return fmt.Errorf("prepare currency upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range currencies {
		if _, err := stmt.Exec(strconv.FormatUint(c.ID, 10), c.Issued.String()); err != nil {
			return fmt.Errorf("upsert currency %d: %w", c.ID, err)
		}
	}
	return nil
}

// saveTimestamps appends entries at commit positions first onwards. Rows are
// never rewritten: an existing seq or hash fails the save.
func saveTimestamps(tx *sql.Tx, first int, entries []types.TimestampEntry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT INTO timestamps (seq, tx_hash, time) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare timestamp insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.Exec(first+i, e.TxHash, formatTime(e.Time)); err != nil {
			return fmt.Errorf("insert timestamp %s: %w", e.TxHash, err)
		}
	}
	return nil
}

// Load reads the committed state back. An empty database yields an empty
// state at height zero. The stored app hash is checked against the loaded
// contents.
func (s *Store) Load() (*ledger.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		snap       ledger.Snapshot
		ledgerTime sql.NullString
	)
	err := s.db.QueryRow(`SELECT height, app_hash, ledger_time FROM meta WHERE id = 1`).
		Scan(&snap.Height, &snap.AppHash, &ledgerTime)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	if ledgerTime.Valid {
		t, err := parseTime(ledgerTime.String)
		if err != nil {
			return nil, fmt.Errorf("parse ledger time: %w", err)
		}
		snap.Time = &t
	}

	if snap.Portfolios, err = s.loadPortfolios(); err != nil {
		return nil, err
	}
	if snap.Currencies, err = s.loadCurrencies(); err != nil {
		return nil, err
	}
	if snap.Timestamps, err = s.loadTimestamps(); err != nil {
		return nil, err
	}

	st := ledger.FromSnapshot(snap)
	if len(snap.AppHash) > 0 && string(st.Hash()) != string(snap.AppHash) {
		return nil, fmt.Errorf("load height %d: %w", snap.Height, ErrHashMismatch)
	}
	st.MarkSaved(st.Unsaved())
	return st, nil
}

func (s *Store) loadPortfolios() ([]types.Portfolio, error) {
	rows, err := s.db.Query(`SELECT owner, id, holdings FROM portfolios ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("query portfolios: %w", err)
	}
	defer rows.Close()

	var out []types.Portfolio
	for rows.Next() {
		var owner, id, holdings string
		if err := rows.Scan(&owner, &id, &holdings); err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		p := types.Portfolio{}
		if p.Owner, err = types.ParsePublicKey(owner); err != nil {
			return nil, fmt.Errorf("portfolio owner %q: %w", owner, err)
		}
		if p.ID, err = strconv.ParseUint(id, 10, 64); err != nil {
			return nil, fmt.Errorf("portfolio id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(holdings), &p.Holdings); err != nil {
			return nil, fmt.Errorf("portfolio holdings of %s: %w", owner, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) loadCurrencies() ([]ledger.CurrencyEntry, error) {
	rows, err := s.db.Query(`SELECT id, issued FROM currencies`)
	if err != nil {
		return nil, fmt.Errorf("query currencies: %w", err)
	}
	defer rows.Close()

	var out []ledger.CurrencyEntry
	for rows.Next() {
		var id, issued string
		if err := rows.Scan(&id, &issued); err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		var c ledger.CurrencyEntry
		if c.ID, err = strconv.ParseUint(id, 10, 64); err != nil {
			return nil, fmt.Errorf("currency id %q: %w", id, err)
		}
		if c.Issued, err = decimal.NewFromString(issued); err != nil {
			return nil, fmt.Errorf("currency %d amount: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadTimestamps() ([]types.TimestampEntry, error) {
	rows, err := s.db.Query(`SELECT tx_hash, time FROM timestamps ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query timestamps: %w", err)
	}
	defer rows.Close()

	var out []types.TimestampEntry
	for rows.Next() {
		var e types.TimestampEntry
		var ts string
		if err := rows.Scan(&e.TxHash, &ts); err != nil {
			return nil, fmt.Errorf("scan timestamp: %w", err)
		}
		if e.Time, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("timestamp %s: %w", e.TxHash, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}
