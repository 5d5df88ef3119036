// Package logger provides a thread-safe in-memory journal of transaction
// execution outcomes. It is local to a replica and not part of consensus
// state; the ABCI application exposes it through the /journal query.
package logger

import (
	"sync"
	"time"
)

// Outcome of one delivered transaction
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeRejected  Outcome = "rejected"
)

// Entry represents a single journal record
type Entry struct {
	Height      int64     `json:"height"`
	LedgerTime  time.Time `json:"ledger_time"`
	TxHash      string    `json:"tx_hash"`
	Kind        string    `json:"kind"`
	Outcome     Outcome   `json:"outcome"`
	Code        *uint8    `json:"code,omitempty"` // set for coded rejections
	Description string    `json:"description,omitempty"`
}

// Journal keeps the most recent execution outcomes
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// New creates a new journal with specified max entry count
func New(maxSize int) *Journal {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Journal{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a new entry to the journal
func (j *Journal) Record(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, e)

	// Keep only the last maxSize entries
	if len(j.entries) > j.maxSize {
		j.entries = j.entries[len(j.entries)-j.maxSize:]
	}
}

// Committed records a transaction that committed
func (j *Journal) Committed(height int64, at time.Time, hash, kind string) {
	j.Record(Entry{Height: height, LedgerTime: at, TxHash: hash, Kind: kind, Outcome: OutcomeCommitted})
}

// Rejected records a transaction rejected at execution time. code is nil for
// rejections outside the coded taxonomy.
func (j *Journal) Rejected(height int64, at time.Time, hash, kind string, code *uint8, desc string) {
	j.Record(Entry{Height: height, LedgerTime: at, TxHash: hash, Kind: kind, Outcome: OutcomeRejected, Code: code, Description: desc})
}

// GetRecent returns the most recent n entries (newest first)
func (j *Journal) GetRecent(n int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n > len(j.entries) {
		n = len(j.entries)
	}

	result := make([]Entry, n)
	for i := 0; i < n; i++ {
		result[i] = j.entries[len(j.entries)-1-i]
	}

	return result
}

// GetAll returns all entries (newest first)
func (j *Journal) GetAll() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	result := make([]Entry, len(j.entries))
	for i := 0; i < len(j.entries); i++ {
		result[i] = j.entries[len(j.entries)-1-i]
	}

	return result
}
