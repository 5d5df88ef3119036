// Package ledger provides the replicated ledger state of cfm and the
// uniquely-owned forks that transactions are executed against. State holds
// the committed entities: portfolios keyed by owner, the currency ledger,
// the append-only timestamp index and the consensus-agreed ledger time. A
// Fork stages writes on top of a State until the block driver merges it.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"coinfolio.mini/cfm/internal/types"
)

// State is the committed ledger. It must not be read or written while a
// Fork over it is outstanding, except through that Fork.
type State struct {
	Height  int64
	AppHash []byte

	time       *time.Time
	portfolios map[string]types.Portfolio // keyed by owner hex
	currencies map[uint64]decimal.Decimal
	timestamps []types.TimestampEntry
	tsIndex    map[string]int
	sum        digest

	// Writes merged since the last MarkSaved.
	dirtyPortfolios map[string]struct{}
	dirtyCurrencies map[uint64]struct{}
	savedTimestamps int
}

func NewState() *State {
	return &State{
		portfolios:      make(map[string]types.Portfolio),
		currencies:      make(map[uint64]decimal.Decimal),
		tsIndex:         make(map[string]int),
		dirtyPortfolios: make(map[string]struct{}),
		dirtyCurrencies: make(map[uint64]struct{}),
	}
}

// CurrencyEntry is the cumulative issued amount of one currency.
type CurrencyEntry struct {
	ID     uint64          `json:"id"`
	Issued decimal.Decimal `json:"issued"`
}

// Snapshot is a flat, ordered copy of a State used for persistence and
// hashing. Portfolios are ordered by owner hex, currencies by id and
// timestamps by commit order.
type Snapshot struct {
	Height     int64                  `json:"height"`
	AppHash    []byte                 `json:"app_hash"`
	Time       *time.Time             `json:"time,omitempty"`
	Portfolios []types.Portfolio      `json:"portfolios"`
	Currencies []CurrencyEntry        `json:"currencies"`
	Timestamps []types.TimestampEntry `json:"timestamps"`
}

// Snapshot returns an ordered deep copy of s.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Height:     s.Height,
		AppHash:    append([]byte(nil), s.AppHash...),
		Portfolios: make([]types.Portfolio, 0, len(s.portfolios)),
		Currencies: make([]CurrencyEntry, 0, len(s.currencies)),
		Timestamps: append([]types.TimestampEntry(nil), s.timestamps...),
	}
	if s.time != nil {
		t := *s.time
		snap.Time = &t
	}

	owners := make([]string, 0, len(s.portfolios))
	for k := range s.portfolios {
		owners = append(owners, k)
	}
	sort.Strings(owners)
	for _, k := range owners {
		snap.Portfolios = append(snap.Portfolios, s.portfolios[k].Clone())
	}

	ids := make([]uint64, 0, len(s.currencies))
	for id := range s.currencies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		snap.Currencies = append(snap.Currencies, CurrencyEntry{ID: id, Issued: s.currencies[id]})
	}
	return snap
}

// FromSnapshot rebuilds a State. Duplicate timestamp hashes keep the first
// entry. Every entity of the rebuilt state counts as unsaved.
func FromSnapshot(snap Snapshot) *State {
	s := NewState()
	s.Height = snap.Height
	s.AppHash = append([]byte(nil), snap.AppHash...)
	if snap.Time != nil {
		t := *snap.Time
		s.time = &t
	}
	for _, p := range snap.Portfolios {
		s.putPortfolio(p.Owner.Hex(), p.Clone())
	}
	for _, c := range snap.Currencies {
		s.putCurrency(c.ID, c.Issued)
	}
	for _, e := range snap.Timestamps {
		s.appendTimestamp(e)
	}
	return s
}

// Portfolio returns the committed portfolio owned by owner.
func (s *State) Portfolio(owner types.PublicKey) (types.Portfolio, bool) {
	p, ok := s.portfolios[owner.Hex()]
	if !ok {
		return types.Portfolio{}, false
	}
	return p.Clone(), true
}

// Currency returns the committed cumulative issued amount of a currency.
func (s *State) Currency(id uint64) (decimal.Decimal, bool) {
	d, ok := s.currencies[id]
	return d, ok
}

// Timestamp returns the committed timestamp entry for a transaction hash.
func (s *State) Timestamp(hash string) (types.TimestampEntry, bool) {
	i, ok := s.tsIndex[hash]
	if !ok {
		return types.TimestampEntry{}, false
	}
	return s.timestamps[i], true
}

// TimestampCount returns the number of committed timestamp entries.
func (s *State) TimestampCount() int { return len(s.timestamps) }

// Time returns the committed ledger time, if one has been agreed yet.
func (s *State) Time() (time.Time, bool) {
	if s.time == nil {
		return time.Time{}, false
	}
	return *s.time, true
}

func (s *State) putPortfolio(owner string, p types.Portfolio) {
	if old, ok := s.portfolios[owner]; ok {
		s.sum.sub(portfolioLeaf(old))
	}
	s.portfolios[owner] = p
	s.sum.add(portfolioLeaf(p))
	s.dirtyPortfolios[owner] = struct{}{}
}

func (s *State) putCurrency(id uint64, issued decimal.Decimal) {
	if old, ok := s.currencies[id]; ok {
		s.sum.sub(currencyLeaf(id, old))
	}
	s.currencies[id] = issued
	s.sum.add(currencyLeaf(id, issued))
	s.dirtyCurrencies[id] = struct{}{}
}

func (s *State) appendTimestamp(e types.TimestampEntry) bool {
	if _, ok := s.tsIndex[e.TxHash]; ok {
		return false
	}
	s.tsIndex[e.TxHash] = len(s.timestamps)
	s.timestamps = append(s.timestamps, e)
	s.sum.add(timestampLeaf(e))
	return true
}

// Delta is a set of committed writes: the latest value of every touched
// portfolio and currency, and the timestamp entries appended at commit
// positions FirstSeq onwards.
type Delta struct {
	Portfolios []types.Portfolio
	Currencies []CurrencyEntry
	Timestamps []types.TimestampEntry
	FirstSeq   int
	Time       *time.Time
}

// Empty reports whether d carries no entity writes.
func (d Delta) Empty() bool {
	return len(d.Portfolios) == 0 && len(d.Currencies) == 0 && len(d.Timestamps) == 0
}

// Unsaved returns every write merged into s since the last MarkSaved, ordered
// like a Snapshot. Time is the current ledger time.
func (s *State) Unsaved() Delta {
	d := Delta{
		FirstSeq:   s.savedTimestamps,
		Timestamps: append([]types.TimestampEntry(nil), s.timestamps[s.savedTimestamps:]...),
	}
	if s.time != nil {
		t := *s.time
		d.Time = &t
	}

	owners := make([]string, 0, len(s.dirtyPortfolios))
	for k := range s.dirtyPortfolios {
		owners = append(owners, k)
	}
	sort.Strings(owners)
	for _, k := range owners {
		d.Portfolios = append(d.Portfolios, s.portfolios[k].Clone())
	}

	ids := make([]uint64, 0, len(s.dirtyCurrencies))
	for id := range s.dirtyCurrencies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		d.Currencies = append(d.Currencies, CurrencyEntry{ID: id, Issued: s.currencies[id]})
	}
	return d
}

// MarkSaved records that the writes of d, as returned by Unsaved, are
// persisted.
func (s *State) MarkSaved(d Delta) {
	for _, p := range d.Portfolios {
		delete(s.dirtyPortfolios, p.Owner.Hex())
	}
	for _, c := range d.Currencies {
		delete(s.dirtyCurrencies, c.ID)
	}
	if n := d.FirstSeq + len(d.Timestamps); n > s.savedTimestamps {
		s.savedTimestamps = n
	}
}

// Fork opens a mutable view over s. The caller owns the fork exclusively
// until it is merged or dropped.
func (s *State) Fork() *Fork {
	return &Fork{base: s, changes: newPatch(), checkpoint: newPatch()}
}

// Commit records the block height and the app hash of the merged contents.
func (s *State) Commit(height int64) []byte {
	s.Height = height
	s.AppHash = s.Hash()
	return s.AppHash
}
