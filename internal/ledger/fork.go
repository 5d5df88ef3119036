package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"coinfolio.mini/cfm/internal/types"
)

// patch is the set of writes staged on a fork.
type patch struct {
	portfolios map[string]types.Portfolio
	currencies map[uint64]decimal.Decimal
	timestamps []types.TimestampEntry
	time       *time.Time
}

func newPatch() patch {
	return patch{
		portfolios: make(map[string]types.Portfolio),
		currencies: make(map[uint64]decimal.Decimal),
	}
}

func (p patch) clone() patch {
	c := newPatch()
	for k, v := range p.portfolios {
		c.portfolios[k] = v.Clone()
	}
	for k, v := range p.currencies {
		c.currencies[k] = v
	}
	c.timestamps = append([]types.TimestampEntry(nil), p.timestamps...)
	if p.time != nil {
		t := *p.time
		c.time = &t
	}
	return c
}

func (p patch) empty() bool {
	return len(p.portfolios) == 0 && len(p.currencies) == 0 && len(p.timestamps) == 0 && p.time == nil
}

// Fork is a mutable, uniquely-owned working view over a State. Reads see the
// fork's own writes first, so every transaction applied to the same fork
// observes the effects of the ones before it.
type Fork struct {
	base       *State
	changes    patch
	checkpoint patch
}

// Checkpoint marks the current writes as the point Rollback returns to.
func (f *Fork) Checkpoint() {
	f.checkpoint = f.changes.clone()
}

// Rollback discards every write made since the last Checkpoint.
func (f *Fork) Rollback() {
	f.changes = f.checkpoint.clone()
}

// Dirty reports whether the fork holds writes not yet merged.
func (f *Fork) Dirty() bool { return !f.changes.empty() }

// Merge applies the fork's writes to the base State, resets the fork and
// returns what the merge changed.
func (f *Fork) Merge() Delta {
	s := f.base
	d := Delta{FirstSeq: len(s.timestamps)}

	owners := make([]string, 0, len(f.changes.portfolios))
	for k := range f.changes.portfolios {
		owners = append(owners, k)
	}
	sort.Strings(owners)
	for _, k := range owners {
		p := f.changes.portfolios[k]
		s.putPortfolio(k, p)
		d.Portfolios = append(d.Portfolios, p.Clone())
	}

	ids := make([]uint64, 0, len(f.changes.currencies))
	for id := range f.changes.currencies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		v := f.changes.currencies[id]
		s.putCurrency(id, v)
		d.Currencies = append(d.Currencies, CurrencyEntry{ID: id, Issued: v})
	}

	for _, e := range f.changes.timestamps {
		if s.appendTimestamp(e) {
			d.Timestamps = append(d.Timestamps, e)
		}
	}
	if f.changes.time != nil {
		t := *f.changes.time
		s.time = &t
	}
	if s.time != nil {
		t := *s.time
		d.Time = &t
	}
	f.changes = newPatch()
	f.checkpoint = newPatch()
	return d
}

func (f *Fork) portfolio(owner string) (types.Portfolio, bool) {
	if p, ok := f.changes.portfolios[owner]; ok {
		return p.Clone(), true
	}
	p, ok := f.base.portfolios[owner]
	if !ok {
		return types.Portfolio{}, false
	}
	return p.Clone(), true
}

func (f *Fork) currency(id uint64) (decimal.Decimal, bool) {
	if v, ok := f.changes.currencies[id]; ok {
		return v, true
	}
	v, ok := f.base.currencies[id]
	return v, ok
}

func (f *Fork) timestamp(hash string) (types.TimestampEntry, bool) {
	for _, e := range f.changes.timestamps {
		if e.TxHash == hash {
			return e, true
		}
	}
	return f.base.Timestamp(hash)
}

func (f *Fork) ledgerTime() (time.Time, bool) {
	if f.changes.time != nil {
		return *f.changes.time, true
	}
	return f.base.Time()
}
