package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"coinfolio.mini/cfm/internal/types"
)

// ErrDuplicateTimestamp is returned when a transaction id is timestamped twice.
var ErrDuplicateTimestamp = errors.New("timestamp entry already exists")

// CurrencySchema is the entity schema: typed access to portfolios, the
// currency ledger and the timestamp index of a fork.
type CurrencySchema struct {
	fork *Fork
}

func NewCurrencySchema(f *Fork) *CurrencySchema {
	return &CurrencySchema{fork: f}
}

// Portfolio returns the portfolio owned by owner, if any. The result is a
// copy; write it back with PutPortfolio.
func (s *CurrencySchema) Portfolio(owner types.PublicKey) (types.Portfolio, bool) {
	return s.fork.portfolio(owner.Hex())
}

// CreatePortfolio stores a new portfolio for owner. It overwrites any
// existing one; callers check Portfolio first.
func (s *CurrencySchema) CreatePortfolio(id uint64, owner types.PublicKey, holdings []types.Holding) types.Portfolio {
	p := types.Portfolio{
		ID:       id,
		Owner:    append(types.PublicKey(nil), owner...),
		Holdings: append([]types.Holding{}, holdings...),
	}
	s.fork.changes.portfolios[owner.Hex()] = p
	return p.Clone()
}

// PutPortfolio overwrites the portfolio of p.Owner.
func (s *CurrencySchema) PutPortfolio(p types.Portfolio) {
	s.fork.changes.portfolios[p.Owner.Hex()] = p.Clone()
}

// Currency returns the cumulative issued amount of a currency.
func (s *CurrencySchema) Currency(id uint64) (decimal.Decimal, bool) {
	return s.fork.currency(id)
}

// AddCurrency adds amount to the issued total of a currency, creating the
// entry when absent. The total is unbounded.
func (s *CurrencySchema) AddCurrency(id, amount uint64) decimal.Decimal {
	cur, _ := s.fork.currency(id)
	next := cur.Add(decimal.NewFromUint64(amount))
	s.fork.changes.currencies[id] = next
	return next
}

// AddTimestamp appends e to the timestamp index. Entries are write-once: if
// the hash is already indexed the existing entry is kept and
// ErrDuplicateTimestamp is returned.
func (s *CurrencySchema) AddTimestamp(e types.TimestampEntry) error {
	if _, ok := s.fork.timestamp(e.TxHash); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTimestamp, e.TxHash)
	}
	s.fork.changes.timestamps = append(s.fork.changes.timestamps, e)
	return nil
}

// Timestamp returns the entry recorded for a transaction hash.
func (s *CurrencySchema) Timestamp(hash string) (types.TimestampEntry, bool) {
	return s.fork.timestamp(hash)
}
