package ledger

import (
	"errors"
	"time"
)

// ErrTimeRegression is returned when a new ledger time precedes the current one.
var ErrTimeRegression = errors.New("ledger time cannot move backwards")

// TimeSchema is the time oracle. The ledger time is derived from ledger state
// (the consensus-agreed block time), never from a replica's clock.
type TimeSchema struct {
	fork *Fork
}

func NewTimeSchema(f *Fork) *TimeSchema {
	return &TimeSchema{fork: f}
}

// Time returns the current ledger time. ok is false until the block driver
// has set one.
func (s *TimeSchema) Time() (t time.Time, ok bool) {
	return s.fork.ledgerTime()
}

// SetTime advances the ledger time. Equal times are accepted; earlier ones
// are refused and leave the current time in place.
func (s *TimeSchema) SetTime(t time.Time) error {
	t = t.UTC()
	if cur, ok := s.fork.ledgerTime(); ok && t.Before(cur) {
		return ErrTimeRegression
	}
	s.fork.changes.time = &t
	return nil
}
