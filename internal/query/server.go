// Package query exposes committed ledger state over a read-only gRPC service.
package query

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"coinfolio.mini/cfm/internal/cidutil"
	"coinfolio.mini/cfm/internal/logger"
	"coinfolio.mini/cfm/internal/types"
)

// Ledger is the committed state the service reads from.
type Ledger interface {
	Portfolio(owner types.PublicKey) (types.Portfolio, bool)
	Currency(id uint64) (decimal.Decimal, bool)
	Timestamp(hash string) (types.TimestampEntry, bool)
}

// Server exposes a Ledger over the Ledger gRPC service.
type Server struct {
	UnimplementedLedgerServer
	Ledger   Ledger
	Outcomes *logger.Journal
}

func (s *Server) Portfolio(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Ledger == nil {
		return nil, mapErr(ErrUnavailable)
	}
	owner, err := types.ParsePublicKey(in.GetValue())
	if err != nil {
		return nil, mapErr(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	p, ok := s.Ledger.Portfolio(owner)
	if !ok {
		return nil, mapErr(fmt.Errorf("portfolio %s: %w", owner, ErrNotFound))
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Currency(ctx context.Context, in *wrapperspb.UInt64Value) (*wrapperspb.StringValue, error) {
	if s == nil || s.Ledger == nil {
		return nil, mapErr(ErrUnavailable)
	}
	issued, ok := s.Ledger.Currency(in.GetValue())
	if !ok {
		return nil, mapErr(fmt.Errorf("currency %d: %w", in.GetValue(), ErrNotFound))
	}
	return wrapperspb.String(issued.String()), nil
}

func (s *Server) Timestamp(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	if s == nil || s.Ledger == nil {
		return nil, mapErr(ErrUnavailable)
	}
	if _, err := cidutil.Parse(in.GetValue()); err != nil {
		return nil, mapErr(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	e, ok := s.Ledger.Timestamp(in.GetValue())
	if !ok {
		return nil, mapErr(fmt.Errorf("timestamp %s: %w", in.GetValue(), ErrNotFound))
	}
	return wrapperspb.Int64(e.Time.UnixNano()), nil
}

func (s *Server) Journal(ctx context.Context, in *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Outcomes == nil {
		return nil, mapErr(ErrUnavailable)
	}
	entries := s.Outcomes.GetAll()
	if n := int(in.GetValue()); n > 0 {
		entries = s.Outcomes.GetRecent(n)
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}
