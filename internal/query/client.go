package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"coinfolio.mini/cfm/internal/logger"
	"coinfolio.mini/cfm/internal/types"
)

// Client reads committed ledger state over the Ledger gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client LedgerClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration
}

func Dial(target string, opts DialOptions) (*Client, error) {
	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewLedgerClient(cc), Timeout: opts.Timeout}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Portfolio returns the portfolio owned by owner.
func (c *Client) Portfolio(ctx context.Context, owner types.PublicKey) (types.Portfolio, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Portfolio(ctx, wrapperspb.String(owner.Hex()))
	if err != nil {
		return types.Portfolio{}, mapRPC(err)
	}
	var p types.Portfolio
	if err := json.Unmarshal(reply.GetValue(), &p); err != nil {
		return types.Portfolio{}, fmt.Errorf("decode portfolio: %w", err)
	}
	return p, nil
}

// Currency returns the cumulative issued amount of a currency.
func (c *Client) Currency(ctx context.Context, id uint64) (decimal.Decimal, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Currency(ctx, wrapperspb.UInt64(id))
	if err != nil {
		return decimal.Decimal{}, mapRPC(err)
	}
	return decimal.NewFromString(reply.GetValue())
}

// Timestamp returns the ledger time at which the transaction committed.
func (c *Client) Timestamp(ctx context.Context, txID string) (time.Time, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Timestamp(ctx, wrapperspb.String(txID))
	if err != nil {
		return time.Time{}, mapRPC(err)
	}
	return time.Unix(0, reply.GetValue()).UTC(), nil
}

// Journal returns up to n recent execution outcomes, newest first. n <= 0
// returns everything the replica kept.
func (c *Client) Journal(ctx context.Context, n int) ([]logger.Entry, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	if n < 0 {
		n = 0
	}
	reply, err := c.client.Journal(ctx, wrapperspb.UInt32(uint32(n)))
	if err != nil {
		return nil, mapRPC(err)
	}
	var entries []logger.Entry
	if err := json.Unmarshal(reply.GetValue(), &entries); err != nil {
		return nil, fmt.Errorf("decode journal: %w", err)
	}
	return entries, nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}
