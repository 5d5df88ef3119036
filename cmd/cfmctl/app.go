package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/subcommands"

	"coinfolio.mini/cfm/internal/config"
	"coinfolio.mini/cfm/internal/identity"
	"coinfolio.mini/cfm/internal/tendermint"
	"coinfolio.mini/cfm/internal/types"
)

// Register the subcommands.
func Register(c *subcommands.Commander) {
	c.Register(&keygenCmd{}, "keys")

	c.Register(&createPortfolioCmd{}, "transactions")
	c.Register(&issueCmd{}, "transactions")
	c.Register(&transferCmd{}, "transactions")

	c.Register(&queryCmd{}, "ledger")
}

// as a CLI application cfmctl is short lived, global flags are fine.

var keyFile = flag.String("key", "", "Path to the wallet key file. Defaults to key_file from the configuration.")
var rpcAddr = flag.String("rpc", "", "Tendermint RPC address. Defaults to tendermint_rpc from the configuration.")
var grpcAddr = flag.String("grpc", "", "cfm query address. Defaults to grpc_address from the configuration.")
var timeout = flag.Duration("timeout", 30*time.Second, "Deadline for network calls")

// settings loads the configuration once and applies the global flags. A
// configuration file that cannot be parsed is reported and defaults are used.
var settings = sync.OnceValue(func() *config.Config {
	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
	}
	c := *cfg
	if *keyFile != "" {
		c.KeyFile = *keyFile
	}
	if *rpcAddr != "" {
		c.TendermintRPC = *rpcAddr
	}
	if *grpcAddr != "" {
		c.GRPCAddress = *grpcAddr
	}
	return &c
})

// loadWallet opens the configured key. It never creates one: keys are made
// explicitly with the keygen command.
func loadWallet() (*identity.Identity, error) {
	path := settings().KeyFile
	id, err := identity.LoadIdentity(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no key at %s, run keygen first", path)
	}
	return id, err
}

// submitFlags are shared by the transaction commands.
type submitFlags struct {
	commit bool
	wait   bool
}

func (s *submitFlags) set(f *flag.FlagSet) {
	f.BoolVar(&s.commit, "commit", false, "Wait for the block including the transaction (broadcast_tx_commit).")
	f.BoolVar(&s.wait, "wait", false, "Broadcast asynchronously then wait for the transaction event over websocket.")
}

// submit signs tx with the wallet and broadcasts it, reporting the outcome on
// stdout and errors on stderr.
func (s *submitFlags) submit(ctx context.Context, tx types.Transaction) subcommands.ExitStatus {
	wallet, err := loadWallet()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading wallet: %v\n", err)
		return subcommands.ExitFailure
	}
	stx, err := wallet.SignTransaction(tx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing transaction: %v\n", err)
		return subcommands.ExitFailure
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	bc := tendermint.NewBroadcastClient(settings().TendermintRPC)
	var res *tendermint.BroadcastResult
	if s.commit {
		res, err = bc.BroadcastSignedTransactionCommit(ctx, stx)
	} else {
		res, err = bc.BroadcastSignedTransaction(ctx, stx)
	}
	if res != nil {
		fmt.Printf("tx %s\n", res.TxID)
	}
	if err != nil {
		return report(err)
	}

	if s.wait && !s.commit {
		ev, err := bc.WaitForTx(ctx, res.TxID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error waiting for transaction: %v\n", err)
			return subcommands.ExitFailure
		}
		res.Height = ev.Height
		if err := ev.Result.Err("deliver_tx"); err != nil {
			return report(err)
		}
	}

	if res.Height > 0 {
		fmt.Printf("committed at height %d\n", res.Height)
	} else {
		fmt.Println("accepted into mempool")
	}
	return subcommands.ExitSuccess
}

func report(err error) subcommands.ExitStatus { return reportTo(os.Stderr, err) }

// reportTo prints err for the user. Ledger rejections show their error code
// and description; other rejections show the log of the stage that refused
// the transaction.
func reportTo(w io.Writer, err error) subcommands.ExitStatus {
	var rej *tendermint.RejectedError
	if errors.As(err, &rej) {
		if code, ok := rej.ExecutionCode(); ok {
			fmt.Fprintf(w, "rejected: error %d (%s)\n", code, code.Description())
			return subcommands.ExitFailure
		}
		if rej.Result.Log != "" {
			fmt.Fprintf(w, "rejected by %s: %s\n", rej.Stage, rej.Result.Log)
			return subcommands.ExitFailure
		}
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return subcommands.ExitFailure
}

// randomSeed picks a seed for transactions whose content would otherwise
// repeat, so that each submission gets a distinct id.
func randomSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}

// parsePairs reads "currency:amount" pairs separated by commas.
func parsePairs(s string) ([][]uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return [][]uint64{}, nil
	}
	var pairs [][]uint64
	for _, item := range strings.Split(s, ",") {
		cur, amt, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok {
			return nil, fmt.Errorf("pair %q: want currency:amount", item)
		}
		c, err := strconv.ParseUint(cur, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("pair %q: currency: %w", item, err)
		}
		a, err := strconv.ParseUint(amt, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("pair %q: amount: %w", item, err)
		}
		pairs = append(pairs, []uint64{c, a})
	}
	return pairs, nil
}
