package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/subcommands"

	"coinfolio.mini/cfm/internal/query"
	"coinfolio.mini/cfm/internal/types"
)

type queryCmd struct {
	last int
}

func (*queryCmd) Name() string     { return "query" }
func (*queryCmd) Synopsis() string { return "read ledger state from a cfm node" }
func (*queryCmd) Usage() string {
	return `cfmctl query portfolio [<pubkey-hex>]
cfmctl query currency <id>
cfmctl query timestamp <tx-id>
cfmctl query journal [-n <count>]

  Reads committed ledger state over gRPC. portfolio defaults to the wallet key.
`
}

func (c *queryCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.last, "n", 20, "Number of recent journal entries, 0 for all")
}

func (c *queryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}

	client, err := query.Dial(settings().GRPCAddress, query.DialOptions{Timeout: *timeout})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting: %v\n", err)
		return subcommands.ExitFailure
	}
	defer client.Close()

	var out interface{}
	switch subject := f.Arg(0); subject {
	case "portfolio":
		owner, err := c.owner(f.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitUsageError
		}
		out, err = client.Portfolio(ctx, owner)
		if err != nil {
			return report(err)
		}
	case "currency":
		id, err := strconv.ParseUint(f.Arg(1), 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing currency id: %v\n", err)
			return subcommands.ExitUsageError
		}
		issued, err := client.Currency(ctx, id)
		if err != nil {
			return report(err)
		}
		out = map[string]string{"currency_id": f.Arg(1), "issued": issued.String()}
	case "timestamp":
		at, err := client.Timestamp(ctx, f.Arg(1))
		if err != nil {
			return report(err)
		}
		out = map[string]string{"tx_hash": f.Arg(1), "time": at.Format(time.RFC3339Nano)}
	case "journal":
		out, err = client.Journal(ctx, c.last)
		if err != nil {
			return report(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown subject %q\n", subject)
		return subcommands.ExitUsageError
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *queryCmd) owner(arg string) (types.PublicKey, error) {
	if arg != "" {
		return types.ParsePublicKey(arg)
	}
	wallet, err := loadWallet()
	if err != nil {
		return nil, err
	}
	return wallet.PublicKey(), nil
}
