package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"coinfolio.mini/cfm/internal/types"
)

type transferCmd struct {
	to        string
	portfolio uint64
	currency  uint64
	amount    uint64
	seed      uint64
	submitFlags
}

func (*transferCmd) Name() string     { return "transfer" }
func (*transferCmd) Synopsis() string { return "move currency to another wallet" }
func (*transferCmd) Usage() string {
	return `cfmctl transfer -to <pubkey-hex> -portfolio <id> -currency <id> -amount <n> [-seed <n>] [-commit|-wait]

  Moves amount of a currency from the wallet's portfolio to the receiver's.
  On rejection the ledger error code is printed.
`
}

func (c *transferCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.to, "to", "", "Receiver public key (hex)")
	f.Uint64Var(&c.portfolio, "portfolio", 0, "Id of the sender's portfolio")
	f.Uint64Var(&c.currency, "currency", 0, "Currency id")
	f.Uint64Var(&c.amount, "amount", 0, "Amount to transfer")
	f.Uint64Var(&c.seed, "seed", 0, "Transaction seed (random when 0)")
	c.submitFlags.set(f)
}

func (c *transferCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	to, err := types.ParsePublicKey(c.to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing receiver: %v\n", err)
		return subcommands.ExitUsageError
	}
	wallet, err := loadWallet()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading wallet: %v\n", err)
		return subcommands.ExitFailure
	}
	seed := c.seed
	if seed == 0 {
		seed = randomSeed()
	}
	return c.submit(ctx, types.Transfer{
		From:        wallet.PublicKey(),
		To:          to,
		PortfolioID: c.portfolio,
		CurrencyID:  c.currency,
		Amount:      c.amount,
		Seed:        seed,
	})
}
