package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"coinfolio.mini/cfm/internal/types"
)

type issueCmd struct {
	currency uint64
	amount   uint64
	seed     uint64
	submitFlags
}

func (*issueCmd) Name() string     { return "issue" }
func (*issueCmd) Synopsis() string { return "mint units of a currency" }
func (*issueCmd) Usage() string {
	return `cfmctl issue -currency <id> -amount <n> [-seed <n>] [-commit|-wait]

  Adds amount to the issued total of the currency. The seed distinguishes
  otherwise identical issues; a random one is used when omitted.
`
}

func (c *issueCmd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&c.currency, "currency", 0, "Currency id")
	f.Uint64Var(&c.amount, "amount", 0, "Amount to mint")
	f.Uint64Var(&c.seed, "seed", 0, "Transaction seed (random when 0)")
	c.submitFlags.set(f)
}

func (c *issueCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	wallet, err := loadWallet()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading wallet: %v\n", err)
		return subcommands.ExitFailure
	}
	seed := c.seed
	if seed == 0 {
		seed = randomSeed()
	}
	return c.submit(ctx, types.CurrencyIssue{
		PubKey:     wallet.PublicKey(),
		CurrencyID: c.currency,
		Amount:     c.amount,
		Seed:       seed,
	})
}
