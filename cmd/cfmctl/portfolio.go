package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"coinfolio.mini/cfm/internal/types"
)

type createPortfolioCmd struct {
	id    uint64
	pairs string
	submitFlags
}

func (*createPortfolioCmd) Name() string     { return "create-portfolio" }
func (*createPortfolioCmd) Synopsis() string { return "register the wallet's portfolio" }
func (*createPortfolioCmd) Usage() string {
	return `cfmctl create-portfolio -id <portfolio-id> [-pairs <currency:amount,...>] [-commit|-wait]

  Registers the single portfolio of the wallet with its initial holdings.
  Submitting it again for the same wallet is accepted and changes nothing.
`
}

func (c *createPortfolioCmd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&c.id, "id", 0, "Portfolio id")
	f.StringVar(&c.pairs, "pairs", "", "Initial holdings as comma separated currency:amount pairs")
	c.submitFlags.set(f)
}

func (c *createPortfolioCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	pairs, err := parsePairs(c.pairs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing pairs: %v\n", err)
		return subcommands.ExitUsageError
	}
	wallet, err := loadWallet()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading wallet: %v\n", err)
		return subcommands.ExitFailure
	}
	return c.submit(ctx, types.CreatePortfolio{
		PortfolioID: c.id,
		PubKey:      wallet.PublicKey(),
		Pairs:       pairs,
	})
}
