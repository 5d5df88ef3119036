// Command cfmctl manages wallet keys, submits ledger transactions to a cfm
// node through Tendermint and reads ledger state over gRPC.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	Register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
