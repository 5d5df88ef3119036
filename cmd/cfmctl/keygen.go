package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"coinfolio.mini/cfm/internal/identity"
	"coinfolio.mini/cfm/internal/types"
)

type keygenCmd struct {
	scheme string
}

func (*keygenCmd) Name() string     { return "keygen" }
func (*keygenCmd) Synopsis() string { return "create a wallet key, or print the public key of an existing one" }
func (*keygenCmd) Usage() string {
	return `cfmctl [-key <file>] keygen [-scheme ed25519|dilithium3]

  Creates a wallet key file with 0600 permissions when none exists and prints
  the wallet public key in hex. An existing key is never overwritten.
`
}

func (c *keygenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.scheme, "scheme", "", "Signature scheme for a new key. Defaults to key_scheme from the configuration.")
}

func (c *keygenCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg := settings()
	scheme := types.Scheme(c.scheme)
	if scheme == types.SchemeUnknown {
		scheme = types.Scheme(cfg.KeyScheme)
	}

	var (
		id  *identity.Identity
		err error
	)
	switch scheme {
	case types.SchemeEd25519:
		id, err = identity.LoadOrCreateIdentity(cfg.KeyFile)
	case types.SchemeDilithium3:
		id, err = identity.LoadOrCreateDilithium3(cfg.KeyFile)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown scheme %q\n", scheme)
		return subcommands.ExitUsageError
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading key %s: %v\n", cfg.KeyFile, err)
		return subcommands.ExitFailure
	}

	if id.Scheme() != scheme {
		fmt.Fprintf(os.Stderr, "warning: %s already holds a %s key\n", cfg.KeyFile, id.Scheme())
	}
	fmt.Println(id.PublicKeyHex())
	return subcommands.ExitSuccess
}
