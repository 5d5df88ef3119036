package tendermint

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"

	"coinfolio.mini/cfm/internal/config"
)

const defaultRPCPort = "26657"

// DefaultSocketAddress is where the ABCI server listens unless configured.
var DefaultSocketAddress = config.Defaults().ABCIAddress

// InitTendermint runs `tendermint init` in tmHome unless it already holds a
// config.toml.
func InitTendermint(tmHome string) error {
	tmHome = ResolveHome(tmHome)

	configFile := filepath.Join(tmHome, "config", "config.toml")
	if _, err := os.Stat(configFile); err == nil {
		return nil
	}

	cmd := exec.Command("tendermint", "init", "--home", tmHome)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("initialize tendermint home %s: %w", tmHome, err)
	}
	return nil
}

// NodeCommand builds the `tendermint node` invocation for cfg: the node
// connects to our ABCI socket and serves RPC where cfmctl expects it, so the
// tendermint_rpc setting is shared by both sides.
func NodeCommand(cfg *config.Config) (*exec.Cmd, error) {
	socket := cfg.ABCIAddress
	if socket == "" {
		socket = DefaultSocketAddress
	}
	args := []string{"node", "--home", ResolveHome(cfg.TendermintHome), "--proxy_app", socket}
	if cfg.TendermintRPC != "" {
		laddr, err := rpcListenAddress(cfg.TendermintRPC)
		if err != nil {
			return nil, err
		}
		args = append(args, "--rpc.laddr", laddr)
	}

	cmd := exec.Command("tendermint", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd, nil
}

// rpcListenAddress turns a client RPC URL such as http://localhost:26657
// into the tcp:// listen address Tendermint takes.
func rpcListenAddress(rpc string) (string, error) {
	u, err := url.Parse(rpc)
	if err != nil {
		return "", fmt.Errorf("tendermint rpc %q: %w", rpc, err)
	}
	switch u.Scheme {
	case "http", "https", "tcp":
	default:
		return "", fmt.Errorf("tendermint rpc %q: unsupported scheme %q", rpc, u.Scheme)
	}
	host, port := u.Hostname(), u.Port()
	if host == "" {
		return "", fmt.Errorf("tendermint rpc %q: missing host", rpc)
	}
	if port == "" {
		port = defaultRPCPort
	}
	return "tcp://" + net.JoinHostPort(host, port), nil
}

// ResolveHome returns home, or the default Tendermint home when it is empty.
func ResolveHome(home string) string {
	if home != "" {
		return home
	}
	return TendermintHome()
}

// TendermintHome returns the default Tendermint home directory.
func TendermintHome() string {
	if home := os.Getenv("TMHOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".tendermint")
}
