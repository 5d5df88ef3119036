// Package config centralizes runtime configuration for cfm. It loads a
// JSON configuration file and fills sensible defaults. Tests and development
// builds will use defaults when the file is not present. Operators should place a JSON file at
// /etc/cfm/config.json or specify a different path via the CONFIG_FILE env var.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultPath is read when CONFIG_FILE is not set.
const DefaultPath = "/etc/cfm/config.json"

// Config holds configurable options for the cfm node and cfmctl.
type Config struct {
	KeyFile        string `json:"key_file"`
	KeyScheme      string `json:"key_scheme"` // ed25519 or dilithium3, used when a key is generated
	DBFile         string `json:"db_file"`
	ABCIAddress    string `json:"abci_address"`
	TendermintHome string `json:"tendermint_home"`
	TendermintRPC  string `json:"tendermint_rpc"`
	GRPCAddress    string `json:"grpc_address"`
	JournalSize    int    `json:"journal_size"`
	MaxBackups     int    `json:"max_backups"`
	BackupEvery    int64  `json:"backup_every"` // blocks between database backups, 0 disables
	RunTendermint  bool   `json:"run_tendermint"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		KeyFile:        "cfm_key.pem",
		KeyScheme:      "ed25519",
		DBFile:         "cfm.db",
		ABCIAddress:    "unix://cfm.sock",
		TendermintHome: "",
		TendermintRPC:  "http://localhost:26657",
		GRPCAddress:    "127.0.0.1:9090",
		JournalSize:    1000,
		MaxBackups:     20,
		BackupEvery:    100,
		RunTendermint:  false,
	}
}

// Path returns the configuration file path from CONFIG_FILE or DefaultPath.
func Path() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadConfig reads a JSON file at path. A missing or unreadable file yields
// defaults so that the application can run in development with minimal
// friction. A file that cannot be parsed yields defaults together with the
// parse error.
func LoadConfig(path string) (*Config, error) {
	def := Defaults()

	if path == "" {
		return def, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return def, nil
	}

	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return def, fmt.Errorf("parse %s: %w", path, err)
	}

	// merge defaults for any zero-value fields
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.KeyScheme == "" {
		c.KeyScheme = def.KeyScheme
	}
	if c.DBFile == "" {
		c.DBFile = def.DBFile
	}
	if c.ABCIAddress == "" {
		c.ABCIAddress = def.ABCIAddress
	}
	if c.TendermintRPC == "" {
		c.TendermintRPC = def.TendermintRPC
	}
	if c.GRPCAddress == "" {
		c.GRPCAddress = def.GRPCAddress
	}
	if c.JournalSize <= 0 {
		c.JournalSize = def.JournalSize
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = def.MaxBackups
	}
	if c.BackupEvery < 0 {
		c.BackupEvery = 0
	}

	return &c, nil
}
