// Package tendermint provides the socket-based ABCI server for Tendermint
// integration and a client for its RPC endpoints.
//
// cfm runs an ABCI server listening on a Unix socket; Tendermint runs as a
// separate process, connects via the socket and drives the application over
// the ABCI protocol.
package tendermint

import (
	"fmt"
	"os"
	"strings"

	abciserver "github.com/tendermint/tendermint/abci/server"
	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/service"
)

// Config holds configuration for the ABCI server and Tendermint connection.
type Config struct {
	// TendermintHome is the directory for Tendermint data and config
	TendermintHome string

	// SocketAddress is the ABCI listen address (e.g., "unix://cfm.sock")
	SocketAddress string
}

// ABCIServer wraps an ABCI server for socket-based Tendermint connection.
type ABCIServer struct {
	server service.Service
	socket string
}

// NewABCIServer creates a new socket-based ABCI server. The server is created
// but not started. Call Start() to begin listening.
func NewABCIServer(app abci.Application, config *Config) (*ABCIServer, error) {
	if app == nil {
		return nil, fmt.Errorf("ABCI application cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.SocketAddress == "" {
		return nil, fmt.Errorf("socket address cannot be empty")
	}

	return &ABCIServer{
		server: abciserver.NewSocketServer(config.SocketAddress, app),
		socket: config.SocketAddress,
	}, nil
}

// Start begins listening for Tendermint connections. A stale socket file left
// by an unclean shutdown is removed first.
func (s *ABCIServer) Start() error {
	if path, ok := unixSocketPath(s.socket); ok {
		_ = os.Remove(path)
	}
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start ABCI server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the ABCI server and cleans up the socket file.
func (s *ABCIServer) Stop() error {
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			return fmt.Errorf("failed to stop ABCI server: %w", err)
		}
	}

	if path, ok := unixSocketPath(s.socket); ok {
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
		}
	}
	return nil
}

// IsRunning returns true if the ABCI server is currently running.
func (s *ABCIServer) IsRunning() bool {
	return s.server.IsRunning()
}

// SocketPath returns the socket address the server is listening on.
func (s *ABCIServer) SocketPath() string {
	return s.socket
}

func unixSocketPath(addr string) (string, bool) {
	if !strings.HasPrefix(addr, "unix://") {
		return "", false
	}
	return strings.TrimPrefix(addr, "unix://"), true
}
