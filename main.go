// Package main is the entry point for the coinfolio mini ledger node (cfm).
// It opens the ledger database, serves the ABCI application to Tendermint and
// exposes read-only ledger queries over gRPC.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"coinfolio.mini/cfm/internal/abci"
	"coinfolio.mini/cfm/internal/config"
	"coinfolio.mini/cfm/internal/logger"
	"coinfolio.mini/cfm/internal/query"
	"coinfolio.mini/cfm/internal/store"
	"coinfolio.mini/cfm/internal/tendermint"
	"coinfolio.mini/cfm/internal/types"
)

func main() {
	log.Printf("cfm %s (built %s) starting...", types.Version, types.BuildTime)

	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := store.NewStore(cfg.DBFile)
	if err != nil {
		log.Fatalf("Failed to open ledger database: %v", err)
	}
	defer db.Close()

	state, err := db.Load()
	if err != nil {
		log.Fatalf("Failed to load ledger state: %v", err)
	}
	log.Printf("Ledger loaded from %s at height %d", db.Path(), state.Height)

	journal := logger.New(cfg.JournalSize)
	app := abci.NewApplication(state, store.PeriodicBackup{
		Store:      db,
		Every:      cfg.BackupEvery,
		MaxBackups: cfg.MaxBackups,
	}, journal)

	abciServer, err := tendermint.NewABCIServer(app, &tendermint.Config{
		TendermintHome: cfg.TendermintHome,
		SocketAddress:  cfg.ABCIAddress,
	})
	if err != nil {
		log.Fatalf("Failed to create ABCI server: %v", err)
	}
	if err := abciServer.Start(); err != nil {
		log.Fatalf("Failed to start ABCI server: %v", err)
	}
	log.Printf("ABCI server listening on %s", cfg.ABCIAddress)

	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		log.Fatalf("gRPC address %s unavailable: %v", cfg.GRPCAddress, err)
	}
	gs := grpc.NewServer()
	query.RegisterLedgerServer(gs, &query.Server{Ledger: app, Outcomes: journal})
	go func() {
		if err := gs.Serve(lis); err != nil {
			log.Fatalf("gRPC server exited: %v", err)
		}
	}()
	log.Printf("Ledger queries available on %s", cfg.GRPCAddress)

	var tm *exec.Cmd
	if cfg.RunTendermint {
		tm, err = startTendermint(cfg)
		if err != nil {
			log.Fatalf("Failed to start Tendermint: %v", err)
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	if tm != nil && tm.Process != nil {
		_ = tm.Process.Signal(syscall.SIGTERM)
		_ = tm.Wait()
	}
	gs.GracefulStop()
	if err := abciServer.Stop(); err != nil {
		log.Printf("Warning: %v", err)
	}
}

// startTendermint initializes the Tendermint home if needed and launches the
// node process against our ABCI socket.
func startTendermint(cfg *config.Config) (*exec.Cmd, error) {
	home := tendermint.ResolveHome(cfg.TendermintHome)
	if err := tendermint.InitTendermint(home); err != nil {
		return nil, err
	}
	cmd, err := tendermint.NodeCommand(cfg)
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tendermint node: %w", err)
	}
	log.Printf("Tendermint node started (home %s, pid %d)", home, cmd.Process.Pid)
	return cmd, nil
}
