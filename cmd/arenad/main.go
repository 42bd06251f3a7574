// Command arenad runs the tournament and match settlement engine.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/slog"

	"github.com/kaustubh76/arenaforge/arena"
	"github.com/kaustubh76/arenaforge/server"
	"github.com/kaustubh76/arenaforge/server/serverdb"
)

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	defaultDataDir := "arenaforge"
	if home, err := os.UserHomeDir(); err == nil {
		defaultDataDir = filepath.Join(home, ".arenaforge")
	}
	dataDir := flag.String("datadir", defaultDataDir, "data directory")
	configFile := flag.String("config", "arenaforge.conf", "config file name inside the data dir")
	exhibition := flag.Bool("exhibition", false, "run a scripted exhibition tournament and exit")
	flag.Parse()

	cfg, err := LoadArenaConfig(*dataDir, *configFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}

	backend := slog.NewBackend(os.Stdout)
	logSrvr := backend.Logger("SRVR")
	logArena := backend.Logger("ARNA")
	level, ok := slog.LevelFromString(cfg.DebugLevel)
	if !ok {
		return fmt.Errorf("unknown debuglevel %q", cfg.DebugLevel)
	}
	logSrvr.SetLevel(level)
	logArena.SetLevel(level)

	db, err := serverdb.NewBoltDB(filepath.Join(cfg.DataDir, cfg.DBFile))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	var refereeKey *secp256k1.PrivateKey
	if cfg.RefereeKey != "" {
		kb, err := hex.DecodeString(cfg.RefereeKey)
		if err != nil {
			return fmt.Errorf("decode refereekey: %w", err)
		}
		refereeKey = secp256k1.PrivKeyFromBytes(kb)
	}

	srv, err := server.NewServer(server.ServerConfig{
		RefereeKey:   refereeKey,
		FeeBps:       cfg.FeeBps,
		CommitWindow: cfg.CommitWindow,
		RevealWindow: cfg.RevealWindow,
		MatchRounds:  cfg.MatchRounds,
		DB:           db,
		Clock:        arena.SystemClock{},
		Log:          logSrvr,
		LogProtocol:  logArena,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *exhibition {
		return runExhibition(ctx, srv, logSrvr)
	}

	logSrvr.Infof("arenad running; referee pubkey %x",
		srv.RefereePubKey().SerializeCompressed())
	<-ctx.Done()
	logSrvr.Infof("shutting down")
	return nil
}
