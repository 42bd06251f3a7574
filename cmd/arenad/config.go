package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ArenaConfig holds the daemon settings, loaded from an ini-style
// key=value file in the data directory.
type ArenaConfig struct {
	DataDir    string
	DBFile     string
	DebugLevel string

	FeeBps       int64
	CommitWindow time.Duration
	RevealWindow time.Duration
	MatchRounds  int

	// RefereeKey is the referee signing key as 64 hex chars. A fresh
	// key is generated when empty.
	RefereeKey string
}

func defaultConfig(dataDir string) *ArenaConfig {
	return &ArenaConfig{
		DataDir:      dataDir,
		DBFile:       "arenaforge.db",
		DebugLevel:   "info",
		FeeBps:       250,
		CommitWindow: 30 * time.Second,
		RevealWindow: 30 * time.Second,
		MatchRounds:  3,
	}
}

// LoadArenaConfig reads dataDir/configFile. A missing file yields the
// defaults.
func LoadArenaConfig(dataDir, configFile string) (*ArenaConfig, error) {
	cfg := defaultConfig(dataDir)

	path := filepath.Join(dataDir, configFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, ";") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected key=value, got %q", configFile, line, text)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "dbfile":
			cfg.DBFile = value
		case "debuglevel":
			cfg.DebugLevel = value
		case "feebps":
			cfg.FeeBps, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse feebps: %w", err)
			}
		case "commitwindow":
			cfg.CommitWindow, err = time.ParseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse commitwindow: %w", err)
			}
		case "revealwindow":
			cfg.RevealWindow, err = time.ParseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse revealwindow: %w", err)
			}
		case "matchrounds":
			cfg.MatchRounds, err = strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse matchrounds: %w", err)
			}
		case "refereekey":
			cfg.RefereeKey = value
		default:
			return nil, fmt.Errorf("%s:%d: unknown key %q", configFile, line, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if cfg.FeeBps < 0 || cfg.FeeBps > 10000 {
		return nil, fmt.Errorf("feebps %d out of range [0, 10000]", cfg.FeeBps)
	}
	if cfg.RefereeKey != "" {
		kb, err := hex.DecodeString(cfg.RefereeKey)
		if err != nil || len(kb) != 32 {
			return nil, fmt.Errorf("invalid refereekey: expected 64 hex chars (32 bytes)")
		}
	}
	return cfg, nil
}
