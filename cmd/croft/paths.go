package main

import (
	"fmt"
	"os"
	"path/filepath"

	"croft/pkg/protocol"
)

// Paths holds all resolved croft state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home       string // ~/.croft or CROFT_HOME
	PIDPath    string // croft.pid or CROFT_PID_PATH
	SocketPath string // croft.sock or CROFT_SOCKET_PATH
	DBPath     string // croft.db or CROFT_DB_PATH
	LockPath   string // croft.lock (always under Home)
	InboxDir   string // inbox/ or CROFT_INBOX_DIR
	WorkersDir string // workers/ (per-account output.log)
}

// ResolvePaths returns all croft paths, respecting env var overrides.
// Environment variables:
//   - CROFT_HOME: base directory for all croft state (default: ~/.croft)
//   - CROFT_PID_PATH: supervisor PID file (default: $CROFT_HOME/croft.pid)
//   - CROFT_SOCKET_PATH: control socket (default: $CROFT_HOME/croft.sock)
//   - CROFT_DB_PATH: accounts/settings/audit database (default: $CROFT_HOME/croft.db)
//   - CROFT_INBOX_DIR: account import inbox (default: $CROFT_HOME/inbox)
//
// Specific env vars override both the default and the CROFT_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveCroftHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:       home,
		PIDPath:    resolvePathWithEnv("CROFT_PID_PATH", home, "croft.pid"),
		SocketPath: resolvePathWithEnv("CROFT_SOCKET_PATH", home, "croft.sock"),
		DBPath:     resolvePathWithEnv("CROFT_DB_PATH", home, "croft.db"),
		LockPath:   filepath.Join(home, "croft.lock"),
		InboxDir:   resolvePathWithEnv("CROFT_INBOX_DIR", home, protocol.InboxDir),
		WorkersDir: filepath.Join(home, protocol.WorkersDir),
	}, nil
}

// resolveCroftHome returns CROFT_HOME or ~/.croft.
func resolveCroftHome() (string, error) {
	if v := os.Getenv("CROFT_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.CroftDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
