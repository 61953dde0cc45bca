// Package session persists conversation transcripts in SQLite.
package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDir returns the XDG data directory for term-agent.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func DataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "term-agent"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "term-agent"), nil
}

// DefaultDBPath returns the path to the transcript database.
func DefaultDBPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions.db"), nil
}
