package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// UserConfigDir returns the per-user configuration directory,
// ~/.config/assert-lsp. XDG_CONFIG_HOME is honored when set.
func UserConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "assert-lsp"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "assert-lsp"), nil
}

// UserConfigPath returns the user-level config file written by
// `assert-lsp init --global`.
func UserConfigPath() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
