package config

import (
	"os"
	"path/filepath"
)

// appDirName is the subdirectory used under XDG base directories.
const appDirName = "studioflow"

// DefaultConfigPath returns the default config file location:
// $XDG_CONFIG_HOME/studioflow/config.toml (or ~/.config fallback).
func DefaultConfigPath() string {
	return filepath.Join(configHome(), appDirName, "config.toml")
}

// DefaultDataDir returns the default data directory:
// $XDG_DATA_HOME/studioflow (or ~/.local/share fallback). Holds the
// credential file, persisted upload sessions, and the upload ledger.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDirName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		// Last resort: relative to the working directory.
		return appDirName
	}

	return filepath.Join(home, ".local", "share", appDirName)
}

// EffectiveDataDir returns cfg.DataDir when set, else the default.
func EffectiveDataDir(cfg *Config) string {
	if cfg != nil && cfg.DataDir != "" {
		return cfg.DataDir
	}

	return DefaultDataDir()
}

// CredentialPath returns the path of the persisted delegated-access
// credential within the data directory.
func CredentialPath(dataDir string) string {
	return filepath.Join(dataDir, "credential.json")
}

// SessionDir returns the directory holding persisted resumable-upload
// session records.
func SessionDir(dataDir string) string {
	return filepath.Join(dataDir, "sessions")
}

// LedgerPath returns the path of the upload ledger database.
func LedgerPath(dataDir string) string {
	return filepath.Join(dataDir, "uploads.db")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config")
}
