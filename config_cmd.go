package main

import (
	"github.com/spf13/cobra"

	"github.com/arsalan507/studioflow/internal/config"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration and data paths",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	dataDir := config.EffectiveDataDir(cfg)

	out := cmd.OutOrStdout()

	printKV(out, "config file", effectiveConfigPath())
	printKV(out, "data dir", dataDir)
	printKV(out, "credential", config.CredentialPath(dataDir))
	printKV(out, "history db", config.LedgerPath(dataDir))
	printKV(out, "sessions", config.SessionDir(dataDir))
	printKV(out, "log level", cfg.LogLevel)
	printKV(out, "overseer", cfg.OverseerEmail)

	return nil
}

// effectiveConfigPath mirrors the resolution order used by loadConfig.
func effectiveConfigPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	if env := config.ReadEnvOverrides(); env.ConfigPath != "" {
		return env.ConfigPath
	}

	return config.DefaultConfigPath()
}
