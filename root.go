// Command studioflow uploads production media to Google Drive: one-shot
// uploads, a drop-folder watch mode, share-link management, and a local
// history of every transfer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/arsalan507/studioflow/internal/config"
	"github.com/arsalan507/studioflow/internal/credstore"
	"github.com/arsalan507/studioflow/internal/drive"
	"github.com/arsalan507/studioflow/internal/ledger"
	"github.com/arsalan507/studioflow/internal/uploader"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagOverseer   string
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Config

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "studioflow",
		Short:   "Production media uploader for Google Drive",
		Long:    "Uploads dailies, renders, and production documents to Google Drive with resumable transfers, share links, and upload history.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagOverseer, "overseer", "", "email granted reader access to every upload")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// (defaults, config file, environment, flags) into resolvedCfg.
func loadConfig() error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		Overseer:   flagOverseer,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger from the resolved config and CLI
// flags. The config file sets the baseline; --verbose and --quiet win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app bundles the wired-up collaborators behind every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	creds  *credstore.Store
	client *drive.Client
	mgr    *uploader.Manager
	hist   *ledger.Ledger // nil when the history database cannot open
}

// newApp wires configuration, credentials, the API client, upload history,
// and the upload manager. The history ledger is best-effort: a broken
// database degrades to no history rather than blocking uploads.
func newApp(ctx context.Context) (*app, error) {
	logger := buildLogger()
	cfg := resolvedCfg

	dataDir := config.EffectiveDataDir(cfg)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	oauthCfg := credstore.OAuthConfig(cfg.ClientID, cfg.ClientSecret)

	creds, err := credstore.New(config.CredentialPath(dataDir), oauthCfg, logger)
	if err != nil {
		return nil, err
	}

	creds.Interactive = func(ctx context.Context) (*oauth2.Token, error) {
		return credstore.BrowserFlow(ctx, oauthCfg, openBrowser, logger)
	}

	// No overall client timeout: a resumable chunk on a slow uplink can
	// legitimately take minutes.
	client := drive.NewClient("", "", &http.Client{}, creds, logger)

	sessions, err := uploader.NewSessionStore(config.SessionDir(dataDir))
	if err != nil {
		return nil, err
	}

	hist, err := ledger.Open(ctx, config.LedgerPath(dataDir), logger)
	if err != nil {
		logger.Warn("upload history unavailable", slog.String("error", err.Error()))

		hist = nil
	}

	opts := uploader.ManagerOpts{
		Sessions:      sessions,
		OverseerEmail: cfg.OverseerEmail,
	}
	if hist != nil {
		opts.Recorder = hist
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		creds:  creds,
		client: client,
		mgr:    uploader.NewManager(client, creds, opts, logger),
		hist:   hist,
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			a.logger.Warn("closing upload history", slog.String("error", err.Error()))
		}
	}
}

// openBrowser launches the system browser for the sign-in flow.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
