package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moodmnky/dojo/internal/config"
	"github.com/moodmnky/dojo/internal/httpapi"
	"github.com/moodmnky/dojo/internal/ledger"
	"github.com/moodmnky/dojo/internal/reward"
	"github.com/moodmnky/dojo/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Listen     string
	Database   string
	RulesDir   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the XP ledger HTTP service",
		Long: `Start the dojo HTTP service.

Loads service settings from a YAML file and the XP rules and reward catalog
from a directory of CUE files, opens the SQLite database (creating it if it
doesn't exist), and serves the API until interrupted.

Example:
  dojo serve --config dojo.yaml
  dojo serve --db ./dojo.db --rules ./rules --listen :9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML settings file")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP bind address (overrides settings)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides settings)")
	cmd.Flags().StringVar(&opts.RulesDir, "rules", "", "path to CUE rules directory (overrides settings)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	settings, err := config.LoadSettings(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load settings", err)
	}
	if opts.Listen != "" {
		settings.Listen = opts.Listen
	}
	if opts.Database != "" {
		settings.DBPath = opts.Database
	}
	if opts.RulesDir != "" {
		settings.RulesDir = opts.RulesDir
	}

	logLevel := settings.SlogLevel()
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	slog.Info("loading rules", "dir", settings.RulesDir)
	loadResult, loadErrors := config.LoadRules(settings.RulesDir, config.LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load rules", loadErrors[0])
	}
	slog.Info("rules loaded", "files", loadResult.FileCount, "rewards", len(loadResult.Rewards))

	if settings.WebhookSecret == "" && !settings.AllowUnsignedWebhooks {
		return NewExitError(ExitCommandError,
			"webhook_secret is not set; set it or allow_unsigned_webhooks: true for local development")
	}

	slog.Info("opening database", "path", settings.DBPath)
	st, err := store.Open(settings.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ldg := ledger.New(st, loadResult.Rules, nil, nil)
	issuer := reward.NewIssuer(st, nil, nil, nil)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := issuer.SyncCatalog(ctx, loadResult.Rewards); err != nil {
		return WrapExitError(ExitCommandError, "failed to sync reward catalog", err)
	}

	api := httpapi.NewHandler(ldg, issuer, st, httpapi.Options{
		WebhookSecret: settings.WebhookSecret,
		AllowUnsigned: settings.AllowUnsignedWebhooks,
		AdminToken:    settings.AdminToken,
	})

	srv := &http.Server{
		Addr:              settings.Listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Pending discount-code claims get retried in the background so a
	// transient generator outage heals without operator action.
	go func() {
		ticker := time.NewTicker(settings.ClaimRetryInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := issuer.RetryPending(ctx, settings.ClaimRetryBatch); err != nil {
					slog.Error("claim retry sweep failed", "error", err)
				}
			}
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	slog.Info("service started", "listen", settings.Listen, "db", settings.DBPath)
	fmt.Fprintln(cmd.OutOrStdout(), "Service started. Press Ctrl-C to stop.")

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitFailure, "shutdown error", err)
		}
	}

	slog.Info("service stopped gracefully")
	return nil
}
