// Package cmd defines the rostertrack CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/rostertrack/internal/app"
	"github.com/JakeFAU/rostertrack/internal/config"
	"github.com/JakeFAU/rostertrack/internal/logging"
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject a logger or tweak config.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger)
}

// newRootCmd builds the command tree. The returned func closes the services built for the
// executed command; post-run hooks are skipped when a command fails, so callers must invoke it.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		built   *app.App
	)
	cmd := &cobra.Command{
		Use:   "rostertrack",
		Short: "Track graduate student rosters through the web archive.",
		Long: `rostertrack walks the archived history of department roster pages, extracts
the names on every snapshot and keeps a versioned dataset of who was listed when.
Sites without a working extraction rule get one generated and repaired on the fly.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			built = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); ROSTER_* env vars override it")

	cmd.AddCommand(
		newRunCmd(),
		newSnapshotsCmd(),
		newPagesCmd(),
		newExtractCmd(),
		newGenerateCmd(),
		newServeCmd(),
	)

	closeApp := func() {
		if built != nil {
			_ = built.Close()
			_ = built.Logger.Sync()
			built = nil
		}
	}
	return cmd, closeApp
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func appFrom(cmd *cobra.Command) (*app.App, error) {
	a, ok := cmd.Context().Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}
