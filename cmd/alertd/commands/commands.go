// Package commands provides the CLI command definitions for alertd.
package commands

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/rpral/alertd/internal/app"
)

// New creates the root CLI command with all subcommands.
func New(version, commit, date string) *cli.Command {
	return &cli.Command{
		Name:    "alertd",
		Usage:   "Emergency alert dispatch and delivery tracking service",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Value:   "config.toml",
				Sources: cli.EnvVars("ALERTD_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				log.SetLevel(log.DebugLevel)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCommand(version),
			pollReceiptsCommand(version),
		},
	}
}

// serveCommand runs the HTTP server until interrupted.
func serveCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the alert dispatch HTTP server",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- a.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info("received shutdown signal")
				return a.Shutdown(context.Background())
			}
		},
	}
}

// pollReceiptsCommand runs one receipt reconciliation pass and exits. Useful
// for cron-style deployments that prefer a process over an HTTP trigger.
func pollReceiptsCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "poll-receipts",
		Usage: "run a single push receipt reconciliation pass",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.SQLite.Close(); err != nil {
					log.Error("failed to close database", "error", err)
				}
			}()

			result, err := a.Reconciler.PollReceipts(ctx)
			if err != nil {
				return fmt.Errorf("receipt poll failed: %w", err)
			}
			log.Info("receipt poll complete", "polled", result.Polled, "updated", result.Updated)
			return nil
		},
	}
}

func newApp(ctx context.Context, cmd *cli.Command, version string) (*app.App, error) {
	a, err := app.New(app.Options{
		ConfigPath: cmd.String("config"),
		Debug:      cmd.Bool("debug"),
		Version:    version,
	})
	if err != nil {
		return nil, err
	}
	if err := a.Initialize(ctx); err != nil {
		return nil, err
	}
	return a, nil
}
