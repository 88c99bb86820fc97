// Package app assembles the alertd components and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rpral/alertd/internal/config"
	"github.com/rpral/alertd/internal/dispatch"
	"github.com/rpral/alertd/internal/expo"
	"github.com/rpral/alertd/internal/server"
	"github.com/rpral/alertd/internal/sqlite"
	"github.com/rpral/alertd/internal/twilio"
	"github.com/rpral/alertd/pkg/logger"
)

// App holds the wired application components.
type App struct {
	Config     *config.Config
	SQLite     *sqlite.DB
	Dispatcher *dispatch.Dispatcher
	Reconciler *dispatch.Reconciler
	Logger     *slog.Logger

	server  *server.Server
	cron    *cron.Cron
	Version string
}

// Options contains configuration needed when creating a new App instance.
// Debug forces debug logging regardless of the configured level.
type Options struct {
	ConfigPath string
	Debug      bool
	Version    string
}

// New loads and validates configuration and creates an App. Components are
// not connected until Initialize is called.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger.New(opts.Debug || cfg.Logging.Level == "debug"),
		Version: opts.Version,
	}, nil
}

// Initialize opens the database, builds the provider clients, and wires the
// dispatcher, reconciler, and HTTP server.
func (a *App) Initialize(ctx context.Context) error {
	var err error
	a.SQLite, err = sqlite.New(sqlite.Options{
		Config: a.Config.SQLite,
		Logger: a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sqlite: %w", err)
	}

	pushClient := expo.New(a.Config.Expo, a.Logger)
	smsClient := twilio.New(a.Config.Twilio, a.Logger)

	a.Dispatcher = dispatch.New(dispatch.Options{
		Store:  a.SQLite,
		Push:   pushClient,
		SMS:    smsClient,
		Logger: a.Logger,
	})
	a.Reconciler = dispatch.NewReconciler(dispatch.ReconcilerOptions{
		Store:  a.SQLite,
		Push:   pushClient,
		Logger: a.Logger,
	})

	a.server = server.New(server.Options{
		SQLite:     a.SQLite,
		Dispatcher: a.Dispatcher,
		Reconciler: a.Reconciler,
		Config:     a.Config,
		Logger:     a.Logger,
	})

	// An in-process schedule is optional; deployments may instead drive the
	// poll endpoint from an external scheduler.
	if schedule := a.Config.Reconciler.Schedule; schedule != "" {
		a.cron = cron.New()
		_, err := a.cron.AddFunc(schedule, func() {
			pollCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := a.Reconciler.PollReceipts(pollCtx); err != nil {
				a.Logger.Error("scheduled receipt poll failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid reconciler schedule %q: %w", schedule, err)
		}
		a.cron.Start()
		a.Logger.Info("receipt reconciler scheduled", "schedule", schedule)
	}

	return nil
}

// Start begins serving HTTP traffic, blocking until shutdown.
func (a *App) Start() error {
	if a.server == nil {
		return fmt.Errorf("server not initialized")
	}
	return a.server.Start()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	if a.cron != nil {
		// Stop returns after letting running jobs finish.
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			a.Logger.Warn("timeout waiting for scheduled jobs")
		}
	}

	if a.server != nil {
		serverCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(serverCtx); err != nil {
			a.Logger.Error("error shutting down http server", "error", err)
		}
	}

	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Logger.Error("error closing database", "error", err)
		}
	}

	a.Logger.Info("shutdown complete")
	return nil
}
