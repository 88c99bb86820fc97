// Package server exposes the alert dispatch API over HTTP. Handlers stay
// thin: parse and validate the request surface, call into core or the
// dispatch orchestrator, and translate errors into the response envelope.
package server

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/rpral/alertd/internal/config"
	"github.com/rpral/alertd/internal/dispatch"
	"github.com/rpral/alertd/internal/metrics"
	"github.com/rpral/alertd/internal/sqlite"
)

// Server hosts the HTTP API.
type Server struct {
	app        *fiber.App
	sqlite     *sqlite.DB
	dispatcher *dispatch.Dispatcher
	reconciler *dispatch.Reconciler
	config     *config.Config
	log        *slog.Logger
}

// Options configures a Server.
type Options struct {
	SQLite     *sqlite.DB
	Dispatcher *dispatch.Dispatcher
	Reconciler *dispatch.Reconciler
	Config     *config.Config
	Logger     *slog.Logger
}

// New creates a Server and registers all routes.
func New(opts Options) *Server {
	s := &Server{
		sqlite:     opts.SQLite,
		dispatcher: opts.Dispatcher,
		reconciler: opts.Reconciler,
		config:     opts.Config,
		log:        opts.Logger.With("component", "server"),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "alertd",
		DisableStartupMessage: true,
		ReadTimeout:           opts.Config.Server.ReadTimeout,
		WriteTimeout:          opts.Config.Server.WriteTimeout,
	})
	s.app.Use(recover.New())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandlerFunc(metrics.Handler()))

	api := s.app.Group("/api/v1")

	alerts := api.Group("/alerts")
	alerts.Post("/", s.handleCreateAlert)
	alerts.Get("/", s.handleListAlerts)
	alerts.Get("/:alertID", s.handleGetAlert)
	alerts.Post("/:alertID/dispatch", s.handleDispatchAlert)
	alerts.Post("/:alertID/cancel", s.handleCancelAlert)
	alerts.Get("/:alertID/deliveries", s.handleListDeliveries)
	alerts.Get("/:alertID/deliveries/stats", s.handleDeliveryStats)

	subs := api.Group("/subscriptions")
	subs.Put("/:userID", s.handleUpsertSubscription)
	subs.Get("/:userID", s.handleGetSubscription)
	subs.Delete("/:userID", s.handleDeactivateSubscription)

	templates := api.Group("/templates")
	templates.Post("/", s.handleUpsertTemplate)
	templates.Get("/", s.handleListTemplates)
	templates.Get("/resolve/:name", s.handleResolveTemplate)

	api.Post("/receipts/poll", s.handlePollReceipts)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"status": "ok"})
}

// Start begins serving on the configured address, blocking until shutdown.
func (s *Server) Start() error {
	s.log.Info("starting http server", "addr", s.config.Server.ListenAddr)
	return s.app.Listen(s.config.Server.ListenAddr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
