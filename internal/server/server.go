// Package server exposes the admin HTTP API: engine control, rule and
// history overrides, template creation and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mr-karan/promalert/internal/alerts"
	"github.com/mr-karan/promalert/internal/config"
	"github.com/mr-karan/promalert/pkg/models"
)

// Store is the part of the store the API needs.
type Store interface {
	Ping(ctx context.Context) error
	Driver() string
	GetRule(ctx context.Context, id models.RuleID) (*models.Rule, error)
	ListHistory(ctx context.Context, ruleID models.RuleID, limit int) ([]*models.HistoryEntry, error)
	AcknowledgeRule(ctx context.Context, id models.RuleID, by string) (*models.Rule, error)
	ResolveRule(ctx context.Context, id models.RuleID, reason string) (*models.Rule, error)
	AcknowledgeHistory(ctx context.Context, id models.HistoryID, by string) (*models.HistoryEntry, error)
	ResolveHistory(ctx context.Context, id models.HistoryID, reason string) (*models.HistoryEntry, error)
	CreateTemplate(ctx context.Context, req models.CreateTemplateRequest) (*models.NotifyTemplate, bool, error)
	ListTemplates(ctx context.Context) ([]*models.NotifyTemplate, error)
	UpsertSetting(ctx context.Context, key, value string) error
}

// Engine controls the evaluation scheduler.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	RunOnce(ctx context.Context) (*alerts.Report, error)
	Status() alerts.Status
}

// ServerOptions holds the dependencies of the API server.
type ServerOptions struct {
	Config  *config.Config
	Store   Store
	Engine  Engine
	Logger  *slog.Logger
	Version string
	// Context is the parent of engine passes started over the API. It
	// defaults to context.Background.
	Context context.Context
}

// Server is the admin API server.
type Server struct {
	app     *fiber.App
	config  *config.Config
	store   Store
	engine  Engine
	log     *slog.Logger
	version string
	baseCtx context.Context
}

// New builds the fiber app and registers all routes.
func New(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	s := &Server{
		config:  opts.Config,
		store:   opts.Store,
		engine:  opts.Engine,
		log:     logger.With("component", "server"),
		version: opts.Version,
		baseCtx: baseCtx,
	}

	timeout := opts.Config.Server.HTTPServerTimeout
	s.app = fiber.New(fiber.Config{
		AppName:               "promalert",
		ReadTimeout:           timeout,
		WriteTimeout:          timeout,
		IdleTimeout:           2 * timeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/metrics", s.handleMetrics)

	api := s.app.Group("/api/v1")
	api.Get("/health", s.handleHealth)
	api.Get("/meta", s.handleGetMeta)

	engine := api.Group("/engine")
	engine.Get("/status", s.handleEngineStatus)
	engine.Post("/start", s.handleEngineStart)
	engine.Post("/stop", s.handleEngineStop)
	engine.Post("/run", s.handleEngineRun)

	rules := api.Group("/rules")
	rules.Post("/:id/acknowledge", s.handleAcknowledgeRule)
	rules.Post("/:id/resolve", s.handleResolveRule)
	rules.Get("/:id/history", s.handleListRuleHistory)

	history := api.Group("/history")
	history.Post("/:id/acknowledge", s.handleAcknowledgeHistory)
	history.Post("/:id/resolve", s.handleResolveHistory)

	templates := api.Group("/templates")
	templates.Get("/", s.handleListTemplates)
	templates.Post("/", s.handleCreateTemplate)
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("starting http server", "address", s.config.Server.Address)
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.app.ShutdownWithContext(ctx)
}

// handleError renders errors that escape handlers, including fiber's own
// 404 and 405 errors, in the API envelope.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error("unhandled request error", "path", c.Path(), "error", err)
		return SendErrorWithType(c, code, "internal server error", models.GeneralErrorType)
	}
	errType := models.GeneralErrorType
	if code == fiber.StatusNotFound {
		errType = models.NotFoundErrorType
	}
	return SendErrorWithType(c, code, err.Error(), errType)
}
