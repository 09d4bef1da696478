// Package httpapi exposes the query engine over HTTP. It is a thin facade:
// requests deserialize into query structs, the engine evaluates, results
// serialize back as JSON.
package httpapi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"insightcore/internal/config"
	"insightcore/internal/engine"
	"insightcore/internal/eventstore"
	"insightcore/internal/query"
)

// Server hosts the analytics API.
type Server struct {
	app      *fiber.App
	engine   *engine.Engine
	ingestor *eventstore.Ingestor
	cfg      *config.Config
	logger   *slog.Logger
}

// NewServer builds the fiber application and mounts all routes. ingestor may
// be nil when the deployment ingests through another path.
func NewServer(cfg *config.Config, eng *engine.Engine, ingestor *eventstore.Ingestor, logger *slog.Logger) *Server {
	s := &Server{
		engine:   eng,
		ingestor: ingestor,
		cfg:      cfg,
		logger:   logger,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: cfg.IsProduction(),
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.healthAction)

	v1 := s.app.Group("/api/v1")
	v1.Post("/queries/funnel", s.funnelAction)
	v1.Post("/queries/funnel/trends", s.funnelTrendsAction)
	v1.Post("/queries/funnel/actors", s.funnelActorsAction)
	v1.Post("/queries/trends", s.trendsAction)
	v1.Post("/queries/stickiness", s.stickinessAction)
	v1.Post("/experiments/results", s.experimentAction)
	if s.ingestor != nil {
		v1.Post("/ingest", s.ingestAction)
	}
}

// Listen blocks serving HTTP on the configured port.
func (s *Server) Listen() error {
	return s.app.Listen(":" + s.cfg.AppPort)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber application for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// errorHandler maps evaluation errors onto HTTP statuses: user errors are
// 400, an empty all-time scope is 422, an overloaded event store is a
// retryable 503, everything else is a logged 500.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(errorResponse{Error: fiberErr.Message})
	}
	if errors.Is(err, query.ErrConcurrencyLimit) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{
			Error: "too many concurrent queries, retry later",
			Code:  "concurrency_limit",
		})
	}
	if errors.Is(err, query.ErrInsufficientData) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{
			Error: "not enough data to resolve the requested date range",
			Code:  "insufficient_data",
		})
	}
	if query.IsUserError(err) {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	s.logger.Error("request failed",
		slog.String("path", c.Path()),
		slog.Any("error", err))
	return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal server error"})
}
