package server

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gofiber/fiber/v2"
)

// --- Meta Handlers ---

// MetaResponse represents the server metadata response
type MetaResponse struct {
	Version           string `json:"version"`
	HTTPServerTimeout string `json:"http_server_timeout"`
	StoreDriver       string `json:"store_driver"`
	EngineInterval    string `json:"engine_interval"`
	EngineWorkers     int    `json:"engine_workers"`
	HistoryLimit      int    `json:"history_limit"`
}

// handleGetMeta returns server metadata including version and configuration
// URL: GET /api/v1/meta
func (s *Server) handleGetMeta(c *fiber.Ctx) error {
	meta := MetaResponse{
		Version:           s.version,
		HTTPServerTimeout: s.config.Server.HTTPServerTimeout.String(),
		StoreDriver:       s.store.Driver(),
		EngineInterval:    s.config.Engine.Interval.String(),
		EngineWorkers:     s.config.Engine.Workers,
		HistoryLimit:      s.config.Engine.HistoryLimit,
	}
	return SendSuccess(c, fiber.StatusOK, meta)
}

// handleHealth reports liveness and whether the store answers.
// URL: GET /api/v1/health
func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", "error", err)
		return SendError(c, fiber.StatusServiceUnavailable, "store unavailable")
	}
	return SendSuccess(c, fiber.StatusOK, fiber.Map{
		"store":  "ok",
		"engine": s.engine.Status().Running,
	})
}

// handleMetrics writes all registered metrics in Prometheus text format.
// URL: GET /metrics
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	metrics.WritePrometheus(c.Response().BodyWriter(), true)
	return nil
}
