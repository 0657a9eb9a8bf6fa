package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/promalert/internal/alerts"
	"github.com/mr-karan/promalert/internal/config"
	"github.com/mr-karan/promalert/pkg/models"
)

// EngineStatusResponse is alerts.Status with the interval rendered for humans.
type EngineStatusResponse struct {
	alerts.Status
	Interval string `json:"interval"`
}

func engineStatus(st alerts.Status) EngineStatusResponse {
	return EngineStatusResponse{Status: st, Interval: st.Interval.String()}
}

// handleEngineStatus returns the scheduler status.
// URL: GET /api/v1/engine/status
func (s *Server) handleEngineStatus(c *fiber.Ctx) error {
	return SendSuccess(c, fiber.StatusOK, engineStatus(s.engine.Status()))
}

// handleEngineStart starts the scheduler and remembers the choice across restarts.
// URL: POST /api/v1/engine/start
func (s *Server) handleEngineStart(c *fiber.Ctx) error {
	if err := s.engine.Start(s.baseCtx); err != nil {
		s.log.Error("failed to start engine", "error", err)
		return SendError(c, fiber.StatusInternalServerError, "failed to start engine: "+err.Error())
	}
	s.persistEngineEnabled(c, true)
	return SendSuccess(c, fiber.StatusOK, engineStatus(s.engine.Status()))
}

// handleEngineStop stops the scheduler after the in-flight pass finishes.
// URL: POST /api/v1/engine/stop
func (s *Server) handleEngineStop(c *fiber.Ctx) error {
	s.engine.Stop()
	s.persistEngineEnabled(c, false)
	return SendSuccess(c, fiber.StatusOK, engineStatus(s.engine.Status()))
}

// handleEngineRun runs one evaluation pass now and returns its report.
// URL: POST /api/v1/engine/run
func (s *Server) handleEngineRun(c *fiber.Ctx) error {
	report, err := s.engine.RunOnce(s.baseCtx)
	if err != nil {
		if errors.Is(err, alerts.ErrPassInProgress) {
			return SendErrorWithType(c, fiber.StatusConflict, err.Error(), models.ConflictErrorType)
		}
		s.log.Error("manual evaluation pass failed", "error", err)
		return SendError(c, fiber.StatusInternalServerError, "evaluation pass failed: "+err.Error())
	}
	return SendSuccess(c, fiber.StatusOK, report)
}

func (s *Server) persistEngineEnabled(c *fiber.Ctx, enabled bool) {
	if err := s.store.UpsertSetting(c.UserContext(), config.SettingEngineEnabled, strconv.FormatBool(enabled)); err != nil {
		s.log.Warn("failed to persist engine state", "enabled", enabled, "error", err)
	}
}
