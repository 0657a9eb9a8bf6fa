package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/promalert/internal/store"
	"github.com/mr-karan/promalert/pkg/models"
)

const defaultActor = "api"

func parseID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, SendErrorWithType(c, fiber.StatusBadRequest, "invalid id", models.ValidationErrorType)
	}
	return id, nil
}

// parseOptionalBody decodes the request body into out when one is present.
func parseOptionalBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}
	return nil
}

// sendOverrideError maps store errors of acknowledge and resolve calls.
func (s *Server) sendOverrideError(c *fiber.Ctx, what string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return SendErrorWithType(c, fiber.StatusNotFound, what+" not found", models.NotFoundErrorType)
	case errors.Is(err, store.ErrInvalidState):
		return SendErrorWithType(c, fiber.StatusConflict, err.Error(), models.ConflictErrorType)
	case errors.Is(err, store.ErrVersionConflict):
		return SendErrorWithType(c, fiber.StatusConflict, what+" changed concurrently, retry", models.ConflictErrorType)
	default:
		s.log.Error("override failed", "target", what, "error", err)
		return SendError(c, fiber.StatusInternalServerError, "failed to update "+what)
	}
}

// handleAcknowledgeRule silences an alerting rule.
// URL: POST /api/v1/rules/:id/acknowledge
func (s *Server) handleAcknowledgeRule(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req models.AcknowledgeRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		by = defaultActor
	}

	rule, err := s.store.AcknowledgeRule(c.UserContext(), models.RuleID(id), by)
	if err != nil {
		return s.sendOverrideError(c, "rule", err)
	}
	s.log.Info("rule acknowledged", "rule_id", id, "by", by)
	return SendSuccess(c, fiber.StatusOK, rule)
}

// handleResolveRule forces a rule back to ok.
// URL: POST /api/v1/rules/:id/resolve
func (s *Server) handleResolveRule(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req models.ResolveRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}

	rule, err := s.store.ResolveRule(c.UserContext(), models.RuleID(id), strings.TrimSpace(req.Reason))
	if err != nil {
		return s.sendOverrideError(c, "rule", err)
	}
	s.log.Info("rule resolved", "rule_id", id)
	return SendSuccess(c, fiber.StatusOK, rule)
}

// handleListRuleHistory returns the newest history entries of a rule. The
// limit query parameter may lower but never raise the configured limit.
// URL: GET /api/v1/rules/:id/history
func (s *Server) handleListRuleHistory(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if _, err := s.store.GetRule(c.UserContext(), models.RuleID(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "rule not found", models.NotFoundErrorType)
		}
		s.log.Error("failed to get rule", "rule_id", id, "error", err)
		return SendError(c, fiber.StatusInternalServerError, "failed to list history")
	}

	limit := s.config.Engine.HistoryLimit
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed < limit {
			limit = parsed
		}
	}

	history, err := s.store.ListHistory(c.UserContext(), models.RuleID(id), limit)
	if err != nil {
		s.log.Error("failed to list history", "rule_id", id, "error", err)
		return SendError(c, fiber.StatusInternalServerError, "failed to list history")
	}
	return SendSuccess(c, fiber.StatusOK, history)
}
