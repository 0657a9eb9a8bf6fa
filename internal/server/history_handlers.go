package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/promalert/pkg/models"
)

// URL: POST /api/v1/history/:id/acknowledge
func (s *Server) handleAcknowledgeHistory(c *fiber.Ctx) error {
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

	entry, err := s.store.AcknowledgeHistory(c.UserContext(), models.HistoryID(id), by)
	if err != nil {
		return s.sendOverrideError(c, "history entry", err)
	}
	return SendSuccess(c, fiber.StatusOK, entry)
}

// URL: POST /api/v1/history/:id/resolve
func (s *Server) handleResolveHistory(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req models.ResolveRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}

	entry, err := s.store.ResolveHistory(c.UserContext(), models.HistoryID(id), strings.TrimSpace(req.Reason))
	if err != nil {
		return s.sendOverrideError(c, "history entry", err)
	}
	return SendSuccess(c, fiber.StatusOK, entry)
}
