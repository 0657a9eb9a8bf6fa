package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/promalert/pkg/models"
)

// CreateTemplateResponse reports whether a new template was stored or an
// identical one was reused.
type CreateTemplateResponse struct {
	Template *models.NotifyTemplate `json:"template"`
	Created  bool                   `json:"created"`
}

// handleCreateTemplate validates and stores a notify template.
// URL: POST /api/v1/templates
func (s *Server) handleCreateTemplate(c *fiber.Ctx) error {
	var req models.CreateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}

	tmpl, created, err := s.store.CreateTemplate(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidParams) {
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		}
		s.log.Error("failed to create template", "name", req.Name, "error", err)
		return SendError(c, fiber.StatusInternalServerError, "failed to create template")
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
		s.log.Info("template created", "template_id", tmpl.ID, "type", tmpl.Type)
	}
	return SendSuccess(c, status, CreateTemplateResponse{Template: tmpl, Created: created})
}

// URL: GET /api/v1/templates
func (s *Server) handleListTemplates(c *fiber.Ctx) error {
	templates, err := s.store.ListTemplates(c.UserContext())
	if err != nil {
		s.log.Error("failed to list templates", "error", err)
		return SendError(c, fiber.StatusInternalServerError, "failed to list templates")
	}
	return SendSuccess(c, fiber.StatusOK, templates)
}
