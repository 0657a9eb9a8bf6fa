package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/promalert/pkg/models"
)

// SendSuccess writes data in the success envelope.
func SendSuccess(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(models.APIResponse{Status: "success", Data: data})
}

// SendError writes a general error.
func SendError(c *fiber.Ctx, status int, message string) error {
	return SendErrorWithType(c, status, message, models.GeneralErrorType)
}

// SendErrorWithType writes an error envelope with an explicit error type.
func SendErrorWithType(c *fiber.Ctx, status int, message string, errType models.ErrorType) error {
	return c.Status(status).JSON(models.APIResponse{Status: "error", Message: message, ErrorType: errType})
}
