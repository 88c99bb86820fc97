package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rpral/alertd/pkg/models"
)

// SendSuccess writes a success envelope with the given payload.
func SendSuccess(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(models.APIResponse{
		Status: "success",
		Data:   data,
	})
}

// SendErrorWithType writes an error envelope with a client-facing category.
func SendErrorWithType(c *fiber.Ctx, status int, message string, errType models.APIErrorType) error {
	return c.Status(status).JSON(models.APIResponse{
		Status: "error",
		Error: &models.APIError{
			Type:    errType,
			Message: message,
		},
	})
}
