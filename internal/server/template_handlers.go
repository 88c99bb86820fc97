package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/rpral/alertd/internal/core"
	"github.com/rpral/alertd/pkg/models"
)

func (s *Server) handleUpsertTemplate(c *fiber.Ctx) error {
	var req models.UpsertTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}
	createdBy := models.UserID(c.Get("X-Actor-ID"))

	tmpl, err := core.UpsertTemplate(c.Context(), s.sqlite, &req, createdBy)
	if err != nil {
		if errors.Is(err, core.ErrInvalidTemplate) {
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		}
		s.log.Error("failed to upsert template", "name", req.Name, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to save template", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, tmpl)
}

func (s *Server) handleListTemplates(c *fiber.Ctx) error {
	filter := models.TemplateFilter{
		Severity: models.AlertSeverity(c.Query("severity")),
		Locale:   models.AlertLocale(c.Query("locale")),
	}

	templates, err := core.ListTemplates(c.Context(), s.sqlite, filter)
	if err != nil {
		if errors.Is(err, core.ErrInvalidTemplate) {
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		}
		s.log.Error("failed to list templates", "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to list templates", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, templates)
}

// handleResolveTemplate previews a template with variables applied, letting
// the ops UI show the exact message before an alert is created from it.
func (s *Server) handleResolveTemplate(c *fiber.Ctx) error {
	name := c.Params("name")
	locale := models.AlertLocale(c.Query("locale", string(models.AlertLocaleEN)))

	vars := make(map[string]string)
	for key, values := range c.Queries() {
		if key == "locale" {
			continue
		}
		vars[key] = values
	}

	resolved, err := core.ResolveTemplate(c.Context(), s.sqlite, name, locale, vars)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTemplateNotFound):
			return SendErrorWithType(c, fiber.StatusNotFound, "Template not found", models.NotFoundErrorType)
		case errors.Is(err, core.ErrInvalidTemplate):
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		default:
			s.log.Error("failed to resolve template", "name", name, "error", err)
			return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to resolve template", models.GeneralErrorType)
		}
	}
	return SendSuccess(c, fiber.StatusOK, resolved)
}
