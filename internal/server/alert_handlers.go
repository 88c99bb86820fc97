package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/rpral/alertd/internal/core"
	"github.com/rpral/alertd/internal/dispatch"
	"github.com/rpral/alertd/pkg/models"
)

func (s *Server) handleCreateAlert(c *fiber.Ctx) error {
	var req models.CreateAlertRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}

	alert, err := core.CreateAlert(c.Context(), s.sqlite, &req)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidAlert):
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		case errors.Is(err, core.ErrTemplateNotFound):
			return SendErrorWithType(c, fiber.StatusNotFound, err.Error(), models.NotFoundErrorType)
		default:
			s.log.Error("failed to create alert", "error", err)
			return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to create alert", models.GeneralErrorType)
		}
	}
	return SendSuccess(c, fiber.StatusCreated, alert)
}

func (s *Server) handleListAlerts(c *fiber.Ctx) error {
	filter := models.ListAlertsFilter{
		Status:   models.AlertStatus(c.Query("status")),
		Severity: models.AlertSeverity(c.Query("severity")),
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", models.DefaultAlertPageSize),
	}

	alerts, err := core.ListAlerts(c.Context(), s.sqlite, filter)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAlert) {
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		}
		s.log.Error("failed to list alerts", "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to list alerts", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, alerts)
}

func (s *Server) handleGetAlert(c *fiber.Ctx) error {
	alertID := models.AlertID(c.Params("alertID"))

	alert, err := core.GetAlert(c.Context(), s.sqlite, alertID)
	if err != nil {
		if errors.Is(err, core.ErrAlertNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Alert not found", models.NotFoundErrorType)
		}
		s.log.Error("failed to get alert", "alert_id", alertID, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to retrieve alert", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, alert)
}

// handleDispatchAlert triggers the fan-out for one alert. The acting staff
// identity arrives in the X-Actor-ID header; authentication itself is the
// deployment's concern (the service sits behind an authenticating proxy).
func (s *Server) handleDispatchAlert(c *fiber.Ctx) error {
	alertID := models.AlertID(c.Params("alertID"))
	actorID := models.UserID(c.Get("X-Actor-ID"))
	if actorID == "" {
		return SendErrorWithType(c, fiber.StatusBadRequest, "X-Actor-ID header is required", models.ValidationErrorType)
	}

	alert, err := s.dispatcher.Dispatch(c.Context(), alertID, actorID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrAlertNotFound):
			return SendErrorWithType(c, fiber.StatusNotFound, "Alert not found", models.NotFoundErrorType)
		case errors.Is(err, dispatch.ErrAlertNotDispatchable):
			return SendErrorWithType(c, fiber.StatusConflict, err.Error(), models.ConflictErrorType)
		default:
			s.log.Error("dispatch failed", "alert_id", alertID, "actor_id", actorID, "error", err)
			return SendErrorWithType(c, fiber.StatusInternalServerError, "Dispatch failed", models.GeneralErrorType)
		}
	}
	return SendSuccess(c, fiber.StatusOK, alert)
}

func (s *Server) handleCancelAlert(c *fiber.Ctx) error {
	alertID := models.AlertID(c.Params("alertID"))

	alert, err := core.CancelAlert(c.Context(), s.sqlite, alertID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrAlertNotFound):
			return SendErrorWithType(c, fiber.StatusNotFound, "Alert not found", models.NotFoundErrorType)
		case errors.Is(err, core.ErrAlertNotCancellable):
			return SendErrorWithType(c, fiber.StatusConflict, err.Error(), models.ConflictErrorType)
		default:
			s.log.Error("failed to cancel alert", "alert_id", alertID, "error", err)
			return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to cancel alert", models.GeneralErrorType)
		}
	}
	return SendSuccess(c, fiber.StatusOK, alert)
}

func (s *Server) handleListDeliveries(c *fiber.Ctx) error {
	alertID := models.AlertID(c.Params("alertID"))
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", models.DefaultDeliveryPageSize)

	deliveries, err := core.ListDeliveries(c.Context(), s.sqlite, alertID, page, pageSize)
	if err != nil {
		if errors.Is(err, core.ErrAlertNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Alert not found", models.NotFoundErrorType)
		}
		s.log.Error("failed to list deliveries", "alert_id", alertID, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to list deliveries", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, deliveries)
}

func (s *Server) handleDeliveryStats(c *fiber.Ctx) error {
	alertID := models.AlertID(c.Params("alertID"))

	stats, err := core.GetDeliveryStats(c.Context(), s.sqlite, alertID)
	if err != nil {
		if errors.Is(err, core.ErrAlertNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Alert not found", models.NotFoundErrorType)
		}
		s.log.Error("failed to get delivery stats", "alert_id", alertID, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to retrieve delivery stats", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, stats)
}

func parseIntQuery(c *fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
