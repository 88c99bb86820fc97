package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/rpral/alertd/internal/core"
	"github.com/rpral/alertd/pkg/models"
)

func (s *Server) handleUpsertSubscription(c *fiber.Ctx) error {
	userID := models.UserID(c.Params("userID"))

	var req models.UpsertSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}

	sub, err := core.UpsertSubscription(c.Context(), s.sqlite, userID, &req)
	if err != nil {
		if errors.Is(err, core.ErrInvalidSubscription) {
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		}
		s.log.Error("failed to upsert subscription", "user_id", userID, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to save subscription", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, sub)
}

func (s *Server) handleGetSubscription(c *fiber.Ctx) error {
	userID := models.UserID(c.Params("userID"))

	sub, err := core.GetSubscription(c.Context(), s.sqlite, userID)
	if err != nil {
		if errors.Is(err, core.ErrSubscriptionNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Subscription not found", models.NotFoundErrorType)
		}
		s.log.Error("failed to get subscription", "user_id", userID, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to retrieve subscription", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, sub)
}

func (s *Server) handleDeactivateSubscription(c *fiber.Ctx) error {
	userID := models.UserID(c.Params("userID"))

	if err := core.DeactivateSubscription(c.Context(), s.sqlite, userID); err != nil {
		if errors.Is(err, core.ErrSubscriptionNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Subscription not found", models.NotFoundErrorType)
		}
		s.log.Error("failed to deactivate subscription", "user_id", userID, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to deactivate subscription", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"message": "Subscription deactivated"})
}
