package server

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/rpral/alertd/pkg/models"
)

// handlePollReceipts runs one reconciliation pass. The endpoint exists so an
// external scheduler can control the polling cadence; it is guarded by a
// shared secret rather than user auth.
func (s *Server) handlePollReceipts(c *fiber.Ctx) error {
	secret := s.config.Reconciler.CronSecret
	if secret == "" {
		return SendErrorWithType(c, fiber.StatusServiceUnavailable, "Receipt polling is not configured", models.GeneralErrorType)
	}
	provided := c.Get("X-Cron-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		return SendErrorWithType(c, fiber.StatusUnauthorized, "Invalid cron secret", models.AuthErrorType)
	}

	result, err := s.reconciler.PollReceipts(c.Context())
	if err != nil {
		s.log.Error("receipt poll failed", "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Receipt poll failed", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, result)
}
