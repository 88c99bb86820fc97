package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rpral/alertd/internal/sqlite"
	"github.com/rpral/alertd/pkg/models"
)

// ListDeliveries returns the delivery ledger rows for an alert in creation
// order, paged.
func ListDeliveries(ctx context.Context, db *sqlite.DB, alertID models.AlertID, page, pageSize int) ([]*models.AlertDelivery, error) {
	if _, err := GetAlert(ctx, db, alertID); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = models.DefaultDeliveryPageSize
	}
	if page <= 0 {
		page = 1
	}
	deliveries, err := db.ListDeliveriesForAlert(ctx, alertID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}

// GetDeliveryStats returns per-status delivery counts for an alert.
func GetDeliveryStats(ctx context.Context, db *sqlite.DB, alertID models.AlertID) (*models.DeliveryStats, error) {
	if _, err := GetAlert(ctx, db, alertID); err != nil {
		return nil, err
	}
	stats, err := db.GetDeliveryStats(ctx, alertID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.DeliveryStats{AlertID: alertID}, nil
		}
		return nil, fmt.Errorf("failed to get delivery stats: %w", err)
	}
	return stats, nil
}
