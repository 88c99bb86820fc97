package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpral/alertd/pkg/models"
)

const (
	insertDeliveryQuery = `INSERT INTO alert_deliveries (
    id,
    alert_id,
    subscription_id,
    channel,
    recipient_token,
    recipient_phone,
    status
) VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING created_at`

	selectDeliveryBase = `SELECT
    id,
    alert_id,
    subscription_id,
    channel,
    recipient_token,
    recipient_phone,
    status,
    expo_receipt_id,
    twilio_sid,
    error_message,
    sent_at,
    delivered_at,
    failed_at,
    receipt_checked_at,
    created_at
FROM alert_deliveries`

	updateDeliveryStatusQuery = `UPDATE alert_deliveries
SET status = ?,
    expo_receipt_id = COALESCE(?, expo_receipt_id),
    twilio_sid = COALESCE(?, twilio_sid),
    error_message = COALESCE(?, error_message),
    sent_at = COALESCE(?, sent_at),
    delivered_at = COALESCE(?, delivered_at),
    failed_at = COALESCE(?, failed_at),
    receipt_checked_at = COALESCE(?, receipt_checked_at)
WHERE id = ?`

	listPendingReceiptsQuery = `SELECT id, expo_receipt_id, subscription_id
FROM alert_deliveries
WHERE status = 'sent'
  AND channel = 'push'
  AND expo_receipt_id IS NOT NULL`

	deliveryStatsQuery = `SELECT status, COUNT(*)
FROM alert_deliveries
WHERE alert_id = ?
GROUP BY status`
)

// CreateDeliveries bulk-inserts one pending ledger row per requested
// (subscription, channel) pair, inside a single transaction so a dispatch
// either has its complete attempted-delivery ledger or none of it.
func (db *DB) CreateDeliveries(ctx context.Context, alertID models.AlertID, inputs []models.NewDelivery) ([]*models.AlertDelivery, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	tx, err := db.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin delivery transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertDeliveryQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare delivery insert: %w", err)
	}
	defer stmt.Close()

	deliveries := make([]*models.AlertDelivery, 0, len(inputs))
	for _, in := range inputs {
		id := models.DeliveryID(uuid.NewString())
		var createdAt time.Time
		row := stmt.QueryRowContext(ctx,
			string(id),
			string(alertID),
			string(in.SubscriptionID),
			string(in.Channel),
			nullableString(in.RecipientToken),
			nullableString(in.RecipientPhone),
			string(models.DeliveryStatusPending),
		)
		if err := row.Scan(&createdAt); err != nil {
			return nil, fmt.Errorf("failed to insert delivery row: %w", err)
		}
		deliveries = append(deliveries, &models.AlertDelivery{
			ID:             id,
			AlertID:        alertID,
			SubscriptionID: in.SubscriptionID,
			Channel:        in.Channel,
			RecipientToken: in.RecipientToken,
			RecipientPhone: in.RecipientPhone,
			Status:         models.DeliveryStatusPending,
			CreatedAt:      createdAt,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delivery rows: %w", err)
	}
	return deliveries, nil
}

// UpdateDeliveryStatus advances a delivery row to the given status, filling
// only the identifier/timestamp fields carried in meta. Nothing else on the
// row is ever mutated and rows are never deleted.
func (db *DB) UpdateDeliveryStatus(ctx context.Context, deliveryID models.DeliveryID, status models.DeliveryStatus, meta models.DeliveryStatusMeta) error {
	res, err := db.writeDB.ExecContext(ctx, updateDeliveryStatusQuery,
		string(status),
		nullableString(meta.ExpoReceiptID),
		nullableString(meta.TwilioSID),
		nullableString(meta.ErrorMessage),
		nullableTime(meta.SentAt),
		nullableTime(meta.DeliveredAt),
		nullableTime(meta.FailedAt),
		nullableTime(meta.ReceiptCheckedAt),
		string(deliveryID),
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery %s: %w", deliveryID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListPendingPushReceipts returns the receipt ids of all push deliveries the
// provider has accepted but not yet confirmed. Finalized rows are excluded by
// the status filter, which is what makes re-polling idempotent.
func (db *DB) ListPendingPushReceipts(ctx context.Context) ([]models.PendingReceipt, error) {
	rows, err := db.readDB.QueryContext(ctx, listPendingReceiptsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.PendingReceipt
	for rows.Next() {
		var (
			id             string
			receiptID      string
			subscriptionID string
		)
		if err := rows.Scan(&id, &receiptID, &subscriptionID); err != nil {
			return nil, fmt.Errorf("failed to scan pending receipt: %w", err)
		}
		receipts = append(receipts, models.PendingReceipt{
			DeliveryID:     models.DeliveryID(id),
			ExpoReceiptID:  receiptID,
			SubscriptionID: models.SubscriptionID(subscriptionID),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending receipts: %w", err)
	}
	return receipts, nil
}

// ListDeliveriesForAlert returns the delivery rows for one alert in creation
// order with offset pagination.
func (db *DB) ListDeliveriesForAlert(ctx context.Context, alertID models.AlertID, page, pageSize int) ([]*models.AlertDelivery, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = models.DefaultDeliveryPageSize
	}

	query := selectDeliveryBase + " WHERE alert_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?"
	rows, err := db.readDB.QueryContext(ctx, query, string(alertID), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.AlertDelivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}
	return deliveries, nil
}

// GetDeliveryStats aggregates per-status delivery counts for one alert.
func (db *DB) GetDeliveryStats(ctx context.Context, alertID models.AlertID) (*models.DeliveryStats, error) {
	rows, err := db.readDB.QueryContext(ctx, deliveryStatsQuery, string(alertID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch delivery stats: %w", err)
	}
	defer rows.Close()

	stats := &models.DeliveryStats{AlertID: alertID}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan delivery stats: %w", err)
		}
		stats.Total += count
		switch models.DeliveryStatus(status) {
		case models.DeliveryStatusPending:
			stats.Pending = count
		case models.DeliveryStatusSent:
			stats.Sent = count
		case models.DeliveryStatusDelivered:
			stats.Delivered = count
		case models.DeliveryStatusFailed:
			stats.Failed = count
		case models.DeliveryStatusError:
			stats.Error = count
		case models.DeliveryStatusNotRegistered:
			stats.NotRegistered = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery stats: %w", err)
	}
	return stats, nil
}

func scanDelivery(scanner interface{ Scan(dest ...any) error }) (*models.AlertDelivery, error) {
	var (
		id               string
		alertID          string
		subscriptionID   string
		channel          string
		recipientToken   sql.NullString
		recipientPhone   sql.NullString
		status           string
		expoReceiptID    sql.NullString
		twilioSID        sql.NullString
		errorMessage     sql.NullString
		sentAt           sql.NullTime
		deliveredAt      sql.NullTime
		failedAt         sql.NullTime
		receiptCheckedAt sql.NullTime
		createdAt        time.Time
	)
	if err := scanner.Scan(&id, &alertID, &subscriptionID, &channel, &recipientToken, &recipientPhone, &status, &expoReceiptID, &twilioSID, &errorMessage, &sentAt, &deliveredAt, &failedAt, &receiptCheckedAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan delivery: %w", err)
	}

	delivery := &models.AlertDelivery{
		ID:             models.DeliveryID(id),
		AlertID:        models.AlertID(alertID),
		SubscriptionID: models.SubscriptionID(subscriptionID),
		Channel:        models.DeliveryChannel(channel),
		RecipientToken: recipientToken.String,
		RecipientPhone: recipientPhone.String,
		Status:         models.DeliveryStatus(status),
		ExpoReceiptID:  expoReceiptID.String,
		TwilioSID:      twilioSID.String,
		ErrorMessage:   errorMessage.String,
		CreatedAt:      createdAt,
	}
	if sentAt.Valid {
		delivery.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		delivery.DeliveredAt = &deliveredAt.Time
	}
	if failedAt.Valid {
		delivery.FailedAt = &failedAt.Time
	}
	if receiptCheckedAt.Valid {
		delivery.ReceiptCheckedAt = &receiptCheckedAt.Time
	}
	return delivery, nil
}
