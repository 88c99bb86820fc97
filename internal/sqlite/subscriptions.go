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
	upsertSubscriptionQuery = `INSERT INTO alert_subscriptions (
    id,
    user_id,
    expo_push_token,
    phone_number,
    preferred_locale,
    channels,
    severity_threshold,
    is_active
) VALUES (?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT (user_id) DO UPDATE SET
    expo_push_token = excluded.expo_push_token,
    phone_number = excluded.phone_number,
    preferred_locale = excluded.preferred_locale,
    channels = excluded.channels,
    severity_threshold = excluded.severity_threshold,
    is_active = 1,
    updated_at = datetime('now')`

	selectSubscriptionBase = `SELECT
    id,
    user_id,
    expo_push_token,
    phone_number,
    preferred_locale,
    channels,
    severity_threshold,
    is_active,
    created_at,
    updated_at
FROM alert_subscriptions`

	deactivateSubscriptionQuery = `UPDATE alert_subscriptions
SET is_active = 0,
    updated_at = datetime('now')
WHERE user_id = ?`

	clearPushTokenQuery = `UPDATE alert_subscriptions
SET expo_push_token = NULL,
    updated_at = datetime('now')
WHERE id = ?`
)

// UpsertSubscription creates or replaces the subscription for a user, keyed
// by user id. Upserting always (re)activates the subscription.
func (db *DB) UpsertSubscription(ctx context.Context, userID models.UserID, req *models.UpsertSubscriptionRequest) (*models.AlertSubscription, error) {
	if req == nil {
		return nil, fmt.Errorf("subscription payload is required")
	}

	if _, err := db.writeDB.ExecContext(ctx, upsertSubscriptionQuery,
		uuid.NewString(),
		string(userID),
		nullableString(req.ExpoPushToken),
		nullableString(req.PhoneNumber),
		string(req.PreferredLocale),
		string(req.Channels),
		string(req.SeverityThreshold),
	); err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return db.GetSubscription(ctx, userID)
}

// GetSubscription fetches the subscription owned by a user. Returns
// sql.ErrNoRows when none exists.
func (db *DB) GetSubscription(ctx context.Context, userID models.UserID) (*models.AlertSubscription, error) {
	row := db.readDB.QueryRowContext(ctx, selectSubscriptionBase+" WHERE user_id = ?", string(userID))
	return scanSubscription(row)
}

// DeactivateSubscription sets is_active=false without erasing addressing, so
// delivery history stays intact.
func (db *DB) DeactivateSubscription(ctx context.Context, userID models.UserID) error {
	res, err := db.writeDB.ExecContext(ctx, deactivateSubscriptionQuery, string(userID))
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ClearPushToken nulls out a subscription's push address. Called by the
// receipt reconciler once the provider has confirmed the token is dead.
func (db *DB) ClearPushToken(ctx context.Context, subscriptionID models.SubscriptionID) error {
	if _, err := db.writeDB.ExecContext(ctx, clearPushTokenQuery, string(subscriptionID)); err != nil {
		return fmt.Errorf("failed to clear push token: %w", err)
	}
	return nil
}

// ListActiveSubscriptions returns all active subscriptions, optionally
// restricted to those accepting the given channel. Severity filtering is
// applied by the caller against the ordered severity scale; the store only
// pushes down the channel predicate.
func (db *DB) ListActiveSubscriptions(ctx context.Context, channel models.AlertChannel) ([]*models.AlertSubscription, error) {
	query := selectSubscriptionBase + " WHERE is_active = 1"
	var args []any
	if channel != "" && channel != models.AlertChannelBoth {
		query += " AND channels IN (?, 'both')"
		args = append(args, string(channel))
	}

	rows, err := db.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.AlertSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(scanner interface{ Scan(dest ...any) error }) (*models.AlertSubscription, error) {
	var (
		id                string
		userID            string
		expoPushToken     sql.NullString
		phoneNumber       sql.NullString
		preferredLocale   string
		channels          string
		severityThreshold string
		isActive          int64
		createdAt         time.Time
		updatedAt         time.Time
	)
	if err := scanner.Scan(&id, &userID, &expoPushToken, &phoneNumber, &preferredLocale, &channels, &severityThreshold, &isActive, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	return &models.AlertSubscription{
		ID:                models.SubscriptionID(id),
		UserID:            models.UserID(userID),
		ExpoPushToken:     expoPushToken.String,
		PhoneNumber:       phoneNumber.String,
		PreferredLocale:   models.AlertLocale(preferredLocale),
		Channels:          models.AlertChannel(channels),
		SeverityThreshold: models.AlertSeverity(severityThreshold),
		IsActive:          isActive == 1,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}
