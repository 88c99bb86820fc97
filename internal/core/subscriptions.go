package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rpral/alertd/internal/sqlite"
	"github.com/rpral/alertd/pkg/models"
)

var (
	// ErrSubscriptionNotFound is returned when a user has no subscription on
	// record.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrInvalidSubscription indicates the upsert payload failed validation.
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// UpsertSubscription validates and stores a user's alerting preferences.
// There is at most one subscription per user; upserting an existing one
// replaces its preferences and reactivates it.
func UpsertSubscription(ctx context.Context, db *sqlite.DB, userID models.UserID, req *models.UpsertSubscriptionRequest) (*models.AlertSubscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidSubscription)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidSubscription)
	}

	req.ExpoPushToken = strings.TrimSpace(req.ExpoPushToken)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PreferredLocale == "" {
		req.PreferredLocale = models.AlertLocaleEN
	}
	if !req.PreferredLocale.Valid() {
		return nil, fmt.Errorf("%w: unsupported locale %q", ErrInvalidSubscription, req.PreferredLocale)
	}
	if req.Channels == "" {
		req.Channels = models.AlertChannelBoth
	}
	if !req.Channels.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidSubscription, req.Channels)
	}
	if req.SeverityThreshold == "" {
		req.SeverityThreshold = models.AlertSeverityInfo
	}
	if !req.SeverityThreshold.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidSubscription, req.SeverityThreshold)
	}
	if req.Channels.IncludesSMS() && req.PhoneNumber == "" && !req.Channels.IncludesPush() {
		return nil, fmt.Errorf("%w: sms channel requires a phone number", ErrInvalidSubscription)
	}

	sub, err := db.UpsertSubscription(ctx, userID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return sub, nil
}

// GetSubscription returns the subscription for a user, active or not.
func GetSubscription(ctx context.Context, db *sqlite.DB, userID models.UserID) (*models.AlertSubscription, error) {
	sub, err := db.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// DeactivateSubscription stops all future deliveries to a user without
// discarding their stored preferences.
func DeactivateSubscription(ctx context.Context, db *sqlite.DB, userID models.UserID) error {
	if err := db.DeactivateSubscription(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSubscriptionNotFound
		}
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return nil
}

// SubscriptionLister is the slice of the store eligibility selection reads.
// Both *sqlite.DB and the dispatcher's store satisfy it.
type SubscriptionLister interface {
	ListActiveSubscriptions(ctx context.Context, channel models.AlertChannel) ([]*models.AlertSubscription, error)
}

// EligibleSubscriptions returns the active subscriptions an alert should fan
// out to. The store narrows by channel overlap; the severity threshold is
// applied here so the ordering rule lives in one place.
func EligibleSubscriptions(ctx context.Context, store SubscriptionLister, filter models.SubscriptionFilter) ([]*models.AlertSubscription, error) {
	subs, err := store.ListActiveSubscriptions(ctx, filter.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	eligible := make([]*models.AlertSubscription, 0, len(subs))
	for _, sub := range subs {
		if filter.AlertSeverity != "" && !sub.SeverityThreshold.Admits(filter.AlertSeverity) {
			continue
		}
		eligible = append(eligible, sub)
	}
	return eligible, nil
}
