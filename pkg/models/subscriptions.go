package models

import "time"

// SubscriptionID uniquely identifies an alert subscription.
type SubscriptionID string

// AlertSubscription holds one recipient's alerting preferences. There is at
// most one active subscription per owning user (upsert semantics keyed by
// UserID).
type AlertSubscription struct {
	ID                SubscriptionID `json:"id"`
	UserID            UserID         `json:"user_id"`
	ExpoPushToken     string         `json:"expo_push_token,omitempty"`
	PhoneNumber       string         `json:"phone_number,omitempty"`
	PreferredLocale   AlertLocale    `json:"preferred_locale"`
	Channels          AlertChannel   `json:"channels"`
	SeverityThreshold AlertSeverity  `json:"severity_threshold"`
	IsActive          bool           `json:"is_active"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// PushTarget reports whether the subscription can currently receive push
// deliveries: it must want the channel and have a token on file.
func (s *AlertSubscription) PushTarget() bool {
	return s.Channels.IncludesPush() && s.ExpoPushToken != ""
}

// SMSTarget reports whether the subscription can currently receive SMS
// deliveries.
func (s *AlertSubscription) SMSTarget() bool {
	return s.Channels.IncludesSMS() && s.PhoneNumber != ""
}

// UpsertSubscriptionRequest creates or replaces the subscription for a user.
// Upserting always (re)activates the subscription.
type UpsertSubscriptionRequest struct {
	ExpoPushToken     string        `json:"expo_push_token,omitempty"`
	PhoneNumber       string        `json:"phone_number,omitempty"`
	PreferredLocale   AlertLocale   `json:"preferred_locale,omitempty"`
	Channels          AlertChannel  `json:"channels,omitempty"`
	SeverityThreshold AlertSeverity `json:"severity_threshold,omitempty"`
}

// SubscriptionFilter narrows active-subscription queries. Channel restricts
// to subscribers accepting that channel (or "both"); AlertSeverity keeps only
// subscribers whose threshold admits it.
type SubscriptionFilter struct {
	Channel       AlertChannel
	AlertSeverity AlertSeverity
}
