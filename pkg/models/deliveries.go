package models

import "time"

// DeliveryID uniquely identifies a delivery attempt.
type DeliveryID string

// DeliveryChannel is the concrete channel of one delivery row. Unlike
// AlertChannel it never holds "both"; a subscriber wanting both channels gets
// two rows.
type DeliveryChannel string

const (
	DeliveryChannelPush DeliveryChannel = "push"
	DeliveryChannelSMS  DeliveryChannel = "sms"
)

// DeliveryStatus is the per-row delivery lifecycle.
// Push path: pending -> sent -> delivered|error|not_registered (terminal
// states reached via the receipt reconciler). SMS path: pending ->
// sent|failed|error, terminal on first write. Rows never regress.
type DeliveryStatus string

const (
	DeliveryStatusPending       DeliveryStatus = "pending"
	DeliveryStatusSent          DeliveryStatus = "sent"
	DeliveryStatusDelivered     DeliveryStatus = "delivered"
	DeliveryStatusFailed        DeliveryStatus = "failed"
	DeliveryStatusError         DeliveryStatus = "error"
	DeliveryStatusNotRegistered DeliveryStatus = "not_registered"
)

// AlertDelivery is one attempted send of one alert to one recipient over one
// channel. Rows are the permanent audit trail of a dispatch: they are never
// deleted, and only status plus the fields tied to that status transition are
// ever updated. Recipient addressing is a snapshot captured at send time, not
// a live join against the subscription.
type AlertDelivery struct {
	ID               DeliveryID      `json:"id"`
	AlertID          AlertID         `json:"alert_id"`
	SubscriptionID   SubscriptionID  `json:"subscription_id"`
	Channel          DeliveryChannel `json:"channel"`
	RecipientToken   string          `json:"recipient_token,omitempty"`
	RecipientPhone   string          `json:"recipient_phone,omitempty"`
	Status           DeliveryStatus  `json:"status"`
	ExpoReceiptID    string          `json:"expo_receipt_id,omitempty"`
	TwilioSID        string          `json:"twilio_sid,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	SentAt           *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
	FailedAt         *time.Time      `json:"failed_at,omitempty"`
	ReceiptCheckedAt *time.Time      `json:"receipt_checked_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewDelivery describes one (subscription, channel) pair the dispatcher wants
// a ledger row for before any send is attempted.
type NewDelivery struct {
	SubscriptionID SubscriptionID
	Channel        DeliveryChannel
	RecipientToken string
	RecipientPhone string
}

// DeliveryStatusMeta carries the fields that accompany a status transition.
// Zero-valued fields are left untouched in the store.
type DeliveryStatusMeta struct {
	ExpoReceiptID    string
	TwilioSID        string
	ErrorMessage     string
	SentAt           *time.Time
	DeliveredAt      *time.Time
	FailedAt         *time.Time
	ReceiptCheckedAt *time.Time
}

// PendingReceipt is the slice of a delivery row the reconciler needs to poll
// the push provider.
type PendingReceipt struct {
	DeliveryID     DeliveryID
	ExpoReceiptID  string
	SubscriptionID SubscriptionID
}

// DeliveryStats aggregates per-status delivery counts for one alert, as shown
// on the ops dashboard.
type DeliveryStats struct {
	AlertID       AlertID `json:"alert_id"`
	Total         int     `json:"total"`
	Pending       int     `json:"pending"`
	Sent          int     `json:"sent"`
	Delivered     int     `json:"delivered"`
	Failed        int     `json:"failed"`
	Error         int     `json:"error"`
	NotRegistered int     `json:"not_registered"`
}

// DefaultDeliveryPageSize is used when a delivery listing does not specify a
// page size.
const DefaultDeliveryPageSize = 50
