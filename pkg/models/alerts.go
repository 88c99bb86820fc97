package models

import "time"

// AlertSeverity grades how urgent a broadcast is. Severities are ordered:
// info < warning < critical.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// severityRank maps each severity onto the ordered scale. The ordering lives
// in application code rather than the store so it works identically across
// backends.
var severityRank = map[AlertSeverity]int{
	AlertSeverityInfo:     0,
	AlertSeverityWarning:  1,
	AlertSeverityCritical: 2,
}

// Rank returns the position of the severity on the ordered scale, or -1 for
// unknown values.
func (s AlertSeverity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether the severity is one of the known values.
func (s AlertSeverity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Admits reports whether a subscription with this severity threshold should
// receive an alert of the given severity.
func (s AlertSeverity) Admits(alertSeverity AlertSeverity) bool {
	return s.Rank() >= 0 && alertSeverity.Rank() >= 0 && s.Rank() <= alertSeverity.Rank()
}

// AlertChannel describes which delivery channels an alert (or a subscriber)
// uses.
type AlertChannel string

const (
	AlertChannelPush AlertChannel = "push"
	AlertChannelSMS  AlertChannel = "sms"
	AlertChannelBoth AlertChannel = "both"
)

// Valid reports whether the channel is one of the known values.
func (c AlertChannel) Valid() bool {
	switch c {
	case AlertChannelPush, AlertChannelSMS, AlertChannelBoth:
		return true
	}
	return false
}

// IncludesPush reports whether the channel covers push notifications.
func (c AlertChannel) IncludesPush() bool {
	return c == AlertChannelPush || c == AlertChannelBoth
}

// IncludesSMS reports whether the channel covers SMS.
func (c AlertChannel) IncludesSMS() bool {
	return c == AlertChannelSMS || c == AlertChannelBoth
}

// Intersects reports whether two channel selections share at least one
// concrete channel.
func (c AlertChannel) Intersects(other AlertChannel) bool {
	return (c.IncludesPush() && other.IncludesPush()) || (c.IncludesSMS() && other.IncludesSMS())
}

// AlertStatus captures the lifecycle state of an alert.
// draft -> dispatching -> sent|failed; draft|pending -> cancelled.
type AlertStatus string

const (
	AlertStatusDraft       AlertStatus = "draft"
	AlertStatusPending     AlertStatus = "pending"
	AlertStatusDispatching AlertStatus = "dispatching"
	AlertStatusSent        AlertStatus = "sent"
	AlertStatusFailed      AlertStatus = "failed"
	AlertStatusCancelled   AlertStatus = "cancelled"
)

// Terminal reports whether no further transitions may leave this status.
func (s AlertStatus) Terminal() bool {
	switch s {
	case AlertStatusSent, AlertStatusFailed, AlertStatusCancelled:
		return true
	}
	return false
}

// Dispatchable reports whether an alert in this status may be handed to the
// dispatcher. The caller is expected to check this before invoking dispatch;
// the dispatcher itself does not serialize concurrent dispatches of the same
// alert.
func (s AlertStatus) Dispatchable() bool {
	return s == AlertStatusDraft || s == AlertStatusPending
}

// AlertLocale identifies the language of an alert body or a subscriber
// preference.
type AlertLocale string

const (
	AlertLocaleEN AlertLocale = "en"
	AlertLocaleES AlertLocale = "es"
)

// Valid reports whether the locale is one of the supported values.
func (l AlertLocale) Valid() bool {
	return l == AlertLocaleEN || l == AlertLocaleES
}

// AlertID uniquely identifies an alert.
type AlertID string

// TemplateID uniquely identifies an alert template.
type TemplateID string

// UserID identifies the owning identity of a subscription or the staff member
// dispatching an alert.
type UserID string

// Alert is one broadcast emergency message, independent of how many
// recipients it reaches.
type Alert struct {
	ID           AlertID           `json:"id"`
	TemplateID   TemplateID        `json:"template_id,omitempty"`
	Severity     AlertSeverity     `json:"severity"`
	Channel      AlertChannel      `json:"channel"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	BodyES       string            `json:"body_es,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	TargetArea   string            `json:"target_area,omitempty"`
	Status       AlertStatus       `json:"status"`
	DispatchedBy UserID            `json:"dispatched_by,omitempty"`
	DispatchedAt *time.Time        `json:"dispatched_at,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// LocalizedBody returns the body for the requested locale, falling back to
// the primary-language body when no variant exists.
func (a *Alert) LocalizedBody(locale AlertLocale) string {
	if locale == AlertLocaleES && a.BodyES != "" {
		return a.BodyES
	}
	return a.Body
}

// CreateAlertRequest defines the payload required to create a new alert.
// Alerts always start in draft.
type CreateAlertRequest struct {
	TemplateID   TemplateID        `json:"template_id,omitempty"`
	TemplateName string            `json:"template_name,omitempty"`
	Severity     AlertSeverity     `json:"severity"`
	Channel      AlertChannel      `json:"channel"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	BodyES       string            `json:"body_es,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	TargetArea   string            `json:"target_area,omitempty"`
}

// ListAlertsFilter narrows and paginates alert listings. Results are always
// newest-first.
type ListAlertsFilter struct {
	Status   AlertStatus
	Severity AlertSeverity
	Page     int
	PageSize int
}

// DefaultAlertPageSize is used when a listing request does not specify one.
const DefaultAlertPageSize = 20
