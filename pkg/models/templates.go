package models

import "time"

// AlertTemplate is a reusable named message skeleton for one locale, with
// {{key}} placeholder interpolation. Templates are read-mostly and written
// through an upsert keyed by (name, locale).
type AlertTemplate struct {
	ID        TemplateID    `json:"id"`
	Name      string        `json:"name"`
	Locale    AlertLocale   `json:"locale"`
	Severity  AlertSeverity `json:"severity"`
	Channel   AlertChannel  `json:"channel"`
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
	IsActive  bool          `json:"is_active"`
	CreatedBy UserID        `json:"created_by,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// UpsertTemplateRequest creates or replaces a template for a (name, locale)
// pair.
type UpsertTemplateRequest struct {
	Name     string        `json:"name"`
	Locale   AlertLocale   `json:"locale,omitempty"`
	Severity AlertSeverity `json:"severity"`
	Channel  AlertChannel  `json:"channel,omitempty"`
	Subject  string        `json:"subject"`
	Body     string        `json:"body"`
}

// TemplateFilter narrows template listings.
type TemplateFilter struct {
	Severity AlertSeverity
	Locale   AlertLocale
	IsActive *bool
}

// ResolvedTemplate is a template after locale selection and variable
// interpolation, ready to seed an alert.
type ResolvedTemplate struct {
	Subject  string        `json:"subject"`
	Body     string        `json:"body"`
	Locale   AlertLocale   `json:"locale"`
	Severity AlertSeverity `json:"severity"`
	Channel  AlertChannel  `json:"channel"`
}
