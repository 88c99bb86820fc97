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
	// ErrAlertNotFound is returned when an alert cannot be located.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidAlert indicates the request payload failed validation.
	ErrInvalidAlert = errors.New("invalid alert")
	// ErrAlertNotCancellable is returned when a cancel request targets an
	// alert that already left draft or pending.
	ErrAlertNotCancellable = errors.New("alert can no longer be cancelled")
)

func sanitizeStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CreateAlert validates the request and stores a new draft alert. When the
// request names a template (by ID or by name), the template is resolved for
// the primary locale first and seeds any field the request leaves empty; the
// Spanish variant, when stored, seeds the body_es fallback.
func CreateAlert(ctx context.Context, db *sqlite.DB, req *models.CreateAlertRequest) (*models.Alert, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidAlert)
	}

	alert := &models.Alert{
		TemplateID: req.TemplateID,
		Severity:   req.Severity,
		Channel:    req.Channel,
		Title:      strings.TrimSpace(req.Title),
		Body:       req.Body,
		BodyES:     req.BodyES,
		Variables:  sanitizeStringMap(req.Variables),
		TargetArea: strings.TrimSpace(req.TargetArea),
		Status:     models.AlertStatusDraft,
	}

	templateName := strings.TrimSpace(req.TemplateName)
	if templateName == "" && req.TemplateID != "" {
		tmpl, err := templateByID(ctx, db, req.TemplateID)
		if err != nil {
			return nil, err
		}
		templateName = tmpl.Name
	}

	if templateName != "" {
		if err := seedFromTemplate(ctx, db, alert, templateName); err != nil {
			return nil, err
		}
	}

	if alert.Channel == "" {
		alert.Channel = models.AlertChannelBoth
	}
	if !alert.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidAlert, alert.Severity)
	}
	if !alert.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidAlert, alert.Channel)
	}
	if alert.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidAlert)
	}
	if strings.TrimSpace(alert.Body) == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidAlert)
	}

	if err := db.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	return alert, nil
}

// seedFromTemplate fills the empty fields of alert from the named template.
// The primary-locale body goes through variable interpolation; a Spanish
// variant, when present, does too and lands in BodyES.
func seedFromTemplate(ctx context.Context, db *sqlite.DB, alert *models.Alert, name string) error {
	resolved, err := ResolveTemplate(ctx, db, name, models.AlertLocaleEN, alert.Variables)
	if err != nil {
		return err
	}
	if alert.Title == "" {
		alert.Title = resolved.Subject
	}
	if strings.TrimSpace(alert.Body) == "" {
		alert.Body = resolved.Body
	}
	if alert.Severity == "" {
		alert.Severity = resolved.Severity
	}
	if alert.Channel == "" {
		alert.Channel = resolved.Channel
	}

	if alert.BodyES == "" {
		variant, err := ResolveTemplate(ctx, db, name, models.AlertLocaleES, alert.Variables)
		if err != nil && !errors.Is(err, ErrTemplateNotFound) {
			return err
		}
		if err == nil && variant.Locale == models.AlertLocaleES {
			alert.BodyES = variant.Body
		}
	}
	return nil
}

func templateByID(ctx context.Context, db *sqlite.DB, id models.TemplateID) (*models.AlertTemplate, error) {
	templates, err := db.ListTemplates(ctx, models.TemplateFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	for _, tmpl := range templates {
		if tmpl.ID == id {
			return tmpl, nil
		}
	}
	return nil, fmt.Errorf("%w: id %s", ErrTemplateNotFound, id)
}

// GetAlert returns a single alert by ID.
func GetAlert(ctx context.Context, db *sqlite.DB, alertID models.AlertID) (*models.Alert, error) {
	alert, err := db.GetAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts matching the filter, newest first.
func ListAlerts(ctx context.Context, db *sqlite.DB, filter models.ListAlertsFilter) ([]*models.Alert, error) {
	if filter.Status != "" && !filter.Status.Terminal() && filter.Status != models.AlertStatusDraft &&
		filter.Status != models.AlertStatusPending && filter.Status != models.AlertStatusDispatching {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidAlert, filter.Status)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidAlert, filter.Severity)
	}
	if filter.PageSize <= 0 {
		filter.PageSize = models.DefaultAlertPageSize
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	alerts, err := db.ListAlerts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// CancelAlert transitions a draft or pending alert to cancelled. Alerts that
// have begun dispatching or reached a terminal state are rejected.
func CancelAlert(ctx context.Context, db *sqlite.DB, alertID models.AlertID) (*models.Alert, error) {
	alert, err := db.CancelAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a missing alert from one in the wrong state.
			if _, getErr := db.GetAlert(ctx, alertID); getErr == nil {
				return nil, ErrAlertNotCancellable
			}
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to cancel alert: %w", err)
	}
	return alert, nil
}
