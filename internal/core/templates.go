package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rpral/alertd/internal/sqlite"
	"github.com/rpral/alertd/internal/template"
	"github.com/rpral/alertd/pkg/models"
)

var (
	// ErrTemplateNotFound is returned when no active template matches the
	// requested name in any supported locale.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrInvalidTemplate indicates the upsert payload failed validation.
	ErrInvalidTemplate = errors.New("invalid template")
)

// UpsertTemplate validates and stores a template, replacing any existing one
// for the same (name, locale) pair.
func UpsertTemplate(ctx context.Context, db *sqlite.DB, req *models.UpsertTemplateRequest, createdBy models.UserID) (*models.AlertTemplate, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidTemplate)
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if req.Locale == "" {
		req.Locale = models.AlertLocaleEN
	}
	if !req.Locale.Valid() {
		return nil, fmt.Errorf("%w: unsupported locale %q", ErrInvalidTemplate, req.Locale)
	}
	if !req.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidTemplate, req.Severity)
	}
	if req.Channel == "" {
		req.Channel = models.AlertChannelBoth
	}
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidTemplate, req.Channel)
	}
	if strings.TrimSpace(req.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidTemplate)
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidTemplate)
	}

	tmpl, err := db.UpsertTemplate(ctx, req, createdBy)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert template: %w", err)
	}
	return tmpl, nil
}

// ListTemplates returns templates matching the filter.
func ListTemplates(ctx context.Context, db *sqlite.DB, filter models.TemplateFilter) ([]*models.AlertTemplate, error) {
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidTemplate, filter.Severity)
	}
	if filter.Locale != "" && !filter.Locale.Valid() {
		return nil, fmt.Errorf("%w: unsupported locale %q", ErrInvalidTemplate, filter.Locale)
	}
	templates, err := db.ListTemplates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// ResolveTemplate loads the active template for a name and locale and
// interpolates the supplied variables into subject and body. A missing
// Spanish variant falls back to the English one; unknown placeholder keys are
// left verbatim.
func ResolveTemplate(ctx context.Context, db *sqlite.DB, name string, locale models.AlertLocale, vars map[string]string) (*models.ResolvedTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if locale == "" {
		locale = models.AlertLocaleEN
	}
	if !locale.Valid() {
		return nil, fmt.Errorf("%w: unsupported locale %q", ErrInvalidTemplate, locale)
	}

	tmpl, err := db.GetTemplate(ctx, name, locale)
	if errors.Is(err, sql.ErrNoRows) && locale != models.AlertLocaleEN {
		tmpl, err = db.GetTemplate(ctx, name, models.AlertLocaleEN)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return &models.ResolvedTemplate{
		Subject:  template.Interpolate(tmpl.Subject, vars),
		Body:     template.Interpolate(tmpl.Body, vars),
		Locale:   tmpl.Locale,
		Severity: tmpl.Severity,
		Channel:  tmpl.Channel,
	}, nil
}
