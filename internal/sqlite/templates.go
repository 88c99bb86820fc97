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
	upsertTemplateQuery = `INSERT INTO alert_templates (
    id,
    name,
    locale,
    severity,
    channel,
    subject,
    body,
    is_active,
    created_by
) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
ON CONFLICT (name, locale) DO UPDATE SET
    severity = excluded.severity,
    channel = excluded.channel,
    subject = excluded.subject,
    body = excluded.body,
    is_active = 1,
    updated_at = datetime('now')`

	selectTemplateBase = `SELECT
    id,
    name,
    locale,
    severity,
    channel,
    subject,
    body,
    is_active,
    created_by,
    created_at,
    updated_at
FROM alert_templates`
)

// UpsertTemplate creates or replaces the template for a (name, locale) pair.
func (db *DB) UpsertTemplate(ctx context.Context, req *models.UpsertTemplateRequest, createdBy models.UserID) (*models.AlertTemplate, error) {
	if req == nil {
		return nil, fmt.Errorf("template payload is required")
	}

	if _, err := db.writeDB.ExecContext(ctx, upsertTemplateQuery,
		uuid.NewString(),
		req.Name,
		string(req.Locale),
		string(req.Severity),
		string(req.Channel),
		req.Subject,
		req.Body,
		nullableString(string(createdBy)),
	); err != nil {
		return nil, fmt.Errorf("failed to upsert template: %w", err)
	}

	return db.GetTemplate(ctx, req.Name, req.Locale)
}

// GetTemplate fetches the active template for a name and locale. Returns
// sql.ErrNoRows when absent.
func (db *DB) GetTemplate(ctx context.Context, name string, locale models.AlertLocale) (*models.AlertTemplate, error) {
	query := selectTemplateBase + " WHERE name = ? AND locale = ? AND is_active = 1"
	row := db.readDB.QueryRowContext(ctx, query, name, string(locale))
	return scanTemplate(row)
}

// ListTemplates returns templates ordered by name, optionally filtered.
func (db *DB) ListTemplates(ctx context.Context, filter models.TemplateFilter) ([]*models.AlertTemplate, error) {
	query := selectTemplateBase
	var args []any
	var where []string

	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Locale != "" {
		where = append(where, "locale = ?")
		args = append(args, string(filter.Locale))
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, boolToInt(*filter.IsActive))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY name, locale"

	rows, err := db.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.AlertTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}

func scanTemplate(scanner interface{ Scan(dest ...any) error }) (*models.AlertTemplate, error) {
	var (
		id        string
		name      string
		locale    string
		severity  string
		channel   string
		subject   string
		body      string
		isActive  int64
		createdBy sql.NullString
		createdAt time.Time
		updatedAt time.Time
	)
	if err := scanner.Scan(&id, &name, &locale, &severity, &channel, &subject, &body, &isActive, &createdBy, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return &models.AlertTemplate{
		ID:        models.TemplateID(id),
		Name:      name,
		Locale:    models.AlertLocale(locale),
		Severity:  models.AlertSeverity(severity),
		Channel:   models.AlertChannel(channel),
		Subject:   subject,
		Body:      body,
		IsActive:  isActive == 1,
		CreatedBy: models.UserID(createdBy.String),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}
