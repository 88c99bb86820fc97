package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpral/alertd/pkg/models"
)

const (
	insertAlertQuery = `INSERT INTO alerts (
    id,
    template_id,
    severity,
    channel,
    title,
    body,
    body_es,
    variables,
    target_area,
    status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING created_at, updated_at`

	selectAlertBase = `SELECT
    id,
    template_id,
    severity,
    channel,
    title,
    body,
    body_es,
    variables,
    target_area,
    status,
    dispatched_by,
    dispatched_at,
    cancelled_at,
    created_at,
    updated_at
FROM alerts`

	updateAlertStatusQuery = `UPDATE alerts
SET status = ?,
    updated_at = datetime('now')
WHERE id = ?`

	updateAlertStatusDispatchedQuery = `UPDATE alerts
SET status = ?,
    dispatched_by = ?,
    dispatched_at = datetime('now'),
    updated_at = datetime('now')
WHERE id = ?`

	cancelAlertQuery = `UPDATE alerts
SET status = 'cancelled',
    cancelled_at = datetime('now'),
    updated_at = datetime('now')
WHERE id = ? AND status IN ('draft', 'pending')`
)

// CreateAlert inserts a new alert in draft status and fills in the generated
// identity and timestamps.
func (db *DB) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert payload is required")
	}

	variablesJSON, err := json.Marshal(alert.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal alert variables: %w", err)
	}

	id := models.AlertID(uuid.NewString())
	row := db.writeDB.QueryRowContext(ctx, insertAlertQuery,
		string(id),
		nullableString(string(alert.TemplateID)),
		string(alert.Severity),
		string(alert.Channel),
		alert.Title,
		alert.Body,
		nullableString(alert.BodyES),
		string(variablesJSON),
		nullableString(alert.TargetArea),
		string(models.AlertStatusDraft),
	)

	var createdAt, updatedAt time.Time
	if err := row.Scan(&createdAt, &updatedAt); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	alert.ID = id
	alert.Status = models.AlertStatusDraft
	alert.CreatedAt = createdAt
	alert.UpdatedAt = updatedAt
	return nil
}

// GetAlert retrieves an alert by its identifier. Returns sql.ErrNoRows when
// absent.
func (db *DB) GetAlert(ctx context.Context, alertID models.AlertID) (*models.Alert, error) {
	row := db.readDB.QueryRowContext(ctx, selectAlertBase+" WHERE id = ?", string(alertID))
	return scanAlert(row)
}

// ListAlerts returns alerts newest-first with optional status/severity
// filters and offset pagination.
func (db *DB) ListAlerts(ctx context.Context, filter models.ListAlertsFilter) ([]*models.Alert, error) {
	query := selectAlertBase
	var args []any
	var where []string

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = models.DefaultAlertPageSize
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := db.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

// SetAlertStatus updates the alert status. Transitions into dispatching or
// sent additionally stamp dispatched_by/dispatched_at. Returns the updated
// alert.
func (db *DB) SetAlertStatus(ctx context.Context, alertID models.AlertID, status models.AlertStatus, actorID models.UserID) (*models.Alert, error) {
	var (
		res sql.Result
		err error
	)
	if status == models.AlertStatusDispatching || status == models.AlertStatusSent {
		res, err = db.writeDB.ExecContext(ctx, updateAlertStatusDispatchedQuery, string(status), nullableString(string(actorID)), string(alertID))
	} else {
		res, err = db.writeDB.ExecContext(ctx, updateAlertStatusQuery, string(status), string(alertID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update alert status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, sql.ErrNoRows
	}
	return db.GetAlert(ctx, alertID)
}

// CancelAlert marks the alert cancelled only while it is still in draft or
// pending. Returns sql.ErrNoRows when the alert was not in a cancellable
// status (or does not exist); the status is left untouched in that case.
func (db *DB) CancelAlert(ctx context.Context, alertID models.AlertID) (*models.Alert, error) {
	res, err := db.writeDB.ExecContext(ctx, cancelAlertQuery, string(alertID))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel alert: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, sql.ErrNoRows
	}
	return db.GetAlert(ctx, alertID)
}

func scanAlert(scanner interface{ Scan(dest ...any) error }) (*models.Alert, error) {
	var (
		id            string
		templateID    sql.NullString
		severity      string
		channel       string
		title         string
		body          string
		bodyES        sql.NullString
		variablesJSON sql.NullString
		targetArea    sql.NullString
		status        string
		dispatchedBy  sql.NullString
		dispatchedAt  sql.NullTime
		cancelledAt   sql.NullTime
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := scanner.Scan(&id, &templateID, &severity, &channel, &title, &body, &bodyES, &variablesJSON, &targetArea, &status, &dispatchedBy, &dispatchedAt, &cancelledAt, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	var variables map[string]string
	if variablesJSON.Valid && variablesJSON.String != "" {
		if err := json.Unmarshal([]byte(variablesJSON.String), &variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert variables: %w", err)
		}
	}

	alert := &models.Alert{
		ID:           models.AlertID(id),
		TemplateID:   models.TemplateID(templateID.String),
		Severity:     models.AlertSeverity(severity),
		Channel:      models.AlertChannel(channel),
		Title:        title,
		Body:         body,
		BodyES:       bodyES.String,
		Variables:    variables,
		TargetArea:   targetArea.String,
		Status:       models.AlertStatus(status),
		DispatchedBy: models.UserID(dispatchedBy.String),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if dispatchedAt.Valid {
		alert.DispatchedAt = &dispatchedAt.Time
	}
	if cancelledAt.Valid {
		alert.CancelledAt = &cancelledAt.Time
	}
	return alert, nil
}
