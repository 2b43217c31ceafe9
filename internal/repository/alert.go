package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"medwatch-ingest/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertRepository 紧急报警仓库（报警记录与通知投递记录）
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{db: db, logger: logger}
}

// CreateAlert 写入新报警（ACTIVE）
func (r *AlertRepository) CreateAlert(ctx context.Context, alert *models.EmergencyAlert) error {
	triggerJSON := "{}"
	if alert.TriggerData != nil {
		b, err := json.Marshal(alert.TriggerData)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger data: %w", err)
		}
		triggerJSON = string(b)
	}

	locationJSON := sql.NullString{}
	if alert.Location != nil {
		b, err := json.Marshal(alert.Location)
		if err != nil {
			return fmt.Errorf("failed to marshal alert location: %w", err)
		}
		locationJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO emergency_alerts (id, patient_id, hospital_id, alert_type, priority, status,
			measurement_type, trigger_data, location, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		alert.ID, alert.PatientID, alert.HospitalID,
		string(alert.AlertType), string(alert.Priority), string(alert.Status),
		string(alert.Measurement), triggerJSON, locationJSON,
		alert.CreatedAt, alert.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	r.logger.Info("Emergency alert created",
		zap.String("alert_id", alert.ID),
		zap.String("patient_id", alert.PatientID),
		zap.String("alert_type", string(alert.AlertType)),
		zap.String("priority", string(alert.Priority)),
	)
	return nil
}

// TouchAlert 重复信号只更新 last_seen_at，不新建记录
func (r *AlertRepository) TouchAlert(ctx context.Context, alertID string, lastSeen time.Time) error {
	query := `
		UPDATE emergency_alerts
		SET last_seen_at = $2
		WHERE id = $1 AND status = 'ACTIVE'
	`
	_, err := r.db.ExecContext(ctx, query, alertID, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to touch alert: %w", err)
	}
	return nil
}

// AcknowledgeAlert 外部确认调用驱动 ACTIVE → PROCESSED
func (r *AlertRepository) AcknowledgeAlert(ctx context.Context, alertID string) (*models.EmergencyAlert, error) {
	query := `
		UPDATE emergency_alerts
		SET status = 'PROCESSED', processed_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING id, patient_id, hospital_id, alert_type, priority, status,
			COALESCE(measurement_type, ''), created_at, last_seen_at, processed_at
	`
	alert := &models.EmergencyAlert{}
	var processedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, alertID).Scan(
		&alert.ID, &alert.PatientID, &alert.HospitalID,
		&alert.AlertType, &alert.Priority, &alert.Status,
		&alert.Measurement, &alert.CreatedAt, &alert.LastSeenAt, &processedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if processedAt.Valid {
		alert.ProcessedAt = &processedAt.Time
	}

	r.logger.Info("Emergency alert acknowledged",
		zap.String("alert_id", alert.ID),
		zap.String("patient_id", alert.PatientID),
	)
	return alert, nil
}

// ListActive 查询全部 ACTIVE 报警
func (r *AlertRepository) ListActive(ctx context.Context) ([]models.EmergencyAlert, error) {
	query := `
		SELECT id, patient_id, hospital_id, alert_type, priority, status,
			COALESCE(measurement_type, ''), created_at, last_seen_at
		FROM emergency_alerts
		WHERE status = 'ACTIVE'
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.EmergencyAlert
	for rows.Next() {
		var a models.EmergencyAlert
		if err := rows.Scan(
			&a.ID, &a.PatientID, &a.HospitalID,
			&a.AlertType, &a.Priority, &a.Status,
			&a.Measurement, &a.CreatedAt, &a.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpsertAttempt 按 (alert_id, channel) 幂等记录通知投递状态
func (r *AlertRepository) UpsertAttempt(ctx context.Context, attempt *models.NotificationAttempt) error {
	query := `
		INSERT INTO notification_attempts (id, alert_id, channel, status, attempt_count, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (alert_id, channel) DO UPDATE
			SET status = EXCLUDED.status,
			    attempt_count = EXCLUDED.attempt_count,
			    last_error = EXCLUDED.last_error,
			    updated_at = NOW()
	`
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, query,
		attempt.ID, attempt.AlertID, attempt.Channel,
		string(attempt.Status), attempt.AttemptCount, attempt.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert notification attempt: %w", err)
	}
	return nil
}

// GetAttempt 查询 (alert_id, channel) 的投递记录
func (r *AlertRepository) GetAttempt(ctx context.Context, alertID, channel string) (*models.NotificationAttempt, error) {
	query := `
		SELECT id, alert_id, channel, status, attempt_count, COALESCE(last_error, ''), updated_at
		FROM notification_attempts
		WHERE alert_id = $1 AND channel = $2
	`
	a := &models.NotificationAttempt{}
	err := r.db.QueryRowContext(ctx, query, alertID, channel).Scan(
		&a.ID, &a.AlertID, &a.Channel, &a.Status, &a.AttemptCount, &a.LastError, &a.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query notification attempt: %w", err)
	}
	return a, nil
}
