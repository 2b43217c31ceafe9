package models

import (
	"time"
)

// AlertType 报警类型
type AlertType string

const (
	AlertSOS   AlertType = "SOS"
	AlertFall  AlertType = "FALL"
	AlertOther AlertType = "OTHER" // 阈值越界
)

// AlertPriority 报警优先级
type AlertPriority string

const (
	PriorityCritical AlertPriority = "CRITICAL"
	PriorityHigh     AlertPriority = "HIGH"
	PriorityMedium   AlertPriority = "MEDIUM"
	PriorityLow      AlertPriority = "LOW"
)

// AlertStatus 报警状态
//
// 状态机：ACTIVE → PROCESSED，PROCESSED 只能由外部确认调用触发，
// 报警记录只追加、不删除。
type AlertStatus string

const (
	AlertActive    AlertStatus = "ACTIVE"
	AlertProcessed AlertStatus = "PROCESSED"
)

// EmergencyAlert 紧急报警记录（对应 emergency_alerts 表）
type EmergencyAlert struct {
	ID          string                 `json:"id" db:"id"`
	PatientID   string                 `json:"patient_id" db:"patient_id"`
	HospitalID  string                 `json:"hospital_id" db:"hospital_id"`
	AlertType   AlertType              `json:"alert_type" db:"alert_type"`
	Priority    AlertPriority          `json:"priority" db:"priority"`
	Status      AlertStatus            `json:"status" db:"status"`
	Measurement MeasurementType        `json:"measurement_type,omitempty" db:"measurement_type"`
	TriggerData map[string]interface{} `json:"trigger_data,omitempty"`
	Location    *GeoLocation           `json:"location,omitempty"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	LastSeenAt  time.Time              `json:"last_seen_at" db:"last_seen_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty" db:"processed_at"`
}

// NotificationStatus 通知投递状态
type NotificationStatus string

const (
	NotificationSent     NotificationStatus = "SENT"
	NotificationFailed   NotificationStatus = "FAILED"
	NotificationRetrying NotificationStatus = "RETRYING"
)

// NotificationAttempt 通知投递记录（每个 (alert, channel) 一条，独立重试）
type NotificationAttempt struct {
	ID           string             `json:"id" db:"id"`
	AlertID      string             `json:"alert_id" db:"alert_id"`
	Channel      string             `json:"channel" db:"channel"`
	Status       NotificationStatus `json:"status" db:"status"`
	AttemptCount int                `json:"attempt_count" db:"attempt_count"`
	LastError    string             `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt    time.Time          `json:"updated_at" db:"updated_at"`
}
