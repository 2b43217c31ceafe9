package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"medwatch-ingest/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Patient 患者记录（对应 patients 表）
type Patient struct {
	PatientID    string     `json:"patient_id" db:"patient_id"`
	Name         string     `json:"name" db:"name"`
	DeviceRef    string     `json:"device_ref" db:"device_ref"` // 子设备 MAC/IMEI，直连字段
	HospitalID   string     `json:"hospital_id" db:"hospital_id"`
	Unregistered bool       `json:"unregistered" db:"unregistered"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// PatientRepository 患者仓库
type PatientRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPatientRepository 创建患者仓库
func NewPatientRepository(db *sql.DB, logger *zap.Logger) *PatientRepository {
	return &PatientRepository{db: db, logger: logger}
}

// GetByID 按患者ID查询
func (r *PatientRepository) GetByID(ctx context.Context, patientID string) (*Patient, error) {
	query := `
		SELECT patient_id, name, COALESCE(device_ref, ''), COALESCE(hospital_id, ''), unregistered, created_at, updated_at
		FROM patients
		WHERE patient_id = $1
	`
	return r.scanOne(ctx, query, patientID)
}

// FindByDeviceRef 按患者记录上的设备标识字段查询（解析链第一步）
func (r *PatientRepository) FindByDeviceRef(ctx context.Context, deviceRef string) (*Patient, error) {
	query := `
		SELECT patient_id, name, COALESCE(device_ref, ''), COALESCE(hospital_id, ''), unregistered, created_at, updated_at
		FROM patients
		WHERE device_ref = $1
	`
	return r.scanOne(ctx, query, deviceRef)
}

// CreatePlaceholder 创建未注册占位患者（按 device_ref 幂等）
//
// 并发首次使用同一 device_ref 时依赖唯一约束 + upsert，
// 不做先读后写。已存在时返回已有记录。
func (r *PatientRepository) CreatePlaceholder(ctx context.Context, deviceRef string) (*Patient, error) {
	query := `
		INSERT INTO patients (patient_id, name, device_ref, unregistered, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		ON CONFLICT (device_ref) DO UPDATE SET updated_at = NOW()
		RETURNING patient_id, name, COALESCE(device_ref, ''), COALESCE(hospital_id, ''), unregistered, created_at, updated_at
	`
	name := "Unregistered " + deviceRef

	p := &Patient{}
	err := r.db.QueryRowContext(ctx, query, uuid.New().String(), name, deviceRef).Scan(
		&p.PatientID, &p.Name, &p.DeviceRef, &p.HospitalID, &p.Unregistered, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create placeholder patient: %w", err)
	}

	r.logger.Info("Placeholder patient ensured",
		zap.String("patient_id", p.PatientID),
		zap.String("device_ref", deviceRef),
	)
	return p, nil
}

// PatientThresholds 查询患者级报警阈值覆盖（patient_thresholds 表）
//
// 上下界可分别缺省（NULL），无覆盖的患者返回空表。
func (r *PatientRepository) PatientThresholds(ctx context.Context, patientID string) (map[string]*config.Threshold, error) {
	query := `
		SELECT value_key, min_value, max_value, critical_band
		FROM patient_thresholds
		WHERE patient_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query patient thresholds: %w", err)
	}
	defer rows.Close()

	thresholds := make(map[string]*config.Threshold)
	for rows.Next() {
		var (
			key      string
			min, max sql.NullFloat64
			band     float64
		)
		if err := rows.Scan(&key, &min, &max, &band); err != nil {
			return nil, fmt.Errorf("failed to scan patient threshold: %w", err)
		}
		th := &config.Threshold{CriticalBand: band}
		if min.Valid {
			v := min.Float64
			th.Min = &v
		}
		if max.Valid {
			v := max.Float64
			th.Max = &v
		}
		thresholds[key] = th
	}
	return thresholds, rows.Err()
}

func (r *PatientRepository) scanOne(ctx context.Context, query string, arg interface{}) (*Patient, error) {
	p := &Patient{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&p.PatientID, &p.Name, &p.DeviceRef, &p.HospitalID, &p.Unregistered, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query patient: %w", err)
	}
	return p, nil
}
