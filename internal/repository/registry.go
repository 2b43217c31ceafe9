package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// RegistryEntry 设备注册表条目（设备登记 + 归属患者/医院）
type RegistryEntry struct {
	DeviceID   string `json:"device_id" db:"device_id"`
	Identifier string `json:"identifier" db:"identifier"` // 子设备 MAC/IMEI
	PatientID  string `json:"patient_id" db:"patient_id"`
	HospitalID string `json:"hospital_id" db:"hospital_id"`
}

// FacilityDevice 机房设备注册表条目（按网关 MAC 登记，Family C 增强链）
type FacilityDevice struct {
	GatewayMAC string `json:"gateway_mac" db:"gateway_mac"`
	PatientID  string `json:"patient_id" db:"patient_id"`
	HospitalID string `json:"hospital_id" db:"hospital_id"`
}

// BoxEntry 机构级盒子注册表条目（按网关 MAC 登记）
type BoxEntry struct {
	GatewayMAC string `json:"gateway_mac" db:"gateway_mac"`
	PatientID  string `json:"patient_id" db:"patient_id"`
	HospitalID string `json:"hospital_id" db:"hospital_id"`
}

// DeviceRegistryRepository 设备注册表仓库（三类注册表的查找入口）
type DeviceRegistryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRegistryRepository 创建设备注册表仓库
func NewDeviceRegistryRepository(db *sql.DB, logger *zap.Logger) *DeviceRegistryRepository {
	return &DeviceRegistryRepository{db: db, logger: logger}
}

// FindByIdentifier 按子设备标识查注册表（解析链第二步，联到归属患者）
func (r *DeviceRegistryRepository) FindByIdentifier(ctx context.Context, identifier string) (*RegistryEntry, error) {
	query := `
		SELECT device_id, identifier, COALESCE(patient_id, ''), COALESCE(hospital_id, '')
		FROM device_registry
		WHERE identifier = $1
	`
	e := &RegistryEntry{}
	err := r.db.QueryRowContext(ctx, query, identifier).Scan(
		&e.DeviceID, &e.Identifier, &e.PatientID, &e.HospitalID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query device registry: %w", err)
	}
	return e, nil
}

// FindFacilityDeviceByGateway 按网关 MAC 查机房设备注册表
func (r *DeviceRegistryRepository) FindFacilityDeviceByGateway(ctx context.Context, gatewayMAC string) (*FacilityDevice, error) {
	query := `
		SELECT gateway_mac, COALESCE(patient_id, ''), COALESCE(hospital_id, '')
		FROM facility_devices
		WHERE gateway_mac = $1
	`
	e := &FacilityDevice{}
	err := r.db.QueryRowContext(ctx, query, gatewayMAC).Scan(
		&e.GatewayMAC, &e.PatientID, &e.HospitalID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query facility devices: %w", err)
	}
	return e, nil
}

// FindBoxByGateway 按网关 MAC 查机构级盒子注册表
func (r *DeviceRegistryRepository) FindBoxByGateway(ctx context.Context, gatewayMAC string) (*BoxEntry, error) {
	query := `
		SELECT gateway_mac, COALESCE(patient_id, ''), COALESCE(hospital_id, '')
		FROM org_boxes
		WHERE gateway_mac = $1
	`
	e := &BoxEntry{}
	err := r.db.QueryRowContext(ctx, query, gatewayMAC).Scan(
		&e.GatewayMAC, &e.PatientID, &e.HospitalID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query org boxes: %w", err)
	}
	return e, nil
}
