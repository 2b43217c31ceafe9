package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"medwatch-ingest/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResourceRepository 临床资源仓库（机构/位置/设备/观测）
//
// 全部写入是追加或 upsert，资源从不删除。机构与位置按 hospital_id
// 唯一约束幂等创建：并发首次使用同一 hospital_id 时恰好创建一条，
// 身份字段（resource_id、hospital_id）一经写入不再变更。ensure 类
// 操作每条消息都会执行，冲突时做空操作更新，只为 RETURNING 已有
// resource_id，不改写已有行、不抬 version；设备归属机构可随消息
// 变化，last-writer-wins 并递增 version。
type ResourceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewResourceRepository 创建临床资源仓库
func NewResourceRepository(db *sql.DB, logger *zap.Logger) *ResourceRepository {
	return &ResourceRepository{db: db, logger: logger}
}

// EnsureOrganization 按 hospital_id 幂等确保机构资源存在，返回 resource_id
func (r *ResourceRepository) EnsureOrganization(ctx context.Context, hospitalID, name string) (string, error) {
	query := `
		INSERT INTO organizations (resource_id, hospital_id, name, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (hospital_id) DO UPDATE
			SET hospital_id = EXCLUDED.hospital_id
		RETURNING resource_id
	`
	var resourceID string
	err := r.db.QueryRowContext(ctx, query, uuid.New().String(), hospitalID, name).Scan(&resourceID)
	if err != nil {
		return "", fmt.Errorf("failed to ensure organization for hospital %s: %w", hospitalID, err)
	}
	return resourceID, nil
}

// EnsureLocation 按 hospital_id 幂等确保位置资源存在，返回 resource_id
func (r *ResourceRepository) EnsureLocation(ctx context.Context, hospitalID, organizationID, name string) (string, error) {
	query := `
		INSERT INTO locations (resource_id, hospital_id, organization_id, name, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
		ON CONFLICT (hospital_id) DO UPDATE
			SET hospital_id = EXCLUDED.hospital_id
		RETURNING resource_id
	`
	var resourceID string
	err := r.db.QueryRowContext(ctx, query, uuid.New().String(), hospitalID, organizationID, name).Scan(&resourceID)
	if err != nil {
		return "", fmt.Errorf("failed to ensure location for hospital %s: %w", hospitalID, err)
	}
	return resourceID, nil
}

// UpsertDevice 按 identifier 幂等登记设备资源（owner 指向机构）
func (r *ResourceRepository) UpsertDevice(ctx context.Context, identifier string, family models.DeviceFamily, organizationID string) (string, error) {
	query := `
		INSERT INTO device_resources (resource_id, identifier, device_family, organization_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
		ON CONFLICT (identifier) DO UPDATE
			SET organization_id = EXCLUDED.organization_id,
			    version = device_resources.version + 1,
			    updated_at = NOW()
		RETURNING resource_id
	`
	var resourceID string
	err := r.db.QueryRowContext(ctx, query, uuid.New().String(), identifier, string(family), organizationID).Scan(&resourceID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert device resource %s: %w", identifier, err)
	}
	return resourceID, nil
}

// CreateObservation 写入观测资源（追加，version 从 1 开始）
func (r *ResourceRepository) CreateObservation(ctx context.Context, obs *models.Observation) error {
	componentsJSON, err := json.Marshal(obs.Components)
	if err != nil {
		return fmt.Errorf("failed to marshal observation components: %w", err)
	}

	query := `
		INSERT INTO observations (resource_id, patient_id, organization_id, location_id, device_ref,
			code, display, components, effective_at, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`
	_, err = r.db.ExecContext(ctx, query,
		obs.ResourceID, obs.PatientID, obs.OrganizationID, obs.LocationID, obs.DeviceRef,
		obs.Code, obs.Display, string(componentsJSON), obs.EffectiveAt, obs.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create observation: %w", err)
	}

	r.logger.Debug("Observation created",
		zap.String("resource_id", obs.ResourceID),
		zap.String("patient_id", obs.PatientID),
		zap.String("code", obs.Code),
	)
	return nil
}
