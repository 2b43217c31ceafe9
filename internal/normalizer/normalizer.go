// Package normalizer 将规范化读数转换为版本化的临床资源
//
// 机构/位置资源按 hospital_id 幂等创建（并发首次使用不产生重复），
// 设备资源按 identifier 幂等登记，观测资源追加写入。
package normalizer

import (
	"context"
	"fmt"
	"sort"

	"medwatch-ingest/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResourceStore 临床资源写入端
type ResourceStore interface {
	EnsureOrganization(ctx context.Context, hospitalID, name string) (string, error)
	EnsureLocation(ctx context.Context, hospitalID, organizationID, name string) (string, error)
	UpsertDevice(ctx context.Context, identifier string, family models.DeviceFamily, organizationID string) (string, error)
	CreateObservation(ctx context.Context, obs *models.Observation) error
}

// Normalizer 资源标准化器
type Normalizer struct {
	resources ResourceStore
	logger    *zap.Logger
}

// NewNormalizer 创建标准化器
func NewNormalizer(resources ResourceStore, logger *zap.Logger) *Normalizer {
	return &Normalizer{resources: resources, logger: logger}
}

// Normalize 标准化一条读数
//
// 始终先确保机构/位置资源存在并回填 HospitalContext（Observation 的
// performer 不变量由此保证）；SOS/跌倒/纯位置读数不产生 Observation。
// 返回创建的 Observation（可能为 nil）。
func (n *Normalizer) Normalize(ctx context.Context, reading *models.MedicalReading, link models.PatientLink, hctx *models.HospitalContext) (*models.Observation, error) {
	orgID, err := n.resources.EnsureOrganization(ctx, hctx.HospitalID, "Hospital "+hctx.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("ensure organization: %w", err)
	}
	hctx.OrganizationID = orgID

	locID, err := n.resources.EnsureLocation(ctx, hctx.HospitalID, orgID, "Hospital "+hctx.HospitalID+" default location")
	if err != nil {
		return nil, fmt.Errorf("ensure location: %w", err)
	}
	hctx.LocationID = locID

	if _, err := n.resources.UpsertDevice(ctx, reading.DeviceRef, reading.DeviceFamily, orgID); err != nil {
		return nil, fmt.Errorf("upsert device resource: %w", err)
	}

	if !reading.IsObservable() {
		return nil, nil
	}

	code, ok := measurementCodes[reading.MeasurementType]
	if !ok {
		n.logger.Warn("No code mapping for measurement type, observation skipped",
			zap.String("measurement_type", string(reading.MeasurementType)),
			zap.String("device_ref", reading.DeviceRef),
		)
		return nil, nil
	}

	components := n.buildComponents(reading)
	if len(components) == 0 {
		n.logger.Warn("Reading carries no mappable values, observation skipped",
			zap.String("measurement_type", string(reading.MeasurementType)),
			zap.String("device_ref", reading.DeviceRef),
		)
		return nil, nil
	}

	obs := &models.Observation{
		ResourceID:     uuid.New().String(),
		PatientID:      link.PatientID,
		OrganizationID: orgID,
		LocationID:     locID,
		DeviceRef:      reading.DeviceRef,
		Code:           code.Code,
		Display:        code.Display,
		Components:     components,
		EffectiveAt:    reading.ObservedAt,
		Version:        1,
	}

	if err := n.resources.CreateObservation(ctx, obs); err != nil {
		return nil, fmt.Errorf("create observation: %w", err)
	}
	return obs, nil
}

// buildComponents 按固定编码表把读数值映射为观测分量
//
// 键序排序保证输出稳定；未映射的值键告警丢弃。
func (n *Normalizer) buildComponents(reading *models.MedicalReading) []models.ObservationComponent {
	keys := make([]string, 0, len(reading.Values))
	for key := range reading.Values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var components []models.ObservationComponent
	for _, key := range keys {
		if auxiliaryKeys[key] {
			continue
		}
		code, ok := valueCodes[key]
		if !ok {
			n.logger.Warn("Unmapped reading value dropped",
				zap.String("value_key", key),
				zap.String("measurement_type", string(reading.MeasurementType)),
				zap.String("device_ref", reading.DeviceRef),
			)
			continue
		}
		components = append(components, models.ObservationComponent{
			Code:    code.Code,
			Display: code.Display,
			Unit:    code.Unit,
			Value:   reading.Values[key],
		})
	}
	return components
}
