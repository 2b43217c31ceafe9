package resolver

import (
	"context"
	"errors"
	"fmt"

	"medwatch-ingest/internal/models"
	"medwatch-ingest/internal/repository"

	"go.uber.org/zap"
)

// hospitalStrategy 医院解析链的单个策略
type hospitalStrategy struct {
	source models.ResolutionSource
	lookup func(ctx context.Context, link models.PatientLink, gatewayRef string) (string, bool, error)
}

// HospitalResolver 医院解析器
//
// 从不返回空的 hospital_id：链走到底解析为配置的默认医院，这是
// 定义行为而不是错误。
type HospitalResolver struct {
	patients          PatientStore
	registry          RegistryStore
	defaultHospitalID string
	logger            *zap.Logger
	chains            map[models.DeviceFamily][]hospitalStrategy
}

// NewHospitalResolver 创建医院解析器
func NewHospitalResolver(
	patients PatientStore,
	registry RegistryStore,
	defaultHospitalID string,
	logger *zap.Logger,
) *HospitalResolver {
	r := &HospitalResolver{
		patients:          patients,
		registry:          registry,
		defaultHospitalID: defaultHospitalID,
		logger:            logger,
	}

	// 标准链：患者记录字段 → 患者关联的设备注册表条目
	standard := []hospitalStrategy{
		{models.SourcePatientField, r.byPatientRecord},
		{models.SourceRegistryLookup, r.byDeviceRegistry},
	}
	// 增强链（Family C）：患者记录字段 → 机房设备注册表 → 机构级盒子注册表
	enhanced := []hospitalStrategy{
		{models.SourcePatientField, r.byPatientRecord},
		{models.SourceRegistryLookup, r.byFacilityGateway},
		{models.SourceOrgLevelLookup, r.byOrgBox},
	}

	r.chains = map[models.DeviceFamily][]hospitalStrategy{
		models.FamilyESP32: standard,
		models.FamilyWatch: standard,
		models.FamilyCM4:   enhanced,
	}
	return r
}

// Resolve 解析患者归属医院
func (r *HospitalResolver) Resolve(ctx context.Context, family models.DeviceFamily, link models.PatientLink, gatewayRef string) (models.HospitalContext, error) {
	chain, ok := r.chains[family]
	if !ok {
		return models.HospitalContext{}, fmt.Errorf("no hospital resolution chain for family %s", family)
	}

	for _, strategy := range chain {
		hospitalID, found, err := strategy.lookup(ctx, link, gatewayRef)
		if err != nil {
			return models.HospitalContext{}, fmt.Errorf("hospital lookup (%s) failed: %w", strategy.source, err)
		}
		if found {
			return models.HospitalContext{
				HospitalID: hospitalID,
				Source:     strategy.source,
			}, nil
		}
	}

	return models.HospitalContext{
		HospitalID: r.defaultHospitalID,
		Source:     models.SourceDefaultFacility,
	}, nil
}

// byPatientRecord 患者记录上的医院字段
func (r *HospitalResolver) byPatientRecord(ctx context.Context, link models.PatientLink, _ string) (string, bool, error) {
	patient, err := r.patients.GetByID(ctx, link.PatientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if patient.HospitalID == "" {
		return "", false, nil
	}
	return patient.HospitalID, true, nil
}

// byDeviceRegistry 患者关联设备注册表条目上的医院字段
func (r *HospitalResolver) byDeviceRegistry(ctx context.Context, link models.PatientLink, _ string) (string, bool, error) {
	entry, err := r.registry.FindByIdentifier(ctx, link.DeviceRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if entry.HospitalID == "" {
		return "", false, nil
	}
	return entry.HospitalID, true, nil
}

// byFacilityGateway 机房设备注册表条目上的医院字段，按网关 MAC
func (r *HospitalResolver) byFacilityGateway(ctx context.Context, _ models.PatientLink, gatewayRef string) (string, bool, error) {
	if gatewayRef == "" {
		return "", false, nil
	}
	entry, err := r.registry.FindFacilityDeviceByGateway(ctx, gatewayRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if entry.HospitalID == "" {
		return "", false, nil
	}
	return entry.HospitalID, true, nil
}

// byOrgBox 机构级盒子注册表条目上的医院字段，按网关 MAC
func (r *HospitalResolver) byOrgBox(ctx context.Context, _ models.PatientLink, gatewayRef string) (string, bool, error) {
	if gatewayRef == "" {
		return "", false, nil
	}
	entry, err := r.registry.FindBoxByGateway(ctx, gatewayRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if entry.HospitalID == "" {
		return "", false, nil
	}
	return entry.HospitalID, true, nil
}
