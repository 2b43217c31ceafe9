// Package resolver 实现设备到患者、患者到医院的多源解析链
//
// 每个设备家族一条有序回退链，链是数据（策略切片）而不是嵌套条件：
// 逐个尝试，第一个命中即停，命中位置记入 resolution_source 供审计。
// 链走到底不是错误：患者链以占位患者收尾，医院链以默认医院收尾。
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medwatch-ingest/internal/models"
	"medwatch-ingest/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// PatientStore 患者查找与占位创建
type PatientStore interface {
	GetByID(ctx context.Context, patientID string) (*repository.Patient, error)
	FindByDeviceRef(ctx context.Context, deviceRef string) (*repository.Patient, error)
	CreatePlaceholder(ctx context.Context, deviceRef string) (*repository.Patient, error)
}

// RegistryStore 三类设备注册表查找
type RegistryStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*repository.RegistryEntry, error)
	FindFacilityDeviceByGateway(ctx context.Context, gatewayMAC string) (*repository.FacilityDevice, error)
	FindBoxByGateway(ctx context.Context, gatewayMAC string) (*repository.BoxEntry, error)
}

// patientStrategy 患者解析链的单个策略
type patientStrategy struct {
	source models.ResolutionSource
	lookup func(ctx context.Context, deviceRef, gatewayRef string) (string, bool, error)
}

// PatientResolver 患者解析器
type PatientResolver struct {
	patients    PatientStore
	registry    RegistryStore
	redisClient *redis.Client
	window      time.Duration // 占位创建去重窗口
	logger      *zap.Logger
	chains      map[models.DeviceFamily][]patientStrategy
}

// NewPatientResolver 创建患者解析器
func NewPatientResolver(
	patients PatientStore,
	registry RegistryStore,
	redisClient *redis.Client,
	placeholderWindow time.Duration,
	logger *zap.Logger,
) *PatientResolver {
	r := &PatientResolver{
		patients:    patients,
		registry:    registry,
		redisClient: redisClient,
		window:      placeholderWindow,
		logger:      logger,
	}

	// 标准链：患者直连字段 → 设备注册表
	standard := []patientStrategy{
		{models.SourceDirectField, r.byPatientField},
		{models.SourceRegistryLookup, r.byDeviceRegistry},
	}
	// 增强链（Family C）：患者直连字段 → 机房设备注册表(网关MAC) → 机构级盒子注册表(网关MAC)
	enhanced := []patientStrategy{
		{models.SourceDirectField, r.byPatientField},
		{models.SourceRegistryLookup, r.byFacilityGateway},
		{models.SourceOrgLevelLookup, r.byOrgBox},
	}

	r.chains = map[models.DeviceFamily][]patientStrategy{
		models.FamilyESP32: standard,
		models.FamilyWatch: standard,
		models.FamilyCM4:   enhanced,
	}
	return r
}

// Resolve 解析设备标识到患者
//
// 链上的查找全部未命中时创建未注册占位患者（按 device_ref 幂等，
// 短窗口内重复消息不会重复创建）。
func (r *PatientResolver) Resolve(ctx context.Context, family models.DeviceFamily, deviceRef, gatewayRef string) (models.PatientLink, error) {
	chain, ok := r.chains[family]
	if !ok {
		return models.PatientLink{}, fmt.Errorf("no patient resolution chain for family %s", family)
	}

	for _, strategy := range chain {
		patientID, found, err := strategy.lookup(ctx, deviceRef, gatewayRef)
		if err != nil {
			return models.PatientLink{}, fmt.Errorf("patient lookup (%s) failed: %w", strategy.source, err)
		}
		if found {
			return models.PatientLink{
				DeviceRef: deviceRef,
				PatientID: patientID,
				Source:    strategy.source,
			}, nil
		}
	}

	patient, err := r.ensurePlaceholder(ctx, deviceRef)
	if err != nil {
		return models.PatientLink{}, err
	}
	return models.PatientLink{
		DeviceRef: deviceRef,
		PatientID: patient.PatientID,
		Source:    models.SourceDefaultUnregistered,
	}, nil
}

// byPatientField 患者记录上的设备标识字段
func (r *PatientResolver) byPatientField(ctx context.Context, deviceRef, _ string) (string, bool, error) {
	patient, err := r.patients.FindByDeviceRef(ctx, deviceRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return patient.PatientID, true, nil
}

// byDeviceRegistry 设备注册表联到归属患者
func (r *PatientResolver) byDeviceRegistry(ctx context.Context, deviceRef, _ string) (string, bool, error) {
	entry, err := r.registry.FindByIdentifier(ctx, deviceRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if entry.PatientID == "" {
		return "", false, nil
	}
	return entry.PatientID, true, nil
}

// byFacilityGateway 机房设备注册表，按网关 MAC
func (r *PatientResolver) byFacilityGateway(ctx context.Context, _, gatewayRef string) (string, bool, error) {
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
	if entry.PatientID == "" {
		return "", false, nil
	}
	return entry.PatientID, true, nil
}

// byOrgBox 机构级盒子注册表，按网关 MAC
func (r *PatientResolver) byOrgBox(ctx context.Context, _, gatewayRef string) (string, bool, error) {
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
	if entry.PatientID == "" {
		return "", false, nil
	}
	return entry.PatientID, true, nil
}

// ensurePlaceholder 创建占位患者，Redis SetNX 做短窗口去重
//
// 数据库 upsert 本身保证按 device_ref 幂等，窗口只是避免同一未注册
// 设备的高频消息反复走创建路径。Redis 不可用时直接走 upsert。
func (r *PatientResolver) ensurePlaceholder(ctx context.Context, deviceRef string) (*repository.Patient, error) {
	key := "placeholder:device:" + deviceRef

	acquired, err := r.redisClient.SetNX(ctx, key, "1", r.window).Result()
	if err != nil {
		r.logger.Warn("Placeholder dedup window unavailable, falling back to upsert",
			zap.String("device_ref", deviceRef),
			zap.Error(err),
		)
		acquired = true
	}

	if !acquired {
		// 窗口内已有创建者，读取已有占位患者
		patient, err := r.patients.FindByDeviceRef(ctx, deviceRef)
		if err == nil {
			return patient, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		// 创建者尚未落库，upsert 兜底
	}

	return r.patients.CreatePlaceholder(ctx, deviceRef)
}
