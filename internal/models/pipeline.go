package models

import (
	"time"
)

// ResolutionSource 解析来源（记录解析链命中的位置，用于审计）
type ResolutionSource string

const (
	// 患者解析来源
	SourceDirectField         ResolutionSource = "DIRECT_FIELD"         // 患者记录上的设备标识字段
	SourceRegistryLookup      ResolutionSource = "REGISTRY_LOOKUP"      // 设备注册表查找
	SourceOrgLevelLookup      ResolutionSource = "ORG_LEVEL_LOOKUP"     // 机构级盒子注册表查找
	SourceDefaultUnregistered ResolutionSource = "DEFAULT_UNREGISTERED" // 自动创建的未注册占位患者

	// 医院解析来源
	SourcePatientField    ResolutionSource = "PATIENT_FIELD"    // 患者记录上的医院字段
	SourceDefaultFacility ResolutionSource = "DEFAULT_FACILITY" // 配置的默认医院
)

// PatientLink 设备到患者的解析结果（随消息传递，不单独落库）
type PatientLink struct {
	DeviceRef string           `json:"device_ref"`
	PatientID string           `json:"patient_id"`
	Source    ResolutionSource `json:"resolution_source"`
}

// HospitalContext 医院解析结果
//
// OrganizationID/LocationID 由标准化阶段的幂等 ensure 操作回填。
type HospitalContext struct {
	HospitalID     string           `json:"hospital_id"`
	OrganizationID string           `json:"organization_resource_id,omitempty"`
	LocationID     string           `json:"location_resource_id,omitempty"`
	Source         ResolutionSource `json:"resolution_source"`
}

// StreamStage 管道阶段（用于实时事件流）
type StreamStage string

const (
	StageDecode          StreamStage = "decode"
	StageDecodeError     StreamStage = "decode_error"
	StageDeviceStatus    StreamStage = "device_status"
	StagePatientResolve  StreamStage = "patient_resolve"
	StageHospitalResolve StreamStage = "hospital_resolve"
	StageNormalize       StreamStage = "normalize"
	StageAlert           StreamStage = "alert"
	StageDispatch        StreamStage = "dispatch"
)

// StreamEvent 管道阶段事件（推送给仪表盘订阅者，保留在环形历史缓冲中）
type StreamEvent struct {
	Stage     StreamStage            `json:"stage"`
	Summary   map[string]interface{} `json:"summary"`
	Timestamp time.Time              `json:"timestamp"`
}
