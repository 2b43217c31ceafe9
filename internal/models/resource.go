package models

import (
	"time"
)

// Organization 机构资源（对应 organizations 表，按 hospital_id 幂等创建）
type Organization struct {
	ResourceID string    `json:"resource_id" db:"resource_id"`
	HospitalID string    `json:"hospital_id" db:"hospital_id"`
	Name       string    `json:"name" db:"name"`
	Version    int       `json:"version" db:"version"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Location 位置资源（每个 hospital_id 一个默认位置，挂在机构下）
type Location struct {
	ResourceID     string    `json:"resource_id" db:"resource_id"`
	HospitalID     string    `json:"hospital_id" db:"hospital_id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Version        int       `json:"version" db:"version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DeviceResource 设备资源（identifier = device_ref，owner = 机构）
type DeviceResource struct {
	ResourceID     string       `json:"resource_id" db:"resource_id"`
	Identifier     string       `json:"identifier" db:"identifier"`
	DeviceFamily   DeviceFamily `json:"device_family" db:"device_family"`
	OrganizationID string       `json:"organization_id" db:"organization_id"`
	Version        int          `json:"version" db:"version"`
}

// ObservationComponent Observation 的单个分量（一个编码值对）
type ObservationComponent struct {
	Code    string      `json:"code"`
	Display string      `json:"display"`
	Unit    string      `json:"unit,omitempty"`
	Value   interface{} `json:"value"`
}

// Observation 观测资源（标准化输出）
//
// 不变量：PatientID（subject）与 OrganizationID（performer）非空；
// performer 至少回退到默认医院的机构，绝不为空。
type Observation struct {
	ResourceID     string                 `json:"resource_id" db:"resource_id"`
	PatientID      string                 `json:"patient_id" db:"patient_id"`
	OrganizationID string                 `json:"organization_id" db:"organization_id"`
	LocationID     string                 `json:"location_id" db:"location_id"`
	DeviceRef      string                 `json:"device_ref" db:"device_ref"`
	Code           string                 `json:"code" db:"code"`
	Display        string                 `json:"display" db:"display"`
	Components     []ObservationComponent `json:"components"`
	EffectiveAt    time.Time              `json:"effective_at" db:"effective_at"`
	Version        int                    `json:"version" db:"version"`
}
