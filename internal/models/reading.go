package models

import (
	"time"
)

// DeviceFamily 设备家族（三类接入设备产品线）
type DeviceFamily string

const (
	FamilyESP32 DeviceFamily = "ESP32_GW"     // ESP32 BLE 网关 + 蓝牙医疗子设备
	FamilyWatch DeviceFamily = "IMEDE_WATCH"  // iMEDE 手表（IMEI 直连）
	FamilyCM4   DeviceFamily = "CM4_GW"       // CM4 BLE 网关 + 蓝牙医疗子设备
)

// MeasurementType 测量类型（跨设备家族的规范化枚举）
type MeasurementType string

const (
	MeasurementBloodPressure MeasurementType = "blood_pressure"
	MeasurementOximetry      MeasurementType = "pulse_oximetry"
	MeasurementGlucose       MeasurementType = "blood_glucose"
	MeasurementTemperature   MeasurementType = "body_temperature"
	MeasurementWeight        MeasurementType = "body_weight"
	MeasurementUricAcid      MeasurementType = "uric_acid"
	MeasurementCholesterol   MeasurementType = "cholesterol"
	MeasurementHeartRate     MeasurementType = "heart_rate"
	MeasurementVitalSigns    MeasurementType = "vital_signs"
	MeasurementStepCount     MeasurementType = "step_count"
	MeasurementSleep         MeasurementType = "sleep_summary"
	MeasurementLocation      MeasurementType = "location"
	MeasurementSOS           MeasurementType = "sos"
	MeasurementFall          MeasurementType = "fall_detection"
)

// RawMessage 原始 MQTT 消息（仅在管道内传递，不落库）
type RawMessage struct {
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// GeoLocation 地理位置（GPS 优先，WiFi/LBS 作为附加信息）
type GeoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed,omitempty"`
	Source    string  `json:"source,omitempty"` // GPS / WiFi / LBS
}

// MedicalReading 规范化读数（解码器输出，只创建一次，不可变）
//
// DeviceRef 是子设备自身标识（MAC 或 IMEI）；
// GatewayRef 是网关标识（仅网关类家族携带，CM4 解析链会用到）。
type MedicalReading struct {
	DeviceFamily    DeviceFamily           `json:"device_family"`
	DeviceRef       string                 `json:"device_ref"`
	GatewayRef      string                 `json:"gateway_ref,omitempty"`
	MeasurementType MeasurementType        `json:"measurement_type"`
	Values          map[string]interface{} `json:"values"`
	Location        *GeoLocation           `json:"location,omitempty"`
	ObservedAt      time.Time              `json:"observed_at"`
}

// DeviceStatusEvent 设备状态事件（心跳/上下线，不进入临床资源）
type DeviceStatusEvent struct {
	DeviceFamily DeviceFamily `json:"device_family"`
	DeviceRef    string       `json:"device_ref"`
	Online       bool         `json:"online"`
	Battery      *int         `json:"battery,omitempty"`
	Signal       *int         `json:"signal,omitempty"`
	Steps        *int         `json:"steps,omitempty"`
	ReportedAt   time.Time    `json:"reported_at"`
}

// IsEmergency 是否为紧急信号读数（SOS / 跌倒）
func (r *MedicalReading) IsEmergency() bool {
	return r.MeasurementType == MeasurementSOS || r.MeasurementType == MeasurementFall
}

// IsObservable 是否产生 Observation 资源
//
// SOS/跌倒/纯位置读数不携带生命体征值，不生成 Observation。
func (r *MedicalReading) IsObservable() bool {
	switch r.MeasurementType {
	case MeasurementSOS, MeasurementFall, MeasurementLocation:
		return false
	default:
		return true
	}
}
