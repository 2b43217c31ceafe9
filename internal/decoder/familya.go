package decoder

import (
	"encoding/json"
	"time"

	"medwatch-ingest/internal/models"
)

// Family A 主题（ESP32 BLE 网关）
const (
	TopicESP32Status = "ESP32_BLE_GW_TX"
	TopicDusunSub    = "dusun_sub"
	TopicDusunPub    = "dusun_pub"
)

// gatewayEnvelope 网关上报信封（Family A 与 Family C 共用外层形状）
type gatewayEnvelope struct {
	Mac  string                 `json:"mac"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// ESP32Decoder Family A 解码器
//
// ESP32 网关转发蓝牙医疗子设备的属性上报，信封带 reportAttribute
// 消息类型，data.attribute 区分子设备型号。子设备标识是 data.mac。
type ESP32Decoder struct{}

// NewESP32Decoder 创建 Family A 解码器
func NewESP32Decoder() *ESP32Decoder { return &ESP32Decoder{} }

func (d *ESP32Decoder) Family() models.DeviceFamily { return models.FamilyESP32 }

func (d *ESP32Decoder) Topics() []string {
	return []string{TopicESP32Status, TopicDusunSub, TopicDusunPub}
}

// Decode 解码 Family A 消息
func (d *ESP32Decoder) Decode(topic string, payload []byte, receivedAt time.Time) (*Result, error) {
	var env gatewayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, newDecodeError(topic, "invalid JSON envelope", payload)
	}
	if env.Mac == "" {
		return nil, newDecodeError(topic, "missing gateway mac", payload)
	}

	if topic == TopicESP32Status {
		// 网关心跳/上线消息
		return &Result{Status: &models.DeviceStatusEvent{
			DeviceFamily: models.FamilyESP32,
			DeviceRef:    env.Mac,
			Online:       true,
			ReportedAt:   receivedAt,
		}}, nil
	}

	if env.Type != "reportAttribute" {
		return nil, newDecodeError(topic, "unknown message type: "+env.Type, payload)
	}
	if env.Data == nil {
		return nil, newDecodeError(topic, "missing data object", payload)
	}

	attribute, _ := getString(env.Data, "attribute")
	subMac, _ := getString(env.Data, "mac")
	if subMac == "" {
		return nil, newDecodeError(topic, "missing sub-device mac", payload)
	}

	reading := models.MedicalReading{
		DeviceFamily: models.FamilyESP32,
		DeviceRef:    subMac,
		GatewayRef:   env.Mac,
		Values:       make(map[string]interface{}),
		ObservedAt:   receivedAt,
	}

	switch attribute {
	case "BP_BIOLIGTH":
		reading.MeasurementType = models.MeasurementBloodPressure
		putIfPresent(reading.Values, env.Data, "bp_high", "systolic")
		putIfPresent(reading.Values, env.Data, "bp_low", "diastolic")
		putIfPresent(reading.Values, env.Data, "PR", "pulse_rate")
	case "Oximeter JUMPER":
		reading.MeasurementType = models.MeasurementOximetry
		putIfPresent(reading.Values, env.Data, "spo2", "spo2")
		putIfPresent(reading.Values, env.Data, "pulse", "pulse_rate")
	case "Contour_Elite", "AccuChek_Instant":
		// 两个血糖仪子型号共用一个测量类型，型号记入值表
		reading.MeasurementType = models.MeasurementGlucose
		putIfPresent(reading.Values, env.Data, "blood glucose", "glucose")
		if unit, ok := getString(env.Data, "unit"); ok {
			reading.Values["unit"] = unit
		}
		if mode, ok := getString(env.Data, "mode"); ok {
			reading.Values["meal_mode"] = mode
		}
		reading.Values["model"] = attribute
	case "IR_TEMO_JUMPER":
		// 温度单位为摄氏度
		reading.MeasurementType = models.MeasurementTemperature
		putIfPresent(reading.Values, env.Data, "temp", "temperature")
		if mode, ok := getString(env.Data, "mode"); ok {
			reading.Values["mode"] = mode
		}
	case "BodyScale_JUMPER":
		// 重量单位为千克
		reading.MeasurementType = models.MeasurementWeight
		putIfPresent(reading.Values, env.Data, "weight", "weight")
		putIfPresent(reading.Values, env.Data, "resistance", "resistance")
	case "MGSS_REF_UA":
		reading.MeasurementType = models.MeasurementUricAcid
		putIfPresent(reading.Values, env.Data, "uric_acid", "uric_acid")
	case "MGSS_REF_CHOL":
		reading.MeasurementType = models.MeasurementCholesterol
		putIfPresent(reading.Values, env.Data, "cholesterol", "cholesterol")
	default:
		return nil, newDecodeError(topic, "unknown attribute: "+attribute, payload)
	}

	return &Result{Readings: []models.MedicalReading{reading}}, nil
}
