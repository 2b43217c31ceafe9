package decoder

import (
	"encoding/json"
	"time"

	"medwatch-ingest/internal/models"
)

// Family C 主题（CM4 BLE 网关）
const (
	TopicCM4 = "CM4_BLE_GW_TX"
)

// CM4Decoder Family C 解码器
//
// 信封形状与 Family A 相同，但属性词汇表不同，且网关 MAC
// 参与下游的增强解析链（机房设备注册表 / 机构级盒子注册表）。
type CM4Decoder struct{}

// NewCM4Decoder 创建 Family C 解码器
func NewCM4Decoder() *CM4Decoder { return &CM4Decoder{} }

func (d *CM4Decoder) Family() models.DeviceFamily { return models.FamilyCM4 }

func (d *CM4Decoder) Topics() []string { return []string{TopicCM4} }

// Decode 解码 Family C 消息
func (d *CM4Decoder) Decode(topic string, payload []byte, receivedAt time.Time) (*Result, error) {
	var env gatewayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, newDecodeError(topic, "invalid JSON envelope", payload)
	}
	if env.Mac == "" {
		return nil, newDecodeError(topic, "missing gateway mac", payload)
	}

	switch env.Type {
	case "HB_Msg":
		return &Result{Status: &models.DeviceStatusEvent{
			DeviceFamily: models.FamilyCM4,
			DeviceRef:    env.Mac,
			Online:       true,
			ReportedAt:   receivedAt,
		}}, nil
	case "reportAttribute":
		// fallthrough below
	default:
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
		DeviceFamily: models.FamilyCM4,
		DeviceRef:    subMac,
		GatewayRef:   env.Mac,
		Values:       make(map[string]interface{}),
		ObservedAt:   receivedAt,
	}

	switch attribute {
	case "WBP_JUMPER":
		reading.MeasurementType = models.MeasurementBloodPressure
		putIfPresent(reading.Values, env.Data, "bp_high", "systolic")
		putIfPresent(reading.Values, env.Data, "bp_low", "diastolic")
		putIfPresent(reading.Values, env.Data, "pr", "pulse_rate")
	case "CONTOUR":
		reading.MeasurementType = models.MeasurementGlucose
		putIfPresent(reading.Values, env.Data, "blood_glucose", "glucose")
		if unit, ok := getString(env.Data, "unit"); ok {
			reading.Values["unit"] = unit
		}
		if mode, ok := getString(env.Data, "mode"); ok {
			reading.Values["meal_mode"] = mode
		}
	case "BodyScale_JUMPER":
		reading.MeasurementType = models.MeasurementWeight
		putIfPresent(reading.Values, env.Data, "weight", "weight")
		putIfPresent(reading.Values, env.Data, "impedance", "impedance")
	case "TEMO_Jumper":
		reading.MeasurementType = models.MeasurementTemperature
		putIfPresent(reading.Values, env.Data, "temp", "temperature")
	case "Oximeter_JUMPER":
		reading.MeasurementType = models.MeasurementOximetry
		putIfPresent(reading.Values, env.Data, "spo2", "spo2")
		putIfPresent(reading.Values, env.Data, "pr", "pulse_rate")
	default:
		return nil, newDecodeError(topic, "unknown attribute: "+attribute, payload)
	}

	return &Result{Readings: []models.MedicalReading{reading}}, nil
}
