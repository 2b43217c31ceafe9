package decoder

import (
	"encoding/json"
	"time"

	"medwatch-ingest/internal/models"
)

// Family B 主题（iMEDE 手表，每个主题一个扁平 schema，按 IMEI 标识）
const (
	TopicWatchHeartbeat = "iMEDE_watch/hb"
	TopicWatchVitalSign = "iMEDE_watch/VitalSign"
	TopicWatchBatch     = "iMEDE_watch/AP55"
	TopicWatchLocation  = "iMEDE_watch/location"
	TopicWatchSleep     = "iMEDE_watch/sleepdata"
	TopicWatchSOS       = "iMEDE_watch/sos"
	TopicWatchFall      = "iMEDE_watch/fallDown"
	TopicWatchOnline    = "iMEDE_watch/onlineTrigger"
)

// WatchDecoder Family B 解码器
type WatchDecoder struct{}

// NewWatchDecoder 创建 Family B 解码器
func NewWatchDecoder() *WatchDecoder { return &WatchDecoder{} }

func (d *WatchDecoder) Family() models.DeviceFamily { return models.FamilyWatch }

func (d *WatchDecoder) Topics() []string {
	return []string{
		TopicWatchHeartbeat, TopicWatchVitalSign, TopicWatchBatch,
		TopicWatchLocation, TopicWatchSleep, TopicWatchSOS,
		TopicWatchFall, TopicWatchOnline,
	}
}

// Decode 解码 Family B 消息
func (d *WatchDecoder) Decode(topic string, payload []byte, receivedAt time.Time) (*Result, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, newDecodeError(topic, "invalid JSON payload", payload)
	}

	imei, _ := getString(body, "IMEI")
	if imei == "" {
		return nil, newDecodeError(topic, "missing IMEI", payload)
	}

	switch topic {
	case TopicWatchHeartbeat:
		return d.decodeHeartbeat(imei, body, receivedAt), nil
	case TopicWatchOnline:
		return &Result{Status: &models.DeviceStatusEvent{
			DeviceFamily: models.FamilyWatch,
			DeviceRef:    imei,
			Online:       true,
			ReportedAt:   receivedAt,
		}}, nil
	case TopicWatchVitalSign:
		return d.decodeVitalSign(imei, body, receivedAt), nil
	case TopicWatchBatch:
		return d.decodeBatch(topic, imei, body, payload, receivedAt)
	case TopicWatchLocation:
		return d.single(imei, models.MeasurementLocation, nil, parseLocation(body), receivedAt), nil
	case TopicWatchSleep:
		return d.decodeSleep(imei, body, receivedAt), nil
	case TopicWatchSOS:
		return d.single(imei, models.MeasurementSOS,
			map[string]interface{}{"status": rawStatus(body)}, parseLocation(body), receivedAt), nil
	case TopicWatchFall:
		return d.single(imei, models.MeasurementFall,
			map[string]interface{}{"status": rawStatus(body)}, parseLocation(body), receivedAt), nil
	default:
		return nil, newDecodeError(topic, "unknown topic", payload)
	}
}

// decodeHeartbeat 心跳带步数，既是状态事件也产生步数读数
func (d *WatchDecoder) decodeHeartbeat(imei string, body map[string]interface{}, receivedAt time.Time) *Result {
	status := &models.DeviceStatusEvent{
		DeviceFamily: models.FamilyWatch,
		DeviceRef:    imei,
		Online:       true,
		ReportedAt:   receivedAt,
	}
	if battery, ok := getFloat(body, "battery"); ok {
		status.Battery = intPtr(int(battery))
	}
	if signal, ok := getFloat(body, "signal"); ok {
		status.Signal = intPtr(int(signal))
	}

	res := &Result{Status: status}
	if steps, ok := getFloat(body, "step"); ok {
		status.Steps = intPtr(int(steps))
		res.Readings = []models.MedicalReading{{
			DeviceFamily:    models.FamilyWatch,
			DeviceRef:       imei,
			MeasurementType: models.MeasurementStepCount,
			Values:          map[string]interface{}{"steps": steps},
			ObservedAt:      receivedAt,
		}}
	}
	return res
}

// decodeVitalSign 单次生命体征快照（心率/血压/体温/血氧）
func (d *WatchDecoder) decodeVitalSign(imei string, body map[string]interface{}, receivedAt time.Time) *Result {
	values := make(map[string]interface{})
	putIfPresent(values, body, "heartRate", "heart_rate")
	putIfPresent(values, body, "bodyTemperature", "temperature")
	putIfPresent(values, body, "spO2", "spo2")
	if bpRaw, ok := body["bloodPressure"]; ok {
		if bp, ok := bpRaw.(map[string]interface{}); ok {
			putIfPresent(values, bp, "systolic", "systolic")
			putIfPresent(values, bp, "diastolic", "diastolic")
		}
	}
	return d.single(imei, models.MeasurementVitalSigns, values, parseLocation(body), receivedAt)
}

// decodeBatch AP55 批量上报：data 数组的每个元素一条读数，共享一个位置
func (d *WatchDecoder) decodeBatch(topic, imei string, body map[string]interface{}, payload []byte, receivedAt time.Time) (*Result, error) {
	rawData, ok := body["data"]
	if !ok {
		return nil, newDecodeError(topic, "missing data array", payload)
	}
	items, ok := rawData.([]interface{})
	if !ok {
		return nil, newDecodeError(topic, "data is not an array", payload)
	}

	location := parseLocation(body)
	res := &Result{}
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		value, hasValue := getFloat(item, "value")
		if !hasValue {
			continue
		}

		reading := models.MedicalReading{
			DeviceFamily: models.FamilyWatch,
			DeviceRef:    imei,
			Values:       make(map[string]interface{}),
			Location:     location,
			ObservedAt:   receivedAt,
		}
		if ts, ok := getFloat(item, "timestamp"); ok {
			reading.ObservedAt = time.Unix(int64(ts), 0)
		}

		itemType, _ := getString(item, "type")
		switch itemType {
		case "HeartRate":
			reading.MeasurementType = models.MeasurementHeartRate
			reading.Values["heart_rate"] = value
		case "SpO2":
			reading.MeasurementType = models.MeasurementOximetry
			reading.Values["spo2"] = value
		case "BodyTemperature":
			reading.MeasurementType = models.MeasurementTemperature
			reading.Values["temperature"] = value
		case "Step":
			reading.MeasurementType = models.MeasurementStepCount
			reading.Values["steps"] = value
		default:
			// 未知批量项不致命，跳过该项继续
			continue
		}
		res.Readings = append(res.Readings, reading)
	}
	return res, nil
}

// decodeSleep 睡眠摘要（分钟数按阶段拆分）
func (d *WatchDecoder) decodeSleep(imei string, body map[string]interface{}, receivedAt time.Time) *Result {
	values := make(map[string]interface{})
	if sleepRaw, ok := body["sleep"]; ok {
		if sleep, ok := sleepRaw.(map[string]interface{}); ok {
			putIfPresent(values, sleep, "deep", "sleep_deep_min")
			putIfPresent(values, sleep, "light", "sleep_light_min")
			putIfPresent(values, sleep, "awake", "sleep_awake_min")
			putIfPresent(values, sleep, "score", "sleep_score")
		}
	}
	return d.single(imei, models.MeasurementSleep, values, nil, receivedAt)
}

func (d *WatchDecoder) single(imei string, mt models.MeasurementType, values map[string]interface{}, loc *models.GeoLocation, receivedAt time.Time) *Result {
	if values == nil {
		values = make(map[string]interface{})
	}
	return &Result{Readings: []models.MedicalReading{{
		DeviceFamily:    models.FamilyWatch,
		DeviceRef:       imei,
		MeasurementType: mt,
		Values:          values,
		Location:        loc,
		ObservedAt:      receivedAt,
	}}}
}

func rawStatus(body map[string]interface{}) string {
	s, _ := getString(body, "status")
	return s
}
