// Package decoder 提供三个设备家族的协议解码
//
// 每个家族一个解码器实现，按 MQTT 主题选择。解码是纯函数：
// 同一 (topic, payload) 总是得到同一结果，无共享状态、无锁。
// 解码失败统一返回 *DecodeError，由调用方记录并丢弃该消息，
// 绝不向上抛出未分类的错误。
package decoder

import (
	"fmt"
	"strconv"
	"time"

	"medwatch-ingest/internal/models"
)

// Result 单条消息的解码结果
//
// 医疗读数和状态事件互斥：心跳/上下线消息只产生 Status，
// 批量上报（AP55）可产生多条 Readings。
type Result struct {
	Readings []models.MedicalReading
	Status   *models.DeviceStatusEvent
}

// Decoder 设备家族解码器
type Decoder interface {
	// Family 返回该解码器负责的设备家族
	Family() models.DeviceFamily
	// Topics 返回该家族订阅的全部主题
	Topics() []string
	// Decode 解码一条消息
	Decode(topic string, payload []byte, receivedAt time.Time) (*Result, error)
}

// DecodeError 解码错误（载荷格式错误、未知判别字段、缺少必填标识）
type DecodeError struct {
	Topic   string
	Reason  string
	Payload []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s (payload: %s)", e.Topic, e.Reason, truncate(e.Payload, 128))
}

func newDecodeError(topic, reason string, payload []byte) *DecodeError {
	return &DecodeError{Topic: topic, Reason: reason, Payload: payload}
}

func truncate(payload []byte, n int) string {
	if len(payload) <= n {
		return string(payload)
	}
	return string(payload[:n]) + "..."
}

// Registry 主题到解码器的路由表（入口处选择一次，避免运行时类型判断）
type Registry struct {
	byTopic map[string]Decoder
	topics  []string
}

// NewRegistry 创建路由表
func NewRegistry(decoders ...Decoder) *Registry {
	r := &Registry{byTopic: make(map[string]Decoder)}
	for _, d := range decoders {
		for _, topic := range d.Topics() {
			r.byTopic[topic] = d
			r.topics = append(r.topics, topic)
		}
	}
	return r
}

// DecoderFor 按主题查找解码器，未知主题返回 nil
func (r *Registry) DecoderFor(topic string) Decoder {
	return r.byTopic[topic]
}

// Topics 返回全部已注册主题
func (r *Registry) Topics() []string {
	return r.topics
}

// ============================================
// 载荷字段取值辅助
// ============================================

// getString 从载荷 map 中取字符串字段
func getString(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// getFloat 从载荷 map 中取数值字段
//
// 设备上报的数值可能是 JSON number 或字符串，两种都接受，
// 值本身不做范围校验（越界判断是报警检测的职责）。
func getFloat(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// putIfPresent 字段存在时放入规范化值表
func putIfPresent(values map[string]interface{}, data map[string]interface{}, srcKey, dstKey string) {
	if f, ok := getFloat(data, srcKey); ok {
		values[dstKey] = f
	}
}

// parseLocation 解析 Family B 的位置子对象（GPS 优先）
func parseLocation(m map[string]interface{}) *models.GeoLocation {
	raw, ok := m["location"]
	if !ok {
		return nil
	}
	loc, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	if gpsRaw, ok := loc["GPS"]; ok {
		if gps, ok := gpsRaw.(map[string]interface{}); ok {
			lat, latOK := getFloat(gps, "latitude")
			lon, lonOK := getFloat(gps, "longitude")
			if latOK && lonOK {
				out := &models.GeoLocation{Latitude: lat, Longitude: lon, Source: "GPS"}
				if speed, ok := getFloat(gps, "speed"); ok {
					out.Speed = speed
				}
				return out
			}
		}
	}
	// WiFi/LBS 子对象不携带可直接使用的坐标，仅标记来源
	if _, ok := loc["WiFi"]; ok {
		return &models.GeoLocation{Source: "WiFi"}
	}
	if _, ok := loc["LBS"]; ok {
		return &models.GeoLocation{Source: "LBS"}
	}
	return nil
}

func intPtr(v int) *int { return &v }
