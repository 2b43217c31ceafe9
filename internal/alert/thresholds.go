package alert

import (
	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/models"
)

// Breach 单个值的阈值越界结果
type Breach struct {
	Key      string
	Value    float64
	Bound    float64 // 被突破的界
	Upper    bool    // true=超上界，false=低于下界
	Severity models.AlertPriority
}

// evaluateThresholds 对读数的数值做阈值检查
//
// 越界值原样进入检查（解码器不做范围校验）。两档严重度：越界幅度
// 超过界值的 CriticalBand 比例判 HIGH，否则判 MEDIUM。
func evaluateThresholds(reading *models.MedicalReading, thresholds map[string]*config.Threshold) []Breach {
	var breaches []Breach

	for key, raw := range reading.Values {
		th, ok := thresholds[key]
		if !ok {
			continue
		}
		value, ok := raw.(float64)
		if !ok {
			continue
		}

		if th.Max != nil && value > *th.Max {
			breaches = append(breaches, Breach{
				Key:      key,
				Value:    value,
				Bound:    *th.Max,
				Upper:    true,
				Severity: bandSeverity(value-*th.Max, *th.Max, th.CriticalBand),
			})
		} else if th.Min != nil && value < *th.Min {
			breaches = append(breaches, Breach{
				Key:      key,
				Value:    value,
				Bound:    *th.Min,
				Upper:    false,
				Severity: bandSeverity(*th.Min-value, *th.Min, th.CriticalBand),
			})
		}
	}
	return breaches
}

// bandSeverity 按越界幅度占界值的比例划分两档严重度
func bandSeverity(deviation, bound, band float64) models.AlertPriority {
	if bound <= 0 {
		return models.PriorityHigh
	}
	if deviation/bound >= band {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}

// worstSeverity 多个越界取最严重档
func worstSeverity(breaches []Breach) models.AlertPriority {
	severity := models.PriorityMedium
	for _, b := range breaches {
		if b.Severity == models.PriorityHigh {
			severity = models.PriorityHigh
		}
	}
	return severity
}
