package normalizer

import (
	"medwatch-ingest/internal/models"
)

// Code 观测编码条目（LOINC 编码 + 展示名 + 单位）
type Code struct {
	Code    string
	Display string
	Unit    string
}

// valueCodes 规范化值键到编码的固定映射表
//
// 每个受支持的读数值一条；不在表内的值键在标准化时告警丢弃，不致命。
// 非数值的辅助键（unit/model/meal_mode/mode/status）不产生分量。
var valueCodes = map[string]Code{
	"systolic":        {Code: "8480-6", Display: "Systolic blood pressure", Unit: "mmHg"},
	"diastolic":       {Code: "8462-4", Display: "Diastolic blood pressure", Unit: "mmHg"},
	"pulse_rate":      {Code: "8867-4", Display: "Heart rate", Unit: "/min"},
	"heart_rate":      {Code: "8867-4", Display: "Heart rate", Unit: "/min"},
	"spo2":            {Code: "59408-5", Display: "Oxygen saturation", Unit: "%"},
	"glucose":         {Code: "2339-0", Display: "Glucose [Mass/volume] in Blood", Unit: "mg/dL"},
	"temperature":     {Code: "8310-5", Display: "Body temperature", Unit: "Cel"},
	"weight":          {Code: "29463-7", Display: "Body weight", Unit: "kg"},
	"uric_acid":       {Code: "3084-1", Display: "Urate [Mass/volume] in Serum or Plasma", Unit: "mg/dL"},
	"cholesterol":     {Code: "2093-3", Display: "Cholesterol [Mass/volume] in Serum or Plasma", Unit: "mg/dL"},
	"steps":           {Code: "55423-8", Display: "Number of steps", Unit: "steps"},
	"sleep_deep_min":  {Code: "93832-4", Display: "Deep sleep duration", Unit: "min"},
	"sleep_light_min": {Code: "93831-6", Display: "Light sleep duration", Unit: "min"},
	"sleep_awake_min": {Code: "93829-0", Display: "Awake duration during sleep period", Unit: "min"},
	"sleep_score":     {Code: "80404-7", Display: "Sleep quality score", Unit: "{score}"},
}

// measurementCodes 测量类型到 Observation 顶层编码的映射
var measurementCodes = map[models.MeasurementType]Code{
	models.MeasurementBloodPressure: {Code: "85354-9", Display: "Blood pressure panel"},
	models.MeasurementOximetry:      {Code: "59408-5", Display: "Oxygen saturation"},
	models.MeasurementGlucose:       {Code: "2339-0", Display: "Blood glucose"},
	models.MeasurementTemperature:   {Code: "8310-5", Display: "Body temperature"},
	models.MeasurementWeight:        {Code: "29463-7", Display: "Body weight"},
	models.MeasurementUricAcid:      {Code: "3084-1", Display: "Uric acid"},
	models.MeasurementCholesterol:   {Code: "2093-3", Display: "Cholesterol"},
	models.MeasurementHeartRate:     {Code: "8867-4", Display: "Heart rate"},
	models.MeasurementVitalSigns:    {Code: "85353-1", Display: "Vital signs panel"},
	models.MeasurementStepCount:     {Code: "55423-8", Display: "Step count"},
	models.MeasurementSleep:         {Code: "93832-4", Display: "Sleep summary"},
}

// auxiliaryKeys 不映射为分量、但随读数携带的辅助键
var auxiliaryKeys = map[string]bool{
	"unit":      true,
	"model":     true,
	"meal_mode": true,
	"mode":      true,
	"status":    true,
}
