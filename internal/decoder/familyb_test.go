package decoder

import (
	"testing"
	"time"

	"medwatch-ingest/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchDecoder_SOS(t *testing.T) {
	d := NewWatchDecoder()
	payload := []byte(`{
		"IMEI": "865067123456789",
		"status": "SOS",
		"location": {"GPS": {"latitude": 13.75, "longitude": 100.50}}
	}`)

	res, err := d.Decode(TopicWatchSOS, payload, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Readings, 1)

	reading := res.Readings[0]
	assert.Equal(t, models.FamilyWatch, reading.DeviceFamily)
	assert.Equal(t, "865067123456789", reading.DeviceRef)
	assert.Equal(t, models.MeasurementSOS, reading.MeasurementType)
	assert.Equal(t, "SOS", reading.Values["status"])
	require.NotNil(t, reading.Location)
	assert.Equal(t, 13.75, reading.Location.Latitude)
	assert.Equal(t, 100.50, reading.Location.Longitude)
	assert.Equal(t, "GPS", reading.Location.Source)
}

func TestWatchDecoder_FallDown(t *testing.T) {
	d := NewWatchDecoder()
	payload := []byte(`{"IMEI": "865067123456789", "status": "fall"}`)

	res, err := d.Decode(TopicWatchFall, payload, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Readings, 1)
	assert.Equal(t, models.MeasurementFall, res.Readings[0].MeasurementType)
}

func TestWatchDecoder_HeartbeatWithSteps(t *testing.T) {
	d := NewWatchDecoder()
	payload := []byte(`{"IMEI": "865067123456789", "battery": 82, "signal": 4, "step": 3120}`)

	res, err := d.Decode(TopicWatchHeartbeat, payload, time.Now())
	require.NoError(t, err)

	require.NotNil(t, res.Status)
	assert.True(t, res.Status.Online)
	require.NotNil(t, res.Status.Battery)
	assert.Equal(t, 82, *res.Status.Battery)
	require.NotNil(t, res.Status.Steps)
	assert.Equal(t, 3120, *res.Status.Steps)

	// 心跳带步数时同时产出一条步数读数
	require.Len(t, res.Readings, 1)
	assert.Equal(t, models.MeasurementStepCount, res.Readings[0].MeasurementType)
	assert.Equal(t, 3120.0, res.Readings[0].Values["steps"])
}

func TestWatchDecoder_HeartbeatWithoutSteps(t *testing.T) {
	d := NewWatchDecoder()
	payload := []byte(`{"IMEI": "865067123456789", "battery": 82}`)

	res, err := d.Decode(TopicWatchHeartbeat, payload, time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.Status)
	assert.Empty(t, res.Readings)
}

func TestWatchDecoder_VitalSign(t *testing.T) {
	d := NewWatchDecoder()
	payload := []byte(`{
		"IMEI": "865067123456789",
		"heartRate": 71,
		"bodyTemperature": 36.6,
		"spO2": 98,
		"bloodPressure": {"systolic": 118, "diastolic": 76}
	}`)

	res, err := d.Decode(TopicWatchVitalSign, payload, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Readings, 1)

	reading := res.Readings[0]
	assert.Equal(t, models.MeasurementVitalSigns, reading.MeasurementType)
	assert.Equal(t, 71.0, reading.Values["heart_rate"])
	assert.Equal(t, 36.6, reading.Values["temperature"])
	assert.Equal(t, 98.0, reading.Values["spo2"])
	assert.Equal(t, 118.0, reading.Values["systolic"])
	assert.Equal(t, 76.0, reading.Values["diastolic"])
}

func TestWatchDecoder_BatchAP55(t *testing.T) {
	d := NewWatchDecoder()
	payload := []byte(`{
		"IMEI": "865067123456789",
		"location": {"GPS": {"latitude": 13.75, "longitude": 100.50}},
		"data": [
			{"type": "HeartRate", "value": 68, "timestamp": 1756700000},
			{"type": "SpO2", "value": 97},
			{"type": "Unknown_Future_Type", "value": 1},
			{"type": "Step", "value": 120}
		]
	}`)

	received := time.Now()
	res, err := d.Decode(TopicWatchBatch, payload, received)
	require.NoError(t, err)
	// 未知批量项被跳过，其余三项各一条读数
	require.Len(t, res.Readings, 3)

	hr := res.Readings[0]
	assert.Equal(t, models.MeasurementHeartRate, hr.MeasurementType)
	assert.Equal(t, 68.0, hr.Values["heart_rate"])
	// 批量项自带时间戳时覆盖接收时间
	assert.Equal(t, time.Unix(1756700000, 0), hr.ObservedAt)

	spo2 := res.Readings[1]
	assert.Equal(t, models.MeasurementOximetry, spo2.MeasurementType)
	assert.Equal(t, received, spo2.ObservedAt)

	// 批量共享同一位置
	for _, r := range res.Readings {
		require.NotNil(t, r.Location)
		assert.Equal(t, 13.75, r.Location.Latitude)
	}
}

func TestWatchDecoder_BatchMissingData(t *testing.T) {
	d := NewWatchDecoder()
	payload := []byte(`{"IMEI": "865067123456789"}`)

	_, err := d.Decode(TopicWatchBatch, payload, time.Now())
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestWatchDecoder_Sleep(t *testing.T) {
	d := NewWatchDecoder()
	payload := []byte(`{
		"IMEI": "865067123456789",
		"sleep": {"deep": 240, "light": 180, "awake": 30, "score": 87}
	}`)

	res, err := d.Decode(TopicWatchSleep, payload, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Readings, 1)

	reading := res.Readings[0]
	assert.Equal(t, models.MeasurementSleep, reading.MeasurementType)
	assert.Equal(t, 240.0, reading.Values["sleep_deep_min"])
	assert.Equal(t, 87.0, reading.Values["sleep_score"])
}

func TestWatchDecoder_LocationOnly(t *testing.T) {
	d := NewWatchDecoder()

	t.Run("gps", func(t *testing.T) {
		payload := []byte(`{"IMEI": "865067123456789", "location": {"GPS": {"latitude": 13.75, "longitude": 100.50, "speed": 1.2}}}`)
		res, err := d.Decode(TopicWatchLocation, payload, time.Now())
		require.NoError(t, err)
		require.Len(t, res.Readings, 1)
		require.NotNil(t, res.Readings[0].Location)
		assert.Equal(t, 1.2, res.Readings[0].Location.Speed)
	})

	t.Run("wifi only marks source", func(t *testing.T) {
		payload := []byte(`{"IMEI": "865067123456789", "location": {"WiFi": {"aps": []}}}`)
		res, err := d.Decode(TopicWatchLocation, payload, time.Now())
		require.NoError(t, err)
		require.NotNil(t, res.Readings[0].Location)
		assert.Equal(t, "WiFi", res.Readings[0].Location.Source)
		assert.Zero(t, res.Readings[0].Location.Latitude)
	})
}

func TestWatchDecoder_MissingIMEI(t *testing.T) {
	d := NewWatchDecoder()

	_, err := d.Decode(TopicWatchSOS, []byte(`{"status": "SOS"}`), time.Now())
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Reason, "IMEI")
}
