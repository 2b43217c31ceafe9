package decoder

import (
	"testing"
	"time"

	"medwatch-ingest/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCM4Decoder_BloodPressure(t *testing.T) {
	d := NewCM4Decoder()
	payload := []byte(`{
		"mac": "CM4:00:11:22:33:44",
		"type": "reportAttribute",
		"data": {"attribute": "WBP_JUMPER", "mac": "BP:AA:BB", "bp_high": 142, "bp_low": 88, "pr": 80}
	}`)

	res, err := d.Decode(TopicCM4, payload, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Readings, 1)

	reading := res.Readings[0]
	assert.Equal(t, models.FamilyCM4, reading.DeviceFamily)
	assert.Equal(t, "BP:AA:BB", reading.DeviceRef)
	// 下游增强解析链要用网关 MAC，必须保留
	assert.Equal(t, "CM4:00:11:22:33:44", reading.GatewayRef)
	assert.Equal(t, models.MeasurementBloodPressure, reading.MeasurementType)
	assert.Equal(t, 142.0, reading.Values["systolic"])
	assert.Equal(t, 88.0, reading.Values["diastolic"])
	assert.Equal(t, 80.0, reading.Values["pulse_rate"])
}

func TestCM4Decoder_Heartbeat(t *testing.T) {
	d := NewCM4Decoder()
	payload := []byte(`{"mac": "CM4:00:11:22:33:44", "type": "HB_Msg"}`)

	res, err := d.Decode(TopicCM4, payload, time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.Status)
	assert.Equal(t, "CM4:00:11:22:33:44", res.Status.DeviceRef)
	assert.True(t, res.Status.Online)
}

func TestCM4Decoder_Attributes(t *testing.T) {
	d := NewCM4Decoder()

	cases := []struct {
		attribute string
		fields    string
		expected  models.MeasurementType
		valueKey  string
	}{
		{"CONTOUR", `"blood_glucose": 98, "unit": "mg/dL"`, models.MeasurementGlucose, "glucose"},
		{"BodyScale_JUMPER", `"weight": 63.2, "impedance": 480`, models.MeasurementWeight, "weight"},
		{"TEMO_Jumper", `"temp": 37.1`, models.MeasurementTemperature, "temperature"},
		{"Oximeter_JUMPER", `"spo2": 96, "pr": 70`, models.MeasurementOximetry, "spo2"},
	}

	for _, tc := range cases {
		payload := []byte(`{
			"mac": "CM4:00:11:22:33:44",
			"type": "reportAttribute",
			"data": {"attribute": "` + tc.attribute + `", "mac": "SUB:AA:BB", ` + tc.fields + `}
		}`)

		res, err := d.Decode(TopicCM4, payload, time.Now())
		require.NoError(t, err, tc.attribute)
		require.Len(t, res.Readings, 1, tc.attribute)
		assert.Equal(t, tc.expected, res.Readings[0].MeasurementType, tc.attribute)
		assert.Contains(t, res.Readings[0].Values, tc.valueKey, tc.attribute)
	}
}

func TestCM4Decoder_UnknownAttribute(t *testing.T) {
	d := NewCM4Decoder()
	payload := []byte(`{
		"mac": "CM4:00:11:22:33:44",
		"type": "reportAttribute",
		"data": {"attribute": "BP_BIOLIGTH", "mac": "SUB:AA:BB"}
	}`)

	// Family A 的属性词汇表对 Family C 无效
	_, err := d.Decode(TopicCM4, payload, time.Now())
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Reason, "unknown attribute")
}

func TestCM4Decoder_UnknownType(t *testing.T) {
	d := NewCM4Decoder()
	payload := []byte(`{"mac": "CM4:00:11:22:33:44", "type": "firmwareUpdate"}`)

	_, err := d.Decode(TopicCM4, payload, time.Now())
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestRegistry_RoutesByTopic(t *testing.T) {
	r := NewRegistry(NewESP32Decoder(), NewWatchDecoder(), NewCM4Decoder())

	assert.Equal(t, models.FamilyESP32, r.DecoderFor(TopicDusunPub).Family())
	assert.Equal(t, models.FamilyWatch, r.DecoderFor(TopicWatchSOS).Family())
	assert.Equal(t, models.FamilyCM4, r.DecoderFor(TopicCM4).Family())
	assert.Nil(t, r.DecoderFor("some/other/topic"))
	assert.Len(t, r.Topics(), 12)
}
