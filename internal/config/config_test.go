package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDefaultHospital(t *testing.T) {
	t.Setenv("DEFAULT_HOSPITAL_ID", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFAULT_HOSPITAL_ID")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEFAULT_HOSPITAL_ID", "hosp-default")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "hosp-default", cfg.Pipeline.DefaultHospitalID)
	assert.Equal(t, 256, cfg.Pipeline.QueueSize)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.PlaceholderWindow)
	assert.Equal(t, 300*time.Second, cfg.Alert.DedupWindow)
	assert.Equal(t, 3, cfg.Notify.MaxAttempts)
	assert.Equal(t, 200, cfg.Feed.HistorySize)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.Shutdown.Grace)
	assert.False(t, cfg.Notify.Channels.Email.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEFAULT_HOSPITAL_ID", "hosp-A")
	t.Setenv("MQTT_BROKER", "tcp://broker.internal:1883")
	t.Setenv("PIPELINE_QUEUE_SIZE", "512")
	t.Setenv("ALERT_DEDUP_WINDOW", "10m")
	t.Setenv("STORAGE_BACKOFF", "5")
	t.Setenv("EMAIL_ENABLED", "true")
	t.Setenv("EMAIL_SMTP_HOST", "smtp.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker.internal:1883", cfg.MQTT.Broker)
	assert.Equal(t, 512, cfg.Pipeline.QueueSize)
	assert.Equal(t, 10*time.Minute, cfg.Alert.DedupWindow)
	// 纯数字时长按秒处理
	assert.Equal(t, 5*time.Second, cfg.Pipeline.StorageBackoff)
	assert.True(t, cfg.Notify.Channels.Email.Enabled)
	assert.Equal(t, "smtp.internal", cfg.Notify.Channels.Email.Host)
}

func TestLoad_ThresholdDefaults(t *testing.T) {
	t.Setenv("DEFAULT_HOSPITAL_ID", "hosp-A")

	cfg, err := Load()
	require.NoError(t, err)

	hr := cfg.Alert.Thresholds["heart_rate"]
	require.NotNil(t, hr)
	assert.Equal(t, 40.0, *hr.Min)
	assert.Equal(t, 150.0, *hr.Max)

	// SpO2 只有下界
	spo2 := cfg.Alert.Thresholds["spo2"]
	require.NotNil(t, spo2)
	assert.Equal(t, 90.0, *spo2.Min)
	assert.Nil(t, spo2.Max)
}

func TestLoad_ThresholdOverride(t *testing.T) {
	t.Setenv("DEFAULT_HOSPITAL_ID", "hosp-A")
	t.Setenv("THRESHOLD_HEART_RATE_MAX", "130")
	t.Setenv("THRESHOLD_SPO2_MIN", "92")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 130.0, *cfg.Alert.Thresholds["heart_rate"].Max)
	assert.Equal(t, 92.0, *cfg.Alert.Thresholds["spo2"].Min)
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	c := &DatabaseConfig{
		Host: "db.internal", Port: 5433,
		User: "svc", Password: "secret",
		Database: "medwatch", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=secret dbname=medwatch sslmode=require",
		c.GetDSN())
}
