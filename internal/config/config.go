package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Threshold 单项测量的报警阈值（上下界可分别缺省）
//
// CriticalBand 是两档严重度的分界：越界幅度超过界值的该比例时判 HIGH，
// 否则判 MEDIUM。
type Threshold struct {
	Min          *float64
	Max          *float64
	CriticalBand float64
}

// ChannelConfig 通知渠道开关与凭据
type ChannelConfig struct {
	Email struct {
		Enabled  bool
		Host     string
		Port     int
		Username string
		Password string
		From     string
		To       string
	}
	Bot struct {
		Enabled bool
		BaseURL string
		Token   string
		ChatID  string
	}
	SMS struct {
		Enabled bool
		URL     string
		APIKey  string
		To      string
	}
	Webhook struct {
		Enabled bool
		URL     string
		Secret  string
	}
}

// Config 服务配置
type Config struct {
	MQTT     MQTTConfig
	Database DatabaseConfig
	Redis    RedisConfig

	Pipeline struct {
		DefaultHospitalID string        // 医院解析链的最终回退
		QueueSize         int           // 每个设备家族的有界消息队列长度
		StorageRetries    int           // 存储不可用时的消息级重试次数
		StorageBackoff    time.Duration // 消息级重试的初始退避
		PlaceholderWindow time.Duration // 占位患者创建的去重窗口
	}

	Alert struct {
		DedupWindow time.Duration         // 同患者同类型报警的去重窗口
		Thresholds  map[string]*Threshold // 按测量值键配置
	}

	Notify struct {
		MaxAttempts int           // 每渠道重试上限
		BackoffBase time.Duration // 指数退避起点
		BackoffMax  time.Duration
		Timeout     time.Duration // 单次发送超时
		Channels    ChannelConfig
	}

	Feed struct {
		HistorySize      int // 环形历史缓冲容量
		SubscriberBuffer int // 每订阅者的有界队列长度
	}

	HTTP struct {
		Addr string
	}

	Shutdown struct {
		Grace time.Duration // 关闭时排空在途消息的宽限期
	}

	Log struct {
		Level  string
		Format string
		File   string // 为空时仅输出到 stdout
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "medwatch-ingest")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "medwatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Pipeline.DefaultHospitalID = getEnv("DEFAULT_HOSPITAL_ID", "")
	if cfg.Pipeline.DefaultHospitalID == "" {
		return nil, fmt.Errorf("DEFAULT_HOSPITAL_ID is required")
	}
	cfg.Pipeline.QueueSize = getEnvInt("PIPELINE_QUEUE_SIZE", 256)
	cfg.Pipeline.StorageRetries = getEnvInt("STORAGE_RETRIES", 5)
	cfg.Pipeline.StorageBackoff = getEnvDuration("STORAGE_BACKOFF", 2*time.Second)
	cfg.Pipeline.PlaceholderWindow = getEnvDuration("PLACEHOLDER_DEDUP_WINDOW", 60*time.Second)

	cfg.Alert.DedupWindow = getEnvDuration("ALERT_DEDUP_WINDOW", 300*time.Second)
	cfg.Alert.Thresholds = loadThresholds()

	cfg.Notify.MaxAttempts = getEnvInt("NOTIFY_MAX_ATTEMPTS", 3)
	cfg.Notify.BackoffBase = getEnvDuration("NOTIFY_BACKOFF_BASE", time.Second)
	cfg.Notify.BackoffMax = getEnvDuration("NOTIFY_BACKOFF_MAX", 30*time.Second)
	cfg.Notify.Timeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)
	loadChannels(&cfg.Notify.Channels)

	cfg.Feed.HistorySize = getEnvInt("FEED_HISTORY_SIZE", 200)
	cfg.Feed.SubscriberBuffer = getEnvInt("FEED_SUBSCRIBER_BUFFER", 64)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Shutdown.Grace = getEnvDuration("SHUTDOWN_GRACE", 15*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.File = getEnv("LOG_FILE", "")

	return cfg, nil
}

// loadThresholds 加载报警阈值（内置默认值，可按项用环境变量覆盖）
//
// 环境变量形如 THRESHOLD_HEART_RATE_MIN / THRESHOLD_HEART_RATE_MAX。
func loadThresholds() map[string]*Threshold {
	defaults := map[string]*Threshold{
		"heart_rate":  {Min: f(40), Max: f(150), CriticalBand: 0.2},
		"pulse_rate":  {Min: f(40), Max: f(150), CriticalBand: 0.2},
		"systolic":    {Min: f(80), Max: f(180), CriticalBand: 0.15},
		"diastolic":   {Min: f(50), Max: f(110), CriticalBand: 0.15},
		"spo2":        {Min: f(90), CriticalBand: 0.05},
		"temperature": {Min: f(35.0), Max: f(38.5), CriticalBand: 0.03},
		"glucose":     {Min: f(54), Max: f(250), CriticalBand: 0.3},
	}

	for key, th := range defaults {
		envKey := "THRESHOLD_" + toEnvKey(key)
		if v, ok := getEnvFloat(envKey + "_MIN"); ok {
			th.Min = &v
		}
		if v, ok := getEnvFloat(envKey + "_MAX"); ok {
			th.Max = &v
		}
		if v, ok := getEnvFloat(envKey + "_BAND"); ok {
			th.CriticalBand = v
		}
	}

	return defaults
}

// loadChannels 加载通知渠道配置
func loadChannels(ch *ChannelConfig) {
	ch.Email.Enabled = getEnvBool("EMAIL_ENABLED", false)
	ch.Email.Host = getEnv("EMAIL_SMTP_HOST", "")
	ch.Email.Port = getEnvInt("EMAIL_SMTP_PORT", 587)
	ch.Email.Username = getEnv("EMAIL_USERNAME", "")
	ch.Email.Password = getEnv("EMAIL_PASSWORD", "")
	ch.Email.From = getEnv("EMAIL_FROM", "")
	ch.Email.To = getEnv("EMAIL_TO", "")

	ch.Bot.Enabled = getEnvBool("BOT_ENABLED", false)
	ch.Bot.BaseURL = getEnv("BOT_BASE_URL", "https://api.telegram.org")
	ch.Bot.Token = getEnv("BOT_TOKEN", "")
	ch.Bot.ChatID = getEnv("BOT_CHAT_ID", "")

	ch.SMS.Enabled = getEnvBool("SMS_ENABLED", false)
	ch.SMS.URL = getEnv("SMS_GATEWAY_URL", "")
	ch.SMS.APIKey = getEnv("SMS_API_KEY", "")
	ch.SMS.To = getEnv("SMS_TO", "")

	ch.Webhook.Enabled = getEnvBool("WEBHOOK_ENABLED", false)
	ch.Webhook.URL = getEnv("WEBHOOK_URL", "")
	ch.Webhook.Secret = getEnv("WEBHOOK_SECRET", "")
}

func f(v float64) *float64 { return &v }

func toEnvKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' {
			c = c - 'a' + 'A'
		}
		out[i] = c
	}
	return string(out)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string) (float64, bool) {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// 纯数字按秒处理
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
