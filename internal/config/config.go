package config

import (
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

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（用于按需触发同步）
type MQTTConfig struct {
	Enabled  bool   // 是否启用 MQTT 触发（默认 false，仅定时同步）
	Broker   string // Broker 地址（如 "tcp://localhost:1883"）
	ClientID string
	Username string
	Password string
	Topic    string // 触发主题（管理后台发布消息即触发一轮同步）
}

// DeviceConfig 指纹机（eSSL K90 Pro / ZKTeco 协议）配置
type DeviceConfig struct {
	Host           string
	Port           int
	CommKey        int           // 通讯密码，0 表示设备未设密码
	ConnectTimeout time.Duration // 建立 TCP 连接超时
	ReadTimeout    time.Duration // 单条命令读响应超时（拉日志时同样生效）
}

// SyncConfig 同步调度与对账配置
type SyncConfig struct {
	Interval            time.Duration // 定时同步间隔
	OrgUTCOffsetMinutes int           // 组织时区相对 UTC 的固定偏移（IST = 330）
	IdentityCacheTTL    time.Duration // 员工映射缓存 TTL
	AlertThreshold      int           // 连续失败多少轮后告警
	AlertWebhookURL     string        // 告警 Webhook 地址，空则不告警
}

// Config antigravity-biosync 服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Device   DeviceConfig
	Sync     SyncConfig

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() *Config {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "antigravity")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "antigravity-biosync")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TRIGGER_TOPIC", "biosync/trigger")

	cfg.Device.Host = getEnv("DEVICE_HOST", "192.168.1.201")
	cfg.Device.Port = parseInt(getEnv("DEVICE_PORT", "4370"), 4370)
	cfg.Device.CommKey = parseInt(getEnv("DEVICE_COMM_KEY", "0"), 0)
	cfg.Device.ConnectTimeout = parseDuration(getEnv("DEVICE_CONNECT_TIMEOUT", "10s"), 10*time.Second)
	cfg.Device.ReadTimeout = parseDuration(getEnv("DEVICE_READ_TIMEOUT", "20s"), 20*time.Second)

	cfg.Sync.Interval = parseDuration(getEnv("SYNC_INTERVAL", "5m"), 5*time.Minute)
	// 默认 IST（UTC+5:30），与总部考勤口径一致
	cfg.Sync.OrgUTCOffsetMinutes = parseInt(getEnv("ORG_UTC_OFFSET_MINUTES", "330"), 330)
	cfg.Sync.IdentityCacheTTL = parseDuration(getEnv("IDENTITY_CACHE_TTL", "10m"), 10*time.Minute)
	cfg.Sync.AlertThreshold = parseInt(getEnv("ALERT_THRESHOLD", "3"), 3)
	cfg.Sync.AlertWebhookURL = getEnv("ALERT_WEBHOOK_URL", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(value string, defaultValue int) int {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
