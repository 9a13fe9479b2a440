package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// BaseURL is the public app URL used to build links inside messages.
	BaseURL         string
	ProductName     string
	DefaultTimezone string

	OpsHTTPAddr   string
	SnowflakeNode int64
	AutoMigrate   bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Telemetry TelemetryConfig
	Redis     RedisConfig
	Email     EmailConfig
	Scheduler SchedulerConfig
}

// TelemetryConfig follows the OTEL_* variable names where one exists.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type EmailConfig struct {
	Provider     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SESRegion    string
	SESFrom      string

	BreakerMaxFailures     int
	BreakerRecoveryTimeout time.Duration
}

type SchedulerConfig struct {
	RunInterval       time.Duration
	CampaignTimeout   time.Duration
	SendTimeout       time.Duration
	SendRate          float64
	SendBurst         int
	TenantConcurrency int
	LockTTL           time.Duration
	EnabledCampaigns  []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:         getenv("APP_SERVICE", "notifier"),
		AppVersion:      getenv("SERVICE_VERSION", getenv("APP_VERSION", "0.1.0")),
		Environment:     getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development")),
		BaseURL:         strings.TrimRight(strings.TrimSpace(getenv("APP_BASE_URL", "")), "/"),
		ProductName:     getenv("APP_PRODUCT_NAME", "Notifier"),
		DefaultTimezone: getenv("NOTIFIER_DEFAULT_TIMEZONE", "UTC"),
		OpsHTTPAddr:     getenv("OPS_HTTP_ADDR", ":9090"),
		SnowflakeNode:   getenvInt64("SNOWFLAKE_NODE", 1),
		AutoMigrate:     getenvBool("NOTIFIER_AUTO_MIGRATE", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:     strings.ToLower(getenv("LOG_FORMAT", "json")),
			OtelEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:  strings.ToLower(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			Provider:               strings.ToLower(getenv("EMAIL_PROVIDER", "log")),
			SMTPHost:               getenv("SMTP_HOST", "localhost"),
			SMTPPort:               getenvInt("SMTP_PORT", 587),
			SMTPUsername:           getenv("SMTP_USERNAME", ""),
			SMTPPassword:           getenv("SMTP_PASSWORD", ""),
			SMTPFrom:               getenv("SMTP_FROM", "no-reply@localhost"),
			SESRegion:              getenv("AWS_REGION", "us-east-1"),
			SESFrom:                getenv("SES_FROM_EMAIL", ""),
			BreakerMaxFailures:     getenvInt("EMAIL_BREAKER_MAX_FAILURES", 5),
			BreakerRecoveryTimeout: getenvDuration("EMAIL_BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			RunInterval:       getenvDuration("NOTIFIER_RUN_INTERVAL", time.Hour),
			CampaignTimeout:   getenvDuration("NOTIFIER_CAMPAIGN_TIMEOUT", 10*time.Minute),
			SendTimeout:       getenvDuration("NOTIFIER_SEND_TIMEOUT", 15*time.Second),
			SendRate:          getenvFloat("NOTIFIER_SEND_RATE", 10),
			SendBurst:         getenvInt("NOTIFIER_SEND_BURST", 10),
			TenantConcurrency: getenvInt("NOTIFIER_TENANT_CONCURRENCY", 1),
			LockTTL:           getenvDuration("NOTIFIER_LOCK_TTL", 30*time.Minute),
			EnabledCampaigns:  splitList(getenv("NOTIFIER_ENABLED_CAMPAIGNS", "")),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
