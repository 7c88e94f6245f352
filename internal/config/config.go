package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration shared by the agent and the collector.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// Shared secret presented by agents and verified by the collector.
	APIKey string

	OTLPEndpoint string

	HTTPPort string

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

	Agent     AgentConfig
	Push      PushConfig
	RateLimit RateLimitConfig
}

// AgentConfig holds the device-side metering settings.
type AgentConfig struct {
	TargetNetwork string
	DeviceName    string
	OwnerName     string
	Interfaces    []string

	LedgerPath            string
	PollIntervalSeconds   int64
	UploadIntervalSeconds int64
	MaxBatchSize          int64
	RetentionDays         int64

	CollectorURL string
}

// PushConfig controls agent-side metric publishing. Agents sit behind NAT and
// cannot be scraped, so metrics are pushed instead.
type PushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// RateLimitConfig controls collector-side ingest throttling.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	IngestRate    float64
	IngestBurst   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "netmeter"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		APIKey: strings.TrimSpace(getenv("API_KEY", "")),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		HTTPPort: getenv("HTTP_PORT", "8080"),

		DBType:            getenv("DATABASE_TYPE", "sqlite"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "netmeter"),
		DBUser:            getenv("DATABASE_USER", "netmeter"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 2)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 10)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 3600)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 600)),

		Agent: AgentConfig{
			TargetNetwork:         strings.TrimSpace(getenv("TARGET_NETWORK", "")),
			DeviceName:            strings.TrimSpace(getenv("DEVICE_NAME", "")),
			OwnerName:             strings.TrimSpace(getenv("OWNER_NAME", "")),
			Interfaces:            parseList(getenv("WIRELESS_INTERFACES", "")),
			LedgerPath:            getenv("LEDGER_PATH", "netmeter-ledger.db"),
			PollIntervalSeconds:   getenvInt64("POLL_INTERVAL_SECONDS", 60),
			UploadIntervalSeconds: getenvInt64("UPLOAD_INTERVAL_SECONDS", 300),
			MaxBatchSize:          getenvInt64("UPLOAD_MAX_BATCH_SIZE", 500),
			RetentionDays:         getenvInt64("LEDGER_RETENTION_DAYS", 30),
			CollectorURL:          strings.TrimRight(strings.TrimSpace(getenv("COLLECTOR_URL", "http://localhost:8080")), "/"),
		},

		Push: PushConfig{
			Enabled:   getenvBool("PUSH_METRICS_ENABLED", false),
			Exporter:  strings.ToLower(getenv("PUSH_METRICS_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("PUSH_METRICS_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("PUSH_METRICS_AUTH_TOKEN", "")),
		},

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
			IngestRate:    getenvFloat("RATE_LIMIT_INGEST_RATE", 5),
			IngestBurst:   int(getenvInt64("RATE_LIMIT_INGEST_BURST", 10)),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
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

func parseList(raw string) []string {
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
