package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Log       LogConfig
	Scan      ScanConfig
	OTP       OTPConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Tenant    TenantConfig
	Notify    NotifyConfig
	Events    EventsConfig
	Scheduler SchedulerConfig
	Tracing   TracingConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int           `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`

	// ProxyHeader names the header carrying the client IP when running behind a proxy.
	ProxyHeader string `envconfig:"SERVER_PROXY_HEADER" default:""`
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"mscan"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
	Migrate  bool   `envconfig:"DB_MIGRATE" default:"true"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// RedisConfig holds the Redis connection used by the shared rate limiter.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// ScanConfig controls the public scan session flow and the coupon ledger.
type ScanConfig struct {
	SessionTTL   time.Duration `envconfig:"SCAN_SESSION_TTL" default:"10m"`
	CleanupGrace time.Duration `envconfig:"SCAN_SESSION_CLEANUP_GRACE" default:"1h"`
	MaxBatchSize int           `envconfig:"COUPON_MAX_BATCH_SIZE" default:"1000"`
}

// OTPConfig controls one-time code issuance and verification.
type OTPConfig struct {
	TTL          time.Duration `envconfig:"OTP_TTL" default:"5m"`
	MaxAttempts  int           `envconfig:"OTP_MAX_ATTEMPTS" default:"5"`
	CleanupGrace time.Duration `envconfig:"OTP_CLEANUP_GRACE" default:"1h"`
}

// RateLimitConfig holds the limiter backend and per-scope limits.
type RateLimitConfig struct {
	Backend string `envconfig:"RATE_LIMIT_BACKEND" default:"redis"` // redis or memory
	Prefix  string `envconfig:"RATE_LIMIT_PREFIX" default:"mscan:rate_limit"`

	StartPerIP       int           `envconfig:"RATE_LIMIT_START_PER_IP" default:"60"`
	StartWindow      time.Duration `envconfig:"RATE_LIMIT_START_WINDOW" default:"10m"`
	OTPSendPerMobile int           `envconfig:"RATE_LIMIT_OTP_SEND_PER_MOBILE" default:"10"`
	OTPSendWindow    time.Duration `envconfig:"RATE_LIMIT_OTP_SEND_WINDOW" default:"24h"`
	VerifyPerSession int           `envconfig:"RATE_LIMIT_VERIFY_PER_SESSION" default:"20"`
	VerifyWindow     time.Duration `envconfig:"RATE_LIMIT_VERIFY_WINDOW" default:"10m"`
	PartnerPerKey    int           `envconfig:"RATE_LIMIT_PARTNER_PER_KEY" default:"100"`
	PartnerWindow    time.Duration `envconfig:"RATE_LIMIT_PARTNER_WINDOW" default:"1m"`
}

// AuthConfig holds JWT settings for mobile and admin bearer tokens.
type AuthConfig struct {
	JWTSecret string        `envconfig:"JWT_SECRET" default:"dev-secret-change-me"` // CHANGE IN PRODUCTION
	JWTIssuer string        `envconfig:"JWT_ISSUER" default:"mscan"`
	TokenTTL  time.Duration `envconfig:"JWT_TOKEN_TTL" default:"24h"`
}

// TenantConfig controls how requests are mapped to tenants.
type TenantConfig struct {
	BaseDomain string `envconfig:"TENANT_BASE_DOMAIN" default:""`
	Default    string `envconfig:"DEFAULT_TENANT" default:""`
}

// NotifyConfig holds the OTP dispatcher settings.
type NotifyConfig struct {
	AMQPURL     string        `envconfig:"AMQP_URL" default:""`
	Exchange    string        `envconfig:"NOTIFY_EXCHANGE" default:"notifications"`
	RoutingKey  string        `envconfig:"NOTIFY_OTP_ROUTING_KEY" default:"sms.otp"`
	MaxAttempts int           `envconfig:"NOTIFY_MAX_ATTEMPTS" default:"3"`
	Timeout     time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"2s"`
}

// EventsConfig holds the scan event stream settings.
type EventsConfig struct {
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""` // comma separated
	ScanTopic    string `envconfig:"KAFKA_SCAN_TOPIC" default:"mscan.scans"`
}

// Brokers returns the configured Kafka brokers, or nil when none are set.
func (c EventsConfig) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// SchedulerConfig holds the cleanup sweep schedule.
type SchedulerConfig struct {
	Enabled      bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
	SweepSpec    string `envconfig:"SCHEDULER_SWEEP_SPEC" default:"@every 1m"`
	SweepTimeout int    `envconfig:"SCHEDULER_SWEEP_TIMEOUT" default:"30"` // seconds
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	JaegerEndpoint string `envconfig:"JAEGER_ENDPOINT" default:""`
	ServiceName    string `envconfig:"SERVICE_NAME" default:"mscan-core"`
}

// Load parses environment variables into the Config struct.
// A .env file in the working directory is applied first when present;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
