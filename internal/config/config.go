// Package config defines the configuration structure for the push notification
// pipeline. Configuration is loaded once at process initialization (Lambda cold
// start or server boot) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// SecretString is an alias for types.SecretString so secrets in configuration
// are redacted in logs and JSON dumps.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"school-push"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Redis         RedisConfig
	Gateway       GatewayConfig
	Worker        WorkerConfig
	Reclaimer     ReclaimerConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// ProcessQueueURL receives one message per requested worker invocation.
	ProcessQueueURL string `envconfig:"SQS_PROCESS_QUEUE" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// RedisConfig configures the idempotency store. An empty URL disables
// Idempotency-Key handling.
type RedisConfig struct {
	URL            SecretString  `envconfig:"REDIS_URL"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	LockTTL        time.Duration `envconfig:"IDEMPOTENCY_LOCK_TTL" default:"1m"`
}

// GatewayConfig configures the outbound push gateway client.
type GatewayConfig struct {
	URL         string       `envconfig:"PUSH_GATEWAY_URL" default:"https://exp.host/--/api/v2/push/send" validate:"required,url"`
	AccessToken SecretString `envconfig:"PUSH_GATEWAY_ACCESS_TOKEN"`

	// BatchLimit is the per-request message cap imposed by the gateway.
	BatchLimit    int           `envconfig:"GATEWAY_BATCH_LIMIT" default:"100" validate:"min=1,max=100"`
	Timeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`
	MaxRetries    int           `envconfig:"GATEWAY_MAX_RETRIES" default:"0" validate:"min=0,max=5"`
	RatePerSecond float64       `envconfig:"GATEWAY_RATE_PER_SECOND" default:"6" validate:"gt=0"`
	GzipMinBytes  int           `envconfig:"GATEWAY_GZIP_MIN_BYTES" default:"1024" validate:"min=0"`
	UserAgent     string        `envconfig:"GATEWAY_USER_AGENT" default:"SchoolPush-Worker/1.0"`
}

// WorkerConfig tunes one worker invocation.
type WorkerConfig struct {
	BatchSize       int           `envconfig:"WORKER_BATCH_SIZE" default:"500" validate:"min=1,max=5000"`
	SendConcurrency int           `envconfig:"WORKER_SEND_CONCURRENCY" default:"1" validate:"min=1,max=8"`
	TimeBudget      time.Duration `envconfig:"WORKER_TIME_BUDGET" default:"45s"`
	LeaseTTL        time.Duration `envconfig:"WORKER_LEASE_TTL" default:"2m"`

	// DeadlineReserve is kept back from the caller's deadline (REQUEST_TIMEOUT
	// or the Lambda timeout) for the store writes that follow the last send.
	DeadlineReserve time.Duration `envconfig:"WORKER_DEADLINE_RESERVE" default:"5s"`
}

// ReclaimerConfig tunes the periodic recovery sweep.
type ReclaimerConfig struct {
	// StaleAfter is how long a pending job, or a processing job without a
	// lease, may sit untouched before it is re-published.
	StaleAfter time.Duration `envconfig:"RECLAIM_STALE_AFTER" default:"2m"`
	BatchLimit int           `envconfig:"RECLAIM_BATCH_LIMIT" default:"50" validate:"min=1,max=1000"`
}

// SecurityConfig holds caller authentication and CORS settings.
type SecurityConfig struct {
	// ServiceKeyHash is the bcrypt hash of the shared X-Service-Key. Empty
	// disables the check (local development only).
	ServiceKeyHash     SecretString `envconfig:"SERVICE_KEY_HASH"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SchoolPush"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
