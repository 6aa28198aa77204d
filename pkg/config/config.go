package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultDatabaseQueryTimeout is the fallback per-statement timeout in seconds
// applied when no explicit timeout is configured.
const DefaultDatabaseQueryTimeout = 30

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	NATS      NATSConfig
	Stripe    StripeConfig
	Sentry    SentryConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	Secrets   SecretsConfig
	Trial     TrialConfig
	Fraud     FraudConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port            string
	Environment     string
	ServiceName     string
	ReadTimeout     int
	WriteTimeout    int
	RequestTimeout  int   // per-request timeout in seconds, enforced by middleware
	MaxBodySizeByte int64 // request body size cap in bytes
	CORSOrigins     string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host                string
	Port                string
	User                string
	Password            string
	DBName              string
	SSLMode             string
	MaxConns            int
	MinConns            int
	QueryTimeoutSeconds int
	ReplicaHosts        []string
	RunMigrations       bool
	MigrationsPath      string
	Breaker             DatabaseBreakerConfig
}

// DatabaseBreakerConfig tunes the circuit breaker guarding database access
type DatabaseBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	TimeoutSeconds   int
	IntervalSeconds  int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret     string
	Expiration int // in hours
}

// NATSConfig holds NATS event bus configuration
type NATSConfig struct {
	URL     string
	Enabled bool
}

// StripeConfig holds Stripe API configuration
type StripeConfig struct {
	APIKey  string
	Enabled bool
}

// SentryConfig holds Sentry error reporting configuration
type SentryConfig struct {
	DSN              string
	Enabled          bool
	TracesSampleRate float64
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled  bool
	Endpoint string // OTLP gRPC collector endpoint
}

// RateLimitConfig holds request rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	WindowSeconds     int
	DefaultLimit      int
	DefaultBurst      int
	AnonymousLimit    int
	AnonymousBurst    int
	RedisPrefix       string
	EndpointOverrides map[string]EndpointRateLimitConfig
}

// EndpointRateLimitConfig overrides rate limits for a single endpoint
type EndpointRateLimitConfig struct {
	AuthenticatedLimit int `json:"authenticated_limit"`
	AuthenticatedBurst int `json:"authenticated_burst"`
	AnonymousLimit     int `json:"anonymous_limit"`
	AnonymousBurst     int `json:"anonymous_burst"`
	WindowSeconds      int `json:"window_seconds"`
}

// SecretsConfig selects an external secret manager. When Provider is empty
// the plain environment values are used as-is.
type SecretsConfig struct {
	Provider            string // vault, aws, gcp or kubernetes
	CacheTTLSeconds     int
	AuditEnabled        bool
	DatabasePasswordRef string // reference syntax: [provider://]path[@version][#key]
	StripeAPIKeyRef     string
	VaultAddress        string
	VaultToken          string
	VaultNamespace      string
	VaultMountPath      string
	AWSRegion           string
	AWSEndpoint         string
	GCPProjectID        string
	GCPCredentialsFile  string
	KubernetesBasePath  string
}

// TrialConfig holds trial token issuance configuration
type TrialConfig struct {
	Store             string // postgres or memory
	ReportQuota       int    // reports granted per trial token
	TokenValidityDays int    // days until an unused token expires
}

// FraudConfig holds fraud evaluation policy knobs
type FraudConfig struct {
	DenialThreshold             int
	CriticalWeight              int
	HighWeight                  int
	MediumWeight                int
	MaxTrialsPerDevice          int
	ReRegistrationWindowMinutes int
	IPWindowHours               int
	MaxTrialsPerIP              int
	MaxCardReuse                int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ServiceName:     serviceName,
			ReadTimeout:     getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout:    getEnvAsInt("WRITE_TIMEOUT", 10),
			RequestTimeout:  getEnvAsInt("REQUEST_TIMEOUT", 30),
			MaxBodySizeByte: int64(getEnvAsInt("MAX_BODY_SIZE_BYTES", 1<<20)),
			CORSOrigins:     getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:                getEnv("DB_HOST", "localhost"),
			Port:                getEnv("DB_PORT", "5432"),
			User:                getEnv("DB_USER", "postgres"),
			Password:            getEnv("DB_PASSWORD", "postgres"),
			DBName:              getEnv("DB_NAME", "trialengine"),
			SSLMode:             getEnv("DB_SSLMODE", "disable"),
			MaxConns:            getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:            getEnvAsInt("DB_MIN_CONNS", 5),
			QueryTimeoutSeconds: getEnvAsInt("DB_QUERY_TIMEOUT", DefaultDatabaseQueryTimeout),
			ReplicaHosts:        getEnvAsSlice("DB_REPLICA_HOSTS", nil),
			RunMigrations:       getEnvAsBool("RUN_MIGRATIONS", false),
			MigrationsPath:      getEnv("MIGRATIONS_PATH", "migrations"),
			Breaker: DatabaseBreakerConfig{
				Enabled:          getEnvAsBool("DB_BREAKER_ENABLED", false),
				FailureThreshold: getEnvAsInt("DB_BREAKER_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("DB_BREAKER_SUCCESS_THRESHOLD", 2),
				TimeoutSeconds:   getEnvAsInt("DB_BREAKER_TIMEOUT", 30),
				IntervalSeconds:  getEnvAsInt("DB_BREAKER_INTERVAL", 60),
			},
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			Expiration: getEnvAsInt("JWT_EXPIRATION", 24),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvAsBool("NATS_ENABLED", false),
		},
		Stripe: StripeConfig{
			APIKey:  getEnv("STRIPE_API_KEY", ""),
			Enabled: getEnvAsBool("STRIPE_ENABLED", false),
		},
		Sentry: SentryConfig{
			DSN:              getEnv("SENTRY_DSN", ""),
			Enabled:          getEnvAsBool("SENTRY_ENABLED", false),
			TracesSampleRate: getEnvAsFloat("SENTRY_TRACES_SAMPLE_RATE", 0.1),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvAsBool("TRACING_ENABLED", false),
			Endpoint: getEnv("OTLP_ENDPOINT", "localhost:4317"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", false),
			WindowSeconds:     getEnvAsInt("RATE_LIMIT_WINDOW", 60),
			DefaultLimit:      getEnvAsInt("RATE_LIMIT_DEFAULT", 100),
			DefaultBurst:      getEnvAsInt("RATE_LIMIT_DEFAULT_BURST", 10),
			AnonymousLimit:    getEnvAsInt("RATE_LIMIT_ANONYMOUS", 30),
			AnonymousBurst:    getEnvAsInt("RATE_LIMIT_ANONYMOUS_BURST", 5),
			RedisPrefix:       getEnv("RATE_LIMIT_REDIS_PREFIX", "ratelimit"),
			EndpointOverrides: parseEndpointOverrides(getEnv("RATE_LIMIT_ENDPOINT_OVERRIDES", "")),
		},
		Secrets: SecretsConfig{
			Provider:            getEnv("SECRETS_PROVIDER", ""),
			CacheTTLSeconds:     getEnvAsInt("SECRETS_CACHE_TTL", 300),
			AuditEnabled:        getEnvAsBool("SECRETS_AUDIT_ENABLED", true),
			DatabasePasswordRef: getEnv("DB_PASSWORD_SECRET_REF", ""),
			StripeAPIKeyRef:     getEnv("STRIPE_API_KEY_SECRET_REF", ""),
			VaultAddress:        getEnv("VAULT_ADDR", ""),
			VaultToken:          getEnv("VAULT_TOKEN", ""),
			VaultNamespace:      getEnv("VAULT_NAMESPACE", ""),
			VaultMountPath:      getEnv("VAULT_MOUNT_PATH", "secret"),
			AWSRegion:           getEnv("AWS_REGION", ""),
			AWSEndpoint:         getEnv("AWS_SECRETS_ENDPOINT", ""),
			GCPProjectID:        getEnv("GCP_PROJECT_ID", ""),
			GCPCredentialsFile:  getEnv("GCP_CREDENTIALS_FILE", ""),
			KubernetesBasePath:  getEnv("K8S_SECRETS_BASE_PATH", ""),
		},
		Trial: TrialConfig{
			Store:             getEnv("TRIAL_STORE", "postgres"),
			ReportQuota:       getEnvAsInt("TRIAL_REPORT_QUOTA", 3),
			TokenValidityDays: getEnvAsInt("TRIAL_TOKEN_VALIDITY_DAYS", 7),
		},
		Fraud: FraudConfig{
			DenialThreshold:             getEnvAsInt("FRAUD_DENIAL_THRESHOLD", 70),
			CriticalWeight:              getEnvAsInt("FRAUD_CRITICAL_WEIGHT", 100),
			HighWeight:                  getEnvAsInt("FRAUD_HIGH_WEIGHT", 40),
			MediumWeight:                getEnvAsInt("FRAUD_MEDIUM_WEIGHT", 25),
			MaxTrialsPerDevice:          getEnvAsInt("FRAUD_MAX_TRIALS_PER_DEVICE", 1),
			ReRegistrationWindowMinutes: getEnvAsInt("FRAUD_REREG_WINDOW_MINUTES", 60),
			IPWindowHours:               getEnvAsInt("FRAUD_IP_WINDOW_HOURS", 24),
			MaxTrialsPerIP:              getEnvAsInt("FRAUD_MAX_TRIALS_PER_IP", 3),
			MaxCardReuse:                getEnvAsInt("FRAUD_MAX_CARD_REUSE", 3),
		},
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// ReplicaDSN returns the connection string for a read replica host
func (c *DatabaseConfig) ReplicaDSN(host string) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Window returns the rate limit window as a duration, defaulting to a minute
func (c *RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// TokenValidity returns the trial token validity as a duration
func (c *TrialConfig) TokenValidity() time.Duration {
	days := c.TokenValidityDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// ReRegistrationWindow returns the rapid re-registration window as a duration
func (c *FraudConfig) ReRegistrationWindow() time.Duration {
	minutes := c.ReRegistrationWindowMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// IPWindow returns the per-IP counting window as a duration
func (c *FraudConfig) IPWindow() time.Duration {
	hours := c.IPWindowHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// parseEndpointOverrides parses per-endpoint rate limit overrides from a JSON
// map keyed by route path, e.g. {"/api/v1/trials/activate":{"anonymous_limit":10}}.
func parseEndpointOverrides(raw string) map[string]EndpointRateLimitConfig {
	if raw == "" {
		return nil
	}

	overrides := make(map[string]EndpointRateLimitConfig)
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil
	}
	return overrides
}
