package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port        string
		GRPCPort    string
		Env         string
		Timeout     time.Duration
		FrontendURL string
		Version     string
	}

	// Database configuration
	Database struct {
		Driver   string // postgres, sqlite or memory
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// JWT configuration
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit            float64
		RateLimitBurst       int
		SubmissionRateLimit  float64
		SubmissionRateBurst  int
		AllowedOrigins       []string
		MaxBodySize          int64
		OpenAPISchemaPath    string
		FingerprintMinLength int
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Survey lifecycle settings
	Survey struct {
		DefaultMinResponses int
		TTL                 time.Duration
	}

	// Chat settings
	Chat struct {
		HistoryLimit  int
		ContextWindow int
		MaxContentLen int
	}

	// Generative AI settings
	AI struct {
		BaseURL                 string
		Region                  string
		APIKey                  string
		AccessKey               string
		SecretKey               string
		Model                   string
		MaxTokens               int
		Temperature             float64
		RequestTimeout          time.Duration
		ModerationTimeout       time.Duration
		GenerationFailurePolicy string // fallback or reject
		ModerationFailurePolicy string // allow or reject
		CircuitFailures         int
		CircuitRetry            time.Duration
	}

	// Realtime relay settings
	Realtime struct {
		PresenceBackend string // memory or redis
		RedisURL        string
		RedisPassword   string
		RedisDB         int
		KeyPrefix       string
	}

	// Cache settings
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// Observability settings
	Observability struct {
		MetricsEnabled bool
		TracingEnabled bool
		ServiceName    string
	}

	// Vault settings
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment without touching the singleton
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "9091")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.FrontendURL = strings.TrimRight(getEnvString("FRONTEND_URL", "http://localhost:3000"), "/")
	cfg.Server.Version = getEnvString("APP_VERSION", "dev")

	cfg.Database.Driver = getEnvString("DB_DRIVER", "postgres")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "persona-ritual")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	cfg.JWT.Secret = getEnvString("JWT_SECRET", "")
	cfg.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.SubmissionRateLimit = getEnvFloat("SUBMISSION_RATE_LIMIT", 0.2)
	cfg.Security.SubmissionRateBurst = getEnvInt("SUBMISSION_RATE_BURST", 3)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20) // 1MB
	cfg.Security.OpenAPISchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "")
	cfg.Security.FingerprintMinLength = getEnvInt("FINGERPRINT_MIN_LENGTH", 8)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Survey.DefaultMinResponses = getEnvInt("SURVEY_MIN_RESPONSES", 3)
	cfg.Survey.TTL = getEnvDuration("SURVEY_TTL", 7*24*time.Hour)

	cfg.Chat.HistoryLimit = getEnvInt("CHAT_HISTORY_LIMIT", 20)
	cfg.Chat.ContextWindow = getEnvInt("CHAT_CONTEXT_WINDOW", 10)
	cfg.Chat.MaxContentLen = getEnvInt("CHAT_MAX_CONTENT_LENGTH", 2000)

	cfg.AI.BaseURL = getEnvString("ARK_BASE_URL", "")
	cfg.AI.Region = getEnvString("ARK_REGION", "")
	cfg.AI.APIKey = getEnvString("ARK_API_KEY", "")
	cfg.AI.AccessKey = getEnvString("ARK_ACCESS_KEY", "")
	cfg.AI.SecretKey = getEnvString("ARK_SECRET_KEY", "")
	cfg.AI.Model = getEnvString("ARK_MODEL", "")
	cfg.AI.MaxTokens = getEnvInt("ARK_MAX_TOKENS", 500)
	cfg.AI.Temperature = getEnvFloat("ARK_TEMPERATURE", 0.8)
	cfg.AI.RequestTimeout = getEnvDuration("AI_REQUEST_TIMEOUT", 30*time.Second)
	cfg.AI.ModerationTimeout = getEnvDuration("AI_MODERATION_TIMEOUT", 10*time.Second)
	cfg.AI.GenerationFailurePolicy = getEnvString("GENERATION_FAILURE_POLICY", "fallback")
	cfg.AI.ModerationFailurePolicy = getEnvString("MODERATION_FAILURE_POLICY", "allow")
	cfg.AI.CircuitFailures = getEnvInt("AI_CIRCUIT_FAILURES", 5)
	cfg.AI.CircuitRetry = getEnvDuration("AI_CIRCUIT_RETRY", 60*time.Second)

	cfg.Realtime.PresenceBackend = getEnvString("PRESENCE_BACKEND", "memory")
	cfg.Realtime.RedisURL = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Realtime.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.Realtime.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.Realtime.KeyPrefix = getEnvString("REDIS_KEY_PREFIX", "persona-ritual")

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	cfg.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "persona-ritual")

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "persona-ritual")

	return cfg
}

// IsProduction reports whether the service runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
