package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	ReviewAPI ReviewAPIConfig
	OpenAI    OpenAIConfig
	Workflow  WorkflowConfig
	OTEL      OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds the durable state tier configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds the session state tier configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// ReviewAPIConfig points at the external review/enhancement service
type ReviewAPIConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// OpenAIConfig holds OpenAI configuration for the alternative enhancer
type OpenAIConfig struct {
	APIKey         string
	Model          string
	RateLimitRPM   int
	RateLimitBurst int
}

// WorkflowConfig holds enhancement workflow tuning
type WorkflowConfig struct {
	// EnhanceProvider selects the enhancer: "reviewapi" or "openai".
	EnhanceProvider  string
	EnhanceTimeout   time.Duration
	EnhanceLockTTL   time.Duration
	SessionTTL       time.Duration
	StateTokenSecret string
	StateTokenMax    int
	ClinicTitle      string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables. Values may also come
// from a dotenv file named by CONFIG_FILE (default ".env"); the environment
// wins over the file.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env: src.getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:           src.getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           src.getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: src.getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Enabled:  src.getEnvAsBool("DB_ENABLED", true),
			Host:     src.getEnv("DB_HOST", "localhost"),
			Port:     src.getEnvAsInt("DB_PORT", 5432),
			User:     src.getEnv("DB_USER", "postgres"),
			Password: src.getEnv("DB_PASSWORD", ""),
			Database: src.getEnv("DB_NAME", "clinical_notes"),
			SSLMode:  src.getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  src.getEnvAsBool("REDIS_ENABLED", true),
			Host:     src.getEnv("REDIS_HOST", "localhost"),
			Port:     src.getEnvAsInt("REDIS_PORT", 6379),
			Password: src.getEnv("REDIS_PASSWORD", ""),
			DB:       src.getEnvAsInt("REDIS_DB", 0),
			PoolSize: src.getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		ReviewAPI: ReviewAPIConfig{
			URL:     src.getEnv("REVIEW_API_URL", "http://localhost:9000"),
			APIKey:  src.getEnv("REVIEW_API_KEY", ""),
			Timeout: src.getEnvAsDuration("REVIEW_API_TIMEOUT", 30*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:         src.getEnv("OPENAI_API_KEY", ""),
			Model:          src.getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			RateLimitRPM:   src.getEnvAsInt("OPENAI_RATE_LIMIT_RPM", 60),
			RateLimitBurst: src.getEnvAsInt("OPENAI_RATE_LIMIT_BURST", 5),
		},
		Workflow: WorkflowConfig{
			EnhanceProvider:  strings.ToLower(src.getEnv("ENHANCE_PROVIDER", "reviewapi")),
			EnhanceTimeout:   src.getEnvAsDuration("ENHANCE_TIMEOUT", 60*time.Second),
			EnhanceLockTTL:   src.getEnvAsDuration("ENHANCE_LOCK_TTL", 90*time.Second),
			SessionTTL:       src.getEnvAsDuration("SESSION_TTL", 8*time.Hour),
			StateTokenSecret: src.getEnv("STATE_TOKEN_SECRET", ""),
			StateTokenMax:    src.getEnvAsInt("STATE_TOKEN_MAX_BYTES", 64*1024),
			ClinicTitle:      src.getEnv("CLINIC_TITLE", "CLINICAL NOTE"),
		},
		OTEL: OTELConfig{
			ServiceName:    src.getEnv("OTEL_SERVICE_NAME", "clinical-notes"),
			ServiceVersion: src.getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       src.getEnv("OTEL_ENDPOINT", ""),
			Enabled:        src.getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	switch c.Workflow.EnhanceProvider {
	case "reviewapi", "openai":
	default:
		return fmt.Errorf("unknown ENHANCE_PROVIDER %q", c.Workflow.EnhanceProvider)
	}
	if c.Workflow.EnhanceProvider == "openai" && c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when ENHANCE_PROVIDER=openai")
	}
	if c.Env == "production" && c.Workflow.StateTokenSecret == "" {
		return fmt.Errorf("STATE_TOKEN_SECRET is required in production")
	}
	if c.Workflow.EnhanceTimeout <= 0 {
		return fmt.Errorf("ENHANCE_TIMEOUT must be positive")
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// source resolves settings from the environment and an optional dotenv file.
type source struct {
	v *viper.Viper
}

func newSource(file string) (*source, error) {
	v := viper.New()
	v.AutomaticEnv()

	explicit := file != ""
	if !explicit {
		file = ".env"
	}
	v.SetConfigFile(file)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && explicit {
		return nil, fmt.Errorf("read config file %s: %w", file, err)
	}
	return &source{v: v}, nil
}

func (s *source) lookup(key string) string {
	return strings.TrimSpace(s.v.GetString(key))
}

func (s *source) getEnv(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *source) getEnvAsInt(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func (s *source) getEnvAsBool(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func (s *source) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (s *source) getEnvAsList(key string, defaultValue []string) []string {
	value := s.lookup(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
