package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the
// environment (database_url -> FHIRAPI_DATABASE_URL).
const EnvPrefix = "FHIRAPI"

const minSecretLength = 32

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN). postgres:// and file: / sqlite:// are supported.
	DatabaseURL string

	// Server bind address (host:port)
	ServerAddr string

	// Public base URL, used in logs and the demo command
	ServerURL string

	// Enable debug logging and relax secret checks
	Debug bool

	DB        DBConfig
	JWT       JWTConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	OTel      OTelConfig

	// TokenCacheSize bounds the verified-token cache
	TokenCacheSize int
}

// DBConfig holds connection pool settings.
type DBConfig struct {
	MaxConnections int
	MinConnections int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

// JWTConfig holds the shared HS256 secret and token lifetime.
type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type LogConfig struct {
	Level       string
	Development bool
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

// OTelConfig enables trace export when Endpoint is set.
type OTelConfig struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "file:fhirapi.db?cache=shared")
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("debug", false)
	v.SetDefault("db.max_connections", 10)
	v.SetDefault("db.min_connections", 2)
	v.SetDefault("db.connect_timeout", "30s")
	v.SetDefault("db.idle_timeout", "600s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("rate_limit.requests_per_minute", 600)
	v.SetDefault("token_cache.size", 1024)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.service_name", "fhirapi")
}

// legacyEnv lists unprefixed variable names that are still honoured. The
// timeout variables are given in whole seconds.
var legacyEnv = map[string]string{
	"database_url":       "DATABASE_URL",
	"jwt.secret":         "JWT_SECRET",
	"db.max_connections": "DB_MAX_CONNECTIONS",
	"db.min_connections": "DB_MIN_CONNECTIONS",
	"db.connect_timeout": "DB_CONNECT_TIMEOUT",
	"db.idle_timeout":    "DB_IDLE_TIMEOUT",
}

// Load reads configuration from the global viper instance, a .env file if
// present, and FHIRAPI_ prefixed environment variables. Callers that want a
// config file call viper.SetConfigFile and viper.ReadInConfig first.
func Load() (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.GetViper()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		// Prefixed names take precedence over the legacy ones.
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	// Explicit Get calls: AutomaticEnv does not populate nested keys through
	// Unmarshal, so every field is read individually.
	cfg := &Config{
		DatabaseURL: v.GetString("database_url"),
		ServerAddr:  v.GetString("server_addr"),
		ServerURL:   v.GetString("server_url"),
		Debug:       v.GetBool("debug"),
		DB: DBConfig{
			MaxConnections: v.GetInt("db.max_connections"),
			MinConnections: v.GetInt("db.min_connections"),
			ConnectTimeout: seconds(v, "db.connect_timeout"),
			IdleTimeout:    seconds(v, "db.idle_timeout"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			TTL:    v.GetDuration("jwt.ttl"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: v.GetInt("rate_limit.requests_per_minute"),
		},
		OTel: OTelConfig{
			Endpoint:    v.GetString("otel.endpoint"),
			Insecure:    v.GetBool("otel.insecure"),
			ServiceName: v.GetString("otel.service_name"),
		},
		TokenCacheSize: v.GetInt("token_cache.size"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seconds reads a duration key that may be given as a Go duration string
// ("30s") or as a bare number of seconds ("30").
func seconds(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if n := v.GetInt(key); n > 0 {
		return time.Duration(n) * time.Second
	}
	return v.GetDuration(key)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.DB.MaxConnections <= 0 {
		return fmt.Errorf("db.max_connections must be positive, got %d", c.DB.MaxConnections)
	}
	if c.DB.MinConnections < 0 || c.DB.MinConnections > c.DB.MaxConnections {
		return fmt.Errorf("db.min_connections must be between 0 and db.max_connections, got %d", c.DB.MinConnections)
	}
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("jwt.ttl must be positive")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}

// ValidateServe adds the checks that only matter when issuing tokens.
func (c *Config) ValidateServe() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required (env: %s_JWT_SECRET or JWT_SECRET)", EnvPrefix)
	}
	if len(c.JWT.Secret) < minSecretLength && !c.Debug {
		return fmt.Errorf("jwt.secret must be at least %d bytes", minSecretLength)
	}
	return nil
}
