// =============================================================================
// Gateway configuration loader
// =============================================================================
// Unified config loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("GATEWAYLLM").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Core configuration structures
// =============================================================================

// Config is the gateway's complete configuration.
type Config struct {
	// Server holds HTTP server settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Auth holds authentication settings (master key, JWT).
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Router holds the routing policy.
	Router RouterConfig `yaml:"router" env:"ROUTER"`

	// Redis configures the optional remote layer for the deployment and
	// auth caches.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database configures the control-plane database.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Pricing holds the billing settings.
	Pricing PricingConfig `yaml:"pricing" env:"PRICING"`

	// Budget configures the process-wide token/cost safety valve.
	Budget BudgetConfig `yaml:"budget" env:"BUDGET"`

	// Log holds logging settings.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry holds tracing/metrics export settings.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// HTTP listen port.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Prometheus metrics port.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Per-client requests-per-second ceiling for the HTTP rate limiter.
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Burst allowance on top of RateLimitRPS.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORSAllowedOrigins lists origins allowed cross-origin access to the
	// config API; empty rejects all cross-origin requests.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// MasterKey is the always-admitted operator credential, bypassing
	// DB/JWT resolution.
	MasterKey string `yaml:"master_key" env:"MASTER_KEY"`
	// JWTSecret is the HMAC key validating short-lived session JWTs.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// CacheTTL bounds AuthContext lifetime in the cache -> DB -> JWT
	// resolution chain.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// KeyEncryptionKey is the AEAD master key for deployment/provider
	// credentials at rest.
	KeyEncryptionKey string `yaml:"key_encryption_key" env:"KEY_ENCRYPTION_KEY"`
	// KeyRPMLimit caps requests per minute per API key
	// (internal/cooldown.KeyLimiter); <=0 disables the dimension.
	KeyRPMLimit int `yaml:"key_rpm_limit" env:"KEY_RPM_LIMIT"`
	// KeyRPDLimit caps requests per day per API key; <=0 disables.
	KeyRPDLimit int `yaml:"key_rpd_limit" env:"KEY_RPD_LIMIT"`
}

// RouterConfig holds the routing policy.
type RouterConfig struct {
	// Strategy: simple-shuffle, least-busy, latency-based, priority-based, round-robin
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// NumRetries is the per-candidate retry count.
	NumRetries int `yaml:"num_retries" env:"NUM_RETRIES"`
	// DefaultTimeout applies when neither the caller nor the deployment
	// sets one.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// CooldownTime is the sliding failure-window length.
	CooldownTime time.Duration `yaml:"cooldown_time" env:"COOLDOWN_TIME"`
	// FailureThreshold is the failure count within the window that opens
	// a cooldown.
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// CacheTTL is the deployment cache's global TTL.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// Fallbacks maps a public model name to its ordered fallback models.
	Fallbacks map[string][]string `yaml:"fallbacks" env:"-"`
}

// validStrategies mirrors the five selection rules internal/router.Strategy
// names; kept as plain strings here so config stays free of
// internal-package imports.
var validStrategies = map[string]bool{
	"simple-shuffle": true,
	"least-busy":     true,
	"latency-based":  true,
	"priority-based": true,
	"round-robin":    true,
}

// PricingConfig holds the billing settings.
type PricingConfig struct {
	// UseStaticTable falls back to the bundled static pricing table when
	// a deployment has no linked pricing row.
	UseStaticTable bool `yaml:"use_static_table" env:"USE_STATIC_TABLE"`
}

// BudgetConfig configures internal/budget's process-wide token safety
// valve. It sits behind the per-key budget/RPM/RPD checks the admit
// phase already runs: a global minute/hour/day token window across all
// keys and orgs, stopping a single gateway process from forwarding
// without bound while the control-plane limits are stale or bypassed.
type BudgetConfig struct {
	// Enabled false skips the valve entirely (the default), leaving only
	// the per-key limits.
	Enabled             bool    `yaml:"enabled" env:"ENABLED"`
	MaxTokensPerRequest int     `yaml:"max_tokens_per_request" env:"MAX_TOKENS_PER_REQUEST"`
	MaxTokensPerMinute  int     `yaml:"max_tokens_per_minute" env:"MAX_TOKENS_PER_MINUTE"`
	MaxTokensPerHour    int     `yaml:"max_tokens_per_hour" env:"MAX_TOKENS_PER_HOUR"`
	MaxTokensPerDay     int     `yaml:"max_tokens_per_day" env:"MAX_TOKENS_PER_DAY"`
	MaxCostPerRequest   float64 `yaml:"max_cost_per_request" env:"MAX_COST_PER_REQUEST"`
	MaxCostPerDay       float64 `yaml:"max_cost_per_day" env:"MAX_COST_PER_DAY"`
	// AlertThreshold fires a one-shot alert when utilization reaches this
	// fraction (0.0-1.0).
	AlertThreshold float64 `yaml:"alert_threshold" env:"ALERT_THRESHOLD"`
	// AutoThrottle rejects requests after the minute window tops out,
	// until ThrottleDelay passes.
	AutoThrottle  bool          `yaml:"auto_throttle" env:"AUTO_THROTTLE"`
	ThrottleDelay time.Duration `yaml:"throttle_delay" env:"THROTTLE_DELAY"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Address.
	Addr string `yaml:"addr" env:"ADDR"`
	// Password.
	Password string `yaml:"password" env:"PASSWORD"`
	// Database number.
	DB int `yaml:"db" env:"DB"`
	// Connection pool size.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// Minimum idle connections.
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig holds control-plane database settings.
type DatabaseConfig struct {
	// Driver: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host.
	Host string `yaml:"host" env:"HOST"`
	// Port.
	Port int `yaml:"port" env:"PORT"`
	// User.
	User string `yaml:"user" env:"USER"`
	// Password.
	Password string `yaml:"password" env:"PASSWORD"`
	// Database name.
	Name string `yaml:"name" env:"NAME"`
	// SSL mode.
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// Max open connections.
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// Max idle connections.
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// Connection max lifetime.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Annotate entries with the calling site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// Attach stack traces to error-level entries.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig holds tracing/metrics export settings.
type TelemetryConfig struct {
	// Enabled toggles OTel SDK initialization.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC endpoint.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// Service name reported in resource attributes.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// Trace sample rate.
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// Configuration loader
// =============================================================================

// Loader loads configuration, builder style.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GATEWAYLLM",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a config validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads configuration.
// Precedence: defaults -> YAML file -> environment variables.
func (l *Loader) Load() (*Config, error) {
	// 1. Start from defaults.
	cfg := DefaultConfig()

	// 2. Overlay the YAML file, if one was given.
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. Overlay environment variables.
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. Run validators.
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile overlays config from the YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file: defaults apply.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv overlays config from environment variables.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks struct fields recursively.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// Recurse into nested structs.
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue assigns a parsed env value to a struct field.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration parses as a duration string, not an integer.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads config, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads config from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	if c.Router.NumRetries < 0 {
		errs = append(errs, "router.num_retries must not be negative")
	}
	if !validStrategies[c.Router.Strategy] {
		errs = append(errs, "router.strategy must be one of simple-shuffle, least-busy, latency-based, priority-based, round-robin")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
