// =============================================================================
// Gateway default configuration
// =============================================================================
// Sensible defaults for every config field.
// =============================================================================
package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Auth:      DefaultAuthConfig(),
		Router:    DefaultRouterConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Pricing:   DefaultPricingConfig(),
		Budget:    DefaultBudgetConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:       100,
		RateLimitBurst:     200,
		CORSAllowedOrigins: []string{},
	}
}

// DefaultAuthConfig returns the default auth configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		MasterKey:        "",
		JWTSecret:        "",
		CacheTTL:         60 * time.Second,
		KeyEncryptionKey: "",
		KeyRPMLimit:      0,
		KeyRPDLimit:      0,
	}
}

// DefaultRouterConfig returns the default routing configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Strategy:         "simple-shuffle",
		NumRetries:       2,
		DefaultTimeout:   60 * time.Second,
		CooldownTime:     60 * time.Second,
		FailureThreshold: 3,
		CacheTTL:         60 * time.Second,
		Fallbacks:        map[string][]string{},
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "gatewayllm",
		Password:        "",
		Name:            "gatewayllm",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultPricingConfig returns the default pricing configuration.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		UseStaticTable: true,
	}
}

// DefaultBudgetConfig returns the default token safety-valve configuration
// (disabled by default).
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		Enabled:             false,
		MaxTokensPerRequest: 100000,
		MaxTokensPerMinute:  1000000,
		MaxTokensPerHour:    20000000,
		MaxTokensPerDay:     200000000,
		MaxCostPerRequest:   50.0,
		MaxCostPerDay:       5000.0,
		AlertThreshold:      0.8,
		AutoThrottle:        true,
		ThrottleDelay:       30 * time.Second,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "gatewayllm",
		SampleRate:   0.1,
	}
}
