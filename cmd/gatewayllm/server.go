package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatewayllm/gatewayllm/config"
	"github.com/gatewayllm/gatewayllm/internal/adminws"
	"github.com/gatewayllm/gatewayllm/internal/auth"
	"github.com/gatewayllm/gatewayllm/internal/budget"
	"github.com/gatewayllm/gatewayllm/internal/cache"
	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/internal/cooldown"
	"github.com/gatewayllm/gatewayllm/internal/database"
	"github.com/gatewayllm/gatewayllm/internal/deploycache"
	"github.com/gatewayllm/gatewayllm/internal/gateway"
	"github.com/gatewayllm/gatewayllm/internal/metrics"
	"github.com/gatewayllm/gatewayllm/internal/pricing"
	"github.com/gatewayllm/gatewayllm/internal/router"
	"github.com/gatewayllm/gatewayllm/internal/server"
	"github.com/gatewayllm/gatewayllm/internal/spend"
	"github.com/gatewayllm/gatewayllm/internal/telemetry"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/providers/anthropic"
	"github.com/gatewayllm/gatewayllm/providers/azure"
	"github.com/gatewayllm/gatewayllm/providers/bedrock"
	"github.com/gatewayllm/gatewayllm/providers/cohere"
	"github.com/gatewayllm/gatewayllm/providers/gemini"
	"github.com/gatewayllm/gatewayllm/providers/groq"
	"github.com/gatewayllm/gatewayllm/providers/mistral"
	"github.com/gatewayllm/gatewayllm/providers/ollama"
	"github.com/gatewayllm/gatewayllm/providers/openai"
	"github.com/gatewayllm/gatewayllm/providers/vllm"
)

// Server owns every long-lived component the gateway needs and
// orchestrates their startup/shutdown order.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db               *gorm.DB
	dbPool           *database.PoolManager
	telemetryProvs   *telemetry.Providers
	remoteCache      *cache.Manager
	metricsCollector *metrics.Collector
	hotReload        *config.HotReloadManager

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer wires every collaborator described by the configuration and
// returns a Server ready to Start.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := controlplane.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	dbPool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:        cfg.Database.MaxIdleConns,
		MaxOpenConns:        cfg.Database.MaxOpenConns,
		ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:     database.DefaultPoolConfig().ConnMaxIdleTime,
		HealthCheckInterval: database.DefaultPoolConfig().HealthCheckInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init db pool manager: %w", err)
	}

	var remoteCache *cache.Manager
	if cfg.Redis.Addr != "" {
		remoteCache, err = cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, deployment cache will run in-process only", zap.Error(err))
			remoteCache = nil
		}
	}

	telemetryProvs, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	keyCipher, err := controlplane.NewKeyCipher([]byte(cfg.Auth.KeyEncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("init key cipher: %w", err)
	}
	store := controlplane.NewStore(db, keyCipher, logger, controlplane.WithPool(dbPool))

	var remote deploycache.RemoteCache
	if remoteCache != nil {
		remote = remoteCache
	}
	collector := metrics.NewCollector("gatewayllm", logger)

	depCache := deploycache.New(store, cfg.Router.CacheTTL, remote, logger)
	depCache.SetMetrics(collector)

	tracker := cooldown.New(cfg.Router.CooldownTime, cfg.Router.FailureThreshold)
	tracker.OnCooldownOpen(func(deploymentID string) {
		collector.RecordCooldownOpened(deploymentID)
		logger.Warn("deployment cooldown opened", zap.String("deployment_id", deploymentID))
	})
	keyLimiter := cooldown.NewKeyLimiter(cfg.Auth.KeyRPMLimit, cfg.Auth.KeyRPDLimit)

	registry := providers.NewRegistry()
	registerProviders(registry, logger)

	strategy := router.Strategy(cfg.Router.Strategy)
	rtr := router.New(router.Config{
		Strategy:       strategy,
		NumRetries:     cfg.Router.NumRetries,
		DefaultTimeout: cfg.Router.DefaultTimeout,
		Fallbacks:      cfg.Router.Fallbacks,
	}, depCache, tracker, registry, logger)

	var staticRates map[string]pricing.Rate
	if cfg.Pricing.UseStaticTable {
		staticRates = pricing.DefaultStaticTable()
	}
	pricingMgr := pricing.NewManager(store, staticRates, logger)
	spendRecorder := spend.NewRecorder(store, pricingMgr, logger)
	spendRecorder.OnRecorded(collector.RecordSpend)

	authResolver := auth.NewResolver(db, cfg.Auth.MasterKey, []byte(cfg.Auth.JWTSecret), logger,
		auth.WithCache(remote, cfg.Auth.CacheTTL))

	var budgetMgr *budget.TokenBudgetManager
	if cfg.Budget.Enabled {
		budgetMgr = budget.NewTokenBudgetManager(budget.BudgetConfig{
			MaxTokensPerRequest: cfg.Budget.MaxTokensPerRequest,
			MaxTokensPerMinute:  cfg.Budget.MaxTokensPerMinute,
			MaxTokensPerHour:    cfg.Budget.MaxTokensPerHour,
			MaxTokensPerDay:     cfg.Budget.MaxTokensPerDay,
			MaxCostPerRequest:   cfg.Budget.MaxCostPerRequest,
			MaxCostPerDay:       cfg.Budget.MaxCostPerDay,
			AlertThreshold:      cfg.Budget.AlertThreshold,
			AutoThrottle:        cfg.Budget.AutoThrottle,
			ThrottleDelay:       cfg.Budget.ThrottleDelay,
		}, logger)
		budgetMgr.OnAlert(func(a budget.Alert) {
			logger.Warn("budget alert", zap.String("type", string(a.Type)), zap.Float64("current", a.Current))
		})
	}

	gw := &gateway.Gateway{
		Auth:           authResolver,
		Router:         rtr,
		Spend:          spendRecorder,
		Models:         store,
		ModelTypes:     store,
		Tracker:        tracker,
		KeyLimiter:     keyLimiter,
		Budget:         budgetMgr,
		Metrics:        collector,
		Logger:         logger,
		RequestTimeout: cfg.Router.DefaultTimeout,
	}

	hotReload := config.NewHotReloadManager(cfg, config.WithHotReloadLogger(logger))
	configAPI := config.NewConfigAPIHandler(hotReload)
	adminHub := adminws.NewHub(logger)
	hotReload.OnChange(func(change config.ConfigChange) {
		adminHub.Broadcast(adminws.Event{
			Type:      "config_change",
			Timestamp: change.Timestamp,
			Payload:   change,
		})
	})

	mux := http.NewServeMux()
	gw.Routes(mux)
	configAPI.RegisterRoutes(mux)
	mux.Handle("/admin/ws", adminHub)

	handler := Chain(mux,
		Recovery(logger),
		RequestID(),
		RequestLogger(logger),
		MetricsMiddleware(collector),
		OTelTracing(),
		CORS(cfg.Server.CORSAllowedOrigins),
		RateLimiter(context.Background(), float64(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst, logger),
	)

	httpManager := server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsManager := server.NewManager(metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return &Server{
		cfg:              cfg,
		logger:           logger,
		db:               db,
		dbPool:           dbPool,
		telemetryProvs:   telemetryProvs,
		remoteCache:      remoteCache,
		metricsCollector: collector,
		hotReload:        hotReload,
		httpManager:      httpManager,
		metricsManager:   metricsManager,
	}, nil
}

// registerProviders binds every built-in adapter into registry under its
// provider type name.
func registerProviders(registry *providers.Registry, logger *zap.Logger) {
	registry.Register("openai", openai.New(logger), "gpt-*", "o1*", "o3*")
	registry.Register("anthropic", anthropic.New("", 0, logger), "claude-*")
	registry.Register("azure", azure.New(logger))
	registry.Register("bedrock", bedrock.New(logger))
	registry.Register("gemini", gemini.New("", 0, logger), "gemini-*")
	registry.Register("groq", groq.New(logger))
	registry.Register("cohere", cohere.New(logger), "command-*")
	registry.Register("mistral", mistral.New(logger), "mistral-*", "codestral-*")
	registry.Register("ollama", ollama.New(logger))
	registry.Register("vllm", vllm.New(logger))
}

// openDatabase opens the configured GORM connection. Only postgres is
// supported. Pool
// tuning is applied afterward by internal/database.NewPoolManager, which
// also takes over the health-check loop and retrying transactions.
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	gormLogLevel := gormlogger.Warn
	if logger.Core().Enabled(zapcore.DebugLevel) {
		gormLogLevel = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(dbCfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Start brings up config hot reload, then the metrics and API HTTP
// servers, in that order.
func (s *Server) Start() error {
	if err := s.hotReload.Start(context.Background()); err != nil {
		return fmt.Errorf("start hot reload manager: %w", err)
	}

	if err := s.metricsManager.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	s.logger.Info("metrics server listening", zap.String("addr", s.metricsManager.Addr()))

	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	s.logger.Info("gateway listening", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// WaitForShutdown blocks until an OS signal or server error triggers
// shutdown, then tears every component down in reverse dependency order.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown tears down every owned component. Safe to call once; each
// component's own Shutdown/Close is individually idempotent-tolerant.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.hotReload.Stop(); err != nil {
		s.logger.Error("hot reload manager shutdown error", zap.Error(err))
	}
	if err := s.httpManager.Shutdown(ctx); err != nil {
		s.logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := s.metricsManager.Shutdown(ctx); err != nil {
		s.logger.Error("metrics server shutdown error", zap.Error(err))
	}
	if s.telemetryProvs != nil {
		if err := s.telemetryProvs.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
	if s.remoteCache != nil {
		if err := s.remoteCache.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			s.logger.Error("database close error", zap.Error(err))
		}
	}
	s.logger.Info("shutdown complete")
}
