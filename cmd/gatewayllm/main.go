// Command gatewayllm runs the OpenAI-compatible multi-tenant LLM gateway:
// request authentication, deployment routing, cooldown-aware failover, and
// spend recording, fronted by a single HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gatewayllm/gatewayllm/config"
	"github.com/gatewayllm/gatewayllm/internal/controlplane"
)

// version is set via -ldflags "-X main.version=..." at release build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "gatewayllm",
		Short: "OpenAI-compatible multi-tenant LLM gateway",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML (env vars always apply on top)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newMigrateCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway's API and metrics HTTP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := initLogger(cfg.Log)
			defer logger.Sync() //nolint:errcheck

			srv, err := NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("start server: %w", err)
			}
			srv.WaitForShutdown()
			return nil
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run control-plane schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := initLogger(cfg.Log)
			defer logger.Sync() //nolint:errcheck

			db, err := openDatabase(cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if err := controlplane.AutoMigrate(db); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			logger.Info("migration complete")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	writers := make([]zapcore.WriteSyncer, 0, len(outputs))
	for _, p := range outputs {
		switch p {
		case "stdout":
			writers = append(writers, zapcore.AddSync(os.Stdout))
		case "stderr":
			writers = append(writers, zapcore.AddSync(os.Stderr))
		default:
			f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				continue
			}
			writers = append(writers, zapcore.AddSync(f))
		}
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(core, opts...)
}
