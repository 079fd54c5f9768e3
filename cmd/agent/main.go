package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"teacher-agent/internal/infra/config"
	"teacher-agent/internal/infra/logger"
	"teacher-agent/internal/infra/tracer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "agent",
		Short:         "Teacher assistant: multimodal request/response and streaming API",
		Long:          "agent serves the teacher assistant over HTTP and WebSocket, routing each request to a specialised capability.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to the YAML config file")

	rootCmd.AddCommand(
		newServeCmd(&cfgPath),
		newRecordsMCPCmd(&cfgPath),
		newEncryptSecretCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *cfgPath)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func runServe(ctx context.Context, cfgPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.WithoutCancel(ctx))

	// 3. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Oracles
	oracles, err := initOracles(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	// 5. Runtime (records, capabilities, router, services, gateway)
	rt, cleanup, err := initRuntime(ctx, cfg, oracles, log)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.Error("runtime cleanup error", "error", err)
		}
	}()

	// 6. Scheduler
	if rt.Scheduler != nil {
		if err := rt.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer rt.Scheduler.Stop()
	}

	log.Info("teacher agent starting",
		"version", version,
		"addr", cfg.Server.Addr,
		"oracle", cfg.Oracle.DefaultProvider,
		"live_oracle", cfg.Oracle.LiveProvider,
		"routing", cfg.Routing.Strategy,
		"records", cfg.Records.Driver,
	)

	// 7. Gateway blocks until ctx is cancelled.
	start := time.Now()
	err = rt.Gateway.Start(ctx)
	log.Info("teacher agent stopped", "uptime", time.Since(start).Round(time.Second))
	return err
}
