package main

// Package main is the entry point for pdsa-server, the predictive downtime
// and smart alerts API.
//
// Responsibilities:
//   - Load and validate configuration from YAML, .env, environment variables and CLI flags
//   - Initialize structured logging and, when an endpoint is configured, tracing
//   - Serve the REST API (health, ready, metrics, train, predict, alerts)
//   - Hot-reload alert thresholds and the Slack webhook when the config file changes
//   - Shut down gracefully on SIGINT/SIGTERM

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pdsa/internal/config"
	"github.com/kubilitics/kubilitics-pdsa/internal/logger"
	"github.com/kubilitics/kubilitics-pdsa/internal/server"
	"github.com/kubilitics/kubilitics-pdsa/internal/tracing"
	"github.com/kubilitics/kubilitics-pdsa/internal/version"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		configPath string
		port       int
	)
	cmd := &cobra.Command{
		Use:           "pdsa-server",
		Short:         "Predictive downtime and smart alerts API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			override := 0
			if cmd.Flags().Changed("port") {
				override = port
			}
			return run(cmd.Context(), configPath, override)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file (optional)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config and environment)")
	cmd.SetVersionTemplate(fmt.Sprintf("pdsa-server {{.Version}} (commit %s, built %s)\n", version.Commit, version.BuildDate))
	return cmd
}

func run(ctx context.Context, configPath string, port int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := mgr.Get(ctx)
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := mgr.Validate(ctx); err != nil {
		return err
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	shutdownTracing, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.SamplingRate)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	srv, err := server.NewServer(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	srv.WatchConfig(mgr.Watch(ctx))

	log.Info("pdsa-server ready",
		zap.String("version", version.Version),
		zap.String("addr", srv.Addr()),
		zap.String("config", configPath),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	cancel()
	return srv.Stop()
}
