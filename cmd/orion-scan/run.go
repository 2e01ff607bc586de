package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/internal/core"
	"github.com/e7canasta/orion-scan/internal/logging"
)

var (
	configPath string
	envFiles   []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scan service (HTTP API, MQTT control, camera)",
	RunE:  runService,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration (defaults apply when empty)")
	runCmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "Dotenv files to load before the config (default .env)")
}

func runService(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.Setup(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	log.Info("starting orion-scan",
		"config", configPath,
		"instance_id", cfg.InstanceID,
		"http_addr", cfg.HTTP.Addr,
		"mqtt_enabled", cfg.MQTT.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := core.NewService(cfg, core.Deps{})
	if err != nil {
		return fmt.Errorf("failed to create scan service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scan service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case runErr = <-errChan:
		log.Error("http server failed", "error", runErr)
	}

	shutdownTimeout := svc.ShutdownTimeout()
	log.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	log.Info("orion-scan stopped")
	return runErr
}
