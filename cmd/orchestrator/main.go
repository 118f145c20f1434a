// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the Sehat query service.
//
// Configuration comes from SEHAT_* environment variables; see
// orchestrator.ConfigFromEnv for the full list. SEHAT_LOG_LEVEL and
// SEHAT_LOG_DIR control logging. The process shuts down gracefully on
// SIGINT or SIGTERM, draining in-flight streams for up to ten seconds.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SehatAI/SehatOSS/pkg/logging"
	"github.com/SehatAI/SehatOSS/services/orchestrator"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("SEHAT_LOG_LEVEL")),
		LogDir:  os.Getenv("SEHAT_LOG_DIR"),
		Service: "orchestrator",
		JSON:    true,
	})
	slog.SetDefault(logger.Slog())

	err := run()
	if cerr := logger.Close(); cerr != nil {
		slog.Error("Failed to close logger", "error", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

func run() error {
	svc, err := orchestrator.New(orchestrator.ConfigFromEnv(), nil)
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server failed", "error", err)
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
		if err := <-errCh; err != nil {
			slog.Error("Server exited with error", "error", err)
			return err
		}
	}

	slog.Info("Orchestrator stopped")
	return nil
}
