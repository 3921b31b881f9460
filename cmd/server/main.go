// Package main is the entry point for the code review server.
//
// main stays minimal:
// 1. Read configuration (.env, optional YAML file, environment)
// 2. Create the logger and error reporting
// 3. Build and start the server
//
// All actual logic lives in the internal/ packages.
package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/sakif/code-reviewer/internal/config"
	"github.com/sakif/code-reviewer/internal/observability"
	"github.com/sakif/code-reviewer/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", slog.String("error", err.Error()))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init sentry failed", slog.String("error", err.Error()))
	}
	defer observability.Flush()

	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			return 1
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		return 1
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return 1
	}
	return 0
}
