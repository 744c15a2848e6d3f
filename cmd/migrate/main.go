// Package main applies or rolls back the embedded database migrations.
//
// Usage:
//
//	go run ./cmd/migrate                  # apply all pending migrations
//	go run ./cmd/migrate --down --steps=1 # roll back one migration
//
// DATABASE_URL is read from the environment (or .env via godotenv). Outside
// APP_ENV=local, DATABASE_URL_SSM_PARAM is resolved through SSM first.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/Smalik1203/ktscb-sub006/internal/app"
	"github.com/Smalik1203/ktscb-sub006/internal/config"
	"github.com/Smalik1203/ktscb-sub006/internal/db"
)

type options struct {
	down  bool
	steps int
}

// migrator is the subset of internal/db the command drives.
type migrator struct {
	up   func(dsn string, logger *slog.Logger) error
	down func(dsn string, steps int) error
}

func main() {
	_ = godotenv.Load()
	logger := app.NewLogger(os.Getenv("LOG_LEVEL"))

	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("Failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	m := migrator{up: db.MigrateUp, down: db.MigrateDown}
	if err := run(opts, os.Getenv("DATABASE_URL"), m, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.BoolVar(&opts.down, "down", false, "roll back instead of applying")
	fs.IntVar(&opts.steps, "steps", 1, "number of migrations to roll back with --down")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.down && opts.steps < 1 {
		fmt.Fprintln(out, "--steps must be at least 1")
		return opts, errors.New("invalid steps")
	}
	return opts, nil
}

func run(opts options, dsn string, m migrator, logger *slog.Logger) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if opts.down {
		logger.Info("rolling back migrations", "steps", opts.steps)
		return m.down(dsn, opts.steps)
	}
	logger.Info("applying migrations")
	return m.up(dsn, logger)
}
