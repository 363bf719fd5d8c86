// Package main provides a CLI tool for database migrations and batch table
// maintenance.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/keyword-research-service/internal/config"
	"github.com/helixir/keyword-research-service/internal/database"
	"github.com/helixir/keyword-research-service/internal/observability"
	"github.com/helixir/keyword-research-service/internal/repository"
)

type action int

const (
	actionNone action = iota
	actionUp
	actionDown
	actionSteps
	actionVersion
	actionForce
	actionAbandon
)

type options struct {
	action action
	steps  int
	force  int
	path   string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. Exactly one action must be given.
func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	up := fs.Bool("up", false, "Run all pending migrations")
	down := fs.Bool("down", false, "Roll back all migrations")
	steps := fs.Int("steps", 0, "Run N migration steps (positive=up, negative=down)")
	version := fs.Bool("version", false, "Print the current migration version")
	force := fs.Int("force", -1, "Force set migration version (use to recover from failed migrations)")
	abandon := fs.Bool("abandon-running", false, "Mark batches left running by a stopped server as cancelled")
	path := fs.String("path", "", "Override the migrations directory path")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{steps: *steps, force: *force, path: *path}
	chosen := 0
	pick := func(set bool, a action) {
		if set {
			chosen++
			opts.action = a
		}
	}
	pick(*up, actionUp)
	pick(*down, actionDown)
	pick(*steps != 0, actionSteps)
	pick(*version, actionVersion)
	pick(*force >= 0, actionForce)
	pick(*abandon, actionAbandon)

	switch {
	case chosen == 0:
		return options{}, errors.New("no action specified: use one of -up, -down, -steps N, -version, -force V, -abandon-running")
	case chosen > 1:
		return options{}, errors.New("specify only one action at a time")
	}
	return opts, nil
}

func run() error {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		flag.Usage()
		return err
	}

	// Load configuration (database settings from env/config file).
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if opts.action == actionAbandon {
		n, err := repository.NewPgBatchRepository(db).AbandonRunning(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("abandon running batches: %w", err)
		}
		logger.Info().Int64("batches", n).Msg("running batches marked cancelled")
		return nil
	}

	migrationDir := cfg.Database.MigrationPath
	if opts.path != "" {
		migrationDir = opts.path
	}

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch opts.action {
	case actionUp:
		err = migrator.Up()
	case actionDown:
		logger.Warn().Msg("rolling back all migrations")
		err = migrator.Down()
	case actionSteps:
		logger.Info().Int("steps", opts.steps).Msg("running migration steps")
		err = migrator.Steps(opts.steps)
	case actionForce:
		logger.Warn().Int("version", opts.force).Msg("forcing migration version")
		err = migrator.Force(opts.force)
	case actionVersion:
	}
	if err != nil {
		return err
	}

	printVersion(migrator, logger)
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
