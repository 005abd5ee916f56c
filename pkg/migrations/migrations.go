// Package migrations applies the versioned SQL schema under
// migrations/sql with golang-migrate.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"

	// File source for migration scripts
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"

	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Config locates the migration files and bounds how long a run may take.
type Config struct {
	Path    string
	Timeout time.Duration
}

// Runner drives schema migrations against the primary database.
type Runner struct {
	migrator *migrate.Migrate
	timeout  time.Duration
	logger   observability.Logger
}

// NewRunner binds the SQL files under cfg.Path to db.
func NewRunner(db *sqlx.DB, cfg Config, logger observability.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db connection cannot be nil")
	}
	if cfg.Path == "" {
		cfg.Path = "migrations/sql"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", cfg.Path), "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Runner{
		migrator: migrator,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

// Up applies every pending migration. An already current schema is not
// an error.
func (r *Runner) Up(ctx context.Context) error {
	return r.run(ctx, r.migrator.Up)
}

// Down rolls every migration back.
func (r *Runner) Down(ctx context.Context) error {
	return r.run(ctx, r.migrator.Down)
}

// Steps applies n migrations forward, or backward when n is negative.
func (r *Runner) Steps(ctx context.Context, n int) error {
	return r.run(ctx, func() error { return r.migrator.Steps(n) })
}

// run executes fn under the configured timeout. golang-migrate does not
// take a context, so the bound is enforced from outside.
func (r *Runner) run(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if errors.Is(err, migrate.ErrNoChange) {
			r.logger.Info("Schema already up to date", nil)
			return nil
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("migration timeout after %s", r.timeout)
	}
}

// Version reports the current schema version and whether the last run
// left it dirty. A pristine database reports version 0.
func (r *Runner) Version() (uint, bool, error) {
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force overwrites the recorded version without running anything. For
// recovering a dirty schema only.
func (r *Runner) Force(version int) error {
	return r.migrator.Force(version)
}

// Close releases the migrator's source and database handles.
func (r *Runner) Close() error {
	sourceErr, dbErr := r.migrator.Close()
	if sourceErr != nil {
		return sourceErr
	}
	return dbErr
}
