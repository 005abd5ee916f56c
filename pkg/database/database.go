// Package database manages connections to the primary PostgreSQL
// instance and optional read replicas, and provides transaction and
// retry helpers shared by the repository layer.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	// PostgreSQL driver
	_ "github.com/lib/pq"

	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Common errors
var (
	ErrMissingDSN   = errors.New("database DSN is required")
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
)

// Config defines what the database package needs.
type Config struct {
	Driver          string
	DSN             string
	ReadReplicaDSNs []string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// NewConfig creates config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Driver:          "postgres",
		MaxOpenConns:    30,
		MaxIdleConns:    20,
		ConnMaxLifetime: time.Hour,
		ConnectTimeout:  10 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Driver == "" {
		c.Driver = "postgres"
	}
	if c.DSN == "" {
		return ErrMissingDSN
	}
	return nil
}

// sanitizeDSN removes credentials from a DSN for safe logging.
func sanitizeDSN(dsn string) string {
	if strings.Contains(dsn, "password=") {
		parts := strings.Split(dsn, " ")
		sanitized := make([]string, 0, len(parts))
		for _, part := range parts {
			if strings.HasPrefix(part, "password=") {
				sanitized = append(sanitized, "password=***")
			} else {
				sanitized = append(sanitized, part)
			}
		}
		return strings.Join(sanitized, " ")
	}
	if idx := strings.Index(dsn, "://"); idx != -1 {
		if atIdx := strings.Index(dsn[idx:], "@"); atIdx != -1 {
			return dsn[:idx+3] + "***:***" + dsn[idx+atIdx:]
		}
	}
	return dsn
}

// Database is the access layer over the primary connection and any read
// replicas. Reads are routed round-robin across replicas and fall back
// to the primary when a replica fails; writes always go to the primary.
type Database struct {
	primary  *sqlx.DB
	replicas []*sqlx.DB
	next     atomic.Uint64
	logger   observability.Logger
}

// NewDatabase connects to the primary and to each configured replica. A
// replica that cannot be reached at startup is logged and skipped; the
// primary is required.
func NewDatabase(ctx context.Context, cfg *Config, logger observability.Logger) (*Database, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	primary, err := connect(connectCtx, cfg, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary database %s: %w", sanitizeDSN(cfg.DSN), err)
	}

	d := &Database{
		primary: primary,
		logger:  logger,
	}

	for _, dsn := range cfg.ReadReplicaDSNs {
		replica, err := connect(connectCtx, cfg, dsn)
		if err != nil {
			logger.Warn("Read replica unavailable, skipping", map[string]interface{}{
				"dsn":   sanitizeDSN(dsn),
				"error": err.Error(),
			})
			continue
		}
		d.replicas = append(d.replicas, replica)
	}

	logger.Info("Database connected", map[string]interface{}{
		"replicas": len(d.replicas),
	})

	return d, nil
}

func connect(ctx context.Context, cfg *Config, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// NewDatabaseWithConnection wraps an existing connection. Used by tests
// and by callers that manage their own pool.
func NewDatabaseWithConnection(db *sqlx.DB) *Database {
	return &Database{
		primary: db,
		logger:  observability.NewNoopLogger(),
	}
}

// AddReplica registers an additional read replica connection.
func (d *Database) AddReplica(db *sqlx.DB) {
	d.replicas = append(d.replicas, db)
}

// Primary returns the primary connection. All writes go through it.
func (d *Database) Primary() *sqlx.DB {
	return d.primary
}

// Reader returns the next read connection in round-robin order, or the
// primary when no replicas are configured.
func (d *Database) Reader() *sqlx.DB {
	if len(d.replicas) == 0 {
		return d.primary
	}
	n := d.next.Add(1)
	return d.replicas[(n-1)%uint64(len(d.replicas))]
}

// ReplicaCount returns the number of connected read replicas.
func (d *Database) ReplicaCount() int {
	return len(d.replicas)
}

// Read runs fn against a read connection. If the chosen replica fails
// with a connection-class error the call is retried once against the
// primary so that reads survive replica outages.
func (d *Database) Read(ctx context.Context, fn func(db *sqlx.DB) error) error {
	reader := d.Reader()
	err := fn(reader)
	if err == nil || reader == d.primary {
		return err
	}
	if !IsTransient(err) {
		return err
	}
	d.logger.Warn("Read replica query failed, falling back to primary", map[string]interface{}{
		"error": err.Error(),
	})
	return fn(d.primary)
}

// CheckHealth pings the primary and reports the round-trip latency in
// milliseconds.
func (d *Database) CheckHealth(ctx context.Context) (float64, error) {
	start := time.Now()
	var one int
	if err := d.primary.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return 0, fmt.Errorf("database health check failed: %w", err)
	}
	return float64(time.Since(start).Microseconds()) / 1000.0, nil
}

// Ping checks if the primary connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	return d.primary.PingContext(ctx)
}

// DetectVectorSupport reports whether the pgvector extension is
// installed, so callers can choose between native similarity search
// and in-process ranking.
func (d *Database) DetectVectorSupport(ctx context.Context) (bool, error) {
	var one int
	err := d.primary.QueryRowContext(ctx, "SELECT 1 FROM pg_extension WHERE extname = 'vector'").Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to detect vector support: %w", err)
	}
	return true, nil
}

// Close closes the primary and all replica connections.
func (d *Database) Close() error {
	var firstErr error
	if err := d.primary.Close(); err != nil {
		firstErr = err
	}
	for _, replica := range d.replicas {
		if err := replica.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
