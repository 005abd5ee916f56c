// Package repository provides persistence for memory entities: messages,
// archived twins, embedding jobs, retention policies and retention rules.
//
// Repositories hold the shared database handle and route reads through
// replicas with automatic primary fallback. WithTx returns a copy bound
// to an open transaction so that multi-statement operations commit
// atomically; callers own the transaction lifecycle.
package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Querier is the query surface shared by *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

var (
	_ Querier = (*sqlx.DB)(nil)
	_ Querier = (*sqlx.Tx)(nil)
)

// Repositories bundles the per-entity repositories over one database.
type Repositories struct {
	Messages  MessageRepository
	Jobs      JobRepository
	Retention RetentionRepository

	db *database.Database
}

// New creates the repository set.
func New(db *database.Database, logger observability.Logger) *Repositories {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Repositories{
		Messages:  NewMessageRepository(db, logger),
		Jobs:      NewJobRepository(db, logger),
		Retention: NewRetentionRepository(db, logger),
		db:        db,
	}
}

// Transaction runs fn inside a single transaction, handing it
// transaction-bound copies of every repository.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return fn(&Repositories{
			Messages:  r.Messages.WithTx(tx),
			Jobs:      r.Jobs.WithTx(tx),
			Retention: r.Retention.WithTx(tx),
			db:        r.db,
		})
	})
}

// DB exposes the underlying database handle for health checks.
func (r *Repositories) DB() *database.Database {
	return r.db
}
