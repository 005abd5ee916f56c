package database

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Transaction executes fn within a transaction on the primary. The
// transaction is rolled back when fn returns an error or panics.
func (d *Database) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if d == nil || d.primary == nil {
		panic("database.Transaction: database is not initialized")
	}

	tx, err := d.primary.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Failed to rollback transaction", map[string]interface{}{
				"rollback_error": rbErr.Error(),
				"original_error": err.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
