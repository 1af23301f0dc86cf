package store

import (
	"context"
	"database/sql"

	"github.com/selfdb-io/selfdb/internal/db"
)

// IsInitialized reads the one-row system_config latch. A missing row counts
// as uninitialized.
func IsInitialized(ctx context.Context, q db.Querier) (bool, error) {
	var v bool
	err := q.QueryRowContext(ctx, `SELECT initialized FROM system_config LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v, nil
}

// MarkInitialized flips the latch after the first successful login. The upsert
// covers a missing row on fresh databases.
func MarkInitialized(ctx context.Context, q db.Querier) error {
	res, err := q.ExecContext(ctx,
		`UPDATE system_config SET initialized = TRUE, updated_at = CURRENT_TIMESTAMP WHERE NOT initialized`)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM system_config LIMIT 1`).Scan(&exists)
	if err == sql.ErrNoRows {
		_, err = q.ExecContext(ctx,
			`INSERT INTO system_config (initialized, updated_at) VALUES (TRUE, CURRENT_TIMESTAMP)`)
	}
	return err
}

// ResetInitialized clears the latch; restore uses it so the safety gate holds
// again afterwards.
func ResetInitialized(ctx context.Context, q db.Querier) error {
	_, err := q.ExecContext(ctx, `UPDATE system_config SET initialized = FALSE, updated_at = CURRENT_TIMESTAMP`)
	return err
}
