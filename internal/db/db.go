// Package db is the thin access layer over the pooled SQL connection. The
// pool is a "null pool": idle connections are never retained in-process, so
// keepalive is delegated to the external pooler (pgbouncer). Each request
// borrows one connection for its lifetime and releases it on request end.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Querier is satisfied by *sql.Conn, *sql.Tx and *sql.DB, letting store code
// run inside or outside an explicit transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the null pool.
type DB struct {
	sql *sql.DB
	log zerolog.Logger
}

// Open connects, caps concurrent borrows, and verifies the schema has been
// provisioned by the database init scripts.
func Open(ctx context.Context, url string, maxConns int, log zerolog.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	// Null pool: drop connections as soon as the request releases them and
	// let pgbouncer do the pooling. Double pooling hides pooler saturation.
	sqlDB.SetMaxIdleConns(0)
	sqlDB.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	var exists bool
	err = sqlDB.QueryRowContext(pingCtx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables WHERE table_name = 'system_config'
		)`).Scan(&exists)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("check system_config: %w", err)
	}
	if !exists {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database not initialized: system_config table missing; run the init scripts first")
	}

	return &DB{sql: sqlDB, log: log}, nil
}

// Wrap adopts an already-open handle. Startup goes through Open; Wrap exists
// for callers that bring their own pool, such as tests.
func Wrap(sqlDB *sql.DB, log zerolog.Logger) *DB {
	return &DB{sql: sqlDB, log: log}
}

// Conn borrows a connection scoped to the request lifetime. The caller must
// Close it when the request ends.
func (d *DB) Conn(ctx context.Context) (*sql.Conn, error) {
	return d.sql.Conn(ctx)
}

// Pool exposes the underlying handle for callers that do not need
// per-request scoping (the backup latch check, schema introspection).
func (d *DB) Pool() *sql.DB { return d.sql }

func (d *DB) Close() error { return d.sql.Close() }

// SetJWTClaims publishes the caller's identity as transaction-local settings
// so database-side row policies can read request.jwt.claims.*. The TRUE third
// argument scopes the value to the current transaction.
func SetJWTClaims(ctx context.Context, q Querier, userID, role string) error {
	_, err := q.ExecContext(ctx,
		`SELECT set_config('request.jwt.claims.user_id', $1, TRUE), set_config('request.jwt.claims.role', $2, TRUE)`,
		userID, role)
	return err
}

// RowsToMaps decodes a result set into ordered column maps, the shape the SQL
// console streams back to the caller.
func RowsToMaps(rows *sql.Rows) (cols []string, out []map[string]any, err error) {
	cols, err = rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = normalizeValue(vals[i])
		}
		out = append(out, m)
	}
	return cols, out, rows.Err()
}

// normalizeValue makes driver values JSON-encodable. lib/pq hands back []byte
// for text-ish columns; timestamps come through as time.Time already.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
