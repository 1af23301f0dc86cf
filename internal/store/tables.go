package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

const tableColumns = `id, name, table_schema, public, owner_id, description, metadata, row_count, realtime_enabled, created_at, updated_at`

// TableSortable is the sort_by allowlist for table listings.
var TableSortable = map[string]bool{
	"name":       true,
	"row_count":  true,
	"created_at": true,
	"updated_at": true,
}

func scanTable(row interface{ Scan(...any) error }) (*model.Table, error) {
	var (
		t     model.Table
		owner uuid.NullUUID
		desc  sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &t.TableSchema, &t.Public, &owner, &desc,
		&t.Metadata, &t.RowCount, &t.RealtimeEnabled, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.OwnerID = nullUUIDPtr(owner)
	t.Description = nullStrPtr(desc)
	return &t, nil
}

// GetTable fetches a registry entry by id.
func GetTable(ctx context.Context, q db.Querier, id uuid.UUID) (*model.Table, error) {
	t, err := scanTable(q.QueryRowContext(ctx, `SELECT `+tableColumns+` FROM tables WHERE id = $1`, id))
	if err != nil {
		return nil, httpx.MapDBError(err, "Table")
	}
	return t, nil
}

// GetTableByName fetches a registry entry by physical table name.
func GetTableByName(ctx context.Context, q db.Querier, name string) (*model.Table, error) {
	t, err := scanTable(q.QueryRowContext(ctx, `SELECT `+tableColumns+` FROM tables WHERE name = $1`, name))
	if err != nil {
		return nil, httpx.MapDBError(err, "Table")
	}
	return t, nil
}

// InsertTable writes a registry row. The physical table must already exist;
// the engine creates both in one transaction.
func InsertTable(ctx context.Context, q db.Querier, t *model.Table) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO tables (id, name, table_schema, public, owner_id, description, metadata, row_count, realtime_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Name, t.TableSchema, t.Public, t.OwnerID, t.Description,
		t.Metadata, t.RowCount, t.RealtimeEnabled, t.CreatedAt, t.UpdatedAt)
	return err
}

// CountTables counts registry entries matching the search term.
func CountTables(ctx context.Context, q db.Querier, search string) (int64, error) {
	if err := ValidateSearchTerm(search); err != nil {
		return 0, err
	}
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tables
		 WHERE ($1 = '' OR name ILIKE $2 OR description ILIKE $2)`,
		search, "%"+search+"%").Scan(&n)
	return n, err
}

// ListTables pages through registry entries. When includePrivate is false
// (anonymous caller) only public tables are returned.
func ListTables(ctx context.Context, q db.Querier, opts ListOptions, includePrivate bool) ([]*model.Table, error) {
	if err := opts.Normalize(100, TableSortable, "created_at"); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+tableColumns+` FROM tables
		 WHERE ($1 = '' OR name ILIKE $2 OR description ILIKE $2)
		   AND (public OR $3)
		 `+opts.OrderClause()+` OFFSET $4 LIMIT $5`,
		opts.Search, opts.LikePattern(), includePrivate, opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tables := []*model.Table{}
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// TableUpdate carries PATCH-able registry fields. Renames also move the
// physical table; the engine handles that and calls UpdateTableMeta for the
// registry half.
type TableUpdate struct {
	Name            *string            `json:"name"`
	Description     *string            `json:"description"`
	Public          *bool              `json:"public"`
	Metadata        model.JSONMap      `json:"metadata"`
	RealtimeEnabled *bool              `json:"realtime_enabled"`
	TableSchema     model.TableSchema  `json:"-"`
}

// UpdateTableMeta applies a partial registry update and returns the fresh row.
func UpdateTableMeta(ctx context.Context, q db.Querier, id uuid.UUID, upd TableUpdate) (*model.Table, error) {
	var meta any
	if upd.Metadata != nil {
		meta = upd.Metadata
	}
	var schema any
	if upd.TableSchema != nil {
		schema = upd.TableSchema
	}
	res, err := q.ExecContext(ctx,
		`UPDATE tables SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			public = COALESCE($4, public),
			metadata = COALESCE($5, metadata),
			realtime_enabled = COALESCE($6, realtime_enabled),
			table_schema = COALESCE($7, table_schema),
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		id, upd.Name, upd.Description, upd.Public, meta, upd.RealtimeEnabled, schema)
	if err != nil {
		return nil, httpx.MapDBError(err, "Table")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, httpx.NotFound("Table")
	}
	return GetTable(ctx, q, id)
}

// DeleteTableEntry removes only the registry row; the engine drops the
// physical table in the same transaction.
func DeleteTableEntry(ctx context.Context, q db.Querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM tables WHERE id = $1`, id)
	if err != nil {
		return httpx.MapDBError(err, "Table")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httpx.NotFound("Table")
	}
	return nil
}

// DeleteTableEntryByName removes a registry row by name (SQL console
// reconciliation path). Missing rows are not an error there.
func DeleteTableEntryByName(ctx context.Context, q db.Querier, name string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM tables WHERE name = $1`, name)
	return err
}

// AdjustRowCount nudges the best-effort row counter.
func AdjustRowCount(ctx context.Context, q db.Querier, id uuid.UUID, delta int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE tables SET row_count = GREATEST(row_count + $2, 0), updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, delta)
	return err
}
