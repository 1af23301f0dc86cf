package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/store"
)

// RowQuery carries the pagination options for a row listing.
type RowQuery struct {
	Skip      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder string
}

// ListRows paginates a user table. The search term spans text-like columns
// with ILIKE; sort_by must be a column in the current schema.
func ListRows(ctx context.Context, q db.Querier, t *model.Table, opts RowQuery) ([]map[string]any, int64, error) {
	if err := store.ValidateSearchTerm(opts.Search); err != nil {
		return nil, 0, err
	}
	if opts.Skip < 0 {
		opts.Skip = 0
	}
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 100
	}
	order, err := rowOrderClause(t, opts)
	if err != nil {
		return nil, 0, err
	}
	where, args := rowSearchClause(t, opts.Search)
	table := QuoteIdent(t.Name)

	var total int64
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&total); err != nil {
		return nil, 0, httpx.MapDBError(err, "Table")
	}

	offArg, limArg := len(args)+1, len(args)+2
	args = append(args, opts.Skip, opts.Limit)
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s%s%s OFFSET $%d LIMIT $%d", table, where, order, offArg, limArg),
		args...)
	if err != nil {
		return nil, 0, httpx.MapDBError(err, "Table")
	}
	defer rows.Close()
	_, out, err := db.RowsToMaps(rows)
	if err != nil {
		return nil, 0, err
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, total, nil
}

func rowOrderClause(t *model.Table, opts RowQuery) (string, error) {
	if opts.SortBy == "" {
		return "", nil
	}
	if _, ok := t.TableSchema[opts.SortBy]; !ok && opts.SortBy != "id" {
		return "", httpx.BadRequest("Cannot sort by unknown column: " + opts.SortBy)
	}
	dir := "ASC"
	switch strings.ToLower(opts.SortOrder) {
	case "", "asc":
	case "desc":
		dir = "DESC"
	default:
		return "", httpx.BadRequest("sort_order must be asc or desc")
	}
	return " ORDER BY " + QuoteIdent(opts.SortBy) + " " + dir + " NULLS LAST", nil
}

func rowSearchClause(t *model.Table, search string) (string, []any) {
	if search == "" {
		return "", nil
	}
	cols := make([]string, 0, len(t.TableSchema))
	for name, def := range t.TableSchema {
		if IsTextLike(def.Type) {
			cols = append(cols, name)
		}
	}
	if len(cols) == 0 {
		return "", nil
	}
	sort.Strings(cols)
	preds := make([]string, len(cols))
	for i, c := range cols {
		preds[i] = QuoteIdent(c) + " ILIKE $1"
	}
	return " WHERE (" + strings.Join(preds, " OR ") + ")", []any{"%" + search + "%"}
}

// InsertRow writes one row. Unknown keys are rejected before any SQL runs. A
// UUID-typed id column is filled in when the caller omits it, and user_id is
// forced to the caller so anonymous writers cannot claim rows.
func InsertRow(ctx context.Context, q db.Querier, t *model.Table, data map[string]any, caller *model.User) (map[string]any, error) {
	for key := range data {
		if _, ok := t.TableSchema[key]; !ok && key != "id" {
			return nil, httpx.BadRequest("Unknown column: " + key)
		}
	}
	row := make(map[string]any, len(data)+2)
	for k, v := range data {
		row[k] = coerceValue(v)
	}
	if def, ok := t.TableSchema["id"]; ok && strings.EqualFold(def.Type, "UUID") {
		if _, provided := row["id"]; !provided {
			row["id"] = uuid.New()
		}
	}
	if _, ok := t.TableSchema["user_id"]; ok {
		if caller != nil {
			row["user_id"] = caller.ID
		} else {
			row["user_id"] = nil
		}
	}
	if len(row) == 0 {
		return nil, httpx.Validation("Request body required")
	}

	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}
	rows, err := q.QueryContext(ctx,
		"INSERT INTO "+QuoteIdent(t.Name)+" ("+strings.Join(quoted, ", ")+") VALUES ("+
			strings.Join(marks, ", ")+") RETURNING *",
		args...)
	if err != nil {
		return nil, httpx.MapDBError(err, "Table")
	}
	defer rows.Close()
	_, out, err := db.RowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, httpx.NotFound("Row")
	}
	return out[0], nil
}

// UpdateRow mutates one row under the ownership rule: non-admin callers get
// an extra user_id predicate, so a missing row and a foreign row are the same
// 404.
func UpdateRow(ctx context.Context, q db.Querier, t *model.Table, rowID string, data map[string]any, caller *model.User) (map[string]any, error) {
	if len(data) == 0 {
		return nil, httpx.Validation("Request body required")
	}
	for key := range data {
		if _, ok := t.TableSchema[key]; !ok {
			return nil, httpx.BadRequest("Unknown column: " + key)
		}
	}
	cols := make([]string, 0, len(data))
	for k := range data {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+2)
	for i, c := range cols {
		sets[i] = QuoteIdent(c) + " = " + fmt.Sprintf("$%d", i+1)
		args = append(args, coerceValue(data[c]))
	}
	where, args := ownershipWhere(t, rowID, caller, args)
	rows, err := q.QueryContext(ctx,
		"UPDATE "+QuoteIdent(t.Name)+" SET "+strings.Join(sets, ", ")+where+" RETURNING *",
		args...)
	if err != nil {
		return nil, httpx.MapDBError(err, "Table")
	}
	defer rows.Close()
	_, out, err := db.RowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, httpx.NotFound("Row")
	}
	return out[0], nil
}

// DeleteRow removes one row under the same ownership rule as UpdateRow.
func DeleteRow(ctx context.Context, q db.Querier, t *model.Table, rowID string, caller *model.User) error {
	where, args := ownershipWhere(t, rowID, caller, nil)
	res, err := q.ExecContext(ctx, "DELETE FROM "+QuoteIdent(t.Name)+where, args...)
	if err != nil {
		return httpx.MapDBError(err, "Table")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httpx.NotFound("Row")
	}
	return nil
}

// ownershipWhere builds `WHERE id = $n` plus, for non-admin callers on a
// table that carries user_id, `AND user_id = $n+1`. Admin privilege is the
// dropped predicate, not a wildcard value.
func ownershipWhere(t *model.Table, rowID string, caller *model.User, args []any) (string, []any) {
	args = append(args, rowID)
	where := fmt.Sprintf(" WHERE id = $%d", len(args))
	_, hasUserID := t.TableSchema["user_id"]
	if hasUserID && !caller.IsAdmin() {
		var owner any
		if caller != nil {
			owner = caller.ID
		}
		args = append(args, owner)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	return where, args
}

// coerceValue converts JSON-decoded structures into driver-friendly values;
// nested maps and arrays target JSONB columns.
func coerceValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return model.JSONMap(t)
	case []any:
		b, err := json.Marshal(t)
		if err != nil {
			return v
		}
		return b
	default:
		return v
	}
}
