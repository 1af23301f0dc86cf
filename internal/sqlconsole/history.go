package sqlconsole

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

// InsertHistory appends one console attempt to the per-user audit trail.
func InsertHistory(ctx context.Context, q db.Querier, h *model.SQLHistory) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO sql_history (id, query, is_read_only, execution_time, row_count, error, user_id, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.Query, h.IsReadOnly, h.ExecutionTime, h.RowCount, h.Error, h.UserID, h.ExecutedAt)
	return err
}

// ListHistory returns the caller's recent console attempts, newest first.
func ListHistory(ctx context.Context, q db.Querier, userID uuid.UUID, limit int) ([]*model.SQLHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, query, is_read_only, execution_time, row_count, error, user_id, executed_at
		 FROM sql_history WHERE user_id = $1
		 ORDER BY executed_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*model.SQLHistory{}
	for rows.Next() {
		var (
			h       model.SQLHistory
			errText sql.NullString
			user    uuid.NullUUID
		)
		if err := rows.Scan(&h.ID, &h.Query, &h.IsReadOnly, &h.ExecutionTime, &h.RowCount,
			&errText, &user, &h.ExecutedAt); err != nil {
			return nil, err
		}
		if errText.Valid {
			v := errText.String
			h.Error = &v
		}
		if user.Valid {
			v := user.UUID
			h.UserID = &v
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// ClearHistory deletes the caller's console history.
func ClearHistory(ctx context.Context, q db.Querier, userID uuid.UUID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM sql_history WHERE user_id = $1`, userID)
	return err
}

// InsertSnippet saves a console query for reuse.
func InsertSnippet(ctx context.Context, q db.Querier, s *model.SQLSnippet) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO sql_snippets (id, name, sql_code, description, is_shared, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.Name, s.SQLCode, s.Description, s.IsShared, s.CreatedBy, s.CreatedAt)
	return err
}

// ListSnippets returns the caller's snippets plus everything shared.
func ListSnippets(ctx context.Context, q db.Querier, userID uuid.UUID) ([]*model.SQLSnippet, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, sql_code, description, is_shared, created_by, created_at
		 FROM sql_snippets WHERE created_by = $1 OR is_shared
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*model.SQLSnippet{}
	for rows.Next() {
		var (
			s       model.SQLSnippet
			desc    sql.NullString
			creator uuid.NullUUID
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.SQLCode, &desc, &s.IsShared, &creator, &s.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			v := desc.String
			s.Description = &v
		}
		if creator.Valid {
			v := creator.UUID
			s.CreatedBy = &v
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// DeleteSnippet removes a snippet the caller created.
func DeleteSnippet(ctx context.Context, q db.Querier, id, userID uuid.UUID) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM sql_snippets WHERE id = $1 AND created_by = $2`, id, userID)
	if err != nil {
		return httpx.MapDBError(err, "Snippet")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httpx.NotFound("Snippet")
	}
	return nil
}
