package engine

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	dbh, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh, mock
}

func postsTable() *model.Table {
	return &model.Table{
		Name: "posts",
		TableSchema: model.TableSchema{
			"title":   {Type: "TEXT"},
			"user_id": {Type: "UUID"},
		},
	}
}

func TestOwnershipWhere(t *testing.T) {
	table := postsTable()
	admin := &model.User{ID: uuid.New(), Role: model.RoleAdmin}
	user := &model.User{ID: uuid.New(), Role: model.RoleUser}

	// Admin privilege is the dropped predicate.
	where, args := ownershipWhere(table, "row-1", admin, nil)
	require.Equal(t, " WHERE id = $1", where)
	require.Equal(t, []any{"row-1"}, args)

	where, args = ownershipWhere(table, "row-1", user, nil)
	require.Equal(t, " WHERE id = $1 AND user_id = $2", where)
	require.Equal(t, []any{"row-1", user.ID}, args)

	// A table without user_id has no ownership to enforce.
	bare := &model.Table{Name: "notes", TableSchema: model.TableSchema{"title": {Type: "TEXT"}}}
	where, args = ownershipWhere(bare, "row-1", user, nil)
	require.Equal(t, " WHERE id = $1", where)
	require.Len(t, args, 1)
}

func TestListRowsUnknownSortColumn(t *testing.T) {
	dbh, _ := newMock(t)
	_, _, err := ListRows(context.Background(), dbh, postsTable(), RowQuery{SortBy: "nope"})
	var he *httpx.Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, 400, he.Status)
}

func TestListRowsBadSortOrder(t *testing.T) {
	dbh, _ := newMock(t)
	_, _, err := ListRows(context.Background(), dbh, postsTable(), RowQuery{SortBy: "title", SortOrder: "sideways"})
	var he *httpx.Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, 400, he.Status)
}

func TestListRowsClampsLimit(t *testing.T) {
	dbh, mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "posts"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM "posts" OFFSET \$1 LIMIT \$2`).
		WithArgs(0, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(1, "a"))

	rows, total, err := ListRows(context.Background(), dbh, postsTable(), RowQuery{Limit: 5000})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowForcesCallerUserID(t *testing.T) {
	dbh, mock := newMock(t)
	caller := &model.User{ID: uuid.New(), Role: model.RoleUser}

	// Columns are sorted, so args arrive as (title, user_id); a spoofed
	// user_id in the body is overwritten with the caller's id.
	mock.ExpectQuery(`INSERT INTO "posts" \("title", "user_id"\) VALUES \(\$1, \$2\) RETURNING \*`).
		WithArgs("hello", caller.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "user_id"}).
			AddRow(1, "hello", caller.ID.String()))

	out, err := InsertRow(context.Background(), dbh, postsTable(),
		map[string]any{"title": "hello", "user_id": uuid.New().String()}, caller)
	require.NoError(t, err)
	require.Equal(t, "hello", out["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowUnknownColumn(t *testing.T) {
	dbh, _ := newMock(t)
	_, err := InsertRow(context.Background(), dbh, postsTable(),
		map[string]any{"bogus": 1}, &model.User{ID: uuid.New()})
	var he *httpx.Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, 400, he.Status)
}

func TestUpdateRowScopedToOwner(t *testing.T) {
	dbh, mock := newMock(t)
	caller := &model.User{ID: uuid.New(), Role: model.RoleUser}

	mock.ExpectQuery(`UPDATE "posts" SET "title" = \$1 WHERE id = \$2 AND user_id = \$3 RETURNING \*`).
		WithArgs("new", "7", caller.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(7, "new"))

	out, err := UpdateRow(context.Background(), dbh, postsTable(), "7",
		map[string]any{"title": "new"}, caller)
	require.NoError(t, err)
	require.Equal(t, "new", out["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

// A row owned by someone else matches zero rows and is indistinguishable from
// a missing one.
func TestUpdateRowForeignRowIs404(t *testing.T) {
	dbh, mock := newMock(t)
	caller := &model.User{ID: uuid.New(), Role: model.RoleUser}

	mock.ExpectQuery(`UPDATE "posts" SET`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}))

	_, err := UpdateRow(context.Background(), dbh, postsTable(), "7",
		map[string]any{"title": "new"}, caller)
	var he *httpx.Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, 404, he.Status)
}

func TestDeleteRowZeroRowsIs404(t *testing.T) {
	dbh, mock := newMock(t)
	admin := &model.User{ID: uuid.New(), Role: model.RoleAdmin}

	mock.ExpectExec(`DELETE FROM "posts" WHERE id = \$1`).
		WithArgs("7").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := DeleteRow(context.Background(), dbh, postsTable(), "7", admin)
	var he *httpx.Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, 404, he.Status)
}
