package sqlconsole

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/selfdb-io/selfdb/internal/httpx"
)

func TestGuardDenylist(t *testing.T) {
	for _, q := range []string{
		`SELECT pg_read_file('/etc/passwd')`,
		`COPY t FROM PROGRAM 'rm -rf /'`,
		`SELECT lo_import('/etc/shadow')`,
	} {
		if err := Guard(q); err == nil {
			t.Fatalf("expected guard to reject %q", q)
		}
	}
}

func TestGuardProtectedTables(t *testing.T) {
	err := Guard(`DELETE FROM users WHERE id = 1`)
	require.Error(t, err)
	var he *httpx.Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, 400, he.Status)

	require.Error(t, Guard(`UPDATE refresh_tokens SET revoked_at = now()`))
	require.Error(t, Guard(`DROP TABLE system_config`))
	require.NoError(t, Guard(`DELETE FROM my_table WHERE id = 1`))
}

func TestGuardAllowsReadsOnProtected(t *testing.T) {
	require.NoError(t, Guard(`SELECT * FROM sql_history`))
}

func TestIsReadOnly(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", true},
		{"  select * from t", true},
		{"EXPLAIN SELECT 1", true},
		{"WITH x AS (SELECT 1) SELECT 1", true},
		{"SHOW search_path", true},
		{"INSERT INTO t VALUES (1)", false},
		{"CREATE TABLE t (id INT)", false},
		{"UPDATE t SET a = 1", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsReadOnly(tc.query); got != tc.want {
			t.Fatalf("IsReadOnly(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestExecuteReadQuery(t *testing.T) {
	dbh, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer dbh.Close()

	mock.ExpectQuery(`SELECT id, name FROM widgets`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "anvil").
			AddRow(2, "rocket"))
	mock.ExpectExec(`INSERT INTO sql_history`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := New(zerolog.Nop())
	res, err := c.Execute(context.Background(), dbh, "SELECT id, name FROM widgets", nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.IsReadOnly)
	require.Equal(t, []string{"id", "name"}, res.Columns)
	require.Equal(t, int64(2), res.RowCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteEmptyQuery(t *testing.T) {
	c := New(zerolog.Nop())
	_, err := c.Execute(context.Background(), nil, "   ", nil)
	var he *httpx.Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, 422, he.Status)
}

func TestExecuteGuardedQueryRecordsHistory(t *testing.T) {
	dbh, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer dbh.Close()

	mock.ExpectExec(`INSERT INTO sql_history`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := New(zerolog.Nop())
	_, err = c.Execute(context.Background(), dbh, `DELETE FROM users`, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
