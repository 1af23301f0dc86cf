package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

func TestValidateTableName(t *testing.T) {
	require.NoError(t, ValidateTableName("orders"))
	require.NoError(t, ValidateTableName("_private"))
	require.NoError(t, ValidateTableName("a1_b2"))

	for _, bad := range []string{"", "Orders", "1st", "a-b", "users", "select", strings.Repeat("x", 64)} {
		if err := ValidateTableName(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestMapColumnType(t *testing.T) {
	cases := []struct {
		declared string
		physical string
	}{
		{"TEXT", "TEXT"},
		{"string", "VARCHAR(255)"},
		{"VARCHAR", "VARCHAR(255)"},
		{"int", "INTEGER"},
		{"INTEGER", "INTEGER"},
		{"BIGINT", "BIGINT"},
		{"decimal", "DECIMAL(10,2)"},
		{"FLOAT", "DOUBLE PRECISION"},
		{"bool", "BOOLEAN"},
		{"DATETIME", "TIMESTAMP WITH TIME ZONE"},
		{"json", "JSONB"},
		{"UUID", "UUID"},
	}
	for _, tc := range cases {
		got, err := MapColumnType(tc.declared)
		require.NoError(t, err, tc.declared)
		require.Equal(t, tc.physical, got)
	}

	_, err := MapColumnType("GEOMETRY")
	var he *httpx.Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, 422, he.Status)
}

func TestColumnDDL(t *testing.T) {
	def := model.ColumnDef{Type: "TEXT", Nullable: model.NullableBool(false)}
	got, err := ColumnDDL("title", def)
	require.NoError(t, err)
	require.Equal(t, `"title" TEXT NOT NULL`, got)

	dflt := "0"
	got, err = ColumnDDL("qty", model.ColumnDef{Type: "INT", Default: &dflt})
	require.NoError(t, err)
	require.Equal(t, `"qty" INTEGER DEFAULT 0`, got)
}

func TestColumnDDLDefaultExpressions(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"now()", "now()"},
		{"NOW()", "NOW()"},
		{"CURRENT_TIMESTAMP", "CURRENT_TIMESTAMP"},
		{"gen_random_uuid()", "gen_random_uuid()"},
		{"true", "true"},
		{"-3.5", "-3.5"},
		{"'draft'", "'draft'"},
		{"'it''s'", "'it''s'"},
		{"draft", "'draft'"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, defaultDDL(tc.raw), tc.raw)
	}
}

// Defaults run inside DDL with no bind parameters; anything that is not a
// recognized expression must come out as a string literal, never as raw SQL.
func TestColumnDDLDefaultCannotSmuggleStatements(t *testing.T) {
	dflt := "0; DROP TABLE users; --"
	got, err := ColumnDDL("qty", model.ColumnDef{Type: "TEXT", Default: &dflt})
	require.NoError(t, err)
	require.Equal(t, `"qty" TEXT DEFAULT '0; DROP TABLE users; --'`, got)
}

func TestBuildCreateTableSQLEmptySchema(t *testing.T) {
	got, err := BuildCreateTableSQL("notes", nil)
	require.NoError(t, err)
	require.Equal(t, `CREATE TABLE IF NOT EXISTS "notes" (id SERIAL PRIMARY KEY)`, got)
}

func TestBuildCreateTableSQLSortsColumns(t *testing.T) {
	schema := model.TableSchema{
		"zeta":  {Type: "TEXT"},
		"alpha": {Type: "INT", Nullable: model.NullableBool(false)},
	}
	got, err := BuildCreateTableSQL("notes", schema)
	require.NoError(t, err)
	require.Equal(t, `CREATE TABLE IF NOT EXISTS "notes" ("alpha" INTEGER NOT NULL, "zeta" TEXT)`, got)
}

func TestBuildCreateTableSQLRejectsBadColumn(t *testing.T) {
	_, err := BuildCreateTableSQL("notes", model.TableSchema{"Bad-Name": {Type: "TEXT"}})
	require.Error(t, err)
}

func TestIsTextLike(t *testing.T) {
	require.True(t, IsTextLike("text"))
	require.True(t, IsTextLike("STRING"))
	require.True(t, IsTextLike("varchar"))
	require.False(t, IsTextLike("INT"))
	require.False(t, IsTextLike("JSONB"))
}
