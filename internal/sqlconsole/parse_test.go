package sqlconsole

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCreateTables(t *testing.T) {
	script := `CREATE TABLE posts (
		id SERIAL PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		body TEXT,
		price DECIMAL(10,2),
		published BOOLEAN NOT NULL,
		CONSTRAINT uq_title UNIQUE (title)
	);`
	created := ExtractCreateTables(script)
	require.Len(t, created, 1)
	require.Equal(t, "posts", created[0].Name)

	schema := created[0].Schema
	require.Contains(t, schema, "title")
	require.Equal(t, "VARCHAR", schema["title"].Type)
	require.False(t, schema["title"].IsNullable())
	require.Equal(t, "TEXT", schema["body"].Type)
	require.True(t, schema["body"].IsNullable())
	require.Equal(t, "DECIMAL", schema["price"].Type)
	require.NotContains(t, schema, "constraint")
	require.NotContains(t, schema, "uq_title")
}

func TestExtractCreateTablesIfNotExistsAndQuotes(t *testing.T) {
	created := ExtractCreateTables(`CREATE TABLE IF NOT EXISTS "Orders" (id INT)`)
	require.Len(t, created, 1)
	require.Equal(t, "orders", created[0].Name)
}

func TestExtractCreateTablesNestedParens(t *testing.T) {
	script := `CREATE TABLE t (
		amount NUMERIC(12,4) NOT NULL,
		state TEXT CHECK (state IN ('a', 'b(c)')),
		note TEXT DEFAULT 'none'
	)`
	created := ExtractCreateTables(script)
	require.Len(t, created, 1)
	schema := created[0].Schema
	require.Equal(t, "NUMERIC", schema["amount"].Type)
	require.Contains(t, schema, "state")
	require.Contains(t, schema, "note")
}

func TestExtractCreateTablesIgnoresOtherStatements(t *testing.T) {
	created := ExtractCreateTables(`SELECT 1; INSERT INTO x VALUES (1); CREATE INDEX idx ON t (a)`)
	require.Empty(t, created)
}

func TestExtractDropTables(t *testing.T) {
	got := ExtractDropTables(`DROP TABLE IF EXISTS posts, "Comments" CASCADE; SELECT 1; DROP TABLE old_stuff;`)
	require.Equal(t, []string{"posts", "comments", "old_stuff"}, got)
}
