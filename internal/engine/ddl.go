// Package engine turns declarative JSON schemas into real SQL tables and
// keeps the registry and the physical table in lockstep.
package engine

import (
	"regexp"
	"sort"
	"strings"

	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

// reservedNames blocks table names that collide with the registry tables or
// bare SQL keywords.
var reservedNames = map[string]bool{
	"users": true, "tables": true, "buckets": true, "files": true,
	"functions": true, "function_executions": true, "function_logs": true,
	"webhooks": true, "webhook_deliveries": true, "refresh_tokens": true,
	"sql_history": true, "sql_snippets": true, "system_config": true,
	"select": true, "insert": true, "update": true, "delete": true,
	"table": true, "index": true, "view": true, "user": true,
	"group": true, "order": true, "where": true, "from": true,
}

var identRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateTableName enforces the identifier shape and the reserved blocklist.
func ValidateTableName(name string) error {
	if len(name) == 0 || len(name) > 63 || !identRE.MatchString(name) {
		return httpx.Validation("Table name must be a lowercase SQL identifier of at most 63 characters")
	}
	if reservedNames[name] {
		return httpx.Validation("Table name '" + name + "' is reserved")
	}
	return nil
}

// ValidateColumnName enforces the identifier shape for column names.
func ValidateColumnName(name string) error {
	if len(name) == 0 || len(name) > 63 || !identRE.MatchString(name) {
		return httpx.Validation("Column name must be a lowercase SQL identifier of at most 63 characters")
	}
	return nil
}

// QuoteIdent double-quotes an identifier for interpolation into DDL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// MapColumnType maps a declared schema type onto its physical SQL type.
func MapColumnType(declared string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(declared)) {
	case "TEXT":
		return "TEXT", nil
	case "STRING", "VARCHAR":
		return "VARCHAR(255)", nil
	case "INT", "INTEGER":
		return "INTEGER", nil
	case "SMALLINT":
		return "SMALLINT", nil
	case "BIGINT":
		return "BIGINT", nil
	case "DECIMAL", "NUMERIC":
		return "DECIMAL(10,2)", nil
	case "FLOAT", "REAL", "DOUBLE":
		return "DOUBLE PRECISION", nil
	case "BOOL", "BOOLEAN":
		return "BOOLEAN", nil
	case "DATE":
		return "DATE", nil
	case "TIMESTAMP", "DATETIME":
		return "TIMESTAMP WITH TIME ZONE", nil
	case "JSON", "JSONB":
		return "JSONB", nil
	case "UUID":
		return "UUID", nil
	default:
		return "", httpx.Validation("Unsupported column type: " + declared)
	}
}

// IsTextLike reports whether a declared type maps to a searchable text
// column; the row-listing ILIKE search spans these.
func IsTextLike(declared string) bool {
	switch strings.ToUpper(strings.TrimSpace(declared)) {
	case "TEXT", "STRING", "VARCHAR":
		return true
	}
	return false
}

// ColumnDDL renders one column definition.
func ColumnDDL(name string, def model.ColumnDef) (string, error) {
	if err := ValidateColumnName(name); err != nil {
		return "", err
	}
	physical, err := MapColumnType(def.Type)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(QuoteIdent(name))
	b.WriteByte(' ')
	b.WriteString(physical)
	if !def.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if def.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(defaultDDL(*def.Default))
	}
	return b.String(), nil
}

// defaultExprRE admits the default expressions the DDL passes through
// verbatim: a short list of generator functions, bare literals, and
// well-formed single-quoted strings.
var defaultExprRE = regexp.MustCompile(
	`(?i)^(now\(\)|current_timestamp|current_date|current_time|gen_random_uuid\(\)|uuid_generate_v4\(\)|true|false|null|-?\d+(\.\d+)?|'([^']|'')*')$`)

// defaultDDL renders a column default. The DDL statements run without bind
// parameters, so anything outside the expression allowlist is emitted as a
// single-quoted literal rather than interpolated raw.
func defaultDDL(raw string) string {
	v := strings.TrimSpace(raw)
	if defaultExprRE.MatchString(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// BuildCreateTableSQL renders the CREATE TABLE statement for a declared
// schema. An empty schema yields a single serial primary key so the table is
// still usable.
func BuildCreateTableSQL(name string, schema model.TableSchema) (string, error) {
	if err := ValidateTableName(name); err != nil {
		return "", err
	}
	if len(schema) == 0 {
		return "CREATE TABLE IF NOT EXISTS " + QuoteIdent(name) + " (id SERIAL PRIMARY KEY)", nil
	}
	cols := make([]string, 0, len(schema))
	for col := range schema {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	defs := make([]string, 0, len(cols))
	for _, col := range cols {
		ddl, err := ColumnDDL(col, schema[col])
		if err != nil {
			return "", err
		}
		defs = append(defs, ddl)
	}
	return "CREATE TABLE IF NOT EXISTS " + QuoteIdent(name) + " (" + strings.Join(defs, ", ") + ")", nil
}
