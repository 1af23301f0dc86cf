package sqlconsole

import (
	"regexp"
	"strings"

	"github.com/selfdb-io/selfdb/internal/model"
)

// CreatedTable is one CREATE TABLE recovered from a console script, with the
// column definitions decoded back into the registry's declared-schema shape.
type CreatedTable struct {
	Name   string
	Schema model.TableSchema
}

var (
	createTableRE = regexp.MustCompile(`(?is)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?("?)([A-Za-z_][A-Za-z0-9_]*)"?\s*\(`)
	dropTableRE   = regexp.MustCompile(`(?is)^\s*DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?(.+)$`)
	notNullRE     = regexp.MustCompile(`(?i)\bNOT\s+NULL\b`)
	typeSizeRE    = regexp.MustCompile(`\s*\(.*\)$`)
)

// constraint-like leading tokens skipped during column recovery.
var constraintTokens = map[string]bool{
	"PRIMARY": true, "FOREIGN": true, "UNIQUE": true,
	"CHECK": true, "CONSTRAINT": true, "EXCLUDE": true,
}

// ExtractCreateTables walks the statements of a script and recovers every
// CREATE TABLE: the table name and the per-column declared schema. The column
// list is cut out by bracket-depth counting because types and constraints
// nest parentheses.
func ExtractCreateTables(script string) []CreatedTable {
	var out []CreatedTable
	for _, stmt := range SplitStatements(script) {
		m := createTableRE.FindStringSubmatchIndex(stmt)
		if m == nil {
			continue
		}
		name := strings.ToLower(stmt[m[4]:m[5]])
		open := m[1] - 1 // the opening paren matched at the end of the pattern
		body, ok := balancedBody(stmt, open)
		if !ok {
			continue
		}
		out = append(out, CreatedTable{Name: name, Schema: parseColumnList(body)})
	}
	return out
}

// ExtractDropTables returns every table name dropped by the script.
func ExtractDropTables(script string) []string {
	var out []string
	for _, stmt := range SplitStatements(script) {
		m := dropTableRE.FindStringSubmatch(stmt)
		if m == nil {
			continue
		}
		for _, part := range strings.Split(m[1], ",") {
			name := strings.TrimSpace(part)
			name = strings.TrimSuffix(name, ";")
			// CASCADE / RESTRICT trail the last name.
			if i := strings.IndexAny(name, " \t\n"); i >= 0 {
				name = name[:i]
			}
			name = strings.Trim(name, `"`)
			if name != "" {
				out = append(out, strings.ToLower(name))
			}
		}
	}
	return out
}

// balancedBody returns the text between the paren at open and its matching
// close, skipping quoted regions.
func balancedBody(stmt string, open int) (string, bool) {
	depth := 0
	inSingle, inDouble := false, false
	for i := open; i < len(stmt); i++ {
		c := stmt[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return stmt[open+1 : i], true
			}
		}
	}
	return "", false
}

// parseColumnList splits the column list on top-level commas and decodes each
// column into {type, nullable}. Constraint clauses are skipped.
func parseColumnList(body string) model.TableSchema {
	schema := model.TableSchema{}
	for _, def := range splitTopLevel(body) {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		fields := strings.Fields(def)
		if len(fields) < 2 {
			continue
		}
		head := strings.ToUpper(strings.Trim(fields[0], `"`))
		if constraintTokens[head] {
			continue
		}
		name := strings.ToLower(strings.Trim(fields[0], `"`))
		typ := strings.ToUpper(typeSizeRE.ReplaceAllString(fields[1], ""))
		nullable := !notNullRE.MatchString(def)
		schema[name] = model.ColumnDef{Type: typ, Nullable: model.NullableBool(nullable)}
	}
	return schema
}

// splitTopLevel splits on commas at paren depth zero, outside quotes.
func splitTopLevel(body string) []string {
	var (
		parts []string
		start int
		depth int
	)
	inSingle, inDouble := false, false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, body[start:i])
			start = i + 1
		}
	}
	parts = append(parts, body[start:])
	return parts
}
