package sqlconsole

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/engine"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/store"
)

// dangerousPatterns block privileged file/program I/O and the classic
// comment-injection sentinels. The console is admin-only but still not a
// superuser shell.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpg_read_file\s*\(`),
	regexp.MustCompile(`(?i)\bpg_read_binary_file\s*\(`),
	regexp.MustCompile(`(?i)\bpg_ls_dir\s*\(`),
	regexp.MustCompile(`(?i)\bpg_stat_file\s*\(`),
	regexp.MustCompile(`(?i)\bcopy\s+.*\bfrom\s+program\b`),
	regexp.MustCompile(`(?i)\bcopy\s+.*\bto\s+program\b`),
	regexp.MustCompile(`(?i)\blo_import\s*\(`),
	regexp.MustCompile(`(?i)\blo_export\s*\(`),
	regexp.MustCompile(`--\s*['"]`),
	regexp.MustCompile(`/\*.*\*/\s*;`),
}

// protectedTables cannot be modified through the console; the registry stays
// consistent only if its own tables change through the API.
var protectedTables = map[string]bool{
	"users": true, "refresh_tokens": true, "system_config": true,
	"sql_history": true, "sql_snippets": true,
}

// systemTables are never reconciled: the DDL runs, the registry is untouched.
var systemTables = map[string]bool{
	"users": true, "tables": true, "buckets": true, "files": true,
	"functions": true, "function_executions": true, "function_logs": true,
	"webhooks": true, "webhook_deliveries": true, "refresh_tokens": true,
	"sql_history": true, "sql_snippets": true, "system_config": true,
}

var readOnlyPrefixes = []string{"select", "explain", "show", "describe", "with"}

var protectedWriteRE = regexp.MustCompile(`(?is)\b(insert\s+into|update|delete\s+from|truncate(?:\s+table)?|alter\s+table|drop\s+table(?:\s+if\s+exists)?)\s+"?([a-z_][a-z0-9_]*)"?`)

// Result is the console response shape. Read queries carry columns+rows; non
// read queries carry the affected-row count.
type Result struct {
	Success       bool             `json:"success"`
	IsReadOnly    bool             `json:"is_read_only"`
	Columns       []string         `json:"columns,omitempty"`
	Rows          []map[string]any `json:"rows,omitempty"`
	RowCount      int64            `json:"row_count"`
	ExecutionTime float64          `json:"execution_time"`
}

// Console executes guarded ad-hoc SQL and reconciles the table registry
// afterwards.
type Console struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Console {
	return &Console{log: log.With().Str("component", "sqlconsole").Logger()}
}

// Guard rejects denylisted patterns and writes against protected tables
// before anything executes.
func Guard(query string) error {
	for _, re := range dangerousPatterns {
		if re.MatchString(query) {
			return httpx.BadRequest("Query contains a forbidden pattern")
		}
	}
	for _, m := range protectedWriteRE.FindAllStringSubmatch(query, -1) {
		if protectedTables[strings.ToLower(m[2])] {
			return httpx.BadRequest("Modification of protected table '" + strings.ToLower(m[2]) + "' is not allowed")
		}
	}
	return nil
}

// IsReadOnly reports whether the first keyword marks a read query; reads
// stream a rowset, writes commit and report rowcount.
func IsReadOnly(query string) bool {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return false
	}
	for _, p := range readOnlyPrefixes {
		if fields[0] == p {
			return true
		}
	}
	return false
}

// Execute runs a console query on the request's connection, records it in the
// per-user history, and reconciles CREATE/DROP against the registry. History
// and reconciliation failures never fail the user's query.
func (c *Console) Execute(ctx context.Context, q db.Querier, query string, caller *model.User) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, httpx.Validation("Query required")
	}
	if err := Guard(query); err != nil {
		c.recordHistory(ctx, q, query, false, 0, 0, err, caller)
		return nil, err
	}

	readOnly := IsReadOnly(query)
	start := time.Now()

	if readOnly {
		rows, err := q.QueryContext(ctx, query)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			c.recordHistory(ctx, q, query, true, elapsed, 0, err, caller)
			return nil, httpx.BadRequest(err.Error())
		}
		defer rows.Close()
		cols, out, err := db.RowsToMaps(rows)
		if err != nil {
			c.recordHistory(ctx, q, query, true, elapsed, 0, err, caller)
			return nil, httpx.BadRequest(err.Error())
		}
		if out == nil {
			out = []map[string]any{}
		}
		c.recordHistory(ctx, q, query, true, elapsed, int64(len(out)), nil, caller)
		return &Result{
			Success: true, IsReadOnly: true,
			Columns: cols, Rows: out, RowCount: int64(len(out)),
			ExecutionTime: elapsed,
		}, nil
	}

	res, err := q.ExecContext(ctx, query)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.recordHistory(ctx, q, query, false, elapsed, 0, err, caller)
		return nil, httpx.BadRequest(err.Error())
	}
	affected, _ := res.RowsAffected()
	c.recordHistory(ctx, q, query, false, elapsed, affected, nil, caller)
	c.reconcile(ctx, q, query, caller)
	return &Result{Success: true, RowCount: affected, ExecutionTime: elapsed}, nil
}

// reconcile registers CREATE TABLE targets and unregisters DROP TABLE
// targets, skipping system tables. Failures are swallowed and logged so they
// cannot fail a query that already committed.
func (c *Console) reconcile(ctx context.Context, q db.Querier, query string, caller *model.User) {
	for _, created := range ExtractCreateTables(query) {
		if systemTables[created.Name] {
			continue
		}
		if err := engine.ValidateTableName(created.Name); err != nil {
			continue
		}
		if _, err := store.GetTableByName(ctx, q, created.Name); err == nil {
			continue
		}
		now := model.UTCNow()
		t := &model.Table{
			ID:          uuid.New(),
			Name:        created.Name,
			TableSchema: created.Schema,
			Public:      false,
			Metadata:    model.JSONMap{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if caller != nil {
			t.OwnerID = &caller.ID
		}
		if err := store.InsertTable(ctx, q, t); err != nil {
			c.log.Warn().Err(err).Str("table", created.Name).Msg("register created table")
		}
	}
	for _, name := range ExtractDropTables(query) {
		if systemTables[name] {
			continue
		}
		if err := store.DeleteTableEntryByName(ctx, q, name); err != nil {
			c.log.Warn().Err(err).Str("table", name).Msg("unregister dropped table")
		}
	}
}

func (c *Console) recordHistory(ctx context.Context, q db.Querier, query string, readOnly bool,
	elapsed float64, rowCount int64, execErr error, caller *model.User) {
	var errText *string
	if execErr != nil {
		s := execErr.Error()
		errText = &s
	}
	var userID *uuid.UUID
	if caller != nil {
		userID = &caller.ID
	}
	if err := InsertHistory(ctx, q, &model.SQLHistory{
		ID:            uuid.New(),
		Query:         query,
		IsReadOnly:    readOnly,
		ExecutionTime: elapsed,
		RowCount:      rowCount,
		Error:         errText,
		UserID:        userID,
		ExecutedAt:    model.UTCNow(),
	}); err != nil {
		c.log.Warn().Err(err).Msg("record sql history")
	}
}
