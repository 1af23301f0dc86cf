package store

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

const functionColumns = `id, name, code, description, timeout_seconds, owner_id, is_active,
	deployment_status, deployment_error, version, env_vars,
	execution_count, execution_success_count, execution_error_count, avg_execution_time_ms,
	last_executed_at, last_deployed_at, created_at, updated_at`

// FunctionSortable is the sort_by allowlist for function listings.
var FunctionSortable = map[string]bool{
	"name":              true,
	"deployment_status": true,
	"execution_count":   true,
	"last_executed_at":  true,
	"created_at":        true,
	"updated_at":        true,
}

var functionNameRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]{0,62}$`)

// ValidateFunctionName enforces the identifier shape runtime deploys expect.
func ValidateFunctionName(name string) error {
	if !functionNameRE.MatchString(name) {
		return httpx.Validation("Function name must be an identifier of at most 63 characters")
	}
	return nil
}

// ValidateTimeout bounds timeout_seconds to [5, 300].
func ValidateTimeout(seconds int) error {
	if seconds < 5 || seconds > 300 {
		return httpx.Validation("timeout_seconds must be between 5 and 300")
	}
	return nil
}

func scanFunction(row interface{ Scan(...any) error }) (*model.Function, error) {
	var (
		f            model.Function
		owner        uuid.NullUUID
		desc, depErr sql.NullString
		lastExec     sql.NullTime
		lastDeploy   sql.NullTime
	)
	err := row.Scan(&f.ID, &f.Name, &f.Code, &desc, &f.TimeoutSeconds, &owner, &f.IsActive,
		&f.DeploymentStatus, &depErr, &f.Version, &f.EnvVars,
		&f.ExecutionCount, &f.SuccessCount, &f.ErrorCount, &f.AvgExecutionTimeMS,
		&lastExec, &lastDeploy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.OwnerID = nullUUIDPtr(owner)
	f.Description = nullStrPtr(desc)
	f.DeploymentError = nullStrPtr(depErr)
	f.LastExecutedAt = nullTimePtr(lastExec)
	f.LastDeployedAt = nullTimePtr(lastDeploy)
	return &f, nil
}

// GetFunction fetches a function by id.
func GetFunction(ctx context.Context, q db.Querier, id uuid.UUID) (*model.Function, error) {
	f, err := scanFunction(q.QueryRowContext(ctx, `SELECT `+functionColumns+` FROM functions WHERE id = $1`, id))
	if err != nil {
		return nil, httpx.MapDBError(err, "Function")
	}
	return f, nil
}

// GetFunctionByName fetches a function by unique name.
func GetFunctionByName(ctx context.Context, q db.Querier, name string) (*model.Function, error) {
	f, err := scanFunction(q.QueryRowContext(ctx, `SELECT `+functionColumns+` FROM functions WHERE name = $1`, name))
	if err != nil {
		return nil, httpx.MapDBError(err, "Function")
	}
	return f, nil
}

// InsertFunction writes a new function in deployment_status=pending.
func InsertFunction(ctx context.Context, q db.Querier, f *model.Function) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO functions (id, name, code, description, timeout_seconds, owner_id, is_active,
			deployment_status, version, env_vars,
			execution_count, execution_success_count, execution_error_count, avg_execution_time_ms,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, 0, 0, 0, 0, $10, $11)`,
		f.ID, f.Name, f.Code, f.Description, f.TimeoutSeconds, f.OwnerID, f.IsActive,
		model.DeployPending, f.EnvVars, f.CreatedAt, f.UpdatedAt)
	return err
}

// CountFunctions counts functions matching the search term.
func CountFunctions(ctx context.Context, q db.Querier, search string) (int64, error) {
	if err := ValidateSearchTerm(search); err != nil {
		return 0, err
	}
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM functions
		 WHERE ($1 = '' OR name ILIKE $2 OR description ILIKE $2)`,
		search, "%"+search+"%").Scan(&n)
	return n, err
}

// ListFunctions pages through functions.
func ListFunctions(ctx context.Context, q db.Querier, opts ListOptions) ([]*model.Function, error) {
	if err := opts.Normalize(100, FunctionSortable, "created_at"); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+functionColumns+` FROM functions
		 WHERE ($1 = '' OR name ILIKE $2 OR description ILIKE $2)
		 `+opts.OrderClause()+` OFFSET $3 LIMIT $4`,
		opts.Search, opts.LikePattern(), opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	fns := []*model.Function{}
	for rows.Next() {
		f, err := scanFunction(rows)
		if err != nil {
			return nil, err
		}
		fns = append(fns, f)
	}
	return fns, rows.Err()
}

// FunctionUpdate carries PATCH-able fields. A code change resets deployment
// status to pending and bumps the version.
type FunctionUpdate struct {
	Code           *string       `json:"code"`
	Description    *string       `json:"description"`
	TimeoutSeconds *int          `json:"timeout_seconds"`
	IsActive       *bool         `json:"is_active"`
	EnvVars        model.JSONMap `json:"env_vars"`
}

// UpdateFunction applies a partial update and returns the fresh row.
func UpdateFunction(ctx context.Context, q db.Querier, id uuid.UUID, upd FunctionUpdate) (*model.Function, error) {
	if upd.TimeoutSeconds != nil {
		if err := ValidateTimeout(*upd.TimeoutSeconds); err != nil {
			return nil, err
		}
	}
	var env any
	if upd.EnvVars != nil {
		env = upd.EnvVars
	}
	codeChanged := upd.Code != nil
	res, err := q.ExecContext(ctx,
		`UPDATE functions SET
			code = COALESCE($2, code),
			description = COALESCE($3, description),
			timeout_seconds = COALESCE($4, timeout_seconds),
			is_active = COALESCE($5, is_active),
			env_vars = COALESCE($6, env_vars),
			deployment_status = CASE WHEN $7 THEN $8 ELSE deployment_status END,
			version = version + CASE WHEN $7 THEN 1 ELSE 0 END,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		id, upd.Code, upd.Description, upd.TimeoutSeconds, upd.IsActive, env,
		codeChanged, model.DeployPending)
	if err != nil {
		return nil, httpx.MapDBError(err, "Function")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, httpx.NotFound("Function")
	}
	return GetFunction(ctx, q, id)
}

// SetDeploymentStatus records a deploy/undeploy outcome.
func SetDeploymentStatus(ctx context.Context, q db.Querier, id uuid.UUID, status string, deployErr *string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE functions SET
			deployment_status = $2,
			deployment_error = $3,
			last_deployed_at = CASE WHEN $2 = 'deployed' THEN CURRENT_TIMESTAMP ELSE last_deployed_at END,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		id, status, deployErr)
	return err
}

// ReplaceEnvVars swaps the function environment and resets deployment to
// pending so the next deploy picks the new values up.
func ReplaceEnvVars(ctx context.Context, q db.Querier, id uuid.UUID, env model.JSONMap) (*model.Function, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE functions SET env_vars = $2, deployment_status = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, env, model.DeployPending)
	if err != nil {
		return nil, httpx.MapDBError(err, "Function")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, httpx.NotFound("Function")
	}
	return GetFunction(ctx, q, id)
}

// DeleteFunction removes a function row.
func DeleteFunction(ctx context.Context, q db.Querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM functions WHERE id = $1`, id)
	if err != nil {
		return httpx.MapDBError(err, "Function")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httpx.NotFound("Function")
	}
	return nil
}

// RecordExecution ingests one runtime callback: bumps the counters, keeps the
// running average, appends an execution row and one log row per line.
func RecordExecution(ctx context.Context, q db.Querier, fn *model.Function, success bool, timeMS float64,
	result model.JSONMap, logs []string, deliveryID *uuid.UUID) (uuid.UUID, error) {

	newCount := fn.ExecutionCount + 1
	newAvg := int64(timeMS)
	if fn.ExecutionCount > 0 {
		newAvg = (fn.AvgExecutionTimeMS*fn.ExecutionCount + int64(timeMS)) / newCount
	}
	successDelta, errorDelta := int64(1), int64(0)
	if !success {
		successDelta, errorDelta = 0, 1
	}
	now := model.UTCNow()
	_, err := q.ExecContext(ctx,
		`UPDATE functions SET
			execution_count = execution_count + 1,
			execution_success_count = execution_success_count + $2,
			execution_error_count = execution_error_count + $3,
			avg_execution_time_ms = $4,
			last_executed_at = $5
		 WHERE id = $1`,
		fn.ID, successDelta, errorDelta, newAvg, now)
	if err != nil {
		return uuid.Nil, err
	}

	status := "completed"
	var errMsg *string
	if !success {
		status = "failed"
		msg := "execution failed"
		if result != nil {
			if s, ok := result["error"].(string); ok && s != "" {
				msg = s
			}
		}
		errMsg = &msg
	}
	trigger := "http"
	if deliveryID != nil {
		trigger = "webhook"
	}
	executionID := uuid.New()
	_, err = q.ExecContext(ctx,
		`INSERT INTO function_executions (id, function_id, user_id, trigger_type, status,
			started_at, completed_at, duration_ms, result, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8, $9, $6, $6)`,
		executionID, fn.ID, fn.OwnerID, trigger, status, now, int64(timeMS), result, errMsg)
	if err != nil {
		return uuid.Nil, err
	}

	for _, line := range logs {
		_, err = q.ExecContext(ctx,
			`INSERT INTO function_logs (id, execution_id, function_id, log_level, message, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), executionID, fn.ID, LogLevelFor(line), line, now)
		if err != nil {
			return uuid.Nil, err
		}
	}
	return executionID, nil
}

// LogLevelFor derives a log level from the first bracketed prefix.
func LogLevelFor(line string) string {
	switch {
	case strings.HasPrefix(line, "[ERROR]"):
		return "error"
	case strings.HasPrefix(line, "[WARN]"):
		return "warn"
	default:
		return "info"
	}
}

// ListExecutions returns recent executions for a function, newest first.
func ListExecutions(ctx context.Context, q db.Querier, functionID uuid.UUID, limit int) ([]*model.FunctionExecution, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, function_id, user_id, trigger_type, status, started_at, completed_at,
			duration_ms, result, error_message, created_at
		 FROM function_executions WHERE function_id = $1
		 ORDER BY started_at DESC LIMIT $2`,
		functionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	execs := []*model.FunctionExecution{}
	for rows.Next() {
		var (
			e      model.FunctionExecution
			user   uuid.NullUUID
			errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.FunctionID, &user, &e.TriggerType, &e.Status,
			&e.StartedAt, &e.CompletedAt, &e.DurationMS, &e.Result, &errMsg, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID = nullUUIDPtr(user)
		e.ErrorMessage = nullStrPtr(errMsg)
		execs = append(execs, &e)
	}
	return execs, rows.Err()
}

// ListFunctionLogs returns recent log lines for a function, newest first.
func ListFunctionLogs(ctx context.Context, q db.Querier, functionID uuid.UUID, limit int) ([]*model.FunctionLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, execution_id, function_id, log_level, message, timestamp
		 FROM function_logs WHERE function_id = $1
		 ORDER BY timestamp DESC LIMIT $2`,
		functionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := []*model.FunctionLog{}
	for rows.Next() {
		var l model.FunctionLog
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.FunctionID, &l.Level, &l.Message, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
