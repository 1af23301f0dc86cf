package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

const webhookColumns = `id, function_id, owner_id, name, webhook_token, secret_key, is_active,
	trigger_count, retry_attempts, retry_delay_seconds, rate_limit_per_minute, created_at, updated_at`

// WebhookSortable is the sort_by allowlist for webhook listings.
var WebhookSortable = map[string]bool{
	"name":          true,
	"trigger_count": true,
	"created_at":    true,
	"updated_at":    true,
}

func scanWebhook(row interface{ Scan(...any) error }) (*model.Webhook, error) {
	var (
		w      model.Webhook
		owner  uuid.NullUUID
		secret sql.NullString
	)
	err := row.Scan(&w.ID, &w.FunctionID, &owner, &w.Name, &w.WebhookToken, &secret, &w.IsActive,
		&w.TriggerCount, &w.RetryAttempts, &w.RetryDelaySeconds, &w.RateLimitPerMinute,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.OwnerID = nullUUIDPtr(owner)
	w.SecretKey = nullStrPtr(secret)
	return &w, nil
}

// GetWebhook fetches a webhook by id.
func GetWebhook(ctx context.Context, q db.Querier, id uuid.UUID) (*model.Webhook, error) {
	w, err := scanWebhook(q.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if err != nil {
		return nil, httpx.MapDBError(err, "Webhook")
	}
	return w, nil
}

// GetWebhookByToken resolves an inbound trigger token.
func GetWebhookByToken(ctx context.Context, q db.Querier, token string) (*model.Webhook, error) {
	w, err := scanWebhook(q.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE webhook_token = $1`, token))
	if err != nil {
		return nil, httpx.MapDBError(err, "Webhook")
	}
	return w, nil
}

// InsertWebhook writes a new webhook row.
func InsertWebhook(ctx context.Context, q db.Querier, w *model.Webhook) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO webhooks (id, function_id, owner_id, name, webhook_token, secret_key, is_active,
			trigger_count, retry_attempts, retry_delay_seconds, rate_limit_per_minute, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12)`,
		w.ID, w.FunctionID, w.OwnerID, w.Name, w.WebhookToken, w.SecretKey, w.IsActive,
		w.RetryAttempts, w.RetryDelaySeconds, w.RateLimitPerMinute, w.CreatedAt, w.UpdatedAt)
	return err
}

// CountWebhooks counts webhooks matching the search term.
func CountWebhooks(ctx context.Context, q db.Querier, search string) (int64, error) {
	if err := ValidateSearchTerm(search); err != nil {
		return 0, err
	}
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhooks WHERE ($1 = '' OR name ILIKE $2)`,
		search, "%"+search+"%").Scan(&n)
	return n, err
}

// ListWebhooks pages through webhooks, optionally scoped to one function.
func ListWebhooks(ctx context.Context, q db.Querier, functionID *uuid.UUID, opts ListOptions) ([]*model.Webhook, error) {
	if err := opts.Normalize(100, WebhookSortable, "created_at"); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks
		 WHERE ($1::uuid IS NULL OR function_id = $1)
		   AND ($2 = '' OR name ILIKE $3)
		 `+opts.OrderClause()+` OFFSET $4 LIMIT $5`,
		functionID, opts.Search, opts.LikePattern(), opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hooks := []*model.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// WebhookUpdate carries PATCH-able fields.
type WebhookUpdate struct {
	Name               *string `json:"name"`
	SecretKey          *string `json:"secret_key"`
	IsActive           *bool   `json:"is_active"`
	RetryAttempts      *int    `json:"retry_attempts"`
	RetryDelaySeconds  *int    `json:"retry_delay_seconds"`
	RateLimitPerMinute *int    `json:"rate_limit_per_minute"`
}

// UpdateWebhook applies a partial update and returns the fresh row.
func UpdateWebhook(ctx context.Context, q db.Querier, id uuid.UUID, upd WebhookUpdate) (*model.Webhook, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE webhooks SET
			name = COALESCE($2, name),
			secret_key = COALESCE($3, secret_key),
			is_active = COALESCE($4, is_active),
			retry_attempts = COALESCE($5, retry_attempts),
			retry_delay_seconds = COALESCE($6, retry_delay_seconds),
			rate_limit_per_minute = COALESCE($7, rate_limit_per_minute),
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		id, upd.Name, upd.SecretKey, upd.IsActive, upd.RetryAttempts, upd.RetryDelaySeconds, upd.RateLimitPerMinute)
	if err != nil {
		return nil, httpx.MapDBError(err, "Webhook")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, httpx.NotFound("Webhook")
	}
	return GetWebhook(ctx, q, id)
}

// RotateWebhookToken swaps in a freshly generated trigger token.
func RotateWebhookToken(ctx context.Context, q db.Querier, id uuid.UUID, token string) (*model.Webhook, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE webhooks SET webhook_token = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, token)
	if err != nil {
		return nil, httpx.MapDBError(err, "Webhook")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, httpx.NotFound("Webhook")
	}
	return GetWebhook(ctx, q, id)
}

// DeleteWebhook removes a webhook row.
func DeleteWebhook(ctx context.Context, q db.Querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return httpx.MapDBError(err, "Webhook")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httpx.NotFound("Webhook")
	}
	return nil
}

// BumpTriggerCount increments the counter on each accepted delivery.
func BumpTriggerCount(ctx context.Context, q db.Querier, id uuid.UUID) error {
	_, err := q.ExecContext(ctx,
		`UPDATE webhooks SET trigger_count = trigger_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	return err
}

// InsertDelivery writes the receipt row before invocation starts.
func InsertDelivery(ctx context.Context, q db.Querier, d *model.WebhookDelivery) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, webhook_id, function_id, request_headers, request_body,
			signature_valid, status, delivery_attempt, retry_count, received_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $10)`,
		d.ID, d.WebhookID, d.FunctionID, d.RequestHeaders, d.RequestBody,
		d.SignatureValid, d.Status, d.DeliveryAttempt, d.RetryCount, d.ReceivedAt)
	return err
}

// CompleteDelivery records the invocation outcome on the receipt row.
func CompleteDelivery(ctx context.Context, q db.Querier, id uuid.UUID, status string,
	responseCode *int, result model.JSONMap, errMsg *string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE webhook_deliveries SET
			status = $2,
			response_status_code = $3,
			execution_result = $4,
			error_message = $5,
			processing_completed_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		id, status, responseCode, result, errMsg)
	return err
}

// ListDeliveries returns recent deliveries for a webhook, newest first.
func ListDeliveries(ctx context.Context, q db.Querier, webhookID uuid.UUID, limit int) ([]*model.WebhookDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE webhook_id = $1
		 ORDER BY received_at DESC LIMIT $2`,
		webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	deliveries := []*model.WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(row interface{ Scan(...any) error }) (*model.WebhookDelivery, error) {
	var (
		d         model.WebhookDelivery
		sigValid  sql.NullBool
		respCode  sql.NullInt64
		errMsg    sql.NullString
		nextRetry sql.NullTime
		doneAt    sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.WebhookID, &d.FunctionID, &d.RequestHeaders, &d.RequestBody,
		&sigValid, &d.Status, &respCode, &d.ExecutionResult, &errMsg,
		&d.DeliveryAttempt, &d.RetryCount, &nextRetry, &d.ReceivedAt, &doneAt,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if sigValid.Valid {
		v := sigValid.Bool
		d.SignatureValid = &v
	}
	if respCode.Valid {
		v := int(respCode.Int64)
		d.ResponseStatusCode = &v
	}
	d.ErrorMessage = nullStrPtr(errMsg)
	d.NextRetryAt = nullTimePtr(nextRetry)
	d.ProcessingCompletedAt = nullTimePtr(doneAt)
	return &d, nil
}

const deliveryColumns = `id, webhook_id, function_id, request_headers, request_body, signature_valid,
	status, response_status_code, execution_result, error_message,
	delivery_attempt, retry_count, next_retry_at, received_at, processing_completed_at,
	created_at, updated_at`

// GetDelivery fetches one delivery row for the admin retry path.
func GetDelivery(ctx context.Context, q db.Querier, id uuid.UUID) (*model.WebhookDelivery, error) {
	d, err := scanDelivery(q.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id))
	if err != nil {
		return nil, httpx.MapDBError(err, "Delivery")
	}
	return d, nil
}

// BumpRetryCount marks a delivery as re-dispatched.
func BumpRetryCount(ctx context.Context, q db.Querier, id uuid.UUID) error {
	_, err := q.ExecContext(ctx,
		`UPDATE webhook_deliveries SET
			retry_count = retry_count + 1,
			status = $2,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		id, model.DeliveryExecuting)
	return err
}
