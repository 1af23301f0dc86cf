// Package model holds the DTOs for the HTTP API layer and the registry rows
// they decode from. These structs stay free of driver types so the boundary
// between handlers and stores is plain data.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Roles.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User is a registry row in users.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin reports whether ownership checks are bypassed for this user.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// RefreshToken is the stored digest of a long-lived session token. The raw
// token is shown to the client exactly once.
type RefreshToken struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Table is a registry entry backed by a physical SQL table of the same name.
type Table struct {
	ID              uuid.UUID   `json:"id"`
	Name            string      `json:"name"`
	TableSchema     TableSchema `json:"table_schema"`
	Public          bool        `json:"public"`
	OwnerID         *uuid.UUID  `json:"owner_id,omitempty"`
	Description     *string     `json:"description,omitempty"`
	Metadata        JSONMap     `json:"metadata"`
	RowCount        int64       `json:"row_count"`
	RealtimeEnabled bool        `json:"realtime_enabled"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Bucket is a blob-store namespace, 1:1 with a directory at the worker.
type Bucket struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Public      bool       `json:"public"`
	Description *string    `json:"description,omitempty"`
	OwnerID     *uuid.UUID `json:"owner_id,omitempty"`
	Metadata    JSONMap    `json:"metadata"`
	FileCount   int64      `json:"file_count"`
	TotalSize   int64      `json:"total_size"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// File is blob metadata. (bucket_id, path) is unique among live latest rows.
type File struct {
	ID             uuid.UUID  `json:"id"`
	BucketID       uuid.UUID  `json:"bucket_id"`
	Name           string     `json:"name"`
	Path           string     `json:"path"`
	Size           int64      `json:"size"`
	MimeType       string     `json:"mime_type"`
	OwnerID        *uuid.UUID `json:"owner_id,omitempty"`
	Metadata       JSONMap    `json:"metadata"`
	ChecksumSHA256 *string    `json:"checksum_sha256,omitempty"`
	Version        int        `json:"version"`
	IsLatest       bool       `json:"is_latest"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Function deployment states.
const (
	DeployPending    = "pending"
	DeployDeployed   = "deployed"
	DeployFailed     = "failed"
	DeployUndeployed = "undeployed"
)

// Function is metadata the gateway manages; execution happens in the external
// runtime.
type Function struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Code               string     `json:"code"`
	Description        *string    `json:"description,omitempty"`
	TimeoutSeconds     int        `json:"timeout_seconds"`
	OwnerID            *uuid.UUID `json:"owner_id,omitempty"`
	IsActive           bool       `json:"is_active"`
	DeploymentStatus   string     `json:"deployment_status"`
	DeploymentError    *string    `json:"deployment_error,omitempty"`
	Version            int        `json:"version"`
	EnvVars            JSONMap    `json:"env_vars"`
	ExecutionCount     int64      `json:"execution_count"`
	SuccessCount       int64      `json:"execution_success_count"`
	ErrorCount         int64      `json:"execution_error_count"`
	AvgExecutionTimeMS int64      `json:"avg_execution_time_ms"`
	LastExecutedAt     *time.Time `json:"last_executed_at,omitempty"`
	LastDeployedAt     *time.Time `json:"last_deployed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// FunctionExecution is one append-only audit row per runtime callback.
type FunctionExecution struct {
	ID           uuid.UUID  `json:"id"`
	FunctionID   uuid.UUID  `json:"function_id"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	TriggerType  string     `json:"trigger_type"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  time.Time  `json:"completed_at"`
	DurationMS   int64      `json:"duration_ms"`
	Result       JSONMap    `json:"result,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// FunctionLog is one line of runtime output. Level comes from the first
// bracketed prefix ([ERROR]/[WARN]), default info.
type FunctionLog struct {
	ID          uuid.UUID `json:"id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	FunctionID  uuid.UUID `json:"function_id"`
	Level       string    `json:"log_level"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Webhook links an inbound trigger token to a function.
type Webhook struct {
	ID                 uuid.UUID  `json:"id"`
	FunctionID         uuid.UUID  `json:"function_id"`
	OwnerID            *uuid.UUID `json:"owner_id,omitempty"`
	Name               string     `json:"name"`
	WebhookToken       string     `json:"webhook_token"`
	SecretKey          *string    `json:"secret_key,omitempty"`
	IsActive           bool       `json:"is_active"`
	TriggerCount       int64      `json:"trigger_count"`
	RetryAttempts      int        `json:"retry_attempts"`
	RetryDelaySeconds  int        `json:"retry_delay_seconds"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Delivery states.
const (
	DeliveryReceived     = "received"
	DeliveryQueued       = "queued"
	DeliveryExecuting    = "executing"
	DeliveryCompleted    = "completed"
	DeliveryFailed       = "failed"
	DeliveryRetryPending = "retry_pending"
)

// WebhookDelivery records one receipt of a webhook payload and the resulting
// invocation.
type WebhookDelivery struct {
	ID                    uuid.UUID  `json:"id"`
	WebhookID             uuid.UUID  `json:"webhook_id"`
	FunctionID            uuid.UUID  `json:"function_id"`
	RequestHeaders        JSONMap    `json:"request_headers,omitempty"`
	RequestBody           JSONMap    `json:"request_body,omitempty"`
	SignatureValid        *bool      `json:"signature_valid,omitempty"`
	Status                string     `json:"status"`
	ResponseStatusCode    *int       `json:"response_status_code,omitempty"`
	ExecutionResult       JSONMap    `json:"execution_result,omitempty"`
	ErrorMessage          *string    `json:"error_message,omitempty"`
	DeliveryAttempt       int        `json:"delivery_attempt"`
	RetryCount            int        `json:"retry_count"`
	NextRetryAt           *time.Time `json:"next_retry_at,omitempty"`
	ReceivedAt            time.Time  `json:"received_at"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SQLHistory is the per-user console audit trail.
type SQLHistory struct {
	ID            uuid.UUID  `json:"id"`
	Query         string     `json:"query"`
	IsReadOnly    bool       `json:"is_read_only"`
	ExecutionTime float64    `json:"execution_time"`
	RowCount      int64      `json:"row_count"`
	Error         *string    `json:"error,omitempty"`
	UserID        *uuid.UUID `json:"-"`
	ExecutedAt    time.Time  `json:"executed_at"`
}

// SQLSnippet is a saved console query.
type SQLSnippet struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	SQLCode     string     `json:"sql_code"`
	Description *string    `json:"description,omitempty"`
	IsShared    bool       `json:"is_shared"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
