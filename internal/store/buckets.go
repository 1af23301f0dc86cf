package store

import (
	"context"
	"database/sql"
	"regexp"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

const bucketColumns = `id, name, public, description, owner_id, metadata, file_count, total_size, created_at, updated_at`

// BucketSortable is the sort_by allowlist for bucket listings.
var BucketSortable = map[string]bool{
	"name":       true,
	"file_count": true,
	"total_size": true,
	"created_at": true,
	"updated_at": true,
}

// bucketNameRE is the S3-style name shape: 3-63 chars, lowercase alphanumeric
// plus hyphen, no leading/trailing hyphen.
var bucketNameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61})[a-z0-9]$`)

// ValidateBucketName enforces the S3-style naming rules.
func ValidateBucketName(name string) error {
	if !bucketNameRE.MatchString(name) {
		return httpx.Validation("Bucket name must be 3-63 lowercase alphanumeric characters or hyphens, not starting or ending with a hyphen")
	}
	return nil
}

func scanBucket(row interface{ Scan(...any) error }) (*model.Bucket, error) {
	var (
		b     model.Bucket
		owner uuid.NullUUID
		desc  sql.NullString
	)
	err := row.Scan(&b.ID, &b.Name, &b.Public, &desc, &owner, &b.Metadata,
		&b.FileCount, &b.TotalSize, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.OwnerID = nullUUIDPtr(owner)
	b.Description = nullStrPtr(desc)
	return &b, nil
}

// GetBucket fetches a bucket by id.
func GetBucket(ctx context.Context, q db.Querier, id uuid.UUID) (*model.Bucket, error) {
	b, err := scanBucket(q.QueryRowContext(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE id = $1`, id))
	if err != nil {
		return nil, httpx.MapDBError(err, "Bucket")
	}
	return b, nil
}

// GetBucketByName fetches a bucket by name.
func GetBucketByName(ctx context.Context, q db.Querier, name string) (*model.Bucket, error) {
	b, err := scanBucket(q.QueryRowContext(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE name = $1`, name))
	if err != nil {
		return nil, httpx.MapDBError(err, "Bucket")
	}
	return b, nil
}

// InsertBucket writes a bucket row.
func InsertBucket(ctx context.Context, q db.Querier, b *model.Bucket) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO buckets (id, name, public, description, owner_id, metadata, file_count, total_size, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8)`,
		b.ID, b.Name, b.Public, b.Description, b.OwnerID, b.Metadata, b.CreatedAt, b.UpdatedAt)
	return err
}

// CountBuckets counts buckets matching the search term.
func CountBuckets(ctx context.Context, q db.Querier, search string) (int64, error) {
	if err := ValidateSearchTerm(search); err != nil {
		return 0, err
	}
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM buckets
		 WHERE ($1 = '' OR name ILIKE $2 OR description ILIKE $2)`,
		search, "%"+search+"%").Scan(&n)
	return n, err
}

// ListBuckets pages through buckets; anonymous callers see only public ones.
func ListBuckets(ctx context.Context, q db.Querier, opts ListOptions, includePrivate bool) ([]*model.Bucket, error) {
	if err := opts.Normalize(100, BucketSortable, "created_at"); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+bucketColumns+` FROM buckets
		 WHERE ($1 = '' OR name ILIKE $2 OR description ILIKE $2)
		   AND (public OR $3)
		 `+opts.OrderClause()+` OFFSET $4 LIMIT $5`,
		opts.Search, opts.LikePattern(), includePrivate, opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	buckets := []*model.Bucket{}
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// BucketUpdate carries PATCH-able fields.
type BucketUpdate struct {
	Description *string       `json:"description"`
	Public      *bool         `json:"public"`
	Metadata    model.JSONMap `json:"metadata"`
}

// UpdateBucket applies a partial update and returns the fresh row.
func UpdateBucket(ctx context.Context, q db.Querier, id uuid.UUID, upd BucketUpdate) (*model.Bucket, error) {
	var meta any
	if upd.Metadata != nil {
		meta = upd.Metadata
	}
	res, err := q.ExecContext(ctx,
		`UPDATE buckets SET
			description = COALESCE($2, description),
			public = COALESCE($3, public),
			metadata = COALESCE($4, metadata),
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		id, upd.Description, upd.Public, meta)
	if err != nil {
		return nil, httpx.MapDBError(err, "Bucket")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, httpx.NotFound("Bucket")
	}
	return GetBucket(ctx, q, id)
}

// DeleteBucket removes a bucket row.
func DeleteBucket(ctx context.Context, q db.Querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM buckets WHERE id = $1`, id)
	if err != nil {
		return httpx.MapDBError(err, "Bucket")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httpx.NotFound("Bucket")
	}
	return nil
}

// AdjustBucketStats maintains file_count/total_size on file insert/delete.
// Cross-service drift against the worker is tolerated and swept later.
func AdjustBucketStats(ctx context.Context, q db.Querier, id uuid.UUID, fileDelta, sizeDelta int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE buckets SET
			file_count = GREATEST(file_count + $2, 0),
			total_size = GREATEST(total_size + $3, 0),
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		id, fileDelta, sizeDelta)
	return err
}

// StorageStats aggregates totals across all buckets.
type StorageStats struct {
	TotalFiles  int64 `json:"total_files"`
	TotalSize   int64 `json:"total_size"`
	BucketCount int64 `json:"bucket_count"`
}

// GetStorageStats sums the bucket counters.
func GetStorageStats(ctx context.Context, q db.Querier) (*StorageStats, error) {
	var s StorageStats
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_count), 0), COALESCE(SUM(total_size), 0), COUNT(*) FROM buckets`).
		Scan(&s.TotalFiles, &s.TotalSize, &s.BucketCount)
	return &s, err
}
