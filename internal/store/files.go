package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

const fileColumns = `id, bucket_id, name, path, size, mime_type, owner_id, metadata, checksum_sha256, version, is_latest, deleted_at, created_at, updated_at`

// FileSortable is the sort_by allowlist for file listings.
var FileSortable = map[string]bool{
	"name":       true,
	"path":       true,
	"size":       true,
	"mime_type":  true,
	"created_at": true,
	"updated_at": true,
}

func scanFile(row interface{ Scan(...any) error }) (*model.File, error) {
	var (
		f       model.File
		owner   uuid.NullUUID
		sum     sql.NullString
		deleted sql.NullTime
	)
	err := row.Scan(&f.ID, &f.BucketID, &f.Name, &f.Path, &f.Size, &f.MimeType,
		&owner, &f.Metadata, &sum, &f.Version, &f.IsLatest, &deleted, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.OwnerID = nullUUIDPtr(owner)
	f.ChecksumSHA256 = nullStrPtr(sum)
	f.DeletedAt = nullTimePtr(deleted)
	return &f, nil
}

// GetFile fetches file metadata by id.
func GetFile(ctx context.Context, q db.Querier, id uuid.UUID) (*model.File, error) {
	f, err := scanFile(q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		return nil, httpx.MapDBError(err, "File")
	}
	return f, nil
}

// GetLiveFileByPath resolves (bucket, path) among live latest rows.
func GetLiveFileByPath(ctx context.Context, q db.Querier, bucketID uuid.UUID, path string) (*model.File, error) {
	f, err := scanFile(q.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE bucket_id = $1 AND path = $2 AND is_latest AND deleted_at IS NULL`,
		bucketID, path))
	if err != nil {
		return nil, httpx.MapDBError(err, "File")
	}
	return f, nil
}

// LiveFilePathExists reports whether (bucket, path) is taken by a live file.
func LiveFilePathExists(ctx context.Context, q db.Querier, bucketID uuid.UUID, path string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM files WHERE bucket_id = $1 AND path = $2 AND is_latest AND deleted_at IS NULL`,
		bucketID, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// LiveFilePathsLike returns the live paths in a bucket matching a LIKE
// pattern; the duplicate-name prober uses it to find occupied numbers.
func LiveFilePathsLike(ctx context.Context, q db.Querier, bucketID uuid.UUID, pattern string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT path FROM files WHERE bucket_id = $1 AND path LIKE $2 AND is_latest AND deleted_at IS NULL`,
		bucketID, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// InsertFile writes a new latest-version file row.
func InsertFile(ctx context.Context, q db.Querier, f *model.File) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO files (id, bucket_id, name, path, size, mime_type, owner_id, metadata, checksum_sha256, version, is_latest, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $12)`,
		f.ID, f.BucketID, f.Name, f.Path, f.Size, f.MimeType, f.OwnerID,
		f.Metadata, f.ChecksumSHA256, f.Version, f.CreatedAt, f.UpdatedAt)
	return err
}

// CountFiles counts live files, optionally scoped to a bucket.
func CountFiles(ctx context.Context, q db.Querier, bucketID *uuid.UUID, search string) (int64, error) {
	if err := ValidateSearchTerm(search); err != nil {
		return 0, err
	}
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files
		 WHERE is_latest AND deleted_at IS NULL
		   AND ($1::uuid IS NULL OR bucket_id = $1)
		   AND ($2 = '' OR name ILIKE $3 OR path ILIKE $3)`,
		bucketID, search, "%"+search+"%").Scan(&n)
	return n, err
}

// ListFiles pages through live files. Files inherit bucket visibility, so
// callers resolve the bucket first; this only filters on bucket id.
func ListFiles(ctx context.Context, q db.Querier, bucketID *uuid.UUID, opts ListOptions) ([]*model.File, error) {
	if err := opts.Normalize(500, FileSortable, "created_at"); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE is_latest AND deleted_at IS NULL
		   AND ($1::uuid IS NULL OR bucket_id = $1)
		   AND ($2 = '' OR name ILIKE $3 OR path ILIKE $3)
		 `+opts.OrderClause()+` OFFSET $4 LIMIT $5`,
		bucketID, opts.Search, opts.LikePattern(), opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	files := []*model.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FileUpdate carries PATCH-able metadata fields.
type FileUpdate struct {
	Name     *string       `json:"name"`
	Metadata model.JSONMap `json:"metadata"`
}

// UpdateFile applies a partial metadata update and returns the fresh row.
func UpdateFile(ctx context.Context, q db.Querier, id uuid.UUID, upd FileUpdate) (*model.File, error) {
	var meta any
	if upd.Metadata != nil {
		meta = upd.Metadata
	}
	res, err := q.ExecContext(ctx,
		`UPDATE files SET
			name = COALESCE($2, name),
			metadata = COALESCE($3, metadata),
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		id, upd.Name, meta)
	if err != nil {
		return nil, httpx.MapDBError(err, "File")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, httpx.NotFound("File")
	}
	return GetFile(ctx, q, id)
}

// DeleteFile removes a file row.
func DeleteFile(ctx context.Context, q db.Querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return httpx.MapDBError(err, "File")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httpx.NotFound("File")
	}
	return nil
}

// ListBucketFiles returns every live file in a bucket (bucket deletion walks
// these for best-effort blob cleanup).
func ListBucketFiles(ctx context.Context, q db.Querier, bucketID uuid.UUID) ([]*model.File, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE bucket_id = $1 AND is_latest AND deleted_at IS NULL`,
		bucketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
