package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
)

// GenerateRefreshToken returns a 256-bit URL-safe random string. The raw
// value is handed to the client exactly once; only its digest is stored.
func GenerateRefreshToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is not recoverable
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// HashToken returns the hex SHA-256 digest stored in refresh_tokens.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateRefreshToken stores a new token row and returns the raw token.
func (s *Service) CreateRefreshToken(ctx context.Context, q db.Querier, userID uuid.UUID) (string, error) {
	raw := GenerateRefreshToken()
	expiresAt := time.Now().UTC().Add(s.refreshTTL)
	_, err := q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)`,
		uuid.New(), userID, HashToken(raw), expiresAt)
	if err != nil {
		return "", err
	}
	return raw, nil
}

// ValidateRefreshToken resolves a raw token to its user. The zero UUID and
// false mean invalid, expired, or revoked.
func ValidateRefreshToken(ctx context.Context, q db.Querier, raw string) (uuid.UUID, bool, error) {
	var (
		userID    uuid.UUID
		expiresAt time.Time
		revokedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx,
		`SELECT user_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash = $1`,
		HashToken(raw)).Scan(&userID, &expiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	if revokedAt.Valid || expiresAt.Before(time.Now().UTC()) {
		return uuid.Nil, false, nil
	}
	return userID, true, nil
}

// LookupRefreshToken resolves a raw token to its row even when revoked; the
// refresh handler needs the user id to run the reuse cascade. expired covers
// both a past expires_at and a missing row.
func LookupRefreshToken(ctx context.Context, q db.Querier, raw string) (userID uuid.UUID, found, expired bool, err error) {
	var expiresAt time.Time
	err = q.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM refresh_tokens WHERE token_hash = $1`,
		HashToken(raw)).Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, true, nil
	}
	if err != nil {
		return uuid.Nil, false, false, err
	}
	return userID, true, expiresAt.Before(time.Now().UTC()), nil
}

// RotateRefreshToken atomically revokes the presented token and issues a new
// one. The WHERE revoked_at IS NULL predicate is the race-free primitive: if
// it matches zero rows the token was already rotated, which is treated as
// reuse, and every live token for the user is revoked. Returns "" on reuse.
func (s *Service) RotateRefreshToken(ctx context.Context, q db.Querier, raw string, userID uuid.UUID) (string, error) {
	var revokedID uuid.UUID
	err := q.QueryRowContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = CURRENT_TIMESTAMP
		 WHERE token_hash = $1 AND revoked_at IS NULL
		 RETURNING id`,
		HashToken(raw)).Scan(&revokedID)
	if err == sql.ErrNoRows {
		if _, err := RevokeAllUserTokens(ctx, q, userID); err != nil {
			return "", err
		}
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.CreateRefreshToken(ctx, q, userID)
}

// RevokeRefreshToken revokes a single token. Reports whether a live row was
// found.
func RevokeRefreshToken(ctx context.Context, q db.Querier, raw string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = CURRENT_TIMESTAMP
		 WHERE token_hash = $1 AND revoked_at IS NULL`,
		HashToken(raw))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RevokeAllUserTokens revokes every live token for a user (logout-all and
// the reuse cascade). Returns the number revoked.
func RevokeAllUserTokens(ctx context.Context, q db.Querier, userID uuid.UUID) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = CURRENT_TIMESTAMP
		 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
