package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	dbh, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh, mock
}

func TestCreateRefreshTokenStoresDigest(t *testing.T) {
	dbh, mock := newMock(t)
	s := newTestService(t)
	userID := uuid.New()

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(sqlmock.AnyArg(), userID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	raw, err := s.CreateRefreshToken(context.Background(), dbh, userID)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateRefreshToken(t *testing.T) {
	dbh, mock := newMock(t)
	userID := uuid.New()
	raw := GenerateRefreshToken()
	future := time.Now().UTC().Add(time.Hour)

	mock.ExpectQuery(`SELECT user_id, expires_at, revoked_at FROM refresh_tokens`).
		WithArgs(HashToken(raw)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).
			AddRow(userID, future, nil))

	got, ok, err := ValidateRefreshToken(context.Background(), dbh, raw)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, userID, got)
}

func TestValidateRefreshTokenRevoked(t *testing.T) {
	dbh, mock := newMock(t)
	raw := GenerateRefreshToken()

	mock.ExpectQuery(`SELECT user_id, expires_at, revoked_at FROM refresh_tokens`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).
			AddRow(uuid.New(), time.Now().UTC().Add(time.Hour), time.Now().UTC()))

	_, ok, err := ValidateRefreshToken(context.Background(), dbh, raw)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateRefreshTokenMissing(t *testing.T) {
	dbh, mock := newMock(t)
	mock.ExpectQuery(`SELECT user_id, expires_at, revoked_at FROM refresh_tokens`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}))

	_, ok, err := ValidateRefreshToken(context.Background(), dbh, "whatever")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLookupRefreshToken(t *testing.T) {
	dbh, mock := newMock(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT user_id, expires_at FROM refresh_tokens`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at"}).
			AddRow(userID, time.Now().UTC().Add(-time.Minute)))

	got, found, expired, err := LookupRefreshToken(context.Background(), dbh, "raw")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, expired)
	require.Equal(t, userID, got)
}

func TestRotateRefreshToken(t *testing.T) {
	dbh, mock := newMock(t)
	s := newTestService(t)
	userID := uuid.New()
	raw := GenerateRefreshToken()

	mock.ExpectQuery(`UPDATE refresh_tokens SET revoked_at`).
		WithArgs(HashToken(raw)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	next, err := s.RotateRefreshToken(context.Background(), dbh, raw, userID)
	require.NoError(t, err)
	require.NotEmpty(t, next)
	require.NotEqual(t, raw, next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshTokenReuseCascades(t *testing.T) {
	dbh, mock := newMock(t)
	s := newTestService(t)
	userID := uuid.New()

	// The conditional revoke matches nothing: the token was already rotated.
	mock.ExpectQuery(`UPDATE refresh_tokens SET revoked_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	next, err := s.RotateRefreshToken(context.Background(), dbh, "stolen", userID)
	require.NoError(t, err)
	require.Empty(t, next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAllUserTokens(t *testing.T) {
	dbh, mock := newMock(t)
	userID := uuid.New()

	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := RevokeAllUserTokens(context.Background(), dbh, userID)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
