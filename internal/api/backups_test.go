package api

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/selfdb-io/selfdb/internal/db"
)

// The latch reset after a restore runs on a connection borrowed from the pool
// at that moment, not on the request's pinned connection: the restore killed
// every backend, and a pinned *sql.Conn is never re-dialed.
func TestClearInitializedLatchBorrowsFreshConnection(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mock.ExpectExec(`UPDATE system_config SET initialized = FALSE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &Server{db: db.Wrap(sqlDB, zerolog.Nop())}
	require.NoError(t, s.clearInitializedLatch(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
