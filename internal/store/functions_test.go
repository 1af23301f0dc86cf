package store

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/selfdb-io/selfdb/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	dbh, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh, mock
}

func expectExecutionRows(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`INSERT INTO function_executions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestRecordExecutionFirstSample(t *testing.T) {
	dbh, mock := newMock(t)
	fn := &model.Function{ID: uuid.New()}

	mock.ExpectExec(`UPDATE functions SET`).
		WithArgs(fn.ID, int64(1), int64(0), int64(40), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectExecutionRows(mock)

	_, err := RecordExecution(context.Background(), dbh, fn, true, 40, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A prior average of zero is still an average: with three recorded executions
// averaging 0ms, an 8ms fourth sample yields (0*3+8)/4 = 2, not 8.
func TestRecordExecutionRunningAverageWithZeroPriorAvg(t *testing.T) {
	dbh, mock := newMock(t)
	fn := &model.Function{ID: uuid.New(), ExecutionCount: 3, AvgExecutionTimeMS: 0}

	mock.ExpectExec(`UPDATE functions SET`).
		WithArgs(fn.ID, int64(1), int64(0), int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectExecutionRows(mock)

	_, err := RecordExecution(context.Background(), dbh, fn, true, 8, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordExecutionRunningAverage(t *testing.T) {
	dbh, mock := newMock(t)
	fn := &model.Function{ID: uuid.New(), ExecutionCount: 4, AvgExecutionTimeMS: 10}

	// (10*4 + 20) / 5 = 12; the failure bumps the error counter.
	mock.ExpectExec(`UPDATE functions SET`).
		WithArgs(fn.ID, int64(0), int64(1), int64(12), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectExecutionRows(mock)

	_, err := RecordExecution(context.Background(), dbh, fn, false, 20, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordExecutionWritesLogRows(t *testing.T) {
	dbh, mock := newMock(t)
	fn := &model.Function{ID: uuid.New()}

	mock.ExpectExec(`UPDATE functions SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectExecutionRows(mock)
	for i := 0; i < 2; i++ {
		mock.ExpectExec(`INSERT INTO function_logs`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	_, err := RecordExecution(context.Background(), dbh, fn, true, 5, nil, []string{"started", "[ERROR] boom"}, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogLevelFor(t *testing.T) {
	require.Equal(t, "error", LogLevelFor("[ERROR] boom"))
	require.Equal(t, "warn", LogLevelFor("[WARN] careful"))
	require.Equal(t, "info", LogLevelFor("plain line"))
}
