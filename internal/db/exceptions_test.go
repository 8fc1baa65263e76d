package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogException(t *testing.T) {
	mockSQLDB, mock, db := setupMockDB(t)
	defer mockSQLDB.Close()

	mock.ExpectExec(`INSERT INTO exception_logs \(message, context\)`).
		WithArgs(`parse "http://[x": bad host`, "media check").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := db.LogException(context.Background(), errors.New(`parse "http://[x": bad host`), "media check")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogException_NilError(t *testing.T) {
	mockSQLDB, mock, db := setupMockDB(t)
	defer mockSQLDB.Close()

	require.NoError(t, db.LogException(context.Background(), nil, "noop"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogException_InsertFails(t *testing.T) {
	mockSQLDB, mock, db := setupMockDB(t)
	defer mockSQLDB.Close()

	mock.ExpectExec(`INSERT INTO exception_logs`).WillReturnError(errors.New("relation does not exist"))

	err := db.LogException(context.Background(), errors.New("x"), "ctx")
	assert.Error(t, err)
}

func TestRecentExceptions(t *testing.T) {
	mockSQLDB, mock, db := setupMockDB(t)
	defer mockSQLDB.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM exception_logs\s+ORDER BY id DESC\s+LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message", "context", "created_at"}).
			AddRow(2, "second", "b", now).
			AddRow(1, "first", "a", now))

	logs, err := db.RecentExceptions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(2), logs[0].ID)
	assert.Equal(t, "first", logs[1].Message)
}
