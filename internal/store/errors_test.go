package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkSyncedDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE submissions").WillReturnError(errors.New("disk I/O error"))

	repo := NewSubmissionRepository(db)
	err = repo.MarkSynced(context.Background(), "sub-1", "srv-1", 100)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotPending)
	assert.Contains(t, err.Error(), "failed to mark submission synced")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSyncedNoRowsBecomesNotPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE submissions").
		WithArgs("srv-1", int64(100), "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewSubmissionRepository(db)
	err = repo.MarkSynced(context.Background(), "sub-1", "srv-1", 100)
	assert.ErrorIs(t, err, ErrNotPending)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM submissions").WillReturnError(errors.New("database is locked"))

	repo := NewSubmissionRepository(db)
	_, err = repo.ListPending(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select submissions")
}

func TestLogMarkSyncedRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE log_entries").WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	repo := NewLogRepository(db)
	err = repo.MarkSynced(context.Background(), []string{"a", "b"})
	require.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
