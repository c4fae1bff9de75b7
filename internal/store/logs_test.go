package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantgate/visitsync/internal/models"
)

func newLogEntry(createdAt int64, synced bool) *models.LogEntry {
	return &models.LogEntry{
		ID:        uuid.NewString(),
		Level:     "info",
		Message:   "camera initialized",
		Metadata:  json.RawMessage(`{"screen":"checkin"}`),
		Synced:    synced,
		CreatedAt: createdAt,
	}
}

func TestLogAppendAndListUnsynced(t *testing.T) {
	database := openTestDB(t)
	repo := NewLogRepository(database.DB)
	ctx := context.Background()

	first := newLogEntry(100, false)
	second := newLogEntry(200, false)
	acked := newLogEntry(150, true)

	require.NoError(t, repo.Append(ctx, second))
	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, acked))

	unsynced, err := repo.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	assert.Equal(t, first.ID, unsynced[0].ID)
	assert.Equal(t, second.ID, unsynced[1].ID)
	assert.JSONEq(t, `{"screen":"checkin"}`, string(unsynced[0].Metadata))

	count, err := repo.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLogListUnsyncedHonorsLimit(t *testing.T) {
	database := openTestDB(t)
	repo := NewLogRepository(database.DB)
	ctx := context.Background()

	for i := int64(0); i < 10; i++ {
		require.NoError(t, repo.Append(ctx, newLogEntry(i, false)))
	}

	unsynced, err := repo.ListUnsynced(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, unsynced, 4)
}

func TestLogMarkSynced(t *testing.T) {
	database := openTestDB(t)
	repo := NewLogRepository(database.DB)
	ctx := context.Background()

	a := newLogEntry(100, false)
	b := newLogEntry(200, false)
	c := newLogEntry(300, false)
	for _, e := range []*models.LogEntry{a, b, c} {
		require.NoError(t, repo.Append(ctx, e))
	}

	require.NoError(t, repo.MarkSynced(ctx, []string{a.ID, b.ID}))

	unsynced, err := repo.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, c.ID, unsynced[0].ID)

	// Empty id list is a no-op, not an error.
	require.NoError(t, repo.MarkSynced(ctx, nil))
}

func TestLogPruneIgnoresSyncStatus(t *testing.T) {
	database := openTestDB(t)
	repo := NewLogRepository(database.DB)
	ctx := context.Background()

	oldUnsynced := newLogEntry(100, false)
	oldSynced := newLogEntry(200, true)
	fresh := newLogEntry(900, false)
	for _, e := range []*models.LogEntry{oldUnsynced, oldSynced, fresh} {
		require.NoError(t, repo.Append(ctx, e))
	}

	// Age is the only criterion: unsynced-but-old entries go too.
	removed, err := repo.PruneOlderThan(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := repo.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
