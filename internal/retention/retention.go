// Package retention purges synced submissions and their payload files past
// the retention window.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tenantgate/visitsync/internal/logger"
	"github.com/tenantgate/visitsync/internal/pipeline"
	"github.com/tenantgate/visitsync/internal/store"
)

// Manager performs routine housekeeping of the durable store. Not
// user-triggered and not reversible.
type Manager struct {
	store    store.SubmissionRepository
	pipeline *pipeline.Pipeline
}

// New creates a Manager.
func New(s store.SubmissionRepository, p *pipeline.Pipeline) *Manager {
	return &Manager{store: s, pipeline: p}
}

// Purge deletes synced submissions older than retainDays along with their
// payload files. Pending records are never touched regardless of age: a
// record stays durable until its delivery is confirmed.
func (m *Manager) Purge(ctx context.Context, retainDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retainDays).Unix()

	old, err := m.store.ListSyncedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, sub := range old {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}

		// Row first: once the row is gone nothing references the file, and
		// a crash between the two steps leaves only an orphan the cleanup
		// sweep reclaims later.
		if err := m.store.Delete(ctx, sub.ID); err != nil {
			logger.Log.Warn("failed to purge submission",
				zap.String("submission_id", sub.ID), zap.Error(err))
			continue
		}
		if sub.PhotoPath != "" {
			if err := m.pipeline.Remove(sub.PhotoPath); err != nil {
				logger.Log.Warn("failed to remove purged payload",
					zap.String("path", sub.PhotoPath), zap.Error(err))
			}
		}
		purged++
	}

	if purged > 0 {
		logger.Log.Info("retention purge finished",
			zap.Int("purged", purged), zap.Int("retain_days", retainDays))
	}
	return purged, nil
}
