// Package store provides repositories over the durable submission and log queues.
package store

import (
	"context"
	"errors"

	"github.com/tenantgate/visitsync/internal/models"
)

// ErrNotPending is returned when a synced-state mutation targets a record
// that is missing or already synced. Synced is terminal and never regresses.
var ErrNotPending = errors.New("submission is not pending")

// SubmissionRepository is the durable queue of visitor submissions.
type SubmissionRepository interface {
	// Create inserts a new submission row with the status carried by sub.
	Create(ctx context.Context, sub *models.PendingSubmission) error

	// ListPending returns all pending submissions in creation order.
	ListPending(ctx context.Context) ([]*models.PendingSubmission, error)

	// PendingCount returns the number of pending submissions.
	PendingCount(ctx context.Context) (int, error)

	// MarkSynced transitions a pending submission to synced with the
	// server-assigned identifier. Returns ErrNotPending if the row is
	// missing or already synced.
	MarkSynced(ctx context.Context, id, serverID string, at int64) error

	// RecordAttempt bumps the retry counter after a failed delivery.
	RecordAttempt(ctx context.Context, id string, at int64) error

	// ListSyncedBefore returns synced submissions whose synced_at is older
	// than the cutoff, for retention housekeeping.
	ListSyncedBefore(ctx context.Context, cutoff int64) ([]*models.PendingSubmission, error)

	// Delete removes a submission row.
	Delete(ctx context.Context, id string) error

	// ReferencedPhotoPaths returns the payload paths of every pending
	// submission plus submissions synced at or after syncedAfter.
	ReferencedPhotoPaths(ctx context.Context, syncedAfter int64) (map[string]struct{}, error)

	// ListRecent returns the most recent submissions regardless of status,
	// newest first. Read-only display surface for the UI layer.
	ListRecent(ctx context.Context, limit int) ([]*models.PendingSubmission, error)
}

// LogRepository is the durable queue of diagnostic log entries.
type LogRepository interface {
	// Append inserts a new unsynced log entry.
	Append(ctx context.Context, entry *models.LogEntry) error

	// ListUnsynced returns up to limit unsynced entries in creation order.
	ListUnsynced(ctx context.Context, limit int) ([]*models.LogEntry, error)

	// MarkSynced flags the given entries as acknowledged, atomically.
	MarkSynced(ctx context.Context, ids []string) error

	// UnsyncedCount returns the number of unsynced entries.
	UnsyncedCount(ctx context.Context) (int, error)

	// PruneOlderThan deletes entries created before the cutoff regardless
	// of sync status. Returns the number of rows removed.
	PruneOlderThan(ctx context.Context, cutoff int64) (int, error)
}
