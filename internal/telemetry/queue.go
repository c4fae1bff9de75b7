// Package telemetry is the durable diagnostic log queue: every log call
// writes a local row first, delivery to the ingestion service is debounced
// and best-effort.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tenantgate/visitsync/internal/logger"
	"github.com/tenantgate/visitsync/internal/models"
	"github.com/tenantgate/visitsync/internal/store"
	"github.com/tenantgate/visitsync/internal/visitorapi"
)

// API is the ingestion surface the queue needs.
type API interface {
	PushLogs(ctx context.Context, entries []visitorapi.LogPayload) error
	Health(ctx context.Context) bool
}

// Config tunes the queue.
type Config struct {
	// Debounce collapses bursts of log calls into one sync attempt.
	Debounce time.Duration
	// BatchSize bounds entries per ingestion request.
	BatchSize int
	// MaxAttempts caps retries of a failing batch.
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
	// RetainDays caps entry age regardless of sync status.
	RetainDays int
}

// Stats is a read-only snapshot for display surfaces.
type Stats struct {
	Unsynced int
	LastSync time.Time
	Syncing  bool
}

// Queue is the telemetry log queue. Log calls are fire-and-forget from the
// caller's perspective: the durable write happens inline, network delivery
// never blocks the caller.
type Queue struct {
	repo store.LogRepository
	api  API
	cfg  Config

	mu       sync.Mutex
	timer    *time.Timer
	syncing  bool
	closed   bool
	lastSync time.Time

	wg sync.WaitGroup
}

// New creates a Queue.
func New(repo store.LogRepository, api API, cfg Config) *Queue {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.RetainDays <= 0 {
		cfg.RetainDays = 30
	}
	return &Queue{repo: repo, api: api, cfg: cfg}
}

// Log writes a durable unsynced entry and schedules a debounced sync.
func (q *Queue) Log(level, message string, metadata map[string]any) {
	entry := &models.LogEntry{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: time.Now().Unix(),
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.repo.Append(ctx, entry); err != nil {
		logger.Log.Warn("failed to persist log entry", zap.Error(err))
		return
	}

	q.ScheduleSync()
}

// Info logs at info level.
func (q *Queue) Info(message string, metadata map[string]any) { q.Log("info", message, metadata) }

// Warn logs at warn level.
func (q *Queue) Warn(message string, metadata map[string]any) { q.Log("warn", message, metadata) }

// Error logs at error level.
func (q *Queue) Error(message string, metadata map[string]any) { q.Log("error", message, metadata) }

// ScheduleSync arms (or re-arms) the debounce timer. Connectivity-restored
// and app-foreground events funnel through here as well.
func (q *Queue) ScheduleSync() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(q.cfg.Debounce, func() {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.SyncNow(context.Background())
		}()
	})
}

// SyncNow drains unsynced entries in bounded batches. A failing batch is
// retried with doubling backoff up to the attempt cap; on success the next
// batch follows until none remain. Guarded against overlapping runs.
func (q *Queue) SyncNow(ctx context.Context) {
	q.mu.Lock()
	if q.syncing || q.closed {
		q.mu.Unlock()
		return
	}
	q.syncing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.syncing = false
		q.mu.Unlock()
	}()

	// Pre-flight liveness check is advisory only: an unhealthy report does
	// not prevent the attempt.
	if !q.api.Health(ctx) {
		logger.Log.Debug("telemetry health check failed, attempting sync anyway")
	}

	for {
		entries, err := q.repo.ListUnsynced(ctx, q.cfg.BatchSize)
		if err != nil {
			logger.Log.Warn("failed to read unsynced log entries", zap.Error(err))
			return
		}
		if len(entries) == 0 {
			return
		}

		if !q.pushBatch(ctx, entries) {
			return
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := q.repo.MarkSynced(ctx, ids); err != nil {
			logger.Log.Warn("failed to mark log entries synced", zap.Error(err))
			return
		}

		q.mu.Lock()
		q.lastSync = time.Now()
		q.mu.Unlock()

		if len(entries) < q.cfg.BatchSize {
			return
		}
	}
}

// pushBatch delivers one batch, retrying the same batch with doubling
// backoff. Reports whether the batch was acknowledged.
func (q *Queue) pushBatch(ctx context.Context, entries []*models.LogEntry) bool {
	payload := make([]visitorapi.LogPayload, len(entries))
	for i, e := range entries {
		payload[i] = visitorapi.LogPayload{
			Level:     e.Level,
			Message:   e.Message,
			Timestamp: e.CreatedAt,
			Metadata:  e.Metadata,
		}
	}

	delay := q.cfg.BaseBackoff
	for attempt := 0; attempt < q.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}
			delay *= 2
		}

		err := q.api.PushLogs(ctx, payload)
		if err == nil {
			return true
		}
		logger.Log.Debug("log batch delivery failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}

	logger.Log.Warn("log batch delivery gave up",
		zap.Int("attempts", q.cfg.MaxAttempts), zap.Int("batch", len(entries)))
	return false
}

// Prune deletes entries older than the retention age, synced or not.
// Telemetry durability is capped by age, not by successful delivery.
func (q *Queue) Prune(ctx context.Context) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -q.cfg.RetainDays).Unix()
	return q.repo.PruneOlderThan(ctx, cutoff)
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats(ctx context.Context) Stats {
	count, err := q.repo.UnsyncedCount(ctx)
	if err != nil {
		count = -1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Unsynced: count, LastSync: q.lastSync, Syncing: q.syncing}
}

// Close stops the debounce timer and waits for an in-flight sync to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	q.wg.Wait()
}
