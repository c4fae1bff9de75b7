// Package syncer drains the durable submission queue once connectivity
// returns.
package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tenantgate/visitsync/internal/logger"
	"github.com/tenantgate/visitsync/internal/models"
	"github.com/tenantgate/visitsync/internal/pipeline"
	"github.com/tenantgate/visitsync/internal/store"
	"github.com/tenantgate/visitsync/internal/visitorapi"
)

// Result holds the per-pass counts. Synced + Failed always equals the
// pending count at the start of the pass.
type Result struct {
	Synced int
	Failed int
}

// Stats is a read-only snapshot for display surfaces.
type Stats struct {
	LastDrain  time.Time
	LastResult Result
	Draining   bool
}

// Config tunes a drain pass.
type Config struct {
	// BatchSize bounds concurrent deliveries (and open file handles).
	BatchSize int
	// BatchPause is the idle gap between sequential batches.
	BatchPause time.Duration
	// GraceWindow protects just-synced payload files from the cleanup sweep.
	GraceWindow time.Duration
}

// VisitorAPI is the delivery surface the engine needs.
type VisitorAPI interface {
	AddVisitor(ctx context.Context, req *visitorapi.AddVisitorRequest) (string, error)
	ReportSyncIssues(ctx context.Context, issues []visitorapi.SyncIssue) error
}

// retryReportThreshold is the retry count at which a persistently failing
// record is reported out-of-band. Reported once, when the count crosses.
const retryReportThreshold = 10

// Engine drains pending submissions in bounded batches.
type Engine struct {
	store    store.SubmissionRepository
	pipeline *pipeline.Pipeline
	api      VisitorAPI
	cfg      Config

	// draining is the single-flight guard: overlapping Drain calls (a
	// connectivity event racing a periodic trigger) are no-ops.
	draining sync.Mutex

	statsMu    sync.Mutex
	lastDrain  time.Time
	lastResult Result
	inProgress bool

	stuckMu sync.Mutex
	stuck   []visitorapi.SyncIssue
}

// New creates an Engine.
func New(s store.SubmissionRepository, p *pipeline.Pipeline, api VisitorAPI, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = time.Hour
	}
	return &Engine{store: s, pipeline: p, api: api, cfg: cfg}
}

// Drain attempts delivery of every currently-pending submission. Records in
// a batch are dispatched concurrently; batches run sequentially with a short
// pause between them. Failure of one record never aborts the batch or the
// pass. A Drain that overlaps a running pass returns zero counts immediately.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	if !e.draining.TryLock() {
		return Result{}, nil
	}
	defer e.draining.Unlock()

	e.setInProgress(true)
	defer e.setInProgress(false)

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(pending) == 0 {
		return Result{}, nil
	}

	logger.Log.Info("drain pass started", zap.Int("pending", len(pending)))

	var result Result
	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		if ctx.Err() != nil {
			// Unattempted records count as failed so conservation holds.
			result.Failed += len(pending) - start
			e.recordResult(result)
			return result, ctx.Err()
		}

		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		synced, failed := e.deliverBatch(ctx, pending[start:end])
		result.Synced += synced
		result.Failed += failed

		if end < len(pending) && e.cfg.BatchPause > 0 {
			select {
			case <-time.After(e.cfg.BatchPause):
			case <-ctx.Done():
			}
		}
	}

	e.recordResult(result)
	e.sweep(ctx)
	e.reportStuck()

	logger.Log.Info("drain pass finished",
		zap.Int("synced", result.Synced), zap.Int("failed", result.Failed))
	return result, nil
}

// deliverBatch fans the batch out concurrently and tallies per-item results.
func (e *Engine) deliverBatch(ctx context.Context, batch []*models.PendingSubmission) (synced, failed int) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, sub := range batch {
		sub := sub
		g.Go(func() error {
			if e.deliverOne(gctx, sub) {
				mu.Lock()
				synced++
				mu.Unlock()
			} else {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			// Per-item failures are tallied, never propagated: one bad
			// record must not cancel its batch siblings.
			return nil
		})
	}

	_ = g.Wait()
	return synced, failed
}

// deliverOne re-reads the payload, re-issues the delivery request, and marks
// the row synced on success.
func (e *Engine) deliverOne(ctx context.Context, sub *models.PendingSubmission) bool {
	now := time.Now().Unix()

	imageName, imageB64, err := e.pipeline.ReadBase64(sub.PhotoPath)
	if err != nil {
		logger.Log.Warn("failed to read payload for sync",
			zap.String("submission_id", sub.ID), zap.Error(err))
		e.noteFailure(ctx, sub, now, "payload file unreadable")
		return false
	}

	serverID, err := e.api.AddVisitor(ctx, &visitorapi.AddVisitorRequest{
		VisitorName:     sub.VisitorName,
		VisitorMobileNo: sub.VisitorMobile,
		VisitingTenant:  sub.TenantID,
		Photo:           visitorapi.Photo{ImageName: imageName, ImageBase64: imageB64},
	})
	if err != nil {
		logger.Log.Warn("sync delivery failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
		e.noteFailure(ctx, sub, now, "delivery keeps failing")
		return false
	}

	if err := e.store.MarkSynced(ctx, sub.ID, serverID, time.Now().Unix()); err != nil {
		logger.Log.Error("failed to mark submission synced",
			zap.String("submission_id", sub.ID), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) noteFailure(ctx context.Context, sub *models.PendingSubmission, at int64, reason string) {
	if err := e.store.RecordAttempt(ctx, sub.ID, at); err != nil {
		logger.Log.Warn("failed to record attempt",
			zap.String("submission_id", sub.ID), zap.Error(err))
	}

	if sub.RetryCount+1 == retryReportThreshold {
		e.stuckMu.Lock()
		e.stuck = append(e.stuck, visitorapi.SyncIssue{
			SubmissionID: sub.ID,
			Reason:       reason,
			OccurredAt:   at,
		})
		e.stuckMu.Unlock()
	}
}

// reportStuck fires one best-effort report for records that crossed the retry
// threshold during this pass, detached from the caller's context.
func (e *Engine) reportStuck() {
	e.stuckMu.Lock()
	issues := e.stuck
	e.stuck = nil
	e.stuckMu.Unlock()

	if len(issues) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.api.ReportSyncIssues(ctx, issues); err != nil {
			logger.Log.Debug("sync issue report failed", zap.Error(err))
		}
	}()
}

// sweep reclaims payload files no longer referenced by a pending or
// recently-synced record. Runs after the pass, never during submission.
func (e *Engine) sweep(ctx context.Context) {
	syncedAfter := time.Now().Add(-e.cfg.GraceWindow).Unix()
	refs, err := e.store.ReferencedPhotoPaths(ctx, syncedAfter)
	if err != nil {
		logger.Log.Warn("cleanup sweep skipped", zap.Error(err))
		return
	}

	removed, err := e.pipeline.Sweep(refs, e.cfg.GraceWindow)
	if err != nil {
		logger.Log.Warn("cleanup sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		logger.Log.Info("cleanup sweep removed orphaned payloads", zap.Int("removed", removed))
	}
}

func (e *Engine) setInProgress(v bool) {
	e.statsMu.Lock()
	e.inProgress = v
	e.statsMu.Unlock()
}

func (e *Engine) recordResult(r Result) {
	e.statsMu.Lock()
	e.lastDrain = time.Now()
	e.lastResult = r
	e.statsMu.Unlock()
}

// Stats returns a snapshot of the engine's last pass.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return Stats{LastDrain: e.lastDrain, LastResult: e.lastResult, Draining: e.inProgress}
}
