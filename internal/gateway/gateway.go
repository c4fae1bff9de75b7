// Package gateway is the submission entry point: deliver now if possible,
// queue durably if not, and always return a definitive outcome.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tenantgate/visitsync/internal/logger"
	"github.com/tenantgate/visitsync/internal/models"
	"github.com/tenantgate/visitsync/internal/pipeline"
	"github.com/tenantgate/visitsync/internal/store"
	"github.com/tenantgate/visitsync/internal/visitorapi"
)

// OutcomeKind discriminates the result of a Submit call.
type OutcomeKind string

const (
	// Delivered: the server accepted the record; a synced row was written.
	Delivered OutcomeKind = "delivered"
	// StoredLocally: transient network failure; a pending row was queued
	// for a later drain pass.
	StoredLocally OutcomeKind = "stored_locally"
	// Rejected: the server returned a non-2xx response; nothing was queued.
	Rejected OutcomeKind = "rejected"
	// DeliveredNotPersisted: the server accepted the record but the local
	// write failed afterwards. Recoverable inconsistency, surfaced rather
	// than swallowed.
	DeliveredNotPersisted OutcomeKind = "delivered_not_persisted"
	// Invalid: input validation failed before any I/O.
	Invalid OutcomeKind = "invalid"
	// Failed: delivery failed and the fallback local write also failed.
	Failed OutcomeKind = "failed"
)

// Outcome describes exactly what happened to one submission. Submit never
// returns a raw error across this boundary.
type Outcome struct {
	Kind         OutcomeKind
	SubmissionID string
	ServerID     string
	Err          error
}

// SubmitRequest carries the domain fields plus the raw photo payload.
type SubmitRequest struct {
	VisitorName   string
	VisitorMobile string
	TenantID      string
	Photo         []byte
}

// VisitorAPI is the delivery surface the gateway needs from the HTTP client.
type VisitorAPI interface {
	AddVisitor(ctx context.Context, req *visitorapi.AddVisitorRequest) (string, error)
	ReportSyncIssues(ctx context.Context, issues []visitorapi.SyncIssue) error
}

// Gateway implements the submit flow.
type Gateway struct {
	store    store.SubmissionRepository
	pipeline *pipeline.Pipeline
	api      VisitorAPI
}

// New creates a Gateway.
func New(s store.SubmissionRepository, p *pipeline.Pipeline, api VisitorAPI) *Gateway {
	return &Gateway{store: s, pipeline: p, api: api}
}

// Submit validates, compresses and persists the payload, attempts immediate
// delivery, and falls back to the durable queue on transient failure.
// Exactly one of the Outcome kinds results from every call.
func (g *Gateway) Submit(ctx context.Context, req *SubmitRequest) Outcome {
	if err := validate(req); err != nil {
		return Outcome{Kind: Invalid, Err: err}
	}

	// Compression runs before any network attempt: the compressed file is
	// also the artifact that gets queued if delivery fails.
	photoPath, err := g.pipeline.Process(req.Photo)
	if err != nil {
		return Outcome{Kind: Invalid, Err: err}
	}

	sub := &models.PendingSubmission{
		ID:            uuid.NewString(),
		VisitorName:   req.VisitorName,
		VisitorMobile: req.VisitorMobile,
		TenantID:      req.TenantID,
		PhotoPath:     photoPath,
		CreatedAt:     time.Now().Unix(),
	}

	imageName, imageB64, err := g.pipeline.ReadBase64(photoPath)
	if err != nil {
		return Outcome{Kind: Failed, SubmissionID: sub.ID, Err: err}
	}

	serverID, err := g.api.AddVisitor(ctx, &visitorapi.AddVisitorRequest{
		VisitorName:     req.VisitorName,
		VisitorMobileNo: req.VisitorMobile,
		VisitingTenant:  req.TenantID,
		Photo:           visitorapi.Photo{ImageName: imageName, ImageBase64: imageB64},
	})

	switch {
	case err == nil:
		return g.recordDelivered(ctx, sub, serverID)
	case visitorapi.IsTransient(err):
		return g.enqueue(ctx, sub, err)
	default:
		// Response received, non-2xx: reported as failure, never queued.
		logger.Log.Warn("submission rejected by server",
			zap.String("submission_id", sub.ID), zap.Error(err))
		return Outcome{Kind: Rejected, SubmissionID: sub.ID, Err: err}
	}
}

// recordDelivered writes the synced row for a remotely accepted submission.
func (g *Gateway) recordDelivered(ctx context.Context, sub *models.PendingSubmission, serverID string) Outcome {
	sub.Status = models.StatusSynced
	sub.ServerID = serverID
	sub.SyncedAt = time.Now().Unix()

	if err := g.store.Create(ctx, sub); err != nil {
		// The server has the record but we could not persist it locally.
		// Surface the inconsistency and report it out-of-band.
		logger.Log.Error("delivered remotely but local write failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
		g.reportIssue(sub, serverID, "local write failed after remote success")
		return Outcome{Kind: DeliveredNotPersisted, SubmissionID: sub.ID, ServerID: serverID, Err: err}
	}

	return Outcome{Kind: Delivered, SubmissionID: sub.ID, ServerID: serverID}
}

// enqueue writes the pending row for a transiently failed delivery. This is
// the only path that grows the durable queue.
func (g *Gateway) enqueue(ctx context.Context, sub *models.PendingSubmission, cause error) Outcome {
	sub.Status = models.StatusPending
	sub.RetryCount = 0
	sub.LastAttemptAt = time.Now().Unix()

	if err := g.store.Create(ctx, sub); err != nil {
		logger.Log.Error("failed to queue submission locally",
			zap.String("submission_id", sub.ID), zap.Error(err))
		return Outcome{Kind: Failed, SubmissionID: sub.ID, Err: err}
	}

	logger.Log.Info("submission stored locally for later sync",
		zap.String("submission_id", sub.ID), zap.Error(cause))
	return Outcome{Kind: StoredLocally, SubmissionID: sub.ID, Err: cause}
}

// reportIssue fires a best-effort sync-issue report with its own deadline,
// detached from the caller's context.
func (g *Gateway) reportIssue(sub *models.PendingSubmission, serverID, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = g.api.ReportSyncIssues(ctx, []visitorapi.SyncIssue{{
			SubmissionID: sub.ID,
			ServerID:     serverID,
			Reason:       reason,
			OccurredAt:   time.Now().Unix(),
		}})
	}()
}

func validate(req *SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.VisitorName) == "":
		return errMissing("visitor name")
	case strings.TrimSpace(req.VisitorMobile) == "":
		return errMissing("visitor mobile")
	case strings.TrimSpace(req.TenantID) == "":
		return errMissing("tenant id")
	case len(req.Photo) == 0:
		return errMissing("photo payload")
	}
	return nil
}

type validationError struct {
	field string
}

func (e *validationError) Error() string {
	return e.field + " is required"
}

func errMissing(field string) error {
	return &validationError{field: field}
}
