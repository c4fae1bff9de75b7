// Package models provides data model definitions for the visitsync engine.
package models

// SubmissionStatus represents the delivery state of a submission.
type SubmissionStatus string

const (
	StatusPending SubmissionStatus = "pending"
	StatusSynced  SubmissionStatus = "synced"
)

// PendingSubmission represents one visitor record awaiting or having
// completed delivery to the remote visitor service.
//
// A record is pending if and only if it has no server identifier. The
// pending -> synced transition happens exactly once; synced is terminal.
type PendingSubmission struct {
	ID            string           `db:"id" json:"id"`
	VisitorName   string           `db:"visitor_name" json:"visitor_name"`
	VisitorMobile string           `db:"visitor_mobile" json:"visitor_mobile"`
	TenantID      string           `db:"tenant_id" json:"tenant_id"`
	PhotoPath     string           `db:"photo_path" json:"photo_path"`
	Status        SubmissionStatus `db:"status" json:"status"`
	ServerID      string           `db:"server_id" json:"server_id,omitempty"`
	RetryCount    int              `db:"retry_count" json:"retry_count"`
	LastAttemptAt int64            `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	CreatedAt     int64            `db:"created_at" json:"created_at"`
	SyncedAt      int64            `db:"synced_at" json:"synced_at,omitempty"`
}

// TableName returns the table name for PendingSubmission.
func (PendingSubmission) TableName() string {
	return "submissions"
}

// Pending reports whether the record still awaits delivery.
func (s *PendingSubmission) Pending() bool {
	return s.Status == StatusPending
}
