package models

import "encoding/json"

// LogEntry represents a queued diagnostic log line.
//
// Unlike submissions, log entries carry no server identifier: synced here
// means acknowledged by the telemetry endpoint, and entries are pruned
// purely by age regardless of sync status.
type LogEntry struct {
	ID        string          `db:"id" json:"id"`
	Level     string          `db:"level" json:"level"`
	Message   string          `db:"message" json:"message"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	Synced    bool            `db:"synced" json:"synced"`
	CreatedAt int64           `db:"created_at" json:"created_at"`
}

// TableName returns the table name for LogEntry.
func (LogEntry) TableName() string {
	return "log_entries"
}
