package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tenantgate/visitsync/internal/models"
)

// SQLiteSubmissionRepository implements SubmissionRepository over SQLite.
type SQLiteSubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a SubmissionRepository backed by db.
func NewSubmissionRepository(db *sql.DB) *SQLiteSubmissionRepository {
	return &SQLiteSubmissionRepository{db: db}
}

func (r *SQLiteSubmissionRepository) Create(ctx context.Context, sub *models.PendingSubmission) error {
	query := `
	INSERT INTO submissions (id, visitor_name, visitor_mobile, tenant_id, photo_path,
		status, server_id, retry_count, last_attempt_at, created_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		sub.ID, sub.VisitorName, sub.VisitorMobile, sub.TenantID, sub.PhotoPath,
		sub.Status, nullable(sub.ServerID), sub.RetryCount, sub.LastAttemptAt,
		sub.CreatedAt, sub.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

func (r *SQLiteSubmissionRepository) ListPending(ctx context.Context) ([]*models.PendingSubmission, error) {
	query := selectColumns + ` WHERE status = 'pending' ORDER BY created_at ASC`
	return r.list(ctx, query)
}

func (r *SQLiteSubmissionRepository) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending submissions: %w", err)
	}
	return count, nil
}

func (r *SQLiteSubmissionRepository) MarkSynced(ctx context.Context, id, serverID string, at int64) error {
	// Status guard in the WHERE clause keeps synced terminal: a second call
	// for the same id affects zero rows.
	query := `
	UPDATE submissions SET status = 'synced', server_id = ?, synced_at = ?
	WHERE id = ? AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, serverID, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark submission synced: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *SQLiteSubmissionRepository) RecordAttempt(ctx context.Context, id string, at int64) error {
	query := `
	UPDATE submissions SET retry_count = retry_count + 1, last_attempt_at = ?
	WHERE id = ? AND status = 'pending'
	`
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func (r *SQLiteSubmissionRepository) ListSyncedBefore(ctx context.Context, cutoff int64) ([]*models.PendingSubmission, error) {
	query := selectColumns + ` WHERE status = 'synced' AND synced_at < ? ORDER BY synced_at ASC`
	return r.list(ctx, query, cutoff)
}

func (r *SQLiteSubmissionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	return nil
}

func (r *SQLiteSubmissionRepository) ReferencedPhotoPaths(ctx context.Context, syncedAfter int64) (map[string]struct{}, error) {
	query := `
	SELECT photo_path FROM submissions
	WHERE status = 'pending' OR synced_at >= ?
	`
	rows, err := r.db.QueryContext(ctx, query, syncedAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to select referenced paths: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		if path != "" {
			refs[path] = struct{}{}
		}
	}
	return refs, rows.Err()
}

func (r *SQLiteSubmissionRepository) ListRecent(ctx context.Context, limit int) ([]*models.PendingSubmission, error) {
	query := selectColumns + ` ORDER BY created_at DESC LIMIT ?`
	return r.list(ctx, query, limit)
}

const selectColumns = `
	SELECT id, visitor_name, visitor_mobile, tenant_id, photo_path,
		status, server_id, retry_count, last_attempt_at, created_at, synced_at
	FROM submissions`

func (r *SQLiteSubmissionRepository) list(ctx context.Context, query string, args ...any) ([]*models.PendingSubmission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select submissions: %w", err)
	}
	defer rows.Close()

	var result []*models.PendingSubmission
	for rows.Next() {
		sub := &models.PendingSubmission{}
		var serverID sql.NullString
		err := rows.Scan(&sub.ID, &sub.VisitorName, &sub.VisitorMobile, &sub.TenantID,
			&sub.PhotoPath, &sub.Status, &serverID, &sub.RetryCount,
			&sub.LastAttemptAt, &sub.CreatedAt, &sub.SyncedAt)
		if err != nil {
			return nil, err
		}
		sub.ServerID = serverID.String
		result = append(result, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
