package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tenantgate/visitsync/internal/models"
)

// SQLiteLogRepository implements LogRepository over SQLite.
type SQLiteLogRepository struct {
	db *sql.DB
}

// NewLogRepository creates a LogRepository backed by db.
func NewLogRepository(db *sql.DB) *SQLiteLogRepository {
	return &SQLiteLogRepository{db: db}
}

func (r *SQLiteLogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	query := `
	INSERT INTO log_entries (id, level, message, metadata, synced, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	var meta any
	if len(entry.Metadata) > 0 {
		meta = string(entry.Metadata)
	}
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Level, entry.Message, meta, entry.Synced, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	return nil
}

func (r *SQLiteLogRepository) ListUnsynced(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	query := `
	SELECT id, level, message, metadata, synced, created_at
	FROM log_entries WHERE synced = 0 ORDER BY created_at ASC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select log entries: %w", err)
	}
	defer rows.Close()

	var result []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		var meta sql.NullString
		err := rows.Scan(&entry.ID, &entry.Level, &entry.Message, &meta,
			&entry.Synced, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		if meta.Valid {
			entry.Metadata = []byte(meta.String)
		}
		result = append(result, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteLogRepository) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := `UPDATE log_entries SET synced = 1 WHERE id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark log entries synced: %w", err)
	}

	return tx.Commit()
}

func (r *SQLiteLogRepository) UnsyncedCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM log_entries WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsynced log entries: %w", err)
	}
	return count, nil
}

func (r *SQLiteLogRepository) PruneOlderThan(ctx context.Context, cutoff int64) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM log_entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune log entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}
