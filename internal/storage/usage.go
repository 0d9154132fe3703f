package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"docinsight/internal/models"
)

const (
	defaultRecentLimit = 50
	// maxFileNameRunes matches the mysql file_name column width.
	maxFileNameRunes = 255
)

// UsageLog persists request metadata in the analysis_usage table.
type UsageLog struct {
	db *sql.DB
}

// NewUsageLog wraps an opened and migrated database.
func NewUsageLog(db *sql.DB) *UsageLog {
	return &UsageLog{db: db}
}

// Record inserts one usage row and fills in its ID.
func (u *UsageLog) Record(ctx context.Context, rec *models.UsageRecord) error {
	if rec == nil {
		return errors.New("usage record required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.FileName = clipRunes(rec.FileName, maxFileNameRunes)
	res, err := u.db.ExecContext(ctx,
		`INSERT INTO analysis_usage (request_id, file_name, format, text_length, provider, outcome, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.FileName, string(rec.Format), rec.TextLength, rec.Provider, rec.Outcome, rec.DurationMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("usage id: %w", err)
	}
	rec.ID = id
	return nil
}

// Recent returns the newest records first.
func (u *UsageLog) Recent(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := u.db.QueryContext(ctx,
		`SELECT id, request_id, file_name, format, text_length, provider, outcome, duration_ms, created_at
		FROM analysis_usage ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	records := make([]models.UsageRecord, 0, limit)
	for rows.Next() {
		var (
			rec    models.UsageRecord
			format string
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.FileName, &format, &rec.TextLength,
			&rec.Provider, &rec.Outcome, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		rec.Format = models.Format(format)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func clipRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
