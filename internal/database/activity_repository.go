package database

import (
	"context"

	"github.com/snappy-loop/storyreel/internal/models"
)

// ActivityRepository is the append-only job/segment activity log.
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append records one activity log entry.
func (r *ActivityRepository) Append(ctx context.Context, jobID int64, segmentIndex *int, level, message, detail string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, segment_index, timestamp, level, message, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, jobID, segmentIndex, formatTimestamp(UTCNow()), level, message, nullIfEmpty(detail))
	return err
}

// ListByJob returns all log entries for a job ordered chronologically.
func (r *ActivityRepository) ListByJob(ctx context.Context, jobID int64) ([]*models.ActivityLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, segment_index, timestamp, level, message, COALESCE(detail, '')
		FROM job_logs WHERE job_id = ? ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ActivityLogEntry
	for rows.Next() {
		var e models.ActivityLogEntry
		var ts, detail string
		var segIdx *int
		if err := rows.Scan(&e.ID, &e.JobID, &segIdx, &ts, &e.Level, &e.Message, &detail); err != nil {
			return nil, err
		}
		e.SegmentIndex = segIdx
		e.Detail = detail
		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = t
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
