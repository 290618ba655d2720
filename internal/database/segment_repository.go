package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/snappy-loop/storyreel/internal/models"
)

// SegmentRepository handles segment-related database operations.
type SegmentRepository struct {
	db *DB
}

// NewSegmentRepository creates a new SegmentRepository.
func NewSegmentRepository(db *DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// Nullable text columns are coalesced to '' so they scan straight into
// plain strings.
const segmentColumns = `
	job_id, segment_index, status, prompt, COALESCE(start_image, ''),
	COALESCE(end_frame, ''), COALESCE(video_path, ''),
	COALESCE(prompt_handle, ''), execution_time, COALESCE(error_message, ''),
	high_lora, low_lora, created_at, completed_at
`

func scanSegment(row interface{ Scan(...any) error }) (*models.Segment, error) {
	var (
		seg                    models.Segment
		prompt                 sql.NullString
		highLoRA, lowLoRA      sql.NullString
		createdAt, completedAt sql.NullString
		execTime               sql.NullFloat64
	)

	if err := row.Scan(
		&seg.JobID, &seg.Index, &seg.Status, &prompt, &seg.StartImage, &seg.EndFrame, &seg.VideoPath,
		&seg.PromptHandle, &execTime, &seg.ErrorMessage, &highLoRA, &lowLoRA,
		&createdAt, &completedAt,
	); err != nil {
		return nil, err
	}

	if prompt.Valid {
		p := prompt.String
		seg.Prompt = &p
	}
	if execTime.Valid {
		v := execTime.Float64
		seg.ExecutionTime = &v
	}
	seg.HighLoRAs = models.ParseLoRAs(highLoRA.String)
	seg.LowLoRAs = models.ParseLoRAs(lowLoRA.String)

	if createdAt.Valid {
		t, err := parseTimestamp(createdAt.String)
		if err != nil {
			return nil, err
		}
		seg.CreatedAt = t
	}
	if t, err := nullableTimestamp(nullStringPtr(completedAt)); err != nil {
		return nil, err
	} else {
		seg.CompletedAt = t
	}

	return &seg, nil
}

// CreateFirstSegment creates segment 0 for a job, seeded from the
// job's input image.
func (r *SegmentRepository) CreateFirstSegment(ctx context.Context, jobID int64, prompt *string, startImage string) (*models.Segment, error) {
	return r.create(ctx, jobID, 0, prompt, startImage, nil, nil)
}

// CreateNextSegment creates the next segment after the highest existing
// index, reading the previous segment's end-frame as its start-image.
func (r *SegmentRepository) CreateNextSegment(ctx context.Context, jobID int64, prompt *string, highLoRAs, lowLoRAs []models.LoRAEntry) (*models.Segment, error) {
	segments, err := r.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("job %d has no segments; use CreateFirstSegment", jobID)
	}
	prev := segments[len(segments)-1]
	return r.create(ctx, jobID, prev.Index+1, prompt, prev.EndFrame, highLoRAs, lowLoRAs)
}

func (r *SegmentRepository) create(ctx context.Context, jobID int64, index int, prompt *string, startImage string, highLoRAs, lowLoRAs []models.LoRAEntry) (*models.Segment, error) {
	highJSON, err := models.SerializeLoRAs(highLoRAs)
	if err != nil {
		return nil, err
	}
	lowJSON, err := models.SerializeLoRAs(lowLoRAs)
	if err != nil {
		return nil, err
	}

	seg := &models.Segment{
		JobID:      jobID,
		Index:      index,
		Status:     models.SegmentPending,
		Prompt:     prompt,
		StartImage: startImage,
		HighLoRAs:  highLoRAs,
		LowLoRAs:   lowLoRAs,
		CreatedAt:  UTCNow(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO job_segments (
			job_id, segment_index, status, prompt, start_image, high_lora, low_lora, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		seg.JobID, seg.Index, seg.Status, seg.Prompt, seg.StartImage,
		nullIfEmpty(highJSON), nullIfEmpty(lowJSON), formatTimestamp(seg.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert segment: %w", err)
	}
	return seg, nil
}

// ListByJob returns all segments for a job ordered by index ascending.
func (r *SegmentRepository) ListByJob(ctx context.Context, jobID int64) ([]*models.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+segmentColumns+` FROM job_segments
		WHERE job_id = ?
		ORDER BY segment_index ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []*models.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// GetNextPendingSegment returns the lowest-index pending segment for a
// job, or nil if none exists.
func (r *SegmentRepository) GetNextPendingSegment(ctx context.Context, jobID int64) (*models.Segment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+segmentColumns+` FROM job_segments
		WHERE job_id = ? AND status = ?
		ORDER BY segment_index ASC LIMIT 1
	`, jobID, models.SegmentPending)
	seg, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return seg, nil
}

// Get returns one segment by (job id, index).
func (r *SegmentRepository) Get(ctx context.Context, jobID int64, index int) (*models.Segment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM job_segments WHERE job_id = ? AND segment_index = ?`, jobID, index)
	seg, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("segment job_id=%d index=%d not found", jobID, index)
	}
	if err != nil {
		return nil, err
	}
	return seg, nil
}

// UpdateStatus sets a segment's status and, optionally, its error
// message; other fields are left untouched. Setting completed or
// failed stamps completed_at.
func (r *SegmentRepository) UpdateStatus(ctx context.Context, jobID int64, index int, status string, errorMessage *string) error {
	setClauses := []string{`status = ?`}
	args := []any{status}

	if errorMessage != nil {
		setClauses = append(setClauses, `error_message = ?`)
		args = append(args, nullIfEmpty(*errorMessage))
	}
	if status == models.SegmentCompleted || status == models.SegmentFailed {
		setClauses = append(setClauses, `completed_at = ?`)
		args = append(args, formatTimestamp(UTCNow()))
	}

	args = append(args, jobID, index)
	query := fmt.Sprintf(`UPDATE job_segments SET %s WHERE job_id = ? AND segment_index = ?`, joinClauses(setClauses))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update segment status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("segment job_id=%d index=%d not found", jobID, index)
	}
	return nil
}

// UpdatePrompt sets a segment's prompt.
func (r *SegmentRepository) UpdatePrompt(ctx context.Context, jobID int64, index int, prompt string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_segments SET prompt = ? WHERE job_id = ? AND segment_index = ?
	`, prompt, jobID, index)
	return err
}

// UpdateStartImage sets a segment's start-image identifier. A no-op
// when the segment row does not exist yet (the next segment's
// start-image is instead populated at creation time).
func (r *SegmentRepository) UpdateStartImage(ctx context.Context, jobID int64, index int, startImage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_segments SET start_image = ? WHERE job_id = ? AND segment_index = ?
	`, startImage, jobID, index)
	return err
}

// UpdatePromptHandle records the Renderer prompt handle for a segment.
func (r *SegmentRepository) UpdatePromptHandle(ctx context.Context, jobID int64, index int, handle string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_segments SET prompt_handle = ? WHERE job_id = ? AND segment_index = ?
	`, handle, jobID, index)
	return err
}

// CompleteSegment records the results of a successful run: video path,
// end-frame identifier, and execution time, then marks the segment
// completed.
func (r *SegmentRepository) CompleteSegment(ctx context.Context, jobID int64, index int, videoPath, endFrame string, execSeconds *float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_segments
		SET status = ?, video_path = ?, end_frame = ?, execution_time = ?, completed_at = ?
		WHERE job_id = ? AND segment_index = ?
	`, models.SegmentCompleted, videoPath, endFrame, execSeconds, formatTimestamp(UTCNow()), jobID, index)
	return err
}

// ResetNonCompletedToPending clears errors and resets every
// non-completed segment of a job back to pending. Used by retry.
func (r *SegmentRepository) ResetNonCompletedToPending(ctx context.Context, jobID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_segments
		SET status = ?, error_message = NULL, completed_at = NULL
		WHERE job_id = ? AND status != ?
	`, models.SegmentPending, jobID, models.SegmentCompleted)
	return err
}

// DeleteSegment removes one segment regardless of status. Callers are
// responsible for enforcing the "only the highest index while
// awaiting_prompt" policy.
func (r *SegmentRepository) DeleteSegment(ctx context.Context, jobID int64, index int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM job_segments WHERE job_id = ? AND segment_index = ?`, jobID, index)
	return err
}

// ListRunning returns every segment currently in status running,
// across all jobs. Used by the startup reconciler.
func (r *SegmentRepository) ListRunning(ctx context.Context) ([]*models.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+segmentColumns+` FROM job_segments WHERE status = ?`, models.SegmentRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []*models.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// ListNeedsRecovery returns every segment currently flagged for
// recovery, across all jobs.
func (r *SegmentRepository) ListNeedsRecovery(ctx context.Context) ([]*models.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+segmentColumns+` FROM job_segments WHERE status = ?`, models.SegmentNeedsRecovery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []*models.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}
