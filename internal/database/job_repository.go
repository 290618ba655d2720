package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/snappy-loop/storyreel/internal/models"
)

// JobRepository handles job-related database operations.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// maxSeed bounds generated seeds to 2^63-1 so they survive the trip
// through SQLite's signed integers and JSON numbers.
var maxSeed = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(1))

func generateSeed() (uint64, error) {
	n, err := rand.Int(rand.Reader, maxSeed)
	if err != nil {
		return 0, fmt.Errorf("generate seed: %w", err)
	}
	return n.Uint64(), nil
}

// Create inserts a new job, assigning priority = current max + 1 and a
// fresh seed unless one was already set on the passed-in job.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var maxPriority sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(priority) FROM jobs`).Scan(&maxPriority); err != nil {
			return fmt.Errorf("read max priority: %w", err)
		}
		job.Priority = maxPriority.Int64 + 1

		if job.Seed == 0 {
			seed, err := generateSeed()
			if err != nil {
				return err
			}
			job.Seed = seed
		}

		paramsJSON, err := json.Marshal(job.Parameters)
		if err != nil {
			return fmt.Errorf("marshal parameters: %w", err)
		}

		job.CreatedAt = UTCNow()

		res, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (
				name, status, prompt, negative_prompt, workflow_kind, parameters,
				input_image, priority, seed, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			job.Name, models.JobPending, job.Prompt, job.NegativePrompt, job.WorkflowKind,
			string(paramsJSON), job.InputImage, job.Priority, job.Seed, formatTimestamp(job.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read job id: %w", err)
		}
		job.ID = id
		job.Status = models.JobPending
		return nil
	})
}

// Nullable text columns are coalesced to '' so they scan straight into
// plain strings.
const jobColumns = `
	id, name, status, COALESCE(prompt, ''), COALESCE(negative_prompt, ''),
	workflow_kind, parameters, COALESCE(input_image, ''), output_media,
	COALESCE(prompt_handle, ''), priority, seed, COALESCE(error_message, ''),
	created_at, started_at, completed_at
`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var (
		job                               models.Job
		paramsJSON, outputMediaJSON       sql.NullString
		createdAt, startedAt, completedAt sql.NullString
	)

	if err := row.Scan(
		&job.ID, &job.Name, &job.Status, &job.Prompt, &job.NegativePrompt, &job.WorkflowKind,
		&paramsJSON, &job.InputImage, &outputMediaJSON, &job.PromptHandle, &job.Priority, &job.Seed,
		&job.ErrorMessage, &createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &job.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if outputMediaJSON.Valid && outputMediaJSON.String != "" {
		if err := json.Unmarshal([]byte(outputMediaJSON.String), &job.OutputMedia); err != nil {
			return nil, fmt.Errorf("unmarshal output media: %w", err)
		}
	}

	if createdAt.Valid {
		t, err := parseTimestamp(createdAt.String)
		if err != nil {
			return nil, err
		}
		job.CreatedAt = t
	}
	if t, err := nullableTimestamp(nullStringPtr(startedAt)); err != nil {
		return nil, err
	} else {
		job.StartedAt = t
	}
	if t, err := nullableTimestamp(nullStringPtr(completedAt)); err != nil {
		return nil, err
	} else {
		job.CompletedAt = t
	}

	return &job, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// GetByID retrieves a job by id.
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetPendingJobs returns pending jobs ordered by (priority ASC, created ASC).
func (r *JobRepository) GetPendingJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ?
		ORDER BY priority ASC, created_at ASC
	`, models.JobPending)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MoveJobUp swaps priority with the immediate higher-priority neighbor
// in the pending set. No-op if already at the top.
func (r *JobRepository) MoveJobUp(ctx context.Context, id int64) error {
	return r.swapWithNeighbor(ctx, id, true)
}

// MoveJobDown swaps priority with the immediate lower-priority neighbor
// in the pending set. No-op if already at the bottom.
func (r *JobRepository) MoveJobDown(ctx context.Context, id int64) error {
	return r.swapWithNeighbor(ctx, id, false)
}

func (r *JobRepository) swapWithNeighbor(ctx context.Context, id int64, up bool) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var priority int64
		if err := tx.QueryRowContext(ctx, `SELECT priority FROM jobs WHERE id = ? AND status = ?`, id, models.JobPending).Scan(&priority); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("job %d not pending", id)
			}
			return err
		}

		cmp, order := "<", "DESC"
		if !up {
			cmp, order = ">", "ASC"
		}

		var neighborID, neighborPriority int64
		query := fmt.Sprintf(`
			SELECT id, priority FROM jobs
			WHERE status = ? AND priority %s ?
			ORDER BY priority %s LIMIT 1
		`, cmp, order)
		err := tx.QueryRowContext(ctx, query, models.JobPending, priority).Scan(&neighborID, &neighborPriority)
		if err == sql.ErrNoRows {
			return nil // already extreme
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET priority = ? WHERE id = ?`, neighborPriority, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET priority = ? WHERE id = ?`, priority, neighborID); err != nil {
			return err
		}
		return nil
	})
}

// MoveJobToBottom sets the job's priority to current max + 1. Only
// operates on pending jobs.
func (r *JobRepository) MoveJobToBottom(ctx context.Context, id int64) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var maxPriority sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(priority) FROM jobs`).Scan(&maxPriority); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE jobs SET priority = ? WHERE id = ? AND status = ?`,
			maxPriority.Int64+1, id, models.JobPending)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("job %d not pending", id)
		}
		return nil
	})
}

// UpdateStatus transitions a job's status, writing started_at on entry
// to running and completed_at on entry to a terminal state. Passing a
// non-nil errorMessage pointing at "" clears any existing error.
func (r *JobRepository) UpdateStatus(ctx context.Context, id int64, status string, errorMessage *string) error {
	now := formatTimestamp(UTCNow())

	setClauses := []string{`status = ?`}
	args := []any{status}

	if errorMessage != nil {
		setClauses = append(setClauses, `error_message = ?`)
		args = append(args, nullIfEmpty(*errorMessage))
	}

	switch status {
	case models.JobRunning:
		setClauses = append(setClauses, `started_at = COALESCE(started_at, ?)`)
		args = append(args, now)
	case models.JobCompleted, models.JobFailed, models.JobCancelled:
		setClauses = append(setClauses, `completed_at = ?`)
		args = append(args, now)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = ?`, joinClauses(setClauses))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return fmt.Errorf("job %d not found", id)
	}
	return nil
}

// UpdatePromptHandle records the Renderer's most recent prompt handle
// for this job.
func (r *JobRepository) UpdatePromptHandle(ctx context.Context, id int64, handle string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET prompt_handle = ? WHERE id = ?`, handle, id)
	return err
}

// UpdateOutputMedia records the finalized output media paths.
func (r *JobRepository) UpdateOutputMedia(ctx context.Context, id int64, paths []string) error {
	b, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE jobs SET output_media = ? WHERE id = ?`, string(b), id)
	return err
}

// UpdateParameters is permitted only when status is pending or
// awaiting_prompt; it silently refuses (returns false, nil) otherwise.
func (r *JobRepository) UpdateParameters(ctx context.Context, id int64, params models.Parameters) (bool, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET parameters = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(b), id, models.JobPending, models.JobAwaitingPrompt)
	if err != nil {
		return false, fmt.Errorf("update parameters: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Cancel transitions a pending job to cancelled.
func (r *JobRepository) Cancel(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ? WHERE id = ? AND status = ?
	`, models.JobCancelled, id, models.JobPending)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("job %d is not pending", id)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinClauses(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
