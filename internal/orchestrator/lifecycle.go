package orchestrator

import (
	"context"
	"fmt"

	"github.com/snappy-loop/storyreel/internal/models"
)

// Retry resets a failed or cancelled job back to pending, preserving
// completed segments so the chain resumes mid-sequence, and moves it
// to the bottom of the priority queue.
func (o *Orchestrator) Retry(ctx context.Context, jobID int64) error {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status != models.JobFailed && job.Status != models.JobCancelled {
		return fmt.Errorf("retry: job %d is %s, not failed or cancelled", jobID, job.Status)
	}

	if err := o.segmentRepo.ResetNonCompletedToPending(ctx, jobID); err != nil {
		return fmt.Errorf("reset segments: %w", err)
	}
	if err := o.jobRepo.UpdateStatus(ctx, jobID, models.JobPending, strPtr("")); err != nil {
		return fmt.Errorf("mark job pending: %w", err)
	}
	if err := o.jobRepo.MoveJobToBottom(ctx, jobID); err != nil {
		return fmt.Errorf("move job to bottom: %w", err)
	}

	o.logActivity(ctx, jobID, nil, models.LogInfo, "Job retried", "")
	return nil
}

// Reopen moves a completed job back to awaiting_prompt so the user can
// extend the narrative with another segment. Completed segments are
// preserved.
func (o *Orchestrator) Reopen(ctx context.Context, jobID int64) error {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status != models.JobCompleted {
		return fmt.Errorf("reopen: job %d is %s, not completed", jobID, job.Status)
	}
	if err := o.jobRepo.UpdateStatus(ctx, jobID, models.JobAwaitingPrompt, nil); err != nil {
		return fmt.Errorf("mark job awaiting_prompt: %w", err)
	}
	o.logActivity(ctx, jobID, nil, models.LogInfo, "Job reopened", "")
	return nil
}

// MoveUp/MoveDown/MoveToBottom reorder a pending job relative to its
// neighbors; the Store enforces the pending-only restriction.

// MoveUp swaps jobID with its immediate higher-priority neighbor.
func (o *Orchestrator) MoveUp(ctx context.Context, jobID int64) error {
	return o.jobRepo.MoveJobUp(ctx, jobID)
}

// MoveDown swaps jobID with its immediate lower-priority neighbor.
func (o *Orchestrator) MoveDown(ctx context.Context, jobID int64) error {
	return o.jobRepo.MoveJobDown(ctx, jobID)
}

// MoveToBottom pushes jobID to the end of the pending queue.
func (o *Orchestrator) MoveToBottom(ctx context.Context, jobID int64) error {
	return o.jobRepo.MoveJobToBottom(ctx, jobID)
}

func strPtr(s string) *string { return &s }
