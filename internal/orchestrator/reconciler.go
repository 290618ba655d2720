package orchestrator

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storyreel/internal/models"
	"github.com/snappy-loop/storyreel/internal/renderer"
)

// Reconciler runs once at process start, before the driver loop, to
// reconcile segments left `running` by a prior crash against the
// Renderer's history/queue and the local filesystem.
type Reconciler struct {
	o *Orchestrator
}

// NewReconciler creates a Reconciler over the same collaborators as o.
func NewReconciler(o *Orchestrator) *Reconciler {
	return &Reconciler{o: o}
}

// Run performs the one-shot startup reconciliation pass: classify every
// segment left `running` by a prior crash, reset jobs whose running
// segment went away, replay post-processing for segments the Renderer
// finished behind our back, and settle fully-completed jobs back into
// the user-wait state.
func (r *Reconciler) Run(ctx context.Context) error {
	running, err := r.o.segmentRepo.ListRunning(ctx)
	if err != nil {
		return err
	}

	candidateJobs := make(map[int64]bool)
	touchedJobs := make(map[int64]bool)
	for _, seg := range running {
		candidateJobs[seg.JobID] = true
		touchedJobs[seg.JobID] = true
		r.reconcileSegment(ctx, seg)
	}

	if err := r.resetStaleJobs(ctx, candidateJobs); err != nil {
		return err
	}

	if err := r.recoverNeedsRecovery(ctx); err != nil {
		return err
	}

	return r.settleFullyCompletedJobs(ctx, touchedJobs)
}

func (r *Reconciler) reconcileSegment(ctx context.Context, seg *models.Segment) {
	if seg.PromptHandle == "" {
		r.o.segmentRepo.UpdateStatus(ctx, seg.JobID, seg.Index, models.SegmentPending, nil)
		return
	}

	videoPath, err := r.o.paths.SegmentVideoPath(seg.JobID, seg.Index)
	if err == nil {
		if _, statErr := os.Stat(videoPath); statErr == nil {
			r.o.segmentRepo.UpdateStatus(ctx, seg.JobID, seg.Index, models.SegmentCompleted, nil)
			return
		}
	}

	status := r.o.renderer.GetPromptStatus(ctx, seg.PromptHandle)
	if status.Kind == renderer.StatusCompleted {
		r.o.segmentRepo.UpdateStatus(ctx, seg.JobID, seg.Index, models.SegmentNeedsRecovery, nil)
		return
	}

	queue := r.o.renderer.GetQueueStatus(ctx)
	if queue.Connected && handleInQueue(seg.PromptHandle, queue) {
		log.Info().Int64("job_id", seg.JobID).Int("segment", seg.Index).Msg("reconciler: segment still active in renderer queue, resuming")
		r.spawnResumeMonitor(seg)
		return
	}

	r.o.segmentRepo.UpdateStatus(ctx, seg.JobID, seg.Index, models.SegmentPending, nil)
}

func handleInQueue(handle string, q *renderer.QueueStatus) bool {
	for _, entries := range [][]jsonRawEntry{toEntries(q.Running), toEntries(q.Pending)} {
		for _, e := range entries {
			if e.promptID == handle {
				return true
			}
		}
	}
	return false
}

// spawnResumeMonitor hands a still-active segment to a transient
// goroutine that just enters the ordinary completion wait for its
// handle; the driver loop is not involved until it next reads the job.
func (r *Reconciler) spawnResumeMonitor(seg *models.Segment) {
	r.o.wg.Add(1)
	go func() {
		defer r.o.wg.Done()
		ctx := context.Background()
		job, err := r.o.jobRepo.GetByID(ctx, seg.JobID)
		if err != nil {
			log.Error().Err(err).Int64("job_id", seg.JobID).Msg("reconciler: resume monitor failed to load job")
			return
		}
		outcome := r.o.waitForCompletion(ctx, job, seg, seg.PromptHandle)
		if outcome.Kind != WaitCompleted {
			msg := outcome.Message()
			r.o.segmentRepo.UpdateStatus(ctx, seg.JobID, seg.Index, models.SegmentFailed, &msg)
			r.o.failJob(ctx, seg.JobID, msg)
		}
	}()
}

// resetStaleJobs resets `running` jobs whose segments no longer
// contain any `running` entry back to `pending`, and fails any
// segment still `running` under a job already marked `failed`.
// candidateJobs are the job IDs observed with a running segment before
// reconcileSegment ran.
func (r *Reconciler) resetStaleJobs(ctx context.Context, candidateJobs map[int64]bool) error {
	stillRunning, err := r.o.segmentRepo.ListRunning(ctx)
	if err != nil {
		return err
	}
	var queue *renderer.QueueStatus
	for _, seg := range stillRunning {
		job, err := r.o.jobRepo.GetByID(ctx, seg.JobID)
		if err != nil {
			continue
		}
		if job.Status == models.JobFailed {
			if queue == nil {
				queue = r.o.renderer.GetQueueStatus(ctx)
			}
			if !queue.Connected || !handleInQueue(seg.PromptHandle, queue) {
				reason := "Job failed during processing"
				r.o.segmentRepo.UpdateStatus(ctx, seg.JobID, seg.Index, models.SegmentFailed, &reason)
			}
		}
		delete(candidateJobs, seg.JobID)
	}

	for jobID := range candidateJobs {
		job, err := r.o.jobRepo.GetByID(ctx, jobID)
		if err != nil || job.Status != models.JobRunning {
			continue
		}
		r.o.jobRepo.UpdateStatus(ctx, jobID, models.JobPending, nil)
	}
	return nil
}

// recoverNeedsRecovery runs the recovery path (download + extract +
// upload + chain-forward) for every segment the reconciliation pass
// marked needs_recovery.
func (r *Reconciler) recoverNeedsRecovery(ctx context.Context) error {
	segs, err := r.o.segmentRepo.ListNeedsRecovery(ctx)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		job, err := r.o.jobRepo.GetByID(ctx, seg.JobID)
		if err != nil {
			continue
		}
		status := r.o.renderer.GetPromptStatus(ctx, seg.PromptHandle)
		if status.Kind != renderer.StatusCompleted {
			reason := "recovery failed: prompt no longer found in renderer history"
			r.o.segmentRepo.UpdateStatus(ctx, seg.JobID, seg.Index, models.SegmentFailed, &reason)
			continue
		}
		if err := r.o.completeSegment(ctx, job, seg, status.Data); err != nil {
			reason := err.Error()
			r.o.segmentRepo.UpdateStatus(ctx, seg.JobID, seg.Index, models.SegmentFailed, &reason)
			continue
		}
	}
	return nil
}

// settleFullyCompletedJobs transitions any reconciled job whose
// segments are all completed to awaiting_prompt with its error cleared.
// touchedJobs is the set of job IDs that had a running segment when the
// pass began; jobs untouched by reconciliation are left alone.
func (r *Reconciler) settleFullyCompletedJobs(ctx context.Context, touchedJobs map[int64]bool) error {
	for jobID := range touchedJobs {
		segments, err := r.o.segmentRepo.ListByJob(ctx, jobID)
		if err != nil {
			continue
		}
		allCompleted := len(segments) > 0
		for _, s := range segments {
			if s.Status != models.SegmentCompleted {
				allCompleted = false
				break
			}
		}
		if allCompleted {
			r.o.jobRepo.UpdateStatus(ctx, jobID, models.JobAwaitingPrompt, strPtr(""))
		}
	}
	return nil
}
