package orchestrator

import (
	"context"
	"os"
	"testing"

	"github.com/snappy-loop/storyreel/internal/models"
)

func TestReconciler_NoPromptHandleResetsToPending(t *testing.T) {
	o := newTestOrchestrator(t, "http://unused.invalid")
	ctx := context.Background()

	job := &models.Job{Name: "job"}
	if err := o.jobRepo.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := o.jobRepo.UpdateStatus(ctx, job.ID, models.JobRunning, nil); err != nil {
		t.Fatalf("mark job running: %v", err)
	}

	prompt := "p0"
	seg, err := o.segmentRepo.CreateFirstSegment(ctx, job.ID, &prompt, "input.jpg")
	if err != nil {
		t.Fatalf("CreateFirstSegment: %v", err)
	}
	if err := o.segmentRepo.UpdateStatus(ctx, job.ID, seg.Index, models.SegmentRunning, nil); err != nil {
		t.Fatalf("mark segment running: %v", err)
	}
	// No prompt handle was ever recorded - the crash happened before submit.

	rec := NewReconciler(o)
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	gotSeg, err := o.segmentRepo.Get(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("Get segment: %v", err)
	}
	if gotSeg.Status != models.SegmentPending {
		t.Errorf("segment status = %q, want pending", gotSeg.Status)
	}

	gotJob, err := o.jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if gotJob.Status != models.JobPending {
		t.Errorf("job status = %q, want pending", gotJob.Status)
	}
}

func TestReconciler_VideoAlreadyOnDiskMarksCompletedAndSettlesJob(t *testing.T) {
	o := newTestOrchestrator(t, "http://unused.invalid")
	ctx := context.Background()

	job := &models.Job{Name: "job"}
	if err := o.jobRepo.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := o.jobRepo.UpdateStatus(ctx, job.ID, models.JobRunning, nil); err != nil {
		t.Fatalf("mark job running: %v", err)
	}

	prompt := "p0"
	seg, err := o.segmentRepo.CreateFirstSegment(ctx, job.ID, &prompt, "input.jpg")
	if err != nil {
		t.Fatalf("CreateFirstSegment: %v", err)
	}
	if err := o.segmentRepo.UpdatePromptHandle(ctx, job.ID, seg.Index, "handle-1"); err != nil {
		t.Fatalf("UpdatePromptHandle: %v", err)
	}
	if err := o.segmentRepo.UpdateStatus(ctx, job.ID, seg.Index, models.SegmentRunning, nil); err != nil {
		t.Fatalf("mark segment running: %v", err)
	}

	videoPath, err := o.paths.SegmentVideoPath(job.ID, seg.Index)
	if err != nil {
		t.Fatalf("SegmentVideoPath: %v", err)
	}
	if err := os.WriteFile(videoPath, []byte("already rendered"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}

	rec := NewReconciler(o)
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	gotSeg, err := o.segmentRepo.Get(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("Get segment: %v", err)
	}
	if gotSeg.Status != models.SegmentCompleted {
		t.Errorf("segment status = %q, want completed (video already on disk)", gotSeg.Status)
	}

	gotJob, err := o.jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if gotJob.Status != models.JobAwaitingPrompt {
		t.Errorf("job status = %q, want awaiting_prompt once every segment is completed", gotJob.Status)
	}
}
