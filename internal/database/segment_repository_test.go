package database

import (
	"context"
	"testing"

	"github.com/snappy-loop/storyreel/internal/models"
)

func newJobForSegments(t *testing.T, jobRepo *JobRepository, name string) *models.Job {
	t.Helper()
	job := &models.Job{Name: name}
	if err := jobRepo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create job: %v", err)
	}
	return job
}

func TestSegmentRepository_CreateFirstSegment(t *testing.T) {
	db := newTestDB(t)
	jobRepo := NewJobRepository(db)
	segRepo := NewSegmentRepository(db)
	ctx := context.Background()

	job := newJobForSegments(t, jobRepo, "job")
	prompt := "a cat runs"

	seg, err := segRepo.CreateFirstSegment(ctx, job.ID, &prompt, "input.jpg")
	if err != nil {
		t.Fatalf("CreateFirstSegment: %v", err)
	}
	if seg.Index != 0 {
		t.Errorf("Index = %d, want 0", seg.Index)
	}
	if seg.StartImage != "input.jpg" {
		t.Errorf("StartImage = %q, want input.jpg", seg.StartImage)
	}
	if seg.Status != models.SegmentPending {
		t.Errorf("Status = %q, want pending", seg.Status)
	}

	fetched, err := segRepo.Get(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.Prompt == nil || *fetched.Prompt != prompt {
		t.Errorf("fetched.Prompt = %v, want %q", fetched.Prompt, prompt)
	}
}

func TestSegmentRepository_CreateNextSegment_PropagatesEndFrame(t *testing.T) {
	db := newTestDB(t)
	jobRepo := NewJobRepository(db)
	segRepo := NewSegmentRepository(db)
	ctx := context.Background()

	job := newJobForSegments(t, jobRepo, "job")
	prompt := "first"
	if _, err := segRepo.CreateFirstSegment(ctx, job.ID, &prompt, "input.jpg"); err != nil {
		t.Fatalf("CreateFirstSegment: %v", err)
	}
	if err := segRepo.CompleteSegment(ctx, job.ID, 0, "seg0.mp4", "seg0_last_frame.jpg", nil); err != nil {
		t.Fatalf("CompleteSegment: %v", err)
	}

	nextPrompt := "second"
	highLoRAs := []models.LoRAEntry{{File: "h.safetensors", Weight: 0.9}}
	next, err := segRepo.CreateNextSegment(ctx, job.ID, &nextPrompt, highLoRAs, nil)
	if err != nil {
		t.Fatalf("CreateNextSegment: %v", err)
	}
	if next.Index != 1 {
		t.Errorf("Index = %d, want 1", next.Index)
	}
	// Frame-chain invariant: segment i's start-image is segment i-1's end-frame.
	if next.StartImage != "seg0_last_frame.jpg" {
		t.Errorf("StartImage = %q, want seg0_last_frame.jpg (frame-chain invariant)", next.StartImage)
	}
	if len(next.HighLoRAs) != 1 || next.HighLoRAs[0].File != "h.safetensors" {
		t.Errorf("HighLoRAs = %+v", next.HighLoRAs)
	}
}

func TestSegmentRepository_CreateNextSegment_RequiresExistingSegment(t *testing.T) {
	db := newTestDB(t)
	jobRepo := NewJobRepository(db)
	segRepo := NewSegmentRepository(db)
	ctx := context.Background()

	job := newJobForSegments(t, jobRepo, "job")
	if _, err := segRepo.CreateNextSegment(ctx, job.ID, nil, nil, nil); err == nil {
		t.Error("expected an error when the job has no segments yet")
	}
}

func TestSegmentRepository_UpdateStartImage_NoOpWhenRowAbsent(t *testing.T) {
	db := newTestDB(t)
	jobRepo := NewJobRepository(db)
	segRepo := NewSegmentRepository(db)
	ctx := context.Background()

	job := newJobForSegments(t, jobRepo, "job")
	// Segment 5 was never created; this must not error.
	if err := segRepo.UpdateStartImage(ctx, job.ID, 5, "frame.jpg"); err != nil {
		t.Errorf("UpdateStartImage on absent row returned an error: %v", err)
	}
}

func TestSegmentRepository_ResetNonCompletedToPending_PreservesCompleted(t *testing.T) {
	db := newTestDB(t)
	jobRepo := NewJobRepository(db)
	segRepo := NewSegmentRepository(db)
	ctx := context.Background()

	job := newJobForSegments(t, jobRepo, "job")
	prompt := "p0"
	if _, err := segRepo.CreateFirstSegment(ctx, job.ID, &prompt, "input.jpg"); err != nil {
		t.Fatalf("CreateFirstSegment: %v", err)
	}
	if err := segRepo.CompleteSegment(ctx, job.ID, 0, "seg0.mp4", "seg0_last.jpg", nil); err != nil {
		t.Fatalf("CompleteSegment: %v", err)
	}
	p1 := "p1"
	seg1, err := segRepo.CreateNextSegment(ctx, job.ID, &p1, nil, nil)
	if err != nil {
		t.Fatalf("CreateNextSegment: %v", err)
	}
	errMsg := "renderer timed out"
	if err := segRepo.UpdateStatus(ctx, job.ID, seg1.Index, models.SegmentFailed, &errMsg); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := segRepo.ResetNonCompletedToPending(ctx, job.ID); err != nil {
		t.Fatalf("ResetNonCompletedToPending: %v", err)
	}

	segments, err := segRepo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if segments[0].Status != models.SegmentCompleted {
		t.Errorf("segment 0 status = %q, want completed (retry must not touch finished segments)", segments[0].Status)
	}
	if segments[1].Status != models.SegmentPending {
		t.Errorf("segment 1 status = %q, want pending", segments[1].Status)
	}
	if segments[1].ErrorMessage != "" {
		t.Errorf("segment 1 error_message = %q, want cleared", segments[1].ErrorMessage)
	}
}

func TestSegmentRepository_ListRunningAndNeedsRecovery(t *testing.T) {
	db := newTestDB(t)
	jobRepo := NewJobRepository(db)
	segRepo := NewSegmentRepository(db)
	ctx := context.Background()

	job := newJobForSegments(t, jobRepo, "job")
	prompt := "p0"
	if _, err := segRepo.CreateFirstSegment(ctx, job.ID, &prompt, "input.jpg"); err != nil {
		t.Fatalf("CreateFirstSegment: %v", err)
	}
	if err := segRepo.UpdateStatus(ctx, job.ID, 0, models.SegmentRunning, nil); err != nil {
		t.Fatalf("UpdateStatus(running): %v", err)
	}

	running, err := segRepo.ListRunning(ctx)
	if err != nil {
		t.Fatalf("ListRunning: %v", err)
	}
	if len(running) != 1 || running[0].JobID != job.ID {
		t.Errorf("running = %+v", running)
	}

	if err := segRepo.UpdateStatus(ctx, job.ID, 0, models.SegmentNeedsRecovery, nil); err != nil {
		t.Fatalf("UpdateStatus(needs_recovery): %v", err)
	}
	needsRecovery, err := segRepo.ListNeedsRecovery(ctx)
	if err != nil {
		t.Fatalf("ListNeedsRecovery: %v", err)
	}
	if len(needsRecovery) != 1 {
		t.Errorf("needsRecovery = %+v", needsRecovery)
	}
}
