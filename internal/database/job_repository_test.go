package database

import (
	"context"
	"testing"

	"github.com/snappy-loop/storyreel/internal/models"
)

func newPendingJob(t *testing.T, repo *JobRepository, name string) *models.Job {
	t.Helper()
	job := &models.Job{Name: name, WorkflowKind: models.WorkflowImageToVideo}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return job
}

func TestJobRepository_Create_AssignsPriorityAndSeed(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	first := newPendingJob(t, repo, "first")
	if first.Priority != 1 {
		t.Errorf("first job priority = %d, want 1", first.Priority)
	}
	if first.Seed == 0 {
		t.Error("expected a non-zero generated seed")
	}
	if first.Status != models.JobPending {
		t.Errorf("status = %q, want pending", first.Status)
	}

	second := newPendingJob(t, repo, "second")
	if second.Priority != 2 {
		t.Errorf("second job priority = %d, want 2", second.Priority)
	}

	fetched, err := repo.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Name != "first" {
		t.Errorf("fetched.Name = %q, want first", fetched.Name)
	}
}

func TestJobRepository_Create_PreservesExplicitSeed(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)

	job := &models.Job{Name: "explicit seed", Seed: 12345}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Seed != 12345 {
		t.Errorf("Seed = %d, want 12345 preserved", job.Seed)
	}
}

func TestJobRepository_GetPendingJobs_OrderedByPriorityThenCreated(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	a := newPendingJob(t, repo, "a")
	b := newPendingJob(t, repo, "b")
	c := newPendingJob(t, repo, "c")

	jobs, err := repo.GetPendingJobs(ctx)
	if err != nil {
		t.Fatalf("GetPendingJobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("len(jobs) = %d, want 3", len(jobs))
	}
	if jobs[0].ID != a.ID || jobs[1].ID != b.ID || jobs[2].ID != c.ID {
		t.Errorf("order = [%d %d %d], want [%d %d %d]", jobs[0].ID, jobs[1].ID, jobs[2].ID, a.ID, b.ID, c.ID)
	}
}

func TestJobRepository_MoveJobUpDown(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	a := newPendingJob(t, repo, "a")
	b := newPendingJob(t, repo, "b")
	c := newPendingJob(t, repo, "c")

	if err := repo.MoveJobUp(ctx, b.ID); err != nil {
		t.Fatalf("MoveJobUp: %v", err)
	}
	jobs, _ := repo.GetPendingJobs(ctx)
	if jobs[0].ID != b.ID || jobs[1].ID != a.ID {
		t.Fatalf("after MoveJobUp(b): order = [%d %d %d]", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}

	// b is now at the top; moving it up again is a no-op.
	if err := repo.MoveJobUp(ctx, b.ID); err != nil {
		t.Fatalf("MoveJobUp at top: %v", err)
	}
	jobs, _ = repo.GetPendingJobs(ctx)
	if jobs[0].ID != b.ID {
		t.Fatalf("MoveJobUp at top should be a no-op, order = [%d %d %d]", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}

	if err := repo.MoveJobDown(ctx, b.ID); err != nil {
		t.Fatalf("MoveJobDown: %v", err)
	}
	jobs, _ = repo.GetPendingJobs(ctx)
	if jobs[0].ID != a.ID || jobs[1].ID != b.ID {
		t.Fatalf("after MoveJobDown(b): order = [%d %d %d]", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}

	// c is already at the bottom; moving it down again is a no-op.
	if err := repo.MoveJobDown(ctx, c.ID); err != nil {
		t.Fatalf("MoveJobDown at bottom: %v", err)
	}
	jobs, _ = repo.GetPendingJobs(ctx)
	if jobs[2].ID != c.ID {
		t.Fatalf("MoveJobDown at bottom should be a no-op, order = [%d %d %d]", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}
}

func TestJobRepository_MoveJobToBottom(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	a := newPendingJob(t, repo, "a")
	b := newPendingJob(t, repo, "b")

	if err := repo.MoveJobToBottom(ctx, a.ID); err != nil {
		t.Fatalf("MoveJobToBottom: %v", err)
	}
	jobs, _ := repo.GetPendingJobs(ctx)
	if jobs[0].ID != b.ID || jobs[1].ID != a.ID {
		t.Fatalf("after MoveJobToBottom(a): order = [%d %d]", jobs[0].ID, jobs[1].ID)
	}
}

func TestJobRepository_UpdateStatus_StampsTimestamps(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := newPendingJob(t, repo, "job")

	if err := repo.UpdateStatus(ctx, job.ID, models.JobRunning, nil); err != nil {
		t.Fatalf("UpdateStatus(running): %v", err)
	}
	running, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if running.Status != models.JobRunning {
		t.Errorf("status = %q, want running", running.Status)
	}
	if running.StartedAt == nil {
		t.Error("expected started_at to be stamped")
	}
	if running.CompletedAt != nil {
		t.Error("completed_at should still be nil while running")
	}

	errMsg := "boom"
	if err := repo.UpdateStatus(ctx, job.ID, models.JobFailed, &errMsg); err != nil {
		t.Fatalf("UpdateStatus(failed): %v", err)
	}
	failed, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if failed.Status != models.JobFailed {
		t.Errorf("status = %q, want failed", failed.Status)
	}
	if failed.CompletedAt == nil {
		t.Error("expected completed_at to be stamped")
	}
	if failed.ErrorMessage != "boom" {
		t.Errorf("ErrorMessage = %q, want boom", failed.ErrorMessage)
	}
}

func TestJobRepository_UpdateParameters_OnlyWhenPendingOrAwaitingPrompt(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := newPendingJob(t, repo, "job")
	params := models.Parameters{Width: 1280, Height: 720}

	ok, err := repo.UpdateParameters(ctx, job.ID, params)
	if err != nil {
		t.Fatalf("UpdateParameters: %v", err)
	}
	if !ok {
		t.Fatal("expected UpdateParameters to succeed while pending")
	}

	if err := repo.UpdateStatus(ctx, job.ID, models.JobRunning, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	ok, err = repo.UpdateParameters(ctx, job.ID, params)
	if err != nil {
		t.Fatalf("UpdateParameters while running: %v", err)
	}
	if ok {
		t.Error("expected UpdateParameters to refuse while running")
	}
}

func TestJobRepository_Cancel_OnlyPending(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := newPendingJob(t, repo, "job")
	if err := repo.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.JobCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}

	if err := repo.Cancel(ctx, job.ID); err == nil {
		t.Error("expected Cancel on an already-cancelled job to fail")
	}
}
