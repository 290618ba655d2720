package database

import (
	"context"
	"testing"

	"github.com/snappy-loop/storyreel/internal/models"
)

func TestActivityRepository_AppendAndListInOrder(t *testing.T) {
	db := newTestDB(t)
	jobRepo := NewJobRepository(db)
	repo := NewActivityRepository(db)
	ctx := context.Background()

	job := &models.Job{Name: "job"}
	if err := jobRepo.Create(ctx, job); err != nil {
		t.Fatalf("Create job: %v", err)
	}

	if err := repo.Append(ctx, job.ID, nil, models.LogInfo, "Job started", ""); err != nil {
		t.Fatalf("Append: %v", err)
	}
	segIdx := 0
	if err := repo.Append(ctx, job.ID, &segIdx, models.LogInfo, "Segment submitted", "handle-1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := repo.Append(ctx, job.ID, &segIdx, models.LogError, "Segment failed", "timeout"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := repo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0].Message != "Job started" || entries[0].SegmentIndex != nil {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Message != "Segment submitted" || entries[1].SegmentIndex == nil || *entries[1].SegmentIndex != 0 {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if entries[2].Level != models.LogError || entries[2].Detail != "timeout" {
		t.Errorf("entries[2] = %+v", entries[2])
	}
}

func TestActivityRepository_ListByJob_EmptyWhenNoEntries(t *testing.T) {
	db := newTestDB(t)
	jobRepo := NewJobRepository(db)
	repo := NewActivityRepository(db)
	ctx := context.Background()

	job := &models.Job{Name: "job"}
	if err := jobRepo.Create(ctx, job); err != nil {
		t.Fatalf("Create job: %v", err)
	}

	entries, err := repo.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %+v, want empty", entries)
	}
}
