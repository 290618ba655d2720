package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snappy-loop/storyreel/internal/database"
	"github.com/snappy-loop/storyreel/internal/media"
	"github.com/snappy-loop/storyreel/internal/models"
	"github.com/snappy-loop/storyreel/internal/renderer"

	"github.com/snappy-loop/storyreel/migrations"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "video"},
		{"My Job!!", "My_Job__"},
		{"already-safe_name", "already-safe_name"},
		{"a b/c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFinalize_StitchesCompletedSegmentsAndMarksDone(t *testing.T) {
	outputRoot := t.TempDir()
	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db.DB); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	jobRepo := database.NewJobRepository(db)
	segRepo := database.NewSegmentRepository(db)
	activityRepo := database.NewActivityRepository(db)
	paths := media.NewPathResolver(outputRoot)
	pipeline := media.NewPipeline("ffmpeg", 0)

	o := New(Deps{
		DB:           db,
		JobRepo:      jobRepo,
		SegmentRepo:  segRepo,
		ActivityRepo: activityRepo,
		Paths:        paths,
		Pipeline:     pipeline,
		Renderer:     renderer.New("http://unused.invalid"),
	})

	ctx := context.Background()
	job := &models.Job{Name: "My Job"}
	if err := jobRepo.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	prompt := "p0"
	if _, err := segRepo.CreateFirstSegment(ctx, job.ID, &prompt, "input.jpg"); err != nil {
		t.Fatalf("CreateFirstSegment: %v", err)
	}
	seg0Path, err := paths.SegmentVideoPath(job.ID, 0)
	if err != nil {
		t.Fatalf("SegmentVideoPath: %v", err)
	}
	if err := os.WriteFile(seg0Path, []byte("segment 0 bytes"), 0o644); err != nil {
		t.Fatalf("write seg0: %v", err)
	}
	if err := segRepo.CompleteSegment(ctx, job.ID, 0, seg0Path, "seg0_last.jpg", nil); err != nil {
		t.Fatalf("CompleteSegment: %v", err)
	}

	if err := o.Finalize(ctx, job.ID); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.JobCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if len(got.OutputMedia) != 1 {
		t.Fatalf("OutputMedia = %+v, want one entry", got.OutputMedia)
	}
	if !strings.HasPrefix(filepath.Base(got.OutputMedia[0]), "My_Job_") {
		t.Errorf("final video name = %q, want it to start with the sanitized job name", got.OutputMedia[0])
	}

	body, err := os.ReadFile(got.OutputMedia[0])
	if err != nil {
		t.Fatalf("read final video: %v", err)
	}
	if string(body) != "segment 0 bytes" {
		t.Errorf("final video contents = %q, want the single segment copied through", body)
	}
}

func TestFinalize_NoCompletedSegmentsIsAnError(t *testing.T) {
	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db.DB); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	jobRepo := database.NewJobRepository(db)
	segRepo := database.NewSegmentRepository(db)
	o := New(Deps{
		DB:           db,
		JobRepo:      jobRepo,
		SegmentRepo:  segRepo,
		ActivityRepo: database.NewActivityRepository(db),
		Paths:        media.NewPathResolver(t.TempDir()),
		Pipeline:     media.NewPipeline("ffmpeg", 0),
		Renderer:     renderer.New("http://unused.invalid"),
	})

	ctx := context.Background()
	job := &models.Job{Name: "job"}
	if err := jobRepo.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	prompt := "p0"
	if _, err := segRepo.CreateFirstSegment(ctx, job.ID, &prompt, "input.jpg"); err != nil {
		t.Fatalf("CreateFirstSegment: %v", err)
	}

	if err := o.Finalize(ctx, job.ID); err == nil {
		t.Error("expected an error when no segment has completed yet")
	}
}
