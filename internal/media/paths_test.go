package media

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathResolver_SegmentVideoPath(t *testing.T) {
	root := t.TempDir()
	p := NewPathResolver(root)

	got, err := p.SegmentVideoPath(42, 3)
	if err != nil {
		t.Fatalf("SegmentVideoPath: %v", err)
	}
	want := filepath.Join(root, "job_42", "segment_3.mp4")
	if got != want {
		t.Errorf("SegmentVideoPath = %q, want %q", got, want)
	}
}

func TestPathResolver_SegmentFramePath(t *testing.T) {
	root := t.TempDir()
	p := NewPathResolver(root)

	last, err := p.SegmentFramePath(42, 3, FrameLast)
	if err != nil {
		t.Fatalf("SegmentFramePath(last): %v", err)
	}
	if want := filepath.Join(root, "job_42", "segment_3_last_frame.jpg"); last != want {
		t.Errorf("SegmentFramePath(last) = %q, want %q", last, want)
	}

	start, err := p.SegmentFramePath(42, 3, FrameStart)
	if err != nil {
		t.Fatalf("SegmentFramePath(start): %v", err)
	}
	if want := filepath.Join(root, "job_42", "segment_3_start_frame.jpg"); start != want {
		t.Errorf("SegmentFramePath(start) = %q, want %q", start, want)
	}
}

func TestPathResolver_JobOutputDir_CreatesDirectory(t *testing.T) {
	root := t.TempDir()
	p := NewPathResolver(root)

	dir, err := p.JobOutputDir(7)
	if err != nil {
		t.Fatalf("JobOutputDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("expected directory to exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected a directory")
	}
}
