// Package media handles everything that touches video bytes on disk:
// downloading rendered segments, extracting last frames for the
// frame-chain invariant, and stitching the final output.
package media

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathResolver computes the deterministic on-disk layout for job
// output: outputRoot/job_<id>/segment_<n>.mp4, etc.
type PathResolver struct {
	outputRoot string
}

// NewPathResolver creates a PathResolver rooted at outputRoot.
func NewPathResolver(outputRoot string) *PathResolver {
	return &PathResolver{outputRoot: outputRoot}
}

// JobOutputDir returns (creating if needed) the output directory for a job.
func (p *PathResolver) JobOutputDir(jobID int64) (string, error) {
	dir := filepath.Join(p.outputRoot, fmt.Sprintf("job_%d", jobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job output dir: %w", err)
	}
	return dir, nil
}

// SegmentVideoPath returns the path where a segment's rendered video
// should be stored.
func (p *PathResolver) SegmentVideoPath(jobID int64, segmentIndex int) (string, error) {
	dir, err := p.JobOutputDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("segment_%d.mp4", segmentIndex)), nil
}

// FrameKind distinguishes the two frame types a segment may have
// extracted against it.
type FrameKind string

const (
	FrameLast  FrameKind = "last"
	FrameStart FrameKind = "start"
)

// SegmentFramePath returns the path for a segment's extracted frame.
func (p *PathResolver) SegmentFramePath(jobID int64, segmentIndex int, kind FrameKind) (string, error) {
	dir, err := p.JobOutputDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("segment_%d_%s_frame.jpg", segmentIndex, kind)), nil
}
