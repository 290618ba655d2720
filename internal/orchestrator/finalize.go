package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/snappy-loop/storyreel/internal/models"
)

// Finalize stitches every completed segment's video into one final
// file, in index order, and transitions the job to completed. Called
// by the out-of-scope API layer once the user is satisfied with the
// narrative.
func (o *Orchestrator) Finalize(ctx context.Context, jobID int64) error {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	segments, err := o.segmentRepo.ListByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}

	var videoPaths []string
	for _, seg := range segments {
		if seg.Status == models.SegmentCompleted && seg.VideoPath != "" {
			videoPaths = append(videoPaths, seg.VideoPath)
		}
	}
	if len(videoPaths) == 0 {
		return fmt.Errorf("no completed segment videos to finalize")
	}

	if err := o.jobRepo.UpdateStatus(ctx, jobID, models.JobRunning, nil); err != nil {
		return fmt.Errorf("mark job running for finalize: %w", err)
	}

	finalPath, err := o.finalVideoPath(jobID, job.Name)
	if err != nil {
		reason := fmt.Sprintf("finalize failed: %v", err)
		o.failJob(ctx, jobID, reason)
		return fmt.Errorf("resolve final video path: %w", err)
	}

	if err := o.pipeline.Stitch(ctx, videoPaths, finalPath); err != nil {
		reason := fmt.Sprintf("finalize failed: %v", err)
		o.failJob(ctx, jobID, reason)
		return fmt.Errorf("stitch final video: %w", err)
	}

	if err := o.jobRepo.UpdateOutputMedia(ctx, jobID, []string{finalPath}); err != nil {
		return fmt.Errorf("persist output media: %w", err)
	}
	if err := o.jobRepo.UpdateStatus(ctx, jobID, models.JobCompleted, nil); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}

	o.logActivity(ctx, jobID, nil, models.LogInfo, "Job finalized", finalPath)
	return nil
}

// finalVideoPath names the stitched output with the job's sanitized
// name and a timestamp, distinct from the per-segment deterministic
// paths so repeated finalize attempts never collide.
func (o *Orchestrator) finalVideoPath(jobID int64, jobName string) (string, error) {
	dir, err := o.paths.JobOutputDir(jobID)
	if err != nil {
		return "", err
	}
	safe := sanitizeName(jobName)
	ts := time.Now().UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s/%s_%s.mp4", dir, safe, ts), nil
}

func sanitizeName(name string) string {
	if name == "" {
		return "video"
	}
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
