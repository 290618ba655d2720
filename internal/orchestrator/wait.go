package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storyreel/internal/media"
	"github.com/snappy-loop/storyreel/internal/models"
	"github.com/snappy-loop/storyreel/internal/renderer"
)

// WaitOutcomeKind classifies how a segment's completion wait ended.
// One taxonomy shared by the driver's wait and the reconciler's
// resume-monitor, so both fail segments with the same error shapes.
type WaitOutcomeKind int

const (
	WaitCompleted WaitOutcomeKind = iota
	WaitRendererError
	WaitTimeout
	WaitReconnectExhausted
)

// WaitOutcome is the result of waiting for a submitted prompt to reach
// a terminal state.
type WaitOutcome struct {
	Kind WaitOutcomeKind
	Err  error
}

// Message renders the outcome as the human-readable error text stored
// on the segment/job rows.
func (o WaitOutcome) Message() string {
	switch o.Kind {
	case WaitRendererError:
		return o.Err.Error()
	case WaitTimeout:
		return o.Err.Error()
	case WaitReconnectExhausted:
		return o.Err.Error()
	default:
		return ""
	}
}

const consecutiveErrorThreshold = 30

// waitForCompletion polls the Renderer for handle's status until it
// reaches a terminal state, runs post-processing on success, and
// returns the outcome. Shared verbatim by the driver loop and the
// reconciler's resume-monitor so both obey identical timeout and
// reconnect-budget semantics.
func (o *Orchestrator) waitForCompletion(ctx context.Context, job *models.Job, seg *models.Segment, handle string) WaitOutcome {
	deadline := time.Now().Add(o.cfg.SegmentExecTimeout)
	consecutiveErrors := 0
	var reconnectDeadline time.Time

	for {
		if time.Now().After(deadline) {
			return WaitOutcome{Kind: WaitTimeout, Err: fmt.Errorf("timed out after %d s", int(o.cfg.SegmentExecTimeout.Seconds()))}
		}

		status := o.renderer.GetPromptStatus(ctx, handle)

		switch status.Kind {
		case renderer.StatusCompleted:
			if err := o.completeSegment(ctx, job, seg, status.Data); err != nil {
				return WaitOutcome{Kind: WaitRendererError, Err: err}
			}
			return WaitOutcome{Kind: WaitCompleted}

		case renderer.StatusError:
			return WaitOutcome{Kind: WaitRendererError, Err: fmt.Errorf("renderer reported error: %s", status.Error)}

		case renderer.StatusPending:
			consecutiveErrors = 0
			reconnectDeadline = time.Time{}

		default: // StatusUnknown - treated as a transient connection problem
			consecutiveErrors++
			if consecutiveErrors >= consecutiveErrorThreshold {
				if reconnectDeadline.IsZero() {
					log.Warn().Int64("job_id", job.ID).Int("segment", seg.Index).Msg("orchestrator: consecutive poll errors, entering reconnect budget")
					reconnectDeadline = time.Now().Add(o.cfg.RendererReconnectWait)
				}
				if time.Now().After(reconnectDeadline) {
					return WaitOutcome{Kind: WaitReconnectExhausted, Err: fmt.Errorf("renderer connection not restored within %d s", int(o.cfg.RendererReconnectWait.Seconds()))}
				}
			}
		}

		select {
		case <-ctx.Done():
			return WaitOutcome{Kind: WaitRendererError, Err: ctx.Err()}
		case <-time.After(o.cfg.StatusPollInterval):
		}
	}
}

// completeSegment performs the post-processing pipeline for a
// completed prompt: pick the first video-like output, download it,
// extract its last frame, upload the frame as the next segment's
// start-image, and persist everything.
func (o *Orchestrator) completeSegment(ctx context.Context, job *models.Job, seg *models.Segment, historyData []byte) error {
	items, err := o.renderer.GetOutputMedia(historyData)
	if err != nil {
		return fmt.Errorf("enumerate output media: %w", err)
	}

	videoURL := ""
	for _, item := range items {
		if isVideoLike(item.URL) {
			videoURL = item.URL
			break
		}
	}
	if videoURL == "" {
		return fmt.Errorf("no video output found in renderer history")
	}

	videoPath, err := o.paths.SegmentVideoPath(job.ID, seg.Index)
	if err != nil {
		return fmt.Errorf("resolve video path: %w", err)
	}
	if err := o.pipeline.Download(ctx, videoURL, videoPath); err != nil {
		return fmt.Errorf("download segment video: %w", err)
	}

	framePath, err := o.paths.SegmentFramePath(job.ID, seg.Index, media.FrameLast)
	if err != nil {
		return fmt.Errorf("resolve frame path: %w", err)
	}
	if err := o.pipeline.ExtractLastFrame(ctx, videoPath, framePath); err != nil {
		return fmt.Errorf("extract last frame: %w", err)
	}

	endFrame, err := o.uploadFrame(ctx, framePath)
	if err != nil {
		return fmt.Errorf("upload last frame: %w", err)
	}

	execTime, err := o.renderer.GetExecutionTime(historyData)
	if err != nil {
		return fmt.Errorf("read execution time: %w", err)
	}

	if err := o.segmentRepo.CompleteSegment(ctx, job.ID, seg.Index, videoPath, endFrame, execTime); err != nil {
		return fmt.Errorf("persist segment completion: %w", err)
	}

	if err := o.segmentRepo.UpdateStartImage(ctx, job.ID, seg.Index+1, endFrame); err != nil {
		return fmt.Errorf("propagate start image to next segment: %w", err)
	}

	o.logActivity(ctx, job.ID, &seg.Index, models.LogInfo, "Segment completed", videoPath)
	return nil
}

func isVideoLike(url string) bool {
	lower := strings.ToLower(url)
	for _, ext := range []string{".mp4", ".webm", ".gif"} {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}
