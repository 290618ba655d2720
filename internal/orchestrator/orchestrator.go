// Package orchestrator drives pending jobs through their segment
// chains against the Renderer, and reconciles persisted state against
// the Renderer and filesystem at startup.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storyreel/internal/config"
	"github.com/snappy-loop/storyreel/internal/database"
	"github.com/snappy-loop/storyreel/internal/graphmutator"
	"github.com/snappy-loop/storyreel/internal/media"
	"github.com/snappy-loop/storyreel/internal/models"
	"github.com/snappy-loop/storyreel/internal/notifier"
	"github.com/snappy-loop/storyreel/internal/renderer"
)

// Orchestrator is the single owned service instance described in the
// design notes: one driver loop plus any number of resume-monitor
// goroutines spawned for segments that survived a restart mid-flight.
type Orchestrator struct {
	jobRepo      *database.JobRepository
	segmentRepo  *database.SegmentRepository
	settingsRepo *database.SettingsRepository
	uploadRepo   *database.UploadRepository
	activityRepo *database.ActivityRepository

	renderer *renderer.Client
	pipeline *media.Pipeline
	paths    *media.PathResolver
	notify   notifier.Notifier

	cfg *config.Config

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Deps bundles the collaborators the Orchestrator needs. All fields
// are required except Notify, which defaults to a no-op.
type Deps struct {
	DB           *database.DB
	JobRepo      *database.JobRepository
	SegmentRepo  *database.SegmentRepository
	SettingsRepo *database.SettingsRepository
	UploadRepo   *database.UploadRepository
	ActivityRepo *database.ActivityRepository
	Renderer     *renderer.Client
	Pipeline     *media.Pipeline
	Paths        *media.PathResolver
	Notify       notifier.Notifier
	Config       *config.Config
}

// New constructs an Orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	notify := d.Notify
	if notify == nil {
		notify = notifier.NewNoopNotifier()
	}
	return &Orchestrator{
		jobRepo:      d.JobRepo,
		segmentRepo:  d.SegmentRepo,
		settingsRepo: d.SettingsRepo,
		uploadRepo:   d.UploadRepo,
		activityRepo: d.ActivityRepo,
		renderer:     d.Renderer,
		pipeline:     d.Pipeline,
		paths:        d.Paths,
		notify:       notify,
		cfg:          d.Config,
		stopCh:       make(chan struct{}),
	}
}

// Run starts the driver loop and blocks until ctx is cancelled or Stop
// is called. The loop honors a stop flag only at its next polling
// tick; an in-flight segment is abandoned, left in `running`, for the
// next startup's Reconciler to pick up.
func (o *Orchestrator) Run(ctx context.Context) {
	log.Info().Msg("orchestrator: driver loop starting")
	defer log.Info().Msg("orchestrator: driver loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		default:
		}

		if err := o.tick(ctx); err != nil {
			log.Error().Err(err).Msg("orchestrator: driver tick failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-time.After(o.cfg.DriverPollInterval):
		}
	}
}

// Stop signals the driver loop to exit at its next polling tick.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

// Wait blocks until every resume-monitor goroutine spawned by the
// Reconciler has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// tick performs one driver-loop iteration: pick the highest-priority
// pending job, verify Renderer connectivity, and drive it through as
// many segments as it will yield before pausing or terminating.
func (o *Orchestrator) tick(ctx context.Context) error {
	jobs, err := o.jobRepo.GetPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("get pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	job := jobs[0]

	if ok, msg := o.renderer.CheckConnection(ctx); !ok {
		log.Warn().Int64("job_id", job.ID).Str("reason", msg).Msg("orchestrator: renderer unreachable, leaving job pending")
		return nil
	}

	if err := o.jobRepo.UpdateStatus(ctx, job.ID, models.JobRunning, nil); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	o.logActivity(ctx, job.ID, nil, models.LogInfo, "Job started", "")

	o.runJob(ctx, job)
	return nil
}

// runJob drives job through its segment chain until it pauses at
// awaiting_prompt or reaches a terminal state. The segment list is
// re-read from the Store on every iteration so that the start-image
// written during segment i's post-processing is visible when segment
// i+1 is picked up.
func (o *Orchestrator) runJob(ctx context.Context, job *models.Job) {
	for {
		segments, err := o.segmentRepo.ListByJob(ctx, job.ID)
		if err != nil {
			o.failJob(ctx, job.ID, fmt.Sprintf("failed to list segments: %v", err))
			return
		}

		completedCount := 0
		var seg *models.Segment
		var prev *models.Segment
		for i, s := range segments {
			if s.Status == models.SegmentCompleted {
				completedCount++
				continue
			}
			seg = s
			if i > 0 {
				prev = segments[i-1]
			}
			break
		}

		if seg == nil {
			o.pauseOrFail(ctx, job.ID, completedCount)
			return
		}

		if seg.Prompt == nil || *seg.Prompt == "" {
			o.jobRepo.UpdateStatus(ctx, job.ID, models.JobAwaitingPrompt, nil)
			o.logActivity(ctx, job.ID, nil, models.LogInfo, "Awaiting next prompt", "")
			return
		}

		if prev != nil && seg.StartImage == "" {
			if prev.EndFrame == "" {
				log.Warn().Int64("job_id", job.ID).Int("segment", seg.Index).Msg("orchestrator: previous segment has no end frame yet")
				o.pauseOrFail(ctx, job.ID, completedCount)
				return
			}
			if err := o.segmentRepo.UpdateStartImage(ctx, job.ID, seg.Index, prev.EndFrame); err != nil {
				o.failJob(ctx, job.ID, fmt.Sprintf("failed to propagate start image: %v", err))
				return
			}
			seg.StartImage = prev.EndFrame
		}

		if err := o.waitForQueueDrain(ctx, job.ID); err != nil {
			o.failSegmentAndJob(ctx, job, seg, err.Error())
			return
		}

		handle, submitErr := o.submitSegment(ctx, job, seg)
		if submitErr != nil {
			o.failSegmentAndJob(ctx, job, seg, submitErr.Error())
			return
		}

		if err := o.segmentRepo.UpdatePromptHandle(ctx, job.ID, seg.Index, handle); err != nil {
			o.failSegmentAndJob(ctx, job, seg, fmt.Sprintf("failed to store prompt handle: %v", err))
			return
		}
		if err := o.segmentRepo.UpdateStatus(ctx, job.ID, seg.Index, models.SegmentRunning, nil); err != nil {
			o.failSegmentAndJob(ctx, job, seg, fmt.Sprintf("failed to mark segment running: %v", err))
			return
		}
		o.logActivity(ctx, job.ID, &seg.Index, models.LogInfo, "Segment submitted", handle)

		outcome := o.waitForCompletion(ctx, job, seg, handle)
		if outcome.Kind != WaitCompleted {
			msg := outcome.Message()
			o.segmentRepo.UpdateStatus(ctx, job.ID, seg.Index, models.SegmentFailed, &msg)
			o.logActivity(ctx, job.ID, &seg.Index, models.LogError, "Segment failed", msg)
			o.failJob(ctx, job.ID, fmt.Sprintf("Segment %d failed: %s", seg.Index+1, msg))
			return
		}
	}
}

// pauseOrFail ends a job's processing pass: with at least one segment
// completed the job waits for the user's next prompt, with none the
// whole run was fruitless and the job fails.
func (o *Orchestrator) pauseOrFail(ctx context.Context, jobID int64, completedCount int) {
	if completedCount == 0 {
		o.failJob(ctx, jobID, "no segments completed")
		return
	}
	if err := o.jobRepo.UpdateStatus(ctx, jobID, models.JobAwaitingPrompt, nil); err != nil {
		log.Error().Err(err).Int64("job_id", jobID).Msg("orchestrator: failed to mark job awaiting_prompt")
		return
	}
	o.logActivity(ctx, jobID, nil, models.LogInfo, "Awaiting next prompt", "")
}

func (o *Orchestrator) failSegmentAndJob(ctx context.Context, job *models.Job, seg *models.Segment, reason string) {
	o.segmentRepo.UpdateStatus(ctx, job.ID, seg.Index, models.SegmentFailed, &reason)
	o.logActivity(ctx, job.ID, &seg.Index, models.LogError, "Segment failed", reason)
	o.failJob(ctx, job.ID, fmt.Sprintf("Segment %d failed: %s", seg.Index+1, reason))
}

func (o *Orchestrator) failJob(ctx context.Context, jobID int64, reason string) {
	if err := o.jobRepo.UpdateStatus(ctx, jobID, models.JobFailed, &reason); err != nil {
		log.Error().Err(err).Int64("job_id", jobID).Msg("orchestrator: failed to mark job failed")
	}
	o.logActivity(ctx, jobID, nil, models.LogError, "Job failed", reason)
}

// logActivity writes the activity log entry synchronously (authoritative)
// and fans the same event out to the Notifier asynchronously.
func (o *Orchestrator) logActivity(ctx context.Context, jobID int64, segmentIndex *int, level, message, detail string) {
	if err := o.activityRepo.Append(ctx, jobID, segmentIndex, level, message, detail); err != nil {
		log.Error().Err(err).Int64("job_id", jobID).Msg("orchestrator: failed to append activity log")
	}
	o.notify.Notify(jobID, segmentIndex, level, message, detail)
}

// buildGraphParams assembles the Graph Mutator parameter record for a
// segment from its job and segment rows.
func buildGraphParams(job *models.Job, seg *models.Segment) graphmutator.Params {
	outputPrefix := job.Name
	return graphmutator.Params{
		Prompt:         derefPrompt(seg.Prompt),
		NegativePrompt: job.NegativePrompt,
		Width:          job.Parameters.Width,
		Height:         job.Parameters.Height,
		Frames:         framesFromDuration(job.Parameters.SegmentDurationSeconds, job.Parameters.FPS),
		StartImageFile: seg.StartImage,
		HighNoiseModel: job.Parameters.HighNoiseModel,
		LowNoiseModel:  job.Parameters.LowNoiseModel,
		Seed:           job.Seed,
		HighLoRAs:      seg.HighLoRAs,
		LowLoRAs:       seg.LowLoRAs,
		FPS:            job.Parameters.FPS,
		OutputPrefix:   outputPrefix,
		Faceswap:       job.Parameters.Faceswap,
	}
}

func framesFromDuration(seconds, fps int) int {
	if seconds <= 0 || fps <= 0 {
		return 81
	}
	return seconds * fps
}

func derefPrompt(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
