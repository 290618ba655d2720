package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const queuePollInterval = 10 * time.Second
const queueLogInterval = time.Minute

// waitForQueueDrain blocks until the Renderer's external queue is
// empty, up to the configured idle-wait budget. While disconnected it
// switches to a reconnect sub-loop that counts against the same total
// budget.
func (o *Orchestrator) waitForQueueDrain(ctx context.Context, jobID int64) error {
	deadline := time.Now().Add(o.cfg.QueueIdleWait)
	lastLog := time.Now()
	reconnectDeadline := time.Time{}

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("ComfyUI queue did not clear after %d minutes", int(o.cfg.QueueIdleWait.Minutes()))
		}

		status := o.renderer.GetQueueStatus(ctx)
		if !status.Connected {
			if reconnectDeadline.IsZero() {
				reconnectDeadline = time.Now().Add(o.cfg.RendererReconnectWait)
			}
			if time.Now().After(reconnectDeadline) {
				return fmt.Errorf("renderer connection not restored within %d s", int(o.cfg.RendererReconnectWait.Seconds()))
			}
		} else {
			reconnectDeadline = time.Time{}
			if len(status.Running) == 0 && len(status.Pending) == 0 {
				return nil
			}
		}

		if time.Since(lastLog) >= queueLogInterval {
			log.Info().Int64("job_id", jobID).Msg("orchestrator: waiting for renderer queue to drain")
			lastLog = time.Now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(queuePollInterval):
		}
	}
}
