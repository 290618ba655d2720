// Package notifier publishes activity events for a job/segment to an
// external message bus, without ever blocking the driver loop that
// produced them.
package notifier

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one activity notification, mirroring the shape persisted in
// the activity log so subscribers can replay the same history.
type Event struct {
	TraceID      string    `json:"trace_id"`
	JobID        int64     `json:"job_id"`
	SegmentIndex *int      `json:"segment_index,omitempty"`
	Level        string    `json:"level"`
	Message      string    `json:"message"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier publishes activity events asynchronously. Notify must never
// block the caller on broker I/O; implementations own their own
// buffering and drop/backpressure policy.
type Notifier interface {
	Notify(jobID int64, segmentIndex *int, level, message, detail string)
	Close() error
}

func newEvent(jobID int64, segmentIndex *int, level, message, detail string) Event {
	return Event{
		TraceID:      uuid.New().String(),
		JobID:        jobID,
		SegmentIndex: segmentIndex,
		Level:        level,
		Message:      message,
		Detail:       detail,
		Timestamp:    time.Now().UTC(),
	}
}

func marshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
