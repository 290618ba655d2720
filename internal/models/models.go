// Package models defines the persisted data shapes for jobs, segments,
// and their supporting tables.
package models

import (
	"encoding/json"
	"time"
)

// Job statuses.
const (
	JobPending        = "pending"
	JobRunning        = "running"
	JobAwaitingPrompt = "awaiting_prompt"
	JobCompleted      = "completed"
	JobFailed         = "failed"
	JobCancelled      = "cancelled"
)

// Segment statuses.
const (
	SegmentPending       = "pending"
	SegmentRunning       = "running"
	SegmentCompleted     = "completed"
	SegmentFailed        = "failed"
	SegmentNeedsRecovery = "needs_recovery"
)

// Workflow kinds a job may request.
const (
	WorkflowTxt2Img      = "txt2img"
	WorkflowImg2Img      = "img2img"
	WorkflowImageToVideo = "image-to-video"
)

// Activity log levels.
const (
	LogInfo  = "INFO"
	LogWarn  = "WARN"
	LogError = "ERROR"
)

// LoRAEntry is one adapter reference with its strength.
type LoRAEntry struct {
	File   string  `json:"file"`
	Weight float64 `json:"weight"`
}

// LoRAPair holds the high-noise and low-noise adapter for one slot.
// Either side may be absent.
type LoRAPair struct {
	High *LoRAEntry `json:"high,omitempty"`
	Low  *LoRAEntry `json:"low,omitempty"`
}

// FaceswapConfig carries the optional faceswap node parameters.
type FaceswapConfig struct {
	Enabled    bool   `json:"enabled"`
	Image      string `json:"image,omitempty"`
	FacesOrder string `json:"faces_order,omitempty"`
	FacesIndex string `json:"faces_index,omitempty"`
}

// Parameters is the typed parameter bag persisted per job, with an
// Extra map carrying forward-compatible keys that are stored and
// returned but not interpreted directly.
type Parameters struct {
	Width                  int             `json:"width"`
	Height                 int             `json:"height"`
	FPS                    int             `json:"fps"`
	SegmentDurationSeconds int             `json:"segment_duration_seconds"`
	Steps                  int             `json:"steps,omitempty"`
	CFG                    float64         `json:"cfg,omitempty"`
	Sampler                string          `json:"sampler,omitempty"`
	Scheduler              string          `json:"scheduler,omitempty"`
	Checkpoint             string          `json:"checkpoint,omitempty"`
	HighNoiseModel         string          `json:"high_noise_model,omitempty"`
	LowNoiseModel          string          `json:"low_noise_model,omitempty"`
	Faceswap               *FaceswapConfig `json:"faceswap,omitempty"`
	Extra                  map[string]any  `json:"extra,omitempty"`
}

// Job is one video-generation job: a priority-ordered chain of segments.
type Job struct {
	ID             int64
	Name           string
	Status         string
	Prompt         string
	NegativePrompt string
	WorkflowKind   string
	Parameters     Parameters
	InputImage     string
	OutputMedia    []string
	PromptHandle   string
	Priority       int64
	Seed           uint64
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   string
}

// Segment is one image-to-video inference step within a job.
type Segment struct {
	JobID         int64
	Index         int
	Status        string
	Prompt        *string
	StartImage    string
	EndFrame      string
	VideoPath     string
	PromptHandle  string
	ExecutionTime *float64
	ErrorMessage  string
	HighLoRAs     []LoRAEntry
	LowLoRAs      []LoRAEntry
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// UploadedImage is an upload-dedup index entry keyed by content hash.
type UploadedImage struct {
	ContentHash      string
	RendererFilename string
	OriginalFilename string
	UploadedAt       time.Time
}

// ActivityLogEntry is one append-only row of job/segment activity.
type ActivityLogEntry struct {
	ID           int64
	JobID        int64
	SegmentIndex *int
	Timestamp    time.Time
	Level        string
	Message      string
	Detail       string
}

// LoRALibraryEntry describes one base LoRA with high/low file variants.
// Treated by the orchestrator as an opaque external-collaborator table;
// kept here only so the Store can serve plain CRUD for it.
type LoRALibraryEntry struct {
	ID              int64
	BaseName        string
	HighFile        string
	LowFile         string
	FriendlyName    string
	TriggerKeywords string
	Rating          *int
}

// SerializeLoRAs encodes a slice of entries as the canonical JSON object
// form. Returns "" for an empty slice so the caller can store NULL.
func SerializeLoRAs(entries []LoRAEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseLoRAs accepts the three historical persisted forms: a single
// plain filename string, a JSON array of strings, or a JSON array of
// {file, weight} objects. It always returns the normalized slice form.
func ParseLoRAs(raw string) []LoRAEntry {
	if raw == "" {
		return nil
	}
	if raw[0] == '[' {
		var asObjects []LoRAEntry
		if err := json.Unmarshal([]byte(raw), &asObjects); err == nil {
			return normalizeWeights(asObjects)
		}
		var asStrings []string
		if err := json.Unmarshal([]byte(raw), &asStrings); err == nil {
			out := make([]LoRAEntry, 0, len(asStrings))
			for _, f := range asStrings {
				if f == "" {
					continue
				}
				out = append(out, LoRAEntry{File: f, Weight: 1.0})
			}
			return out
		}
	}
	// Legacy: a single bare filename.
	return []LoRAEntry{{File: raw, Weight: 1.0}}
}

func normalizeWeights(entries []LoRAEntry) []LoRAEntry {
	out := make([]LoRAEntry, 0, len(entries))
	for _, e := range entries {
		if e.File == "" {
			continue
		}
		if e.Weight == 0 {
			e.Weight = 1.0
		}
		out = append(out, e)
	}
	return out
}
