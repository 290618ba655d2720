package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/snappy-loop/storyreel/internal/graphmutator"
	"github.com/snappy-loop/storyreel/internal/models"
	"github.com/snappy-loop/storyreel/internal/renderer"
)

// submitSegment builds the computation graph for seg and submits it,
// annotating any rejection with which kind of problem the Renderer
// reported (missing image, missing node, or other).
func (o *Orchestrator) submitSegment(ctx context.Context, job *models.Job, seg *models.Segment) (string, error) {
	graph, err := graphmutator.Mutate(buildGraphParams(job, seg))
	if err != nil {
		return "", fmt.Errorf("build graph: %w", err)
	}

	raw, err := json.Marshal(graph)
	if err != nil {
		return "", fmt.Errorf("marshal graph: %w", err)
	}

	handle, err := o.renderer.SubmitGraph(ctx, json.RawMessage(raw))
	if err != nil {
		return "", fmt.Errorf("submit rejected: %w", annotateSubmitError(err))
	}
	return handle, nil
}

// annotateSubmitError classifies a *renderer.SubmitError into a more
// actionable message naming the likely cause, without discarding the
// original error for errors.As/errors.Is use.
func annotateSubmitError(err error) error {
	var subErr *renderer.SubmitError
	if !asSubmitError(err, &subErr) {
		return err
	}

	lower := strings.ToLower(subErr.Message)
	switch {
	case strings.Contains(lower, "image") && (strings.Contains(lower, "not found") || strings.Contains(lower, "missing")):
		return fmt.Errorf("missing start image: %s: %w", subErr.Message, err)
	case len(subErr.NodeErrors) > 0:
		return fmt.Errorf("graph node error (%d node(s) rejected): %s: %w", len(subErr.NodeErrors), subErr.Message, err)
	default:
		return err
	}
}

func asSubmitError(err error, target **renderer.SubmitError) bool {
	se, ok := err.(*renderer.SubmitError)
	if ok {
		*target = se
	}
	return ok
}
