package orchestrator

import (
	"errors"
	"strings"
	"testing"

	"github.com/snappy-loop/storyreel/internal/renderer"
)

func TestAnnotateSubmitError_MissingImage(t *testing.T) {
	err := &renderer.SubmitError{Message: "Image not found: frame.jpg"}
	got := annotateSubmitError(err)
	if !strings.Contains(got.Error(), "missing start image") {
		t.Errorf("got %q, want it to mention a missing start image", got.Error())
	}
}

func TestAnnotateSubmitError_NodeErrors(t *testing.T) {
	err := &renderer.SubmitError{
		Message: "prompt outputs failed validation",
		NodeErrors: map[string]renderer.NodeError{
			"97": {ClassType: "LoadImage", Errors: []string{"boom"}},
		},
	}
	got := annotateSubmitError(err)
	if !strings.Contains(got.Error(), "graph node error") {
		t.Errorf("got %q, want it to mention a graph node error", got.Error())
	}
}

func TestAnnotateSubmitError_UnclassifiedReturnsOriginal(t *testing.T) {
	err := &renderer.SubmitError{Message: "something unexpected happened"}
	got := annotateSubmitError(err)
	if got != err {
		t.Errorf("expected the original error to be returned unchanged, got %v", got)
	}
}

func TestAnnotateSubmitError_NonSubmitErrorPassesThrough(t *testing.T) {
	plain := errors.New("connection refused")
	got := annotateSubmitError(plain)
	if got != plain {
		t.Errorf("expected a non-SubmitError to pass through unchanged, got %v", got)
	}
}
