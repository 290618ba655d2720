package notifier

import (
	"encoding/json"
	"testing"
)

func TestNoopNotifier_NeverBlocksOrErrors(t *testing.T) {
	n := NewNoopNotifier()
	idx := 2
	n.Notify(1, &idx, "INFO", "anything", "detail")
	n.Notify(1, nil, "ERROR", "anything else", "")
	if err := n.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewEvent_CarriesFieldsAndTraceID(t *testing.T) {
	idx := 3
	e := newEvent(42, &idx, "WARN", "segment stalled", "retry 2")

	if e.JobID != 42 || e.Level != "WARN" || e.Message != "segment stalled" || e.Detail != "retry 2" {
		t.Errorf("event = %+v", e)
	}
	if e.SegmentIndex == nil || *e.SegmentIndex != 3 {
		t.Errorf("SegmentIndex = %v, want 3", e.SegmentIndex)
	}
	if e.TraceID == "" {
		t.Error("expected a non-empty trace id")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected a non-zero timestamp")
	}
}

func TestNewEvent_DistinctTraceIDsPerCall(t *testing.T) {
	a := newEvent(1, nil, "INFO", "m", "")
	b := newEvent(1, nil, "INFO", "m", "")
	if a.TraceID == b.TraceID {
		t.Error("expected distinct trace ids across calls")
	}
}

func TestMarshalEvent_RoundTrips(t *testing.T) {
	idx := 1
	e := newEvent(7, &idx, "INFO", "segment completed", "path/to/video.mp4")

	data, err := marshalEvent(e)
	if err != nil {
		t.Fatalf("marshalEvent: %v", err)
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.JobID != e.JobID || back.Message != e.Message || back.TraceID != e.TraceID {
		t.Errorf("round trip = %+v, want %+v", back, e)
	}
	if back.SegmentIndex == nil || *back.SegmentIndex != 1 {
		t.Errorf("SegmentIndex round trip = %v", back.SegmentIndex)
	}
}
