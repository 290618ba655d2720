package orchestrator

import "encoding/json"

// jsonRawEntry is one decoded [queue_number, prompt_id, ...] queue
// tuple from the Renderer's /queue response.
type jsonRawEntry struct {
	promptID string
}

// toEntries decodes the Renderer's raw queue tuples, extracting just
// the prompt ID (index 1) from each and silently skipping malformed
// entries.
func toEntries(raw []json.RawMessage) []jsonRawEntry {
	out := make([]jsonRawEntry, 0, len(raw))
	for _, r := range raw {
		var tuple []json.RawMessage
		if err := json.Unmarshal(r, &tuple); err != nil || len(tuple) < 2 {
			continue
		}
		var promptID string
		if err := json.Unmarshal(tuple[1], &promptID); err != nil {
			continue
		}
		out = append(out, jsonRawEntry{promptID: promptID})
	}
	return out
}
