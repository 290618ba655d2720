// Package renderer is a thin HTTP client over the external diffusion
// engine ("Renderer"). It performs no orchestration of its own; the
// caller owns all polling and retry-for-state-machine-purposes logic.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Client is a synchronous HTTP wrapper over the Renderer's API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries sets how many times a retryable introspection call is
// retried before giving up.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseBackoff sets the base exponential-backoff delay for retried
// introspection calls.
func WithBaseBackoff(d time.Duration) Option {
	return func(c *Client) { c.baseBackoff = d }
}

// New constructs a Renderer Client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		c.httpClient.Timeout = c.timeout
	}
	return c
}

// BaseURL returns the configured Renderer URL.
func (c *Client) BaseURL() string { return c.baseURL }

// retryableError wraps an error that a transient-failure retry loop
// should attempt again.
type retryableError struct{ err error }

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// doWithRetry performs fn, retrying with exponential backoff when fn
// returns a *retryableError. Used only by read-only introspection
// calls; submit and status polling never retry at this layer, the
// orchestrator owns that policy.
func (c *Client) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var re *retryableError
		if !asRetryable(err, &re) {
			return err
		}
		lastErr = re.err
		if attempt == c.maxRetries {
			break
		}
		delay := c.baseBackoff * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func asRetryable(err error, target **retryableError) bool {
	re, ok := err.(*retryableError)
	if ok {
		*target = re
	}
	return ok
}

// CheckConnection reports whether the Renderer is reachable. A 200 on
// /system_stats counts as healthy; connection failures are reported,
// not raised.
func (c *Client) CheckConnection(ctx context.Context) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, "connection refused - is the Renderer running?"
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return true, "Connected"
	}
	return false, fmt.Sprintf("unexpected status %d", resp.StatusCode)
}

// QueueStatus mirrors the Renderer's /queue response, plus a connected
// flag so callers can distinguish "Renderer down" from "Renderer busy".
type QueueStatus struct {
	Running   []json.RawMessage `json:"queue_running"`
	Pending   []json.RawMessage `json:"queue_pending"`
	Connected bool              `json:"-"`
	Error     string            `json:"-"`
}

// GetQueueStatus returns the Renderer's current queue contents. On
// connection failure it returns Connected=false rather than an error,
// so callers can tell "Renderer down" apart from "Renderer busy".
func (c *Client) GetQueueStatus(ctx context.Context) *QueueStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return &QueueStatus{Connected: false, Error: err.Error()}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &QueueStatus{Connected: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &QueueStatus{Connected: false, Error: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var qs QueueStatus
	if err := json.NewDecoder(resp.Body).Decode(&qs); err != nil {
		return &QueueStatus{Connected: false, Error: err.Error()}
	}
	qs.Connected = true
	return &qs
}

// NodeError is one entry in a submission rejection's node_errors map.
type NodeError struct {
	ClassType string   `json:"class_type"`
	Errors    []string `json:"errors"`
}

// SubmitError is the structured rejection body the Renderer returns on
// a non-2xx /prompt response.
type SubmitError struct {
	Message    string               `json:"message"`
	NodeErrors map[string]NodeError `json:"node_errors"`
}

func (e *SubmitError) Error() string { return e.Message }

// submitResponse models the raw /prompt JSON body.
type submitResponse struct {
	PromptID string `json:"prompt_id"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
	NodeErrors map[string]NodeError `json:"node_errors"`
}

// SubmitGraph submits a ready-to-submit computation graph and returns
// the Renderer-assigned prompt handle. On rejection it returns a
// *SubmitError carrying the structured per-node error detail.
func (c *Client) SubmitGraph(ctx context.Context, graph json.RawMessage) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": uuid.New().String(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit graph: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read submit response: %w", err)
	}

	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("submit rejected with status %d: %s", resp.StatusCode, string(respBody))
		}
		return "", fmt.Errorf("parse submit response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || parsed.PromptID == "" {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		log.Warn().Int("status", resp.StatusCode).Str("message", msg).Msg("Renderer rejected submission")
		return "", &SubmitError{Message: msg, NodeErrors: parsed.NodeErrors}
	}

	return parsed.PromptID, nil
}

// PromptStatusKind classifies a GetPromptStatus result.
type PromptStatusKind string

const (
	StatusPending   PromptStatusKind = "pending"
	StatusCompleted PromptStatusKind = "completed"
	StatusError     PromptStatusKind = "error"
	StatusUnknown   PromptStatusKind = "unknown"
)

// PromptStatus is the result of polling /history/<prompt_id>.
type PromptStatus struct {
	Kind  PromptStatusKind
	Data  json.RawMessage // the full history record, when completed
	Error string
}

// historyStatus is the status block of one history entry.
type historyStatus struct {
	Status struct {
		StatusStr string          `json:"status_str"`
		Messages  json.RawMessage `json:"messages"`
	} `json:"status"`
}

// GetPromptStatus polls the Renderer's history for a submitted prompt.
// Connection failures and unexpected responses come back as
// StatusUnknown so the caller can treat them as transient; StatusError
// is reserved for a history entry whose execution actually failed.
func (c *Client) GetPromptStatus(ctx context.Context, promptID string) *PromptStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return &PromptStatus{Kind: StatusUnknown, Error: err.Error()}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &PromptStatus{Kind: StatusUnknown, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &PromptStatus{Kind: StatusUnknown, Error: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var history map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return &PromptStatus{Kind: StatusUnknown, Error: err.Error()}
	}

	entry, ok := history[promptID]
	if !ok {
		return &PromptStatus{Kind: StatusPending}
	}

	var hs historyStatus
	if err := json.Unmarshal(entry, &hs); err == nil && hs.Status.StatusStr == "error" {
		msg := "execution failed"
		if len(hs.Status.Messages) > 0 {
			msg = fmt.Sprintf("execution failed: %s", string(hs.Status.Messages))
		}
		return &PromptStatus{Kind: StatusError, Data: entry, Error: msg}
	}
	return &PromptStatus{Kind: StatusCompleted, Data: entry}
}

// OutputMediaItem is one resolvable output URL from a completed
// prompt's history record.
type OutputMediaItem struct {
	URL  string
	Type string // image | video | gif
}

type historyOutputs struct {
	Outputs map[string]struct {
		Images []mediaRef `json:"images"`
		Videos []mediaRef `json:"videos"`
		Gifs   []mediaRef `json:"gifs"`
	} `json:"outputs"`
	Status struct {
		ExecutionTime *float64 `json:"execution_time"`
	} `json:"status"`
}

type mediaRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// GetOutputMedia enumerates image/video/gif outputs across all output
// nodes in a completed prompt's history record, building resolvable
// /view URLs.
func (c *Client) GetOutputMedia(data json.RawMessage) ([]OutputMediaItem, error) {
	var parsed historyOutputs
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse history outputs: %w", err)
	}

	var items []OutputMediaItem
	for _, node := range parsed.Outputs {
		for _, kind := range []struct {
			refs []mediaRef
			kind string
		}{
			{node.Images, "image"},
			{node.Videos, "video"},
			{node.Gifs, "gif"},
		} {
			for _, ref := range kind.refs {
				items = append(items, OutputMediaItem{
					URL:  c.viewURL(ref.Filename, ref.Subfolder, ref.Type),
					Type: kind.kind,
				})
			}
		}
	}
	return items, nil
}

// GetExecutionTime extracts the reported execution duration from a
// completed prompt's history record, if present.
func (c *Client) GetExecutionTime(data json.RawMessage) (*float64, error) {
	var parsed historyOutputs
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse history status: %w", err)
	}
	return parsed.Status.ExecutionTime, nil
}

func (c *Client) viewURL(filename, subfolder, mediaType string) string {
	v := url.Values{}
	v.Set("filename", filename)
	v.Set("subfolder", subfolder)
	v.Set("type", mediaType)
	return c.baseURL + "/view?" + v.Encode()
}

// UploadImage uploads raw image bytes and returns the renderer-assigned
// filename.
func (c *Client) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}

	var parsed struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("parse upload response: %w", err)
	}
	if parsed.Name == "" {
		return "", fmt.Errorf("upload response missing name")
	}
	return parsed.Name, nil
}

// GetLoRAs lists LoRA filenames filtered to the configured namespace
// prefix (e.g. "wan2.2/"), in the order the Renderer returns them; the
// list is not sorted.
func (c *Client) GetLoRAs(ctx context.Context, namespace string) ([]string, error) {
	var names []string
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/loras", nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &retryableError{err}
		}
		defer resp.Body.Close()
		if isRetryableStatus(resp.StatusCode) {
			return &retryableError{fmt.Errorf("status %d", resp.StatusCode)}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		var all []string
		if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
			return err
		}
		for _, n := range all {
			if namespace == "" || strings.HasPrefix(n, namespace) {
				names = append(names, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// objectInfoField fetches a single field's enumerated options from
// /object_info/<class>, used by GetCheckpoints/GetSamplers/GetSchedulers.
func (c *Client) objectInfoField(ctx context.Context, class, field string) ([]string, error) {
	var out []string
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/object_info/"+url.PathEscape(class), nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &retryableError{err}
		}
		defer resp.Body.Close()
		if isRetryableStatus(resp.StatusCode) {
			return &retryableError{fmt.Errorf("status %d", resp.StatusCode)}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var raw map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return err
		}
		classInfo, ok := raw[class]
		if !ok {
			return fmt.Errorf("class %s missing from object_info", class)
		}
		var parsed struct {
			Input struct {
				Required map[string]json.RawMessage `json:"required"`
			} `json:"input"`
		}
		if err := json.Unmarshal(classInfo, &parsed); err != nil {
			return err
		}
		fieldRaw, ok := parsed.Input.Required[field]
		if !ok {
			return fmt.Errorf("field %s missing from %s", field, class)
		}
		var tuple []json.RawMessage
		if err := json.Unmarshal(fieldRaw, &tuple); err != nil || len(tuple) == 0 {
			return fmt.Errorf("unexpected shape for %s.%s", class, field)
		}
		return json.Unmarshal(tuple[0], &out)
	})
	return out, err
}

// GetCheckpoints lists available checkpoint filenames.
func (c *Client) GetCheckpoints(ctx context.Context) ([]string, error) {
	return c.objectInfoField(ctx, "CheckpointLoaderSimple", "ckpt_name")
}

// GetSamplers lists available KSampler sampler names.
func (c *Client) GetSamplers(ctx context.Context) ([]string, error) {
	return c.objectInfoField(ctx, "KSampler", "sampler_name")
}

// GetSchedulers lists available KSampler scheduler names.
func (c *Client) GetSchedulers(ctx context.Context) ([]string, error) {
	return c.objectInfoField(ctx, "KSampler", "scheduler")
}
