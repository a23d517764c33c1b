// Package arena is a small client for the arenad REST API.
package arena

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout applies to clients created without an http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client talks to one arenad instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// RunRequest is the launch configuration of a run.
type RunRequest struct {
	RunID            string   `json:"run_id,omitempty"`
	Goal             string   `json:"goal"`
	GoalType         string   `json:"goal_type,omitempty"`
	TargetValue      float64  `json:"target_value,omitempty"`
	TimeLimit        int64    `json:"time_limit,omitempty"`
	InitialCredits   *float64 `json:"initial_credits,omitempty"`
	Model            string   `json:"model,omitempty"`
	Constraints      []string `json:"constraints,omitempty"`
	AccountHandle    string   `json:"account_handle,omitempty"`
	Platform         string   `json:"platform,omitempty"`
	ContentURL       string   `json:"content_url,omitempty"`
	VerificationHint string   `json:"verification_hint,omitempty"`
	InboxID          string   `json:"inbox_id,omitempty"`
}

// Run is the server's view of a run.
type Run struct {
	ID          string  `json:"id"`
	Goal        string  `json:"goal"`
	GoalType    string  `json:"goal_type"`
	TargetValue float64 `json:"target_value"`
	Model       string  `json:"model"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Outcome     string  `json:"outcome,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
	ErrorCode   string  `json:"error_code,omitempty"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
	StartedAt   int64   `json:"started_at,omitempty"`
	CompletedAt int64   `json:"completed_at,omitempty"`
}

// Finished reports whether the run reached a terminal status.
func (r Run) Finished() bool { return r.Status == "succeeded" || r.Status == "failed" }

// Event is one entry of a run's event log.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Prompt is a user message queued for a run.
type Prompt struct {
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// ListOptions filters ListRuns. Zero values are omitted.
type ListOptions struct {
	Active    bool
	Statuses  []string
	Limit     int
	Offset    int
	Ascending bool
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("arena api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("arena api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient builds a client for rawURL. A nil httpClient gets a default one.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the key sent as a bearer token.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// SubmitRun creates a run. Resubmitting a known run id returns it unchanged.
func (c *Client) SubmitRun(ctx context.Context, req RunRequest) (Run, error) {
	var r Run
	err := c.send(ctx, http.MethodPost, "/api/v1/runs", nil, req, &r)
	return r, err
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := c.send(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, nil, &r)
	return r, err
}

// ListRuns lists runs, newest first unless opts.Ascending.
func (c *Client) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	q := url.Values{}
	if opts.Active {
		q.Set("active", "true")
	} else if len(opts.Statuses) > 0 {
		q.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Ascending {
		q.Set("order", "asc")
	}
	var out struct {
		Runs []Run `json:"runs"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/runs", q, nil, &out)
	return out.Runs, err
}

// SendPrompt queues a message for the agent of an active run.
func (c *Client) SendPrompt(ctx context.Context, runID, text string) (Prompt, error) {
	var p Prompt
	body := struct {
		Text string `json:"text"`
	}{Text: text}
	err := c.send(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(runID)+"/prompts", nil, body, &p)
	return p, err
}

// Events returns up to limit events of a run, most recent first.
func (c *Client) Events(ctx context.Context, runID string, limit int) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Events []Event `json:"events"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID)+"/events", q, nil, &out)
	return out.Events, err
}

// Wait polls a run until it finishes or ctx is done.
func (c *Client) Wait(ctx context.Context, runID string, every time.Duration) (Run, error) {
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		r, err := c.GetRun(ctx, runID)
		if err != nil {
			return Run{}, err
		}
		if r.Finished() {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
