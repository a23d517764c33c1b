// Package browseruse drives a remote browser-automation service: one
// persistent session per run, natural-language tasks polled to completion,
// and a live view URL for spectators.
package browseruse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/tools"
	"Agent-Arena/pkg/logger"
)

const (
	defaultBaseURL      = "https://api.browser-use.com/api/v2"
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 2 * time.Second
)

// Config describes how to reach the automation service.
type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// Client implements tools.Browser.
type Client struct {
	apiKey     string
	baseURL    string
	poll       time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	sessionID string
	liveURL   string
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "browser api key is not configured")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		poll:       poll,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("browser"),
	}, nil
}

// Execute implements tools.Browser. The call blocks until the task reaches a
// terminal status or ctx ends.
func (c *Client) Execute(ctx context.Context, task tools.BrowserTask) (tools.Result, error) {
	if strings.TrimSpace(task.Task) == "" {
		return tools.Result{"status": tools.StatusError, "error": "No task description provided"}, nil
	}
	sessionID, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, http.MethodPost, "/tasks", map[string]any{"task": task.Task, "sessionId": sessionID})
	if err != nil {
		return nil, err
	}
	taskID := gjson.GetBytes(raw, "id").String()
	if taskID == "" {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "browser service returned no task id")
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		raw, err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil)
		if err != nil {
			return nil, err
		}
		switch status := gjson.GetBytes(raw, "status").String(); status {
		case "finished", "stopped", "failed":
			res := tools.Result{
				"status":  tools.StatusCompleted,
				"output":  gjson.GetBytes(raw, "output").String(),
				"task_id": taskID,
				"steps":   len(gjson.GetBytes(raw, "steps").Array()),
			}
			if status != "finished" || gjson.GetBytes(raw, "isSuccess").Type == gjson.False {
				res["status"] = tools.StatusError
				res["error"] = "browser task " + status
			}
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "browser task did not finish")
		case <-ticker.C:
		}
	}
}

// LiveURL implements tools.Browser. It returns the cached URL or asks the
// service for the session details.
func (c *Client) LiveURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	sessionID, live := c.sessionID, c.liveURL
	c.mu.Unlock()
	if live != "" || sessionID == "" {
		return live, nil
	}
	raw, err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return "", err
	}
	live = gjson.GetBytes(raw, "liveUrl").String()
	if live != "" {
		c.mu.Lock()
		c.liveURL = live
		c.mu.Unlock()
	}
	return live, nil
}

// Close implements tools.Browser and stops the session.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID, c.liveURL = "", ""
	c.mu.Unlock()
	defer c.httpClient.CloseIdleConnections()
	if sessionID == "" {
		return nil
	}
	_, err := c.do(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(sessionID), map[string]any{"action": "stop"})
	if err != nil {
		c.logger.Debug("stopping browser session failed", "session_id", sessionID, "error", err)
	}
	return err
}

// Open creates the session ahead of the first task so a live URL exists early.
func (c *Client) Open(ctx context.Context) error {
	_, err := c.ensureSession(ctx)
	return err
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return c.sessionID, nil
	}
	raw, err := c.do(ctx, http.MethodPost, "/sessions", map[string]any{})
	if err != nil {
		return "", err
	}
	c.sessionID = gjson.GetBytes(raw, "id").String()
	if c.sessionID == "" {
		return "", xerrors.New(xerrors.CodeUpstreamFailure, "browser service returned no session id")
	}
	c.liveURL = gjson.GetBytes(raw, "liveUrl").String()
	c.logger.Info("browser session created", "session_id", c.sessionID, "live_url", c.liveURL)
	return c.sessionID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode browser request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build browser request: %w", err)
	}
	req.Header.Set("X-Browser-Use-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "browser request timed out")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "browser request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("browser service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

var _ tools.Browser = (*Client)(nil)
