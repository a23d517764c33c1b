// Package agentmail is the REST client for the agent's own email inbox.
package agentmail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/tools"
)

const (
	defaultBaseURL = "https://api.agentmail.to/v0"
	defaultTimeout = 30 * time.Second
	pageSize       = 50
)

// Config describes the inbox and how to reach it.
type Config struct {
	APIKey  string
	BaseURL string
	InboxID string
	Timeout time.Duration
}

// Client implements tools.Mailer.
type Client struct {
	apiKey     string
	baseURL    string
	inboxID    string
	httpClient *http.Client
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	inbox := strings.TrimSpace(cfg.InboxID)
	if apiKey == "" || inbox == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "email api key and inbox id are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{apiKey: apiKey, baseURL: baseURL, inboxID: inbox, httpClient: &http.Client{Timeout: timeout}}, nil
}

// CheckInbox implements tools.Mailer and returns unread messages.
func (c *Client) CheckInbox(ctx context.Context) ([]tools.Message, error) {
	return c.list(ctx, "unread")
}

// Send implements tools.Mailer.
func (c *Client) Send(ctx context.Context, email tools.Email) (tools.Result, error) {
	if strings.TrimSpace(email.To) == "" {
		return tools.Result{"status": tools.StatusError, "error": "recipient is empty"}, nil
	}
	body := map[string]any{"to": email.To, "subject": email.Subject, "text": email.Body}
	raw, err := c.do(ctx, http.MethodPost, c.inboxPath("/messages/send"), body)
	if err != nil {
		return nil, err
	}
	return tools.Result{
		"status":     tools.StatusSent,
		"to":         email.To,
		"subject":    email.Subject,
		"message_id": gjson.GetBytes(raw, "message_id").String(),
	}, nil
}

// CountPositiveReplies implements tools.Mailer over received messages.
func (c *Client) CountPositiveReplies(ctx context.Context) (int, error) {
	messages, err := c.list(ctx, "received")
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range messages {
		if tools.IsPositive(m.Subject + " " + m.Text) {
			count++
		}
	}
	return count, nil
}

// Close implements tools.Closer.
func (c *Client) Close(context.Context) error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) list(ctx context.Context, label string) ([]tools.Message, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(pageSize))
	if label != "" {
		q.Set("labels", label)
	}
	raw, err := c.do(ctx, http.MethodGet, c.inboxPath("/messages?"+q.Encode()), nil)
	if err != nil {
		return nil, err
	}
	var out []tools.Message
	for _, m := range gjson.GetBytes(raw, "messages").Array() {
		received, _ := time.Parse(time.RFC3339, m.Get("timestamp").String())
		text := m.Get("text").String()
		if text == "" {
			text = m.Get("preview").String()
		}
		out = append(out, tools.Message{
			ID:         m.Get("message_id").String(),
			From:       m.Get("from").String(),
			Subject:    m.Get("subject").String(),
			Text:       text,
			ReceivedAt: received,
		})
	}
	return out, nil
}

func (c *Client) inboxPath(suffix string) string {
	return "/inboxes/" + url.PathEscape(c.inboxID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode email request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "email request timed out")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "email request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("email api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

var (
	_ tools.Mailer = (*Client)(nil)
	_ tools.Closer = (*Client)(nil)
)
