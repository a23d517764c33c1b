package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/llm"
)

const (
	// Name identifies this adapter in decisions and raw turns.
	Name = "openai"

	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o"
	defaultTimeout   = 60 * time.Second
	defaultCost      = 0.01

	maxResponseBytes = 4 << 20
	maxRawReasoning  = 2000
)

// Config describes how to reach the Chat Completions API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// Cost is the credit charge of one think call.
	Cost float64
}

// Client calls the Chat Completions API with function calling.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	cost       float64
	httpClient *http.Client
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "openai api key is not configured")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cost := cfg.Cost
	if cost <= 0 {
		cost = defaultCost
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		cost:       cost,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name implements llm.Provider.
func (c *Client) Name() string { return Name }

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func text(s string) *string { return &s }

// Think implements llm.Provider.
func (c *Client) Think(ctx context.Context, req llm.Request) (*llm.Decision, error) {
	body := map[string]any{
		"model":               c.model,
		"messages":            buildMessages(req),
		"tools":               toolDeclarations(),
		"tool_choice":         "required",
		"parallel_tool_calls": false,
	}
	raw, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	var resp completionResponse
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Choices) == 0 {
		d := llm.ParseFailure(truncate(string(raw), maxRawReasoning), c.cost)
		d.Provider = Name
		return d, nil
	}
	return c.parseMessage(resp.Choices[0].Message), nil
}

// Complete issues a tool-less completion.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []message{
			{Role: "system", Content: text(system)},
			{Role: "user", Content: text(prompt)},
		},
		"temperature": 0,
	}
	raw, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	var resp completionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", xerrors.Wrap(llm.CodeProviderProtocol, err, "decode openai completion")
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return "", xerrors.New(llm.CodeProviderProtocol, "openai completion is empty")
	}
	return *resp.Choices[0].Message.Content, nil
}

func (c *Client) parseMessage(msg message) *llm.Decision {
	content := ""
	if msg.Content != nil {
		content = strings.TrimSpace(*msg.Content)
	}
	if len(msg.ToolCalls) == 0 {
		d := llm.ReasoningOnly(content, c.cost)
		d.Provider = Name
		d.RawProviderTurn, _ = json.Marshal(message{Role: "assistant", Content: text(content)})
		return d
	}

	// Only the first call is answered, so only the first call is replayed.
	call := msg.ToolCalls[0]
	var args llm.Action
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		raw := content
		if raw == "" {
			raw = call.Function.Arguments
		}
		d := llm.ParseFailure(raw, c.cost)
		d.Provider = Name
		d.RawProviderTurn, _ = json.Marshal(message{Role: "assistant", Content: text(raw)})
		return d
	}

	d := llm.FromToolCall(call.Function.Name, args, content, c.cost)
	d.Provider = Name
	d.ToolCallID = call.ID
	d.RawProviderTurn, _ = json.Marshal(message{
		Role:      "assistant",
		Content:   msg.Content,
		ToolCalls: []toolCall{call},
	})
	return d
}

// buildMessages replays native assistant turns and links tool results to
// their call ids. A result whose call is not in the replayed history becomes
// plain user text.
func buildMessages(req llm.Request) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(req.Turns)+1)
	add := func(m message) {
		encoded, _ := json.Marshal(m)
		out = append(out, encoded)
	}
	if strings.TrimSpace(req.System) != "" {
		add(message{Role: "system", Content: text(req.System)})
	}

	open := map[string]bool{}
	for _, turn := range req.Turns {
		switch turn.Role {
		case llm.RoleUser:
			add(message{Role: "user", Content: text(turn.Content)})
		case llm.RoleAssistant:
			if turn.Provider == Name && len(turn.Raw) > 0 {
				out = append(out, turn.Raw)
				if turn.ToolCallID != "" {
					open[turn.ToolCallID] = true
				}
				continue
			}
			content := turn.Content
			if strings.TrimSpace(content) == "" {
				content = "(no reasoning)"
			}
			add(message{Role: "assistant", Content: text(content)})
		case llm.RoleToolResult:
			if open[turn.ToolCallID] {
				delete(open, turn.ToolCallID)
				add(message{Role: "tool", ToolCallID: turn.ToolCallID, Content: text(turn.Content)})
				continue
			}
			add(message{Role: "user", Content: text("Tool result: " + turn.Content)})
		}
	}
	return out
}

func toolDeclarations() []map[string]any {
	specs := llm.Tools()
	out := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        string(spec.Name),
				"description": spec.Description,
				"parameters":  spec.Parameters,
			},
		})
	}
	return out
}

func (c *Client) post(ctx context.Context, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode openai request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build openai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "openai request timed out")
		}
		return nil, xerrors.Wrap(llm.CodeProviderFailure, err, "openai request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(llm.CodeProviderFailure,
			fmt.Sprintf("openai returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)))
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, xerrors.Wrap(llm.CodeProviderFailure, err, "read openai response")
	}
	return raw, nil
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

var (
	_ llm.Provider  = (*Client)(nil)
	_ llm.Completer = (*Client)(nil)
)
