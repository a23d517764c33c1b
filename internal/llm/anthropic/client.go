package anthropic

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
	Name = "anthropic"

	defaultBaseURL   = "https://api.anthropic.com"
	defaultModelName = "claude-sonnet-4-5-20250929"
	defaultTimeout   = 90 * time.Second
	defaultCost      = 0.01
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"

	maxResponseBytes = 4 << 20
)

// Config describes how to reach the Messages API.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Cost      float64
}

// Client calls the Messages API with tool use.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	cost       float64
	httpClient *http.Client
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "anthropic api key is not configured")
	}
	c := &Client{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: cfg.MaxTokens,
		cost:      cfg.Cost,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModelName
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.cost <= 0 {
		c.cost = defaultCost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.httpClient = &http.Client{Timeout: timeout}
	return c, nil
}

// Name implements llm.Provider.
func (c *Client) Name() string { return Name }

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// Think implements llm.Provider.
func (c *Client) Think(ctx context.Context, req llm.Request) (*llm.Decision, error) {
	body := map[string]any{
		"model":       c.model,
		"max_tokens":  c.maxTokens,
		"system":      req.System,
		"messages":    buildMessages(req.Turns),
		"tools":       toolDeclarations(),
		"tool_choice": map[string]string{"type": "any"},
	}
	raw, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	var resp messagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		d := llm.ParseFailure(string(raw), c.cost)
		d.Provider = Name
		return d, nil
	}
	return c.parseContent(resp.Content), nil
}

// Complete issues a tool-less completion and returns the joined text blocks.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	body := map[string]any{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"system":     system,
		"messages":   []message{{Role: "user", Content: []contentBlock{{Type: "text", Text: prompt}}}},
	}
	raw, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	var resp messagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", xerrors.Wrap(llm.CodeProviderProtocol, err, "decode anthropic completion")
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", xerrors.New(llm.CodeProviderProtocol, "anthropic completion has no text")
	}
	return strings.Join(parts, "\n"), nil
}

func (c *Client) parseContent(blocks []contentBlock) *llm.Decision {
	var texts []string
	var call *contentBlock
	kept := make([]contentBlock, 0, len(blocks))
	for i := range blocks {
		switch blocks[i].Type {
		case "text":
			if strings.TrimSpace(blocks[i].Text) == "" {
				continue
			}
			texts = append(texts, blocks[i].Text)
			kept = append(kept, blocks[i])
		case "tool_use":
			if call == nil {
				call = &blocks[i]
				kept = append(kept, blocks[i])
			}
		}
	}
	reasoning := strings.TrimSpace(strings.Join(texts, "\n"))

	if call == nil {
		d := llm.ReasoningOnly(reasoning, c.cost)
		d.Provider = Name
		if len(kept) > 0 {
			d.RawProviderTurn, _ = json.Marshal(message{Role: "assistant", Content: kept})
		}
		return d
	}

	var args llm.Action
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			raw := reasoning
			if raw == "" {
				raw = string(call.Input)
			}
			d := llm.ParseFailure(raw, c.cost)
			d.Provider = Name
			return d
		}
	}
	d := llm.FromToolCall(call.Name, args, reasoning, c.cost)
	d.Provider = Name
	d.ToolCallID = call.ID
	d.RawProviderTurn, _ = json.Marshal(message{Role: "assistant", Content: kept})
	return d
}

// buildMessages converts turns into alternating user/assistant messages.
// Native assistant turns are replayed block for block; tool results become
// tool_result blocks only when their tool_use is part of the replay.
func buildMessages(turns []llm.Turn) []message {
	var out []message
	push := func(role string, blocks ...contentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, message{Role: role, Content: blocks})
	}
	textBlock := func(s string) contentBlock {
		if strings.TrimSpace(s) == "" {
			s = "(empty)"
		}
		return contentBlock{Type: "text", Text: s}
	}

	open := map[string]bool{}
	for _, turn := range turns {
		switch turn.Role {
		case llm.RoleUser:
			push("user", textBlock(turn.Content))
		case llm.RoleAssistant:
			if turn.Provider == Name && len(turn.Raw) > 0 {
				var native message
				if err := json.Unmarshal(turn.Raw, &native); err == nil && len(native.Content) > 0 {
					push("assistant", native.Content...)
					if turn.ToolCallID != "" {
						open[turn.ToolCallID] = true
					}
					continue
				}
			}
			push("assistant", textBlock(turn.Content))
		case llm.RoleToolResult:
			if open[turn.ToolCallID] {
				delete(open, turn.ToolCallID)
				push("user", contentBlock{Type: "tool_result", ToolUseID: turn.ToolCallID, Content: turn.Content})
				continue
			}
			push("user", textBlock("Tool result: "+turn.Content))
		}
	}
	// a replayed tool_use must be answered before anything else in the next
	// user message, so pull tool_result blocks to the front
	for i := range out {
		if out[i].Role == "user" {
			out[i].Content = resultsFirst(out[i].Content)
		}
	}
	return out
}

func resultsFirst(blocks []contentBlock) []contentBlock {
	ordered := make([]contentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "tool_result" {
			ordered = append(ordered, b)
		}
	}
	for _, b := range blocks {
		if b.Type != "tool_result" {
			ordered = append(ordered, b)
		}
	}
	return ordered
}

func toolDeclarations() []map[string]any {
	specs := llm.Tools()
	out := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		out = append(out, map[string]any{
			"name":         string(spec.Name),
			"description":  spec.Description,
			"input_schema": spec.Parameters,
		})
	}
	return out
}

func (c *Client) post(ctx context.Context, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "anthropic request timed out")
		}
		return nil, xerrors.Wrap(llm.CodeProviderFailure, err, "anthropic request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(llm.CodeProviderFailure,
			fmt.Sprintf("anthropic returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)))
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, xerrors.Wrap(llm.CodeProviderFailure, err, "read anthropic response")
	}
	return raw, nil
}

var (
	_ llm.Provider  = (*Client)(nil)
	_ llm.Completer = (*Client)(nil)
)
