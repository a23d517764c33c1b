// Package gemini adapts the generateContent API to the canonical Decision
// contract. The API is used single-shot: only the latest user turn is sent,
// and the action is requested as a JSON document constrained by a response
// schema instead of native function calling.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/llm"
)

const (
	// Name identifies this adapter in decisions.
	Name = "gemini"

	defaultBaseURL   = "https://generativelanguage.googleapis.com"
	defaultModelName = "gemini-2.0-flash"
	defaultTimeout   = 60 * time.Second
	defaultCost      = 0.005

	maxResponseBytes = 4 << 20
)

// Config describes how to reach the generateContent API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Cost    float64
}

// Client calls generateContent with a JSON response schema.
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
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "gemini api key is not configured")
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:   strings.TrimSpace(cfg.Model),
		cost:    cfg.Cost,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModelName
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

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

const answerFormat = "Respond with a single JSON object with the fields " +
	"\"reasoning\" (string), \"action_type\" (one of: %s) and \"action\" (the arguments of that action)."

// Think implements llm.Provider. The conversation is reduced to its most
// recent user content; earlier turns and tool results are not sent.
func (c *Client) Think(ctx context.Context, req llm.Request) (*llm.Decision, error) {
	prompt := req.LastUserContent()
	if strings.TrimSpace(prompt) == "" {
		prompt = "Decide your next action."
	}
	body := map[string]any{
		"systemInstruction": content{Parts: []part{{Text: systemText(req.System)}}},
		"contents":          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		"generationConfig": map[string]any{
			"responseMimeType": "application/json",
			"responseSchema":   responseSchema(),
		},
	}
	raw, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	text, ok := candidateText(raw)
	if !ok {
		return c.failure(string(raw)), nil
	}
	return c.parseAnswer(text), nil
}

// Complete issues a plain generation with a system instruction.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	body := map[string]any{
		"contents":         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		"generationConfig": map[string]any{"temperature": 0},
	}
	if strings.TrimSpace(system) != "" {
		body["systemInstruction"] = content{Parts: []part{{Text: system}}}
	}
	raw, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	text, ok := candidateText(raw)
	if !ok {
		return "", xerrors.New(llm.CodeProviderProtocol, "gemini completion has no candidate text")
	}
	return text, nil
}

func (c *Client) parseAnswer(text string) *llm.Decision {
	text = strings.TrimSpace(text)
	if !gjson.Valid(text) {
		return c.failure(text)
	}
	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return c.failure(text)
	}
	reasoning := parsed.Get("reasoning").String()
	actionType := strings.TrimSpace(parsed.Get("action_type").String())
	if actionType == "" {
		d := llm.ReasoningOnly(strings.TrimSpace(reasoning), c.cost)
		d.Provider = Name
		return d
	}
	var args llm.Action
	if action := parsed.Get("action"); action.IsObject() {
		if err := json.Unmarshal([]byte(action.Raw), &args); err != nil {
			return c.failure(text)
		}
	}
	d := llm.FromToolCall(actionType, args, reasoning, c.cost)
	d.Provider = Name
	return d
}

func (c *Client) failure(raw string) *llm.Decision {
	d := llm.ParseFailure(raw, c.cost)
	d.Provider = Name
	return d
}

func candidateText(raw []byte) (string, bool) {
	if !gjson.ValidBytes(raw) {
		return "", false
	}
	parts := gjson.GetBytes(raw, "candidates.0.content.parts")
	if !parts.IsArray() {
		return "", false
	}
	var texts []string
	for _, p := range parts.Array() {
		if t := p.Get("text"); t.Exists() {
			texts = append(texts, t.String())
		}
	}
	if len(texts) == 0 {
		return "", false
	}
	return strings.Join(texts, ""), true
}

func systemText(system string) string {
	names := make([]string, 0, len(llm.ActionTypes))
	for _, at := range llm.ActionTypes {
		names = append(names, string(at))
	}
	format := fmt.Sprintf(answerFormat, strings.Join(names, ", "))
	if strings.TrimSpace(system) == "" {
		return format
	}
	return system + "\n\n" + format
}

// responseSchema flattens every tool's arguments into one optional-property
// object, since the schema dialect has no oneOf.
func responseSchema() map[string]any {
	props := map[string]any{}
	for _, spec := range llm.Tools() {
		declared, _ := spec.Parameters["properties"].(map[string]any)
		for name, prop := range declared {
			if _, seen := props[name]; seen {
				continue
			}
			p, _ := prop.(map[string]any)
			typ, _ := p["type"].(string)
			props[name] = map[string]any{"type": strings.ToUpper(typ)}
		}
	}
	names := make([]string, 0, len(llm.ActionTypes))
	for _, at := range llm.ActionTypes {
		names = append(names, string(at))
	}
	sort.Strings(names)
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"reasoning":   map[string]any{"type": "STRING"},
			"action_type": map[string]any{"type": "STRING", "enum": names},
			"action":      map[string]any{"type": "OBJECT", "properties": props},
		},
		"required": []string{"reasoning", "action_type", "action"},
	}
}

func (c *Client) post(ctx context.Context, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "gemini request timed out")
		}
		return nil, xerrors.Wrap(llm.CodeProviderFailure, err, "gemini request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(llm.CodeProviderFailure,
			fmt.Sprintf("gemini returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)))
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, xerrors.Wrap(llm.CodeProviderFailure, err, "read gemini response")
	}
	return raw, nil
}

var (
	_ llm.Provider  = (*Client)(nil)
	_ llm.Completer = (*Client)(nil)
)
