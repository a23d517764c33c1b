package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Agent-Arena/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	client.httpClient = srv.Client()
	return client
}

func answer(text string) []byte {
	out, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
		}},
	})
	return out
}

func TestThinkSendsOnlyLatestUserTurn(t *testing.T) {
	var body struct {
		Contents []content `json:"contents"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write(answer(`{"reasoning":"browse","action_type":"browser_task","action":{"task":"open site"}}`))
	})

	d, err := client.Think(context.Background(), llm.Request{Turns: []llm.Turn{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "ok"},
		{Role: llm.RoleToolResult, Content: "done", ToolCallID: "x"},
		{Role: llm.RoleUser, Content: "second"},
	}})
	require.NoError(t, err)
	require.Len(t, body.Contents, 1)
	assert.Equal(t, "second", body.Contents[0].Parts[0].Text)

	assert.Equal(t, llm.ActionBrowserTask, d.ActionType)
	assert.Equal(t, "open site", d.Action.String("task"))
	assert.Equal(t, defaultCost, d.Cost)
	assert.Empty(t, d.ToolCallID)
	assert.Equal(t, Name, d.Provider)
}

func TestThinkInvalidJSONDegrades(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(answer("I think I should browse"))
	})
	d, err := client.Think(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, llm.ActionFinishReasoning, d.ActionType)
	assert.Equal(t, "I think I should browse", d.Reasoning)
	assert.Equal(t, defaultCost, d.Cost)
	assert.True(t, d.Action.Bool("parse_error"))
}

func TestThinkMissingCandidatesDegrades(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	})
	d, err := client.Think(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, llm.ActionFinishReasoning, d.ActionType)
	assert.True(t, strings.Contains(d.Reasoning, "SAFETY"))
}

func TestThinkHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	})
	_, err := client.Think(context.Background(), llm.Request{})
	require.Error(t, err)
}

func TestResponseSchemaCoversAllArguments(t *testing.T) {
	schema := responseSchema()
	props := schema["properties"].(map[string]any)
	action := props["action"].(map[string]any)["properties"].(map[string]any)
	for _, key := range []string{"task", "to", "subject", "body", "to_address", "amount", "memo", "email", "reasoning", "should_stop"} {
		assert.Contains(t, action, key)
	}
	assert.Equal(t, map[string]any{"type": "NUMBER"}, action["amount"])
}
