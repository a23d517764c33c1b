package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
)

func TestPromptEncodingRoundTrip(t *testing.T) {
	created := time.Date(2026, 6, 1, 8, 0, 0, 123, time.UTC)
	p := events.Prompt{ID: "p1", RunID: "r1", Text: "try a newsletter", CreatedAt: created}

	fields := map[string]string{}
	for k, v := range encodePrompt(p) {
		fields[k] = v.(string)
	}
	got, ok := decodePrompt(fields)
	require.True(t, ok)
	assert.Equal(t, p, got)

	acked := created.Add(time.Minute)
	p.AcknowledgedAt = &acked
	fields["acknowledged_at"] = encodePrompt(p)["acknowledged_at"].(string)
	got, ok = decodePrompt(fields)
	require.True(t, ok)
	require.NotNil(t, got.AcknowledgedAt)
	assert.True(t, acked.Equal(*got.AcknowledgedAt))
}

func TestDecodePromptSkipsPartialRecords(t *testing.T) {
	_, ok := decodePrompt(map[string]string{"id": "p1"})
	assert.False(t, ok)
	_, ok = decodePrompt(map[string]string{})
	assert.False(t, ok)
}

func TestKeysAreNamespaced(t *testing.T) {
	inbox := newPromptInbox(nil, Config{})
	assert.Equal(t, "arena:prompts:prompt:p1", inbox.promptKey("p1"))
	assert.Equal(t, "arena:prompts:run:r1:pending", inbox.pendingKey("r1"))

	custom := newPromptInbox(nil, Config{Prefix: "t"})
	assert.Equal(t, "t:prompt:p1", custom.promptKey("p1"))
}

func TestNewPromptInboxRequiresAddress(t *testing.T) {
	_, err := NewPromptInbox(context.Background(), Config{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}
