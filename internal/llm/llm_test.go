package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTurns(n int) []Turn {
	turns := make([]Turn, n)
	for i := range turns {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		turns[i] = Turn{Role: role, Content: fmt.Sprintf("turn-%d", i)}
	}
	return turns
}

func TestTruncateKeepsAnchorAndTail(t *testing.T) {
	for _, max := range []int{1, 2, 3, 7, 20} {
		for n := max + 1; n < max+15; n++ {
			original := buildTurns(n)
			got := Truncate(original, max)

			require.Len(t, got, max, "n=%d max=%d", n, max)
			assert.Equal(t, original[0], got[0])
			assert.Equal(t, original[n-(max-1):], got[1:])
		}
	}
}

func TestTruncateUnderCapIsIdentity(t *testing.T) {
	turns := buildTurns(4)
	assert.Equal(t, turns, Truncate(turns, 4))
	assert.Equal(t, turns, Truncate(turns, 0))
}

func TestConversationAppendHoldsCap(t *testing.T) {
	conv := NewConversation(5)
	for _, turn := range buildTurns(12) {
		conv.Append(turn)
		require.LessOrEqual(t, conv.Len(), 5)
	}
	turns := conv.Turns()
	assert.Equal(t, "turn-0", turns[0].Content)
	assert.Equal(t, "turn-11", turns[len(turns)-1].Content)
	assert.Equal(t, "turn-8", turns[1].Content)
}

func TestActionSignature(t *testing.T) {
	assert.Equal(t, "post a tweet", Action{"task": " post a tweet "}.Signature())

	a := Action{"to": "a@b.c", "subject": "hi", "body": "x"}
	b := Action{"body": "x", "subject": "hi", "to": "a@b.c"}
	assert.Equal(t, a.Signature(), b.Signature())
	assert.NotEqual(t, a.Signature(), Action{"to": "z@b.c", "subject": "hi", "body": "x"}.Signature())
}

func TestActionTypeValid(t *testing.T) {
	for _, at := range ActionTypes {
		assert.True(t, at.Valid(), string(at))
	}
	assert.False(t, ActionType("make_payment").Valid())
	assert.Len(t, Tools(), len(ActionTypes))
}

func TestExhaustedDecisionIsFreeAndSafe(t *testing.T) {
	d := Exhausted([]error{errors.New("anthropic: 529"), errors.New("openai: timeout")})
	assert.Equal(t, ActionFinishReasoning, d.ActionType)
	assert.Zero(t, d.Cost)
	assert.False(t, d.ShouldStop())
	assert.Contains(t, d.Reasoning, "anthropic: 529")
	assert.Contains(t, d.Reasoning, "openai: timeout")
}

func TestFromToolCallFinishReasoning(t *testing.T) {
	d := FromToolCall("finish_reasoning", Action{"reasoning": "done", "should_stop": true}, "", 0.01)
	assert.Equal(t, "done", d.Reasoning)
	assert.True(t, d.ShouldStop())

	d = FromToolCall("finish_reasoning", nil, "thinking out loud", 0.01)
	assert.Equal(t, "thinking out loud", d.Action.String("reasoning"))
	assert.False(t, d.ShouldStop())
}

func TestParseFailureCharges(t *testing.T) {
	d := ParseFailure("{not json", 0.005)
	assert.Equal(t, ActionFinishReasoning, d.ActionType)
	assert.Equal(t, 0.005, d.Cost)
	assert.Equal(t, "{not json", d.Reasoning)
}
