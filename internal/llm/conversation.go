package llm

import "encoding/json"

// Role tags a conversation turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Turn is one entry of the canonical conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Provider and Raw are set on assistant turns; Raw is only replayed to
	// the provider that produced it.
	Provider   string          `json:"provider,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
}

// DefaultMaxTurns caps a conversation when no limit is configured.
const DefaultMaxTurns = 40

// Conversation is an ordered turn log capped at max. The first turn is kept
// as the anchor and the rest is a sliding window of the latest max-1 turns.
type Conversation struct {
	turns []Turn
	max   int
}

// NewConversation creates an empty conversation.
func NewConversation(max int) *Conversation {
	if max <= 0 {
		max = DefaultMaxTurns
	}
	return &Conversation{max: max}
}

// Append adds a turn and trims to the cap.
func (c *Conversation) Append(turn Turn) {
	c.turns = append(c.turns, turn)
	c.Trim()
}

// Trim enforces the cap.
func (c *Conversation) Trim() {
	c.turns = Truncate(c.turns, c.max)
}

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }

// Max returns the cap.
func (c *Conversation) Max() int { return c.max }

// Turns returns a copy of the turns.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Truncate keeps turns[0] plus the last max-1 turns. The result never aliases
// the input's tail so later appends cannot clobber it.
func Truncate(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	out := make([]Turn, 0, max)
	out = append(out, turns[0])
	if max > 1 {
		out = append(out, turns[len(turns)-(max-1):]...)
	}
	return out
}
