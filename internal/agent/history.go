package agent

import (
	"encoding/json"

	"Agent-Arena/internal/llm"
	"Agent-Arena/internal/tools"
)

const (
	// HistoryCapacity bounds the action-record ring buffer.
	HistoryCapacity = 20
	// LoopWindow is how many identical trailing records count as stuck.
	LoopWindow = 3
	// recentActions is how many records the prompt shows.
	recentActions = 5
)

// StuckHint is surfaced to the model when the loop detector fires.
const StuckHint = "You appear stuck repeating the same action. Try a completely different approach or strategy."

// ActionRecord is one tick's decision and its outcome.
type ActionRecord struct {
	ActionType llm.ActionType `json:"action_type"`
	Action     llm.Action     `json:"action"`
	Result     tools.Result   `json:"result"`
	Reasoning  string         `json:"reasoning"`
}

// History is a fixed-size ring of ActionRecords, oldest evicted first. It is
// owned by a single loop and is not safe for concurrent use.
type History struct {
	buf   []ActionRecord
	start int
	size  int
}

// NewHistory creates a ring with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{buf: make([]ActionRecord, capacity)}
}

// Add appends rec, evicting the oldest record when full.
func (h *History) Add(rec ActionRecord) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = rec
		h.size++
		return
	}
	h.buf[h.start] = rec
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of stored records.
func (h *History) Len() int { return h.size }

// Records returns the stored records oldest first.
func (h *History) Records() []ActionRecord {
	return h.Recent(h.size)
}

// Recent returns up to n of the newest records, oldest first.
func (h *History) Recent(n int) []ActionRecord {
	if n > h.size {
		n = h.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]ActionRecord, 0, n)
	for i := h.size - n; i < h.size; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

// DetectLoop returns StuckHint when the last LoopWindow records share both
// action type and action signature, and "" otherwise.
func (h *History) DetectLoop() string {
	last := h.Recent(LoopWindow)
	if len(last) < LoopWindow {
		return ""
	}
	kind, sig := last[0].ActionType, last[0].Action.Signature()
	for _, rec := range last[1:] {
		if rec.ActionType != kind || rec.Action.Signature() != sig {
			return ""
		}
	}
	return StuckHint
}

// summarize renders an action for prompts and status events: the task text
// when present, otherwise the payload as JSON.
func summarize(action llm.Action, max int) string {
	text := action.String("task")
	if text == "" {
		raw, err := json.Marshal(action)
		if err != nil || len(action) == 0 {
			text = "{}"
		} else {
			text = string(raw)
		}
	}
	return clip(text, max)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
