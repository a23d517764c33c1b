package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	xerrors "Agent-Arena/internal/errors"
)

// ActionType enumerates the tools an agent may pick from.
type ActionType string

const (
	ActionBrowserTask     ActionType = "browser_task"
	ActionSendEmail       ActionType = "send_email"
	ActionPayToAddress    ActionType = "send_payment_to_address"
	ActionPayToEmail      ActionType = "send_payment_to_email"
	ActionFinishReasoning ActionType = "finish_reasoning"
)

// ActionTypes lists the vocabulary in declaration order.
var ActionTypes = []ActionType{
	ActionBrowserTask,
	ActionSendEmail,
	ActionPayToAddress,
	ActionPayToEmail,
	ActionFinishReasoning,
}

// Valid reports whether a is part of the vocabulary.
func (a ActionType) Valid() bool {
	switch a {
	case ActionBrowserTask, ActionSendEmail, ActionPayToAddress, ActionPayToEmail, ActionFinishReasoning:
		return true
	default:
		return false
	}
}

// Action is the opaque payload attached to an ActionType.
type Action map[string]any

// String returns the value at key rendered as a string.
func (a Action) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Bool returns the value at key interpreted as a boolean.
func (a Action) Bool(key string) bool {
	switch t := a[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	default:
		return false
	}
}

// Signature identifies the intent of an action for loop detection: the task
// text when present, otherwise the canonical JSON of the payload.
func (a Action) Signature() string {
	if task := strings.TrimSpace(a.String("task")); task != "" {
		return task
	}
	if len(a) == 0 {
		return ""
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(a.String(k))
		b.WriteByte(';')
	}
	return b.String()
}

// Clone returns a shallow copy.
func (a Action) Clone() Action {
	if a == nil {
		return nil
	}
	out := make(Action, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Decision is the normalized output of one thinking step.
type Decision struct {
	Reasoning  string     `json:"reasoning"`
	ActionType ActionType `json:"action_type"`
	Action     Action     `json:"action"`
	Cost       float64    `json:"cost"`
	// ToolCallID correlates the tool result with the vendor's call.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// RawProviderTurn is the vendor-native assistant turn.
	RawProviderTurn json.RawMessage `json:"raw_provider_turn,omitempty"`
	// Provider names the adapter that produced the decision.
	Provider string `json:"provider,omitempty"`
}

// ShouldStop reports a self-declared stop.
func (d Decision) ShouldStop() bool {
	return d.ActionType == ActionFinishReasoning && d.Action.Bool("should_stop")
}

// AssistantTurn converts the decision into the turn appended to the conversation.
func (d Decision) AssistantTurn() Turn {
	return Turn{
		Role:       RoleAssistant,
		Content:    d.Reasoning,
		Provider:   d.Provider,
		Raw:        d.RawProviderTurn,
		ToolCallID: d.ToolCallID,
		ToolName:   string(d.ActionType),
	}
}

// Request is what a provider receives for one think call.
type Request struct {
	System string
	Turns  []Turn
}

// LastUserContent returns the most recent user-role content.
func (r Request) LastUserContent() string {
	for i := len(r.Turns) - 1; i >= 0; i-- {
		if r.Turns[i].Role == RoleUser {
			return r.Turns[i].Content
		}
	}
	return ""
}

// Provider adapts one vendor API to the canonical Decision contract.
type Provider interface {
	Name() string
	Think(ctx context.Context, req Request) (*Decision, error)
}

// Completer issues a single plain-text completion.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const (
	CodeProviderFailure    xerrors.Code = "PROVIDER_FAILURE"
	CodeProviderProtocol   xerrors.Code = "PROVIDER_PROTOCOL"
	CodeProvidersExhausted xerrors.Code = "PROVIDERS_EXHAUSTED"
	CodeUnknownModel       xerrors.Code = "UNKNOWN_MODEL"
)

func init() {
	xerrors.Register(CodeProviderFailure, xerrors.Attributes{
		Message:   "provider call failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeProviderProtocol, xerrors.Attributes{
		Message:  "provider returned an unusable response",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeProvidersExhausted, xerrors.Attributes{
		Message:   "all providers failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeUnknownModel, xerrors.Attributes{
		Message:  "unknown model key",
		Severity: xerrors.SeverityCritical,
	})
}
