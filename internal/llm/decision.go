package llm

import (
	"strings"
)

// ReasoningOnly builds the no-op decision used when a vendor emits no
// structured call.
func ReasoningOnly(reasoning string, cost float64) *Decision {
	return &Decision{
		Reasoning:  reasoning,
		ActionType: ActionFinishReasoning,
		Action:     Action{"reasoning": reasoning, "should_stop": false},
		Cost:       cost,
	}
}

// ParseFailure wraps unparseable vendor output in a safe reasoning-only
// decision that still charges the provider's step cost.
func ParseFailure(raw string, cost float64) *Decision {
	d := ReasoningOnly(strings.TrimSpace(raw), cost)
	d.Action["parse_error"] = true
	return d
}

// Exhausted is the terminal-safe decision returned when every provider in a
// chain failed. It is never charged.
func Exhausted(errs []error) *Decision {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	reasoning := "All LLM providers failed: " + strings.Join(msgs, "; ")
	return &Decision{
		Reasoning:  reasoning,
		ActionType: ActionFinishReasoning,
		Action:     Action{"reasoning": "Waiting for provider recovery", "should_stop": false},
		Cost:       0,
	}
}

// FromToolCall normalizes a vendor tool call. Unknown names pass through so
// the dispatcher can surface them as protocol errors; a finish_reasoning call
// without its own reasoning inherits the free text.
func FromToolCall(name string, args Action, text string, cost float64) *Decision {
	if args == nil {
		args = Action{}
	}
	actionType := ActionType(strings.TrimSpace(name))
	reasoning := strings.TrimSpace(text)
	if actionType == ActionFinishReasoning {
		if r := strings.TrimSpace(args.String("reasoning")); r != "" && reasoning == "" {
			reasoning = r
		}
		if _, ok := args["reasoning"]; !ok {
			args["reasoning"] = reasoning
		}
	}
	return &Decision{
		Reasoning:  reasoning,
		ActionType: actionType,
		Action:     args,
		Cost:       cost,
	}
}
