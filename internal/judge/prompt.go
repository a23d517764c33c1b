package judge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"Agent-Arena/internal/events"
)

// DefaultMaxEvents bounds how many events reach the judge prompt.
const DefaultMaxEvents = 30

const systemPrompt = "Respond ONLY with valid JSON. No markdown, no explanation, no code fences. " +
	"The JSON must have these keys: progress_pct (number 0-100), " +
	"evidence (array of strings), goal_achieved (boolean), reasoning (string)."

const promptTemplate = `You are an impartial judge evaluating an AI agent's progress toward a goal.
Based on the agent's action logs, score progress from 0 to 100.

Be evidence-based: only credit progress you can verify from the logs.
If the agent has been repeating actions without progress, score accordingly.
If the agent claims success but logs don't confirm it, remain skeptical.

Goal description: %s
Goal type: %s
Target value: %s
Verification hint: %s

Time elapsed: %.0f minutes of %.0f total

Agent event logs (most recent first):
%s
`

// IntervalFor returns how often a run with the given time budget is judged.
func IntervalFor(timeLimit time.Duration) time.Duration {
	switch {
	case timeLimit <= time.Hour:
		return 2 * time.Minute
	case timeLimit <= 4*time.Hour:
		return 5 * time.Minute
	case timeLimit <= 24*time.Hour:
		return 30 * time.Minute
	default:
		return 24 * time.Hour
	}
}

// BuildPrompt renders the judge prompt for run.
func BuildPrompt(run Run, evs []events.Event, elapsed time.Duration, maxEvents int) string {
	goalType := run.GoalType
	if goalType == "" {
		goalType = "general"
	}
	return fmt.Sprintf(promptTemplate,
		run.Goal,
		goalType,
		formatNumber(run.TargetValue),
		run.VerificationHint,
		elapsed.Minutes(),
		run.TimeLimit.Minutes(),
		FormatEvents(evs, maxEvents),
	)
}

// FormatEvents renders up to max events, one line each, in the given order.
func FormatEvents(evs []events.Event, max int) string {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	if len(evs) > max {
		evs = evs[:max]
	}
	lines := make([]string, 0, len(evs))
	for _, ev := range evs {
		lines = append(lines, formatEvent(ev))
	}
	if len(lines) == 0 {
		return "(no events yet)"
	}
	return strings.Join(lines, "\n")
}

func formatEvent(ev events.Event) string {
	p := ev.Payload
	switch ev.Type {
	case events.TypeReasoning:
		actionType := str(p["action_type"])
		if actionType == "" {
			actionType = "?"
		}
		return fmt.Sprintf("[reasoning] %s: %s -> %s", actionType, clip(str(p["reasoning"]), 200), clip(str(p["result"]), 150))
	case events.TypeStatus:
		return fmt.Sprintf("[status] step=%s %s", str(p["step"]), str(p["status"]))
	case events.TypeEmail, events.TypePayment:
		raw, _ := json.Marshal(p)
		return fmt.Sprintf("[%s] %s", ev.Type, clip(string(raw), 200))
	default:
		return fmt.Sprintf("[%s] %s", ev.Type, clip(fmt.Sprint(p), 200))
	}
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return formatNumber(t)
	case map[string]any, []any:
		raw, _ := json.Marshal(t)
		return string(raw)
	default:
		return fmt.Sprint(t)
	}
}

func formatNumber(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", f), "0"), ".")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
