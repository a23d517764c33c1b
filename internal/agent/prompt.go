package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"Agent-Arena/internal/memory"
	"Agent-Arena/internal/verifier"
)

// SystemPrompt frames every think call.
const SystemPrompt = `You are an autonomous AI agent competing in the Agent Arena. Your job is to achieve the assigned goal as efficiently as possible using the tools available to you.

You have access to:
- browser_task: Execute high-level browser tasks by describing what you want to accomplish
- send_email: Send emails from your agent email address
- send_payment_to_address: Send USDC from your agent wallet to a wallet address
- send_payment_to_email: Send USDC to an email address, claimable by the recipient
- finish_reasoning: Think through strategy without taking action, or stop the run with should_stop

Strategy guidelines:
- Break complex goals into smaller steps
- After each action, assess whether it moved you closer to the goal
- If you're stuck, try a completely different approach
- Use browser_task with clear, specific instructions (e.g. "Go to twitter.com and post a tweet about AI agents")
- Respect every constraint you are given; blocked actions waste a turn
- You are being watched live. Spectators can see your browser and bet on your success`

const promptClosing = "Decide your next action. Use exactly one tool."

// promptContext is everything gathered for one user turn.
type promptContext struct {
	Goal         string
	Constraints  []string
	Remaining    time.Duration
	State        verifier.State
	Balance      decimal.Decimal
	MessageCount int
	Memory       []memory.Hit
	Suggestions  []string
	Recent       []ActionRecord
	StuckHint    string
}

// buildUserPrompt renders the labelled prompt parts separated by blank lines.
func buildUserPrompt(pc promptContext) string {
	parts := []string{"GOAL: " + pc.Goal}
	if len(pc.Constraints) > 0 {
		parts = append(parts, "CONSTRAINTS:\n"+bullets(pc.Constraints))
	}
	parts = append(parts,
		"TIME REMAINING: "+pc.Remaining.Round(time.Second).String(),
		fmt.Sprintf("PROGRESS: %s / %s (%s)", formatNumber(pc.State.CurrentProgress), formatNumber(pc.State.TargetValue), pc.State.GoalType),
		"WALLET BALANCE: $"+pc.Balance.StringFixed(2),
	)
	if pc.MessageCount > 0 {
		parts = append(parts, fmt.Sprintf("RECENT EMAILS: %d messages", pc.MessageCount))
	}
	if len(pc.Memory) > 0 {
		lines := make([]string, 0, len(pc.Memory))
		for _, hit := range pc.Memory {
			lines = append(lines, hit.Content)
		}
		parts = append(parts, "MEMORY:\n"+bullets(lines))
	}
	if len(pc.Suggestions) > 0 {
		parts = append(parts, "USER SUGGESTIONS:\n"+bullets(pc.Suggestions))
	}
	if len(pc.Recent) > 0 {
		lines := make([]string, 0, len(pc.Recent))
		for _, rec := range pc.Recent {
			lines = append(lines, fmt.Sprintf("%s: %s", rec.ActionType, summarize(rec.Action, 200)))
		}
		parts = append(parts, "RECENT ACTIONS:\n"+bullets(lines))
	}
	if pc.StuckHint != "" {
		parts = append(parts, "WARNING: "+pc.StuckHint)
	}
	parts = append(parts, promptClosing)
	return strings.Join(parts, "\n\n")
}

func bullets(items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}

func formatNumber(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", f), "0"), ".")
}
