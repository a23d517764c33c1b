// Package policy decides whether an action may run under a run's
// user-supplied constraints.
package policy

import (
	"strings"

	"Agent-Arena/internal/llm"
)

// Verdict is the outcome of evaluating one action.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Allow is the verdict for unconstrained actions.
var Allow = Verdict{Allowed: true}

// Evaluator is a predicate over an action and the active constraints.
type Evaluator interface {
	Evaluate(actionType llm.ActionType, action llm.Action, constraints []string) Verdict
}

// Rule blocks a set of action types whenever a constraint contains one of
// its phrases.
type Rule struct {
	Phrases []string
	Blocks  []llm.ActionType
}

var paymentActions = []llm.ActionType{llm.ActionPayToAddress, llm.ActionPayToEmail}

// DefaultRules is the taboo vocabulary per action family.
var DefaultRules = []Rule{
	{Phrases: []string{"no crypto", "no payment", "no payments", "no spending", "no money", "no usdc"}, Blocks: paymentActions},
	{Phrases: []string{"no email", "no emails", "no emailing", "no outreach"}, Blocks: []llm.ActionType{llm.ActionSendEmail}},
	{Phrases: []string{"no browser", "no browsing", "no web"}, Blocks: []llm.ActionType{llm.ActionBrowserTask}},
}

// KeywordMatcher is the case-insensitive substring implementation of
// Evaluator. finish_reasoning is never blocked.
type KeywordMatcher struct {
	rules []Rule
}

// NewKeywordMatcher returns a matcher over rules, or DefaultRules when none
// are given.
func NewKeywordMatcher(rules ...Rule) *KeywordMatcher {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		phrases := make([]string, 0, len(r.Phrases))
		for _, p := range r.Phrases {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				phrases = append(phrases, p)
			}
		}
		normalized = append(normalized, Rule{Phrases: phrases, Blocks: r.Blocks})
	}
	return &KeywordMatcher{rules: normalized}
}

// Evaluate implements Evaluator.
func (m *KeywordMatcher) Evaluate(actionType llm.ActionType, _ llm.Action, constraints []string) Verdict {
	if actionType == llm.ActionFinishReasoning || len(constraints) == 0 {
		return Allow
	}
	for _, constraint := range constraints {
		lowered := strings.ToLower(constraint)
		for _, rule := range m.rules {
			if !blocks(rule, actionType) {
				continue
			}
			for _, phrase := range rule.Phrases {
				if strings.Contains(lowered, phrase) {
					return Verdict{Reason: "blocked by constraint: " + strings.TrimSpace(constraint)}
				}
			}
		}
	}
	return Allow
}

func blocks(rule Rule, actionType llm.ActionType) bool {
	for _, at := range rule.Blocks {
		if at == actionType {
			return true
		}
	}
	return false
}

var _ Evaluator = (*KeywordMatcher)(nil)
