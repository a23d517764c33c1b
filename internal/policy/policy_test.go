package policy

import (
	"testing"

	"Agent-Arena/internal/llm"
)

func TestNoCryptoBlocksPayments(t *testing.T) {
	m := NewKeywordMatcher()
	constraints := []string{"Be polite", "NO CRYPTO transactions"}

	for _, at := range []llm.ActionType{llm.ActionPayToAddress, llm.ActionPayToEmail} {
		v := m.Evaluate(at, llm.Action{"amount": 5.0}, constraints)
		if v.Allowed {
			t.Fatalf("%s should be blocked", at)
		}
		if v.Reason == "" {
			t.Fatalf("blocked verdict must carry a reason")
		}
	}
	if v := m.Evaluate(llm.ActionSendEmail, nil, constraints); !v.Allowed {
		t.Fatalf("email must not be blocked by a payment constraint: %+v", v)
	}
}

func TestNoEmailBlocksEmailOnly(t *testing.T) {
	m := NewKeywordMatcher()
	if v := m.Evaluate(llm.ActionSendEmail, nil, []string{"no email"}); v.Allowed {
		t.Fatalf("expected send_email to be blocked")
	}
	if v := m.Evaluate(llm.ActionBrowserTask, nil, []string{"no email"}); !v.Allowed {
		t.Fatalf("browser_task must remain allowed")
	}
}

func TestFinishReasoningNeverBlocked(t *testing.T) {
	m := NewKeywordMatcher(Rule{Phrases: []string{"no thinking"}, Blocks: []llm.ActionType{llm.ActionFinishReasoning}})
	if v := m.Evaluate(llm.ActionFinishReasoning, nil, []string{"no thinking"}); !v.Allowed {
		t.Fatalf("finish_reasoning must always be allowed")
	}
}

func TestNoConstraintsAllows(t *testing.T) {
	if v := NewKeywordMatcher().Evaluate(llm.ActionPayToAddress, nil, nil); !v.Allowed {
		t.Fatalf("expected allow without constraints")
	}
}
