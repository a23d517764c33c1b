package judge

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	xerrors "Agent-Arena/internal/errors"
)

// CodeInvalidVerdict marks judge output that failed validation.
const CodeInvalidVerdict xerrors.Code = "JUDGE_INVALID_VERDICT"

func init() {
	xerrors.Register(CodeInvalidVerdict, xerrors.Attributes{
		Message:  "judge returned an invalid verdict",
		Severity: xerrors.SeverityWarning,
	})
}

// Verdict is one judge evaluation. It is applied once and then discarded.
type Verdict struct {
	ProgressPct  float64  `json:"progress_pct"`
	Evidence     []string `json:"evidence"`
	GoalAchieved bool     `json:"goal_achieved"`
	Reasoning    string   `json:"reasoning"`
}

const verdictSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["progress_pct", "evidence", "goal_achieved", "reasoning"],
	"properties": {
		"progress_pct": {"type": "number", "minimum": 0, "maximum": 100},
		"evidence": {"type": "array", "items": {"type": "string"}},
		"goal_achieved": {"type": "boolean"},
		"reasoning": {"type": "string"}
	}
}`

var compiledVerdict = mustCompile(verdictSchema)

func mustCompile(schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("verdict.json", strings.NewReader(schema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("verdict.json")
}

var (
	leadingFence  = regexp.MustCompile("^```(?:json)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```\\s*$")
)

// StripFences removes a surrounding markdown code fence.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = leadingFence.ReplaceAllString(text, "")
		text = trailingFence.ReplaceAllString(text, "")
	}
	return text
}

// ParseVerdict validates raw judge output against the verdict schema. Any
// violation rejects the whole verdict.
func ParseVerdict(raw string) (Verdict, error) {
	text := StripFences(raw)
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return Verdict{}, xerrors.Wrap(CodeInvalidVerdict, err, "judge output is not JSON")
	}
	if err := compiledVerdict.Validate(doc); err != nil {
		return Verdict{}, xerrors.Wrap(CodeInvalidVerdict, err, "judge output failed schema validation")
	}
	var v Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return Verdict{}, xerrors.Wrap(CodeInvalidVerdict, err, "decode verdict")
	}
	return v, nil
}
