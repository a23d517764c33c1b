package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/verifier"
)

// DefaultInitialCredits is the budget of a run that does not set one.
const DefaultInitialCredits = 50.0

// RunConfig is the launch configuration of a single run.
type RunConfig struct {
	RunID            string            `json:"run_id"`
	Goal             string            `json:"goal"`
	GoalType         verifier.GoalType `json:"goal_type"`
	TargetValue      float64           `json:"target_value"`
	TimeLimit        int64             `json:"time_limit"`
	InitialCredits   *float64          `json:"initial_credits,omitempty"`
	Model            string            `json:"model"`
	Constraints      []string          `json:"constraints"`
	AccountHandle    string            `json:"account_handle,omitempty"`
	Platform         string            `json:"platform,omitempty"`
	ContentURL       string            `json:"content_url,omitempty"`
	VerificationHint string            `json:"verification_hint,omitempty"`
	InboxID          string            `json:"inbox_id,omitempty"`
}

// Budget returns a pointer to v for RunConfig.InitialCredits. A nil budget
// takes DefaultInitialCredits; zero is a real budget and stops the run at once.
func Budget(v float64) *float64 { return &v }

// StartingCredits returns the configured budget, or the default when unset.
func (c RunConfig) StartingCredits() float64 {
	if c.InitialCredits == nil {
		return DefaultInitialCredits
	}
	return *c.InitialCredits
}

// LoadRunConfig reads a JSON run configuration from path.
func LoadRunConfig(path string) (RunConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("open run config: %w", err)
	}
	defer f.Close()
	return DecodeRunConfig(f)
}

// DecodeRunConfig decodes, defaults and validates a JSON run configuration.
func DecodeRunConfig(r io.Reader) (RunConfig, error) {
	var cfg RunConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return RunConfig{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode run config")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset optional fields.
func (c *RunConfig) ApplyDefaults() {
	c.Goal = strings.TrimSpace(c.Goal)
	if c.GoalType == "" {
		c.GoalType = verifier.GoalGeneral
	}
	if c.TimeLimit <= 0 {
		c.TimeLimit = int64(verifier.DefaultTimeLimit / time.Second)
	}
	if c.InitialCredits == nil {
		c.InitialCredits = Budget(DefaultInitialCredits)
	}
}

// Validate reports the first problem that makes the run unstartable.
func (c RunConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.RunID) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "run_id is required")
	case strings.TrimSpace(c.Goal) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "goal is required")
	case !c.GoalType.Valid():
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown goal_type %q", c.GoalType))
	case c.TargetValue < 0:
		return xerrors.New(xerrors.CodeInvalidArgument, "target_value must not be negative")
	}
	return nil
}

// TimeLimitDuration returns the time budget as a duration.
func (c RunConfig) TimeLimitDuration() time.Duration {
	return time.Duration(c.TimeLimit) * time.Second
}

// Settings are the loop tunables shared by every run of a process.
type Settings struct {
	MaxTurns        int
	ToolResultLimit int
	TickDelay       time.Duration
	ThinkTimeout    time.Duration
	GatherTimeout   time.Duration
	ToolTimeout     time.Duration
	VerifyTimeout   time.Duration
	MemoryK         int
	LiveURLAttempts int
	LiveURLInterval time.Duration
}

// DefaultSettings returns the built-in tunables.
func DefaultSettings() Settings {
	return Settings{
		MaxTurns:        40,
		ToolResultLimit: 2000,
		TickDelay:       time.Second,
		ThinkTimeout:    90 * time.Second,
		GatherTimeout:   10 * time.Second,
		ToolTimeout:     5 * time.Minute,
		VerifyTimeout:   20 * time.Second,
		MemoryK:         5,
		LiveURLAttempts: 30,
		LiveURLInterval: 2 * time.Second,
	}
}

// merge overlays the positive fields of s on the defaults. A negative
// TickDelay disables the inter-tick delay.
func (s Settings) merge() Settings {
	out := DefaultSettings()
	if s.MaxTurns > 0 {
		out.MaxTurns = s.MaxTurns
	}
	if s.ToolResultLimit > 0 {
		out.ToolResultLimit = s.ToolResultLimit
	}
	if s.TickDelay > 0 {
		out.TickDelay = s.TickDelay
	} else if s.TickDelay < 0 {
		out.TickDelay = 0
	}
	if s.ThinkTimeout > 0 {
		out.ThinkTimeout = s.ThinkTimeout
	}
	if s.GatherTimeout > 0 {
		out.GatherTimeout = s.GatherTimeout
	}
	if s.ToolTimeout > 0 {
		out.ToolTimeout = s.ToolTimeout
	}
	if s.VerifyTimeout > 0 {
		out.VerifyTimeout = s.VerifyTimeout
	}
	if s.MemoryK > 0 {
		out.MemoryK = s.MemoryK
	}
	if s.LiveURLAttempts > 0 {
		out.LiveURLAttempts = s.LiveURLAttempts
	}
	if s.LiveURLInterval > 0 {
		out.LiveURLInterval = s.LiveURLInterval
	}
	return out
}
