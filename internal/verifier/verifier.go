// Package verifier tracks a run's goal progress by polling the external
// signal that matches its goal type.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/tools"
	"Agent-Arena/pkg/logger"
)

// GoalType selects the polling strategy.
type GoalType string

const (
	GoalFollowerCount GoalType = "follower_count"
	GoalRevenue       GoalType = "revenue"
	GoalViews         GoalType = "views"
	GoalEmailsBooked  GoalType = "emails_booked"
	GoalGeneral       GoalType = "general"
)

// Valid reports whether g is a known goal type.
func (g GoalType) Valid() bool {
	switch g {
	case GoalFollowerCount, GoalRevenue, GoalViews, GoalEmailsBooked, GoalGeneral:
		return true
	default:
		return false
	}
}

// DefaultTimeLimit applies when a run does not set one.
const DefaultTimeLimit = 24 * time.Hour

const (
	defaultTimeout  = 15 * time.Second
	defaultPlatform = "twitter"
	historyLimit    = 100
)

var (
	followersPattern = regexp.MustCompile(`(?i)followers.*?(\d[\d,]*)`)
	viewsPattern     = regexp.MustCompile(`(?i)(\d[\d,]*)\s*views?`)
)

// Config describes one run's goal and where its signals come from.
type Config struct {
	RunID      string
	GoalType   GoalType
	Target     float64
	TimeLimit  time.Duration
	StartTime  time.Time
	Handle     string
	Platform   string
	ContentURL string

	SocialAPIURL  string
	SocialAPIKey  string
	ScrapeBaseURL string
	Timeout       time.Duration
}

// ProgressReader returns progress persisted outside the loop, such as a
// judge correction.
type ProgressReader interface {
	Progress(ctx context.Context, runID string) (float64, error)
}

// State is a snapshot of the goal.
type State struct {
	GoalType        GoalType  `json:"goal_type"`
	TargetValue     float64   `json:"target_value"`
	StartTime       time.Time `json:"start_time"`
	TimeLimit       float64   `json:"time_limit"`
	CurrentProgress float64   `json:"current_progress"`
	GoalAchieved    bool      `json:"goal_achieved"`
	TimeExpired     bool      `json:"time_expired"`
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithPayments sets the wallet read by the revenue strategy.
func WithPayments(p tools.Payments) Option { return func(v *Verifier) { v.payments = p } }

// WithMailer sets the inbox read by the emails_booked strategy.
func WithMailer(m tools.Mailer) Option { return func(v *Verifier) { v.mailer = m } }

// WithProgressReader sets the source used by the general strategy.
func WithProgressReader(r ProgressReader) Option { return func(v *Verifier) { v.reader = r } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHTTPClient overrides the client used for social and scrape sources.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) {
		if c != nil {
			v.httpClient = c
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// Verifier owns a run's GoalState. Poll overwrites the current progress with
// the latest reading; goal achievement latches once reached.
type Verifier struct {
	cfg        Config
	httpClient *http.Client
	payments   tools.Payments
	mailer     tools.Mailer
	reader     ProgressReader
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	current  float64
	achieved bool
}

// New validates cfg and applies defaults.
func New(cfg Config, opts ...Option) (*Verifier, error) {
	if cfg.GoalType == "" {
		cfg.GoalType = GoalGeneral
	}
	if !cfg.GoalType.Valid() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown goal type %q", cfg.GoalType))
	}
	if cfg.Target < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "target value must not be negative")
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = DefaultTimeLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Platform == "" {
		cfg.Platform = defaultPlatform
	}
	cfg.Handle = strings.TrimPrefix(strings.TrimSpace(cfg.Handle), "@")

	v := &Verifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
		logger:     logger.Named("verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.cfg.StartTime.IsZero() {
		v.cfg.StartTime = v.now()
	}
	return v, nil
}

// Poll refreshes the progress and returns it. A failed reading leaves the
// previous value in place.
func (v *Verifier) Poll(ctx context.Context) float64 {
	value, err := v.read(ctx)
	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.logger.Warn("goal poll failed, keeping previous progress",
			"run_id", v.cfg.RunID, "goal_type", v.cfg.GoalType, "progress", v.current, "error", err)
		return v.current
	}
	v.current = value
	if value >= v.cfg.Target {
		v.achieved = true
	}
	return v.current
}

// Progress returns the last reading without polling.
func (v *Verifier) Progress() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// GoalAchieved reports whether progress has ever reached the target.
func (v *Verifier) GoalAchieved() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.achieved
}

// TimeExpired reports whether the run is past its time limit.
func (v *Verifier) TimeExpired() bool {
	return v.now().Sub(v.cfg.StartTime) > v.cfg.TimeLimit
}

// RemainingSeconds returns the time left, floored at zero.
func (v *Verifier) RemainingSeconds() float64 {
	left := v.cfg.TimeLimit - v.now().Sub(v.cfg.StartTime)
	if left < 0 {
		return 0
	}
	return left.Seconds()
}

// Snapshot returns the current GoalState.
func (v *Verifier) Snapshot() State {
	v.mu.Lock()
	current, achieved := v.current, v.achieved
	v.mu.Unlock()
	return State{
		GoalType:        v.cfg.GoalType,
		TargetValue:     v.cfg.Target,
		StartTime:       v.cfg.StartTime,
		TimeLimit:       v.cfg.TimeLimit.Seconds(),
		CurrentProgress: current,
		GoalAchieved:    achieved,
		TimeExpired:     v.TimeExpired(),
	}
}

func (v *Verifier) read(ctx context.Context) (float64, error) {
	switch v.cfg.GoalType {
	case GoalFollowerCount:
		return v.followers(ctx)
	case GoalRevenue:
		return v.revenue(ctx)
	case GoalViews:
		return v.views(ctx)
	case GoalEmailsBooked:
		return v.emailsBooked(ctx)
	default:
		return v.general(ctx)
	}
}

func (v *Verifier) followers(ctx context.Context) (float64, error) {
	if v.cfg.Handle == "" {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "no account handle configured")
	}
	var errs []error
	if base := strings.TrimRight(v.cfg.SocialAPIURL, "/"); base != "" {
		endpoint := fmt.Sprintf("%s/%s/user/%s", base, url.PathEscape(v.cfg.Platform), url.PathEscape(v.cfg.Handle))
		body, err := v.get(ctx, endpoint, v.cfg.SocialAPIKey)
		if err == nil {
			for _, path := range []string{"followers_count", "data.followers_count", "public_metrics.followers_count"} {
				if r := gjson.GetBytes(body, path); r.Exists() {
					return r.Float(), nil
				}
			}
			err = errors.New("social metrics response has no followers_count")
		}
		errs = append(errs, err)
	}
	if base := strings.TrimRight(v.cfg.ScrapeBaseURL, "/"); base != "" {
		body, err := v.get(ctx, base+"/"+url.PathEscape(v.cfg.Handle), "")
		if err == nil {
			if n, ok := firstNumber(followersPattern, body); ok {
				return n, nil
			}
			err = errors.New("scraped page has no follower count")
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "no follower source configured")
	}
	return 0, errors.Join(errs...)
}

func (v *Verifier) revenue(ctx context.Context) (float64, error) {
	if v.payments == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "no payments collaborator")
	}
	txs, err := v.payments.History(ctx, historyLimit)
	if err != nil {
		return 0, err
	}
	total := decimal.Zero
	for _, tx := range txs {
		if strings.EqualFold(tx.Status, "SUCCESS") {
			total = total.Add(tx.Amount)
		}
	}
	return total.InexactFloat64(), nil
}

func (v *Verifier) views(ctx context.Context) (float64, error) {
	if strings.TrimSpace(v.cfg.ContentURL) == "" {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "no content url configured")
	}
	body, err := v.get(ctx, v.cfg.ContentURL, "")
	if err != nil {
		return 0, err
	}
	n, ok := firstNumber(viewsPattern, body)
	if !ok {
		return 0, errors.New("content page has no view count")
	}
	return n, nil
}

func (v *Verifier) emailsBooked(ctx context.Context) (float64, error) {
	if v.mailer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "no mail collaborator")
	}
	n, err := v.mailer.CountPositiveReplies(ctx)
	return float64(n), err
}

func (v *Verifier) general(ctx context.Context) (float64, error) {
	if v.reader == nil {
		return v.Progress(), nil
	}
	return v.reader.Progress(ctx, v.cfg.RunID)
}

func (v *Verifier) get(ctx context.Context, endpoint, bearer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "signal source timed out")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "signal source unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, fmt.Sprintf("signal source returned status %d", resp.StatusCode))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2<<20))
}

func firstNumber(re *regexp.Regexp, body []byte) (float64, bool) {
	m := re.FindSubmatch(body)
	if len(m) < 2 {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(string(m[1]), ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
