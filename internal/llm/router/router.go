// Package router maps model keys to provider adapters and builds the ordered
// fallback chain the agent loop walks for every decision.
package router

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/llm"
	"Agent-Arena/internal/llm/anthropic"
	"Agent-Arena/internal/llm/gemini"
	"Agent-Arena/internal/llm/openai"
	"Agent-Arena/pkg/logger"
)

// Kind is the closed set of adapter variants.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindGemini    Kind = "gemini"
)

// Model binds a public model key to an adapter kind and vendor model id.
type Model struct {
	Key     string
	Kind    Kind
	ModelID string
}

var registry = map[string]Model{
	"claude-sonnet":  {Key: "claude-sonnet", Kind: KindAnthropic, ModelID: "claude-sonnet-4-5-20250929"},
	"claude-opus":    {Key: "claude-opus", Kind: KindAnthropic, ModelID: "claude-opus-4-6"},
	"gpt-4o":         {Key: "gpt-4o", Kind: KindOpenAI, ModelID: "gpt-4o"},
	"gemini-2-flash": {Key: "gemini-2-flash", Kind: KindGemini, ModelID: "gemini-2.0-flash"},
}

// FallbackOrder is the fixed priority of alternates behind a primary.
var FallbackOrder = []string{"claude-sonnet", "gpt-4o", "gemini-2-flash"}

// Lookup returns the registered model for key.
func Lookup(key string) (Model, bool) {
	m, ok := registry[strings.TrimSpace(key)]
	return m, ok
}

// Keys lists the registered model keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ProviderConfig holds the credentials and tuning shared by every model of
// one kind.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Cost    float64
}

// Credentials groups the per-kind configuration.
type Credentials struct {
	Anthropic ProviderConfig
	OpenAI    ProviderConfig
	Gemini    ProviderConfig
}

// Factory constructs the adapter of a model.
type Factory func(Model) (llm.Provider, error)

// Router resolves model keys into providers.
type Router struct {
	creds   Credentials
	factory Factory
	logger  *slog.Logger
}

// Option customises a Router.
type Option func(*Router)

// WithFactory replaces adapter construction.
func WithFactory(f Factory) Option {
	return func(r *Router) {
		if f != nil {
			r.factory = f
		}
	}
}

// WithLogger sets the logger used for skipped alternates.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Router over creds.
func New(creds Credentials, opts ...Option) *Router {
	r := &Router{creds: creds, logger: logger.Named("router")}
	r.factory = r.construct
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Get constructs the provider registered under key.
func (r *Router) Get(key string) (llm.Provider, error) {
	model, ok := Lookup(key)
	if !ok {
		return nil, xerrors.New(llm.CodeUnknownModel, "unknown model: "+key,
			xerrors.WithMetadata("options", strings.Join(Keys(), ",")))
	}
	return r.factory(model)
}

// Resolve returns the primary followed by the alternates of FallbackOrder,
// without duplicates. Models that fail to construct are skipped; an unknown
// primary key or an empty chain is an error.
func (r *Router) Resolve(primary string) ([]llm.Provider, error) {
	primary = strings.TrimSpace(primary)
	if _, ok := Lookup(primary); !ok {
		return nil, xerrors.New(llm.CodeUnknownModel, "unknown model: "+primary,
			xerrors.WithMetadata("options", strings.Join(Keys(), ",")))
	}

	keys := []string{primary}
	for _, key := range FallbackOrder {
		if key != primary {
			keys = append(keys, key)
		}
	}

	chain := make([]llm.Provider, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		p, err := r.Get(key)
		if err != nil {
			r.logger.Warn("skipping model in fallback chain", "model", key, "error", err)
			continue
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no provider could be constructed",
			xerrors.WithMetadata("primary", primary))
	}
	return chain, nil
}

// Completer returns the plain-text completion side of the model's adapter.
func (r *Router) Completer(key string) (llm.Completer, error) {
	p, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	c, ok := p.(llm.Completer)
	if !ok {
		return nil, xerrors.New(llm.CodeUnknownModel, "model does not support completions: "+key)
	}
	return c, nil
}

func (r *Router) construct(m Model) (llm.Provider, error) {
	var (
		p   llm.Provider
		err error
	)
	switch m.Kind {
	case KindAnthropic:
		c := r.creds.Anthropic
		p, err = nonNil(anthropic.NewClient(anthropic.Config{APIKey: c.APIKey, BaseURL: c.BaseURL, Model: m.ModelID, Timeout: c.Timeout, Cost: c.Cost}))
	case KindOpenAI:
		c := r.creds.OpenAI
		p, err = nonNil(openai.NewClient(openai.Config{APIKey: c.APIKey, BaseURL: c.BaseURL, Model: m.ModelID, Timeout: c.Timeout, Cost: c.Cost}))
	case KindGemini:
		c := r.creds.Gemini
		p, err = nonNil(gemini.NewClient(gemini.Config{APIKey: c.APIKey, BaseURL: c.BaseURL, Model: m.ModelID, Timeout: c.Timeout, Cost: c.Cost}))
	default:
		err = xerrors.New(llm.CodeUnknownModel, "unsupported provider kind: "+string(m.Kind))
	}
	return p, err
}

// nonNil keeps a failed constructor from producing a typed-nil interface.
func nonNil[T llm.Provider](p T, err error) (llm.Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
