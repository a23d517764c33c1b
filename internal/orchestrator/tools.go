package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"Agent-Arena/internal/config"
	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/run"
	"Agent-Arena/internal/tools"
	"Agent-Arena/internal/tools/agentmail"
	"Agent-Arena/internal/tools/browseruse"
	"Agent-Arena/internal/tools/locus"
	"Agent-Arena/internal/web3/provider"
)

// Toolset is one run's side-effecting collaborators. Any member may be nil
// when its service is not configured.
type Toolset struct {
	Browser  tools.Browser
	Mailer   tools.Mailer
	Payments tools.Payments
}

// Close releases whatever the set holds.
func (t Toolset) Close(ctx context.Context, log *slog.Logger) {
	closers := []tools.Closer{t.Browser}
	if c, ok := t.Mailer.(tools.Closer); ok {
		closers = append(closers, c)
	}
	if c, ok := t.Payments.(tools.Closer); ok {
		closers = append(closers, c)
	}
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(ctx); err != nil {
			log.Warn("close tool failed", "error", err)
		}
	}
}

// ToolFactory builds the tools of one run.
type ToolFactory func(ctx context.Context, r *run.Run) (Toolset, error)

// NewToolFactory builds tools from configuration. A service without
// credentials is left out; the evm payments driver opens a wallet on the
// configured chain through registry.
func NewToolFactory(cfg config.ToolsConfig, registry *provider.Registry) ToolFactory {
	return func(ctx context.Context, r *run.Run) (Toolset, error) {
		var set Toolset
		if strings.TrimSpace(cfg.Browser.APIKey) != "" {
			b, err := browseruse.NewClient(browseruse.Config{
				APIKey:       cfg.Browser.APIKey,
				BaseURL:      cfg.Browser.BaseURL,
				Timeout:      cfg.Browser.Timeout,
				PollInterval: cfg.Browser.PollInterval,
			})
			if err != nil {
				return Toolset{}, err
			}
			set.Browser = b
		}

		inbox := strings.TrimSpace(r.InboxID)
		if inbox == "" {
			inbox = cfg.Email.InboxID
		}
		if strings.TrimSpace(cfg.Email.APIKey) != "" && inbox != "" {
			m, err := agentmail.NewClient(agentmail.Config{
				APIKey:  cfg.Email.APIKey,
				BaseURL: cfg.Email.BaseURL,
				InboxID: inbox,
				Timeout: cfg.Email.Timeout,
			})
			if err != nil {
				return Toolset{}, err
			}
			set.Mailer = m
		}

		switch strings.ToLower(strings.TrimSpace(cfg.Payments.Driver)) {
		case "evm":
			if registry == nil {
				return Toolset{}, xerrors.New(xerrors.CodeInitializationFailure, "evm payments need a chain registry")
			}
			w, err := registry.OpenWallet(ctx, cfg.Payments.Chain)
			if err != nil {
				return Toolset{}, err
			}
			set.Payments = w
		case "", "locus":
			if strings.TrimSpace(cfg.Payments.APIKey) == "" {
				break
			}
			p, err := locus.NewClient(locus.Config{
				APIKey:  cfg.Payments.APIKey,
				BaseURL: cfg.Payments.BaseURL,
				Timeout: cfg.Payments.Timeout,
			})
			if err != nil {
				return Toolset{}, err
			}
			set.Payments = p
		default:
			return Toolset{}, xerrors.New(xerrors.CodeInvalidArgument, "unknown payments driver: "+cfg.Payments.Driver)
		}
		return set, nil
	}
}
