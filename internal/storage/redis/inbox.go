package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
)

// DefaultPrefix namespaces inbox keys.
const DefaultPrefix = "arena:prompts"

// Config describes the Redis endpoint backing the inbox.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	// TTL expires prompt records; zero keeps them forever.
	TTL time.Duration
}

// PromptInbox implements events.Inbox. Each prompt is a hash; each run keeps
// a list of prompt ids in submission order.
type PromptInbox struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewPromptInbox connects and pings Redis.
func NewPromptInbox(ctx context.Context, cfg Config) (*PromptInbox, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "connect redis")
	}
	return newPromptInbox(client, cfg), nil
}

func newPromptInbox(client *goredis.Client, cfg Config) *PromptInbox {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &PromptInbox{client: client, prefix: prefix, ttl: cfg.TTL}
}

func (i *PromptInbox) promptKey(id string) string   { return i.prefix + ":prompt:" + id }
func (i *PromptInbox) pendingKey(run string) string { return i.prefix + ":run:" + run + ":pending" }

// AddPrompt implements events.Inbox.
func (i *PromptInbox) AddPrompt(ctx context.Context, prompt events.Prompt) error {
	if prompt.ID == "" || prompt.RunID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "prompt id and run id are required")
	}
	if prompt.CreatedAt.IsZero() {
		prompt.CreatedAt = time.Now().UTC()
	}
	key := i.promptKey(prompt.ID)
	created, err := i.client.HSetNX(ctx, key, "id", prompt.ID).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "store prompt")
	}
	if !created {
		return xerrors.New(xerrors.CodeConflict, "prompt already exists")
	}
	_, err = i.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, encodePrompt(prompt))
		pipe.RPush(ctx, i.pendingKey(prompt.RunID), prompt.ID)
		if i.ttl > 0 {
			pipe.Expire(ctx, key, i.ttl)
			pipe.Expire(ctx, i.pendingKey(prompt.RunID), i.ttl)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "store prompt")
	}
	return nil
}

// PendingPrompts implements events.Inbox, oldest first.
func (i *PromptInbox) PendingPrompts(ctx context.Context, runID string) ([]events.Prompt, error) {
	ids, err := i.client.LRange(ctx, i.pendingKey(runID), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list pending prompts")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = i.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for n, id := range ids {
			cmds[n] = pipe.HGetAll(ctx, i.promptKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load pending prompts")
	}
	out := make([]events.Prompt, 0, len(ids))
	for _, cmd := range cmds {
		p, ok := decodePrompt(cmd.Val())
		if !ok || p.AcknowledgedAt != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// AcknowledgePrompt implements events.Inbox.
func (i *PromptInbox) AcknowledgePrompt(ctx context.Context, promptID string) (bool, error) {
	key := i.promptKey(promptID)
	runID, err := i.client.HGet(ctx, key, "run_id").Result()
	if errors.Is(err, goredis.Nil) {
		return false, xerrors.New(xerrors.CodeNotFound, "prompt not found")
	}
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load prompt")
	}
	stamp := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	set, err := i.client.HSetNX(ctx, key, "acknowledged_at", stamp).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "acknowledge prompt")
	}
	if !set {
		return false, nil
	}
	if err := i.client.LRem(ctx, i.pendingKey(runID), 0, promptID).Err(); err != nil {
		return true, xerrors.Wrap(xerrors.CodeStorageFailure, err, "drop acknowledged prompt")
	}
	return true, nil
}

// Close releases the client.
func (i *PromptInbox) Close() error {
	return i.client.Close()
}

func encodePrompt(p events.Prompt) map[string]any {
	fields := map[string]any{
		"id":         p.ID,
		"run_id":     p.RunID,
		"text":       p.Text,
		"created_at": strconv.FormatInt(p.CreatedAt.UnixNano(), 10),
	}
	if p.AcknowledgedAt != nil {
		fields["acknowledged_at"] = strconv.FormatInt(p.AcknowledgedAt.UnixNano(), 10)
	}
	return fields
}

func decodePrompt(fields map[string]string) (events.Prompt, bool) {
	if fields["id"] == "" || fields["run_id"] == "" {
		return events.Prompt{}, false
	}
	p := events.Prompt{ID: fields["id"], RunID: fields["run_id"], Text: fields["text"]}
	if ns, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		p.CreatedAt = time.Unix(0, ns).UTC()
	}
	if raw, ok := fields["acknowledged_at"]; ok {
		if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
			at := time.Unix(0, ns).UTC()
			p.AcknowledgedAt = &at
		}
	}
	return p, true
}

var _ events.Inbox = (*PromptInbox)(nil)
