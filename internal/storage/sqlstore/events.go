package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
)

type eventRow struct {
	ID        string `db:"id"`
	RunID     string `db:"run_id"`
	Type      string `db:"event_type"`
	Payload   string `db:"payload"`
	CreatedAt int64  `db:"created_at"`
}

type promptRow struct {
	ID             string        `db:"id"`
	RunID          string        `db:"run_id"`
	Text           string        `db:"prompt_text"`
	CreatedAt      int64         `db:"created_at"`
	AcknowledgedAt sql.NullInt64 `db:"acknowledged_at"`
}

// AppendEvent implements events.Log.
func (s *Store) AppendEvent(ctx context.Context, event events.Event) error {
	if event.RunID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "event run id is empty")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (id, run_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.RunID, string(event.Type), event.PayloadJSON(), event.CreatedAt.UnixNano())
	if err != nil {
		if isDuplicate(err) {
			return xerrors.Wrap(xerrors.CodeConflict, err, "event already exists")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert event")
	}
	return nil
}

// ListEvents implements events.Log, most recent first.
func (s *Store) ListEvents(ctx context.Context, runID string, limit int) ([]events.Event, error) {
	query := `SELECT id, run_id, event_type, payload, created_at FROM run_events WHERE run_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list events")
	}
	out := make([]events.Event, 0, len(rows))
	for _, row := range rows {
		ev := events.Event{
			ID:        row.ID,
			RunID:     row.RunID,
			Type:      events.Type(row.Type),
			CreatedAt: time.Unix(0, row.CreatedAt).UTC(),
		}
		if row.Payload != "" && row.Payload != "{}" {
			if err := json.Unmarshal([]byte(row.Payload), &ev.Payload); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode event payload")
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

// AddPrompt implements events.Inbox.
func (s *Store) AddPrompt(ctx context.Context, prompt events.Prompt) error {
	if prompt.ID == "" || prompt.RunID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "prompt id and run id are required")
	}
	if prompt.CreatedAt.IsZero() {
		prompt.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_prompts (id, run_id, prompt_text, created_at) VALUES (?, ?, ?, ?)`,
		prompt.ID, prompt.RunID, prompt.Text, prompt.CreatedAt.UnixNano())
	if err != nil {
		if isDuplicate(err) {
			return xerrors.Wrap(xerrors.CodeConflict, err, "prompt already exists")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert prompt")
	}
	return nil
}

// PendingPrompts implements events.Inbox, oldest first.
func (s *Store) PendingPrompts(ctx context.Context, runID string) ([]events.Prompt, error) {
	var rows []promptRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, run_id, prompt_text, created_at, acknowledged_at FROM user_prompts
        WHERE run_id = ? AND acknowledged_at IS NULL ORDER BY created_at ASC, id ASC`, runID); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list pending prompts")
	}
	out := make([]events.Prompt, 0, len(rows))
	for _, row := range rows {
		out = append(out, events.Prompt{
			ID:        row.ID,
			RunID:     row.RunID,
			Text:      row.Text,
			CreatedAt: time.Unix(0, row.CreatedAt).UTC(),
		})
	}
	return out, nil
}

// AcknowledgePrompt implements events.Inbox.
func (s *Store) AcknowledgePrompt(ctx context.Context, promptID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_prompts SET acknowledged_at = ? WHERE id = ? AND acknowledged_at IS NULL`,
		s.now().UTC().UnixNano(), promptID)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "acknowledge prompt")
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return true, nil
	}
	var exists int
	if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM user_prompts WHERE id = ?`, promptID); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query prompt")
	}
	if exists == 0 {
		return false, xerrors.New(xerrors.CodeNotFound, "prompt not found")
	}
	return false, nil
}

var (
	_ events.Log   = (*Store)(nil)
	_ events.Inbox = (*Store)(nil)
)
