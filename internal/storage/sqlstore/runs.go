package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
	"Agent-Arena/internal/run"
	"Agent-Arena/internal/verifier"
)

const runColumns = `id, goal, goal_type, target_value, time_limit, initial_credits, model, constraints_json,
        account_handle, platform, content_url, verification_hint, inbox_id, status, progress, outcome,
        last_error, error_code, created_at, updated_at, started_at, completed_at`

type runRow struct {
	ID               string         `db:"id"`
	Goal             string         `db:"goal"`
	GoalType         string         `db:"goal_type"`
	TargetValue      float64        `db:"target_value"`
	TimeLimit        int64          `db:"time_limit"`
	InitialCredits   float64        `db:"initial_credits"`
	Model            string         `db:"model"`
	Constraints      sql.NullString `db:"constraints_json"`
	AccountHandle    string         `db:"account_handle"`
	Platform         string         `db:"platform"`
	ContentURL       string         `db:"content_url"`
	VerificationHint sql.NullString `db:"verification_hint"`
	InboxID          string         `db:"inbox_id"`
	Status           string         `db:"status"`
	Progress         float64        `db:"progress"`
	Outcome          string         `db:"outcome"`
	LastError        sql.NullString `db:"last_error"`
	ErrorCode        string         `db:"error_code"`
	CreatedAt        int64          `db:"created_at"`
	UpdatedAt        int64          `db:"updated_at"`
	StartedAt        int64          `db:"started_at"`
	CompletedAt      int64          `db:"completed_at"`
}

func toRow(r *run.Run) (runRow, error) {
	row := runRow{
		ID:               r.ID,
		Goal:             r.Goal,
		GoalType:         string(r.GoalType),
		TargetValue:      r.TargetValue,
		TimeLimit:        r.TimeLimit,
		InitialCredits:   r.InitialCredits,
		Model:            r.Model,
		AccountHandle:    r.AccountHandle,
		Platform:         r.Platform,
		ContentURL:       r.ContentURL,
		VerificationHint: sql.NullString{String: r.VerificationHint, Valid: r.VerificationHint != ""},
		InboxID:          r.InboxID,
		Status:           string(r.Status),
		Progress:         r.Progress,
		Outcome:          string(r.Outcome),
		LastError:        sql.NullString{String: r.LastError, Valid: r.LastError != ""},
		ErrorCode:        r.ErrorCode,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
	}
	if len(r.Constraints) > 0 {
		raw, err := json.Marshal(r.Constraints)
		if err != nil {
			return runRow{}, err
		}
		row.Constraints = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}

func (row runRow) toRun() (*run.Run, error) {
	r := &run.Run{
		ID:               row.ID,
		Goal:             row.Goal,
		GoalType:         verifier.GoalType(row.GoalType),
		TargetValue:      row.TargetValue,
		TimeLimit:        row.TimeLimit,
		InitialCredits:   row.InitialCredits,
		Model:            row.Model,
		AccountHandle:    row.AccountHandle,
		Platform:         row.Platform,
		ContentURL:       row.ContentURL,
		VerificationHint: row.VerificationHint.String,
		InboxID:          row.InboxID,
		Status:           run.Status(row.Status),
		Progress:         row.Progress,
		Outcome:          events.Outcome(row.Outcome),
		LastError:        row.LastError.String,
		ErrorCode:        row.ErrorCode,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		StartedAt:        row.StartedAt,
		CompletedAt:      row.CompletedAt,
	}
	if row.Constraints.Valid && strings.TrimSpace(row.Constraints.String) != "" {
		if err := json.Unmarshal([]byte(row.Constraints.String), &r.Constraints); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Create implements run.Store.
func (s *Store) Create(ctx context.Context, r *run.Run) error {
	if r == nil || strings.TrimSpace(r.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id is required")
	}
	now := s.now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = run.StatusPending
	}
	row, err := toRow(r)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode run constraints")
	}
	const stmt = `INSERT INTO runs (` + runColumns + `) VALUES (
        :id, :goal, :goal_type, :target_value, :time_limit, :initial_credits, :model, :constraints_json,
        :account_handle, :platform, :content_url, :verification_hint, :inbox_id, :status, :progress, :outcome,
        :last_error, :error_code, :created_at, :updated_at, :started_at, :completed_at)`
	if _, err := s.db.NamedExecContext(ctx, stmt, row); err != nil {
		if isDuplicate(err) {
			return run.ErrRunConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert run")
	}
	return nil
}

// Get implements run.Store.
func (s *Store) Get(ctx context.Context, id string) (*run.Run, error) {
	var row runRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, run.ErrRunNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query run")
	}
	r, err := row.toRun()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode run constraints")
	}
	return r, nil
}

// Claim implements run.Store.
func (s *Store) Claim(ctx context.Context, id string) (*run.Run, error) {
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		run.StatusRunning, now, now, id, run.StatusPending)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim run")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim run rows affected")
	}
	r, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected == 0 {
		if r.Status.Active() {
			return r, run.ErrRunConflict
		}
		return r, run.ErrRunCompleted
	}
	return r, nil
}

// SetProgress implements run.Store.
func (s *Store) SetProgress(ctx context.Context, id string, value float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET progress = ?, updated_at = ? WHERE id = ?`, value, s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "update run progress")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return run.ErrRunNotFound
	}
	return nil
}

// Complete implements run.Store. Only the first completion of a run lands.
func (s *Store) Complete(ctx context.Context, id string, outcome events.Outcome) (bool, error) {
	status := run.StatusFailed
	if outcome == events.OutcomeSuccess {
		status = run.StatusSucceeded
	}
	now := s.now().Unix()
	return s.finish(ctx, id,
		`UPDATE runs SET status = ?, outcome = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		status, outcome, now, now, id, run.StatusPending, run.StatusRunning)
}

// Fail implements run.Store.
func (s *Store) Fail(ctx context.Context, id string, code, message string) error {
	now := s.now().Unix()
	_, err := s.finish(ctx, id,
		`UPDATE runs SET status = ?, outcome = ?, error_code = ?, last_error = ?, completed_at = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)`,
		run.StatusFailed, events.OutcomeFailed, code, message, now, now, id, run.StatusPending, run.StatusRunning)
	return err
}

// finish applies a terminal update and reports whether it changed the run.
func (s *Store) finish(ctx context.Context, id, stmt string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "finish run")
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return true, nil
	}
	var exists int
	if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM runs WHERE id = ?`, id); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query run")
	}
	if exists == 0 {
		return false, run.ErrRunNotFound
	}
	return false, nil
}

// List implements run.Store.
func (s *Store) List(ctx context.Context, opts run.ListOptions) ([]*run.Run, error) {
	opts.Normalize()
	query := `SELECT ` + runColumns + ` FROM runs`
	var (
		conds []string
		args  []any
	)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, st := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(st))
		}
		conds = append(conds, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.CreatedAfter > 0 {
		conds = append(conds, "created_at >= ?")
		args = append(args, opts.CreatedAfter)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if opts.Order == run.SortByCreatedAsc {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list runs")
	}
	out := make([]*run.Run, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRun()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode run constraints")
		}
		out = append(out, r)
	}
	return out, nil
}

var _ run.Store = (*Store)(nil)
