package run

import "time"

// SortOrder defines how listed runs are ordered.
type SortOrder int

const (
	// SortByCreatedDesc lists the newest runs first.
	SortByCreatedDesc SortOrder = iota
	// SortByCreatedAsc lists the oldest runs first.
	SortByCreatedAsc
)

// ListOptions controls which runs a listing returns.
type ListOptions struct {
	Limit        int
	Offset       int
	Statuses     []Status
	CreatedAfter int64
	Order        SortOrder
}

// Normalize clamps the paging fields and drops unknown statuses.
func (opts *ListOptions) Normalize() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 200 {
		opts.Limit = 200
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Statuses = normalizeStatuses(opts.Statuses)
	if opts.Order != SortByCreatedAsc {
		opts.Order = SortByCreatedDesc
	}
}

// Matches reports whether r passes the filters. Stores that cannot push the
// filter down use it directly.
func (opts ListOptions) Matches(r *Run) bool {
	if opts.CreatedAfter > 0 && r.CreatedAt < opts.CreatedAfter {
		return false
	}
	if len(opts.Statuses) == 0 {
		return true
	}
	for _, s := range opts.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit caps the number of runs returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset skips the first n matching runs.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses filters by status.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithActive keeps only pending and running runs.
func WithActive() ListOption {
	return WithStatuses(ActiveStatuses...)
}

// WithCreatedSince keeps runs created at or after ts.
func WithCreatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.CreatedAfter = 0
			return
		}
		opts.CreatedAfter = ts.Unix()
	}
}

// WithSortOrder changes the order of the listing.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// BuildListOptions applies opts on top of the defaults.
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.Normalize()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	out := make([]Status, 0, len(input))
	for _, s := range input {
		if !s.Valid() {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
