// Package repository fetches and holds the rows of one table for the
// active workspace scope.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// Retry configures transient fetch retries.
type Retry struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultRetry retries a transient fetch twice, starting at 200ms.
func DefaultRetry() Retry {
	return Retry{Attempts: 3, Delay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Repository is the snapshot holder for one table. Fetch is stateless and
// may run on any goroutine; Replace, Clear and Snapshot belong to the
// owner of the snapshot and are not synchronized.
type Repository[T any] struct {
	table    store.Table
	reader   store.Reader
	filters  func(core.Scope) []store.Filter
	decode   func(store.Row) (T, error)
	validate func(T) error
	owns     func(core.Scope, T) bool
	order    []store.Order
	retry    Retry
	logger   *log.Logger

	snapshot []T
	loaded   bool
}

type config[T any] struct {
	table    store.Table
	filters  func(core.Scope) []store.Filter
	decode   func(store.Row) (T, error)
	validate func(T) error
	owns     func(core.Scope, T) bool
	order    []store.Order
}

func newRepository[T any](c config[T], reader store.Reader, retry Retry, logger *log.Logger) *Repository[T] {
	if retry.Attempts == 0 {
		retry = DefaultRetry()
	}
	return &Repository[T]{
		table:    c.table,
		reader:   reader,
		filters:  c.filters,
		decode:   c.decode,
		validate: c.validate,
		owns:     c.owns,
		order:    c.order,
		retry:    retry,
		logger:   log.OrNop(logger).WithComponent(log.ComponentRepository),
	}
}

func (r *Repository[T]) Table() store.Table {
	return r.table
}

// Filters returns the predicates applied to both selects and
// subscriptions of this table for scope.
func (r *Repository[T]) Filters(scope core.Scope) []store.Filter {
	return r.filters(scope)
}

// Fetch selects and normalizes the rows visible in scope. Malformed rows
// fail the fetch with a schema mismatch; rows that decode but fail
// validation or fall outside the scope are dropped.
func (r *Repository[T]) Fetch(ctx context.Context, scope core.Scope) ([]T, error) {
	q := store.Query{Table: r.table, Filters: r.filters(scope), Order: r.order}

	var rows []store.Row
	err := retry.Do(
		func() error {
			var err error
			rows, err = r.reader.Select(ctx, q)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(r.retry.Attempts),
		retry.Delay(r.retry.Delay),
		retry.MaxDelay(r.retry.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(core.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("Retrying fetch", log.FieldTable, r.table, log.FieldScope, scope.Key(),
				log.FieldAttempt, n+1, log.FieldError, err)
		}),
	)
	if err != nil {
		var qe *core.QueryError
		if errors.As(err, &qe) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewQueryError(core.KindTransient, log.OpSelect, string(r.table), err)
		}
		return nil, core.NewQueryError(core.KindUnknown, log.OpSelect, string(r.table), err)
	}

	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := r.decode(row)
		if errors.Is(err, errShape) {
			return nil, core.NewQueryError(core.KindSchemaMismatch, "decode", string(r.table), err)
		}
		if err == nil && r.validate != nil {
			err = r.validate(v)
		}
		if err != nil {
			r.logger.Warn("Dropping invalid row", log.FieldTable, r.table, "id", row.ID(), log.FieldError, err)
			continue
		}
		if r.owns != nil && !r.owns(scope, v) {
			r.logger.Warn("Dropping row outside scope", log.FieldTable, r.table, "id", row.ID(), log.FieldScope, scope.Key())
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Replace swaps the snapshot wholesale.
func (r *Repository[T]) Replace(rows []T) {
	r.snapshot = rows
	r.loaded = true
}

func (r *Repository[T]) Clear() {
	r.snapshot = nil
	r.loaded = false
}

// Snapshot returns a copy of the current rows.
func (r *Repository[T]) Snapshot() []T {
	return append([]T(nil), r.snapshot...)
}

// Loaded reports whether a fetch has completed since the last Clear.
func (r *Repository[T]) Loaded() bool {
	return r.loaded
}

// Refresh fetches and replaces in one step. On error the snapshot is kept.
func (r *Repository[T]) Refresh(ctx context.Context, scope core.Scope) error {
	rows, err := r.Fetch(ctx, scope)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", r.table, err)
	}
	r.Replace(rows)
	return nil
}
