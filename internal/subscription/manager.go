// Package subscription opens one change subscription per table for a scope,
// and tears them down as a set.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// Policy bounds the retries of a failing subscription open.
type Policy struct {
	Attempts  uint
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy doubles from 1s up to 32s over six attempts.
func DefaultPolicy() Policy {
	return Policy{Attempts: 6, BaseDelay: time.Second, MaxDelay: 32 * time.Second}
}

// Target is one table and the filters its subscription is scoped by.
type Target struct {
	Table   store.Table
	Filters []store.Filter
}

// HandleSet is the result of one Open. It may be partial: tables whose
// subscription could not be opened are listed in Failed.
type HandleSet struct {
	Scope   core.Scope
	handles []store.Handle
	Failed  map[store.Table]error
	closed  bool
}

// Degraded reports whether at least one subscription failed to open.
func (s *HandleSet) Degraded() bool {
	return s != nil && len(s.Failed) > 0
}

// Err joins the open failures, or returns nil.
func (s *HandleSet) Err() error {
	if !s.Degraded() {
		return nil
	}
	errs := make([]error, 0, len(s.Failed))
	for _, t := range store.AllTables {
		if err, ok := s.Failed[t]; ok {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

func (s *HandleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.handles)
}

type Manager struct {
	sub    store.Subscriber
	policy Policy
	logger *log.Logger

	mu   sync.Mutex
	open map[string]store.Handle // by handle ID
}

func NewManager(sub store.Subscriber, policy Policy, logger *log.Logger) *Manager {
	if policy.Attempts == 0 {
		policy = DefaultPolicy()
	}
	return &Manager{
		sub:    sub,
		policy: policy,
		logger: log.OrNop(logger).WithComponent(log.ComponentSubscription),
		open:   make(map[string]store.Handle),
	}
}

// Open subscribes every target for scope in parallel, at most once per
// table. Handles belong to the returned set alone: two sets on the same
// scope never share a subscription, so closing one leaves the other live.
// Failures are retried with exponential backoff; a target that exhausts
// its attempts is reported in the returned set instead of as an error. The
// only error is ctx ending before all targets settled.
func (m *Manager) Open(ctx context.Context, scope core.Scope, targets []Target, onSignal func(store.Signal)) (*HandleSet, error) {
	set := &HandleSet{Scope: scope, Failed: make(map[store.Table]error)}
	var mu sync.Mutex

	seen := make(map[store.Table]bool, len(targets))
	var g errgroup.Group
	for _, target := range targets {
		if seen[target.Table] {
			continue
		}
		seen[target.Table] = true
		g.Go(func() error {
			h, err := m.openOne(ctx, scope, target, onSignal)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				set.Failed[target.Table] = err
				return nil
			}
			set.handles = append(set.handles, h)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		m.Close(set)
		return nil, err
	}
	if set.Degraded() {
		m.logger.Warn("Subscriptions degraded", log.FieldScope, scope.Key(), log.FieldError, set.Err())
	}
	return set, nil
}

func (m *Manager) openOne(ctx context.Context, scope core.Scope, target Target, onSignal func(store.Signal)) (store.Handle, error) {
	var h store.Handle
	err := retry.Do(
		func() error {
			var err error
			h, err = m.sub.Subscribe(ctx, target.Table, target.Filters, onSignal)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(m.policy.Attempts),
		retry.Delay(m.policy.BaseDelay),
		retry.MaxDelay(m.policy.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Warn("Retrying subscribe", log.FieldTable, target.Table, log.FieldScope, scope.Key(),
				log.FieldAttempt, n+1, log.FieldError, err)
		}),
	)
	if err != nil {
		return store.Handle{}, err
	}

	m.mu.Lock()
	m.open[h.ID] = h
	m.mu.Unlock()
	m.logger.Debug("Subscribed", log.FieldTable, target.Table, log.FieldScope, scope.Key(),
		log.FieldFilter, store.FilterString(target.Filters), log.FieldHandle, h.ID)
	return h, nil
}

// retryable excludes failures that another attempt cannot fix.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch core.KindOf(err) {
	case core.KindSchemaMismatch, core.KindPermissionDenied:
		return false
	default:
		return true
	}
}

// Close unsubscribes every handle set opened. Closing nil, an empty set or
// an already closed set does nothing.
func (m *Manager) Close(set *HandleSet) {
	if set == nil || set.closed {
		return
	}
	set.closed = true
	for _, h := range set.handles {
		m.mu.Lock()
		_, ok := m.open[h.ID]
		delete(m.open, h.ID)
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := m.sub.Unsubscribe(h); err != nil {
			m.logger.Warn("Unsubscribe failed", log.FieldTable, h.Table, log.FieldHandle, h.ID, log.FieldError, err)
		}
	}
	m.logger.Debug("Subscriptions closed", log.FieldScope, set.Scope.Key(), "count", len(set.handles))
}

// Len is the number of open subscriptions across all sets.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}
