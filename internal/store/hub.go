package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"fintrack/internal/log"
)

type hubSubscription struct {
	handle   Handle
	filters  []Filter
	onSignal func(Signal)
}

// Hub is the in-process Feed. Backends without a native change feed embed
// it and call Publish after every write.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*hubSubscription
	logger *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]*hubSubscription),
		logger: log.OrNop(logger).WithComponent(log.ComponentStore),
	}
}

func (h *Hub) Subscribe(ctx context.Context, table Table, filters []Filter, onSignal func(Signal)) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	handle := Handle{ID: uuid.NewString(), Table: table, Filter: FilterString(filters)}
	h.mu.Lock()
	h.subs[handle.ID] = &hubSubscription{
		handle:   handle,
		filters:  append([]Filter(nil), filters...),
		onSignal: onSignal,
	}
	h.mu.Unlock()
	h.logger.Debug("subscription opened", log.FieldTable, table, log.FieldFilter, handle.Filter, log.FieldHandle, handle.ID)
	return handle, nil
}

func (h *Hub) Unsubscribe(handle Handle) error {
	h.mu.Lock()
	_, ok := h.subs[handle.ID]
	delete(h.subs, handle.ID)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("subscription closed", log.FieldTable, handle.Table, log.FieldHandle, handle.ID)
	}
	return nil
}

var _ Feed = (*Hub)(nil)

// Publish signals every subscription whose filters see the change.
// Callbacks run on the caller's goroutine, outside the lock.
func (h *Hub) Publish(_ context.Context, c Change) error {
	h.mu.RLock()
	var targets []func(Signal)
	for _, s := range h.subs {
		if c.Matches(s.handle.Table, s.filters) {
			targets = append(targets, s.onSignal)
		}
	}
	h.mu.RUnlock()
	for _, fn := range targets {
		fn(Signal{Table: c.Table})
	}
	return nil
}

// SignalAll signals every subscription regardless of filters. Used after a
// feed reconnect, when changes may have been missed.
func (h *Hub) SignalAll() {
	h.mu.RLock()
	type target struct {
		fn    func(Signal)
		table Table
	}
	targets := make([]target, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, target{fn: s.onSignal, table: s.handle.Table})
	}
	h.mu.RUnlock()
	for _, t := range targets {
		t.fn(Signal{Table: t.table})
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.subs = make(map[string]*hubSubscription)
	h.mu.Unlock()
	return nil
}
