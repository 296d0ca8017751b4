// Package engine keeps derived financial views current for the active
// workspace. All state changes run on one loop goroutine; readers see an
// immutable published state and never block on the loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fintrack/internal/aggregate"
	"fintrack/internal/core"
	"fintrack/internal/groups"
	"fintrack/internal/log"
	"fintrack/internal/repository"
	"fintrack/internal/report"
	"fintrack/internal/store"
	"fintrack/internal/subscription"
	"fintrack/internal/workspace"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("engine closed")

// Store is what the engine needs from the remote store.
type Store interface {
	store.Reader
	store.Subscriber
}

type Options struct {
	Principal string
	Currency  string
	TrendDays int
	Retry     repository.Retry
	Subscribe subscription.Policy
	Clock     func() time.Time
	Logger    *log.Logger
}

// StaleEvent reports that views are being served from an older snapshot.
// Table is empty when the cause is not a single table, e.g. subscriptions
// that could not be opened.
type StaleEvent struct {
	Scope      string
	Generation uint64
	Table      store.Table
	Kind       core.Kind
	Err        error
	At         time.Time
}

type Engine struct {
	principal string
	currency  string
	trendDays int
	clock     func() time.Time
	logger    *log.Logger

	directory *groups.Directory
	repos     *repository.Set
	subs      *subscription.Manager

	published atomic.Pointer[state]

	events chan func()
	wake   chan struct{}
	sigMu  sync.Mutex
	queued []signal

	listenersMu sync.Mutex
	listeners   map[int]func(StaleEvent)
	nextID      int
	notify      chan StaleEvent

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	discarded atomic.Uint64

	// Owned by the loop goroutine.
	ws        *workspace.Context
	handles   *subscription.HandleSet
	genCtx    context.Context
	genCancel context.CancelFunc
	pending   map[store.Table]bool
	inFlight  bool
	opening   int
	resolving int
	failed    map[store.Table]error
	degraded  bool
	cycles    uint64
	waiters   []chan struct{}
}

func New(backend Store, opts Options) (*Engine, error) {
	if opts.Principal == "" {
		return nil, fmt.Errorf("%w: empty principal", core.ErrInvalidScope)
	}
	if opts.Currency == "" {
		opts.Currency = core.DefaultCurrency
	}
	if opts.TrendDays <= 0 {
		opts.TrendDays = aggregate.DefaultTrendDays
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := log.OrNop(opts.Logger)
	repos := repository.NewSet(backend, opts.Retry, logger)

	e := &Engine{
		principal: opts.Principal,
		currency:  opts.Currency,
		trendDays: opts.TrendDays,
		clock:     opts.Clock,
		logger:    logger.WithComponent(log.ComponentEngine),
		directory: groups.NewDirectory(backend, opts.Retry, logger),
		repos:     repos,
		subs:      subscription.NewManager(backend, opts.Subscribe, logger),
		events:    make(chan func(), 64),
		wake:      make(chan struct{}, 1),
		listeners: make(map[int]func(StaleEvent)),
		notify:    make(chan StaleEvent, 64),
		done:      make(chan struct{}),
		ws:        workspace.New(opts.Principal, repos),
		pending:   make(map[store.Table]bool),
		failed:    make(map[store.Table]error),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.publish()
	return e, nil
}

// Start runs the loop and switches to the principal's personal scope. It
// returns once the switch is applied; the initial fetch continues in the
// background.
func (e *Engine) Start(ctx context.Context) error {
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.loop()
		go e.notifier()
	})
	return e.SetScope(ctx, core.Personal(e.principal))
}

// Close stops the loop and closes every subscription. It is safe to call
// more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		if e.started.Load() {
			<-e.done
		} else {
			close(e.done)
		}
	})
	return nil
}

// SetScope switches the workspace. Group scopes are resolved against the
// group directory first; a principal outside the group gets
// core.ErrScopeDenied and the active scope is left untouched.
func (e *Engine) SetScope(ctx context.Context, req core.Scope) error {
	if req.Principal != "" && req.Principal != e.principal {
		return fmt.Errorf("%w: scope belongs to %s", core.ErrScopeDenied, req.Principal)
	}
	req.Principal = e.principal
	if err := req.Validate(); err != nil {
		return err
	}

	scope := core.Personal(e.principal)
	if req.IsGroup() {
		resolved, err := e.directory.ScopeFor(ctx, e.principal, req.GroupID)
		if err != nil {
			e.logger.Warn("Scope switch refused", log.FieldScope, req.Key(), log.FieldError, err)
			return err
		}
		scope = resolved
	}

	applied := make(chan struct{})
	if !e.post(func() {
		e.switchScope(scope)
		close(applied)
	}) {
		return ErrClosed
	}
	select {
	case <-applied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// Scope returns the active scope.
func (e *Engine) Scope() core.Scope {
	return e.current().scope
}

// Groups lists the groups the principal can switch to.
func (e *Engine) Groups(ctx context.Context) ([]core.Group, error) {
	return e.directory.ListForPrincipal(ctx, e.principal)
}

// Refresh re-fetches every table of the active scope.
func (e *Engine) Refresh() error {
	if !e.post(func() {
		for _, t := range store.RecordTables {
			e.pending[t] = true
		}
		e.startCycle()
	}) {
		return ErrClosed
	}
	return nil
}

// Settle waits until no fetch, subscription open or signal is outstanding
// for the active scope.
func (e *Engine) Settle(ctx context.Context) error {
	idle := make(chan struct{})
	if !e.post(func() { e.waiters = append(e.waiters, idle) }) {
		return ErrClosed
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// OnStale registers fn for stale events and returns a func that removes
// it. Callbacks run on a dedicated goroutine, one at a time.
func (e *Engine) OnStale(fn func(StaleEvent)) (remove func()) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		delete(e.listeners, id)
	}
}

// ExportReport serializes one report of the latest recompute.
func (e *Engine) ExportReport(id string, format report.Format) ([]byte, error) {
	d, err := report.Find(e.Reports(), id)
	if err != nil {
		return nil, err
	}
	return report.Export(d, format)
}

func (e *Engine) post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.events <- fn:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) emitStale(ev StaleEvent) {
	select {
	case e.notify <- ev:
	default:
		e.logger.Warn("Stale event dropped, listeners are behind", log.FieldScope, ev.Scope, log.FieldTable, ev.Table)
	}
}

func (e *Engine) notifier() {
	for {
		select {
		case ev := <-e.notify:
			e.listenersMu.Lock()
			fns := make([]func(StaleEvent), 0, len(e.listeners))
			for i := 0; i < e.nextID; i++ {
				if fn, ok := e.listeners[i]; ok {
					fns = append(fns, fn)
				}
			}
			e.listenersMu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		case <-e.done:
			return
		}
	}
}
