package engine

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/repository"
	"fintrack/internal/store"
	"fintrack/internal/subscription"
)

type signal struct {
	generation uint64
	table      store.Table
}

type fetchResult struct {
	table store.Table
	batch repository.Batch
	err   error
}

func (e *Engine) loop() {
	defer e.shutdown()
	for {
		select {
		case fn := <-e.events:
			fn()
		case <-e.wake:
			e.drainSignals()
		case <-e.ctx.Done():
			return
		}
		e.releaseWaiters()
	}
}

func (e *Engine) shutdown() {
	if e.genCancel != nil {
		e.genCancel()
	}
	e.subs.Close(e.handles)
	e.handles = nil
	close(e.done)
	e.logger.Info("Engine stopped", log.FieldCycle, e.cycles)
}

// onSignal returns the callback handed to the store for generation gen.
// It never blocks: signals are queued and the loop is woken.
func (e *Engine) onSignal(gen uint64) func(store.Signal) {
	return func(s store.Signal) {
		e.sigMu.Lock()
		e.queued = append(e.queued, signal{generation: gen, table: s.Table})
		e.sigMu.Unlock()
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) drainSignals() {
	e.sigMu.Lock()
	queued := e.queued
	e.queued = nil
	e.sigMu.Unlock()

	groupChanged := false
	for _, s := range queued {
		if !e.ws.Current(s.generation) {
			continue
		}
		if s.table == store.TableGroups {
			groupChanged = true
			continue
		}
		e.pending[s.table] = true
	}
	if groupChanged {
		e.reresolveGroup()
	}
	e.startCycle()
}

func (e *Engine) switchScope(scope core.Scope) {
	e.subs.Close(e.handles)
	e.handles = nil
	if e.genCancel != nil {
		e.genCancel()
	}

	gen := e.ws.Switch(scope)
	e.genCtx, e.genCancel = context.WithCancel(e.ctx)
	e.inFlight = false
	e.degraded = false
	e.failed = make(map[store.Table]error)
	e.pending = make(map[store.Table]bool)
	for _, t := range store.RecordTables {
		e.pending[t] = true
	}
	e.logger.Info("Scope switched", log.FieldScope, scope.Key(), log.FieldGeneration, gen)

	e.publish()
	e.startCycle()
	e.openSubscriptions(gen, scope)
}

func (e *Engine) openSubscriptions(gen uint64, scope core.Scope) {
	tables := store.RecordTables
	if scope.IsGroup() {
		tables = store.AllTables
	}
	targets := make([]subscription.Target, 0, len(tables))
	for _, t := range tables {
		filters, err := e.ws.Filters(t)
		if err != nil {
			e.logger.Error("No filters for table", log.FieldTable, t, log.FieldError, err)
			continue
		}
		targets = append(targets, subscription.Target{Table: t, Filters: filters})
	}

	ctx := e.genCtx
	e.opening++
	go func() {
		set, err := e.subs.Open(ctx, scope, targets, e.onSignal(gen))
		if !e.post(func() {
			e.opening--
			e.subscriptionsOpened(gen, set, err)
		}) {
			e.subs.Close(set)
		}
	}()
}

func (e *Engine) subscriptionsOpened(gen uint64, set *subscription.HandleSet, err error) {
	if !e.ws.Current(gen) {
		e.subs.Close(set)
		return
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Error("Subscriptions not opened", log.FieldGeneration, gen, log.FieldError, err)
		}
		return
	}
	e.handles = set
	if set.Degraded() {
		e.degraded = true
		e.emitStale(StaleEvent{
			Scope:      e.ws.Scope().Key(),
			Generation: gen,
			Kind:       core.KindOf(set.Err()),
			Err:        set.Err(),
			At:         e.clock(),
		})
	}
	e.publish()
}

// startCycle fetches every pending table, unless a cycle is already in
// flight; signals arriving meanwhile accumulate in pending and are served
// by exactly one follow-up cycle.
func (e *Engine) startCycle() {
	if e.inFlight || len(e.pending) == 0 {
		return
	}
	tables := make([]store.Table, 0, len(e.pending))
	for t := range e.pending {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i] < tables[j] })
	e.pending = make(map[store.Table]bool)
	e.inFlight = true

	gen, scope, ctx := e.ws.Generation(), e.ws.Scope(), e.genCtx
	go func() {
		results := e.fetch(ctx, scope, tables)
		e.post(func() { e.cycleFetched(gen, results) })
	}()
}

func (e *Engine) fetch(ctx context.Context, scope core.Scope, tables []store.Table) []fetchResult {
	results := make([]fetchResult, len(tables))
	var g errgroup.Group
	for i, t := range tables {
		g.Go(func() error {
			batch, err := e.repos.Fetch(ctx, t, scope)
			results[i] = fetchResult{table: t, batch: batch, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) cycleFetched(gen uint64, results []fetchResult) {
	if !e.ws.Current(gen) {
		e.discarded.Add(1)
		e.logger.Debug("Discarding results of a previous scope", log.FieldGeneration, gen)
		return
	}
	e.inFlight = false

	for _, r := range results {
		if r.err != nil {
			if errors.Is(r.err, context.Canceled) {
				continue
			}
			e.failed[r.table] = r.err
			e.logger.Warn("Fetch failed, keeping previous snapshot",
				log.FieldScope, e.ws.Scope().Key(), log.FieldTable, r.table,
				log.FieldErrorKind, core.KindOf(r.err).String(), log.FieldError, r.err)
			e.emitStale(StaleEvent{
				Scope:      e.ws.Scope().Key(),
				Generation: gen,
				Table:      r.table,
				Kind:       core.KindOf(r.err),
				Err:        r.err,
				At:         e.clock(),
			})
			continue
		}
		if _, err := e.ws.Apply(gen, r.batch); err != nil {
			e.failed[r.table] = err
			continue
		}
		delete(e.failed, r.table)
	}

	e.recompute()
	e.startCycle()
}

func (e *Engine) recompute() {
	e.cycles++
	e.publish()
	st := e.current()
	e.logger.Debug("Views recomputed",
		log.FieldScope, st.scope.Key(), log.FieldGeneration, st.generation,
		log.FieldCycle, st.cycles, log.FieldRows, len(st.snapshot.Expenses))
}

// reresolveGroup re-reads the active group after its row changed. Losing
// membership falls back to the personal scope; a changed member list
// re-scopes the subscriptions.
func (e *Engine) reresolveGroup() {
	scope := e.ws.Scope()
	if !scope.IsGroup() {
		return
	}
	gen, ctx := e.ws.Generation(), e.genCtx
	e.resolving++
	go func() {
		resolved, err := e.directory.ScopeFor(ctx, e.principal, scope.GroupID)
		e.post(func() {
			e.resolving--
			if !e.ws.Current(gen) {
				return
			}
			switch {
			case errors.Is(err, core.ErrScopeDenied):
				e.logger.Warn("Group no longer accessible, returning to personal scope", log.FieldScope, scope.Key())
				e.emitStale(StaleEvent{Scope: scope.Key(), Generation: gen, Table: store.TableGroups, Err: err, At: e.clock()})
				e.switchScope(core.Personal(e.principal))
			case err != nil:
				e.logger.Warn("Group re-resolve failed", log.FieldScope, scope.Key(), log.FieldError, err)
			case !sameMembers(scope.Members, resolved.Members):
				e.switchScope(resolved)
			}
		})
	}()
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func (e *Engine) idle() bool {
	if e.inFlight || len(e.pending) > 0 || e.opening > 0 || e.resolving > 0 {
		return false
	}
	e.sigMu.Lock()
	defer e.sigMu.Unlock()
	return len(e.queued) == 0
}

func (e *Engine) releaseWaiters() {
	if len(e.waiters) == 0 || !e.idle() {
		return
	}
	for _, w := range e.waiters {
		close(w)
	}
	e.waiters = nil
}
