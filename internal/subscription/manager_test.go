package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/store"
	"fintrack/internal/store/memory"
)

var fast = Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

func targets(tables ...store.Table) []Target {
	out := make([]Target, 0, len(tables))
	for _, t := range tables {
		out = append(out, Target{Table: t, Filters: []store.Filter{store.Eq("owner", "alice")}})
	}
	return out
}

func TestOpenDeliversSignals(t *testing.T) {
	ctx := context.Background()
	s := memory.New(nil)
	m := NewManager(s, fast, nil)

	got := make(chan store.Signal, 4)
	set, err := m.Open(ctx, core.Personal("alice"), targets(store.TableExpenses, store.TableIncomes), func(sig store.Signal) {
		got <- sig
	})
	require.NoError(t, err)
	assert.False(t, set.Degraded())
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.Insert(ctx, store.TableIncomes, store.Row{"id": "i1", "owner": "alice"}))
	require.NoError(t, s.Insert(ctx, store.TableIncomes, store.Row{"id": "i2", "owner": "bob"}))
	select {
	case sig := <-got:
		assert.Equal(t, store.TableIncomes, sig.Table)
	case <-time.After(time.Second):
		t.Fatal("no signal")
	}
	assert.Empty(t, got, "bob's write is outside the filter")
}

func TestOpenSubscribesEachTableOnce(t *testing.T) {
	s := memory.New(nil)
	m := NewManager(s, fast, nil)

	set, err := m.Open(context.Background(), core.Personal("alice"),
		targets(store.TableExpenses, store.TableExpenses, store.TableBudgets), func(store.Signal) {})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 2, s.Len())

	m.Close(set)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, s.Len())
}

func TestSetsOnTheSameScopeAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := memory.New(nil)
	m := NewManager(s, fast, nil)
	scope := core.Personal("alice")

	var mu sync.Mutex
	counts := map[string]int{}
	consumer := func(name string) func(store.Signal) {
		return func(store.Signal) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		}
	}

	first, err := m.Open(ctx, scope, targets(store.TableExpenses), consumer("first"))
	require.NoError(t, err)
	second, err := m.Open(ctx, scope, targets(store.TableExpenses), consumer("second"))
	require.NoError(t, err)
	assert.NotEqual(t, first.handles[0].ID, second.handles[0].ID)
	assert.Equal(t, 2, m.Len())

	m.Close(first)
	assert.Equal(t, 1, second.Len())
	assert.Equal(t, 1, s.Len(), "closing one set leaves the other subscribed")

	require.NoError(t, s.Insert(ctx, store.TableExpenses, store.Row{"id": "e1", "owner": "alice"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["second"] == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Zero(t, counts["first"])
	mu.Unlock()

	m.Close(second)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, s.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	s := memory.New(nil)
	m := NewManager(s, fast, nil)
	set, err := m.Open(context.Background(), core.Personal("alice"), targets(store.TableExpenses), func(store.Signal) {})
	require.NoError(t, err)

	m.Close(set)
	m.Close(set)
	m.Close(nil)
	m.Close(&HandleSet{})
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, s.Len())
}

func TestOpenRetriesThenSucceeds(t *testing.T) {
	sub := &flakySubscriber{Subscriber: memory.New(nil), failures: 2}
	m := NewManager(sub, fast, nil)

	set, err := m.Open(context.Background(), core.Personal("alice"), targets(store.TableExpenses), func(store.Signal) {})
	require.NoError(t, err)
	assert.False(t, set.Degraded())
	assert.Equal(t, 3, sub.attempts())
}

func TestOpenDegradesAfterCeiling(t *testing.T) {
	sub := &flakySubscriber{Subscriber: memory.New(nil), failures: 100}
	m := NewManager(sub, fast, nil)

	set, err := m.Open(context.Background(), core.Personal("alice"), targets(store.TableExpenses), func(store.Signal) {})
	require.NoError(t, err, "exhausted retries degrade instead of failing")
	assert.True(t, set.Degraded())
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, int(fast.Attempts), sub.attempts())
	assert.ErrorContains(t, set.Err(), "subscribe expenses")
}

func TestOpenDoesNotRetryPermissionDenied(t *testing.T) {
	sub := &flakySubscriber{
		Subscriber: memory.New(nil),
		failures:   100,
		err:        core.NewQueryError(core.KindPermissionDenied, "subscribe", "expenses", errors.New("denied")),
	}
	m := NewManager(sub, fast, nil)

	set, err := m.Open(context.Background(), core.Personal("alice"), targets(store.TableExpenses), func(store.Signal) {})
	require.NoError(t, err)
	assert.True(t, set.Degraded())
	assert.Equal(t, 1, sub.attempts())
}

func TestOpenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager(memory.New(nil), fast, nil)
	_, err := m.Open(ctx, core.Personal("alice"), targets(store.TableExpenses), func(store.Signal) {})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Len())
}

type flakySubscriber struct {
	store.Subscriber
	failures int
	err      error

	mu    sync.Mutex
	calls int
}

func (f *flakySubscriber) Subscribe(ctx context.Context, table store.Table, filters []store.Filter, fn func(store.Signal)) (store.Handle, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		if f.err != nil {
			return store.Handle{}, f.err
		}
		return store.Handle{}, core.NewQueryError(core.KindTransient, "subscribe", string(table), errors.New("connection refused"))
	}
	return f.Subscriber.Subscribe(ctx, table, filters, fn)
}

func (f *flakySubscriber) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
