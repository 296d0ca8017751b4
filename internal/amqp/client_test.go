package amqp

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/log"
	"fintrack/internal/store"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{64, 30 * time.Second}, // no shift overflow
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := exponentialBackoff(tt.attempt)
			if result != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection error", errors.New("dial tcp: connection refused"), true},
		{"closed connection error", errors.New("connection closed"), true},
		{"EOF error", errors.New("unexpected EOF"), true},
		{"broken pipe error", errors.New("broken pipe"), true},
		{"closed network connection error", errors.New("use of closed network connection"), true},
		{"other error", errors.New("some other error"), false},
		{"access refused", errors.New("Exception (403) Reason: \"ACCESS_REFUSED\""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isConnectionError(tt.err))
		})
	}
}

func TestChangeMessageJSON(t *testing.T) {
	c := store.Change{
		Table: store.TableExpenses,
		Op:    store.ChangeUpdate,
		Old:   store.Row{"id": "e1", "owner": "alice", "group_id": nil},
		New:   store.Row{"id": "e1", "owner": "alice", "group_id": "g1"},
	}
	msg := NewChangeMessage(c, "proc-1")
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Second)

	body, err := msg.ToJSON()
	require.NoError(t, err)
	parsed, err := ChangeMessageFromJSON(body)
	require.NoError(t, err)

	assert.Equal(t, store.TableExpenses, parsed.Change.Table)
	assert.Equal(t, "proc-1", parsed.Origin)
	assert.True(t, parsed.Change.Matches(store.TableExpenses, []store.Filter{store.Eq("group_id", "g1")}))

	_, err = ChangeMessageFromJSON([]byte(`{"change": 1}`))
	assert.Error(t, err)
}

func TestDeliverFiltersChanges(t *testing.T) {
	f := &Feed{logger: log.Nop()}
	var hits atomic.Int32
	sub := &subscription{
		handle:   store.Handle{ID: "h1", Table: store.TableIncomes},
		filters:  []store.Filter{store.Eq("owner", "alice"), store.IsNull("group_id")},
		onSignal: func(s store.Signal) { hits.Add(1) },
	}

	mine, _ := NewChangeMessage(store.Change{Table: store.TableIncomes, Op: store.ChangeInsert, New: store.Row{"owner": "alice"}}, "p").ToJSON()
	theirs, _ := NewChangeMessage(store.Change{Table: store.TableIncomes, Op: store.ChangeInsert, New: store.Row{"owner": "bob"}}, "p").ToJSON()

	f.deliver(sub, mine)
	f.deliver(sub, theirs)
	f.deliver(sub, []byte("not json"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestUnsubscribeUnknownHandleIsNoop(t *testing.T) {
	f := &Feed{logger: log.Nop(), subs: map[string]*subscription{}}
	assert.NoError(t, f.Unsubscribe(store.Handle{ID: "nope"}))
	assert.NoError(t, f.Unsubscribe(store.Handle{ID: "nope"}))
}
