//go:build integration

package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"fintrack/internal/store"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("fintrack"),
		tcpostgres.WithUsername("fintrack"),
		tcpostgres.WithPassword("fintrack"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestStoreAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: startPostgres(t)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	signals := make(chan store.Signal, 8)
	_, err = s.Subscribe(ctx, store.TableExpenses,
		[]store.Filter{store.Eq("owner", "alice"), store.IsNull("group_id")},
		func(sig store.Signal) { signals <- sig })
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, store.TableExpenses, store.Row{
		"id": "e1", "owner": "alice", "amount": "12.50", "date": "2024-03-01", "title": "Lunch",
	}))

	select {
	case sig := <-signals:
		assert.Equal(t, store.TableExpenses, sig.Table)
	case <-time.After(10 * time.Second):
		t.Fatal("no change signal from trigger")
	}

	rows, err := s.Select(ctx, store.Query{
		Table:   store.TableExpenses,
		Filters: []store.Filter{store.Eq("owner", "alice"), store.IsNull("group_id")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "12.50", rows[0]["amount"])
	assert.Equal(t, "2024-03-01", rows[0]["date"])

	require.NoError(t, s.Insert(ctx, store.TableGroups, store.Row{
		"id": "g1", "owner": "alice", "name": "Home", "members": []string{"alice", "bob"},
	}))
	groups, err := s.Select(ctx, store.Query{Table: store.TableGroups, Filters: []store.Filter{store.Contains("members", "bob")}})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.JSONEq(t, `["alice","bob"]`, groups[0]["members"].(string))
}

func TestLargeRowsAreAnnouncedByKey(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: startPostgres(t)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	changes := make(chan store.Signal, 2)
	_, err = s.Subscribe(ctx, store.TableExpenses, []store.Filter{store.Eq("owner", "alice")},
		func(sig store.Signal) { changes <- sig })
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, store.TableExpenses, store.Row{
		"id": "e1", "owner": "alice", "amount": "3.00", "date": "2024-03-01", "title": strings.Repeat("x", 10000),
	}), "a row larger than the NOTIFY limit still commits")

	select {
	case sig := <-changes:
		assert.Equal(t, store.TableExpenses, sig.Table)
	case <-time.After(10 * time.Second):
		t.Fatal("no change signal for a large row")
	}
}
