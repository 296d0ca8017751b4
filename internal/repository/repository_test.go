package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/store"
	"fintrack/internal/store/memory"
)

var fastRetry = Retry{Attempts: 3, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func seed(t *testing.T, s *memory.Store, table store.Table, rows ...store.Row) {
	t.Helper()
	for _, r := range rows {
		require.NoError(t, s.Insert(context.Background(), table, r))
	}
}

func homeScope() core.Scope {
	return core.GroupScope("alice", core.Group{ID: "g1", Owner: "alice", Members: []string{"alice", "bob"}})
}

func TestPartitionFilters(t *testing.T) {
	assert.Equal(t, "owner=eq.alice&group_id=is.null",
		store.FilterString(PartitionFilters(core.Personal("alice"))))
	assert.Equal(t, "group_id=eq.g1", store.FilterString(PartitionFilters(homeScope())))
	assert.Equal(t, "owner=in.(alice,bob)", store.FilterString(MemberFilters(homeScope())))
	assert.Equal(t, "owner=eq.alice", store.FilterString(MemberFilters(core.Personal("alice"))))
	assert.Nil(t, GroupFilters(core.Personal("alice")))
}

func TestExpensesFetchIsolatesScopes(t *testing.T) {
	s := memory.New(nil)
	seed(t, s, store.TableExpenses,
		store.Row{"id": "e1", "owner": "alice", "amount": "10.00", "date": "2024-03-01"},
		store.Row{"id": "e2", "owner": "alice", "group_id": "g1", "amount": "20.00", "date": "2024-03-02"},
		store.Row{"id": "e3", "owner": "bob", "group_id": "g1", "amount": "5.50", "date": "2024-03-01"},
		store.Row{"id": "e4", "owner": "bob", "amount": "7.00", "date": "2024-03-01"},
	)
	repo := NewExpenses(s, fastRetry, nil)

	personal, err := repo.Fetch(context.Background(), core.Personal("alice"))
	require.NoError(t, err)
	require.Len(t, personal, 1)
	assert.Equal(t, "e1", personal[0].ID)

	group, err := repo.Fetch(context.Background(), homeScope())
	require.NoError(t, err)
	require.Len(t, group, 2)
	assert.Equal(t, "e3", group[0].ID, "ordered by date then id")
	assert.Equal(t, "e2", group[1].ID)
	assert.Equal(t, "20", group[1].Amount.String())
}

func TestCategoriesGroupScopeCoversMembers(t *testing.T) {
	s := memory.New(nil)
	seed(t, s, store.TableCategories,
		store.Row{"id": "c1", "owner": "alice", "name": "Food"},
		store.Row{"id": "c2", "owner": "bob", "name": "Car", "active": false},
		store.Row{"id": "c3", "owner": "carol", "name": "Rent"},
	)
	cats, err := NewCategories(s, fastRetry, nil).Fetch(context.Background(), homeScope())
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Car", cats[0].Name)
	assert.False(t, cats[0].Active)
	assert.True(t, cats[1].Active, "active defaults to true")
}

func TestFetchDropsInvalidRows(t *testing.T) {
	s := memory.New(nil)
	seed(t, s, store.TableBudgets,
		store.Row{"id": "b1", "owner": "alice", "amount": "100", "start_date": "2024-03-01", "end_date": "2024-03-31"},
		store.Row{"id": "b2", "owner": "alice", "amount": "100", "start_date": "2024-04-01", "end_date": "2024-03-01"},
		store.Row{"id": "b3", "owner": "alice", "amount": "100", "start_date": "2024-02-01", "end_date": "2024-02-28", "alert_threshold": "1.5"},
	)
	budgets, err := NewBudgets(s, fastRetry, nil).Fetch(context.Background(), core.Personal("alice"))
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, "b1", budgets[0].ID)
	assert.Equal(t, "0.8", budgets[0].AlertThreshold.String())
}

func TestFetchSchemaMismatch(t *testing.T) {
	s := memory.New(nil)
	seed(t, s, store.TableIncomes,
		store.Row{"id": "i1", "owner": "alice", "amount": "twelve", "date": "2024-03-01"},
	)
	_, err := NewIncomes(s, fastRetry, nil).Fetch(context.Background(), core.Personal("alice"))
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaMismatch, core.KindOf(err))
	assert.Contains(t, err.Error(), "migrate")
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	s := memory.New(nil)
	seed(t, s, store.TableIncomes,
		store.Row{"id": "i1", "owner": "alice", "amount": "1500", "date": "2024-03-01", "source": "Salary"},
	)
	reader := &flakyReader{Reader: s, failures: 2}
	incomes, err := NewIncomes(reader, fastRetry, nil).Fetch(context.Background(), core.Personal("alice"))
	require.NoError(t, err)
	require.Len(t, incomes, 1)
	assert.Equal(t, 3, reader.calls)
}

func TestFetchDoesNotRetryPermissionDenied(t *testing.T) {
	s := memory.New(nil)
	denied := core.NewQueryError(core.KindPermissionDenied, "select", "expenses", errors.New("rls"))
	s.FailSelects(store.TableExpenses, denied)
	reader := &flakyReader{Reader: s}

	_, err := NewExpenses(reader, fastRetry, nil).Fetch(context.Background(), core.Personal("alice"))
	require.Error(t, err)
	assert.Equal(t, core.KindPermissionDenied, core.KindOf(err))
	assert.Equal(t, 1, reader.calls)
}

func TestFetchWrapsUnclassifiedErrors(t *testing.T) {
	s := memory.New(nil)
	s.FailSelects(store.TableExpenses, errors.New("boom"))
	_, err := NewExpenses(s, fastRetry, nil).Fetch(context.Background(), core.Personal("alice"))
	require.Error(t, err)
	assert.Equal(t, core.KindUnknown, core.KindOf(err))

	var qe *core.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "expenses", qe.Table)
}

func TestFetchRoundsAmountsToCents(t *testing.T) {
	s := memory.New(nil)
	seed(t, s, store.TableExpenses,
		store.Row{"id": "e1", "owner": "alice", "amount": "10.005", "date": "2024-03-01"},
		store.Row{"id": "e2", "owner": "alice", "amount": 2.004, "date": "2024-03-02"},
	)
	seed(t, s, store.TableBudgets,
		store.Row{"id": "b1", "owner": "alice", "name": "March", "amount": "99.999", "alert_threshold": "0.875",
			"start_date": "2024-03-01", "end_date": "2024-03-31"},
	)

	expenses, err := NewExpenses(s, fastRetry, nil).Fetch(context.Background(), core.Personal("alice"))
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	assert.Equal(t, "10.01", expenses[0].Amount.String())
	assert.Equal(t, "2", expenses[1].Amount.String())

	budgets, err := NewBudgets(s, fastRetry, nil).Fetch(context.Background(), core.Personal("alice"))
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, "100", budgets[0].Amount.String())
	assert.Equal(t, "0.875", budgets[0].AlertThreshold.String(), "ratios are not money")
}

func TestSavingsAchievedIsDerived(t *testing.T) {
	s := memory.New(nil)
	seed(t, s, store.TableSavingsGoals,
		store.Row{"id": "s1", "owner": "alice", "name": "Trip", "target_amount": "1000", "current_amount": "1000", "is_achieved": false},
		store.Row{"id": "s2", "owner": "alice", "name": "Car", "target_amount": "5000", "current_amount": "100", "is_achieved": true, "priority": "high"},
		store.Row{"id": "s3", "owner": "alice", "name": "Bad", "target_amount": "10", "priority": "urgent"},
	)
	goals, err := NewSavingsGoals(s, fastRetry, nil).Fetch(context.Background(), core.Personal("alice"))
	require.NoError(t, err)
	require.Len(t, goals, 2)
	assert.True(t, goals[0].Achieved)
	assert.Equal(t, core.PriorityMedium, goals[0].Priority)
	assert.False(t, goals[1].Achieved)
	assert.Equal(t, core.PriorityHigh, goals[1].Priority)
}

func TestSetFetchAndApply(t *testing.T) {
	s := memory.New(nil)
	seed(t, s, store.TableExpenses,
		store.Row{"id": "e1", "owner": "alice", "amount": "10.00", "date": "2024-03-01"},
	)
	set := NewSet(s, fastRetry, nil)
	assert.False(t, set.Loaded())

	for _, table := range store.RecordTables {
		b, err := set.Fetch(context.Background(), table, core.Personal("alice"))
		require.NoError(t, err)
		require.NoError(t, set.Apply(b))
	}
	assert.True(t, set.Loaded())
	assert.Len(t, set.Expenses.Snapshot(), 1)

	_, err := set.Fetch(context.Background(), store.TableGroups, core.Personal("alice"))
	assert.ErrorIs(t, err, core.ErrUnknownTable)

	set.Clear()
	assert.False(t, set.Loaded())
	assert.Empty(t, set.Expenses.Snapshot())
}

func TestFetchWhere(t *testing.T) {
	s := memory.New(nil)
	seed(t, s, store.TableGroups,
		store.Row{"id": "g1", "owner": "alice", "name": "Home", "members": []string{"alice", "bob"}},
		store.Row{"id": "g2", "owner": "carol", "name": "Work", "members": []string{"carol"}},
	)
	groups, err := NewGroups(s, fastRetry, nil).FetchWhere(context.Background(),
		[]store.Filter{store.Contains("members", "bob")})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"alice", "bob"}, groups[0].Members)
}

type flakyReader struct {
	store.Reader
	failures int
	calls    int
}

func (f *flakyReader) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, core.NewQueryError(core.KindTransient, "select", string(q.Table), errors.New("connection reset"))
	}
	return f.Reader.Select(ctx, q)
}
