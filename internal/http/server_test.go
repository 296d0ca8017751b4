package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/engine"
	"fintrack/internal/insight"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/report"
	"fintrack/internal/repository"
	"fintrack/internal/store"
	"fintrack/internal/store/memory"
	"fintrack/internal/subscription"
)

type fakeInsights struct {
	err     error
	summary insight.Summary
}

func (f *fakeInsights) Request(_ context.Context, s insight.Summary) (string, error) {
	f.summary = s
	if f.err != nil {
		return "", f.err
	}
	return "spend less on food", nil
}

type fakePublisher struct {
	published []report.Descriptor
}

func (f *fakePublisher) PublishAll(_ context.Context, ds []report.Descriptor) error {
	f.published = ds
	return nil
}

func seed(t *testing.T, s *memory.Store) {
	t.Helper()
	ctx := context.Background()
	rows := []struct {
		table store.Table
		row   store.Row
	}{
		{store.TableGroups, store.Row{"id": "g1", "owner": "bob", "name": "Home", "members": []string{"bob", "alice"}}},
		{store.TableGroups, store.Row{"id": "g2", "owner": "dave", "name": "Work", "members": []string{"dave"}}},
		{store.TableCategories, store.Row{"id": "food", "owner": "alice", "name": "Food"}},
		{store.TableExpenses, store.Row{"id": "e1", "owner": "alice", "amount": "10.00", "date": "2024-03-01", "category_id": "food", "payment_method": "card"}},
		{store.TableExpenses, store.Row{"id": "e2", "owner": "alice", "amount": "30.00", "date": "2024-03-10", "payment_method": "cash"}},
		{store.TableExpenses, store.Row{"id": "e3", "owner": "alice", "group_id": "g1", "amount": "20.00", "date": "2024-03-02"}},
		{store.TableIncomes, store.Row{"id": "i1", "owner": "alice", "amount": "100.00", "date": "2024-03-05", "source": "salary"}},
		{store.TableBudgets, store.Row{"id": "b1", "owner": "alice", "name": "March", "amount": "50.00", "start_date": "2024-03-01", "end_date": "2024-03-31"}},
		{store.TableSavingsGoals, store.Row{"id": "s1", "owner": "alice", "name": "Trip", "target_amount": "200.00", "current_amount": "50.00"}},
	}
	for _, r := range rows {
		require.NoError(t, s.Insert(ctx, r.table, r.row))
	}
}

func newTestServer(t *testing.T, opts Options) (*Server, *engine.Engine) {
	t.Helper()
	s := memory.New(nil)
	seed(t, s)
	eng, err := engine.New(s, engine.Options{
		Principal: "alice",
		Currency:  "EUR",
		Retry:     repository.Retry{Attempts: 1, Delay: time.Millisecond, MaxDelay: time.Millisecond},
		Subscribe: subscription.Policy{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Clock:     func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	require.NoError(t, eng.Start(context.Background()))
	settle(t, eng)

	srv := NewServer(":0", eng, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, eng
}

func settle(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Settle(ctx))
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[map[string]any](t, rec)["status"])
}

func TestStatusAndViews(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	st := decode[engine.Status](t, do(t, srv, http.MethodGet, "/api/status", ""))
	assert.Equal(t, "personal:alice", st.Scope)
	assert.True(t, st.Loaded)
	assert.False(t, st.Stale)

	rec := do(t, srv, http.MethodGet, "/api/breakdown/payment-methods?sort=amount", "")
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[struct {
		Entries []struct {
			Label  string `json:"label"`
			Amount string `json:"amount"`
		} `json:"entries"`
		Total string `json:"total"`
	}](t, rec)
	require.Len(t, b.Entries, 2)
	assert.Equal(t, "cash", b.Entries[0].Label)
	assert.Equal(t, "40", b.Total)

	rec = do(t, srv, http.MethodGet, "/api/breakdown/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	budgets := decode[[]map[string]any](t, do(t, srv, http.MethodGet, "/api/budgets", ""))
	require.Len(t, budgets, 1)
	assert.Equal(t, "40", budgets[0]["spent"])

	flow := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/cashflow?from=2024-03-05&to=2024-03-31", ""))
	assert.Equal(t, "100", flow["income"])
	assert.Equal(t, "30", flow["expenses"])
	assert.Equal(t, "70", flow["net"])

	rec = do(t, srv, http.MethodGet, "/api/cashflow?from=2024-03-31&to=2024-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	trend := decode[[]map[string]any](t, do(t, srv, http.MethodGet, "/api/trend?days=7", ""))
	assert.Len(t, trend, 7)
	assert.Equal(t, "2024-03-15", trend[len(trend)-1]["date"])

	rec = do(t, srv, http.MethodGet, "/api/trend?days=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	savings := decode[[]map[string]any](t, do(t, srv, http.MethodGet, "/api/savings", ""))
	require.Len(t, savings, 1)
	assert.Equal(t, "25", savings[0]["progress"])

	monthly := decode[[]map[string]any](t, do(t, srv, http.MethodGet, "/api/cashflow/monthly", ""))
	assert.Len(t, monthly, 12)
}

func TestScopeSwitching(t *testing.T) {
	srv, eng := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodPut, "/api/scope", `{"kind":"group","group_id":"g1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sc := decode[scopeResponse](t, rec)
	assert.Equal(t, "group:g1", sc.Key)
	assert.ElementsMatch(t, []string{"bob", "alice"}, sc.Members)
	settle(t, eng)

	b := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/breakdown/categories", ""))
	assert.Equal(t, "20", b["total"])

	rec = do(t, srv, http.MethodPut, "/api/scope", `{"kind":"group","group_id":"g2"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "group:g1", eng.Scope().Key())

	rec = do(t, srv, http.MethodPut, "/api/scope", `{"kind":"team"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/scope", `{"kind":"personal","group_id":"g1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/scope", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/scope", `{"kind":"personal"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "personal:alice", decode[scopeResponse](t, rec).Key)

	groups := decode[[]core.Group](t, do(t, srv, http.MethodGet, "/api/groups", ""))
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0].ID)
}

func TestReports(t *testing.T) {
	pub := &fakePublisher{}
	srv, _ := newTestServer(t, Options{Publisher: pub})

	list := decode[[]reportSummary](t, do(t, srv, http.MethodGet, "/api/reports", ""))
	require.Len(t, list, len(report.IDs))
	assert.Equal(t, report.IDCashFlow, list[0].ID)

	rec := do(t, srv, http.MethodGet, "/api/reports/payment-methods", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "payment-methods.csv")
	assert.Contains(t, rec.Body.String(), "cash")

	rec = do(t, srv, http.MethodGet, "/api/reports/payment-methods?format=json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payment-methods", decode[report.Descriptor](t, rec).ID)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/reports/nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/reports/cash-flow?format=xml", "").Code)

	rec = do(t, srv, http.MethodPost, "/api/reports/publish", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, pub.published, len(report.IDs))
}

func TestOptionalIntegrations(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	assert.Equal(t, http.StatusNotImplemented, do(t, srv, http.MethodPost, "/api/insights", "").Code)
	assert.Equal(t, http.StatusNotImplemented, do(t, srv, http.MethodPost, "/api/reports/publish", "").Code)

	ins := &fakeInsights{}
	srv, _ = newTestServer(t, Options{Insights: ins})
	rec := do(t, srv, http.MethodPost, "/api/insights", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "spend less on food", decode[map[string]string](t, rec)["advice"])
	assert.Equal(t, "personal:alice", ins.summary.Scope)

	ins.err = errors.Join(core.ErrInsightUnavailable, errors.New("quota"))
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodPost, "/api/insights", "").Code)
}

func TestRefreshIsRateLimited(t *testing.T) {
	srv, eng := newTestServer(t, Options{RateLimit: ratelimit.Config{RequestsPerMinute: 2}})

	assert.Equal(t, http.StatusAccepted, do(t, srv, http.MethodPost, "/api/refresh", "").Code)
	assert.Equal(t, http.StatusAccepted, do(t, srv, http.MethodPost, "/api/refresh", "").Code)
	rec := do(t, srv, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"), "the next token is half a minute away")

	// reads are not limited
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/status", "").Code)
	settle(t, eng)
	assert.Equal(t, uint64(3), eng.Status().Cycles)
}

func TestClosedEngineIsUnavailable(t *testing.T) {
	srv, eng := newTestServer(t, Options{})
	require.NoError(t, eng.Close())

	rec := do(t, srv, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodPut, "/api/scope", `{"kind":"personal"}`).Code)
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
