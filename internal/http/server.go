// Package http serves the engine's views as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"fintrack/internal/aggregate"
	"fintrack/internal/core"
	"fintrack/internal/engine"
	"fintrack/internal/insight"
	"fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/report"
)

// Engine is the part of the aggregation engine the API serves.
type Engine interface {
	Status() engine.Status
	Scope() core.Scope
	SetScope(ctx context.Context, req core.Scope) error
	Groups(ctx context.Context) ([]core.Group, error)
	Trend(windowDays int) []aggregate.TrendPoint
	CategoryBreakdown() aggregate.Breakdown
	IncomeBreakdown() aggregate.Breakdown
	PaymentMethodBreakdown() aggregate.Breakdown
	BudgetStatus() []aggregate.BudgetStatus
	CashFlow(r aggregate.DateRange) aggregate.CashFlow
	MonthlyCashFlow() []aggregate.MonthFlow
	SavingsProgress() []aggregate.GoalProgress
	Reports() []report.Descriptor
	ExportReport(id string, format report.Format) ([]byte, error)
	Summary() insight.Summary
	Refresh() error
}

// Insights answers a summary with generated advice.
type Insights interface {
	Request(ctx context.Context, s insight.Summary) (string, error)
}

// Publisher pushes report descriptors to an external destination.
type Publisher interface {
	PublishAll(ctx context.Context, ds []report.Descriptor) error
}

type Options struct {
	Insights  Insights
	Publisher Publisher
	RateLimit ratelimit.Config
	Logger    *log.Logger
}

type Server struct {
	http.Server
	engine    Engine
	insights  Insights
	publisher Publisher
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	logger    *log.Logger

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware. Only the mutating routes are rate
// limited.
func NewServer(addr string, eng Engine, opts Options) *Server {
	if opts.RateLimit.RequestsPerMinute == 0 {
		opts.RateLimit = ratelimit.DefaultConfig()
	}
	logger := log.OrNop(opts.Logger).WithComponent(log.ComponentHTTP)
	s := &Server{
		engine:    eng,
		insights:  opts.Insights,
		publisher: opts.Publisher,
		limiter:   ratelimit.NewLimiter(opts.RateLimit),
		detector:  security.NewDetector(),
		logger:    logger,
	}

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/scope", s.handleGetScope)
	mux.Handle("PUT /api/scope", limited(http.HandlerFunc(s.handleSetScope)))
	mux.HandleFunc("GET /api/groups", s.handleGroups)

	mux.HandleFunc("GET /api/trend", s.handleTrend)
	mux.HandleFunc("GET /api/breakdown/{kind}", s.handleBreakdown)
	mux.HandleFunc("GET /api/budgets", s.handleBudgets)
	mux.HandleFunc("GET /api/cashflow", s.handleCashFlow)
	mux.HandleFunc("GET /api/cashflow/monthly", s.handleMonthlyCashFlow)
	mux.HandleFunc("GET /api/savings", s.handleSavings)

	mux.HandleFunc("GET /api/reports", s.handleReports)
	mux.HandleFunc("GET /api/reports/{id}", s.handleExportReport)
	mux.Handle("POST /api/reports/publish", limited(http.HandlerFunc(s.handlePublishReports)))
	mux.Handle("POST /api/insights", limited(http.HandlerFunc(s.handleInsights)))
	mux.Handle("POST /api/refresh", limited(http.HandlerFunc(s.handleRefresh)))

	var handler http.Handler = mux
	handler = s.detector.Middleware(handler)
	handler = security.Headers(security.DefaultHSTS)(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops the listener and the rate limiter's cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(s.limiter.Stop)
	return s.Server.Shutdown(ctx)
}
