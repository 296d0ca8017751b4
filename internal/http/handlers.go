package http

import (
	"net/http"
	"strconv"

	"fintrack/internal/aggregate"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/report"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports 503 until the first fetch cycle of the active scope
// has completed.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	if !st.Loaded {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "loading", "scope": st.Scope})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "scope": st.Scope, "stale": st.Stale})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleGetScope(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toScopeResponse(s.engine.Scope()))
}

func (s *Server) handleSetScope(w http.ResponseWriter, r *http.Request) {
	req, err := ParseScopeRequest(r)
	if err != nil {
		fail(w, r, log.OpSwitchScope, err)
		return
	}
	if err := s.engine.SetScope(r.Context(), req); err != nil {
		fail(w, r, log.OpSwitchScope, err)
		return
	}
	writeJSON(w, http.StatusOK, toScopeResponse(s.engine.Scope()))
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.engine.Groups(r.Context())
	if err != nil {
		fail(w, r, "list_groups", err)
		return
	}
	if groups == nil {
		groups = []core.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	days, err := ParseWindowDays(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nonNil(s.engine.Trend(days)))
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	var b aggregate.Breakdown
	switch r.PathValue("kind") {
	case "categories":
		b = s.engine.CategoryBreakdown()
	case "income":
		b = s.engine.IncomeBreakdown()
	case "payment-methods":
		b = s.engine.PaymentMethodBreakdown()
	default:
		writeError(w, http.StatusNotFound, "unknown breakdown "+strconv.Quote(r.PathValue("kind")))
		return
	}
	if r.URL.Query().Get("sort") == "amount" {
		b = b.Sorted()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": nonNil([]aggregate.Entry(b)),
		"total":   b.Total(),
	})
}

func (s *Server) handleBudgets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.BudgetStatus()))
}

func (s *Server) handleCashFlow(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseDateRange(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.CashFlow(rng))
}

func (s *Server) handleMonthlyCashFlow(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.MonthlyCashFlow()))
}

func (s *Server) handleSavings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.SavingsProgress()))
}

type reportSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Rows        int    `json:"rows"`
}

func (s *Server) handleReports(w http.ResponseWriter, _ *http.Request) {
	ds := s.engine.Reports()
	out := make([]reportSummary, 0, len(ds))
	for _, d := range ds {
		out = append(out, reportSummary{
			ID:          d.ID,
			Title:       d.Title,
			Category:    d.Category,
			Description: d.Description,
			Rows:        len(d.Data.Rows),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := s.engine.ExportReport(id, format)
	if err != nil {
		fail(w, r, log.OpExport, err)
		return
	}
	NewResponse().
		Header("Content-Disposition", `attachment; filename="`+id+"."+string(format)+`"`).
		Raw(format.ContentType(), body).
		Write(w)
}

func (s *Server) handlePublishReports(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		writeError(w, http.StatusNotImplemented, "report publishing is not configured")
		return
	}
	ds := s.engine.Reports()
	if err := s.publisher.PublishAll(r.Context(), ds); err != nil {
		fail(w, r, log.OpPublish, err)
		return
	}
	log.FromContext(r.Context()).Info("Reports published", log.FieldRows, len(ds))
	writeJSON(w, http.StatusOK, map[string]int{"published": len(ds)})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if s.insights == nil {
		writeError(w, http.StatusNotImplemented, "insights are not configured")
		return
	}
	summary := s.engine.Summary()
	text, err := s.insights.Request(r.Context(), summary)
	if err != nil {
		fail(w, r, "insight", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"scope": summary.Scope, "advice": text})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Refresh(); err != nil {
		fail(w, r, log.OpRefresh, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
