package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"fintrack/internal/aggregate"
	"fintrack/internal/core"
)

const maxBodyBytes = 1 << 16

// scopeRequest is the body of PUT /api/scope.
type scopeRequest struct {
	Kind    string `json:"kind"`
	GroupID string `json:"group_id,omitempty"`
}

// scopeResponse is the wire form of a core.Scope.
type scopeResponse struct {
	Kind      string   `json:"kind"`
	Key       string   `json:"key"`
	Principal string   `json:"principal"`
	GroupID   string   `json:"group_id,omitempty"`
	Members   []string `json:"members,omitempty"`
}

func toScopeResponse(s core.Scope) scopeResponse {
	return scopeResponse{
		Kind:      string(s.Kind),
		Key:       s.Key(),
		Principal: s.Principal,
		GroupID:   s.GroupID,
		Members:   s.Members,
	}
}

// ParseScopeRequest decodes a scope switch body. The principal is left
// empty; the engine fills in its own.
func ParseScopeRequest(r *http.Request) (core.Scope, error) {
	var req scopeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return core.Scope{}, fmt.Errorf("%w: %v", core.ErrInvalidScope, err)
	}
	kind := core.ScopeKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind == core.ScopePersonal && req.GroupID != "" {
		return core.Scope{}, fmt.Errorf("%w: personal scope takes no group id", core.ErrInvalidScope)
	}
	return core.Scope{Kind: kind, GroupID: strings.TrimSpace(req.GroupID)}, nil
}

// ParseWindowDays reads ?days=. Missing means 0, which the engine treats as
// its default window.
func ParseWindowDays(query url.Values) (int, error) {
	v := strings.TrimSpace(query.Get("days"))
	if v == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(v)
	if err != nil || days < 0 || days > 366 {
		return 0, fmt.Errorf("invalid days %q: must be between 0 and 366", v)
	}
	return days, nil
}

// ParseDateRange reads ?from= and ?to= as YYYY-MM-DD. Missing bounds are
// open.
func ParseDateRange(query url.Values) (aggregate.DateRange, error) {
	var r aggregate.DateRange
	if v := strings.TrimSpace(query.Get("from")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return r, fmt.Errorf("invalid from: %w", err)
		}
		r.From = d
	}
	if v := strings.TrimSpace(query.Get("to")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return r, fmt.Errorf("invalid to: %w", err)
		}
		r.To = d
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return r, fmt.Errorf("invalid range: to %s is before from %s", r.To, r.From)
	}
	return r, nil
}
