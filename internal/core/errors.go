package core

import (
	"errors"
	"fmt"
)

var (
	// ErrScopeDenied is returned when switching to a group the principal
	// does not belong to.
	ErrScopeDenied        = errors.New("scope denied")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrInsightUnavailable = errors.New("insight unavailable")
	ErrUnknownReport      = errors.New("unknown report")
	ErrUnknownTable       = errors.New("unknown table")
	ErrNotFound           = errors.New("not found")
)

// Kind classifies remote store failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindSchemaMismatch
	KindPermissionDenied
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// QueryError is a classified remote store error.
type QueryError struct {
	Kind  Kind
	Table string
	Op    string
	Err   error
}

func (e *QueryError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Table, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if hint := e.Remediation(); hint != "" {
		msg += " (" + hint + ")"
	}
	return msg
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Remediation returns an operator hint for non-retryable kinds.
func (e *QueryError) Remediation() string {
	switch e.Kind {
	case KindSchemaMismatch:
		return "check that the " + e.Table + " table matches the expected columns and types; run the migrate command"
	case KindPermissionDenied:
		return "check row-level access for the active principal"
	default:
		return ""
	}
}

// NewQueryError wraps err with a kind. A nil err yields nil.
func NewQueryError(kind Kind, op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Kind: kind, Op: op, Table: table, Err: err}
}

// KindOf extracts the classification from err, or KindUnknown.
func KindOf(err error) Kind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
