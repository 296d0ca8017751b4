package log

import "sort"

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldErrorKind  = "error_kind"
	FieldOperation  = "operation"
	FieldScope      = "scope"
	FieldTable      = "table"
	FieldFilter     = "filter"
	FieldGeneration = "generation"
	FieldCycle      = "cycle"
	FieldAttempt    = "attempt"
	FieldHandle     = "handle"
	FieldRows       = "rows"
	FieldReport     = "report"
	FieldBackend    = "backend"
	FieldChannel    = "channel"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentEngine       = "engine"
	ComponentSubscription = "subscription"
	ComponentRepository   = "repository"
	ComponentGroups       = "groups"
	ComponentStore        = "store"
	ComponentAMQP         = "amqp"
	ComponentInsight      = "insight"
	ComponentReport       = "report"
	ComponentSheets       = "sheets"
	ComponentHTTP         = "http"
	ComponentCache        = "cache"
	ComponentBackend      = "backend"
)

// Operations defines standard operation names
const (
	OpSelect      = "select"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpRefresh     = "refresh"
	OpRecompute   = "recompute"
	OpSwitchScope = "switch_scope"
	OpPublish     = "publish"
	OpExport      = "export"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithScope adds the scope key and generation of a recompute or refresh.
func (f LogFields) WithScope(scopeKey string, generation uint64) LogFields {
	f[FieldScope] = scopeKey
	f[FieldGeneration] = generation
	return f
}

func (f LogFields) WithTable(table string) LogFields {
	f[FieldTable] = table
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(method, path string, statusCode int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	return f
}

// ToSlice converts LogFields to a slice for slog, keys in sorted order so
// records are stable.
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	slice := make([]any, 0, len(f)*2)
	for _, k := range keys {
		slice = append(slice, k, f[k])
	}
	return slice
}
