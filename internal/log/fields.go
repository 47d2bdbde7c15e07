package log

import "ricorrenti/internal/core"

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldJob           = "job"
	FieldRunDate       = "run_date"
	FieldCreated       = "created"
	FieldResolved      = "resolved"
	FieldSkipped       = "skipped"
	FieldErrored       = "errored"
	FieldRuleID        = "rule_id"
	FieldInstanceID    = "instance_id"
	FieldScheduledDate = "scheduled_date"
	FieldLedgerRef     = "ledger_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentScheduler = "scheduler"
	ComponentRules     = "rules"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
)

// Operations defines standard operation names
const (
	OpCreate     = "create"
	OpDeactivate = "deactivate"
	OpRunJob     = "run_job"
	OpSync       = "sync"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithJobSummary adds the job name, run date and the four counters.
func (f LogFields) WithJobSummary(s core.JobSummary) LogFields {
	f[FieldJob] = s.Job
	f[FieldRunDate] = s.RunDate.String()
	f[FieldCreated] = s.Created
	f[FieldResolved] = s.Resolved
	f[FieldSkipped] = s.Skipped
	f[FieldErrored] = s.Errored
	return f
}

// WithInstance adds the fields identifying one occurrence.
func (f LogFields) WithInstance(inst core.OccurrenceInstance) LogFields {
	f[FieldRuleID] = inst.RuleID
	f[FieldInstanceID] = inst.ID
	f[FieldScheduledDate] = inst.ScheduledDate.String()
	if inst.LedgerRef != "" {
		f[FieldLedgerRef] = inst.LedgerRef
	}
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
