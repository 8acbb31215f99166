package harness

import "github.com/roach88/tuplex/internal/ir"

// TraceEvent records the observed outcome of one executed step.
// Error holds the error class only, so traces stay reproducible.
type TraceEvent struct {
	Seq    int64       `json:"seq"`
	Step   string      `json:"step"` // e.g. "steps[2].steps[0]"
	Op     string      `json:"op"`
	Table  string      `json:"table,omitempty"`
	Count  *int        `json:"count,omitempty"`
	Rows   []ir.Object `json:"rows,omitempty"`
	Values ir.Object   `json:"values,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expectations and assertions match.
	Pass bool `json:"pass"`

	// Trace contains one event per executed step, in completion order.
	// A transaction's inner steps precede the transaction's own event.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a step event to the trace.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// canonical returns the event as a map for ir.MarshalCanonical.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"step": e.Step,
		"op":   e.Op,
	}
	if e.Table != "" {
		m["table"] = e.Table
	}
	if e.Count != nil {
		m["count"] = *e.Count
	}
	if e.Rows != nil {
		m["rows"] = e.Rows
	}
	if e.Values != nil {
		m["values"] = e.Values
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}
