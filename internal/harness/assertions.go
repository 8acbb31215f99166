package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/tuplex/internal/adapter"
	"github.com/roach88/tuplex/internal/codec"
	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/queryir"
	"github.com/roach88/tuplex/internal/schema"
)

// Assertion validates the stored state after all steps ran.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_state": rows matching Where, ordered by primary key, equal Rows exactly
	// - "row_count": the number of rows matching Where equals Count
	Type string `yaml:"type"`

	// Table is the table to read.
	Table string `yaml:"table"`

	// Where is an optional CUE filter expression.
	Where string `yaml:"where,omitempty"`

	// Rows are the expected rows (used by final_state).
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Count is the expected number of rows (used by row_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertRowCount   = "row_count"
)

// AssertionContext is what assertions read the final state through.
type AssertionContext struct {
	Ctx      context.Context
	Adapter  *adapter.Adapter
	Registry *schema.Registry
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s", ev.Seq, ev.Step, ev.Op, ev.Table)
			if ev.Error != "" {
				fmt.Fprintf(&buf, " error=%s", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Table == "" {
		return fmt.Errorf("assertions[%d]: table is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if a.Rows == nil {
			return fmt.Errorf("assertions[%d]: rows is required for final_state (use [] for none)", index)
		}
	case AssertRowCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for row_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(actx, a, result.Trace); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	rows, err := readState(actx, a)
	if err != nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("read table %s", a.Table),
			Actual:   fmt.Sprintf("read error: %v", err),
			Trace:    trace,
		}
	}

	switch a.Type {
	case AssertFinalState:
		return assertFinalState(a, rows, trace)
	case AssertRowCount:
		return assertRowCount(a, rows, trace)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// readState fetches the rows matching the assertion, ordered by primary key.
func readState(actx *AssertionContext, a Assertion) ([]ir.Object, error) {
	t, ok := actx.Registry.Lookup(a.Table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", a.Table)
	}
	where, err := queryir.ParseWhere(a.Where)
	if err != nil {
		return nil, err
	}

	d, err := actx.Adapter.Prepare(adapter.KindFetch, queryir.Select{
		From:    t.Name,
		Where:   where,
		OrderBy: []queryir.OrderBy{{Field: t.Key}},
	})
	if err != nil {
		return nil, err
	}
	res, err := actx.Adapter.Fetch(actx.Ctx, d, nil)
	if err != nil {
		return nil, err
	}

	out := make([]ir.Object, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = codec.ToObject(t, row)
	}
	return out, nil
}

func assertFinalState(a Assertion, rows []ir.Object, trace []TraceEvent) error {
	want, err := objectsFromGo(a.Rows)
	if err != nil {
		return fmt.Errorf("final_state rows: %w", err)
	}
	if objectsEqual(want, rows) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s%s = %s", a.Table, whereSuffix(a.Where), render(want)),
		Actual:   render(rows),
		Trace:    trace,
	}
}

func assertRowCount(a Assertion, rows []ir.Object, trace []TraceEvent) error {
	if len(rows) == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRowCount,
		Expected: fmt.Sprintf("%d rows in %s%s", *a.Count, a.Table, whereSuffix(a.Where)),
		Actual:   fmt.Sprintf("%d rows", len(rows)),
		Trace:    trace,
	}
}

func whereSuffix(where string) string {
	if where == "" {
		return ""
	}
	return " where " + where
}
