package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roach88/tuplex/internal/adapter"
	"github.com/roach88/tuplex/internal/codec"
	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/keygen"
	"github.com/roach88/tuplex/internal/queryir"
	"github.com/roach88/tuplex/internal/schema"
	"github.com/roach88/tuplex/internal/store"
)

// Harness executes one scenario against a private database.
type Harness struct {
	adapter *adapter.Adapter
	seq     int64
}

// Run executes a scenario with a background context.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Identifier keys come from the scenario (or a counter), so traces are
// reproducible.
//
// Execution flow:
//  1. Compile the scenario's CUE schema and create its tables
//  2. Execute steps in order, recording a trace event per step
//  3. Check each step's expectation
//  4. Evaluate assertions against the final state
//
// The returned error reports a scenario that could not be executed at all;
// failed expectations are reported through Result.Errors.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	tables, err := loadTables(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	st, err := store.Open(":memory:", store.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := st.CreateTables(ctx, tables...); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	reg, err := schema.NewRegistry(tables...)
	if err != nil {
		return nil, fmt.Errorf("failed to register tables: %w", err)
	}

	a, err := adapter.New(st, reg, adapter.Options{KeyGenerators: keyGenerators(scenario.Keys)})
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter: %w", err)
	}

	h := &Harness{adapter: a}
	result := NewResult()

	for i := range scenario.Steps {
		if err := h.execStep(ctx, fmt.Sprintf("steps[%d]", i), &scenario.Steps[i], result); err != nil {
			return nil, fmt.Errorf("failed to execute scenario %s: %w", scenario.Name, err)
		}
	}

	actx := &AssertionContext{Ctx: ctx, Adapter: a, Registry: reg}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	zerolog.Ctx(ctx).Info().
		Str("scenario", scenario.Name).
		Bool("pass", result.Pass).
		Int("steps", len(result.Trace)).
		Msg("scenario finished")
	return result, nil
}

func loadTables(s *Scenario) ([]*schema.Table, error) {
	var tables []*schema.Table
	if s.Schema != "" {
		ts, err := schema.CompileString(s.Schema, s.Name+".cue")
		if err != nil {
			return nil, err
		}
		tables = append(tables, ts...)
	}
	for _, path := range s.SchemaFiles {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		ts, err := schema.CompileString(string(src), path)
		if err != nil {
			return nil, err
		}
		tables = append(tables, ts...)
	}
	return tables, nil
}

// keyGenerators serves every identifier format from one deterministic source.
func keyGenerators(keys []string) map[schema.IDFormat]keygen.Generator {
	var gen keygen.Generator = &sequentialKeys{}
	if len(keys) > 0 {
		gen = keygen.NewFixedGenerator(keys...)
	}
	return map[schema.IDFormat]keygen.Generator{
		schema.FormatUUID:   gen,
		schema.FormatKSUID:  gen,
		schema.FormatNanoID: gen,
	}
}

// sequentialKeys generates "key-1", "key-2", ...
//
// Thread-safety: sequentialKeys is safe for concurrent use via internal mutex.
type sequentialKeys struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialKeys) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("key-%d", g.n)
}

// outcome is what a successful step returned.
type outcome struct {
	count  *int
	rows   []ir.Object
	values ir.Object
}

// txFailure carries a harness error out through Transaction.
type txFailure struct{ err error }

func (e *txFailure) Error() string { return e.err.Error() }
func (e *txFailure) Unwrap() error { return e.err }

func (h *Harness) execStep(ctx context.Context, path string, st *Step, res *Result) error {
	if st.Op == OpTransaction {
		return h.execTransaction(ctx, path, st, res)
	}

	op, err := h.build(st)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	out, opErr := guard(ctx, op)
	h.record(ctx, path, st, out, opErr, res)
	return nil
}

func (h *Harness) execTransaction(ctx context.Context, path string, st *Step, res *Result) error {
	err := h.adapter.Transaction(ctx, func(ctx context.Context) error {
		for i := range st.Steps {
			if err := h.execStep(ctx, fmt.Sprintf("%s.steps[%d]", path, i), &st.Steps[i], res); err != nil {
				return &txFailure{err: err}
			}
		}
		if st.Rollback != "" {
			return adapter.Rollback(st.Rollback)
		}
		return nil
	})

	var tf *txFailure
	if errors.As(err, &tf) {
		return tf.err
	}
	h.record(ctx, path, st, outcome{}, err, res)
	return nil
}

// guard runs op and turns a precondition panic into an error so the step can
// expect it. Other panics propagate.
func guard(ctx context.Context, op func(context.Context) (outcome, error)) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(*adapter.PreconditionError)
			if !ok {
				panic(r)
			}
			out, err = outcome{}, pe
		}
	}()
	return op(ctx)
}

// build converts a step's YAML values into an operation. Errors here mean the
// scenario itself is malformed.
func (h *Harness) build(st *Step) (func(context.Context) (outcome, error), error) {
	a := h.adapter

	switch st.Op {
	case OpInsert:
		values, err := ir.ObjectFromGo(st.Values)
		if err != nil {
			return nil, fmt.Errorf("values: %w", err)
		}
		return func(ctx context.Context) (outcome, error) {
			v, err := a.Insert(ctx, st.Table, values)
			return outcome{values: v}, err
		}, nil

	case OpInsertAll:
		rows, err := objectsFromGo(st.Rows)
		if err != nil {
			return nil, fmt.Errorf("rows: %w", err)
		}
		return func(ctx context.Context) (outcome, error) {
			r, err := a.InsertAll(ctx, st.Table, rows)
			return outcome{count: &r.Count}, err
		}, nil

	case OpUpdate:
		values, err := ir.ObjectFromGo(st.Values)
		if err != nil {
			return nil, fmt.Errorf("values: %w", err)
		}
		filter, err := ir.ObjectFromGo(st.Filter)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		return func(ctx context.Context) (outcome, error) {
			v, err := a.Update(ctx, st.Table, values, filter)
			return outcome{values: v}, err
		}, nil

	case OpDelete:
		filter, err := ir.ObjectFromGo(st.Filter)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		return func(ctx context.Context) (outcome, error) {
			return outcome{}, a.Delete(ctx, st.Table, filter)
		}, nil

	case OpFetch, OpDeleteAll, OpUpdateAll:
		return h.buildQuery(st)
	}
	return nil, fmt.Errorf("unknown op %q", st.Op)
}

func (h *Harness) buildQuery(st *Step) (func(context.Context) (outcome, error), error) {
	where, err := queryir.ParseWhere(st.Where)
	if err != nil {
		return nil, err
	}
	order, err := queryir.ParseOrder(st.Order)
	if err != nil {
		return nil, err
	}
	limit, err := queryir.ParseLimit(st.Limit)
	if err != nil {
		return nil, err
	}
	updates, err := buildUpdates(st)
	if err != nil {
		return nil, err
	}
	params, err := ir.ObjectFromGo(st.Params)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}

	q := queryir.Select{From: st.Table, Where: where, OrderBy: order, Limit: limit, Updates: updates}
	kind := adapter.Kind(st.Op)
	opts := adapter.ExecOptions{Returning: st.Returning}
	a := h.adapter

	return func(ctx context.Context) (outcome, error) {
		d, err := a.Prepare(kind, q)
		if err != nil {
			return outcome{}, err
		}

		var res adapter.Result
		switch kind {
		case adapter.KindFetch:
			res, err = a.Fetch(ctx, d, params)
		case adapter.KindDeleteAll:
			res, err = a.DeleteAll(ctx, d, params, opts)
		case adapter.KindUpdateAll:
			res, err = a.UpdateAll(ctx, d, params, opts)
		}
		if err != nil {
			return outcome{}, err
		}

		out := outcome{count: &res.Count}
		if res.Rows != nil {
			out.rows = make([]ir.Object, len(res.Rows))
			for i, row := range res.Rows {
				out.rows[i] = codec.ToObject(d.Table(), row)
			}
		}
		return out, nil
	}, nil
}

// buildUpdates orders updates by field name, sets before increments, so the
// same YAML always prepares the same shape.
func buildUpdates(st *Step) ([]queryir.Update, error) {
	var updates []queryir.Update
	for _, field := range sortedKeys(st.Set) {
		operand, err := operandFromGo(st.Set[field])
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", field, err)
		}
		updates = append(updates, queryir.Set{Field: field, Operand: operand})
	}
	for _, field := range sortedKeys(st.Inc) {
		operand, err := operandFromGo(st.Inc[field])
		if err != nil {
			return nil, fmt.Errorf("inc %s: %w", field, err)
		}
		updates = append(updates, queryir.Inc{Field: field, Operand: operand})
	}
	return updates, nil
}

func operandFromGo(v any) (queryir.Operand, error) {
	if s, ok := v.(string); ok {
		if name, isParam := strings.CutPrefix(s, "$"); isParam && name != "" {
			return queryir.Param{Name: name}, nil
		}
	}
	val, err := ir.FromGo(v)
	if err != nil {
		return nil, err
	}
	return queryir.Literal{Value: val}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func objectsFromGo(rows []map[string]any) ([]ir.Object, error) {
	out := make([]ir.Object, len(rows))
	for i, r := range rows {
		obj, err := ir.ObjectFromGo(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = obj
	}
	return out, nil
}

// record appends the step's trace event and checks its expectation.
func (h *Harness) record(ctx context.Context, path string, st *Step, out outcome, err error, res *Result) {
	h.seq++
	ev := TraceEvent{Seq: h.seq, Step: path, Op: st.Op, Table: st.Table}
	if err != nil {
		ev.Error = classify(err)
	} else {
		ev.Count, ev.Rows, ev.Values = out.count, out.rows, out.values
	}
	res.AddEvent(ev)

	for _, msg := range checkExpect(st.Expect, out, err) {
		res.AddError(fmt.Sprintf("%s (%s): %s", path, st.Op, msg))
	}

	zerolog.Ctx(ctx).Debug().
		Str("step", path).
		Str("op", st.Op).
		Str("table", st.Table).
		Str("error", ev.Error).
		Msg("step executed")
}

// classify maps an operation error to its error class.
func classify(err error) string {
	var (
		pe *adapter.PreconditionError
		se *queryir.ShapeError
	)
	switch {
	case errors.As(err, &pe):
		return ErrorClassPrecondition
	case adapter.IsTxAbort(err):
		return ErrorClassTxAborted
	case adapter.IsConstraintError(err):
		return ErrorClassConstraint
	case errors.Is(err, store.ErrNotFound):
		return ErrorClassNotFound
	case errors.As(err, &se):
		return ErrorClassShape
	default:
		return ErrorClassAny
	}
}

func checkExpect(exp *Expect, out outcome, err error) []string {
	if exp == nil || exp.Error == "" {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
	} else {
		if err == nil {
			return []string{fmt.Sprintf("expected %s error, got success", exp.Error)}
		}
		if got := classify(err); exp.Error != ErrorClassAny && got != exp.Error {
			return []string{fmt.Sprintf("expected %s error, got %s: %v", exp.Error, got, err)}
		}
		return nil
	}
	if exp == nil {
		return nil
	}

	var msgs []string
	if exp.Count != nil {
		switch {
		case out.count == nil:
			msgs = append(msgs, "expected a count, operation reports none")
		case *out.count != *exp.Count:
			msgs = append(msgs, fmt.Sprintf("count: expected %d, got %d", *exp.Count, *out.count))
		}
	}

	if exp.Rows != nil {
		want, err := objectsFromGo(exp.Rows)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("expected rows: %v", err))
		} else if !objectsEqual(want, out.rows) {
			msgs = append(msgs, fmt.Sprintf("rows: expected %s, got %s", render(want), render(out.rows)))
		}
	}

	if exp.Values != nil {
		want, err := ir.ObjectFromGo(exp.Values)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("expected values: %v", err))
		} else {
			for _, k := range want.SortedKeys() {
				got, ok := out.values[k]
				if !ok || !ir.Equal(got, want[k]) {
					msgs = append(msgs, fmt.Sprintf("values.%s: expected %s, got %s", k, render(want[k]), render(got)))
				}
			}
		}
	}
	return msgs
}

func objectsEqual(want, got []ir.Object) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if !objectEqual(want[i], got[i]) {
			return false
		}
	}
	return true
}

func objectEqual(a, b ir.Object) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !ir.Equal(av, bv) {
			return false
		}
	}
	return true
}

// render formats a value for messages using canonical JSON.
func render(v any) string {
	if v == nil {
		return "<missing>"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
