package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/queryir"
	"github.com/roach88/tuplex/internal/schema"
)

// Unbounded is the engine limit meaning "no limit". SQLite treats a negative
// LIMIT as unbounded.
const Unbounded int64 = -1

// Context is the decoding context of a table: the binding between the
// schema's field order and the positions of a raw tuple. It is built once
// when a query is prepared and reused to compile predicates and decode
// results for every execution.
type Context struct {
	Table   *schema.Table
	Columns []string // tuple order; Columns[0] is the key
}

// NewContext builds the decoding context for a table.
func NewContext(t *schema.Table) *Context {
	return &Context{
		Table:   t,
		Columns: t.FieldNames(),
	}
}

// Position returns the tuple position of a field.
func (c *Context) Position(field string) (int, bool) {
	return c.Table.Position(field)
}

// Predicate is the engine-native selection: a projection, a parameterized
// WHERE expression, and the resolved scan limit. Only the storage engine's
// select primitive interprets it.
type Predicate struct {
	Table   string
	Columns []string
	Where   string // SQL boolean expression; "1 = 1" when unfiltered
	Args    []any
	Limit   int64 // Unbounded or >= 0
}

// SQLCompiler compiles query shapes to parameterized SQL for SQLite.
//
// CRITICAL: All values are parameterized (never interpolated).
type SQLCompiler struct {
	// BoundValues holds the runtime values for Param operands and limits.
	BoundValues map[string]ir.Value
}

// NewSQLCompiler creates a compiler over the given bound values.
func NewSQLCompiler(bound map[string]ir.Value) *SQLCompiler {
	if bound == nil {
		bound = make(map[string]ir.Value)
	}
	return &SQLCompiler{BoundValues: bound}
}

// Compile binds params into the shape and produces the final predicate.
// It is pure: identical inputs always produce identical output.
func Compile(ctx *Context, q queryir.Select, params map[string]ir.Value) (Predicate, error) {
	return NewSQLCompiler(params).Compile(ctx, q)
}

// Compile converts a query shape to an engine predicate.
func (c *SQLCompiler) Compile(ctx *Context, q queryir.Select) (Predicate, error) {
	if ctx == nil || ctx.Table == nil {
		return Predicate{}, fmt.Errorf("compile: nil decoding context")
	}

	where := "1 = 1"
	var args []any
	if q.Where != nil {
		sql, whereArgs, err := c.compilePredicate(ctx, q.Where)
		if err != nil {
			return Predicate{}, fmt.Errorf("compile filter: %w", err)
		}
		where = sql
		args = whereArgs
	}

	limit, err := c.resolveLimit(q.Limit)
	if err != nil {
		return Predicate{}, fmt.Errorf("compile limit: %w", err)
	}

	cols := make([]string, len(ctx.Columns))
	copy(cols, ctx.Columns)

	return Predicate{
		Table:   ctx.Table.Name,
		Columns: cols,
		Where:   where,
		Args:    args,
		Limit:   limit,
	}, nil
}

// compilePredicate compiles a predicate to a SQL WHERE fragment.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(ctx *Context, p queryir.Predicate) (string, []any, error) {
	switch pred := queryir.Normalize(p).(type) {
	case nil:
		return "", nil, fmt.Errorf("nil predicate")
	case queryir.Compare:
		return c.compileCompare(ctx, pred)
	case queryir.IsNull:
		if _, ok := ctx.Position(pred.Field); !ok {
			return "", nil, fmt.Errorf("unknown field %q", pred.Field)
		}
		return QuoteIdent(pred.Field) + " IS NULL", nil, nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil // vacuous truth
		}
		return c.compileJunction(ctx, pred.Predicates, " AND ")
	case queryir.Or:
		if len(pred.Predicates) == 0 {
			return "1 = 0", nil, nil
		}
		return c.compileJunction(ctx, pred.Predicates, " OR ")
	case queryir.Not:
		sql, args, err := c.compilePredicate(ctx, pred.Predicate)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", args, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(ctx *Context, preds []queryir.Predicate, sep string) (string, []any, error) {
	parts := make([]string, 0, len(preds))
	var allArgs []any
	for _, sub := range preds {
		sql, args, err := c.compilePredicate(ctx, sub)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		allArgs = append(allArgs, args...)
	}
	return strings.Join(parts, sep), allArgs, nil
}

// compileCompare compiles a comparison to `"field" <op> ?`.
func (c *SQLCompiler) compileCompare(ctx *Context, cmp queryir.Compare) (string, []any, error) {
	if _, ok := ctx.Position(cmp.Field); !ok {
		return "", nil, fmt.Errorf("unknown field %q", cmp.Field)
	}
	if !cmp.Op.Valid() {
		return "", nil, fmt.Errorf("unsupported operator %q", cmp.Op)
	}

	val, err := c.Resolve(cmp.Operand)
	if err != nil {
		return "", nil, fmt.Errorf("field %s: %w", cmp.Field, err)
	}

	sql := fmt.Sprintf("%s %s ?", QuoteIdent(cmp.Field), cmp.Op)
	return sql, []any{ValueToParam(val)}, nil
}

// Resolve returns the runtime value of an operand: the literal itself, or
// the bound value of a parameter. Unbound parameters are an error.
func (c *SQLCompiler) Resolve(o queryir.Operand) (ir.Value, error) {
	switch op := o.(type) {
	case queryir.Literal:
		if op.Value == nil {
			return ir.Null{}, nil
		}
		return op.Value, nil
	case queryir.Param:
		val, ok := c.BoundValues[op.Name]
		if !ok {
			return nil, fmt.Errorf("unbound parameter %q", op.Name)
		}
		if val == nil {
			return ir.Null{}, nil
		}
		return val, nil
	case nil:
		return nil, fmt.Errorf("missing operand")
	default:
		return nil, fmt.Errorf("unsupported operand type: %T", o)
	}
}

// resolveLimit turns a shape limit into an engine limit.
func (c *SQLCompiler) resolveLimit(l queryir.Limit) (int64, error) {
	if n, ok := l.Literal(); ok {
		if n < 0 {
			return 0, fmt.Errorf("limit must be non-negative, got %d", n)
		}
		return n, nil
	}
	if name, ok := l.Param(); ok {
		val, bound := c.BoundValues[name]
		if !bound {
			return 0, fmt.Errorf("unbound limit parameter %q", name)
		}
		n, isInt := val.(ir.Int)
		if !isInt {
			return 0, fmt.Errorf("limit parameter %q must be int, got %s", name, ir.Kind(val))
		}
		if n < 0 {
			return 0, fmt.Errorf("limit parameter %q must be non-negative, got %d", name, n)
		}
		return int64(n), nil
	}
	return Unbounded, nil
}

// ValueToParam converts an ir.Value to a Go native type for a SQL parameter.
func ValueToParam(v ir.Value) any {
	switch val := v.(type) {
	case ir.String:
		return string(val)
	case ir.Int:
		return int64(val)
	case ir.Bool:
		return bool(val)
	default:
		return nil
	}
}

// QuoteIdent quotes a table or column name. Schema names are validated as
// plain identifiers at registration, so quoting never needs escaping.
func QuoteIdent(name string) string {
	return `"` + name + `"`
}
