package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/schema"
)

// ShapeError reports a malformed query shape. Prepare propagates it unchanged.
type ShapeError struct {
	Table    string
	Problems []string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("malformed query on %s: %s", e.Table, strings.Join(e.Problems, "; "))
}

// Validate checks a query shape against the table it reads.
//
// Rules:
//  1. From names the table
//  2. Every referenced field exists
//  3. Comparison operators are known and operands are present
//  4. Literal operands match the field type (Null only through IsNull)
//  5. A literal limit is non-negative; parameter names are non-empty
//  6. Updates never target the primary key, Inc only targets int fields,
//     and each field is updated at most once
//
// Validate is a pure function with no side effects.
func Validate(t *schema.Table, q Select) error {
	v := &validator{table: t}

	if q.From != t.Name {
		v.addProblem("query reads %q but table is %q", q.From, t.Name)
	}
	if q.Where != nil {
		v.validatePredicate(q.Where)
	}
	for _, o := range q.OrderBy {
		v.requireField(o.Field, "order by")
	}
	if n, ok := q.Limit.Literal(); ok && n < 0 {
		v.addProblem("limit must be non-negative, got %d", n)
	}
	if name, ok := q.Limit.Param(); ok && name == "" {
		v.addProblem("limit parameter name is empty")
	}
	v.validateUpdates(q.Updates)

	if len(v.problems) == 0 {
		return nil
	}
	return &ShapeError{Table: t.Name, Problems: v.problems}
}

// Normalize dereferences pointer variants so that type switches only need
// to handle value types. Returns nil for nil pointers.
func Normalize(p Predicate) Predicate {
	switch pred := p.(type) {
	case *Compare:
		if pred == nil {
			return nil
		}
		return *pred
	case *IsNull:
		if pred == nil {
			return nil
		}
		return *pred
	case *And:
		if pred == nil {
			return nil
		}
		return *pred
	case *Or:
		if pred == nil {
			return nil
		}
		return *pred
	case *Not:
		if pred == nil {
			return nil
		}
		return *pred
	default:
		return p
	}
}

// validator accumulates problems during traversal.
type validator struct {
	table    *schema.Table
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) requireField(name, where string) (schema.Field, bool) {
	f, ok := v.table.Field(name)
	if !ok {
		v.addProblem("%s: unknown field %q", where, name)
	}
	return f, ok
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := Normalize(p).(type) {
	case nil:
		v.addProblem("nil predicate")
	case Compare:
		v.validateCompare(pred)
	case IsNull:
		v.requireField(pred.Field, "is null")
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Or:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Not:
		v.validatePredicate(pred.Predicate)
	default:
		v.addProblem("unsupported predicate type %T", p)
	}
}

func (v *validator) validateCompare(c Compare) {
	f, ok := v.requireField(c.Field, "where")
	if !c.Op.Valid() {
		v.addProblem("where: unknown operator %q on %s", c.Op, c.Field)
	}
	if ok {
		v.validateOperand(f, c.Operand, "where")
	}
}

func (v *validator) validateOperand(f schema.Field, o Operand, where string) {
	switch op := o.(type) {
	case nil:
		v.addProblem("%s: missing operand for %s", where, f.Name)
	case Literal:
		if ir.IsNull(op.Value) {
			v.addProblem("%s: %s compared to null (use IsNull)", where, f.Name)
			return
		}
		if !literalMatches(f.Type, op.Value) {
			v.addProblem("%s: %s is %s but literal is %s", where, f.Name, f.Type, ir.Kind(op.Value))
		}
	case Param:
		if op.Name == "" {
			v.addProblem("%s: empty parameter name for %s", where, f.Name)
		}
	default:
		v.addProblem("%s: unsupported operand type %T", where, o)
	}
}

func (v *validator) validateUpdates(updates []Update) {
	seen := make(map[string]bool, len(updates))
	for _, u := range updates {
		if u == nil {
			v.addProblem("update: nil expression")
			continue
		}
		target := u.Target()
		f, ok := v.requireField(target, "update")
		if !ok {
			continue
		}
		if target == v.table.Key {
			v.addProblem("update: primary key %q cannot be updated", target)
		}
		if seen[target] {
			v.addProblem("update: field %q updated twice", target)
		}
		seen[target] = true

		switch upd := u.(type) {
		case Set:
			if lit, isLit := upd.Operand.(Literal); isLit && ir.IsNull(lit.Value) {
				continue // setting a field to null is allowed
			}
			v.validateOperand(f, upd.Operand, "update")
		case Inc:
			if f.Type != schema.TypeInt {
				v.addProblem("update: cannot increment %s field %q", f.Type, target)
				continue
			}
			v.validateOperand(f, upd.Operand, "update")
		default:
			v.addProblem("update: unsupported expression %T", u)
		}
	}
}

func literalMatches(t schema.FieldType, val ir.Value) bool {
	switch val.(type) {
	case ir.String:
		return t == schema.TypeString
	case ir.Int:
		return t == schema.TypeInt
	case ir.Bool:
		return t == schema.TypeBool
	}
	return false
}
