package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/tuplex/internal/ir"
)

// Predicate is a filter condition over the fields of one table.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern enables exhaustive type switches in the
// selection compiler.
//
// Predicate types:
//   - Compare: field <op> operand
//   - IsNull: field is absent
//   - And / Or: conjunction / disjunction (empty And is true, empty Or is false)
//   - Not: negation
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
	String() string
}

// Operand is the right-hand side of a comparison or update: either a literal
// fixed at prepare time or a parameter bound at execution time.
type Operand interface {
	operandNode()
	String() string
}

// Literal is a value known when the query is prepared.
type Literal struct {
	Value ir.Value
}

func (Literal) operandNode() {}

func (l Literal) String() string {
	b, err := ir.MarshalValue(l.Value)
	if err != nil {
		return "?"
	}
	return string(b)
}

// Param is a named value supplied when the prepared query is executed.
type Param struct {
	Name string
}

func (Param) operandNode() {}

func (p Param) String() string { return "$" + p.Name }

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Valid reports whether op is a supported comparison operator.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Compare represents field <op> operand.
//
// Example:
//
//	Compare{Field: "age", Op: OpGt, Operand: Literal{Value: ir.Int(20)}}
//
// Translates to SQL:
//
//	"age" > ?
type Compare struct {
	Field   string
	Op      Op
	Operand Operand
}

func (Compare) predicateNode() {}

func (c Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, operandString(c.Operand))
}

// IsNull matches rows whose field holds no value.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

func (n IsNull) String() string { return n.Field + " IS NULL" }

// And represents a conjunction of predicates (all must be true).
// An empty And is vacuously true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

func (a And) String() string { return joinPredicates(a.Predicates, " AND ", "TRUE") }

// Or represents a disjunction of predicates (any must be true).
// An empty Or is false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

func (o Or) String() string { return joinPredicates(o.Predicates, " OR ", "FALSE") }

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

func (n Not) String() string {
	if n.Predicate == nil {
		return "NOT <nil>"
	}
	return "NOT (" + n.Predicate.String() + ")"
}

// OrderBy is one result ordering clause. Ordering is applied to decoded rows
// after the engine scan, never inside it.
type OrderBy struct {
	Field string
	Desc  bool
}

func (o OrderBy) String() string {
	if o.Desc {
		return o.Field + " DESC"
	}
	return o.Field + " ASC"
}

type limitKind int

const (
	limitNone limitKind = iota
	limitLiteral
	limitParam
)

// Limit bounds the number of tuples the engine scan returns.
// The zero value is unbounded.
type Limit struct {
	kind  limitKind
	n     int64
	param string
}

// NoLimit returns an unbounded limit.
func NoLimit() Limit { return Limit{} }

// LimitOf returns a literal limit. Negative values are rejected by Validate.
func LimitOf(n int64) Limit { return Limit{kind: limitLiteral, n: n} }

// LimitParam returns a limit resolved from a bound parameter at execution.
func LimitParam(name string) Limit { return Limit{kind: limitParam, param: name} }

// Bounded reports whether the limit restricts the scan at all.
func (l Limit) Bounded() bool { return l.kind != limitNone }

// Literal returns the literal limit value, if this is a literal limit.
func (l Limit) Literal() (int64, bool) { return l.n, l.kind == limitLiteral }

// Param returns the parameter name, if this limit is bound at execution.
func (l Limit) Param() (string, bool) { return l.param, l.kind == limitParam }

func (l Limit) String() string {
	switch l.kind {
	case limitLiteral:
		return fmt.Sprintf("%d", l.n)
	case limitParam:
		return "$" + l.param
	default:
		return "ALL"
	}
}

// Update is one field-update expression of an update-all operation.
//
// This is a sealed interface - only Set and Inc implement it.
type Update interface {
	updateNode()
	Target() string
	String() string
}

// Set assigns the operand to the field.
type Set struct {
	Field   string
	Operand Operand
}

func (Set) updateNode() {}

func (s Set) Target() string { return s.Field }

func (s Set) String() string { return s.Field + " = " + operandString(s.Operand) }

// Inc adds the (integer) operand to the field's current value.
type Inc struct {
	Field   string
	Operand Operand
}

func (Inc) updateNode() {}

func (i Inc) Target() string { return i.Field }

func (i Inc) String() string {
	return fmt.Sprintf("%s = %s + %s", i.Field, i.Field, operandString(i.Operand))
}

// Select is the shape of a query: source table, filter, ordering, limit, and
// (for update-all) the field updates to apply.
//
// Semantics:
//
//	SELECT * FROM <from> WHERE <where> LIMIT <limit>   -- engine side
//	then ORDER BY <order_by>                            -- application side
type Select struct {
	From    string
	Where   Predicate // nil = no filter
	OrderBy []OrderBy
	Limit   Limit
	Updates []Update
}

// String renders the shape deterministically. Two selects with the same
// string are the same shape; prepared descriptors are cached by it.
func (s Select) String() string {
	var b strings.Builder
	b.WriteString("FROM ")
	b.WriteString(s.From)
	if s.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(s.Where.String())
	}
	if len(s.OrderBy) > 0 {
		parts := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			parts[i] = o.String()
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if s.Limit.Bounded() {
		b.WriteString(" LIMIT ")
		b.WriteString(s.Limit.String())
	}
	if len(s.Updates) > 0 {
		parts := make([]string, len(s.Updates))
		for i, u := range s.Updates {
			if u == nil {
				parts[i] = "<nil>"
				continue
			}
			parts[i] = u.String()
		}
		b.WriteString(" SET ")
		b.WriteString(strings.Join(parts, ", "))
	}
	return b.String()
}

func operandString(o Operand) string {
	if o == nil {
		return "<nil>"
	}
	return o.String()
}

func joinPredicates(preds []Predicate, sep, empty string) string {
	if len(preds) == 0 {
		return empty
	}
	parts := make([]string, len(preds))
	for i, p := range preds {
		if p == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = "(" + p.String() + ")"
	}
	return strings.Join(parts, sep)
}

// Clone returns a deep copy of the shape. Predicate trees, orderings and
// updates share no slices with s, so later changes by the caller do not
// reach a prepared descriptor.
func (s Select) Clone() Select {
	out := s
	out.Where = ClonePredicate(s.Where)
	if s.OrderBy != nil {
		out.OrderBy = append([]OrderBy(nil), s.OrderBy...)
	}
	if s.Updates != nil {
		out.Updates = append([]Update(nil), s.Updates...)
	}
	return out
}

// ClonePredicate copies a predicate tree. Leaf predicates are values and are
// copied as is.
func ClonePredicate(p Predicate) Predicate {
	switch n := p.(type) {
	case And:
		return And{Predicates: clonePredicates(n.Predicates)}
	case Or:
		return Or{Predicates: clonePredicates(n.Predicates)}
	case Not:
		return Not{Predicate: ClonePredicate(n.Predicate)}
	default:
		return p
	}
}

func clonePredicates(preds []Predicate) []Predicate {
	if preds == nil {
		return nil
	}
	out := make([]Predicate, len(preds))
	for i, p := range preds {
		out[i] = ClonePredicate(p)
	}
	return out
}
