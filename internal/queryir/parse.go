package queryir

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/literal"
	"cuelang.org/go/cue/parser"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tuplex/internal/ir"
)

// ParseWhere parses a filter written as a CUE expression.
//
// Grammar (CUE operators and literals):
//
//	age > 20 && name != "bob"
//	!(active == true) || age <= $max
//	email == null
//
// The left side of a comparison is a field name. The right side is a literal
// or a parameter reference ($name). Comparing with null is only allowed with
// == and != and becomes IsNull / Not(IsNull).
//
// The result still needs Validate against the table it filters.
func ParseWhere(src string) (Predicate, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	expr, err := parser.ParseExpr("where", src)
	if err != nil {
		return nil, fmt.Errorf("parse where: %w", err)
	}
	p, err := predicateFrom(expr)
	if err != nil {
		return nil, fmt.Errorf("parse where %q: %w", src, err)
	}
	return p, nil
}

func predicateFrom(expr ast.Expr) (Predicate, error) {
	switch e := expr.(type) {
	case *ast.ParenExpr:
		return predicateFrom(e.X)

	case *ast.UnaryExpr:
		if e.Op != token.NOT {
			return nil, fmt.Errorf("unsupported unary operator %s", e.Op)
		}
		inner, err := predicateFrom(e.X)
		if err != nil {
			return nil, err
		}
		return Not{Predicate: inner}, nil

	case *ast.BinaryExpr:
		switch e.Op {
		case token.LAND, token.LOR:
			left, err := predicateFrom(e.X)
			if err != nil {
				return nil, err
			}
			right, err := predicateFrom(e.Y)
			if err != nil {
				return nil, err
			}
			if e.Op == token.LAND {
				return And{Predicates: append(conjuncts(left), conjuncts(right)...)}, nil
			}
			return Or{Predicates: append(disjuncts(left), disjuncts(right)...)}, nil
		}
		return comparisonFrom(e)

	default:
		return nil, fmt.Errorf("expected a comparison, got %T", expr)
	}
}

// conjuncts and disjuncts flatten nested junctions so a && b && c is one And.
func conjuncts(p Predicate) []Predicate {
	if a, ok := p.(And); ok {
		return a.Predicates
	}
	return []Predicate{p}
}

func disjuncts(p Predicate) []Predicate {
	if o, ok := p.(Or); ok {
		return o.Predicates
	}
	return []Predicate{p}
}

var comparisonOps = map[token.Token]Op{
	token.EQL: OpEq,
	token.NEQ: OpNe,
	token.LSS: OpLt,
	token.LEQ: OpLe,
	token.GTR: OpGt,
	token.GEQ: OpGe,
}

func comparisonFrom(e *ast.BinaryExpr) (Predicate, error) {
	op, ok := comparisonOps[e.Op]
	if !ok {
		return nil, fmt.Errorf("unsupported operator %s", e.Op)
	}

	field, ok := e.X.(*ast.Ident)
	if !ok || strings.HasPrefix(field.Name, "$") {
		return nil, fmt.Errorf("left side of %s must be a field name", e.Op)
	}

	operand, err := operandFrom(e.Y)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", field.Name, op, err)
	}

	if lit, isLit := operand.(Literal); isLit && ir.IsNull(lit.Value) {
		switch op {
		case OpEq:
			return IsNull{Field: field.Name}, nil
		case OpNe:
			return Not{Predicate: IsNull{Field: field.Name}}, nil
		default:
			return nil, fmt.Errorf("%s %s null: only == and != compare with null", field.Name, op)
		}
	}
	return Compare{Field: field.Name, Op: op, Operand: operand}, nil
}

func operandFrom(expr ast.Expr) (Operand, error) {
	switch e := expr.(type) {
	case *ast.ParenExpr:
		return operandFrom(e.X)

	case *ast.Ident:
		switch e.Name {
		case "null":
			return Literal{Value: ir.Null{}}, nil
		case "true":
			return Literal{Value: ir.Bool(true)}, nil
		case "false":
			return Literal{Value: ir.Bool(false)}, nil
		}
		if name, ok := strings.CutPrefix(e.Name, "$"); ok && name != "" {
			return Param{Name: name}, nil
		}
		return nil, fmt.Errorf("field %s on the right side; use a literal or $param", e.Name)

	case *ast.UnaryExpr:
		if e.Op != token.SUB {
			return nil, fmt.Errorf("unsupported unary operator %s", e.Op)
		}
		lit, ok := e.X.(*ast.BasicLit)
		if !ok || lit.Kind != token.INT {
			return nil, fmt.Errorf("negation applies to integers only")
		}
		n, err := parseInt("-" + lit.Value)
		if err != nil {
			return nil, err
		}
		return Literal{Value: ir.Int(n)}, nil

	case *ast.BasicLit:
		switch e.Kind {
		case token.INT:
			n, err := parseInt(e.Value)
			if err != nil {
				return nil, err
			}
			return Literal{Value: ir.Int(n)}, nil
		case token.STRING:
			s, err := literal.Unquote(e.Value)
			if err != nil {
				return nil, fmt.Errorf("string literal: %w", err)
			}
			return Literal{Value: ir.String(s)}, nil
		case token.TRUE:
			return Literal{Value: ir.Bool(true)}, nil
		case token.FALSE:
			return Literal{Value: ir.Bool(false)}, nil
		case token.NULL:
			return Literal{Value: ir.Null{}}, nil
		case token.FLOAT:
			return nil, fmt.Errorf("floats are not supported: %s", e.Value)
		}
		return nil, fmt.Errorf("unsupported literal %s", e.Value)

	default:
		return nil, fmt.Errorf("unsupported operand %T", expr)
	}
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("integer literal %s: %w", s, err)
	}
	return n, nil
}

// ParseOrder parses a comma-separated ordering: "age", "-age" or "age desc".
func ParseOrder(src string) ([]OrderBy, error) {
	var out []OrderBy
	for _, part := range strings.Split(src, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		o, err := parseOrderClause(part)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func parseOrderClause(s string) (OrderBy, error) {
	if name, ok := strings.CutPrefix(s, "-"); ok {
		return OrderBy{Field: strings.TrimSpace(name), Desc: true}, nil
	}
	fields := strings.Fields(s)
	switch {
	case len(fields) == 1:
		return OrderBy{Field: fields[0]}, nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
		return OrderBy{Field: fields[0]}, nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
		return OrderBy{Field: fields[0], Desc: true}, nil
	}
	return OrderBy{}, fmt.Errorf("parse order %q: want \"field\", \"-field\" or \"field asc|desc\"", s)
}

// ParseLimit parses "" (unbounded), a non-negative integer, or "$param".
func ParseLimit(src string) (Limit, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return NoLimit(), nil
	}
	if name, ok := strings.CutPrefix(src, "$"); ok {
		if name == "" {
			return Limit{}, fmt.Errorf("parse limit: empty parameter name")
		}
		return LimitParam(name), nil
	}
	n, err := strconv.ParseInt(src, 10, 64)
	if err != nil {
		return Limit{}, fmt.Errorf("parse limit %q: %w", src, err)
	}
	if n < 0 {
		return Limit{}, fmt.Errorf("parse limit: must be non-negative, got %d", n)
	}
	return LimitOf(n), nil
}
