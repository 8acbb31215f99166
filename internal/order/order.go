// Package order builds result ordering functions from order-by clauses.
//
// Ordering is applied to decoded rows after the engine scan. The sort is
// stable, so rows that compare equal keep their engine scan order.
package order

import (
	"fmt"
	"slices"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/queryir"
	"github.com/roach88/tuplex/internal/querysql"
)

// Func orders a batch of decoded rows. It may sort in place and returns the
// ordered batch.
type Func func([]ir.Row) []ir.Row

// Identity returns rows unchanged.
func Identity(rows []ir.Row) []ir.Row { return rows }

type key struct {
	pos  int
	desc bool
}

// New derives the ordering function for the given clauses. With no clauses
// the result is Identity. Fields are resolved to tuple positions once, here.
func New(ctx *querysql.Context, clauses []queryir.OrderBy) (Func, error) {
	if len(clauses) == 0 {
		return Identity, nil
	}

	keys := make([]key, 0, len(clauses))
	for _, c := range clauses {
		pos, ok := ctx.Position(c.Field)
		if !ok {
			return nil, fmt.Errorf("order by unknown field %q", c.Field)
		}
		keys = append(keys, key{pos: pos, desc: c.Desc})
	}

	cmp := comparator(keys)
	return func(rows []ir.Row) []ir.Row {
		slices.SortStableFunc(rows, cmp)
		return rows
	}, nil
}

func comparator(keys []key) func(a, b ir.Row) int {
	return func(a, b ir.Row) int {
		for _, k := range keys {
			c := ir.Compare(at(a, k.pos), at(b, k.pos))
			if c == 0 {
				continue
			}
			if k.desc {
				return -c
			}
			return c
		}
		return 0
	}
}

func at(r ir.Row, pos int) ir.Value {
	if pos < len(r) {
		return r[pos]
	}
	return ir.Null{}
}
