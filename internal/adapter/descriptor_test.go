package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/queryir"
)

func TestPrepare_Cached(t *testing.T) {
	e := newEnv(t, Options{})
	q := queryir.Select{From: "users", Where: ageOver(20), OrderBy: []queryir.OrderBy{{Field: "age", Desc: true}}}

	d1 := mustPrepare(t, e.a, KindFetch, q)
	d2 := mustPrepare(t, e.a, KindFetch, q)
	assert.Same(t, d1, d2)

	d3 := mustPrepare(t, e.a, KindDeleteAll, q)
	assert.NotSame(t, d1, d3)
	assert.Equal(t, KindDeleteAll, d3.Kind())
}

func TestPrepare_CacheEviction(t *testing.T) {
	e := newEnv(t, Options{CacheSize: 1})
	q1 := queryir.Select{From: "users"}
	q2 := queryir.Select{From: "tags"}

	d1 := mustPrepare(t, e.a, KindFetch, q1)
	mustPrepare(t, e.a, KindFetch, q2)
	d1again := mustPrepare(t, e.a, KindFetch, q1)

	assert.NotSame(t, d1, d1again)
	assert.Equal(t, d1.Query().String(), d1again.Query().String())
}

func TestPrepare_Accessors(t *testing.T) {
	e := newEnv(t, Options{})
	q := queryir.Select{
		From:    "users",
		Limit:   queryir.LimitOf(3),
		Updates: []queryir.Update{queryir.Set{Field: "name", Operand: queryir.Param{Name: "n"}}},
	}
	d := mustPrepare(t, e.a, KindUpdateAll, q)

	assert.Equal(t, "users", d.Table().Name)
	n, ok := d.Limit().Literal()
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{"id", "name", "age"}, d.Context().Columns)
	assert.Len(t, d.Updates(), 1)
	assert.NotNil(t, d.Order())

	// Updates returns a copy.
	d.Updates()[0] = nil
	assert.NotNil(t, d.Updates()[0])
}

func TestPrepare_ShapeErrors(t *testing.T) {
	e := newEnv(t, Options{})

	tests := []struct {
		name string
		kind Kind
		q    queryir.Select
	}{
		{"unknown where field", KindFetch, queryir.Select{From: "users", Where: queryir.IsNull{Field: "email"}}},
		{"unknown order field", KindFetch, queryir.Select{From: "users", OrderBy: []queryir.OrderBy{{Field: "email"}}}},
		{"negative limit", KindFetch, queryir.Select{From: "users", Limit: queryir.LimitOf(-1)}},
		{"literal type mismatch", KindFetch, queryir.Select{From: "users", Where: queryir.Compare{Field: "age", Op: queryir.OpEq, Operand: queryir.Literal{Value: ir.String("x")}}}},
		{"update_all without updates", KindUpdateAll, queryir.Select{From: "users"}},
		{"fetch with updates", KindFetch, queryir.Select{From: "users", Updates: []queryir.Update{queryir.Set{Field: "name", Operand: queryir.Literal{Value: ir.String("x")}}}}},
		{"update of key", KindUpdateAll, queryir.Select{From: "users", Updates: []queryir.Update{queryir.Set{Field: "id", Operand: queryir.Literal{Value: ir.Int(1)}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.a.Prepare(tt.kind, tt.q)
			require.Error(t, err)
			var se *queryir.ShapeError
			assert.True(t, errors.As(err, &se), "got %T: %v", err, err)
		})
	}
}

func TestPrepare_OtherErrors(t *testing.T) {
	e := newEnv(t, Options{})

	_, err := e.a.Prepare(Kind("upsert"), queryir.Select{From: "users"})
	assert.ErrorContains(t, err, "unknown operation kind")

	_, err = e.a.Prepare(KindFetch, queryir.Select{From: "ghosts"})
	assert.ErrorContains(t, err, `unknown table "ghosts"`)
}

func TestPrepare_NoIO(t *testing.T) {
	e := newEnv(t, Options{})
	calls := e.engine.Total()

	mustPrepare(t, e.a, KindFetch, queryir.Select{From: "users", Where: ageOver(1)})
	assert.Equal(t, calls, e.engine.Total())
}

func TestExec_WrongKind(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	fetch := mustPrepare(t, e.a, KindFetch, queryir.Select{From: "users"})

	_, err := e.a.DeleteAll(ctx, fetch, nil, ExecOptions{})
	assert.ErrorContains(t, err, "descriptor prepared for fetch, not delete_all")

	_, err = e.a.UpdateAll(ctx, fetch, nil, ExecOptions{})
	assert.ErrorContains(t, err, "descriptor prepared for fetch, not update_all")

	_, err = e.a.Fetch(ctx, nil, nil)
	assert.ErrorContains(t, err, "nil descriptor")
}

func TestPrepare_ShapeIsCopied(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)

	preds := []queryir.Predicate{ageOver(26)}
	orderBy := []queryir.OrderBy{{Field: "age"}}
	d := mustPrepare(t, e.a, KindFetch, queryir.Select{From: "users", Where: queryir.And{Predicates: preds}, OrderBy: orderBy})

	res, err := e.a.Fetch(ctx, d, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)

	// Reusing the caller's slices must not reach the prepared descriptor.
	preds[0] = ageOver(100)
	orderBy[0] = queryir.OrderBy{Field: "name", Desc: true}

	res, err = e.a.Fetch(ctx, d, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	again := mustPrepare(t, e.a, KindFetch, queryir.Select{
		From:    "users",
		Where:   queryir.And{Predicates: []queryir.Predicate{ageOver(26)}},
		OrderBy: []queryir.OrderBy{{Field: "age"}},
	})
	assert.Same(t, d, again)
	res, err = e.a.Fetch(ctx, again, nil)
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{userRow(1, "A", 30)}, res.Rows)

	// The mutated shape is a different cache entry.
	mutated := mustPrepare(t, e.a, KindFetch, queryir.Select{From: "users", Where: queryir.And{Predicates: preds}, OrderBy: orderBy})
	assert.NotSame(t, d, mutated)
	res, err = e.a.Fetch(ctx, mutated, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
}

func TestDescriptorQuery_ReturnsCopy(t *testing.T) {
	e := newEnv(t, Options{})
	d := mustPrepare(t, e.a, KindDeleteAll, queryir.Select{
		From:  "users",
		Where: queryir.Or{Predicates: []queryir.Predicate{ageOver(20)}},
	})
	want := d.Query().String()

	q := d.Query()
	q.Where.(queryir.Or).Predicates[0] = ageOver(99)
	q.OrderBy = append(q.OrderBy, queryir.OrderBy{Field: "age"})

	assert.Equal(t, want, d.Query().String())
}
