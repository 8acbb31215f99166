package adapter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/codec"
	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/keygen"
	"github.com/roach88/tuplex/internal/metrics"
	"github.com/roach88/tuplex/internal/queryir"
	"github.com/roach88/tuplex/internal/schema"
	"github.com/roach88/tuplex/internal/store"
	fixtures "github.com/roach88/tuplex/internal/testutil"
)

type env struct {
	a      *Adapter
	store  *store.Store
	engine *fixtures.FaultyEngine
}

func newEnv(t *testing.T, opts Options) env {
	t.Helper()
	tables := []*schema.Table{fixtures.UsersTable(), fixtures.TagsTable(), fixtures.DocsTable(schema.FormatUUID)}
	s := fixtures.OpenStore(t, tables...)
	engine := fixtures.NewFaultyEngine(s)
	a, err := New(engine, fixtures.NewRegistry(t, tables...), opts)
	require.NoError(t, err)
	return env{a: a, store: s, engine: engine}
}

func user(name string, age int64) ir.Object {
	return ir.Object{"name": ir.String(name), "age": ir.Int(age)}
}

func ageOver(n int64) queryir.Predicate {
	return queryir.Compare{Field: "age", Op: queryir.OpGt, Operand: queryir.Literal{Value: ir.Int(n)}}
}

func mustPrepare(t *testing.T, a *Adapter, kind Kind, q queryir.Select) *Descriptor {
	t.Helper()
	d, err := a.Prepare(kind, q)
	require.NoError(t, err)
	return d
}

// allUsers returns every stored user as objects, in key order.
func allUsers(t *testing.T, a *Adapter) []ir.Object {
	t.Helper()
	d := mustPrepare(t, a, KindFetch, queryir.Select{From: "users", OrderBy: []queryir.OrderBy{{Field: "id"}}})
	res, err := a.Fetch(context.Background(), d, nil)
	require.NoError(t, err)
	return objects(fixtures.UsersTable(), res.Rows)
}

func objects(t *schema.Table, rows []ir.Row) []ir.Object {
	out := make([]ir.Object, len(rows))
	for i, r := range rows {
		out[i] = codec.ToObject(t, r)
	}
	return out
}

func userRow(id int64, name string, age int64) ir.Row {
	return ir.Row{ir.Int(id), ir.String(name), ir.Int(age)}
}

func seedUsers(t *testing.T, a *Adapter) {
	t.Helper()
	ctx := context.Background()
	_, err := a.Insert(ctx, "users", user("A", 30))
	require.NoError(t, err)
	_, err = a.Insert(ctx, "users", user("B", 25))
	require.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, fixtures.NewRegistry(t), Options{})
	assert.Error(t, err)

	s := fixtures.OpenStore(t)
	_, err = New(s, nil, Options{})
	assert.Error(t, err)

	_, err = New(s, fixtures.NewRegistry(t), Options{CacheSize: -1})
	assert.Error(t, err)
}

// Users scenario: sequence keys, fetch ordered by age, update_all with
// returning, and delete_all bounded by a limit.
func TestUsersScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})

	a1, err := e.a.Insert(ctx, "users", user("A", 30))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), a1["id"])

	b, err := e.a.Insert(ctx, "users", user("B", 25))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), b["id"])

	fetch := mustPrepare(t, e.a, KindFetch, queryir.Select{
		From:    "users",
		Where:   ageOver(20),
		OrderBy: []queryir.OrderBy{{Field: "age"}},
	})
	res, err := e.a.Fetch(ctx, fetch, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []ir.Row{userRow(2, "B", 25), userRow(1, "A", 30)}, res.Rows)

	bump := mustPrepare(t, e.a, KindUpdateAll, queryir.Select{
		From:    "users",
		Where:   ageOver(20),
		OrderBy: []queryir.OrderBy{{Field: "age"}},
		Updates: []queryir.Update{queryir.Inc{Field: "age", Operand: queryir.Literal{Value: ir.Int(1)}}},
	})
	res, err = e.a.UpdateAll(ctx, bump, nil, ExecOptions{Returning: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []ir.Row{userRow(2, "B", 26), userRow(1, "A", 31)}, res.Rows)

	res, err = e.a.Fetch(ctx, fetch, nil)
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{userRow(2, "B", 26), userRow(1, "A", 31)}, res.Rows)

	del := mustPrepare(t, e.a, KindDeleteAll, queryir.Select{
		From:  "users",
		Where: ageOver(20),
		Limit: queryir.LimitOf(1),
	})
	res, err = e.a.DeleteAll(ctx, del, nil, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Nil(t, res.Rows)

	// Scan order is insertion order, so the first inserted row went.
	assert.Equal(t, []ir.Object{{"id": ir.Int(2), "name": ir.String("B"), "age": ir.Int(26)}}, allUsers(t, e.a))
}

func TestFetch_CountMatchesRows(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)

	d := mustPrepare(t, e.a, KindFetch, queryir.Select{From: "users", Where: ageOver(100)})
	res, err := e.a.Fetch(ctx, d, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Len(t, res.Rows, res.Count)
}

func TestFetch_LimitBeforeOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)
	_, err := e.a.Insert(ctx, "users", user("C", 20))
	require.NoError(t, err)

	d := mustPrepare(t, e.a, KindFetch, queryir.Select{
		From:    "users",
		OrderBy: []queryir.OrderBy{{Field: "age"}},
		Limit:   queryir.LimitOf(2),
	})
	res, err := e.a.Fetch(ctx, d, nil)
	require.NoError(t, err)

	// The scan takes A(30) and B(25); C(20) is never seen even though it
	// sorts first.
	assert.Equal(t, []ir.Row{userRow(2, "B", 25), userRow(1, "A", 30)}, res.Rows)
}

func TestFetch_Params(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)

	d := mustPrepare(t, e.a, KindFetch, queryir.Select{
		From:  "users",
		Where: queryir.Compare{Field: "name", Op: queryir.OpEq, Operand: queryir.Param{Name: "name"}},
		Limit: queryir.LimitParam("n"),
	})

	res, err := e.a.Fetch(ctx, d, map[string]ir.Value{"name": ir.String("B"), "n": ir.Int(10)})
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{userRow(2, "B", 25)}, res.Rows)

	res, err = e.a.Fetch(ctx, d, map[string]ir.Value{"name": ir.String("A"), "n": ir.Int(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)

	_, err = e.a.Fetch(ctx, d, map[string]ir.Value{"name": ir.String("A")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbound limit parameter")
	assert.Equal(t, 2, e.engine.Calls(fixtures.OpSelect), "compile errors make no engine call")
}

func TestFetch_WrongKind(t *testing.T) {
	e := newEnv(t, Options{})
	d := mustPrepare(t, e.a, KindDeleteAll, queryir.Select{From: "users"})

	_, err := e.a.Fetch(context.Background(), d, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prepared for delete_all")
}

func TestDeleteAll_Returning(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)

	d := mustPrepare(t, e.a, KindDeleteAll, queryir.Select{
		From:    "users",
		OrderBy: []queryir.OrderBy{{Field: "age"}},
	})
	res, err := e.a.DeleteAll(ctx, d, nil, ExecOptions{Returning: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []ir.Row{userRow(2, "B", 25), userRow(1, "A", 30)}, res.Rows)
	assert.Empty(t, allUsers(t, e.a))
}

func TestDeleteAll_FaultOnNthRowLeavesNoEffect(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	for i := 0; i < 5; i++ {
		_, err := e.a.Insert(ctx, "users", user(fmt.Sprintf("u%d", i), int64(20+i)))
		require.NoError(t, err)
	}
	before := allUsers(t, e.a)

	d := mustPrepare(t, e.a, KindDeleteAll, queryir.Select{From: "users"})
	e.engine.FailAt(fixtures.OpDelete, 4)

	_, err := e.a.DeleteAll(ctx, d, nil, ExecOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fixtures.ErrInjected))
	assert.Equal(t, 4, e.engine.Calls(fixtures.OpDelete))

	assert.Equal(t, before, allUsers(t, e.a))
}

func TestUpdateAll_FaultOnNthRowLeavesNoEffect(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	for i := 0; i < 4; i++ {
		_, err := e.a.Insert(ctx, "users", user(fmt.Sprintf("u%d", i), 40))
		require.NoError(t, err)
	}
	before := allUsers(t, e.a)

	d := mustPrepare(t, e.a, KindUpdateAll, queryir.Select{
		From:    "users",
		Updates: []queryir.Update{queryir.Set{Field: "age", Operand: queryir.Literal{Value: ir.Int(0)}}},
	})
	e.engine.FailAt(fixtures.OpUpdate, 3)

	_, err := e.a.UpdateAll(ctx, d, nil, ExecOptions{Returning: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fixtures.ErrInjected))

	assert.Equal(t, before, allUsers(t, e.a))
}

func TestUpdateAll_SetParamAndNull(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)

	d := mustPrepare(t, e.a, KindUpdateAll, queryir.Select{
		From:  "users",
		Where: queryir.Compare{Field: "name", Op: queryir.OpEq, Operand: queryir.Literal{Value: ir.String("A")}},
		Updates: []queryir.Update{
			queryir.Set{Field: "name", Operand: queryir.Param{Name: "to"}},
			queryir.Set{Field: "age", Operand: queryir.Literal{Value: ir.Null{}}},
		},
	})
	res, err := e.a.UpdateAll(ctx, d, map[string]ir.Value{"to": ir.String("Alice")}, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Nil(t, res.Rows)

	assert.Equal(t, []ir.Object{
		{"id": ir.Int(1), "name": ir.String("Alice"), "age": ir.Null{}},
		{"id": ir.Int(2), "name": ir.String("B"), "age": ir.Int(25)},
	}, allUsers(t, e.a))

	// Incrementing a null field leaves it null.
	inc := mustPrepare(t, e.a, KindUpdateAll, queryir.Select{
		From:    "users",
		Updates: []queryir.Update{queryir.Inc{Field: "age", Operand: queryir.Literal{Value: ir.Int(5)}}},
	})
	res, err = e.a.UpdateAll(ctx, inc, nil, ExecOptions{Returning: true})
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{
		{ir.Int(1), ir.String("Alice"), ir.Null{}},
		userRow(2, "B", 30),
	}, res.Rows)
}

func TestUpdateAll_BadParamTouchesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)

	d := mustPrepare(t, e.a, KindUpdateAll, queryir.Select{
		From:    "users",
		Updates: []queryir.Update{queryir.Inc{Field: "age", Operand: queryir.Param{Name: "by"}}},
	})
	calls := e.engine.Total()

	_, err := e.a.UpdateAll(ctx, d, map[string]ir.Value{"by": ir.String("x")}, ExecOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment by string")

	_, err = e.a.UpdateAll(ctx, d, nil, ExecOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unbound parameter "by"`)

	assert.Equal(t, calls, e.engine.Total())
}

func TestUpdateAll_IncOverflowAborts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	_, err := e.a.Insert(ctx, "users", user("A", -1))
	require.NoError(t, err)
	_, err = e.a.Insert(ctx, "users", user("M", math.MaxInt64))
	require.NoError(t, err)
	before := allUsers(t, e.a)

	up := mustPrepare(t, e.a, KindUpdateAll, queryir.Select{
		From:    "users",
		Updates: []queryir.Update{queryir.Inc{Field: "age", Operand: queryir.Param{Name: "by"}}},
	})
	_, err = e.a.UpdateAll(ctx, up, map[string]ir.Value{"by": ir.Int(1)}, ExecOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows int64")
	assert.Equal(t, before, allUsers(t, e.a))

	// Decrementing past the minimum fails the same way.
	_, err = e.a.UpdateAll(ctx, up, map[string]ir.Value{"by": ir.Int(math.MinInt64)}, ExecOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows int64")
	assert.Equal(t, before, allUsers(t, e.a))

	_, err = e.a.UpdateAll(ctx, up, map[string]ir.Value{"by": ir.Int(-1)}, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, []ir.Object{
		{"id": ir.Int(1), "name": ir.String("A"), "age": ir.Int(-2)},
		{"id": ir.Int(2), "name": ir.String("M"), "age": ir.Int(math.MaxInt64 - 1)},
	}, allUsers(t, e.a))
}

func TestUpdateAll_SetWrongTypeAborts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)
	before := allUsers(t, e.a)

	d := mustPrepare(t, e.a, KindUpdateAll, queryir.Select{
		From:    "users",
		Updates: []queryir.Update{queryir.Set{Field: "age", Operand: queryir.Param{Name: "age"}}},
	})
	_, err := e.a.UpdateAll(ctx, d, map[string]ir.Value{"age": ir.String("old")}, ExecOptions{})
	require.Error(t, err)
	assert.Equal(t, before, allUsers(t, e.a))
}

func TestInsert_SequenceConcurrentKeysAreUnique(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{DisableMetrics: true})

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys = make(map[int64]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.a.Insert(ctx, "users", user(fmt.Sprintf("w%d", i), 1))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			id := int64(out["id"].(ir.Int))
			assert.False(t, keys[id], "key %d handed out twice", id)
			keys[id] = true
		}(i)
	}
	wg.Wait()

	assert.Len(t, keys, workers)
	assert.Len(t, allUsers(t, e.a), workers)
}

func TestInsert_SequenceKeepsSuppliedKey(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})

	out, err := e.a.Insert(ctx, "users", ir.Object{"id": ir.Int(40), "name": ir.String("X")})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(40), out["id"])
	assert.Equal(t, 0, e.engine.Calls(fixtures.OpNextSequence))
}

func TestInsert_DuplicateKeyIsConstraintError(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})

	tag := ir.Object{"slug": ir.String("go"), "label": ir.String("Go"), "pinned": ir.Bool(true)}
	out, err := e.a.Insert(ctx, "tags", tag)
	require.NoError(t, err)
	assert.Equal(t, tag, out)

	_, err = e.a.Insert(ctx, "tags", ir.Object{"slug": ir.String("go"), "label": ir.String("Golang")})
	require.Error(t, err)
	assert.True(t, IsConstraintError(err))

	var ce *ConstraintError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "tags", ce.Table)
	assert.Equal(t, "slug", ce.Field)
	assert.Equal(t, "unique", ce.Constraint)
	assert.Equal(t, ir.String("go"), ce.Value)
	assert.True(t, errors.Is(err, store.ErrAlreadyExists))

	d := mustPrepare(t, e.a, KindFetch, queryir.Select{From: "tags"})
	res, err := e.a.Fetch(ctx, d, nil)
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{{ir.String("go"), ir.String("Go"), ir.Bool(true)}}, res.Rows)
}

func TestInsert_EngineErrorIsNotConstraint(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	e.engine.FailAt(fixtures.OpInsert, 1)

	_, err := e.a.Insert(ctx, "tags", ir.Object{"slug": ir.String("x")})
	require.Error(t, err)
	assert.False(t, IsConstraintError(err))
	assert.True(t, errors.Is(err, fixtures.ErrInjected))
}

func TestInsert_CodecRejects(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})

	_, err := e.a.Insert(ctx, "users", ir.Object{"email": ir.String("x")})
	assert.Error(t, err)

	_, err = e.a.Insert(ctx, "nope", ir.Object{})
	assert.Error(t, err)
}

func TestInsert_IdentifierGenerated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{KeyGenerators: map[schema.IDFormat]keygen.Generator{
		schema.FormatUUID: keygen.NewFixedGenerator("doc-1", "doc-2"),
	}})

	out, err := e.a.Insert(ctx, "docs", ir.Object{"title": ir.String("first")})
	require.NoError(t, err)
	assert.Equal(t, ir.String("doc-1"), out["id"])

	out, err = e.a.Insert(ctx, "docs", ir.Object{"id": ir.String(""), "title": ir.String("second")})
	require.NoError(t, err)
	assert.Equal(t, ir.String("doc-2"), out["id"])

	out, err = e.a.Insert(ctx, "docs", ir.Object{"id": ir.String("mine"), "title": ir.String("third")})
	require.NoError(t, err)
	assert.Equal(t, ir.String("mine"), out["id"])
}

func TestInsert_IdentifierDefaultGenerator(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})

	out, err := e.a.Insert(ctx, "docs", ir.Object{"title": ir.String("t")})
	require.NoError(t, err)
	id, ok := out["id"].(ir.String)
	require.True(t, ok)
	assert.Len(t, string(id), 36)
}

func TestInsert_IdentifierCollisionIsConstraintError(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{KeyGenerators: map[schema.IDFormat]keygen.Generator{
		schema.FormatUUID: fixtures.NewConstantKeyGenerator("same"),
	}})

	_, err := e.a.Insert(ctx, "docs", ir.Object{"title": ir.String("a")})
	require.NoError(t, err)
	_, err = e.a.Insert(ctx, "docs", ir.Object{"title": ir.String("b")})
	assert.True(t, IsConstraintError(err))
}

func TestInsertAll_NeverReturnsRows(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})

	res, err := e.a.InsertAll(ctx, "users", []ir.Object{user("A", 30), user("B", 25), user("C", 20)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Nil(t, res.Rows)
	assert.Len(t, allUsers(t, e.a), 3)
}

func TestInsertAll_FailureRollsBackBatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})

	_, err := e.a.InsertAll(ctx, "tags", []ir.Object{
		{"slug": ir.String("a")},
		{"slug": ir.String("b")},
		{"slug": ir.String("a")},
	})
	require.Error(t, err)
	assert.True(t, IsConstraintError(err))

	d := mustPrepare(t, e.a, KindFetch, queryir.Select{From: "tags"})
	res, err := e.a.Fetch(ctx, d, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
}

func TestInsertAll_SequenceRollsBack(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	e.engine.FailAt(fixtures.OpInsert, 2)

	_, err := e.a.InsertAll(ctx, "users", []ir.Object{user("A", 1), user("B", 2)})
	require.Error(t, err)

	out, err := e.a.Insert(ctx, "users", user("C", 3))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), out["id"])
}

func TestUpdate_FullRowReplace(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)

	out, err := e.a.Update(ctx, "users", ir.Object{"name": ir.String("A2")}, ir.Object{"id": ir.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"id": ir.Int(1), "name": ir.String("A2")}, out)

	assert.Equal(t, []ir.Object{
		{"id": ir.Int(1), "name": ir.String("A2"), "age": ir.Null{}},
		{"id": ir.Int(2), "name": ir.String("B"), "age": ir.Int(25)},
	}, allUsers(t, e.a))
}

func TestUpdate_KeyComesFromFilter(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)

	_, err := e.a.Update(ctx, "users", ir.Object{"id": ir.Int(99), "name": ir.String("A"), "age": ir.Int(1)}, ir.Object{"id": ir.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), allUsers(t, e.a)[0]["id"])
}

func TestUpdate_MissingRow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})

	_, err := e.a.Update(ctx, "users", user("X", 1), ir.Object{"id": ir.Int(7)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDelete_ByKey(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	seedUsers(t, e.a)

	require.NoError(t, e.a.Delete(ctx, "users", ir.Object{"id": ir.Int(1)}))
	require.NoError(t, e.a.Delete(ctx, "users", ir.Object{"id": ir.Int(1)}))
	assert.Len(t, allUsers(t, e.a), 1)
}

func TestKeyedOperations_PanicWithoutKey(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})
	calls := e.engine.Total()

	assertPrecondition := func(op string, fn func()) {
		t.Helper()
		defer func() {
			r := recover()
			require.NotNil(t, r, "%s did not panic", op)
			pe, ok := r.(*PreconditionError)
			require.True(t, ok, "panic value %T", r)
			assert.Equal(t, op, pe.Op)
			assert.Equal(t, "users", pe.Table)
			assert.Equal(t, "id", pe.Field)
		}()
		fn()
	}

	assertPrecondition("update", func() {
		_, _ = e.a.Update(ctx, "users", user("A", 1), ir.Object{"name": ir.String("A")})
	})
	assertPrecondition("delete", func() {
		_ = e.a.Delete(ctx, "users", ir.Object{"id": ir.Null{}})
	})

	assert.Equal(t, calls, e.engine.Total(), "no engine call before the precondition check")
}

func TestMetrics_Recorded(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{})

	ok := metrics.OperationsTotal.WithLabelValues("insert", metrics.OutcomeOK)
	dup := metrics.OperationsTotal.WithLabelValues("insert", metrics.OutcomeConstraint)
	beforeOK, beforeDup := testutil.ToFloat64(ok), testutil.ToFloat64(dup)

	_, err := e.a.Insert(ctx, "tags", ir.Object{"slug": ir.String("m")})
	require.NoError(t, err)
	_, err = e.a.Insert(ctx, "tags", ir.Object{"slug": ir.String("m")})
	require.Error(t, err)

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(ok))
	assert.Equal(t, beforeDup+1, testutil.ToFloat64(dup))
}
