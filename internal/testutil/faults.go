package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/querysql"
	"github.com/roach88/tuplex/internal/schema"
	"github.com/roach88/tuplex/internal/store"
)

// ErrInjected is returned by a primitive chosen to fail.
var ErrInjected = errors.New("injected fault")

// Primitive names a storage engine primitive.
type Primitive string

const (
	OpSelect       Primitive = "select"
	OpInsert       Primitive = "insert"
	OpUpdate       Primitive = "update"
	OpDelete       Primitive = "delete"
	OpNextSequence Primitive = "next_sequence"
	OpRunInTx      Primitive = "run_in_tx"
)

// FaultyEngine wraps a store, counts primitive calls, and fails the Nth call
// of a primitive. Calls made inside transactions are counted too.
//
// Thread-safety: FaultyEngine is safe for concurrent use via internal mutex.
type FaultyEngine struct {
	*store.Store

	mu     sync.Mutex
	calls  map[Primitive]int
	failAt map[Primitive]int
}

// NewFaultyEngine wraps s with no faults armed.
func NewFaultyEngine(s *store.Store) *FaultyEngine {
	return &FaultyEngine{
		Store:  s,
		calls:  make(map[Primitive]int),
		failAt: make(map[Primitive]int),
	}
}

// FailAt arms a fault: the nth call (1-based, counted from now) of op
// returns ErrInjected.
func (f *FaultyEngine) FailAt(op Primitive, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op] = 0
	f.failAt[op] = n
}

// Calls returns how many times op has been called.
func (f *FaultyEngine) Calls(op Primitive) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Total returns the number of primitive calls of any kind.
func (f *FaultyEngine) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// hit records a call and reports whether it must fail.
func (f *FaultyEngine) hit(op Primitive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if n := f.failAt[op]; n > 0 && f.calls[op] == n {
		return ErrInjected
	}
	return nil
}

func (f *FaultyEngine) Select(ctx context.Context, pred querysql.Predicate) ([]ir.Tuple, error) {
	return faultyConn{inner: f.Store, f: f}.Select(ctx, pred)
}

func (f *FaultyEngine) Insert(ctx context.Context, t *schema.Table, tuple ir.Tuple) error {
	return faultyConn{inner: f.Store, f: f}.Insert(ctx, t, tuple)
}

func (f *FaultyEngine) Update(ctx context.Context, t *schema.Table, key ir.Value, tuple ir.Tuple) error {
	return faultyConn{inner: f.Store, f: f}.Update(ctx, t, key, tuple)
}

func (f *FaultyEngine) Delete(ctx context.Context, t *schema.Table, key ir.Value) error {
	return faultyConn{inner: f.Store, f: f}.Delete(ctx, t, key)
}

func (f *FaultyEngine) NextSequence(ctx context.Context, table string) (int64, error) {
	return faultyConn{inner: f.Store, f: f}.NextSequence(ctx, table)
}

// RunInTx runs fn in a store transaction whose primitives are also counted
// and fault-injected.
func (f *FaultyEngine) RunInTx(ctx context.Context, fn func(store.Conn) error) error {
	if err := f.hit(OpRunInTx); err != nil {
		return err
	}
	return f.Store.RunInTx(ctx, func(c store.Conn) error {
		return fn(faultyConn{inner: c, f: f})
	})
}

type faultyConn struct {
	inner store.Conn
	f     *FaultyEngine
}

func (c faultyConn) Select(ctx context.Context, pred querysql.Predicate) ([]ir.Tuple, error) {
	if err := c.f.hit(OpSelect); err != nil {
		return nil, err
	}
	return c.inner.Select(ctx, pred)
}

func (c faultyConn) Insert(ctx context.Context, t *schema.Table, tuple ir.Tuple) error {
	if err := c.f.hit(OpInsert); err != nil {
		return err
	}
	return c.inner.Insert(ctx, t, tuple)
}

func (c faultyConn) Update(ctx context.Context, t *schema.Table, key ir.Value, tuple ir.Tuple) error {
	if err := c.f.hit(OpUpdate); err != nil {
		return err
	}
	return c.inner.Update(ctx, t, key, tuple)
}

func (c faultyConn) Delete(ctx context.Context, t *schema.Table, key ir.Value) error {
	if err := c.f.hit(OpDelete); err != nil {
		return err
	}
	return c.inner.Delete(ctx, t, key)
}

func (c faultyConn) NextSequence(ctx context.Context, table string) (int64, error) {
	if err := c.f.hit(OpNextSequence); err != nil {
		return 0, err
	}
	return c.inner.NextSequence(ctx, table)
}
