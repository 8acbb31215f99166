package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/tuplex/internal/metrics"
	"github.com/roach88/tuplex/internal/store"
)

// txHandle is the explicit transaction membership carried in a context.
// Operations that find one join its transaction instead of starting another.
type txHandle struct {
	conn store.Conn

	mu      sync.Mutex
	aborted error // first failure of a joined multi-row operation
}

func (h *txHandle) abort(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.aborted == nil {
		h.aborted = err
	}
}

func (h *txHandle) abortErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborted
}

type txKey struct{}

func handleFrom(ctx context.Context) *txHandle {
	h, _ := ctx.Value(txKey{}).(*txHandle)
	return h
}

// InTransaction reports whether ctx belongs to an open adapter transaction.
func InTransaction(ctx context.Context) bool {
	return handleFrom(ctx) != nil
}

// Rollback returns the abort signal for the enclosing Transaction. Return it
// from the transaction function:
//
//	err := a.Transaction(ctx, func(ctx context.Context) error {
//		...
//		return adapter.Rollback("insufficient stock")
//	})
//
// The transaction rolls back and Transaction returns a *TxAbortError whose
// Reason is reason. There is no partial success.
func Rollback(reason any) error {
	return &TxAbortError{Reason: reason}
}

// Transaction runs fn as one all-or-nothing unit. Operations called with the
// context passed to fn share the transaction.
//
// Nested calls join the outer transaction; there are no savepoints. A nested
// failure dooms the outer transaction even if the outer fn ignores it.
//
// Any failure, including Rollback, is returned as a *TxAbortError.
// A panic in fn rolls the transaction back and propagates.
//
// The store holds a single connection. Every adapter call inside fn must use
// fn's ctx or one derived from it; a call with an unrelated context, such as
// context.Background(), waits for the connection fn already holds and
// deadlocks.
func (a *Adapter) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := a.atomically(ctx, func(ctx context.Context, _ store.Conn) error {
		return fn(ctx)
	})
	if err != nil {
		err = asAbort(err)
		if a.metrics {
			metrics.TransactionAbortsTotal.Inc()
		}
		zerolog.Ctx(ctx).Warn().Err(err).Bool("nested", InTransaction(ctx)).Msg("transaction aborted")
	}
	a.observe("transaction", start, 0, err)
	return err
}

// atomically runs fn inside a transaction, joining the one in ctx if present.
// A failure inside a joined transaction marks it aborted, so the outermost
// call rolls back regardless of what intermediate callers do with the error.
func (a *Adapter) atomically(ctx context.Context, fn func(ctx context.Context, c store.Conn) error) error {
	if h := handleFrom(ctx); h != nil {
		if err := h.abortErr(); err != nil {
			return err
		}
		if err := fn(ctx, h.conn); err != nil {
			h.abort(err)
			return err
		}
		return nil
	}

	return a.engine.RunInTx(ctx, func(c store.Conn) error {
		h := &txHandle{conn: c}
		if err := fn(context.WithValue(ctx, txKey{}, h), c); err != nil {
			return err
		}
		return h.abortErr()
	})
}

func asAbort(err error) *TxAbortError {
	var ae *TxAbortError
	if errors.As(err, &ae) {
		return ae
	}
	return &TxAbortError{Reason: err}
}
