package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/keygen"
	"github.com/roach88/tuplex/internal/metrics"
	"github.com/roach88/tuplex/internal/schema"
	"github.com/roach88/tuplex/internal/store"
)

// DefaultCacheSize is the number of prepared descriptors kept when
// Options.CacheSize is zero.
const DefaultCacheSize = 256

// Engine is the storage engine the adapter drives. *store.Store implements it.
type Engine interface {
	store.Conn
	// RunInTx runs fn in one transaction: commit on nil, rollback otherwise.
	RunInTx(ctx context.Context, fn func(store.Conn) error) error
}

// Options configures an Adapter.
type Options struct {
	// CacheSize bounds the prepared descriptor cache. Zero means DefaultCacheSize.
	CacheSize int
	// KeyGenerators overrides the identifier generator per format.
	KeyGenerators map[schema.IDFormat]keygen.Generator
	// DisableMetrics skips prometheus recording.
	DisableMetrics bool
}

// Adapter executes structured operations against an Engine.
//
// Thread-safety: Adapter is safe for concurrent use. It adds no locking of
// its own around engine calls; isolation is the engine's.
type Adapter struct {
	engine   Engine
	registry *schema.Registry
	cache    *lru.Cache
	keygens  map[schema.IDFormat]keygen.Generator
	metrics  bool
}

// New creates an adapter over engine for the tables in reg.
func New(engine Engine, reg *schema.Registry, opts Options) (*Adapter, error) {
	if engine == nil {
		return nil, fmt.Errorf("adapter: nil engine")
	}
	if reg == nil {
		return nil, fmt.Errorf("adapter: nil registry")
	}

	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("adapter: descriptor cache: %w", err)
	}

	gens := make(map[schema.IDFormat]keygen.Generator, len(opts.KeyGenerators))
	for f, g := range opts.KeyGenerators {
		gens[f] = g
	}

	return &Adapter{
		engine:   engine,
		registry: reg,
		cache:    cache,
		keygens:  gens,
		metrics:  !opts.DisableMetrics,
	}, nil
}

// Result is the outcome of a multi-row operation. Rows is nil unless the
// operation returns rows.
type Result struct {
	Count int
	Rows  []ir.Row
}

// ExecOptions configures DeleteAll and UpdateAll.
type ExecOptions struct {
	// Returning requests the affected rows, decoded and ordered.
	Returning bool
}

// table resolves a registered table.
func (a *Adapter) table(name string) (*schema.Table, error) {
	t, ok := a.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return t, nil
}

// conn returns the connection for a single engine call: the open
// transaction when ctx carries one, the engine itself otherwise.
func (a *Adapter) conn(ctx context.Context) store.Conn {
	if h := handleFrom(ctx); h != nil {
		return h.conn
	}
	return a.engine
}

// generator returns the identifier generator for a format.
func (a *Adapter) generator(format schema.IDFormat) (keygen.Generator, error) {
	if g, ok := a.keygens[format]; ok {
		return g, nil
	}
	return keygen.For(format)
}

// observe records metrics for one finished operation.
func (a *Adapter) observe(op string, start time.Time, rows int, err error) {
	if !a.metrics {
		return
	}
	metrics.ObserveOperation(op, outcome(err), rows, time.Since(start))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case IsTxAbort(err):
		return metrics.OutcomeAborted
	case IsConstraintError(err):
		return metrics.OutcomeConstraint
	default:
		return metrics.OutcomeError
	}
}

// isMissingKey reports whether a key value counts as "not supplied".
func isMissingKey(v ir.Value) bool {
	if ir.IsNull(v) {
		return true
	}
	s, ok := v.(ir.String)
	return ok && s == ""
}

// constraintFrom maps the engine's duplicate-key condition to a ConstraintError.
func constraintFrom(t *schema.Table, key ir.Value, err error) error {
	if errors.Is(err, store.ErrAlreadyExists) {
		return &ConstraintError{
			Table:      t.Name,
			Field:      t.Key,
			Constraint: "unique",
			Value:      key,
			Err:        err,
		}
	}
	return err
}
