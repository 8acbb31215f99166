package adapter

import (
	"fmt"

	"github.com/roach88/tuplex/internal/metrics"
	"github.com/roach88/tuplex/internal/order"
	"github.com/roach88/tuplex/internal/queryir"
	"github.com/roach88/tuplex/internal/querysql"
	"github.com/roach88/tuplex/internal/schema"
)

// Kind is the operation a descriptor is prepared for.
type Kind string

const (
	KindFetch     Kind = "fetch"
	KindDeleteAll Kind = "delete_all"
	KindUpdateAll Kind = "update_all"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFetch, KindDeleteAll, KindUpdateAll:
		return true
	}
	return false
}

// Descriptor is a prepared operation. It is immutable and reused across
// executions with different parameter values; only the shape is cached,
// never results.
type Descriptor struct {
	kind    Kind
	table   *schema.Table
	query   queryir.Select
	limit   queryir.Limit
	ctx     *querysql.Context
	order   order.Func
	updates []queryir.Update
}

// Kind returns the operation the descriptor was prepared for.
func (d *Descriptor) Kind() Kind { return d.kind }

// Table returns the schema of the table the descriptor reads.
func (d *Descriptor) Table() *schema.Table { return d.table }

// Query returns a copy of the prepared shape.
func (d *Descriptor) Query() queryir.Select { return d.query.Clone() }

// Limit returns the scan limit, possibly a parameter.
func (d *Descriptor) Limit() queryir.Limit { return d.limit }

// Context returns the compile context for the descriptor's table.
func (d *Descriptor) Context() *querysql.Context { return d.ctx }

// Order returns the function that orders decoded rows.
func (d *Descriptor) Order() order.Func { return d.order }

// Updates returns a copy of the update-all expressions.
func (d *Descriptor) Updates() []queryir.Update { return append([]queryir.Update(nil), d.updates...) }

// Prepare builds the descriptor for an operation kind and query shape.
// It does no I/O. A malformed shape is returned as *queryir.ShapeError.
//
// Descriptors are cached by kind and shape, so preparing the same shape
// again returns the same descriptor. The shape is copied; changing q after
// Prepare returns does not affect the descriptor.
func (a *Adapter) Prepare(kind Kind, q queryir.Select) (*Descriptor, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("prepare: unknown operation kind %q", kind)
	}
	q = q.Clone()

	key := string(kind) + "|" + q.String()
	if v, ok := a.cache.Get(key); ok {
		a.countCache("hit")
		return v.(*Descriptor), nil
	}
	a.countCache("miss")

	t, err := a.table(q.From)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	if err := queryir.Validate(t, q); err != nil {
		return nil, err
	}
	switch {
	case kind == KindUpdateAll && len(q.Updates) == 0:
		return nil, &queryir.ShapeError{Table: t.Name, Problems: []string{"update_all requires at least one update"}}
	case kind != KindUpdateAll && len(q.Updates) > 0:
		return nil, &queryir.ShapeError{Table: t.Name, Problems: []string{fmt.Sprintf("%s does not take updates", kind)}}
	}

	ctx := querysql.NewContext(t)
	orderFn, err := order.New(ctx, q.OrderBy)
	if err != nil {
		return nil, &queryir.ShapeError{Table: t.Name, Problems: []string{err.Error()}}
	}

	d := &Descriptor{
		kind:    kind,
		table:   t,
		query:   q,
		limit:   q.Limit,
		ctx:     ctx,
		order:   orderFn,
		updates: q.Updates,
	}
	a.cache.Add(key, d)
	return d, nil
}

func (a *Adapter) countCache(result string) {
	if a.metrics {
		metrics.DescriptorCacheTotal.WithLabelValues(result).Inc()
	}
}

func (d *Descriptor) expect(kind Kind) error {
	if d == nil {
		return fmt.Errorf("nil descriptor")
	}
	if d.kind != kind {
		return fmt.Errorf("descriptor prepared for %s, not %s", d.kind, kind)
	}
	return nil
}
