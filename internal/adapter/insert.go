package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/tuplex/internal/codec"
	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/schema"
	"github.com/roach88/tuplex/internal/store"
)

// Insert stores one row and returns its field values, including a generated
// key when the table's policy supplied one.
//
// Key policies:
//   - NoAutogenerate: values are stored as given.
//   - Sequence: an absent or null key is filled from the table's sequence.
//   - Identifier: an absent, null or empty key is generated client-side.
//
// A duplicate key is returned as *ConstraintError and the stored row is left
// unchanged. Other engine errors are returned wrapped.
func (a *Adapter) Insert(ctx context.Context, table string, values ir.Object) (out ir.Object, err error) {
	start := time.Now()
	defer func() { a.observe("insert", start, rowsOf(err), err) }()

	t, err := a.table(table)
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	out, err = a.insert(ctx, a.conn(ctx), t, values)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", t.Name, err)
	}

	zerolog.Ctx(ctx).Debug().Str("op", "insert").Str("table", t.Name).Msg("executed")
	return out, nil
}

// InsertAll inserts every row in one transaction. A failed row rolls back
// the whole batch.
//
// InsertAll never returns the inserted rows: Result.Rows is always nil.
func (a *Adapter) InsertAll(ctx context.Context, table string, rows []ir.Object) (res Result, err error) {
	start := time.Now()
	defer func() { a.observe("insert_all", start, res.Count, err) }()

	t, err := a.table(table)
	if err != nil {
		return Result{}, fmt.Errorf("insert_all: %w", err)
	}

	count := 0
	err = a.atomically(ctx, func(ctx context.Context, c store.Conn) error {
		for i, values := range rows {
			if _, err := a.insert(ctx, c, t, values); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		count = len(rows)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("insert_all %s: %w", t.Name, err)
	}

	zerolog.Ctx(ctx).Debug().Str("op", "insert_all").Str("table", t.Name).Int("count", count).Msg("executed")
	return Result{Count: count}, nil
}

// insert applies the key policy, encodes and stores one row on c.
func (a *Adapter) insert(ctx context.Context, c store.Conn, t *schema.Table, values ir.Object) (ir.Object, error) {
	out := values.Clone()

	if isMissingKey(out[t.Key]) {
		switch p := t.Policy.(type) {
		case schema.Sequence:
			next, err := c.NextSequence(ctx, t.Name)
			if err != nil {
				return nil, err
			}
			out[t.Key] = ir.Int(next)
		case schema.Identifier:
			gen, err := a.generator(p.Format)
			if err != nil {
				return nil, err
			}
			out[t.Key] = ir.String(gen.Generate())
		}
	}

	tuple, err := codec.EncodeRow(t, out)
	if err != nil {
		return nil, err
	}
	if err := c.Insert(ctx, t, tuple); err != nil {
		return nil, constraintFrom(t, tuple.Key(), err)
	}
	return out, nil
}

// Update replaces the row whose primary key is in filter with values. The
// replacement is whole-row: fields missing from values become null. The key
// itself always comes from filter.
//
// Update panics with *PreconditionError, before any engine call, when filter
// lacks the primary key.
func (a *Adapter) Update(ctx context.Context, table string, values, filter ir.Object) (out ir.Object, err error) {
	t, err := a.table(table)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	key := requireKey("update", t, filter)

	start := time.Now()
	defer func() { a.observe("update", start, rowsOf(err), err) }()

	out = values.Clone()
	out[t.Key] = key
	tuple, err := codec.EncodeRow(t, out)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", t.Name, err)
	}
	if err := a.conn(ctx).Update(ctx, t, key, tuple); err != nil {
		return nil, fmt.Errorf("update %s: %w", t.Name, err)
	}

	zerolog.Ctx(ctx).Debug().Str("op", "update").Str("table", t.Name).Msg("executed")
	return out, nil
}

// Delete removes the row whose primary key is in filter. Deleting a key that
// is not stored succeeds.
//
// Delete panics with *PreconditionError, before any engine call, when filter
// lacks the primary key.
func (a *Adapter) Delete(ctx context.Context, table string, filter ir.Object) (err error) {
	t, err := a.table(table)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	key := requireKey("delete", t, filter)

	start := time.Now()
	defer func() { a.observe("delete", start, rowsOf(err), err) }()

	if err := a.conn(ctx).Delete(ctx, t, key); err != nil {
		return fmt.Errorf("delete %s: %w", t.Name, err)
	}

	zerolog.Ctx(ctx).Debug().Str("op", "delete").Str("table", t.Name).Msg("executed")
	return nil
}

// requireKey returns the primary key value of filter or panics.
func requireKey(op string, t *schema.Table, filter ir.Object) ir.Value {
	key, ok := filter[t.Key]
	if !ok || ir.IsNull(key) {
		panic(&PreconditionError{Op: op, Table: t.Name, Field: t.Key})
	}
	return key
}

func rowsOf(err error) int {
	if err != nil {
		return 0
	}
	return 1
}
