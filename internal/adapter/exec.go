package adapter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/tuplex/internal/codec"
	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/queryir"
	"github.com/roach88/tuplex/internal/querysql"
	"github.com/roach88/tuplex/internal/schema"
	"github.com/roach88/tuplex/internal/store"
)

// Fetch reads the rows matching a fetch descriptor.
//
// The limit bounds the engine scan and ordering is applied afterwards, so a
// limited, ordered fetch returns the first N tuples in scan order, sorted.
// Fetch joins the transaction in ctx, if any; otherwise the select runs on
// its own. Count always equals len(Rows).
func (a *Adapter) Fetch(ctx context.Context, d *Descriptor, params map[string]ir.Value) (res Result, err error) {
	start := time.Now()
	defer func() { a.observe(string(KindFetch), start, res.Count, err) }()

	if err := d.expect(KindFetch); err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}

	pred, err := querysql.Compile(d.ctx, d.query, params)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", d.table.Name, err)
	}

	tuples, err := a.conn(ctx).Select(ctx, pred)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", d.table.Name, err)
	}

	rows, err := codec.DecodeBatch(tuples, d.ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", d.table.Name, err)
	}
	rows = d.order(rows)

	zerolog.Ctx(ctx).Debug().Str("op", "fetch").Str("table", d.table.Name).Int("count", len(rows)).Msg("executed")
	return Result{Count: len(rows), Rows: rows}, nil
}

// DeleteAll deletes the rows matching a delete_all descriptor in one
// transaction. The delete set is the result of a single select taken inside
// that transaction; a failed delete rolls back every delete of the batch.
//
// With Returning, the deleted rows are decoded and ordered as Fetch would;
// otherwise Rows is nil.
func (a *Adapter) DeleteAll(ctx context.Context, d *Descriptor, params map[string]ir.Value, opts ExecOptions) (res Result, err error) {
	start := time.Now()
	defer func() { a.observe(string(KindDeleteAll), start, res.Count, err) }()

	if err := d.expect(KindDeleteAll); err != nil {
		return Result{}, fmt.Errorf("delete_all: %w", err)
	}

	pred, err := querysql.Compile(d.ctx, d.query, params)
	if err != nil {
		return Result{}, fmt.Errorf("delete_all %s: %w", d.table.Name, err)
	}

	var deleted []ir.Tuple
	err = a.atomically(ctx, func(ctx context.Context, c store.Conn) error {
		tuples, err := c.Select(ctx, pred)
		if err != nil {
			return err
		}
		for _, tuple := range tuples {
			if err := c.Delete(ctx, d.table, tuple.Key()); err != nil {
				return fmt.Errorf("delete %s: %w", tuple, err)
			}
		}
		deleted = tuples
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("delete_all %s: %w", d.table.Name, err)
	}

	zerolog.Ctx(ctx).Debug().Str("op", "delete_all").Str("table", d.table.Name).Int("count", len(deleted)).Msg("executed")

	if !opts.Returning {
		return Result{Count: len(deleted)}, nil
	}
	rows, err := codec.DecodeBatch(deleted, d.ctx)
	if err != nil {
		return Result{}, fmt.Errorf("delete_all %s: %w", d.table.Name, err)
	}
	return Result{Count: len(deleted), Rows: d.order(rows)}, nil
}

// UpdateAll applies the descriptor's updates to every matching row in one
// transaction. Each row is rewritten whole at its original primary key; any
// failure rolls back the batch.
//
// With Returning, the updated rows (not the originals) are ordered and
// returned; otherwise Rows is nil.
func (a *Adapter) UpdateAll(ctx context.Context, d *Descriptor, params map[string]ir.Value, opts ExecOptions) (res Result, err error) {
	start := time.Now()
	defer func() { a.observe(string(KindUpdateAll), start, res.Count, err) }()

	if err := d.expect(KindUpdateAll); err != nil {
		return Result{}, fmt.Errorf("update_all: %w", err)
	}

	pred, err := querysql.Compile(d.ctx, d.query, params)
	if err != nil {
		return Result{}, fmt.Errorf("update_all %s: %w", d.table.Name, err)
	}
	updates, err := resolveUpdates(d.table, d.updates, params)
	if err != nil {
		return Result{}, fmt.Errorf("update_all %s: %w", d.table.Name, err)
	}

	var updated []ir.Row
	err = a.atomically(ctx, func(ctx context.Context, c store.Conn) error {
		tuples, err := c.Select(ctx, pred)
		if err != nil {
			return err
		}
		rows, err := codec.DecodeBatch(tuples, d.ctx)
		if err != nil {
			return err
		}

		out := make([]ir.Row, 0, len(rows))
		for i, row := range rows {
			next, err := applyUpdates(d.table, row, updates)
			if err != nil {
				return fmt.Errorf("update %s: %w", tuples[i], err)
			}
			key := tuples[i].Key()
			next[0] = key

			tuple, err := codec.EncodeRow(d.table, codec.ToObject(d.table, next))
			if err != nil {
				return fmt.Errorf("update %s: %w", tuples[i], err)
			}
			if err := c.Update(ctx, d.table, key, tuple); err != nil {
				return fmt.Errorf("update %s: %w", tuples[i], err)
			}
			out = append(out, next)
		}
		updated = out
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("update_all %s: %w", d.table.Name, err)
	}

	zerolog.Ctx(ctx).Debug().Str("op", "update_all").Str("table", d.table.Name).Int("count", len(updated)).Msg("executed")

	if !opts.Returning {
		return Result{Count: len(updated)}, nil
	}
	return Result{Count: len(updated), Rows: d.order(updated)}, nil
}

// resolvedUpdate is an update expression with its operand bound.
type resolvedUpdate struct {
	pos   int
	field string
	inc   bool
	value ir.Value
}

// resolveUpdates binds parameters once per execution, before any row is read.
func resolveUpdates(t *schema.Table, updates []queryir.Update, params map[string]ir.Value) ([]resolvedUpdate, error) {
	compiler := querysql.NewSQLCompiler(params)
	out := make([]resolvedUpdate, 0, len(updates))

	for _, u := range updates {
		pos, ok := t.Position(u.Target())
		if !ok {
			return nil, fmt.Errorf("update of unknown field %q", u.Target())
		}

		var (
			operand queryir.Operand
			inc     bool
		)
		switch upd := u.(type) {
		case queryir.Set:
			operand = upd.Operand
		case queryir.Inc:
			operand, inc = upd.Operand, true
		default:
			return nil, fmt.Errorf("unsupported update %T", u)
		}

		val, err := compiler.Resolve(operand)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", u.Target(), err)
		}
		if _, isInt := val.(ir.Int); inc && !isInt {
			return nil, fmt.Errorf("update %s: increment by %s", u.Target(), ir.Kind(val))
		}
		out = append(out, resolvedUpdate{pos: pos, field: u.Target(), inc: inc, value: val})
	}
	return out, nil
}

// applyUpdates returns a new row with the updates applied. Incrementing a
// null field leaves it null; an increment that overflows int64 fails.
func applyUpdates(t *schema.Table, row ir.Row, updates []resolvedUpdate) (ir.Row, error) {
	next := row.Clone()
	for _, u := range updates {
		if !u.inc {
			next[u.pos] = u.value
			continue
		}
		switch cur := next[u.pos].(type) {
		case ir.Null:
		case ir.Int:
			by := u.value.(ir.Int)
			if (by > 0 && cur > math.MaxInt64-by) || (by < 0 && cur < math.MinInt64-by) {
				return nil, fmt.Errorf("%s.%s: %d + %d overflows int64", t.Name, u.field, cur, by)
			}
			next[u.pos] = cur + by
		default:
			return nil, fmt.Errorf("%s.%s holds %s, cannot increment", t.Name, u.field, ir.Kind(cur))
		}
	}
	return next, nil
}
