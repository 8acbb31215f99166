package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/querysql"
	"github.com/roach88/tuplex/internal/schema"
)

var (
	// ErrAlreadyExists reports an insert whose primary key is already stored.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound reports an update of a key that is not stored.
	ErrNotFound = errors.New("not found")
)

// Conn is the set of storage primitives. Both *Store (autocommit) and *Tx
// (inside a transaction) implement it.
type Conn interface {
	// Select scans tuples matching the predicate in engine order, returning
	// at most pred.Limit tuples when the limit is bounded.
	Select(ctx context.Context, pred querysql.Predicate) ([]ir.Tuple, error)
	// Insert stores a new tuple. Returns ErrAlreadyExists on a duplicate key.
	Insert(ctx context.Context, t *schema.Table, tuple ir.Tuple) error
	// Update replaces the whole tuple stored at key.
	Update(ctx context.Context, t *schema.Table, key ir.Value, tuple ir.Tuple) error
	// Delete removes the tuple at key. Deleting an absent key is not an error.
	Delete(ctx context.Context, t *schema.Table, key ir.Value) error
	// NextSequence returns the next key of a table's sequence, starting at 1.
	NextSequence(ctx context.Context, table string) (int64, error)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements Conn over a querier.
type conn struct {
	q querier
}

// Select scans matching tuples. Scan order is rowid (insertion) order, and
// the limit is applied by the engine before any application-side sort.
func (c conn) Select(ctx context.Context, pred querysql.Predicate) ([]ir.Tuple, error) {
	if len(pred.Columns) == 0 {
		return nil, fmt.Errorf("select %s: no columns", pred.Table)
	}
	where := pred.Where
	if where == "" {
		where = "1 = 1"
	}

	cols := make([]string, len(pred.Columns))
	for i, col := range pred.Columns {
		cols[i] = querysql.QuoteIdent(col)
	}

	// CRITICAL: Values are bound as parameters, including the limit.
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY rowid ASC LIMIT ?",
		strings.Join(cols, ", "), querysql.QuoteIdent(pred.Table), where)
	args := append(append([]any{}, pred.Args...), pred.Limit)

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", pred.Table, err)
	}
	defer rows.Close()

	tuples := []ir.Tuple{}
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("select %s: scan: %w", pred.Table, err)
		}

		values := make([]ir.Value, len(raw))
		for i, r := range raw {
			v, err := scalarToValue(r)
			if err != nil {
				return nil, fmt.Errorf("select %s: column %s: %w", pred.Table, pred.Columns[i], err)
			}
			values[i] = v
		}
		tuples = append(tuples, ir.Tuple{Table: pred.Table, Values: values})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: iterate: %w", pred.Table, err)
	}

	return tuples, nil
}

// Insert stores a tuple.
// Uses ON CONFLICT DO NOTHING and checks RowsAffected, so a duplicate key is
// reported as ErrAlreadyExists rather than a raw constraint failure.
func (c conn) Insert(ctx context.Context, t *schema.Table, tuple ir.Tuple) error {
	args, err := tupleArgs(t, tuple)
	if err != nil {
		return fmt.Errorf("insert %s: %w", t.Name, err)
	}

	cols := quotedColumns(t)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		querysql.QuoteIdent(t.Name), strings.Join(cols, ", "), placeholders)

	result, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", t.Name, mapConstraint(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s: rows affected: %w", t.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("insert %s: key %s: %w", t.Name, keyString(tuple.Key()), ErrAlreadyExists)
	}
	return nil
}

// Update replaces every column of the tuple stored at key.
func (c conn) Update(ctx context.Context, t *schema.Table, key ir.Value, tuple ir.Tuple) error {
	args, err := tupleArgs(t, tuple)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.Name, err)
	}

	cols := quotedColumns(t)
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		querysql.QuoteIdent(t.Name), strings.Join(sets, ", "), querysql.QuoteIdent(t.Key))
	args = append(args, querysql.ValueToParam(key))

	result, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.Name, mapConstraint(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: rows affected: %w", t.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: key %s: %w", t.Name, keyString(key), ErrNotFound)
	}
	return nil
}

// Delete removes the tuple at key.
func (c conn) Delete(ctx context.Context, t *schema.Table, key ir.Value) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		querysql.QuoteIdent(t.Name), querysql.QuoteIdent(t.Key))

	if _, err := c.q.ExecContext(ctx, query, querysql.ValueToParam(key)); err != nil {
		return fmt.Errorf("delete %s: %w", t.Name, err)
	}
	return nil
}

// NextSequence atomically increments and returns a table's sequence.
// A single statement upserts the counter, so concurrent callers never
// observe the same value.
func (c conn) NextSequence(ctx context.Context, table string) (int64, error) {
	var value int64
	err := c.q.QueryRowContext(ctx, `
		INSERT INTO sequences (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, table).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", table, err)
	}
	return value, nil
}

func quotedColumns(t *schema.Table) []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = querysql.QuoteIdent(f.Name)
	}
	return cols
}

func tupleArgs(t *schema.Table, tuple ir.Tuple) ([]any, error) {
	if tuple.Table != t.Name {
		return nil, fmt.Errorf("tuple belongs to %q", tuple.Table)
	}
	if len(tuple.Values) != len(t.Fields) {
		return nil, fmt.Errorf("tuple has %d values, table has %d fields", len(tuple.Values), len(t.Fields))
	}
	args := make([]any, len(tuple.Values))
	for i, v := range tuple.Values {
		args[i] = querysql.ValueToParam(v)
	}
	return args, nil
}

// scalarToValue converts a scanned SQLite scalar to an untyped value.
// Bool fields come back as Int; the codec applies field types.
func scalarToValue(raw any) (ir.Value, error) {
	switch v := raw.(type) {
	case nil:
		return ir.Null{}, nil
	case int64:
		return ir.Int(v), nil
	case string:
		return ir.String(v), nil
	case []byte:
		return ir.String(string(v)), nil
	case bool:
		return ir.Bool(v), nil
	default:
		return nil, fmt.Errorf("unsupported stored scalar %T", raw)
	}
}

// mapConstraint reports primary key and unique violations as ErrAlreadyExists.
// Other engine errors are returned unchanged.
func mapConstraint(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		}
	}
	return err
}

func keyString(v ir.Value) string {
	b, err := ir.MarshalValue(v)
	if err != nil {
		return "?"
	}
	return string(b)
}
