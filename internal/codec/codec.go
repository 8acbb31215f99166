// Package codec converts between typed field values and stored tuples.
//
// Encoding places an Object's values in schema field order and checks their
// types. Decoding turns the engine's scalars back into typed values using the
// decoding context; SQLite has no boolean storage class, so bool fields come
// back as the integers 0 and 1.
package codec

import (
	"fmt"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/querysql"
	"github.com/roach88/tuplex/internal/schema"
)

// FieldError reports a value that does not fit its field.
type FieldError struct {
	Table   string
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Table, e.Field, e.Message)
}

// EncodeRow converts field values into a stored tuple in schema order.
// Absent fields encode as Null; fields the table does not declare are
// rejected.
func EncodeRow(t *schema.Table, values ir.Object) (ir.Tuple, error) {
	for _, name := range values.SortedKeys() {
		if _, ok := t.Position(name); !ok {
			return ir.Tuple{}, &FieldError{Table: t.Name, Field: name, Message: "unknown field"}
		}
	}

	out := make([]ir.Value, len(t.Fields))
	for i, f := range t.Fields {
		v, ok := values[f.Name]
		if !ok || v == nil {
			out[i] = ir.Null{}
			continue
		}
		if err := checkType(t, f, v); err != nil {
			return ir.Tuple{}, err
		}
		out[i] = v
	}
	return ir.Tuple{Table: t.Name, Values: out}, nil
}

// TupleFromRow re-assembles a stored tuple from a typed row.
func TupleFromRow(t *schema.Table, row ir.Row) ir.Tuple {
	return ir.Tuple{Table: t.Name, Values: row.Clone()}
}

// RowFromTuple returns the tuple's values as a row without decoding them.
func RowFromTuple(tuple ir.Tuple) ir.Row {
	return ir.Row(tuple.Values).Clone()
}

// DecodeBatch decodes raw tuples into typed rows. The batch order is kept.
func DecodeBatch(tuples []ir.Tuple, ctx *querysql.Context) ([]ir.Row, error) {
	rows := make([]ir.Row, 0, len(tuples))
	for i, tuple := range tuples {
		row, err := Decode(tuple, ctx)
		if err != nil {
			return nil, fmt.Errorf("decode tuple %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Decode decodes one raw tuple into a typed row.
func Decode(tuple ir.Tuple, ctx *querysql.Context) (ir.Row, error) {
	t := ctx.Table
	if tuple.Table != t.Name {
		return nil, fmt.Errorf("tuple belongs to %q, context is %q", tuple.Table, t.Name)
	}
	if len(tuple.Values) != len(t.Fields) {
		return nil, fmt.Errorf("tuple has %d values, %s has %d fields", len(tuple.Values), t.Name, len(t.Fields))
	}

	row := make(ir.Row, len(t.Fields))
	for i, f := range t.Fields {
		v, err := decodeValue(t, f, tuple.Values[i])
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

// ToObject maps a typed row back to field names.
func ToObject(t *schema.Table, row ir.Row) ir.Object {
	obj := make(ir.Object, len(t.Fields))
	for i, f := range t.Fields {
		if i < len(row) && row[i] != nil {
			obj[f.Name] = row[i]
		} else {
			obj[f.Name] = ir.Null{}
		}
	}
	return obj
}

func decodeValue(t *schema.Table, f schema.Field, v ir.Value) (ir.Value, error) {
	if ir.IsNull(v) {
		return ir.Null{}, nil
	}
	switch f.Type {
	case schema.TypeBool:
		switch val := v.(type) {
		case ir.Bool:
			return val, nil
		case ir.Int:
			if val != 0 && val != 1 {
				return nil, &FieldError{Table: t.Name, Field: f.Name, Message: fmt.Sprintf("stored bool is %d", val)}
			}
			return ir.Bool(val == 1), nil
		}
	case schema.TypeInt:
		if val, ok := v.(ir.Int); ok {
			return val, nil
		}
	case schema.TypeString:
		if val, ok := v.(ir.String); ok {
			return val, nil
		}
	}
	return nil, &FieldError{
		Table:   t.Name,
		Field:   f.Name,
		Message: fmt.Sprintf("stored %s does not decode as %s", ir.Kind(v), f.Type),
	}
}

func checkType(t *schema.Table, f schema.Field, v ir.Value) error {
	var ok bool
	switch v.(type) {
	case ir.Null:
		ok = true
	case ir.String:
		ok = f.Type == schema.TypeString
	case ir.Int:
		ok = f.Type == schema.TypeInt
	case ir.Bool:
		ok = f.Type == schema.TypeBool
	}
	if !ok {
		return &FieldError{
			Table:   t.Name,
			Field:   f.Name,
			Message: fmt.Sprintf("expected %s, got %s", f.Type, ir.Kind(v)),
		}
	}
	return nil
}
