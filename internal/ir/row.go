package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Row is one logical record: typed field values in schema field order.
// A Row is independent of how the storage engine lays out the stored tuple.
type Row []Value

// Clone returns a copy of the row that shares no backing array.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Equal reports whether two rows hold equal values position by position.
func (r Row) Equal(other Row) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if !Equal(r[i], other[i]) {
			return false
		}
	}
	return true
}

// Object maps field names to values. Callers pass field values for inserts,
// updates and key filters as Objects; the schema supplies the field order.
type Object map[string]Value

// Clone returns a shallow copy of the object.
func (o Object) Clone() Object {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// SortedKeys returns the keys in byte order for deterministic iteration.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ObjectFromGo converts a decoded YAML/JSON map into an Object.
func ObjectFromGo(m map[string]any) (Object, error) {
	obj := make(Object, len(m))
	for k, raw := range m {
		v, err := FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj[k] = v
	}
	return obj, nil
}

// Tuple is the engine-native representation of a stored record: the table it
// belongs to followed by its ordered field values. Values[0] is the primary key.
//
// The orchestrator only indexes a tuple by position (Key) and replaces whole
// tuples; it never interprets the remaining positions itself.
type Tuple struct {
	Table  string
	Values []Value
}

// Key returns the primary key (position 0). Returns Null for an empty tuple.
func (t Tuple) Key() Value {
	if len(t.Values) == 0 {
		return Null{}
	}
	return t.Values[0]
}

// String renders the tuple for logs and test failure messages.
func (t Tuple) String() string {
	parts := make([]string, len(t.Values))
	for i, v := range t.Values {
		b, err := MarshalValue(v)
		if err != nil {
			parts[i] = "?"
			continue
		}
		parts[i] = string(b)
	}
	return fmt.Sprintf("{%s, %s}", t.Table, strings.Join(parts, ", "))
}
