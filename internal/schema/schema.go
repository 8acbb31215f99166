package schema

import (
	"fmt"
	"regexp"
)

// FieldType is the declared type of a table field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
)

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeBool:
		return true
	}
	return false
}

// Field is one column of a table.
type Field struct {
	Name string
	Type FieldType
}

// KeyPolicy decides how a table's primary key is produced.
//
// This is a sealed interface - only NoAutogenerate, Sequence and Identifier
// implement it. The policy is fixed when the table is registered and never
// re-derived from the values of individual inserts.
type KeyPolicy interface {
	keyPolicy()
	String() string
}

// NoAutogenerate requires the caller to supply a unique key on every insert.
type NoAutogenerate struct{}

func (NoAutogenerate) keyPolicy()     {}
func (NoAutogenerate) String() string { return "none" }

// Sequence hands out the next integer from a per-table engine sequence
// whenever an insert omits the key.
type Sequence struct{}

func (Sequence) keyPolicy()     {}
func (Sequence) String() string { return "sequence" }

// IDFormat selects the client-side identifier generator.
type IDFormat string

const (
	FormatUUID   IDFormat = "uuid"
	FormatKSUID  IDFormat = "ksuid"
	FormatNanoID IDFormat = "nanoid"
)

// Identifier generates a globally unique string key on the client before any
// value reaches the engine, whenever an insert omits the key.
type Identifier struct {
	Format IDFormat
}

func (Identifier) keyPolicy() {}
func (p Identifier) String() string {
	return "identifier(" + string(p.Format) + ")"
}

// ParsePolicy maps the textual policy names used in schema files to a KeyPolicy.
// An empty format on an identifier policy defaults to uuid.
func ParsePolicy(name, format string) (KeyPolicy, error) {
	switch name {
	case "", "none":
		return NoAutogenerate{}, nil
	case "sequence":
		return Sequence{}, nil
	case "identifier":
		f := IDFormat(format)
		if f == "" {
			f = FormatUUID
		}
		switch f {
		case FormatUUID, FormatKSUID, FormatNanoID:
			return Identifier{Format: f}, nil
		}
		return nil, fmt.Errorf("unknown identifier format %q", format)
	default:
		return nil, fmt.Errorf("unknown key policy %q", name)
	}
}

// Table describes one stored relation. The key field is always Fields[0],
// which matches its position in the engine tuple.
type Table struct {
	Name   string
	Fields []Field
	Key    string
	Policy KeyPolicy

	positions map[string]int
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewTable validates a table definition and builds its field index.
//
// Rules:
//   - table and field names are plain identifiers
//   - at least one field, no duplicates, every type valid
//   - the key names the first field
//   - sequence keys are int, identifier keys are string
func NewTable(name string, fields []Field, key string, policy KeyPolicy) (*Table, error) {
	if !identRe.MatchString(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("table %s: at least one field is required", name)
	}
	if policy == nil {
		policy = NoAutogenerate{}
	}

	positions := make(map[string]int, len(fields))
	for i, f := range fields {
		if !identRe.MatchString(f.Name) {
			return nil, fmt.Errorf("table %s: invalid field name %q", name, f.Name)
		}
		if !f.Type.Valid() {
			return nil, fmt.Errorf("table %s: field %s has unknown type %q", name, f.Name, f.Type)
		}
		if _, dup := positions[f.Name]; dup {
			return nil, fmt.Errorf("table %s: duplicate field %q", name, f.Name)
		}
		positions[f.Name] = i
	}

	if key == "" {
		key = fields[0].Name
	}
	if fields[0].Name != key {
		return nil, fmt.Errorf("table %s: key %q must be the first field", name, key)
	}

	switch policy.(type) {
	case Sequence:
		if fields[0].Type != TypeInt {
			return nil, fmt.Errorf("table %s: sequence key %q must be int", name, key)
		}
	case Identifier:
		if fields[0].Type != TypeString {
			return nil, fmt.Errorf("table %s: identifier key %q must be string", name, key)
		}
	}

	out := make([]Field, len(fields))
	copy(out, fields)
	return &Table{
		Name:      name,
		Fields:    out,
		Key:       key,
		Policy:    policy,
		positions: positions,
	}, nil
}

// MustTable is NewTable for static fixtures. Panics on an invalid definition.
func MustTable(name string, fields []Field, key string, policy KeyPolicy) *Table {
	t, err := NewTable(name, fields, key, policy)
	if err != nil {
		panic(err)
	}
	return t
}

// Position returns the index of a field in the row (and tuple) layout.
func (t *Table) Position(field string) (int, bool) {
	i, ok := t.positions[field]
	return i, ok
}

// Field looks up a field by name.
func (t *Table) Field(name string) (Field, bool) {
	i, ok := t.positions[name]
	if !ok {
		return Field{}, false
	}
	return t.Fields[i], true
}

// FieldNames returns the field names in layout order.
func (t *Table) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// KeyField returns the primary key field.
func (t *Table) KeyField() Field {
	return t.Fields[0]
}
