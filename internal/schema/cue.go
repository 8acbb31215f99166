package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// CompileError reports an invalid schema definition with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileString compiles CUE source holding a top-level `tables` struct.
//
// Example:
//
//	tables: users: {
//		key:    "id"
//		policy: "sequence"
//		fields: [
//			{name: "id", type: "int"},
//			{name: "name", type: "string"},
//		]
//	}
func CompileString(src, filename string) ([]*Table, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return CompileValue(v)
}

// LoadDir loads every CUE file in dir as one instance and compiles its tables.
func LoadDir(dir string) ([]*Table, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema dir: not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("schema dir: no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	ctx := cuecontext.New()
	v := ctx.BuildInstance(inst)
	return CompileValue(v)
}

// CompileValue extracts every table under the `tables` path of a CUE value.
// Tables are returned in declaration order.
func CompileValue(v cue.Value) ([]*Table, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, &CompileError{Field: "tables", Message: "no tables defined", Pos: v.Pos()}
	}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var tables []*Table
	for iter.Next() {
		t, err := CompileTable(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// CompileTable parses one table definition.
func CompileTable(name string, v cue.Value) (*Table, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	key, err := optionalString(v, "key")
	if err != nil {
		return nil, err
	}
	policyName, err := optionalString(v, "policy")
	if err != nil {
		return nil, err
	}
	format, err := optionalString(v, "format")
	if err != nil {
		return nil, err
	}

	policy, err := ParsePolicy(policyName, format)
	if err != nil {
		return nil, &CompileError{Field: "tables." + name + ".policy", Message: err.Error(), Pos: v.Pos()}
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{Field: "tables." + name + ".fields", Message: "fields are required", Pos: v.Pos()}
	}
	fieldIter, err := fieldsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []Field
	for fieldIter.Next() {
		fv := fieldIter.Value()
		fname, err := fv.LookupPath(cue.ParsePath("name")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		ftype, err := fv.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if !FieldType(ftype).Valid() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("tables.%s.fields.%s", name, fname),
				Message: fmt.Sprintf("unsupported type %q (want string, int or bool)", ftype),
				Pos:     fv.Pos(),
			}
		}
		fields = append(fields, Field{Name: fname, Type: FieldType(ftype)})
	}

	t, err := NewTable(name, fields, key, policy)
	if err != nil {
		return nil, &CompileError{Field: "tables." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return t, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
