package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of adapter operations with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are stored under it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is inline CUE source holding a top-level `tables` struct.
	Schema string `yaml:"schema,omitempty"`

	// SchemaFiles lists CUE files to compile in addition to Schema.
	// Paths are relative to the scenario file location.
	SchemaFiles []string `yaml:"schema_files,omitempty"`

	// Keys are handed out in order to identifier-policy inserts that omit
	// their key. If empty, keys are "key-1", "key-2", ...
	Keys []string `yaml:"keys,omitempty"`

	// Steps are executed in order against a fresh database.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final stored state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one adapter operation.
//
// Which fields apply depends on Op:
//
//	insert       table, values
//	insert_all   table, rows
//	fetch        table, where, order, limit, params
//	delete_all   table, where, order, limit, params, returning
//	update_all   table, where, order, limit, params, returning, set, inc
//	update       table, values, filter
//	delete       table, filter
//	transaction  steps, rollback
type Step struct {
	Op    string `yaml:"op"`
	Table string `yaml:"table,omitempty"`

	Values map[string]any   `yaml:"values,omitempty"`
	Rows   []map[string]any `yaml:"rows,omitempty"`
	Filter map[string]any   `yaml:"filter,omitempty"`

	// Where is a CUE filter expression, e.g. `age > $min && name != null`.
	Where string `yaml:"where,omitempty"`
	// Order is a comma-separated ordering, e.g. "age, -name".
	Order string `yaml:"order,omitempty"`
	// Limit is an integer or "$param".
	Limit  string         `yaml:"limit,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`

	// Set and Inc are the updates of update_all. A string value "$name" is
	// a parameter reference.
	Set map[string]any `yaml:"set,omitempty"`
	Inc map[string]any `yaml:"inc,omitempty"`

	Returning bool `yaml:"returning,omitempty"`

	// Steps run inside the transaction of a transaction step.
	Steps []Step `yaml:"steps,omitempty"`
	// Rollback, if set, aborts the transaction with this reason after Steps.
	Rollback string `yaml:"rollback,omitempty"`

	// Expect describes the outcome. A step without Expect must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Error is the expected error class (see ErrorClass*). Empty means success.
	Error string `yaml:"error,omitempty"`

	// Count is the expected number of affected or returned rows.
	Count *int `yaml:"count,omitempty"`

	// Rows are the expected returned rows, compared exactly and in order.
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Values is a subset match against the object returned by insert/update.
	Values map[string]any `yaml:"values,omitempty"`
}

// Step operations.
const (
	OpInsert      = "insert"
	OpInsertAll   = "insert_all"
	OpFetch       = "fetch"
	OpDeleteAll   = "delete_all"
	OpUpdateAll   = "update_all"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpTransaction = "transaction"
)

// Error classes a step can expect.
const (
	ErrorClassConstraint   = "constraint"
	ErrorClassNotFound     = "not_found"
	ErrorClassPrecondition = "precondition"
	ErrorClassShape        = "shape"
	ErrorClassTxAborted    = "tx_aborted"
	ErrorClassAny          = "error"
)

var errorClasses = map[string]bool{
	ErrorClassConstraint:   true,
	ErrorClassNotFound:     true,
	ErrorClassPrecondition: true,
	ErrorClassShape:        true,
	ErrorClassTxAborted:    true,
	ErrorClassAny:          true,
}

// LoadScenario reads and parses a scenario YAML file. Schema file paths are
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i, p := range scenario.SchemaFiles {
		if !filepath.IsAbs(p) {
			scenario.SchemaFiles[i] = filepath.Join(base, p)
		}
	}
	for _, p := range scenario.SchemaFiles {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: schema file not found: %s", p)
		}
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML and validates its structure.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "step:" vs "steps:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Schema == "" && len(s.SchemaFiles) == 0 {
		return fmt.Errorf("schema or schema_files is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(path string, st *Step) error {
	if st.Op == "" {
		return fmt.Errorf("%s: op is required", path)
	}
	if st.Op != OpTransaction && st.Table == "" {
		return fmt.Errorf("%s: table is required for %s", path, st.Op)
	}

	switch st.Op {
	case OpInsert:
		if st.Values == nil {
			return fmt.Errorf("%s: values is required for insert (use {} for none)", path)
		}
	case OpInsertAll:
		if len(st.Rows) == 0 {
			return fmt.Errorf("%s: rows is required for insert_all", path)
		}
	case OpFetch, OpDeleteAll:
		if len(st.Set) > 0 || len(st.Inc) > 0 {
			return fmt.Errorf("%s: set/inc only apply to update_all", path)
		}
	case OpUpdateAll:
		if len(st.Set) == 0 && len(st.Inc) == 0 {
			return fmt.Errorf("%s: set or inc is required for update_all", path)
		}
	case OpUpdate:
		if st.Values == nil || st.Filter == nil {
			return fmt.Errorf("%s: values and filter are required for update", path)
		}
	case OpDelete:
		if st.Filter == nil {
			return fmt.Errorf("%s: filter is required for delete", path)
		}
	case OpTransaction:
		if len(st.Steps) == 0 && st.Rollback == "" {
			return fmt.Errorf("%s: transaction needs steps or rollback", path)
		}
		for i := range st.Steps {
			if err := validateStep(fmt.Sprintf("%s.steps[%d]", path, i), &st.Steps[i]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: unknown op %q", path, st.Op)
	}

	if st.Op != OpTransaction && (len(st.Steps) > 0 || st.Rollback != "") {
		return fmt.Errorf("%s: steps/rollback only apply to transaction", path)
	}
	if st.Expect != nil && st.Expect.Error != "" && !errorClasses[st.Expect.Error] {
		return fmt.Errorf("%s.expect: unknown error class %q", path, st.Expect.Error)
	}
	return nil
}
