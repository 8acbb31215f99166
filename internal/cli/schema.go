package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tuplex/internal/schema"
)

// SchemaResult lists the tables compiled from a schema directory.
type SchemaResult struct {
	Files  int         `json:"files"`
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes one compiled table.
type TableInfo struct {
	Name   string      `json:"name"`
	Key    string      `json:"key"`
	Policy string      `json:"policy"`
	Fields []FieldInfo `json:"fields"`
}

// FieldInfo describes one table field.
type FieldInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (r SchemaResult) renderText(w io.Writer) {
	for i, t := range r.Tables {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (key %s, policy %s)\n", t.Name, t.Key, t.Policy)
		for _, f := range t.Fields {
			fmt.Fprintf(w, "  %-16s %s\n", f.Name, f.Type)
		}
	}
	fmt.Fprintf(w, "\n%d tables from %d files\n", len(r.Tables), r.Files)
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <schema-dir>",
		Short: "Compile table schemas and list them",
		Long: `Compile the CUE table definitions in a directory and list each table
with its key field, key policy and fields.

Example:
  tuplex schema ./schema
  tuplex schema ./schema --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runSchema(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loaded, err := LoadSchema(dir)
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to load schema", err)
	}
	formatter.VerboseLog("compiled %d tables from %d files", len(loaded.Tables), loaded.FileCount)

	return formatter.Success(describeTables(loaded.FileCount, loaded.Registry.Tables()))
}

func describeTables(files int, tables []*schema.Table) SchemaResult {
	out := SchemaResult{Files: files, Tables: make([]TableInfo, len(tables))}
	for i, t := range tables {
		info := TableInfo{
			Name:   t.Name,
			Key:    t.Key,
			Policy: t.Policy.String(),
			Fields: make([]FieldInfo, len(t.Fields)),
		}
		for j, f := range t.Fields {
			info.Fields[j] = FieldInfo{Name: f.Name, Type: string(f.Type)}
		}
		out.Tables[i] = info
	}
	return out
}
