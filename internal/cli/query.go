package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tuplex/internal/adapter"
	"github.com/roach88/tuplex/internal/codec"
	"github.com/roach88/tuplex/internal/config"
	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/logging"
	"github.com/roach88/tuplex/internal/metrics"
	"github.com/roach88/tuplex/internal/queryir"
	"github.com/roach88/tuplex/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Config    string
	Database  string
	SchemaDir string
	Table     string
	Where     string
	Order     string
	Limit     string
	Params    []string // name=value, value parsed as YAML
	Metrics   bool     // dump prometheus metrics to stderr after the query
}

// QueryResult is the payload of a successful query.
type QueryResult struct {
	Table  string           `json:"table"`
	Count  int              `json:"count"`
	Fields []string         `json:"-"`
	Rows   []map[string]any `json:"rows"`
}

func (r QueryResult) renderText(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(r.Fields, "\t"))
	for _, row := range r.Rows {
		cells := make([]string, len(r.Fields))
		for i, f := range r.Fields {
			if v := row[f]; v != nil {
				cells[i] = fmt.Sprint(v)
			} else {
				cells[i] = "null"
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	fmt.Fprintf(w, "(%d rows)\n", r.Count)
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Fetch rows from a table",
		Long: `Fetch rows from a table of a tuplex database.

The filter is a CUE expression over field names; $name refers to a
parameter bound with --param. Order is a comma-separated list of fields,
each optionally prefixed with - or followed by desc. The limit is applied
by the engine before rows are ordered.

Configuration comes from --config, then TUPLEX_* environment variables,
then the --db and --schema-dir flags.

Examples:
  tuplex query --config tuplex.yaml --table users
  tuplex query --db app.db --schema-dir ./schema --table users --where "age > $min" --param min=20
  tuplex query --config tuplex.yaml --table users --order "-age, name" --limit 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to config file (YAML)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.SchemaDir, "schema-dir", "", "directory of CUE table schemas (overrides config)")
	cmd.Flags().StringVarP(&opts.Table, "table", "t", "", "table to fetch from (required)")
	cmd.Flags().StringVarP(&opts.Where, "where", "w", "", "filter expression")
	cmd.Flags().StringVarP(&opts.Order, "order", "o", "", "order clause")
	cmd.Flags().StringVarP(&opts.Limit, "limit", "l", "", "row limit (number or $param)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "bind a parameter (name=value, repeatable)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print operation metrics to stderr")
	_ = cmd.MarkFlagRequired("table")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadQueryConfig(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	ctx, err := withLogger(commandContext(cmd), opts.RootOptions, cmd, logging.Options{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to configure logging", err)
	}
	log := zerolog.Ctx(ctx)

	q, params, err := buildQuery(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeQuery, "invalid query", err)
	}

	loaded, err := LoadSchema(cfg.SchemaDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to load schema", err)
	}
	formatter.VerboseLog("compiled %d tables from %s", len(loaded.Tables), cfg.SchemaDir)

	log.Debug().Str("path", cfg.Database).Msg("opening database")
	st, err := store.Open(cfg.Database, store.Options{BusyTimeout: cfg.BusyTimeout()})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("error closing database")
		}
	}()

	if err := st.CreateTables(ctx, loaded.Tables...); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to create tables", err)
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to register metrics", err)
	}

	a, err := adapter.New(st, loaded.Registry, adapter.Options{CacheSize: cfg.DescriptorCacheSize})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to create adapter", err)
	}

	d, err := a.Prepare(adapter.KindFetch, q)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeQuery, "invalid query", err)
	}

	res, err := fetch(ctx, a, d, params)
	if opts.Metrics {
		if dumpErr := dumpMetrics(formatter.Diagnostics(), reg); dumpErr != nil {
			log.Warn().Err(dumpErr).Msg("failed to write metrics")
		}
	}
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "fetch failed", err)
	}
	return formatter.Success(res)
}

// loadQueryConfig layers defaults, the config file, the environment and the
// command-line overrides, then validates the result.
func loadQueryConfig(opts *QueryOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.SchemaDir != "" {
		cfg.SchemaDir = opts.SchemaDir
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildQuery parses the filter, order, limit and parameter flags.
func buildQuery(opts *QueryOptions) (queryir.Select, map[string]ir.Value, error) {
	where, err := queryir.ParseWhere(opts.Where)
	if err != nil {
		return queryir.Select{}, nil, err
	}
	orderBy, err := queryir.ParseOrder(opts.Order)
	if err != nil {
		return queryir.Select{}, nil, err
	}
	limit, err := queryir.ParseLimit(opts.Limit)
	if err != nil {
		return queryir.Select{}, nil, err
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return queryir.Select{}, nil, err
	}

	return queryir.Select{
		From:    opts.Table,
		Where:   where,
		OrderBy: orderBy,
		Limit:   limit,
	}, params, nil
}

// parseParams turns name=value pairs into bound values. Values are YAML
// scalars: 20 is an int, true a bool, null is Null, anything else a string.
func parseParams(pairs []string) (map[string]ir.Value, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]ir.Value, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("param %q: want name=value", pair)
		}
		var decoded any
		if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		v, err := ir.FromGo(decoded)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		params[name] = v
	}
	return params, nil
}

func fetch(ctx context.Context, a *adapter.Adapter, d *adapter.Descriptor, params map[string]ir.Value) (QueryResult, error) {
	res, err := a.Fetch(ctx, d, params)
	if err != nil {
		return QueryResult{}, err
	}

	t := d.Table()
	out := QueryResult{
		Table:  t.Name,
		Count:  res.Count,
		Fields: t.FieldNames(),
		Rows:   make([]map[string]any, len(res.Rows)),
	}
	for i, row := range res.Rows {
		obj := codec.ToObject(t, row)
		m := make(map[string]any, len(obj))
		for k, v := range obj {
			m[k] = ir.ToGo(v)
		}
		out.Rows[i] = m
	}
	return out, nil
}

// dumpMetrics writes every gathered metric in the text exposition format.
func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
