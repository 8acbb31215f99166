// Package config loads tuplex configuration.
//
// Precedence, lowest first: defaults, the YAML file, TUPLEX_* environment
// variables, then command-line flags applied by the caller. Validate runs
// last, after every layer.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvDatabase  = "TUPLEX_DATABASE"
	EnvSchemaDir = "TUPLEX_SCHEMA_DIR"
	EnvLogLevel  = "TUPLEX_LOG_LEVEL"
	EnvPretty    = "TUPLEX_PRETTY"
)

// Defaults.
const (
	DefaultBusyTimeoutMS       = 5000
	DefaultDescriptorCacheSize = 256
)

// Config is the runtime configuration.
type Config struct {
	Database            string `yaml:"database" validate:"required"`
	SchemaDir           string `yaml:"schema_dir" validate:"required"`
	BusyTimeoutMS       int    `yaml:"busy_timeout_ms" validate:"gte=0"`
	DescriptorCacheSize int    `yaml:"descriptor_cache_size" validate:"gt=0"`
	Log                 Log    `yaml:"log"`
}

// Log configures logging output.
type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a config with defaults filled in.
func Default() Config {
	return Config{
		BusyTimeoutMS:       DefaultBusyTimeoutMS,
		DescriptorCacheSize: DefaultDescriptorCacheSize,
		Log:                 Log{Level: "info"},
	}
}

// BusyTimeout returns the busy timeout as a duration.
func (c Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides. The result is not validated; call Validate after applying flags.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document does not set.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg from the environment via lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabase); ok {
		cfg.Database = v
	}
	if v, ok := lookup(EnvSchemaDir); ok {
		cfg.SchemaDir = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvPretty); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPretty, err)
		}
		cfg.Log.Pretty = b
	}
	return nil
}

var validate = validator.New()

// Validate checks the struct tags of cfg.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems := make([]string, len(verrs))
			for i, fe := range verrs {
				problems[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
