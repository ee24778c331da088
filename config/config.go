// Package config loads the connection settings of a tessera client from a
// YAML file and the environment.
//
//	dialect: mysql
//	source: user:pass@tcp(localhost:3306)/app
//	debug: true
//	slow_query: 200ms
//	language: de
//	cache:
//	  enabled: true
//	  ttl: 5m
//
// Every setting can be overridden with a TESSERA_ prefixed environment
// variable, e.g. TESSERA_SOURCE or TESSERA_CACHE_TTL.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/mysql"
	"github.com/syssam/tessera/dialect/sql"
	"github.com/syssam/tessera/dialect/sqlite"
	"github.com/syssam/tessera/validate"
)

// EnvPrefix is the prefix of the environment overrides.
const EnvPrefix = "TESSERA_"

// Config holds the settings of a client.
type Config struct {
	// Dialect is one of dialect.MySQL or dialect.SQLite.
	Dialect string `yaml:"dialect"`
	// Source is the DSN for MySQL or the database path for SQLite.
	Source string `yaml:"source"`
	// Debug logs every statement.
	Debug bool `yaml:"debug,omitempty"`
	// TypeDetection enables type detection of textual SQLite values.
	TypeDetection bool `yaml:"type_detection,omitempty"`
	// SlowQuery is the threshold above which statements are logged as
	// slow. Zero disables the log.
	SlowQuery time.Duration `yaml:"slow_query,omitempty"`
	// Language is the BCP 47 tag of validation messages.
	Language string `yaml:"language,omitempty"`
	// Cache configures the primary key cache.
	Cache Cache `yaml:"cache,omitempty"`
}

// Cache configures the in-memory cache of rows found by primary key.
type Cache struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
}

// Default returns the default settings: an in-memory SQLite database.
func Default() *Config {
	return &Config{
		Dialect:  dialect.SQLite,
		Source:   sqlite.Memory,
		Language: language.English.String(),
	}
}

// Load reads the YAML file at path over the defaults and applies the
// environment overrides. An empty path loads the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := cfg.Decode(b); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges the YAML document b into c. Unknown keys are an error.
func (c *Config) Decode(b []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

// ApplyEnv overrides the settings of c with the variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := env("DIALECT"); ok {
		c.Dialect = v
	}
	if v, ok := env("SOURCE"); ok {
		c.Source = v
	}
	if v, ok := env("LANGUAGE"); ok {
		c.Language = v
	}
	for name, dst := range map[string]*bool{
		"DEBUG":          &c.Debug,
		"TYPE_DETECTION": &c.TypeDetection,
		"CACHE":          &c.Cache.Enabled,
	} {
		if v, ok := env(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}
	for name, dst := range map[string]*time.Duration{
		"SLOW_QUERY": &c.SlowQuery,
		"CACHE_TTL":  &c.Cache.TTL,
	} {
		if v, ok := env(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks that the settings can open a client.
func (c *Config) Validate() error {
	switch c.Dialect {
	case dialect.MySQL, dialect.SQLite:
	default:
		return fmt.Errorf("config: unsupported dialect %q", c.Dialect)
	}
	if c.Source == "" {
		return errors.New("config: missing source")
	}
	if c.SlowQuery < 0 || c.Cache.TTL < 0 {
		return errors.New("config: negative duration")
	}
	if _, err := c.Tag(); err != nil {
		return err
	}
	return nil
}

// Tag returns the language of validation messages.
func (c *Config) Tag() (language.Tag, error) {
	if c.Language == "" {
		return language.English, nil
	}
	tag, err := language.Parse(c.Language)
	if err != nil {
		return language.Und, fmt.Errorf("config: language %q: %w", c.Language, err)
	}
	return tag, nil
}

// DriverOptions returns the connection options described by c.
func (c *Config) DriverOptions(logger *slog.Logger) []sql.Option {
	var opts []sql.Option
	if logger != nil {
		opts = append(opts, sql.WithLogger(logger))
	}
	if c.Debug {
		opts = append(opts, sql.WithDebug())
	}
	if c.TypeDetection {
		opts = append(opts, sql.WithTypeDetection())
	}
	if c.SlowQuery > 0 {
		opts = append(opts, sql.WithSlowThreshold(c.SlowQuery), sql.WithSlowQueryLog())
	}
	return opts
}

// OpenDriver opens the configured driver.
func (c *Config) OpenDriver(logger *slog.Logger) (dialect.Driver, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := c.DriverOptions(logger)
	if c.Dialect == dialect.MySQL {
		drv, err := mysql.Open(c.Source, opts...)
		if err != nil {
			return nil, err
		}
		return drv, nil
	}
	drv, err := sqlite.Open(c.Source, opts...)
	if err != nil {
		return nil, err
	}
	return drv, nil
}

// Open opens the configured driver and returns a client using it. The
// options are applied after the ones derived from c.
func Open(c *Config, opts ...tessera.Option) (*tessera.Client, error) {
	logger := slog.Default()
	drv, err := c.OpenDriver(logger)
	if err != nil {
		return nil, err
	}
	tag, _ := c.Tag()
	copts := []tessera.Option{
		tessera.WithLogger(logger),
		tessera.WithValidator(validate.New().WithLanguage(tag)),
	}
	if c.Cache.Enabled {
		copts = append(copts, tessera.WithCache(tessera.NewMemoryCache(), c.Cache.TTL))
	}
	return tessera.NewClient(drv, append(copts, opts...)...), nil
}
