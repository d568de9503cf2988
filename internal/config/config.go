// Package config loads depweaver.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "depweaver.yaml"

// State backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

const defaultConfigYAML = `# depweaver configuration

# Where downloaded artifacts and incremental state are kept.
cache_dir: ~/.cache/depweaver

# Repositories are tried in order. Only https URLs and local directories
# are accepted.
repositories:
  - https://repo1.maven.org/maven2
  - https://maven.google.com

log_level: warn

# file keeps one JSON document per cached execution; sqlite keeps them all
# in one database.
state_backend: file

fetch:
  retries: 3
  timeout: 60s
`

// FetchConfig tunes repository downloads.
type FetchConfig struct {
	// Retries is the number of extra attempts after a transient failure.
	Retries int           `yaml:"retries"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config models depweaver.yaml.
type Config struct {
	CacheDir     string   `yaml:"cache_dir"`
	Repositories []string `yaml:"repositories"`
	// CodeVersion is mixed into every incremental fingerprint. Empty means
	// the binary's own version.
	CodeVersion  string      `yaml:"code_version,omitempty"`
	LogLevel     string      `yaml:"log_level"`
	StateBackend string      `yaml:"state_backend"`
	MetricsFile  string      `yaml:"metrics_file,omitempty"`
	Fetch        FetchConfig `yaml:"fetch"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	// The embedded document is known to decode.
	if err := decode([]byte(defaultConfigYAML), &cfg); err != nil {
		panic(err)
	}
	return cfg
}

// DefaultYAML is the commented default configuration, as written by
// `depweaver config init`.
func DefaultYAML() string {
	return defaultConfigYAML
}

// Load reads path over the defaults. Unknown keys are errors. A missing
// file is not an error when optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks values that decoding cannot.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CacheDir) == "" {
		errs = append(errs, errors.New("cache_dir is required"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.StateBackend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("state_backend must be %q or %q (got %q)", BackendFile, BackendSQLite, c.StateBackend))
	}
	if c.Fetch.Retries < 0 {
		errs = append(errs, fmt.Errorf("fetch.retries must not be negative (got %d)", c.Fetch.Retries))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must not be negative (got %s)", c.Fetch.Timeout))
	}
	return errors.Join(errs...)
}

// ResolvedCacheDir expands a leading ~ and makes the cache dir absolute
// against base.
func (c Config) ResolvedCacheDir(home, base string) string {
	dir := c.CacheDir
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(base, dir)
	}
	return filepath.Clean(dir)
}
