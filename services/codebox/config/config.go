// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads codebox configuration.
//
// Sources are applied in order, later ones winning:
//
//  1. Built-in defaults (DefaultConfig)
//  2. An optional YAML file
//  3. An optional .env file
//  4. Process environment
//
// The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shuxueshuxue/Codebox/services/codebox/deps"
	"github.com/shuxueshuxue/Codebox/services/codebox/indexer"
	cbbadger "github.com/shuxueshuxue/Codebox/services/codebox/storage/badger"
)

// Environment variable names.
const (
	EnvWorkspaceRoot    = "WORKSPACE_ROOT"
	EnvStorePath        = "CODEBOX_STORE_PATH"
	EnvStoreMemTableMB  = "CODEBOX_STORE_MEMTABLE_MB"
	EnvProjectID        = "CODEBOX_PROJECT_ID"
	EnvIgnoreDirs       = "SCAN_IGNORE_DIRS"
	EnvMaxDepth         = "SCAN_MAX_DEPTH"
	EnvHash             = "SCAN_HASH"
	EnvHashMaxBytes     = "SCAN_HASH_MAX_BYTES"
	EnvPruneStale       = "SCAN_PRUNE_STALE"
	EnvReportErrors     = "SCAN_REPORT_ERRORS"
	EnvLogLevel         = "CODEBOX_LOG_LEVEL"
	EnvTraceExporter    = "CODEBOX_TRACE_EXPORTER"
	EnvOTLPEndpoint     = "OTEL_EXPORTER_OTLP_ENDPOINT"
	defaultEnvFile      = ".env"
	defaultStoreSubpath = ".polycache/codebox"
)

// Config is the complete codebox configuration.
type Config struct {
	// WorkspaceRoot is the directory being indexed. Defaults to the working
	// directory.
	WorkspaceRoot string `yaml:"workspace_root" validate:"required"`

	// StorePath is the index database directory. Defaults to
	// <WorkspaceRoot>/.polycache/codebox, which the default ignore set skips.
	StorePath string `yaml:"store_path" validate:"required"`

	// StoreMemTableMB sizes the database memtable. A scan pass larger than
	// about 15% of it is committed in staged chunks.
	StoreMemTableMB int64 `yaml:"store_memtable_mb" validate:"gte=8,lte=2048"`

	// ProjectID namespaces every record.
	ProjectID int64 `yaml:"project_id" validate:"gte=0"`

	Scan  ScanConfig  `yaml:"scan"`
	Infer InferConfig `yaml:"infer"`
	IDs   IDConfig    `yaml:"ids"`
	Log   LogConfig   `yaml:"log"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ScanConfig is the indexer policy.
type ScanConfig struct {
	IgnoreDirs   []string `yaml:"ignore_dirs" validate:"dive,required,dirname"`
	MaxDepth     int      `yaml:"max_depth" validate:"gte=0"`
	HashEnabled  bool     `yaml:"hash_enabled"`
	HashMaxBytes int64    `yaml:"hash_max_bytes" validate:"gte=0"`
	HashWorkers  int      `yaml:"hash_workers" validate:"gte=1,lte=64"`
	PruneStale   bool     `yaml:"prune_stale"`
	ReportErrors bool     `yaml:"report_errors"`
}

// InferConfig tunes the dependency inferrer.
type InferConfig struct {
	Workers   int `yaml:"workers" validate:"gte=1,lte=64"`
	CacheSize int `yaml:"cache_size" validate:"gte=0"`
}

// IDConfig identifies this process to the snowflake ID source.
type IDConfig struct {
	DatacenterID int64 `yaml:"datacenter_id" validate:"gte=0,lte=31"`
	WorkerID     int64 `yaml:"worker_id" validate:"gte=0,lte=31"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir    string `yaml:"dir"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// TelemetryConfig selects the span exporter. Metrics are always served
// through the Prometheus registry.
type TelemetryConfig struct {
	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`
	OTLPEndpoint  string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
}

// DefaultConfig returns the built-in defaults. WorkspaceRoot and StorePath
// are resolved by Load.
func DefaultConfig() Config {
	policy := indexer.DefaultPolicy()
	return Config{
		ProjectID:       1,
		StoreMemTableMB: cbbadger.DefaultMemTableSize >> 20,
		Scan: ScanConfig{
			IgnoreDirs:   policy.IgnoreDirs,
			MaxDepth:     policy.MaxDepth,
			HashEnabled:  policy.HashEnabled,
			HashMaxBytes: policy.HashMaxBytes,
			HashWorkers:  policy.HashWorkers,
		},
		Infer: InferConfig{
			Workers:   4,
			CacheSize: 1024,
		},
		Log:       LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{TraceExporter: "none"},
	}
}

// Policy converts the scan section into an indexer policy.
func (c ScanConfig) Policy() indexer.Policy {
	return indexer.Policy{
		IgnoreDirs:   append([]string(nil), c.IgnoreDirs...),
		MaxDepth:     c.MaxDepth,
		HashEnabled:  c.HashEnabled,
		HashMaxBytes: c.HashMaxBytes,
		HashWorkers:  c.HashWorkers,
		PruneStale:   c.PruneStale,
		ReportErrors: c.ReportErrors,
	}
}

// Options converts the infer section into inferrer options.
func (c InferConfig) Options() deps.Options {
	return deps.Options{Workers: c.Workers, CacheSize: c.CacheSize}
}

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("config: invalid")

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// File is an optional YAML file. When set it must exist.
	File string

	// EnvFile is the dotenv file. Empty means ".env"; a missing file is
	// ignored. "-" disables dotenv loading.
	EnvFile string

	// LookupEnv replaces os.LookupEnv. Used by tests.
	LookupEnv func(key string) (string, bool)
}

// Load builds a validated Config.
//
// Description:
//
//	Applies defaults, then the YAML file, then the dotenv file, then the
//	process environment. Process environment beats dotenv. Relative paths
//	are made absolute against the working directory.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil on unreadable or malformed sources, or when the result
//	        fails validation (wraps ErrInvalid).
func Load(opts LoadOptions) (*Config, error) {
	cfg := DefaultConfig()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", opts.File, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.EnvFile != "-" {
		envFile := opts.EnvFile
		if envFile == "" {
			envFile = defaultEnvFile
		}
		dotenv, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
		if len(dotenv) > 0 {
			lookup = layered(lookup, dotenv)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func layered(primary func(string) (string, bool), fallback map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvWorkspaceRoot); ok && v != "" {
		cfg.WorkspaceRoot = v
	}
	if v, ok := lookup(EnvStorePath); ok && v != "" {
		cfg.StorePath = v
	}
	if v, ok := lookup(EnvStoreMemTableMB); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStoreMemTableMB, err)
		}
		cfg.StoreMemTableMB = n
	}
	if v, ok := lookup(EnvProjectID); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProjectID, err)
		}
		cfg.ProjectID = n
	}
	if v, ok := lookup(EnvIgnoreDirs); ok {
		cfg.Scan.IgnoreDirs = splitList(v)
	}
	if v, ok := lookup(EnvMaxDepth); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxDepth, err)
		}
		cfg.Scan.MaxDepth = n
	}
	if v, ok := lookup(EnvHashMaxBytes); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHashMaxBytes, err)
		}
		cfg.Scan.HashMaxBytes = n
	}
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{EnvHash, &cfg.Scan.HashEnabled},
		{EnvPruneStale, &cfg.Scan.PruneStale},
		{EnvReportErrors, &cfg.Scan.ReportErrors},
	} {
		v, ok := lookup(b.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
		*b.dst = parsed
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvTraceExporter); ok && v != "" {
		cfg.Telemetry.TraceExporter = strings.ToLower(v)
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) resolvePaths() error {
	if c.WorkspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		c.WorkspaceRoot = wd
	}
	root, err := filepath.Abs(c.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("resolve workspace root: %w", err)
	}
	c.WorkspaceRoot = root

	if c.StorePath == "" {
		c.StorePath = filepath.Join(root, filepath.FromSlash(defaultStoreSubpath))
	}
	store, err := filepath.Abs(c.StorePath)
	if err != nil {
		return fmt.Errorf("resolve store path: %w", err)
	}
	c.StorePath = store
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// dirname: a single path segment, as matched against directory names.
	_ = v.RegisterValidation("dirname", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
	})
	return v
}

// Validate checks struct constraints on cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
