// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuxueshuxue/Codebox/services/codebox/indexer"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(LoadOptions{
		EnvFile:   "-",
		LookupEnv: envMap(map[string]string{EnvWorkspaceRoot: root}),
	})
	require.NoError(t, err)

	assert.Equal(t, root, cfg.WorkspaceRoot)
	assert.Equal(t, filepath.Join(root, ".polycache", "codebox"), cfg.StorePath)
	assert.Equal(t, indexer.DefaultIgnoreDirs, cfg.Scan.IgnoreDirs)
	assert.Equal(t, 12, cfg.Scan.MaxDepth)
	assert.False(t, cfg.Scan.HashEnabled)
	assert.Equal(t, int64(1048576), cfg.Scan.HashMaxBytes)
	assert.False(t, cfg.Scan.PruneStale)
	assert.False(t, cfg.Scan.ReportErrors)
	assert.Equal(t, int64(1), cfg.ProjectID)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
	assert.Equal(t, int64(128), cfg.StoreMemTableMB)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "codebox.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
workspace_root: `+dir+`
project_id: 9
scan:
  ignore_dirs: [build, dist]
  max_depth: 3
  hash_enabled: true
  hash_workers: 2
infer:
  workers: 2
log:
  level: debug
`), 0o600))

	cfg, err := Load(LoadOptions{
		File:    file,
		EnvFile: "-",
		LookupEnv: envMap(map[string]string{
			EnvMaxDepth:     "5",
			EnvHashMaxBytes: "10",
			EnvPruneStale:   "true",

			EnvStoreMemTableMB: "256",
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(9), cfg.ProjectID)
	assert.Equal(t, []string{"build", "dist"}, cfg.Scan.IgnoreDirs)
	assert.Equal(t, 5, cfg.Scan.MaxDepth)
	assert.True(t, cfg.Scan.HashEnabled)
	assert.Equal(t, int64(10), cfg.Scan.HashMaxBytes)
	assert.True(t, cfg.Scan.PruneStale)
	assert.Equal(t, int64(256), cfg.StoreMemTableMB)
	assert.Equal(t, 2, cfg.Infer.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)

	p := cfg.Scan.Policy()
	assert.Equal(t, 5, p.MaxDepth)
	assert.Equal(t, []string{"build", "dist"}, p.IgnoreDirs)
	assert.Equal(t, 2, cfg.Infer.Options().Workers)
}

func TestLoad_DotenvLosesToProcessEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"SCAN_IGNORE_DIRS=a, b ,,c\nSCAN_HASH=true\nSCAN_MAX_DEPTH=2\n"), 0o600))

	cfg, err := Load(LoadOptions{
		EnvFile: envFile,
		LookupEnv: envMap(map[string]string{
			EnvWorkspaceRoot: dir,
			EnvMaxDepth:      "7",
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Scan.IgnoreDirs)
	assert.True(t, cfg.Scan.HashEnabled)
	assert.Equal(t, 7, cfg.Scan.MaxDepth)
}

func TestLoad_Telemetry(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoadOptions{
		EnvFile: "-",
		LookupEnv: envMap(map[string]string{
			EnvWorkspaceRoot: dir,
			EnvTraceExporter: "OTLP",
			EnvOTLPEndpoint:  "localhost:4317",
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, "otlp", cfg.Telemetry.TraceExporter)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_MissingDotenvIgnored(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(LoadOptions{
		EnvFile:   filepath.Join(dir, "nope.env"),
		LookupEnv: envMap(map[string]string{EnvWorkspaceRoot: dir}),
	})
	require.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		env     map[string]string
		invalid bool
	}{
		{name: "bad depth", env: map[string]string{EnvMaxDepth: "deep"}},
		{name: "bad bool", env: map[string]string{EnvHash: "sometimes"}},
		{name: "bad bytes", env: map[string]string{EnvHashMaxBytes: "1MB"}},
		{name: "bad memtable", env: map[string]string{EnvStoreMemTableMB: "big"}},
		{name: "tiny memtable", env: map[string]string{EnvStoreMemTableMB: "1"}, invalid: true},
		{name: "negative depth", env: map[string]string{EnvMaxDepth: "-1"}, invalid: true},
		{name: "ignore with slash", env: map[string]string{EnvIgnoreDirs: "a/b"}, invalid: true},
		{name: "bad log level", env: map[string]string{EnvLogLevel: "loud"}, invalid: true},
		{name: "unknown exporter", env: map[string]string{EnvTraceExporter: "zipkin"}, invalid: true},
		{name: "otlp without endpoint", env: map[string]string{EnvTraceExporter: "otlp"}, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{EnvWorkspaceRoot: dir}
			for k, v := range tt.env {
				env[k] = v
			}
			_, err := Load(LoadOptions{EnvFile: "-", LookupEnv: envMap(env)})
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NotErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "missing.yaml"), EnvFile: "-"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
