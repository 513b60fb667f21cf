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
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points Load at files inside a fresh directory so the test does
// not pick up a developer's local configuration.
func isolate(t *testing.T) LoadOptions {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{
		"CODEGRAPH_LOG_LEVEL", "CODEGRAPH_STORE", "CODEGRAPH_WORKERS", "CODEGRAPH_EXTERNAL_MODULES",
		"CODEGRAPH_WATCH_DEBOUNCE", "CODEGRAPH_KEEP_CLONES", "NEO4J_URI", "NEO4J_PASSWORD", "NEO4J_USERNAME",
	} {
		// Setenv restores the original value on cleanup, including values
		// loaded from the dotenv file during the test.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return LoadOptions{EnvFile: filepath.Join(dir, ".env")}
}

func TestLoad_Defaults(t *testing.T) {
	opts := isolate(t)
	t.Chdir(t.TempDir())

	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreBadger || cfg.LogLevel != "info" || cfg.Workers != 4 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.BranchLimit != 10 || cfg.CommitLimit != 10 {
		t.Errorf("unexpected history limits: %d %d", cfg.BranchLimit, cfg.CommitLimit)
	}
	if cfg.MaxFileSize != 500_000 {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
}

func TestLoad_Precedence(t *testing.T) {
	opts := isolate(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "codegraph.yaml")
	writeFile(t, yamlPath, `log_level: debug
workers: 8
external_modules: [vendorlib]
exclude_dirs: [generated]
watch_debounce: 2s
`)
	writeFile(t, opts.EnvFile, "CODEGRAPH_WORKERS=16\nNEO4J_PASSWORD=hunter2\n")
	t.Setenv("CODEGRAPH_EXTERNAL_MODULES", "internal_tools, legacy")
	opts.ConfigFile = yamlPath

	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("yaml should set log level, got %q", cfg.LogLevel)
	}
	if cfg.Workers != 16 {
		t.Errorf("env file should override yaml, got workers=%d", cfg.Workers)
	}
	if got := strings.Join(cfg.ExternalModules, ","); got != "vendorlib,internal_tools,legacy" {
		t.Errorf("ExternalModules = %q", got)
	}
	if len(cfg.ExcludeDirs) != 1 || cfg.ExcludeDirs[0] != "generated" {
		t.Errorf("ExcludeDirs = %v", cfg.ExcludeDirs)
	}
	if cfg.WatchDebounce != 2*time.Second {
		t.Errorf("WatchDebounce = %v", cfg.WatchDebounce)
	}
	if cfg.Neo4jPassword.Value() != "hunter2" {
		t.Error("password not loaded from env file")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
}

func TestLoad_ExplicitMissingConfigFile(t *testing.T) {
	opts := isolate(t)
	opts.ConfigFile = filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := Load(opts); err == nil {
		t.Error("expected error for explicitly named missing config file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad store", map[string]string{"CODEGRAPH_STORE": "sqlite"}},
		{"bad level", map[string]string{"CODEGRAPH_LOG_LEVEL": "loud"}},
		{"zero workers", map[string]string{"CODEGRAPH_WORKERS": "0"}},
		{"non-numeric workers", map[string]string{"CODEGRAPH_WORKERS": "many"}},
		{"bad duration", map[string]string{"CODEGRAPH_WATCH_DEBOUNCE": "soon"}},
		{"bad bool", map[string]string{"CODEGRAPH_KEEP_CLONES": "perhaps"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := isolate(t)
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSecret_Redacts(t *testing.T) {
	s := Secret("hunter2")

	for name, got := range map[string]string{
		"Sprint":  fmt.Sprint(s),
		"Sprintf": fmt.Sprintf("%v %s %#v", s, s, s),
	} {
		if strings.Contains(got, "hunter2") {
			t.Errorf("%s leaked secret: %q", name, got)
		}
	}

	data, err := json.Marshal(struct{ P Secret }{s})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("json leaked secret: %s", data)
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("connect", slog.Any("password", s))
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("log leaked secret: %s", buf.String())
	}
	if s.Value() != "hunter2" {
		t.Error("Value must return the raw secret")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
