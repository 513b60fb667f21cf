// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes one command line against a fresh root command.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeRepo(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "billing")
	files := map[string]string{
		"billing/__init__.py": "",
		"billing/invoice.py": `class Invoice:
    currency = "EUR"

    def __init__(self, number):
        self.number = number

    def total(self, tax_rate=0.2) -> float:
        return 0.0
`,
		"billing/cli.py": "from billing.invoice import Invoice\n",
	}
	for rel, src := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestCLI_IngestQueryExportValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	repo := writeRepo(t)
	db := filepath.Join(t.TempDir(), "badger")
	common := []string{"--badger-dir", db, "--store", "badger", "--log-level", "error", "--log-format", "json"}

	out, err := runCLI(t, append([]string{"ingest", repo}, common...)...)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var report struct {
		Repository    string `json:"repository"`
		FilesAnalyzed int    `json:"files_analyzed"`
		Classes       int    `json:"classes"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, out)
	}
	if report.Repository != "billing" || report.FilesAnalyzed != 3 || report.Classes != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	out, err = runCLI(t, append([]string{"query", "class", "billing.invoice.Invoice"}, common...)...)
	if err != nil {
		t.Fatalf("query class: %v", err)
	}
	if !strings.Contains(out, `"total"`) || !strings.Contains(out, `"currency"`) {
		t.Errorf("class query missing members:\n%s", out)
	}

	out, err = runCLI(t, append([]string{"query", "importers", "billing.invoice"}, common...)...)
	if err != nil {
		t.Fatalf("query importers: %v", err)
	}
	if !strings.Contains(out, "billing/cli.py") {
		t.Errorf("expected importer billing/cli.py:\n%s", out)
	}

	exportPath := filepath.Join(t.TempDir(), "graph.json")
	if _, err := runCLI(t, append([]string{"export", "billing", "-o", exportPath}, common...)...); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		SchemaVersion string `json:"schema_version"`
		GraphHash     string `json:"graph_hash"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if doc.SchemaVersion == "" || doc.GraphHash == "" {
		t.Errorf("export missing header fields: %s", data[:min(len(data), 200)])
	}

	script := filepath.Join(t.TempDir(), "generated.py")
	if err := os.WriteFile(script, []byte("from billing.invoice import Invoice\ninv = Invoice(1)\ninv.refund()\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, append([]string{"validate", script}, common...)...)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, `"not_found": 1`) {
		t.Errorf("expected one missing reference:\n%s", out)
	}
	if _, err := runCLI(t, append([]string{"validate", "--strict", script}, common...)...); err == nil {
		t.Error("strict validation should fail on missing references")
	}
}

func TestCLI_InvalidStore(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := runCLI(t, "query", "counts", "x", "--store", "sqlite"); err == nil {
		t.Error("expected validation error for unknown store")
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, slog.LevelInfo, "auto").Info("hello", slog.Int("n", 1))
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("non-terminal auto format should be JSON, got %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, slog.LevelInfo, "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text format expected, got %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, slog.LevelWarn, "json").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
}
