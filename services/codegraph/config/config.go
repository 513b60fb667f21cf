// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads codegraph settings from defaults, an optional YAML
// file, an optional .env file and the environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
)

// Default file locations, relative to the working directory.
const (
	DefaultConfigFile = "codegraph.yaml"
	DefaultEnvFile    = ".env"
)

// Store backends.
const (
	StoreBadger = "badger"
	StoreNeo4j  = "neo4j"
)

const redacted = "[REDACTED]"

// Secret wraps a sensitive string so it never reaches logs or output.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string { return redacted }

// GoString implements fmt.GoStringer.
func (s Secret) GoString() string { return redacted }

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// Value returns the underlying secret.
func (s Secret) Value() string { return string(s) }

// Config holds every runtime option.
type Config struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=auto text json"`

	Store     string `yaml:"store" validate:"oneof=badger neo4j"`
	BadgerDir string `yaml:"badger_dir"`

	Neo4jURI      string `yaml:"neo4j_uri" validate:"required_if=Store neo4j,omitempty,uri"`
	Neo4jUser     string `yaml:"neo4j_username"`
	Neo4jPassword Secret `yaml:"-"`
	Neo4jDatabase string `yaml:"neo4j_database"`

	ReposDir    string `yaml:"repos_dir" validate:"required"`
	KeepClones  bool   `yaml:"keep_clones"`
	Workers     int    `yaml:"workers" validate:"min=1,max=256"`
	MaxFileSize int64  `yaml:"max_file_size" validate:"min=1"`
	BranchLimit int    `yaml:"branch_limit" validate:"min=1"`
	CommitLimit int    `yaml:"commit_limit" validate:"min=1"`

	// ExternalModules are top-level modules always treated as external.
	ExternalModules []string `yaml:"external_modules" validate:"dive,required"`

	// ExcludeDirs are directory names skipped in addition to the defaults.
	ExcludeDirs []string `yaml:"exclude_dirs" validate:"dive,required"`

	WatchDebounce time.Duration `yaml:"watch_debounce" validate:"min=0"`
	MetricsAddr   string        `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "auto",
		Store:         StoreBadger,
		BadgerDir:     filepath.Join(".codegraph", "badger"),
		Neo4jURI:      "bolt://localhost:7687",
		Neo4jUser:     "neo4j",
		Neo4jDatabase: "neo4j",
		ReposDir:      filepath.Join(os.TempDir(), "codegraph-repos"),
		Workers:       4,
		MaxFileSize:   ast.DefaultMaxFileSize,
		BranchLimit:   graph.DefaultBranchLimit,
		CommitLimit:   ingest.DefaultCommitLimit,
		WatchDebounce: ingest.DefaultDebounce,
	}
}

// LoadOptions locates the optional files Load reads.
type LoadOptions struct {
	// ConfigFile is a YAML file. Empty uses DefaultConfigFile. A missing
	// file is an error only when set explicitly.
	ConfigFile string

	// EnvFile is a dotenv file. Empty uses DefaultEnvFile. A missing file
	// is never an error.
	EnvFile string
}

// Load builds the configuration.
//
// Description:
//
//	Starts from Default, overlays the YAML file, loads the dotenv file into
//	the process environment without overriding variables already set, then
//	applies CODEGRAPH_* and NEO4J_* variables. The result is validated.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil on unreadable files, malformed values or failed validation.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	path := opts.ConfigFile
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := cfg.loadYAML(path, explicit); err != nil {
		return nil, err
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.LogLevel, "CODEGRAPH_LOG_LEVEL")
	setString(&c.LogFormat, "CODEGRAPH_LOG_FORMAT")
	setString(&c.Store, "CODEGRAPH_STORE")
	setString(&c.BadgerDir, "CODEGRAPH_BADGER_DIR")
	setString(&c.ReposDir, "CODEGRAPH_REPOS_DIR")
	setString(&c.MetricsAddr, "CODEGRAPH_METRICS_ADDR")
	setString(&c.Neo4jURI, "NEO4J_URI")
	setString(&c.Neo4jUser, "NEO4J_USERNAME")
	setString(&c.Neo4jDatabase, "NEO4J_DATABASE")
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		c.Neo4jPassword = Secret(v)
	}

	if v := os.Getenv("CODEGRAPH_EXTERNAL_MODULES"); v != "" {
		c.ExternalModules = append(c.ExternalModules, splitList(v)...)
	}
	if v := os.Getenv("CODEGRAPH_EXCLUDE_DIRS"); v != "" {
		c.ExcludeDirs = append(c.ExcludeDirs, splitList(v)...)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CODEGRAPH_WORKERS", &c.Workers},
		{"CODEGRAPH_BRANCH_LIMIT", &c.BranchLimit},
		{"CODEGRAPH_COMMIT_LIMIT", &c.CommitLimit},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s must be an integer: %w", e.key, err)
			}
			*e.dst = n
		}
	}
	if v := os.Getenv("CODEGRAPH_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CODEGRAPH_MAX_FILE_SIZE must be an integer: %w", err)
		}
		c.MaxFileSize = n
	}
	if v := os.Getenv("CODEGRAPH_KEEP_CLONES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CODEGRAPH_KEEP_CLONES must be a boolean: %w", err)
		}
		c.KeepClones = b
	}
	if v := os.Getenv("CODEGRAPH_WATCH_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CODEGRAPH_WATCH_DEBOUNCE must be a duration: %w", err)
		}
		c.WatchDebounce = d
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
