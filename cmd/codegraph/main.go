// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command codegraph builds and queries a structural knowledge graph of
// Python repositories.
//
// Usage:
//
//	codegraph ingest https://github.com/org/repo.git
//	codegraph ingest ./local/checkout --name myrepo
//	codegraph analyze path/to/module.py --root path/to
//	codegraph query class pkg.models.User
//	codegraph validate generated_script.py
//	codegraph export myrepo -o graph.json
//	codegraph watch ./local/checkout
//
// Configuration is read from codegraph.yaml, .env and CODEGRAPH_* / NEO4J_*
// environment variables; flags override all of them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
	"github.com/AleutianAI/codegraph/services/codegraph/config"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by every subcommand.
type app struct {
	configFile  string
	envFile     string
	logLevel    string
	logFormat   string
	store       string
	badgerDir   string
	metricsAddr string

	cfg     *config.Config
	logger  *slog.Logger
	metrics *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "codegraph",
		Short:         "Build and query a code-structure graph of Python repositories",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configFile, "config", "", "YAML config file (default codegraph.yaml if present)")
	f.StringVar(&a.envFile, "env-file", "", "dotenv file (default .env if present)")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&a.logFormat, "log-format", "", "log format: auto, text, json")
	f.StringVar(&a.store, "store", "", "graph backend: badger or neo4j")
	f.StringVar(&a.badgerDir, "badger-dir", "", "badger data directory")
	f.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newAnalyzeCmd(a),
		newIngestCmd(a),
		newQueryCmd(a),
		newValidateCmd(a),
		newExportCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: a.configFile, EnvFile: a.envFile})
	if err != nil {
		return err
	}
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{a.logLevel, &cfg.LogLevel},
		{a.logFormat, &cfg.LogFormat},
		{a.store, &cfg.Store},
		{a.badgerDir, &cfg.BadgerDir},
		{a.metricsAddr, &cfg.MetricsAddr},
	} {
		if o.flag != "" {
			*o.dst = o.flag
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.SlogLevel(), cfg.LogFormat)
	slog.SetDefault(a.logger)

	if cfg.MetricsAddr != "" {
		a.metrics = startMetricsServer(cfg.MetricsAddr, a.logger)
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.metrics == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return a.metrics.Shutdown(shutdownCtx)
}

// newLogger builds a text handler for terminals and JSON otherwise.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return srv
}

// openStore opens the configured backend. The caller closes it.
func (a *app) openStore(ctx context.Context) (graph.Store, error) {
	switch a.cfg.Store {
	case config.StoreNeo4j:
		s, err := graph.NewNeo4jStore(ctx, a.cfg.Neo4jURI, a.cfg.Neo4jUser, a.cfg.Neo4jPassword.Value(),
			graph.WithDatabase(a.cfg.Neo4jDatabase),
			graph.WithNeo4jLogger(a.logger),
		)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		if a.cfg.BadgerDir != "" {
			if err := os.MkdirAll(a.cfg.BadgerDir, 0o755); err != nil {
				return nil, fmt.Errorf("creating badger dir: %w", err)
			}
		}
		return graph.OpenBadgerStore(a.cfg.BadgerDir, graph.WithBadgerLogger(a.logger))
	}
}

func (a *app) newAnalyzer() *ast.Analyzer {
	return ast.NewAnalyzer(ast.WithMaxFileSize(a.cfg.MaxFileSize), ast.WithLogger(a.logger))
}

// newIngester wires the ingestion pipeline over store.
func (a *app) newIngester(store graph.Writer) (*ingest.Ingester, error) {
	asm, err := graph.NewAssembler(store,
		graph.WithAssemblerLogger(a.logger),
		graph.WithBranchLimit(a.cfg.BranchLimit),
	)
	if err != nil {
		return nil, err
	}
	git := ingest.NewGitClient(ingest.WithGitLogger(a.logger), ingest.WithCommitLimit(a.cfg.CommitLimit))
	opts := []ingest.Option{
		ingest.WithLogger(a.logger),
		ingest.WithWorkers(a.cfg.Workers),
		ingest.WithReposDir(a.cfg.ReposDir),
		ingest.WithDiscoverOptions(ingest.DiscoverOptions{
			ExcludeDirs: a.cfg.ExcludeDirs,
			MaxFileSize: a.cfg.MaxFileSize,
		}),
		ingest.WithExternalModules(a.cfg.ExternalModules...),
		ingest.WithMetadataSource(git),
		ingest.WithCloner(git),
	}
	if a.cfg.KeepClones {
		opts = append(opts, ingest.WithKeepClone())
	}
	return ingest.NewIngester(a.newAnalyzer(), asm, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
