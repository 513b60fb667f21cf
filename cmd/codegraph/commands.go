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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
	"github.com/AleutianAI/codegraph/services/codegraph/validate"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "analyze <file.py>",
		Short: "Print the extracted structure of one Python file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if root == "" {
				root = filepath.Dir(path)
			}
			root, err = filepath.Abs(root)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return fmt.Errorf("%s is not under %s: %w", path, root, err)
			}

			files, err := ingest.Discover(root, ingest.DiscoverOptions{ExcludeDirs: a.cfg.ExcludeDirs})
			if err != nil {
				return err
			}
			repo := ast.NewRepoContext(root, ingest.ProjectModules(files), a.cfg.ExternalModules...)

			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			analysis, err := a.newAnalyzer().AnalyzeFile(cmd.Context(), content, filepath.ToSlash(rel), repo)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), analysis)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "repository root used for module names (default: the file's directory)")
	return cmd
}

func newIngestCmd(a *app) *cobra.Command {
	var branch, name string
	cmd := &cobra.Command{
		Use:   "ingest <url-or-path>",
		Short: "Analyze a repository and replace its graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			in, err := a.newIngester(store)
			if err != nil {
				return err
			}
			report, err := in.Ingest(ctx, ingest.Request{Source: args[0], Branch: branch, Name: name})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to clone")
	cmd.Flags().StringVar(&name, "name", "", "repository name (default: derived from the source)")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Look up classes, methods, functions and imports in the graph",
	}

	// sub builds a query subcommand that prints what run returns.
	sub := func(use, short string, run func(ctx context.Context, q graph.Querier, arg string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				store, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()

				out, err := run(ctx, store, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			},
		}
	}

	cmd.AddCommand(
		sub("class <full_name>", "Show a class with its methods and attributes",
			func(ctx context.Context, q graph.Querier, name string) (any, error) {
				class, err := q.FindClass(ctx, name)
				if err != nil {
					return nil, err
				}
				methods, err := q.MethodsOfClass(ctx, name)
				if err != nil {
					return nil, err
				}
				attrs, err := q.AttributesOfClass(ctx, name)
				if err != nil {
					return nil, err
				}
				return map[string]any{"class": class, "methods": methods, "attributes": attrs}, nil
			}),
		sub("classes <name>", "Find classes by short name",
			func(ctx context.Context, q graph.Querier, name string) (any, error) {
				return q.FindClassesByName(ctx, name)
			}),
		sub("methods <name>", "Find methods by name across all classes",
			func(ctx context.Context, q graph.Querier, name string) (any, error) {
				return q.FindMethods(ctx, name)
			}),
		sub("functions <name>", "Find module-level functions by name",
			func(ctx context.Context, q graph.Querier, name string) (any, error) {
				return q.FindFunctions(ctx, name)
			}),
		sub("files <module>", "List files defining a module or its submodules",
			func(ctx context.Context, q graph.Querier, module string) (any, error) {
				return q.FilesByModule(ctx, module)
			}),
		sub("importers <module>", "List files importing a module",
			func(ctx context.Context, q graph.Querier, module string) (any, error) {
				return q.FilesImporting(ctx, module)
			}),
		sub("counts <repo>", "Count the nodes of a repository",
			func(ctx context.Context, q graph.Querier, repo string) (any, error) {
				return q.Counts(ctx, repo)
			}),
	)
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate <script.py>",
		Short: "Cross-check a script's imports, calls and attribute accesses against the graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			script, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			v, err := validate.NewValidator(store, validate.WithLogger(a.logger))
			if err != nil {
				return err
			}
			res, err := v.Validate(ctx, script)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if strict && (res.NotFound > 0 || res.InvalidArgs > 0) {
				return fmt.Errorf("%d references not found, %d invalid calls", res.NotFound, res.InvalidArgs)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any reference is not found or invalid")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <repo>",
		Short: "Write a deterministic JSON export of a repository's graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			doc, err := graph.Export(ctx, store, args[0])
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return printJSON(cmd.OutOrStdout(), doc)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := printJSON(f, doc); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			a.logger.Info("exported graph",
				slog.String("repo", doc.Repository),
				slog.String("path", output),
				slog.String("graph_hash", doc.GraphHash),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Ingest a local checkout and re-ingest it whenever Python files change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			in, err := a.newIngester(store)
			if err != nil {
				return err
			}
			req := ingest.Request{Source: args[0], Name: name}
			reingest := func(ctx context.Context, changed []string) error {
				report, err := in.Ingest(ctx, req)
				if err != nil {
					return err
				}
				a.logger.Info("graph updated",
					slog.Int("changed", len(changed)),
					slog.Int("files_analyzed", report.FilesAnalyzed),
					slog.Int("files_failed", report.FilesFailed),
				)
				return nil
			}
			if err := reingest(ctx, nil); err != nil {
				return err
			}

			w, err := ingest.NewWatcher(args[0], reingest,
				ingest.WithWatchLogger(a.logger),
				ingest.WithDebounce(a.cfg.WatchDebounce),
				ingest.WithWatchExcludeDirs(a.cfg.ExcludeDirs...),
			)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "repository name (default: the directory name)")
	return cmd
}
