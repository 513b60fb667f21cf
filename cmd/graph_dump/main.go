// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// graph_dump inspects an embedded codegraph database.
//
// The tool opens the BadgerDB directory read-only and prints the
// repositories it holds, node counts per label, edge counts per type and
// the number of outgoing edges without a reverse index entry.
//
// Usage:
//
//	graph_dump [--path .codegraph/badger] [--json]
//
// If --path is not given, reads CODEGRAPH_BADGER_DIR from the environment,
// falling back to .codegraph/badger.
//
// Exit codes:
//
//	0 - success, including a missing or empty database
//	1 - error opening or reading the database
//	2 - the database has dangling edges
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the exit code so deferred closes happen before os.Exit.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("graph_dump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pathFlag := fs.String("path", "", "Path to the codegraph BadgerDB directory (overrides CODEGRAPH_BADGER_DIR)")
	jsonFlag := fs.Bool("json", false, "Print the inventory as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("CODEGRAPH_BADGER_DIR")
	}
	if dbPath == "" {
		dbPath = filepath.Join(".codegraph", "badger")
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(stdout, "Graph database %s does not exist. Run `codegraph ingest` first.\n", dbPath)
		return 0
	}

	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil).WithReadOnly(true))
	if err != nil {
		return failf(stderr, "open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	store, err := graph.NewBadgerStore(db)
	if err != nil {
		return failf(stderr, "%v", err)
	}
	inv, err := store.Inventory(context.Background())
	if err != nil {
		return failf(stderr, "read BadgerDB: %v", err)
	}

	if *jsonFlag {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(inv); err != nil {
			return failf(stderr, "encode: %v", err)
		}
	} else {
		printInventory(stdout, dbPath, inv)
	}
	if inv.Dangling > 0 {
		return 2
	}
	return 0
}

func printInventory(w io.Writer, path string, inv *graph.Inventory) {
	fmt.Fprintf(w, "Graph database: %s\n", path)
	if len(inv.Nodes) == 0 {
		fmt.Fprintln(w, "\nNo nodes found.")
		return
	}

	fmt.Fprintf(w, "\n%d repositor%s: %s\n", len(inv.Repos), plural(len(inv.Repos), "y", "ies"), strings.Join(inv.Repos, ", "))
	fmt.Fprintln(w, strings.Repeat("─", 40))

	labels := make([]string, 0, len(inv.Nodes))
	total := 0
	for l, n := range inv.Nodes {
		labels = append(labels, string(l))
		total += n
	}
	sort.Strings(labels)
	fmt.Fprintf(w, "\n%-16s %8s\n", "Label", "Nodes")
	for _, l := range labels {
		fmt.Fprintf(w, "%-16s %8s\n", l, humanize.Comma(int64(inv.Nodes[graph.Label(l)])))
	}
	fmt.Fprintf(w, "%-16s %8s\n", "total", humanize.Comma(int64(total)))

	edges := make([]string, 0, len(inv.Edges))
	total = 0
	for e, n := range inv.Edges {
		edges = append(edges, string(e))
		total += n
	}
	sort.Strings(edges)
	fmt.Fprintf(w, "\n%-16s %8s\n", "Edge", "Count")
	for _, e := range edges {
		fmt.Fprintf(w, "%-16s %8s\n", e, humanize.Comma(int64(inv.Edges[graph.EdgeType(e)])))
	}
	fmt.Fprintf(w, "%-16s %8s\n", "total", humanize.Comma(int64(total)))

	fmt.Fprintf(w, "\nNode payload:    %s\n", humanize.Bytes(uint64(inv.ValueBytes)))
	if inv.Dangling > 0 {
		fmt.Fprintf(w, "Dangling edges:  %d\n", inv.Dangling)
	}
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}

func failf(w io.Writer, format string, args ...any) int {
	fmt.Fprintf(w, "graph_dump: "+format+"\n", args...)
	return 1
}
