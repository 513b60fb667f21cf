// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// ExportSchemaVersion is the version of the export document format.
// Increment when the format changes in a breaking way.
const ExportSchemaVersion = "1.0"

// volatileProperties are excluded from the graph hash.
var volatileProperties = map[string]bool{
	"created_at": true,
	"updated_at": true,
}

// ExportDocument is the deterministic JSON rendering of one repository subgraph.
//
// Description:
//
//	Nodes are sorted by ID and edges by (from, to, type), so two exports of
//	identical graphs are byte-identical apart from timestamps. GraphHash
//	ignores timestamps entirely, which makes it the identity to compare
//	across re-ingestions and across store implementations.
//
// Thread Safety: ExportDocument is a value type with no internal state.
type ExportDocument struct {
	SchemaVersion string       `json:"schema_version"`
	Repository    string       `json:"repository"`
	GraphHash     string       `json:"graph_hash"`
	Counts        Counts       `json:"counts"`
	Nodes         []ExportNode `json:"nodes"`
	Edges         []ExportEdge `json:"edges"`
}

// ExportNode is one exported node. ID is "Label:key".
type ExportNode struct {
	ID         string         `json:"id"`
	Label      Label          `json:"label"`
	Properties map[string]any `json:"properties"`
}

// ExportEdge is one exported edge.
type ExportEdge struct {
	FromID string   `json:"from_id"`
	ToID   string   `json:"to_id"`
	Type   EdgeType `json:"type"`
}

// Export reads the repository subgraph from q and renders it.
//
// Outputs:
//
//	*ExportDocument - The sorted document. Never nil on success.
//	error - Wraps ErrNotFound when the repository does not exist.
func Export(ctx context.Context, q Querier, repo string) (*ExportDocument, error) {
	sg, err := q.Subgraph(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("exporting %s: %w", repo, err)
	}
	return sg.ToExport(), nil
}

// ToExport converts the subgraph to its deterministic document.
//
// Complexity:
//
//	O(V log V + E log E). Sorting dominates.
func (sg *Subgraph) ToExport() *ExportDocument {
	doc := &ExportDocument{
		SchemaVersion: ExportSchemaVersion,
		Repository:    sg.Repository,
		Nodes:         make([]ExportNode, 0, len(sg.Nodes)),
		Edges:         make([]ExportEdge, 0, len(sg.Edges)),
	}
	for _, n := range sg.Nodes {
		doc.Nodes = append(doc.Nodes, ExportNode{
			ID:         n.Ref.String(),
			Label:      n.Ref.Label,
			Properties: normalizeProperties(n.Properties, false),
		})
	}
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })

	for _, e := range sg.Edges {
		doc.Edges = append(doc.Edges, ExportEdge{FromID: e.From.String(), ToID: e.To.String(), Type: e.Type})
	}
	sortEdges(doc.Edges)
	doc.Edges = dedupEdges(doc.Edges)

	doc.Counts = sg.Counts()
	doc.GraphHash = sg.Hash()
	return doc
}

// Counts tallies the subgraph's nodes by label and its IMPORTS edges.
func (sg *Subgraph) Counts() Counts {
	var c Counts
	for _, n := range sg.Nodes {
		switch n.Ref.Label {
		case LabelFile:
			c.Files++
		case LabelClass:
			c.Classes++
		case LabelMethod:
			c.Methods++
		case LabelFunction:
			c.Functions++
		case LabelAttribute:
			c.Attributes++
		case LabelBranch:
			c.Branches++
		case LabelCommit:
			c.Commits++
		}
	}
	for _, e := range sg.Edges {
		if e.Type == EdgeImports {
			c.Imports++
		}
	}
	return c
}

// Hash returns the SHA-256 of the subgraph's structure and non-volatile
// properties, hex encoded.
func (sg *Subgraph) Hash() string {
	type hashedNode struct {
		ID    string         `json:"id"`
		Props map[string]any `json:"p"`
	}
	nodes := make([]hashedNode, 0, len(sg.Nodes))
	for _, n := range sg.Nodes {
		nodes = append(nodes, hashedNode{ID: n.Ref.String(), Props: normalizeProperties(n.Properties, true)})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]ExportEdge, 0, len(sg.Edges))
	for _, e := range sg.Edges {
		edges = append(edges, ExportEdge{FromID: e.From.String(), ToID: e.To.String(), Type: e.Type})
	}
	sortEdges(edges)
	edges = dedupEdges(edges)

	h := sha256.New()
	enc := json.NewEncoder(h)
	// Encoding maps of JSON-decoded values cannot fail; map keys are sorted.
	_ = enc.Encode(nodes)
	_ = enc.Encode(edges)
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeProperties drops null values, and volatile keys when asked, so
// stores that omit null properties render the same as stores that keep them.
func normalizeProperties(props map[string]any, dropVolatile bool) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v == nil || (dropVolatile && volatileProperties[k]) {
			continue
		}
		out[k] = v
	}
	return out
}

func sortEdges(edges []ExportEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromID != edges[j].FromID {
			return edges[i].FromID < edges[j].FromID
		}
		if edges[i].ToID != edges[j].ToID {
			return edges[i].ToID < edges[j].ToID
		}
		return edges[i].Type < edges[j].Type
	})
}

// dedupEdges removes adjacent duplicates from a sorted slice.
func dedupEdges(edges []ExportEdge) []ExportEdge {
	if len(edges) < 2 {
		return edges
	}
	out := edges[:1]
	for _, e := range edges[1:] {
		if e != out[len(out)-1] {
			out = append(out, e)
		}
	}
	return out
}
