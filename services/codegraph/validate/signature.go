// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
)

// signature is the call shape recovered from a stored params_detailed list.
type signature struct {
	positional []param
	kwOnly     []param
	varArgs    bool
	varKwargs  bool
}

type param struct {
	name     string
	optional bool
}

// parseSignature reads entries rendered as "[kind] name:type[=default]".
func parseSignature(detailed []string) signature {
	var sig signature
	for _, entry := range detailed {
		kind := ast.KindPositional
		if strings.HasPrefix(entry, "[") {
			if end := strings.Index(entry, "] "); end > 0 {
				kind = ast.ParameterKind(entry[1:end])
				entry = entry[end+2:]
			}
		}
		name, rest, _ := strings.Cut(entry, ":")
		p := param{name: name, optional: strings.Contains(rest, "=")}

		switch kind {
		case ast.KindVarPositional:
			sig.varArgs = true
		case ast.KindVarKeyword:
			sig.varKwargs = true
		case ast.KindKeywordOnly:
			sig.kwOnly = append(sig.kwOnly, p)
		default:
			sig.positional = append(sig.positional, p)
		}
	}
	return sig
}

// check reports why a call with the given arguments cannot bind, or ""
// when it can. Calls that unpack *args or **kwargs are never rejected.
func (s signature) check(call *ast.Expr) string {
	positional := 0
	for _, a := range call.Args {
		if strings.HasPrefix(a.Text, "*") {
			return ""
		}
		positional++
	}
	keywords := make(map[string]bool, len(call.Keywords))
	for _, kw := range call.Keywords {
		if kw.Name == "" {
			return ""
		}
		keywords[kw.Name] = true
	}

	if positional > len(s.positional) && !s.varArgs {
		return fmt.Sprintf("takes %d positional arguments but %d were given", len(s.positional), positional)
	}

	known := make(map[string]bool, len(s.positional)+len(s.kwOnly))
	for i, p := range s.positional {
		known[p.name] = true
		if i < positional && keywords[p.name] {
			return fmt.Sprintf("got multiple values for argument %q", p.name)
		}
	}
	for _, p := range s.kwOnly {
		known[p.name] = true
	}
	if !s.varKwargs {
		for _, kw := range call.Keywords {
			if !known[kw.Name] {
				return fmt.Sprintf("got an unexpected keyword argument %q", kw.Name)
			}
		}
	}

	var missing []string
	for i, p := range s.positional {
		if !p.optional && i >= positional && !keywords[p.name] {
			missing = append(missing, p.name)
		}
	}
	for _, p := range s.kwOnly {
		if !p.optional && !keywords[p.name] {
			missing = append(missing, p.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("missing required arguments: %s", strings.Join(missing, ", "))
	}
	return ""
}
