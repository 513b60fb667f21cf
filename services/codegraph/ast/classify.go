// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import "strings"

// Framework is a bit set of class-generating frameworks detected on a class.
type Framework uint8

const (
	FrameworkDataclass Framework = 1 << iota
	FrameworkAttrs
)

// Has reports whether f includes flag.
func (f Framework) Has(flag Framework) bool {
	return f&flag != 0
}

// frameworkMatcher recognises one framework from a decorator expression.
//
// A bare name matches exactly against names. An attribute chain, or the
// callee of a call, matches when its lowercased dotted rendering contains
// one of chains.
type frameworkMatcher struct {
	framework Framework
	names     []string
	chains    []string
}

var frameworkMatchers = []frameworkMatcher{
	{
		framework: FrameworkDataclass,
		names:     []string{"dataclass", "dataclasses"},
		chains:    []string{"dataclass"},
	},
	{
		framework: FrameworkAttrs,
		names:     []string{"attrs", "attr"},
		chains:    []string{"attr.s", "attr.define", "attrs.define", "attrs.frozen"},
	},
}

func (m frameworkMatcher) match(dec *Expr) bool {
	if dec == nil {
		return false
	}
	switch dec.Kind {
	case ExprName:
		for _, n := range m.names {
			if dec.Name == n {
				return true
			}
		}
	case ExprAttribute:
		return m.matchChain(RenderName(dec))
	case ExprCall:
		return m.matchChain(RenderName(dec.Func))
	}
	return false
}

func (m frameworkMatcher) matchChain(rendered string) bool {
	rendered = strings.ToLower(rendered)
	for _, c := range m.chains {
		if strings.Contains(rendered, c) {
			return true
		}
	}
	return false
}

// ClassifyDecorators returns the frameworks signalled by a class's decorators.
//
// Description:
//
//	Each decorator is tested against every framework matcher; a class may
//	carry both flags. Unrecognised decorator shapes contribute nothing.
//
// Thread Safety: Safe for concurrent use (pure function).
func ClassifyDecorators(decorators []*Expr) Framework {
	var f Framework
	for _, dec := range decorators {
		for _, m := range frameworkMatchers {
			if m.match(dec) {
				f |= m.framework
			}
		}
	}
	return f
}

// IsClassVar reports whether an annotation mentions ClassVar anywhere.
func IsClassVar(annotation *Expr) bool {
	return strings.Contains(RenderName(annotation), "ClassVar")
}

// hasPropertyDecorator reports whether a bare @property decorator is present.
func hasPropertyDecorator(decorators []*Expr) bool {
	for _, dec := range decorators {
		if dec != nil && dec.Kind == ExprName && dec.Name == "property" {
			return true
		}
	}
	return false
}
