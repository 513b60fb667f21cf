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

import (
	"context"
	"reflect"
	"testing"
)

func TestDedupAttributes_Priority(t *testing.T) {
	plain := AttributeRecord{Name: "x", Type: "plain", IsClass: true}
	hinted := AttributeRecord{Name: "x", Type: "hinted", IsClass: true, HasTypeHint: true}
	instance := AttributeRecord{Name: "x", Type: "instance", IsInstance: true}
	instanceHinted := AttributeRecord{Name: "x", Type: "instance_hinted", IsInstance: true, HasTypeHint: true}
	dataclassField := AttributeRecord{Name: "x", Type: "dataclass", IsClass: true, FromDataclass: true}
	attrsField := AttributeRecord{Name: "x", Type: "attrs", FromAttrs: true}
	property := AttributeRecord{Name: "x", Type: "property", IsProperty: true}

	tests := []struct {
		name     string
		first    AttributeRecord
		second   AttributeRecord
		wantType string
	}{
		{"framework beats plain", plain, dataclassField, "dataclass"},
		{"attrs beats plain", plain, attrsField, "attrs"},
		{"plain never beats framework", dataclassField, plain, "dataclass"},
		{"type hint beats no hint", plain, hinted, "hinted"},
		{"hint does not beat framework", dataclassField, instanceHinted, "dataclass"},
		{"instance beats class with equal hints", plain, instance, "instance"},
		{"instance with hint over class hint", hinted, instanceHinted, "instance_hinted"},
		{"instance does not beat hinted class", hinted, instance, "hinted"},
		{"property beats plain", plain, property, "property"},
		{"tie keeps first", instance, instance, "instance"},
		{"hinted property beats unhinted instance", instance, AttributeRecord{Name: "x", Type: "prop_hinted", IsProperty: true, HasTypeHint: true}, "prop_hinted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DedupAttributes([]AttributeRecord{tt.first, tt.second})
			if len(got) != 1 {
				t.Fatalf("expected 1 record, got %d", len(got))
			}
			if got[0].Type != tt.wantType {
				t.Errorf("kept %q, want %q", got[0].Type, tt.wantType)
			}
		})
	}
}

func TestDedupAttributes_KeepsFirstSeenOrder(t *testing.T) {
	in := []AttributeRecord{
		{Name: "b"},
		{Name: "a"},
		{Name: "b", HasTypeHint: true, Type: "int"},
		{Name: "c"},
	}
	got := DedupAttributes(in)
	var names []string
	for _, a := range got {
		names = append(names, a.Name)
	}
	if !reflect.DeepEqual(names, []string{"b", "a", "c"}) {
		t.Fatalf("expected order [b a c], got %v", names)
	}
	if got[0].Type != "int" {
		t.Errorf("expected replaced b to keep its position with type int, got %q", got[0].Type)
	}
}

func TestDedupAttributes_Idempotent(t *testing.T) {
	mod, err := ParseModule(context.Background(), []byte(`from dataclasses import dataclass

@dataclass
class Mixed:
    __slots__ = ("a", "b")
    a: int = 1
    c = "class"

    def __init__(self):
        self.b = []
        self.c: str = "instance"
        self.d = None

    @property
    def e(self):
        return 1
`))
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	cls := mod.Body[1]
	if cls.Kind != StmtClassDef {
		t.Fatalf("expected class statement, got kind %d", cls.Kind)
	}

	once, _ := NewAttributeExtractor(nil).Extract(cls, "m.Mixed")
	twice := DedupAttributes(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("dedup not idempotent\n once: %+v\ntwice: %+v", once, twice)
	}

	seen := make(map[string]bool)
	for _, a := range once {
		if seen[a.Name] {
			t.Errorf("duplicate attribute %q", a.Name)
		}
		seen[a.Name] = true
	}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		if !seen[name] {
			t.Errorf("missing attribute %q", name)
		}
	}
}

func TestAttributeExtractor_Stats(t *testing.T) {
	mod, err := ParseModule(context.Background(), []byte(dataclassSource))
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	var cls *Stmt
	mod.Walk(func(s *Stmt) {
		if s.Kind == StmtClassDef {
			cls = s
		}
	})

	_, stats := NewAttributeExtractor(nil).Extract(cls, "m.P")
	if stats.Total != 4 || stats.Dataclass != 3 || stats.ClassVars != 1 || stats.Properties != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestAttributeExtractor_SkipsNonNameAnnotatedTargets(t *testing.T) {
	mod, err := ParseModule(context.Background(), []byte("class K:\n    items[0]: int = 1\n    ok: int = 2\n"))
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	attrs, stats := NewAttributeExtractor(nil).Extract(mod.Body[0], "m.K")
	if len(attrs) != 1 || attrs[0].Name != "ok" {
		t.Fatalf("expected only ok, got %+v", attrs)
	}
	if stats.Skipped != 1 {
		t.Errorf("expected 1 skipped statement, got %d", stats.Skipped)
	}
}

func TestClassifyDecorators(t *testing.T) {
	tests := []struct {
		decorator string
		want      Framework
	}{
		{"dataclass", FrameworkDataclass},
		{"dataclasses.dataclass", FrameworkDataclass},
		{"dataclass(frozen=True)", FrameworkDataclass},
		{"dataclasses.dataclass(slots=True)", FrameworkDataclass},
		{"pydantic.dataclasses.dataclass", FrameworkDataclass},
		{"attr.s", FrameworkAttrs},
		{"attr.s(auto_attribs=True)", FrameworkAttrs},
		{"attrs.define", FrameworkAttrs},
		{"attrs.frozen", FrameworkAttrs},
		{"attr.define()", FrameworkAttrs},
		{"attrs", FrameworkAttrs},
		{"define", 0},
		{"total_ordering", 0},
		{"functools.total_ordering", 0},
	}
	for _, tt := range tests {
		t.Run(tt.decorator, func(t *testing.T) {
			source := "@" + tt.decorator + "\nclass C:\n    pass\n"
			mod, err := ParseModule(context.Background(), []byte(source))
			if err != nil {
				t.Fatalf("ParseModule: %v", err)
			}
			if got := ClassifyDecorators(mod.Body[0].Decorators); got != tt.want {
				t.Errorf("ClassifyDecorators(@%s) = %b, want %b", tt.decorator, got, tt.want)
			}
		})
	}
}
