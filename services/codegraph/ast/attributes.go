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
	"log/slog"
)

// StepResult is the outcome of extracting attributes from one statement.
//
// A statement either yields zero or more records or is skipped with a
// reason. Skips never abort extraction of the rest of the class.
type StepResult struct {
	Records []AttributeRecord
	Skipped bool
	Reason  string
}

func skip(reason string) StepResult {
	return StepResult{Skipped: true, Reason: reason}
}

// AttributeStats summarises the attributes extracted for one class.
type AttributeStats struct {
	Total      int
	Dataclass  int
	Attrs      int
	ClassVars  int
	Properties int
	Slots      int
	Skipped    int
}

func (s *AttributeStats) add(o AttributeStats) {
	s.Total += o.Total
	s.Dataclass += o.Dataclass
	s.Attrs += o.Attrs
	s.ClassVars += o.ClassVars
	s.Properties += o.Properties
	s.Slots += o.Slots
	s.Skipped += o.Skipped
}

// AttributeExtractor extracts attribute records from class definitions.
//
// Thread Safety: Safe for concurrent use; it holds no mutable state.
type AttributeExtractor struct {
	logger *slog.Logger
}

// NewAttributeExtractor creates an extractor. A nil logger uses slog.Default().
func NewAttributeExtractor(logger *slog.Logger) *AttributeExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttributeExtractor{logger: logger}
}

// Extract returns the deduplicated attributes of a class definition.
//
// Description:
//
//	Processes the class body first (annotated fields, plain assignments,
//	__slots__, @property methods) and then scans the first __init__ for
//	self.x assignments. The combined list is merged by DedupAttributes,
//	so on a full tie the class-body record survives.
//
// Inputs:
//   - cls: A StmtClassDef statement.
//   - classFullName: Dotted class name, used only for logging.
//
// Outputs:
//   - []AttributeRecord: At most one record per name, in first-seen order.
//   - AttributeStats: Counters for the debug log.
func (x *AttributeExtractor) Extract(cls *Stmt, classFullName string) ([]AttributeRecord, AttributeStats) {
	var stats AttributeStats
	if cls == nil || cls.Kind != StmtClassDef {
		return []AttributeRecord{}, stats
	}

	fw := ClassifyDecorators(cls.Decorators)
	var collected []AttributeRecord

	collect := func(r StepResult, line int) {
		if r.Skipped {
			stats.Skipped++
			x.logger.Debug("attribute statement skipped",
				slog.String("class", classFullName),
				slog.Int("line", line),
				slog.String("reason", r.Reason))
			return
		}
		collected = append(collected, r.Records...)
	}

	for _, stmt := range cls.Body {
		collect(classBodyStep(stmt, fw), stmt.Line)
	}

	if init := findInit(cls); init != nil {
		walkStmts(init.Body, func(s *Stmt) {
			collect(initStep(s), s.Line)
		})
	}

	attrs := DedupAttributes(collected)
	for _, a := range attrs {
		stats.Total++
		if a.FromDataclass {
			stats.Dataclass++
		}
		if a.FromAttrs {
			stats.Attrs++
		}
		if a.IsClassVar {
			stats.ClassVars++
		}
		if a.IsProperty {
			stats.Properties++
		}
		if a.FromSlots {
			stats.Slots++
		}
	}

	if stats.Total > 0 {
		x.logger.Debug("extracted class attributes",
			slog.String("class", classFullName),
			slog.Int("total", stats.Total),
			slog.Int("dataclass", stats.Dataclass),
			slog.Int("attrs", stats.Attrs),
			slog.Int("class_vars", stats.ClassVars),
			slog.Int("properties", stats.Properties),
			slog.Int("slots", stats.Slots))
	}
	return attrs, stats
}

// classBodyStep handles one statement directly in a class body.
func classBodyStep(stmt *Stmt, fw Framework) StepResult {
	switch stmt.Kind {
	case StmtAnnAssign:
		return annotatedField(stmt, fw)
	case StmtAssign:
		return classAssignment(stmt)
	case StmtFuncDef:
		if stmt.Async || isPrivate(stmt.Name) || !hasPropertyDecorator(stmt.Decorators) {
			return StepResult{}
		}
		return StepResult{Records: []AttributeRecord{{
			Name:        stmt.Name,
			Type:        annotationType(stmt.Returns, TypeAny),
			IsProperty:  true,
			HasTypeHint: stmt.Returns != nil,
			LineNumber:  stmt.Line,
		}}}
	}
	return StepResult{}
}

// annotatedField handles "name: T" and "name: T = v" in a class body.
func annotatedField(stmt *Stmt, fw Framework) StepResult {
	if len(stmt.Targets) == 0 || stmt.Targets[0] == nil {
		return skip("annotated assignment without target")
	}
	target := stmt.Targets[0]
	if target.Kind != ExprName {
		return skip("annotated target is not a simple name")
	}
	if isPrivate(target.Name) {
		return StepResult{}
	}

	classVar := IsClassVar(stmt.Annotation)
	// Bare annotations declare fields only in dataclass and attrs classes.
	instance := !classVar && (fw.Has(FrameworkDataclass) || fw.Has(FrameworkAttrs))
	rec := AttributeRecord{
		Name:          target.Name,
		Type:          RenderName(stmt.Annotation),
		IsInstance:    instance,
		IsClass:       !instance,
		HasTypeHint:   true,
		LineNumber:    stmt.Line,
		FromDataclass: fw.Has(FrameworkDataclass),
		FromAttrs:     fw.Has(FrameworkAttrs),
		IsClassVar:    classVar,
	}
	if stmt.Value != nil {
		def := RenderDefault(stmt.Value)
		rec.DefaultValue = &def
	}
	return StepResult{Records: []AttributeRecord{rec}}
}

// classAssignment handles "name = v" and "__slots__ = [...]" in a class body.
// Plain class attributes are never framework fields.
func classAssignment(stmt *Stmt) StepResult {
	if stmt.Value == nil {
		return skip("assignment without value")
	}
	var out StepResult
	for _, target := range stmt.Targets {
		if target == nil || target.Kind != ExprName {
			continue
		}
		if target.Name == "__slots__" {
			out.Records = append(out.Records, slotRecords(stmt.Value, stmt.Line)...)
			continue
		}
		if isPrivate(target.Name) {
			continue
		}
		def := RenderDefault(stmt.Value)
		out.Records = append(out.Records, AttributeRecord{
			Name:         target.Name,
			Type:         InferType(stmt.Value),
			IsClass:      true,
			DefaultValue: &def,
			LineNumber:   stmt.Line,
		})
	}
	return out
}

// slotRecords turns a __slots__ value into instance attribute records.
func slotRecords(value *Expr, line int) []AttributeRecord {
	var names []string
	switch value.Kind {
	case ExprList, ExprTuple:
		for _, el := range value.Elts {
			if el != nil && el.Kind == ExprConstant && el.Const == ConstString {
				names = append(names, el.Literal)
			}
		}
	case ExprConstant:
		if value.Const == ConstString {
			names = append(names, value.Literal)
		}
	}

	var out []AttributeRecord
	for _, n := range names {
		if isPrivate(n) {
			continue
		}
		out = append(out, AttributeRecord{
			Name:       n,
			Type:       TypeAny,
			IsInstance: true,
			LineNumber: line,
			FromSlots:  true,
		})
	}
	return out
}

// findInit returns the first __init__ defined directly in the class body.
func findInit(cls *Stmt) *Stmt {
	for _, s := range cls.Body {
		if s.Kind == StmtFuncDef && !s.Async && s.Name == "__init__" {
			return s
		}
	}
	return nil
}

// initStep handles one statement found anywhere inside __init__.
func initStep(stmt *Stmt) StepResult {
	switch stmt.Kind {
	case StmtAnnAssign:
		if len(stmt.Targets) == 0 {
			return StepResult{}
		}
		name, ok := selfAttribute(stmt.Targets[0])
		if !ok || isPrivate(name) {
			return StepResult{}
		}
		rec := AttributeRecord{
			Name:        name,
			Type:        RenderName(stmt.Annotation),
			IsInstance:  true,
			HasTypeHint: true,
			LineNumber:  stmt.Line,
		}
		if stmt.Value != nil {
			def := RenderDefault(stmt.Value)
			rec.DefaultValue = &def
		}
		return StepResult{Records: []AttributeRecord{rec}}

	case StmtAssign:
		if stmt.Value == nil {
			return skip("assignment without value")
		}
		var out StepResult
		add := func(target *Expr) {
			name, ok := selfAttribute(target)
			if !ok || isPrivate(name) {
				return
			}
			def := RenderDefault(stmt.Value)
			out.Records = append(out.Records, AttributeRecord{
				Name:         name,
				Type:         InferType(stmt.Value),
				IsInstance:   true,
				DefaultValue: &def,
				LineNumber:   stmt.Line,
			})
		}
		for _, target := range stmt.Targets {
			if target == nil {
				continue
			}
			if target.Kind == ExprTuple || target.Kind == ExprList {
				for _, el := range target.Elts {
					add(el)
				}
				continue
			}
			add(target)
		}
		return out
	}
	return StepResult{}
}

// selfAttribute returns x for an expression of the form self.x.
func selfAttribute(e *Expr) (string, bool) {
	if e == nil || e.Kind != ExprAttribute || e.Value == nil {
		return "", false
	}
	if e.Value.Kind != ExprName || e.Value.Name != "self" {
		return "", false
	}
	return e.Name, true
}

// DedupAttributes merges records that share a name.
//
// Description:
//
//	Keeps one record per name in first-seen order. A later candidate
//	replaces the kept record when, checked in order:
//	  1. the candidate is framework-derived and the kept one is not;
//	  2. the candidate has a type hint and the kept one does not, unless
//	     the kept one is framework-derived and the candidate is not;
//	  3. the candidate is an instance attribute and the kept one is not,
//	     their type-hint flags are equal and their framework origin matches;
//	  4. the candidate is a property and the kept one is not.
//	Applying it to its own output returns the same list.
//
// Thread Safety: Safe for concurrent use (pure function).
func DedupAttributes(attrs []AttributeRecord) []AttributeRecord {
	out := make([]AttributeRecord, 0, len(attrs))
	index := make(map[string]int, len(attrs))
	for _, cand := range attrs {
		i, seen := index[cand.Name]
		if !seen {
			index[cand.Name] = len(out)
			out = append(out, cand)
			continue
		}
		if shouldReplace(out[i], cand) {
			out[i] = cand
		}
	}
	return out
}

func shouldReplace(existing, cand AttributeRecord) bool {
	candFw, existingFw := cand.fromFramework(), existing.fromFramework()
	if candFw && !existingFw {
		return true
	}
	if cand.HasTypeHint && !existing.HasTypeHint {
		return !(existingFw && !candFw)
	}
	if cand.IsInstance && !existing.IsInstance && cand.HasTypeHint == existing.HasTypeHint {
		return candFw == existingFw
	}
	return cand.IsProperty && !existing.IsProperty
}
