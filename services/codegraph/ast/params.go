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

// kwargsDefaultType is the type given to an unannotated **kwargs.
const kwargsDefaultType = "Dict[str, Any]"

// BuildParameters converts a lowered parameter list into ordered records.
//
// Description:
//
//	Emits positional parameters (a leading self is skipped), then *args,
//	then keyword-only parameters, then **kwargs. A positional parameter is
//	optional when it falls inside the trailing window covered by defaults.
//	A keyword-only parameter is optional only with an explicit default.
//	Variadic parameters are always optional and never carry a default.
//
// Inputs:
//   - args: Lowered parameters. Nil yields an empty slice.
//
// Outputs:
//   - []ParameterRecord: Records in declaration order. Never nil.
//
// Thread Safety: Safe for concurrent use (pure function).
func BuildParameters(args *Arguments) []ParameterRecord {
	out := make([]ParameterRecord, 0)
	if args == nil {
		return out
	}

	defaultsStart := len(args.Args) - len(args.Defaults)
	for i, a := range args.Args {
		if i == 0 && a.Name == "self" {
			continue
		}
		p := ParameterRecord{
			Name: a.Name,
			Type: annotationType(a.Annotation, TypeAny),
			Kind: KindPositional,
		}
		if i >= defaultsStart {
			p.Optional = true
			def := RenderDefault(args.Defaults[i-defaultsStart])
			p.Default = &def
		}
		out = append(out, p)
	}

	if args.VarArg != nil {
		out = append(out, ParameterRecord{
			Name:     "*" + args.VarArg.Name,
			Type:     annotationType(args.VarArg.Annotation, TypeAny),
			Kind:     KindVarPositional,
			Optional: true,
		})
	}

	for i, a := range args.KwOnly {
		p := ParameterRecord{
			Name: a.Name,
			Type: annotationType(a.Annotation, TypeAny),
			Kind: KindKeywordOnly,
		}
		if i < len(args.KwDefaults) && args.KwDefaults[i] != nil {
			p.Optional = true
			def := RenderDefault(args.KwDefaults[i])
			p.Default = &def
		}
		out = append(out, p)
	}

	if args.KwArg != nil {
		out = append(out, ParameterRecord{
			Name:     "**" + args.KwArg.Name,
			Type:     annotationType(args.KwArg.Annotation, kwargsDefaultType),
			Kind:     KindVarKeyword,
			Optional: true,
		})
	}
	return out
}

func annotationType(annotation *Expr, fallback string) string {
	if annotation == nil {
		return fallback
	}
	return RenderName(annotation)
}

// positionalNames returns the names of positional parameters, optionally
// dropping a leading self.
func positionalNames(args *Arguments, dropSelf bool) []string {
	out := make([]string, 0)
	if args == nil {
		return out
	}
	for i, a := range args.Args {
		if dropSelf && i == 0 && a.Name == "self" {
			continue
		}
		out = append(out, a.Name)
	}
	return out
}

func detailedParams(params []ParameterRecord) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Detailed()
	}
	return out
}

func listParams(params []ParameterRecord) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Name + ":" + p.Type
	}
	return out
}

// buildMethod creates the record for a method defined in a class body.
func buildMethod(classFullName string, fn *Stmt) MethodRecord {
	params := BuildParameters(fn.Params)
	return MethodRecord{
		Name:           fn.Name,
		FullName:       classFullName + "." + fn.Name,
		Params:         params,
		ParamsDetailed: detailedParams(params),
		ReturnType:     annotationType(fn.Returns, TypeAny),
		Args:           positionalNames(fn.Params, true),
	}
}

// buildFunction creates the record for a module-level function.
func buildFunction(moduleName string, fn *Stmt) FunctionRecord {
	params := BuildParameters(fn.Params)
	return FunctionRecord{
		Name:           fn.Name,
		FullName:       moduleName + "." + fn.Name,
		Params:         params,
		ParamsDetailed: detailedParams(params),
		ParamsList:     listParams(params),
		ReturnType:     annotationType(fn.Returns, TypeAny),
		Args:           positionalNames(fn.Params, false),
	}
}
