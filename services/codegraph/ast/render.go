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
	"math"
	"strconv"
	"strings"
)

// RenderName renders a type annotation or name-like expression as text.
//
// Description:
//
//	Names render as themselves, attribute chains as dotted text, and
//	subscripts as base[elt, ...]. Constants render as their value, with a
//	lone constant subscript element shown as its literal repr. Tuples and
//	lists render bracketed, "A | B" unions render with the operator. Any
//	other shape renders as "Any". Never fails.
//
// Thread Safety: Safe for concurrent use (pure function).
func RenderName(e *Expr) string {
	if e == nil {
		return TypeAny
	}
	switch e.Kind {
	case ExprName:
		return e.Name
	case ExprAttribute:
		return RenderName(e.Value) + "." + e.Name
	case ExprSubscript:
		base := RenderName(e.Value)
		if len(e.Elts) == 0 {
			return base
		}
		if len(e.Elts) == 1 && e.Elts[0].Kind == ExprConstant {
			return base + "[" + constantRepr(e.Elts[0]) + "]"
		}
		return base + "[" + joinNames(e.Elts) + "]"
	case ExprConstant:
		return constantStr(e)
	case ExprTuple:
		return "(" + joinNames(e.Elts) + ")"
	case ExprList:
		return "[" + joinNames(e.Elts) + "]"
	case ExprBinOp:
		if e.Op == "|" {
			return RenderName(e.Left) + " | " + RenderName(e.Right)
		}
	}
	return TypeAny
}

func joinNames(elts []*Expr) string {
	parts := make([]string, len(elts))
	for i, el := range elts {
		parts[i] = RenderName(el)
	}
	return strings.Join(parts, ", ")
}

// RenderDefault renders a default value expression.
//
// Literals render as their repr, names and attribute chains as text, list
// and dict displays as "[]" and "{}", and everything else as "...".
func RenderDefault(e *Expr) string {
	if e == nil {
		return DefaultElided
	}
	switch e.Kind {
	case ExprConstant:
		return constantRepr(e)
	case ExprName:
		return e.Name
	case ExprAttribute:
		return RenderName(e)
	case ExprList:
		return "[]"
	case ExprDict:
		return "{}"
	}
	return DefaultElided
}

// inferredCallTypes maps constructor callees to the type they produce.
var inferredCallTypes = map[string]string{
	"list":        "list",
	"dict":        "dict",
	"set":         "set",
	"tuple":       "tuple",
	"str":         "str",
	"int":         "int",
	"float":       "float",
	"bool":        "bool",
	"defaultdict": "collections.defaultdict",
	"Counter":     "collections.Counter",
	"OrderedDict": "collections.OrderedDict",
	"deque":       "collections.deque",
	"Path":        "pathlib.Path",
	"datetime":    "datetime.datetime",
	"date":        "datetime.date",
	"time":        "datetime.time",
	"UUID":        "uuid.UUID",
	"compile":     "re.Pattern",
	"re.compile":  "re.Pattern",
}

// InferType infers the type of an assigned value expression.
//
// Description:
//
//	Literals map to their builtin type (None becomes "Optional[Any]"),
//	collection displays and comprehensions to their generic form, and calls
//	of well-known constructors to the constructed type. Anything else is
//	"Any".
//
// Thread Safety: Safe for concurrent use (pure function).
func InferType(e *Expr) string {
	if e == nil {
		return TypeAny
	}
	switch e.Kind {
	case ExprConstant:
		switch e.Const {
		case ConstBool:
			return "bool"
		case ConstInt:
			return "int"
		case ConstFloat:
			return "float"
		case ConstString:
			return "str"
		case ConstBytes:
			return "bytes"
		case ConstNone:
			return "Optional[Any]"
		}
	case ExprList, ExprListComp:
		return "List[Any]"
	case ExprDict, ExprDictComp:
		return "Dict[Any, Any]"
	case ExprSet, ExprSetComp:
		return "Set[Any]"
	case ExprTuple:
		return "Tuple[Any, ...]"
	case ExprCall:
		if t, ok := inferredCallTypes[e.Func.DottedName()]; ok {
			return t
		}
	}
	return TypeAny
}

// constantStr renders a constant the way str() would.
func constantStr(e *Expr) string {
	switch e.Const {
	case ConstString:
		return e.Literal
	case ConstBytes:
		return "b" + quoteRepr(e.Literal)
	case ConstEllipsis:
		return "Ellipsis"
	}
	return constantRepr(e)
}

// constantRepr renders a constant the way repr() would.
func constantRepr(e *Expr) string {
	switch e.Const {
	case ConstString:
		return quoteRepr(e.Literal)
	case ConstBytes:
		return "b" + quoteRepr(e.Literal)
	case ConstInt:
		return intRepr(e.Literal)
	case ConstFloat:
		return floatRepr(e.Literal)
	case ConstBool, ConstNone:
		return e.Literal
	case ConstEllipsis:
		return "Ellipsis"
	}
	return e.Literal
}

// quoteRepr wraps a string body in single quotes, switching to double
// quotes when the body contains a single quote but no double quote.
func quoteRepr(body string) string {
	body = strings.ReplaceAll(body, "\n", `\n`)
	if strings.Contains(body, "'") && !strings.Contains(body, `"`) {
		return `"` + body + `"`
	}
	return "'" + strings.ReplaceAll(body, "'", `\'`) + "'"
}

// intRepr normalises hex, octal, binary and underscored literals to decimal.
func intRepr(lit string) string {
	clean := strings.ReplaceAll(lit, "_", "")
	if v, err := strconv.ParseInt(clean, 0, 64); err == nil {
		return strconv.FormatInt(v, 10)
	}
	// Out of int64 range: keep the literal digits.
	return clean
}

// floatRepr renders a float literal using the shortest round-trip form.
func floatRepr(lit string) string {
	v, err := strconv.ParseFloat(strings.ReplaceAll(lit, "_", ""), 64)
	if err != nil {
		return lit
	}
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case v == 0:
		return "0.0"
	}
	exp := int(math.Floor(math.Log10(math.Abs(v))))
	if exp < -4 || exp >= 16 {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		mant, pow, _ := strings.Cut(s, "e")
		sign := pow[:1]
		digits := strings.TrimLeft(pow[1:], "0")
		if len(digits) < 2 {
			digits = strings.Repeat("0", 2-len(digits)) + digits
		}
		return mant + "e" + sign + digits
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
