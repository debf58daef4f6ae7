// Package formula compiles and evaluates the arithmetic formulas used by the
// expression postprocessor. Formulas use HCL expression syntax; every captured
// parameter is exposed as an object variable with `name` and `value`
// attributes (plus `min` and `max` for unresolved intervals).
package formula

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/sweepgridgo/internal/param"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// ErrUnknownFunction is returned when a formula calls a function that is not
// part of the formula library.
var ErrUnknownFunction = errors.New("unknown function")

// Formula is a compiled expression.
type Formula struct {
	source     string
	expr       hclsyntax.Expression
	references []string
	functions  []string
}

// Compile parses src and checks that every called function exists.
func Compile(src string) (*Formula, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "formula", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse formula %q: %s", src, diags.Error())
	}

	refs, funcs := analyze(expr)
	for _, name := range funcs {
		if _, ok := functions[name]; !ok {
			return nil, fmt.Errorf("formula %q: %w %q", src, ErrUnknownFunction, name)
		}
	}

	return &Formula{source: src, expr: expr, references: refs, functions: funcs}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level formulas.
func MustCompile(src string) *Formula {
	f, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the formula source text.
func (f *Formula) String() string {
	return f.source
}

// References returns the sorted, unique root variable names used by f.
func (f *Formula) References() []string {
	return f.references
}

// Functions returns the sorted, unique function names called by f.
func (f *Formula) Functions() []string {
	return f.functions
}

// Eval evaluates f against the given parameters and converts the result to a
// parameter value (float64, string or bool).
func (f *Formula) Eval(params param.List) (any, error) {
	val, diags := f.expr.Value(evalContext(params))
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to evaluate formula %q: %s", f.source, diags.Error())
	}
	return toValue(val)
}

// EvalFloat evaluates f and requires a finite numeric result.
func (f *Formula) EvalFloat(params param.List) (float64, error) {
	v, err := f.Eval(params)
	if err != nil {
		return 0, err
	}
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("formula %q produced %T, want a number", f.source, v)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("formula %q produced a non-finite number", f.source)
	}
	return n, nil
}

// evalContext exposes each parameter as an object variable. Names that are
// not valid HCL identifiers are still registered but cannot be referenced.
func evalContext(params param.List) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(params))
	for _, p := range params {
		attrs := map[string]cty.Value{
			"name":  cty.StringVal(p.Name),
			"value": fromValue(p.Value),
		}
		if p.IsInterval() {
			attrs["min"] = cty.NumberFloatVal(p.Interval.Min)
			attrs["max"] = cty.NumberFloatVal(p.Interval.Max)
		}
		vars[p.Name] = cty.ObjectVal(attrs)
	}
	return &hcl.EvalContext{Variables: vars, Functions: functions}
}

func fromValue(v any) cty.Value {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case string:
		return cty.StringVal(val)
	case bool:
		return cty.BoolVal(val)
	}
	if f, ok := param.Float(v); ok {
		return cty.NumberFloatVal(f)
	}
	return cty.StringVal(param.FormatValue(v))
}

func toValue(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, errors.New("formula produced no value")
	}
	switch val.Type() {
	case cty.String:
		return val.AsString(), nil
	case cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f, nil
	case cty.Bool:
		return val.True(), nil
	default:
		return nil, fmt.Errorf("unsupported formula result type: %s", val.Type().FriendlyName())
	}
}

// analyze returns the root names of all variable traversals and all called
// function names, both sorted.
func analyze(expr hclsyntax.Expression) ([]string, []string) {
	roots := make(map[string]struct{})
	for _, traversal := range expr.Variables() {
		roots[traversal.RootName()] = struct{}{}
	}

	funcs := make(map[string]struct{})
	walkForFunctions(expr, funcs)

	return sortedKeys(roots), sortedKeys(funcs)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func walkForFunctions(expr hclsyntax.Expression, functions map[string]struct{}) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		functions[e.Name] = struct{}{}
		for _, arg := range e.Args {
			walkForFunctions(arg, functions)
		}
	case *hclsyntax.BinaryOpExpr:
		walkForFunctions(e.LHS, functions)
		walkForFunctions(e.RHS, functions)
	case *hclsyntax.ConditionalExpr:
		walkForFunctions(e.Condition, functions)
		walkForFunctions(e.TrueResult, functions)
		walkForFunctions(e.FalseResult, functions)
	case *hclsyntax.UnaryOpExpr:
		walkForFunctions(e.Val, functions)
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			walkForFunctions(part, functions)
		}
	case *hclsyntax.TemplateWrapExpr:
		walkForFunctions(e.Wrapped, functions)
	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			walkForFunctions(item, functions)
		}
	case *hclsyntax.IndexExpr:
		walkForFunctions(e.Collection, functions)
		walkForFunctions(e.Key, functions)
	case *hclsyntax.ParenthesesExpr:
		walkForFunctions(e.Expression, functions)
	}
}

// functions is the library available to formulas.
var functions = map[string]function.Function{
	"abs":    stdlib.AbsoluteFunc,
	"ceil":   stdlib.CeilFunc,
	"floor":  stdlib.FloorFunc,
	"log":    stdlib.LogFunc,
	"max":    stdlib.MaxFunc,
	"min":    stdlib.MinFunc,
	"pow":    stdlib.PowFunc,
	"signum": stdlib.SignumFunc,
	"sqrt":   unaryMath(math.Sqrt),
	"exp":    unaryMath(math.Exp),
}

func unaryMath(fn func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "num", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			x, _ := args[0].AsBigFloat().Float64()
			res := fn(x)
			if math.IsNaN(res) || math.IsInf(res, 0) {
				return cty.UnknownVal(cty.Number), fmt.Errorf("result is not a finite number")
			}
			return cty.NumberFloatVal(res), nil
		},
	})
}
