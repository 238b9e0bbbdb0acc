package runtime

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/risor-io/risor/object"

	"github.com/jward/cxxindex/internal/binding"
)

// Filter is a compiled filter expression.
type Filter struct {
	rt    *Runtime
	src   string
	label string
}

// Compile checks src by evaluating it once against an empty binding and
// returns the filter.
func (r *Runtime) Compile(ctx context.Context, src string) (*Filter, error) {
	f := &Filter{rt: r, src: src, label: "<filter>"}
	if _, err := f.Match(ctx, BindingVars(nil)); err != nil {
		return nil, err
	}
	return f, nil
}

// CompileFile loads a filter expression from a script file.
func (r *Runtime) CompileFile(ctx context.Context, path string) (*Filter, error) {
	src, err := r.LoadScript(path)
	if err != nil {
		return nil, err
	}
	f := &Filter{rt: r, src: src, label: path}
	if _, err := f.Match(ctx, BindingVars(nil)); err != nil {
		return nil, err
	}
	return f, nil
}

// Source returns the filter expression.
func (f *Filter) Source() string { return f.src }

// Match evaluates the filter with vars as globals and reports whether the
// result is truthy.
func (f *Filter) Match(ctx context.Context, vars map[string]any) (bool, error) {
	res, err := f.rt.eval(ctx, f.src, f.label, vars)
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}
	if e, ok := res.(*object.Error); ok {
		return false, fmt.Errorf("runtime: filter %s: %s", f.label, e.Inspect())
	}
	return res.IsTruthy(), nil
}

// BindingVars returns the filter globals describing b. A nil binding
// yields the zero value of every global.
func BindingVars(b binding.Binding) map[string]any {
	vars := map[string]any{
		"name":           "",
		"qualified_name": "",
		"kind":           "",
		"linkage":        "",
		"file":           "",
		"offset":         0,
		"static":         false,
		"extern":         false,
		"flags":          object.NewList(nil),
	}
	if b == nil {
		return vars
	}
	vars["name"] = b.Name()
	vars["qualified_name"] = binding.QualifiedString(b)
	vars["kind"] = b.Kind().String()
	vars["linkage"] = b.Linkage().String()
	vars["file"] = b.Origin().File
	vars["offset"] = b.Origin().Offset
	vars["static"] = b.Flags().Has(binding.FlagStatic)
	vars["extern"] = b.Flags().Has(binding.FlagExtern) || b.Flags().Has(binding.FlagExternC)
	names := b.Flags().Names()
	items := make([]object.Object, len(names))
	for i, n := range names {
		items[i] = object.NewString(n)
	}
	vars["flags"] = object.NewList(items)
	return vars
}

var patterns sync.Map

// matchesBuiltin creates "matches".
//
// matches(pattern, s) → bool, with pattern a Go regular expression.
func matchesBuiltin() *object.Builtin {
	return object.NewBuiltin("matches", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("matches", 2, len(args))
		}
		pat, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("matches: pattern must be a string, got %s", args[0].Type())
		}
		s, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("matches: subject must be a string, got %s", args[1].Type())
		}
		var re *regexp.Regexp
		if v, ok := patterns.Load(pat.Value()); ok {
			re = v.(*regexp.Regexp)
		} else {
			compiled, err := regexp.Compile(pat.Value())
			if err != nil {
				return object.Errorf("matches: %v", err)
			}
			patterns.Store(pat.Value(), compiled)
			re = compiled
		}
		return object.NewBool(re.MatchString(s.Value()))
	})
}
