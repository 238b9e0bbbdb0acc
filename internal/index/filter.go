package index

import (
	"context"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/runtime"
)

// Filter selects the bindings a query returns.
type Filter interface {
	Accept(ctx context.Context, b binding.Binding) (bool, error)
}

// FilterFunc adapts a predicate to Filter.
type FilterFunc func(b binding.Binding) bool

func (f FilterFunc) Accept(_ context.Context, b binding.Binding) (bool, error) {
	return f(b), nil
}

// KindFilter accepts bindings of the given kinds.
func KindFilter(kinds ...binding.Kind) Filter {
	return FilterFunc(func(b binding.Binding) bool {
		for _, k := range kinds {
			if b.Kind() == k {
				return true
			}
		}
		return false
	})
}

// ScriptFilter evaluates a compiled Risor filter per binding.
func ScriptFilter(f *runtime.Filter) Filter {
	return scriptFilter{f}
}

type scriptFilter struct{ f *runtime.Filter }

func (s scriptFilter) Accept(ctx context.Context, b binding.Binding) (bool, error) {
	return s.f.Match(ctx, runtime.BindingVars(b))
}
