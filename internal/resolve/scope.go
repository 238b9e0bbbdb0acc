package resolve

import (
	"strings"

	"github.com/jward/cxxindex/internal/binding"
)

type scopeKind int

const (
	scopeNamespace scopeKind = iota
	scopeClass
	scopeTemplate
	scopeFunction
	scopeBlock
)

// always marks entries visible regardless of the reference position, such
// as function and template parameters.
const always int64 = -1

type entry struct {
	b   binding.Binding
	pos int64
}

// directive is a using-directive nominating the namespace with key target.
type directive struct {
	target string
	pos    int64
}

// pendingUsing is a using-declaration loaded from the index, resolved on
// first use. target is the nominating namespace key and the name joined by
// "::".
type pendingUsing struct {
	target   string
	pos      int64
	done     bool
	resolved []binding.Binding
}

func (p *pendingUsing) name() string {
	if i := strings.LastIndex(p.target, "::"); i >= 0 {
		return p.target[i+2:]
	}
	return p.target
}

// scope is one lexical scope of the translation unit.
type scope struct {
	kind   scopeKind
	parent *scope
	// owner is the namespace, class, template or function of the scope;
	// nil for the global scope and blocks.
	owner binding.Binding
	// key is the scope key of a namespace scope.
	key        string
	entries    map[string][]entry
	directives []directive
	pending    []*pendingUsing
	inlines    []*scope
}

func (sc *scope) add(name string, b binding.Binding, pos int64) {
	if sc.entries == nil {
		sc.entries = make(map[string][]entry)
	}
	sc.entries[name] = append(sc.entries[name], entry{b: b, pos: pos})
}

// visible returns the entries named name declared before ref. A negative
// ref disables the position filter.
func (sc *scope) visible(name string, ref int64) []binding.Binding {
	var out []binding.Binding
	for _, e := range sc.entries[name] {
		if ref < 0 || e.pos < ref {
			out = append(out, e.b)
		}
	}
	return out
}

func parentKey(key string) string {
	if i := strings.LastIndex(key, "::"); i >= 0 {
		return key[:i]
	}
	return ""
}

func childKey(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "::" + name
}

// nsScope returns the shared scope of the namespace with the given key,
// creating it and its parents on demand.
func (s *session) nsScope(key string, ns binding.Binding) *scope {
	sc, ok := s.ns[key]
	if !ok {
		sc = &scope{kind: scopeNamespace, key: key, parent: s.nsScope(parentKey(key), nil)}
		s.ns[key] = sc
	}
	if sc.owner == nil && ns != nil {
		sc.owner = ns
	}
	return sc
}

// scopeFor returns the lexical scope that members of b are looked up
// from: the class scope of a class, the namespace scope of a namespace.
func (s *session) scopeFor(b binding.Binding) *scope {
	switch x := b.(type) {
	case nil:
		return s.global
	case *binding.Namespace:
		return s.nsScope(binding.ScopeKey(x), x)
	case *binding.NamespaceAlias:
		if x.Target != nil {
			return s.scopeFor(x.Target)
		}
		return s.scopeFor(x.Owner())
	case binding.Class:
		if sc, ok := s.classes[x]; ok {
			return sc
		}
		parent := s.scopeFor(x.Owner())
		var params []*binding.TemplateParameter
		switch t := x.(type) {
		case *binding.ClassTemplate:
			params = t.Params
		case *binding.PartialSpecialization:
			params = t.Params
		}
		if len(params) > 0 {
			tsc := &scope{kind: scopeTemplate, parent: parent, owner: x}
			for _, p := range params {
				tsc.add(p.Name(), p, always)
			}
			parent = tsc
		}
		sc := &scope{kind: scopeClass, parent: parent, owner: x}
		s.classes[x] = sc
		return sc
	case *binding.Enumeration, *binding.Function, *binding.FunctionTemplate:
		return s.scopeFor(x.Owner())
	}
	return s.scopeFor(b.Owner())
}

// enclosingNamespace returns the innermost namespace scope around sc.
func enclosingNamespace(sc *scope) *scope {
	for cur := sc; cur != nil; cur = cur.parent {
		if cur.kind == scopeNamespace {
			return cur
		}
	}
	return nil
}

// enclosingClass returns the innermost class around sc, following the
// owner of a member function scope.
func enclosingClass(sc *scope) binding.Class {
	for cur := sc; cur != nil; cur = cur.parent {
		switch cur.kind {
		case scopeClass:
			if c, ok := cur.owner.(binding.Class); ok {
				return c
			}
		case scopeFunction:
			if c, ok := memberOwner(cur.owner).(binding.Class); ok {
				return c
			}
		case scopeNamespace:
			return nil
		}
	}
	return nil
}

// memberOwner returns the class owning a method, looking through the
// function template of a member template.
func memberOwner(b binding.Binding) binding.Binding {
	if b == nil {
		return nil
	}
	o := b.Owner()
	if ft, ok := o.(*binding.FunctionTemplate); ok {
		o = ft.Owner()
	}
	return o
}
