// Package template instantiates class and function templates. Instances are
// cached by template identity and value-equal argument tuple, so that
// repeated requests return the same binding.
package template

import (
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jward/cxxindex/internal/binding"
)

// DefaultMaxDepth bounds nested instantiation.
const DefaultMaxDepth = 64

// Instantiator produces template instances.
type Instantiator interface {
	Instantiate(tmpl binding.Binding, args []binding.Arg) binding.Binding
}

// Evaluator computes default arguments that are not already folded into
// TemplateParameter.Default, typically by evaluating DefaultInit. Nested
// instantiations must go through inst.
type Evaluator interface {
	Default(p *binding.TemplateParameter, subst Subst, inst Instantiator) (binding.Arg, bool)
}

// Records looks up the persisted record of an instance so that cached
// instances report the same record as the stored one.
type Records interface {
	InstanceRecord(tmpl binding.Binding, argsKey string) (binding.Record, bool)
}

// Option configures a Cache.
type Option func(*Cache)

// WithEvaluator installs the default-argument evaluator.
func WithEvaluator(e Evaluator) Option { return func(c *Cache) { c.eval = e } }

// WithRecords installs the instance record lookup.
func WithRecords(r Records) Option { return func(c *Cache) { c.records = r } }

// WithMaxDepth sets the nested instantiation limit.
func WithMaxDepth(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache holds instances keyed by template identity and argument key. It is
// safe for concurrent use; concurrent requests for the same key share one
// instantiation.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]binding.Binding
	inflight singleflight.Group

	eval     Evaluator
	records  Records
	maxDepth int
	logger   *slog.Logger
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]binding.Binding),
		maxDepth: DefaultMaxDepth,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func cacheKey(tmpl binding.Binding, args []binding.Arg) string {
	return binding.Identity(tmpl) + "<" + binding.ArgsKey(args) + ">"
}

// Instantiate returns the instance of a class template for args. Missing
// trailing arguments are filled from defaults. An explicit specialization
// matching args is returned as is. Failures are returned as problem
// bindings.
func (c *Cache) Instantiate(tmpl binding.Binding, args []binding.Arg) binding.Binding {
	key := cacheKey(tmpl, args)
	if b, ok := c.lookup(key); ok {
		return b
	}
	v, _, _ := c.inflight.Do(key, func() (any, error) {
		if b, ok := c.lookup(key); ok {
			return b, nil
		}
		bd := &builder{c: c, pending: make(map[string]binding.Binding)}
		b := bd.instantiate(tmpl, args, 0)
		canon := key
		switch x := b.(type) {
		case *binding.Problem:
			return b, nil
		case *binding.Instance:
			canon = cacheKey(tmpl, x.Args)
		case *binding.ExplicitSpecialization:
			canon = cacheKey(tmpl, x.Args)
		}
		return c.publish(bd.pending, canon, key), nil
	})
	return v.(binding.Binding)
}

// InstantiateFunction deduces the arguments of a function template from
// explicit arguments and the types of call arguments, and returns the
// instance whose Func is the substituted function. Unknown argument types
// (nil) do not take part in deduction.
func (c *Cache) InstantiateFunction(ft *binding.FunctionTemplate, explicit []binding.Arg, argTypes []binding.Type) binding.Binding {
	bd := &builder{c: c, pending: make(map[string]binding.Binding)}
	b, key := bd.function(ft, explicit, argTypes)
	if key == "" {
		return b
	}
	return c.publish(bd.pending, key, key)
}

func (c *Cache) lookup(key string) (binding.Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[key]
	return b, ok
}

// publish moves the instances built by one request into the cache and
// returns the entry under key, also recording it under the requested
// (possibly incomplete) argument key alias. The first instance stored
// under a key wins.
func (c *Cache) publish(pending map[string]binding.Binding, key, alias string) binding.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, b := range pending {
		if _, ok := c.entries[k]; !ok {
			c.entries[k] = b
		}
	}
	if key == "" {
		return nil
	}
	b := c.entries[key]
	if _, ok := c.entries[alias]; !ok {
		c.entries[alias] = b
	}
	return b
}

// Complete converts args to the parameter types of tmpl and fills missing
// trailing arguments from defaults, as instantiation does. Specialization
// argument lists go through it so that their keys match instance keys.
func (c *Cache) Complete(tmpl binding.Template, args []binding.Arg) ([]binding.Arg, *binding.Problem) {
	bd := &builder{c: c, pending: make(map[string]binding.Binding)}
	full, prob := bd.complete(tmpl, tmpl.TemplateParams(), args, Subst{})
	if prob == nil {
		c.publish(bd.pending, "", "")
	}
	return full, prob
}

// Len returns the number of cache entries, counting requests with
// defaulted arguments separately.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every cached instance, after the index changed underneath.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]binding.Binding)
}

// builder carries the state of one top-level request. Instances are
// registered in pending before their members are substituted, so that
// self-referential members find the shell instead of recursing.
type builder struct {
	c       *Cache
	pending map[string]binding.Binding
	depth   int
}

// Instantiate serves nested requests made while defaults are evaluated.
func (bd *builder) Instantiate(tmpl binding.Binding, args []binding.Arg) binding.Binding {
	return bd.instantiate(tmpl, args, bd.depth+1)
}

func (bd *builder) find(key string) (binding.Binding, bool) {
	if b, ok := bd.pending[key]; ok {
		return b, true
	}
	return bd.c.lookup(key)
}

func (bd *builder) instantiate(tmpl binding.Binding, args []binding.Arg, depth int) binding.Binding {
	if depth > bd.c.maxDepth {
		bd.c.logger.Debug("instantiation depth exceeded", "template", binding.QualifiedString(tmpl))
		return binding.NewProblem(binding.ProblemRecursionLimit, tmpl.Name())
	}
	saved := bd.depth
	bd.depth = depth
	defer func() { bd.depth = saved }()

	if raw, ok := bd.find(cacheKey(tmpl, args)); ok {
		return raw
	}
	ct, ok := tmpl.(*binding.ClassTemplate)
	if !ok {
		return binding.NewProblem(binding.ProblemInvalidTemplateArgs, tmpl.Name())
	}
	outer := Subst{}
	mapped := make(map[binding.Binding]binding.Binding)
	if oi, ok := ct.Owner().(*binding.Instance); ok {
		for k, v := range oi.Subst {
			outer[k] = v
		}
		mapped[oi.Spec] = oi
		mapped[oi.Template] = oi
	}
	full, prob := bd.complete(ct, ct.Params, args, outer)
	if prob != nil {
		return prob
	}
	key := cacheKey(tmpl, full)
	if b, ok := bd.find(key); ok {
		return b
	}
	for _, ex := range ct.Explicits {
		if sameArgs(ex.Args, full) {
			bd.pending[key] = ex
			return ex
		}
	}

	subst := Subst{}
	for k, v := range outer {
		subst[k] = v
	}
	for i, p := range ct.Params {
		subst.Bind(p, full[i])
	}
	inst := &binding.Instance{
		Decl: binding.Decl{
			SimpleName: ct.Name(),
			Parent:     ct.Owner(),
			Link:       ct.Linkage(),
			Attrs:      ct.Flags(),
			Site:       ct.Origin(),
		},
		Template: ct,
		Spec:     ct,
		Args:     full,
	}
	if bd.c.records != nil {
		if rec, ok := bd.c.records.InstanceRecord(ct, binding.ArgsKey(full)); ok {
			inst.Rec = rec
		}
	}
	if DependentArgs(full) {
		inst.Subst = subst
		inst.Key = ct.Key
		bd.pending[key] = inst
		return inst
	}

	body := &ct.ClassBody
	spec, ps, amb := bd.selectPartial(ct, full)
	if amb != nil {
		return amb
	}
	if spec != nil {
		inst.Spec = spec
		body = &spec.ClassBody
		for k, v := range ps {
			subst[k] = v
		}
	}
	inst.Subst = subst
	inst.Key = body.Key
	inst.Complete = body.Complete
	bd.pending[key] = inst

	mapped[ct] = inst
	mapped[inst.Spec] = inst
	s := &substituter{b: bd, subst: subst, mapped: mapped, depth: depth}
	s.members(inst, body, &inst.ClassBody)
	return inst
}

// complete checks args against params, converts value arguments to the
// parameter type and appends defaults for missing trailing arguments.
func (bd *builder) complete(tmpl binding.Binding, params []*binding.TemplateParameter, args []binding.Arg, outer Subst) ([]binding.Arg, *binding.Problem) {
	if len(args) > len(params) {
		return nil, binding.NewProblem(binding.ProblemInvalidTemplateArgs, tmpl.Name())
	}
	subst := Subst{}
	for k, v := range outer {
		subst[k] = v
	}
	full := make([]binding.Arg, 0, len(params))
	for i, p := range params {
		var a binding.Arg
		switch {
		case i < len(args):
			a = args[i]
		case p.Default != nil:
			s := &substituter{b: bd, subst: subst, mapped: map[binding.Binding]binding.Binding{}, depth: bd.depth}
			a = s.arg(*p.Default)
		case bd.c.eval != nil:
			d, ok := bd.c.eval.Default(p, subst, bd)
			if !ok {
				return nil, binding.NewProblem(binding.ProblemInvalidTemplateArgs, tmpl.Name())
			}
			a = d
		default:
			return nil, binding.NewProblem(binding.ProblemInvalidTemplateArgs, tmpl.Name())
		}
		a, ok := convertArg(p, a)
		if !ok {
			return nil, binding.NewProblem(binding.ProblemInvalidTemplateArgs, tmpl.Name())
		}
		subst.Bind(p, a)
		full = append(full, a)
	}
	return full, nil
}

// convertArg checks that a fits the form of p and converts constants to
// the parameter type.
func convertArg(p *binding.TemplateParameter, a binding.Arg) (binding.Arg, bool) {
	if p.ParamKind != binding.ParamValue {
		return a, !a.IsValue() && a.Type != nil
	}
	if !a.IsValue() {
		// A value parameter of an enclosing template stands for a
		// dependent constant.
		tp, ok := a.Type.(*binding.TemplateParameter)
		return a, ok && tp.ParamKind == binding.ParamValue
	}
	vt := p.ValueType
	if vt == nil || Dependent(vt) {
		vt = a.ValueType
	}
	return binding.ValueArg(binding.Convert(a.Value.Int, vt), vt), true
}

func sameArgs(a, b []binding.Arg) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !binding.SameArg(a[i], b[i]) {
			return false
		}
	}
	return true
}

// selectPartial returns the most specialized partial specialization
// matching args, with its deduced arguments. Several equally specialized
// matches yield an ambiguity problem.
func (bd *builder) selectPartial(ct *binding.ClassTemplate, args []binding.Arg) (*binding.PartialSpecialization, Subst, *binding.Problem) {
	type match struct {
		ps    *binding.PartialSpecialization
		subst Subst
	}
	var matches []match
	for _, ps := range ct.Partials {
		if s, ok := Match(ps.Params, ps.Args, args); ok {
			matches = append(matches, match{ps, s})
		}
	}
	if len(matches) == 0 {
		return nil, nil, nil
	}
	for _, m := range matches {
		best := true
		for _, o := range matches {
			if o.ps != m.ps && !moreSpecialized(m.ps, o.ps) {
				best = false
				break
			}
		}
		if best {
			return m.ps, m.subst, nil
		}
	}
	cands := make([]binding.Binding, len(matches))
	for i, m := range matches {
		cands[i] = m.ps
	}
	return nil, nil, binding.NewProblem(binding.ProblemAmbiguous, ct.Name(), cands...)
}

// function instantiates a function template. The returned key is empty
// when the result is not cacheable.
func (bd *builder) function(ft *binding.FunctionTemplate, explicit []binding.Arg, argTypes []binding.Type) (binding.Binding, string) {
	outer := Subst{}
	if oi, ok := ft.Owner().(*binding.Instance); ok {
		for k, v := range oi.Subst {
			outer[k] = v
		}
	}
	converted := make([]binding.Arg, len(explicit))
	for i, a := range explicit {
		if i >= len(ft.Params) {
			return binding.NewProblem(binding.ProblemInvalidTemplateArgs, ft.Name()), ""
		}
		c, ok := convertArg(ft.Params[i], a)
		if !ok {
			return binding.NewProblem(binding.ProblemInvalidTemplateArgs, ft.Name()), ""
		}
		converted[i] = c
	}
	deduced, ok := DeduceCall(ft, converted, argTypes)
	if !ok {
		return binding.NewProblem(binding.ProblemInvalidTemplateArgs, ft.Name()), ""
	}
	// Parameters that were neither given nor deduced take their defaults.
	args := make([]binding.Arg, 0, len(ft.Params))
	for _, p := range ft.Params {
		a, ok := deduced.Lookup(p)
		if !ok {
			break
		}
		args = append(args, a)
	}
	full, prob := bd.complete(ft, ft.Params, args, outer)
	if prob != nil {
		return prob, ""
	}
	key := cacheKey(ft, full)
	if b, ok := bd.find(key); ok {
		return b, key
	}
	for _, ex := range ft.Explicits {
		if ex.Func != nil && sameArgs(ex.Args, full) {
			bd.pending[key] = ex
			return ex, key
		}
	}
	subst := Subst{}
	for k, v := range outer {
		subst[k] = v
	}
	for i, p := range ft.Params {
		subst.Bind(p, full[i])
	}
	inst := &binding.Instance{
		Decl: binding.Decl{
			SimpleName: ft.Name(),
			Parent:     ft.Owner(),
			Link:       ft.Linkage(),
			Attrs:      ft.Flags(),
			Site:       ft.Origin(),
		},
		Template: ft,
		Spec:     ft,
		Args:     full,
		Subst:    subst,
	}
	if bd.c.records != nil {
		if rec, ok := bd.c.records.InstanceRecord(ft, binding.ArgsKey(full)); ok {
			inst.Rec = rec
		}
	}
	bd.pending[key] = inst
	if ft.Func != nil {
		s := &substituter{b: bd, subst: subst, mapped: map[binding.Binding]binding.Binding{}, depth: bd.depth}
		inst.Func = s.function(ft.Func, ft.Owner())
	}
	return inst, key
}
