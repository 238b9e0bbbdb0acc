package index

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/store"
)

var errMissingRecord = errors.New("record not found")

// Values of the extra column.
const (
	extraInline   = "inline"
	extraDefault  = "default"
	extraComplete = "complete"
)

// loader materialises binding rows. Rows are registered in pending before
// their references are decoded, so cyclic type references resolve to the
// shell under construction.
type loader struct {
	f       *Fragment
	pending map[int64]binding.Binding
}

func (l *loader) load(id int64) (binding.Binding, error) {
	if b, ok := l.pending[id]; ok {
		return b, nil
	}
	if b, ok := l.f.cache.Get(id); ok {
		return b, nil
	}
	row, err := l.f.store.BindingByID(id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("binding %d: %w", id, errMissingRecord)
	}
	kind, err := binding.ParseKind(row.Kind)
	if err != nil {
		return nil, fmt.Errorf("binding %d: %w", id, err)
	}

	var parent binding.Binding
	if row.ParentID != nil {
		if parent, err = l.load(*row.ParentID); err != nil {
			return nil, err
		}
		// Members of instances are produced by instantiating the
		// template again.
		if inInstance(parent) {
			if m := memberByKey(parent, row.EntityKey); m != nil {
				l.pending[id] = m
				l.f.cache.Add(id, m)
				return m, nil
			}
		}
	}
	if b, ok := l.pending[id]; ok {
		return b, nil
	}
	if kind == binding.KindInstance {
		return l.instance(row)
	}

	b := shell(kind)
	d := binding.Common(b)
	d.SimpleName = row.Name
	d.Parent = parent
	d.Link = binding.Linkage(row.Linkage)
	d.Attrs = binding.Flags(row.Flags)
	d.Site = binding.Origin{File: row.Origin, Offset: row.OriginOffset}
	d.Rec = binding.Record{Fragment: l.f.id, ID: row.ID}
	binding.SetIdentity(b, row.Identity())
	l.pending[id] = b

	if err := l.fill(b, row); err != nil {
		return nil, fmt.Errorf("binding %d (%s): %w", id, row.Qualified, err)
	}
	l.f.cache.Add(id, b)
	return b, nil
}

func inInstance(b binding.Binding) bool {
	for cur := b; cur != nil; cur = cur.Owner() {
		if cur.Kind() == binding.KindInstance {
			return true
		}
	}
	return false
}

func memberByKey(owner binding.Binding, key string) binding.Binding {
	var cands []binding.Binding
	switch x := owner.(type) {
	case *binding.Instance:
		cands = append(cands, x.Members...)
		if x.Func != nil {
			cands = append(cands, x.Func)
		}
	case *binding.Function:
		for _, p := range x.Params {
			cands = append(cands, p)
		}
	default:
		cands = binding.Members(owner)
	}
	for _, m := range cands {
		if binding.EntityKeyOf(m) == key {
			return m
		}
	}
	return nil
}

func shell(k binding.Kind) binding.Binding {
	switch k {
	case binding.KindVariable, binding.KindField, binding.KindParameter:
		return &binding.Variable{VarKind: k}
	case binding.KindFunction, binding.KindMethod:
		return &binding.Function{FuncKind: k}
	case binding.KindComposite:
		return &binding.Composite{}
	case binding.KindEnumeration:
		return &binding.Enumeration{}
	case binding.KindEnumerator:
		return &binding.Enumerator{}
	case binding.KindTypedef:
		return &binding.Typedef{}
	case binding.KindNamespace:
		return &binding.Namespace{}
	case binding.KindNamespaceAlias:
		return &binding.NamespaceAlias{}
	case binding.KindClassTemplate:
		return &binding.ClassTemplate{}
	case binding.KindFunctionTemplate:
		return &binding.FunctionTemplate{}
	case binding.KindPartialSpecialization:
		return &binding.PartialSpecialization{}
	case binding.KindExplicitSpecialization:
		return &binding.ExplicitSpecialization{}
	case binding.KindTemplateParameter:
		return &binding.TemplateParameter{}
	}
	return &binding.Problem{Code: binding.ProblemTypeNotComputable}
}

// target loads a record named by a type expression, argument list or
// ref column. The record may have been removed with its file while the
// referring row survives in an includer; that decodes as a problem.
func (l *loader) target(id int64) (binding.Binding, error) {
	b, err := l.load(id)
	if errors.Is(err, errMissingRecord) {
		return binding.NewProblem(binding.ProblemTypeNotComputable, ""), nil
	}
	return b, err
}

func (l *loader) typ(s string) (binding.Type, error) {
	if s == "" {
		return nil, nil
	}
	return binding.DecodeType(s, l.target)
}

func (l *loader) fill(b binding.Binding, row *store.Binding) error {
	switch x := b.(type) {
	case *binding.Variable:
		t, err := l.typ(row.TypeExpr)
		if err != nil {
			return err
		}
		x.Type = t
		if row.Value != nil {
			x.Value = &binding.Value{Int: *row.Value}
		}
		if x.VarKind == binding.KindParameter {
			x.Position = row.Ordinal
		}
		x.HasDefault = row.Extra == extraDefault
	case *binding.Function:
		ft, err := l.funcType(row.TypeExpr)
		if err != nil {
			return err
		}
		x.Type = ft
		x.Params, err = l.params(row.ID)
		return err
	case *binding.Composite:
		return l.class(&x.ClassBody, row)
	case *binding.Enumeration:
		t, err := l.typ(row.TypeExpr)
		if err != nil {
			return err
		}
		x.Fixed = t
		refs, err := l.referencing(row.ID)
		if err != nil {
			return err
		}
		for _, r := range refs {
			if e, ok := r.(*binding.Enumerator); ok {
				x.Enumerators = append(x.Enumerators, e)
			}
		}
	case *binding.Enumerator:
		if row.Value != nil {
			x.Value = *row.Value
		}
		if row.RefID != nil {
			e, err := l.target(*row.RefID)
			if err != nil {
				return err
			}
			x.Enum, _ = e.(*binding.Enumeration)
		}
	case *binding.Typedef:
		t, err := l.typ(row.TypeExpr)
		if err != nil {
			return err
		}
		x.Type = t
	case *binding.Namespace:
		x.Inline = row.Extra == extraInline
	case *binding.NamespaceAlias:
		if row.RefID != nil {
			t, err := l.target(*row.RefID)
			if err != nil {
				return err
			}
			x.Target = t
		}
	case *binding.TemplateParameter:
		x.Position = row.Ordinal
		x.ParamKind = parseParamKind(row.Extra)
		t, err := l.typ(row.TypeExpr)
		if err != nil {
			return err
		}
		x.ValueType = t
		if row.Args != "" {
			args, err := binding.DecodeArgs(row.Args, l.target)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				x.Default = &args[0]
			}
		}
	case *binding.ClassTemplate:
		var err error
		if x.Params, err = l.templateParams(row.ID); err != nil {
			return err
		}
		if err := l.class(&x.ClassBody, row); err != nil {
			return err
		}
		refs, err := l.referencing(row.ID)
		if err != nil {
			return err
		}
		for _, r := range refs {
			switch s := r.(type) {
			case *binding.PartialSpecialization:
				x.Partials = append(x.Partials, s)
			case *binding.ExplicitSpecialization:
				x.Explicits = append(x.Explicits, s)
			}
		}
	case *binding.FunctionTemplate:
		var err error
		if x.Params, err = l.templateParams(row.ID); err != nil {
			return err
		}
		if x.Func, err = l.childFunc(row.ID); err != nil {
			return err
		}
		refs, err := l.referencing(row.ID)
		if err != nil {
			return err
		}
		for _, r := range refs {
			if s, ok := r.(*binding.ExplicitSpecialization); ok {
				x.Explicits = append(x.Explicits, s)
			}
		}
	case *binding.PartialSpecialization:
		var err error
		if x.Primary, err = l.ref(row.RefID); err != nil {
			return err
		}
		if x.Params, err = l.templateParams(row.ID); err != nil {
			return err
		}
		if x.Args, err = binding.DecodeArgs(row.Args, l.target); err != nil {
			return err
		}
		return l.class(&x.ClassBody, row)
	case *binding.ExplicitSpecialization:
		var err error
		if x.Primary, err = l.ref(row.RefID); err != nil {
			return err
		}
		if x.Args, err = binding.DecodeArgs(row.Args, l.target); err != nil {
			return err
		}
		if _, ok := x.Primary.(*binding.FunctionTemplate); ok {
			x.Func, err = l.childFunc(row.ID)
			return err
		}
		return l.class(&x.ClassBody, row)
	}
	return nil
}

func (l *loader) ref(id *int64) (binding.Binding, error) {
	if id == nil {
		return nil, nil
	}
	return l.load(*id)
}

func (l *loader) funcType(s string) (*binding.FunctionType, error) {
	t, err := l.typ(s)
	if err != nil || t == nil {
		return nil, err
	}
	ft, ok := t.(*binding.FunctionType)
	if !ok {
		return nil, fmt.Errorf("type %q is not a function type", s)
	}
	return ft, nil
}

func (l *loader) children(id int64) ([]binding.Binding, error) {
	rows, err := l.f.store.Children(id)
	if err != nil {
		return nil, err
	}
	out := make([]binding.Binding, 0, len(rows))
	for _, r := range rows {
		b, err := l.load(r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (l *loader) referencing(id int64) ([]binding.Binding, error) {
	rows, err := l.f.store.Referencing(id)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Ordinal < rows[j].Ordinal })
	out := make([]binding.Binding, 0, len(rows))
	for _, r := range rows {
		if r.Kind == "instance" {
			continue
		}
		b, err := l.load(r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (l *loader) params(id int64) ([]*binding.Variable, error) {
	cs, err := l.children(id)
	if err != nil {
		return nil, err
	}
	var out []*binding.Variable
	for _, c := range cs {
		if v, ok := c.(*binding.Variable); ok && v.Kind() == binding.KindParameter {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (l *loader) templateParams(id int64) ([]*binding.TemplateParameter, error) {
	cs, err := l.children(id)
	if err != nil {
		return nil, err
	}
	var out []*binding.TemplateParameter
	for _, c := range cs {
		if p, ok := c.(*binding.TemplateParameter); ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (l *loader) childFunc(id int64) (*binding.Function, error) {
	cs, err := l.children(id)
	if err != nil {
		return nil, err
	}
	for _, c := range cs {
		if f, ok := c.(*binding.Function); ok {
			return f, nil
		}
	}
	return nil, nil
}

// class fills a class body: key and completeness from the extra column,
// members from the children and the base list.
func (l *loader) class(body *binding.ClassBody, row *store.Binding) error {
	for _, tok := range strings.Fields(row.Extra) {
		switch tok {
		case "class":
			body.Key = binding.ClassKeyClass
		case "union":
			body.Key = binding.ClassKeyUnion
		case extraComplete:
			body.Complete = true
		}
	}
	cs, err := l.children(row.ID)
	if err != nil {
		return err
	}
	for _, c := range cs {
		switch c.Kind() {
		case binding.KindTemplateParameter, binding.KindParameter, binding.KindInstance:
			continue
		case binding.KindFunction, binding.KindMethod:
			// The function of a function template specialization is not
			// a member.
			if row.Kind == "explicit-specialization" {
				continue
			}
		}
		body.Members = append(body.Members, c)
	}
	bases, err := l.f.store.Bases(row.ID)
	if err != nil {
		return err
	}
	for _, b := range bases {
		t, err := l.typ(b.TypeExpr)
		if err != nil {
			return err
		}
		body.Bases = append(body.Bases, binding.Base{Type: t, Virtual: b.Virtual, Access: b.Access})
	}
	return nil
}

// instance re-instantiates the template of a persisted instance; the
// cache picks up the record id through InstanceRecord.
func (l *loader) instance(row *store.Binding) (binding.Binding, error) {
	if row.RefID == nil {
		return nil, fmt.Errorf("instance %d has no template", row.ID)
	}
	tmpl, err := l.load(*row.RefID)
	if err != nil {
		return nil, err
	}
	args, err := binding.DecodeArgs(row.Args, l.target)
	if err != nil {
		return nil, err
	}
	var b binding.Binding
	switch t := tmpl.(type) {
	case *binding.FunctionTemplate:
		b = l.f.tmpl.InstantiateFunction(t, args, nil)
	default:
		b = l.f.tmpl.Instantiate(t, args)
	}
	if b == nil {
		b = binding.NewProblem(binding.ProblemInvalidTemplateArgs, row.Name)
	}
	l.pending[row.ID] = b
	l.f.cache.Add(row.ID, b)
	return b, nil
}

func paramKindString(k binding.ParamKind) string {
	switch k {
	case binding.ParamValue:
		return "value"
	case binding.ParamTemplate:
		return "template"
	}
	return "type"
}

func parseParamKind(s string) binding.ParamKind {
	switch s {
	case "value":
		return binding.ParamValue
	case "template":
		return binding.ParamTemplate
	}
	return binding.ParamType
}
