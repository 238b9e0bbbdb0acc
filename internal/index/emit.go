package index

import (
	"fmt"
	"time"

	"go.lsp.dev/uri"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/parse"
	"github.com/jward/cxxindex/internal/resolve"
	"github.com/jward/cxxindex/internal/store"
)

// noScope is stored as the scope of bindings that lookup must not find
// directly: parameters, template functions, specializations, instances
// and their members.
const noScope = "-"

// Emit buffers the parsed fragments of tu and the bindings of res for one
// commit. Skipped fragments keep their existing records; bindings of other
// fragments are never referenced.
func (f *Fragment) Emit(tu *dom.TranslationUnit, res *resolve.Result) (*store.BatchedStore, error) {
	batch := store.NewBatchedStore(f.store)
	e := &emitter{
		f:     f,
		batch: batch,
		res:   res,
		ids:   make(map[binding.Binding]int64),
		busy:  make(map[binding.Binding]bool),
		files: make(map[*dom.Fragment]int64),
		keys:  make(map[string]int64),
		now:   time.Now(),
	}
	if err := e.fragments(tu); err != nil {
		return nil, fmt.Errorf("emit %s: %w", rootLocation(tu), err)
	}
	for _, b := range res.Declared {
		if _, err := e.ref(b); err != nil {
			return nil, fmt.Errorf("emit %s: %w", rootLocation(tu), err)
		}
	}
	if err := e.names(tu); err != nil {
		return nil, fmt.Errorf("emit %s: %w", rootLocation(tu), err)
	}
	if err := e.unnamed(tu, res.Declared); err != nil {
		return nil, fmt.Errorf("emit %s: %w", rootLocation(tu), err)
	}
	return batch, nil
}

func rootLocation(tu *dom.TranslationUnit) string {
	if tu.Root == nil {
		return ""
	}
	return tu.Root.Location
}

type emitter struct {
	f     *Fragment
	batch store.DataStore
	res   *resolve.Result
	ids   map[binding.Binding]int64
	busy  map[binding.Binding]bool
	files map[*dom.Fragment]int64
	keys  map[string]int64
	now   time.Time
}

func variantKey(location, contextKey string) string { return location + "\x00" + contextKey }

// fragments writes one file record per parsed fragment with its include
// edges, macros and using statements.
func (e *emitter) fragments(tu *dom.TranslationUnit) error {
	frags := tu.Fragments()
	for _, fr := range frags {
		key := variantKey(fr.Location, fr.ContextKey)
		if fr.Skip {
			if id, ok := e.keys[key]; ok {
				e.files[fr] = id
			} else if fr.Record > 0 {
				e.files[fr] = fr.Record
				e.keys[key] = fr.Record
			}
			continue
		}
		root := fr == tu.Root
		rec := &store.File{
			Linkage:    int(fr.Linkage),
			Location:   fr.Location,
			URI:        string(uri.File(fr.Location)),
			ContextKey: fr.ContextKey,
			Hash:       fr.Hash,
			Timestamp:  e.now,
			PragmaOnce: fr.PragmaOnce,
			Guard:      fr.Guard,
			IsSource:   root && !parse.IsHeader(fr.Location),
			Standalone: root && parse.IsHeader(fr.Location),
		}
		if fr.Parent != nil {
			if pid, ok := e.files[fr.Parent]; ok {
				rec.ParsedInContext = &pid
			}
		}
		id, err := e.batch.InsertFile(rec)
		if err != nil {
			return err
		}
		e.files[fr] = id
		e.keys[key] = id
	}

	for _, fr := range frags {
		if fr.Skip {
			continue
		}
		id := e.files[fr]
		for i, inc := range fr.Includes {
			row := &store.Include{
				FileID:         id,
				Ordinal:        i,
				Name:           inc.Name,
				NameOffset:     inc.NameOffset,
				NameLength:     inc.NameLength,
				Offset:         inc.Offset,
				TargetLocation: inc.Target,
				TargetKey:      inc.TargetKey,
				Active:         inc.Active,
				Resolved:       inc.Resolved,
				System:         inc.System,
				Heuristic:      inc.Heuristic,
			}
			if tid, ok := e.keys[variantKey(inc.Target, inc.TargetKey)]; ok && inc.Active && inc.Resolved {
				row.TargetID = &tid
			}
			if _, err := e.batch.InsertInclude(row); err != nil {
				return err
			}
		}
		for i, m := range fr.Macros {
			if _, err := e.batch.InsertMacro(&store.Macro{
				FileID:    id,
				Ordinal:   i,
				Name:      m.Name,
				Params:    m.Params,
				Expansion: m.Expansion,
				Offset:    m.Offset,
				Undef:     m.Undef,
			}); err != nil {
				return err
			}
		}
		for i, u := range e.res.Usings[fr] {
			if _, err := e.batch.InsertUsing(&store.Using{
				FileID:      id,
				Ordinal:     i,
				Scope:       u.Scope,
				Target:      u.Target,
				Offset:      u.Offset,
				Declaration: u.Declaration,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// unnamed gives anonymous scopes an empty definition at their declaring
// site. Without one they would count as garbage and take their members
// with them.
func (e *emitter) unnamed(tu *dom.TranslationUnit, declared []binding.Binding) error {
	fids := make(map[string]int64)
	for _, fr := range tu.Fragments() {
		if fr.Skip {
			continue
		}
		if _, ok := fids[fr.Location]; !ok {
			fids[fr.Location] = e.files[fr]
		}
	}
	for _, b := range declared {
		if b.Name() != "" || !b.Kind().IsScope() {
			continue
		}
		id, ok := e.ids[b]
		if !ok || id == 0 {
			continue
		}
		fid, ok := fids[b.Origin().File]
		if !ok || fid == 0 {
			continue
		}
		if _, err := e.batch.InsertName(&store.Name{
			BindingID: id,
			FileID:    fid,
			Offset:    b.Origin().Offset,
			Role:      int(dom.RoleDefinition),
		}); err != nil {
			return err
		}
	}
	return nil
}

// names writes one row per name occurrence bound to a persistable binding.
// Names bound to template instances count as occurrences of the template.
func (e *emitter) names(tu *dom.TranslationUnit) error {
	for _, fr := range tu.Fragments() {
		if fr.Skip || fr.File == nil {
			continue
		}
		fid := e.files[fr]
		for _, n := range fr.File.Names {
			b := n.Binding
			if in, ok := b.(*binding.Instance); ok && in.Template != nil {
				b = in.Template
			}
			id, err := e.ref(b)
			if err != nil {
				return err
			}
			if id == 0 {
				continue
			}
			if _, err := e.batch.InsertName(&store.Name{
				BindingID: id,
				FileID:    fid,
				Offset:    n.Offset,
				Length:    n.Length,
				Role:      int(n.Role),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// ref returns the row of b, buffering it first when it is new. A zero id
// means b is not persisted: problems, block-scope bindings and bindings
// of other fragments.
func (e *emitter) ref(b binding.Binding) (int64, error) {
	if binding.IsProblem(b) || e.res.IsLocal(b) {
		return 0, nil
	}
	if id, ok := e.ids[b]; ok {
		return id, nil
	}
	if rec := b.Record(); !rec.IsZero() {
		if rec.Fragment != e.f.id {
			return 0, nil
		}
		e.ids[b] = rec.ID
		return rec.ID, nil
	}
	if e.busy[b] {
		return 0, nil
	}
	e.busy[b] = true
	defer delete(e.busy, b)

	var parent *int64
	if o := b.Owner(); o != nil {
		pid, err := e.ref(o)
		if err != nil || pid == 0 {
			return 0, err
		}
		parent = &pid
	}
	if id, ok := e.ids[b]; ok {
		return id, nil
	}

	d := binding.Common(b)
	row := &store.Binding{
		Linkage:      int(b.Linkage()),
		Kind:         b.Kind().String(),
		Name:         b.Name(),
		Scope:        scopeOf(b),
		Qualified:    binding.QualifiedString(b),
		ParentID:     parent,
		EntityKey:    binding.EntityKeyOf(b),
		Origin:       originOf(b),
		OriginOffset: d.Site.Offset,
		Flags:        uint32(b.Flags()),
		Ordinal:      ordinal(b),
		Extra:        extra(b),
	}
	if b.Kind() == binding.KindNamespace {
		row.OriginOffset = 0
	}
	id, err := e.batch.InsertBinding(row)
	if err != nil {
		return 0, err
	}
	e.ids[b] = id

	if err := e.details(b, row); err != nil {
		return 0, err
	}
	if err := e.batch.UpdateBinding(row); err != nil {
		return 0, err
	}
	if err := e.related(b, row); err != nil {
		return 0, err
	}
	return id, nil
}

// refFunc adapts ref to the type encoder.
func (e *emitter) refFunc(b binding.Binding) (int64, bool) {
	id, err := e.ref(b)
	return id, err == nil && id != 0
}

func (e *emitter) encode(t binding.Type) string {
	if t == nil {
		return ""
	}
	s, err := binding.EncodeType(t, e.refFunc)
	if err != nil {
		return "!" + fmt.Sprint(int(binding.ProblemTypeNotComputable))
	}
	return s
}

func (e *emitter) encodeArgs(args []binding.Arg) string {
	s, err := binding.EncodeArgs(args, e.refFunc)
	if err != nil {
		return ""
	}
	return s
}

func (e *emitter) refID(b binding.Binding) (*int64, error) {
	if b == nil {
		return nil, nil
	}
	id, err := e.ref(b)
	if err != nil || id == 0 {
		return nil, err
	}
	return &id, nil
}

// details fills the columns that reference other bindings.
func (e *emitter) details(b binding.Binding, row *store.Binding) error {
	var err error
	switch x := b.(type) {
	case *binding.Variable:
		row.TypeExpr = e.encode(x.Type)
		if x.Value != nil {
			v := x.Value.Int
			row.Value = &v
		}
	case *binding.Function:
		if x.Type != nil {
			row.TypeExpr = e.encode(x.Type)
		}
	case *binding.Enumeration:
		row.TypeExpr = e.encode(x.Fixed)
	case *binding.Enumerator:
		v := x.Value
		row.Value = &v
		if x.Enum != nil {
			row.RefID, err = e.refID(x.Enum)
		}
	case *binding.Typedef:
		row.TypeExpr = e.encode(x.Type)
	case *binding.NamespaceAlias:
		row.RefID, err = e.refID(x.Target)
	case *binding.TemplateParameter:
		row.TypeExpr = e.encode(x.ValueType)
		if x.Default != nil {
			row.Args = e.encodeArgs([]binding.Arg{*x.Default})
		}
	case *binding.PartialSpecialization:
		row.RefID, err = e.refID(x.Primary)
		row.Args = e.encodeArgs(x.Args)
	case *binding.ExplicitSpecialization:
		row.RefID, err = e.refID(x.Primary)
		row.Args = e.encodeArgs(x.Args)
	case *binding.Instance:
		row.RefID, err = e.refID(x.Template)
		row.Args = e.encodeArgs(x.Args)
	}
	return err
}

// related buffers what hangs off a fresh row: parameters, template
// parameters, enumerators, base lists and the instance mapping.
func (e *emitter) related(b binding.Binding, row *store.Binding) error {
	var deps []binding.Binding
	switch x := b.(type) {
	case *binding.Function:
		for _, p := range x.Params {
			deps = append(deps, p)
		}
	case *binding.Enumeration:
		for _, en := range x.Enumerators {
			deps = append(deps, en)
		}
	case *binding.ClassTemplate:
		for _, p := range x.Params {
			deps = append(deps, p)
		}
	case *binding.FunctionTemplate:
		for _, p := range x.Params {
			deps = append(deps, p)
		}
		if x.Func != nil {
			deps = append(deps, x.Func)
		}
	case *binding.PartialSpecialization:
		for _, p := range x.Params {
			deps = append(deps, p)
		}
	case *binding.ExplicitSpecialization:
		if x.Func != nil {
			deps = append(deps, x.Func)
		}
	case *binding.Instance:
		if row.RefID != nil {
			if _, err := e.batch.InsertInstance(&store.Instance{
				TemplateID: *row.RefID,
				ArgsKey:    binding.ArgsKey(x.Args),
				Args:       row.Args,
				InstanceID: row.ID,
			}); err != nil {
				return err
			}
		}
	}
	for _, dep := range deps {
		if _, err := e.ref(dep); err != nil {
			return err
		}
	}

	c, ok := b.(binding.Class)
	if !ok || b.Kind() == binding.KindInstance {
		return nil
	}
	bases := make([]store.Base, 0, len(c.Body().Bases))
	for i, base := range c.Body().Bases {
		bases = append(bases, store.Base{
			Ordinal:  i,
			TypeExpr: e.encode(base.Type),
			Virtual:  base.Virtual,
			Access:   base.Access,
		})
	}
	return e.batch.ReplaceBases(row.ID, bases)
}

// scopeOf is the lookup scope column of b.
func scopeOf(b binding.Binding) string {
	switch b.Kind() {
	case binding.KindParameter, binding.KindTemplateParameter, binding.KindInstance,
		binding.KindPartialSpecialization, binding.KindExplicitSpecialization:
		return noScope
	}
	switch o := b.Owner().(type) {
	case *binding.FunctionTemplate:
		return noScope
	case *binding.ExplicitSpecialization:
		if o.Func != nil && binding.Binding(o.Func) == b {
			return noScope
		}
	}
	if inInstance(b.Owner()) {
		return noScope
	}
	return binding.OwnerKey(b)
}

func ordinal(b binding.Binding) int {
	switch x := b.(type) {
	case *binding.Variable:
		if x.Kind() == binding.KindParameter {
			return x.Position
		}
	case *binding.TemplateParameter:
		return x.Position
	case *binding.Enumerator:
		if x.Enum != nil {
			for i, en := range x.Enum.Enumerators {
				if en == x {
					return i
				}
			}
		}
	}
	if c, ok := b.Owner().(binding.Class); ok {
		for i, m := range c.Body().Members {
			if m == b {
				return i
			}
		}
	}
	return 0
}

func extra(b binding.Binding) string {
	switch x := b.(type) {
	case binding.Class:
		s := x.Body().Key.String()
		if x.Body().Complete {
			s += " " + extraComplete
		}
		return s
	case *binding.Namespace:
		if x.Inline {
			return extraInline
		}
	case *binding.Variable:
		if x.HasDefault {
			return extraDefault
		}
	case *binding.TemplateParameter:
		return paramKindString(x.ParamKind)
	}
	return ""
}
