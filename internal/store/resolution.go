package store

import (
	"database/sql"
	"fmt"
)

// Resolution data: bindings, their occurrences, bases and template
// instances.

const bindingColumns = `id, linkage, kind, name, scope, qualified, parent_id, entity_key, origin, origin_offset,
	type_expr, flags, value, ordinal, ref_id, args, extra`

func scanBinding(sc scanner) (*Binding, error) {
	var b Binding
	var off sql.NullInt64
	var typeExpr, args, extra sql.NullString
	if err := sc.Scan(&b.ID, &b.Linkage, &b.Kind, &b.Name, &b.Scope, &b.Qualified, &b.ParentID,
		&b.EntityKey, &b.Origin, &off, &typeExpr, &b.Flags, &b.Value, &b.Ordinal, &b.RefID, &args, &extra); err != nil {
		return nil, err
	}
	b.OriginOffset = int(off.Int64)
	b.TypeExpr = typeExpr.String
	b.Args = args.String
	b.Extra = extra.String
	return &b, nil
}

func (s *Store) queryBindings(query string, args ...any) ([]*Binding, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BindingByID returns a binding row, or nil.
func (s *Store) BindingByID(id int64) (*Binding, error) {
	b, err := scanBinding(s.db.QueryRow("SELECT "+bindingColumns+" FROM bindings WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("binding by id %d: %w", id, err)
	}
	return b, nil
}

// BindingByIdentity returns the row stored under an identity, or nil.
func (s *Store) BindingByIdentity(entityKey, origin string) (*Binding, error) {
	b, err := scanBinding(s.db.QueryRow("SELECT "+bindingColumns+" FROM bindings WHERE entity_key = ? AND origin = ?",
		entityKey, origin))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("binding by identity: %w", err)
	}
	return b, nil
}

// BindingsByName returns the bindings with the given simple name.
func (s *Store) BindingsByName(name string) ([]*Binding, error) {
	bs, err := s.queryBindings("SELECT "+bindingColumns+" FROM bindings WHERE name = ? ORDER BY id", name)
	if err != nil {
		return nil, fmt.Errorf("bindings by name %q: %w", name, err)
	}
	return bs, nil
}

// BindingsByNameFold is BindingsByName ignoring ASCII case.
func (s *Store) BindingsByNameFold(name string) ([]*Binding, error) {
	bs, err := s.queryBindings("SELECT "+bindingColumns+" FROM bindings WHERE name = ? COLLATE NOCASE ORDER BY id", name)
	if err != nil {
		return nil, fmt.Errorf("bindings by name %q: %w", name, err)
	}
	return bs, nil
}

// BindingsByPrefix returns bindings whose simple name starts with prefix,
// served by a range scan over the name index. With topLevel only bindings
// at namespace scope are returned.
func (s *Store) BindingsByPrefix(prefix string, topLevel bool) ([]*Binding, error) {
	q := "SELECT " + bindingColumns + " FROM bindings WHERE name >= ? AND name < ?"
	if topLevel {
		q += ` AND kind NOT IN ('parameter', 'template-parameter', 'instance')
			AND (parent_id IS NULL OR parent_id IN (SELECT id FROM bindings WHERE kind = 'namespace'))`
	}
	bs, err := s.queryBindings(q+" ORDER BY name, id", prefix, prefix+"￿")
	if err != nil {
		return nil, fmt.Errorf("bindings by prefix %q: %w", prefix, err)
	}
	return bs, nil
}

// BindingsByPrefixFold is BindingsByPrefix ignoring ASCII case.
func (s *Store) BindingsByPrefixFold(prefix string, topLevel bool) ([]*Binding, error) {
	q := "SELECT " + bindingColumns + " FROM bindings WHERE name LIKE ? ESCAPE '\\'"
	if topLevel {
		q += ` AND kind NOT IN ('parameter', 'template-parameter', 'instance')
			AND (parent_id IS NULL OR parent_id IN (SELECT id FROM bindings WHERE kind = 'namespace'))`
	}
	bs, err := s.queryBindings(q+" ORDER BY name, id", escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("bindings by prefix %q: %w", prefix, err)
	}
	return bs, nil
}

// BindingsInScope returns the bindings named name declared directly in the
// scope with the given scope key.
func (s *Store) BindingsInScope(scope, name string) ([]*Binding, error) {
	bs, err := s.queryBindings("SELECT "+bindingColumns+" FROM bindings WHERE scope = ? AND name = ? ORDER BY id", scope, name)
	if err != nil {
		return nil, fmt.Errorf("bindings in scope %q: %w", scope, err)
	}
	return bs, nil
}

// InlineNamespaces returns the inline namespaces declared directly in the
// scope with the given scope key.
func (s *Store) InlineNamespaces(scope string) ([]*Binding, error) {
	bs, err := s.queryBindings("SELECT "+bindingColumns+` FROM bindings
		WHERE scope = ? AND kind = 'namespace' AND extra = 'inline' ORDER BY id`, scope)
	if err != nil {
		return nil, fmt.Errorf("inline namespaces in %q: %w", scope, err)
	}
	return bs, nil
}

// BindingsByQualified returns the bindings with an exact qualified name.
func (s *Store) BindingsByQualified(qualified string) ([]*Binding, error) {
	bs, err := s.queryBindings("SELECT "+bindingColumns+" FROM bindings WHERE qualified = ? ORDER BY id", qualified)
	if err != nil {
		return nil, fmt.Errorf("bindings by qualified name %q: %w", qualified, err)
	}
	return bs, nil
}

// Children returns the bindings whose parent is id, in ordinal order.
func (s *Store) Children(id int64) ([]*Binding, error) {
	bs, err := s.queryBindings("SELECT "+bindingColumns+" FROM bindings WHERE parent_id = ? ORDER BY ordinal, id", id)
	if err != nil {
		return nil, fmt.Errorf("children of %d: %w", id, err)
	}
	return bs, nil
}

// Referencing returns the bindings whose ref_id is id: specializations of
// a template, enumerators of an enumeration.
func (s *Store) Referencing(id int64) ([]*Binding, error) {
	bs, err := s.queryBindings("SELECT "+bindingColumns+" FROM bindings WHERE ref_id = ? ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("bindings referencing %d: %w", id, err)
	}
	return bs, nil
}

// AllBindings returns every binding except instances, ordered by id.
func (s *Store) AllBindings() ([]*Binding, error) {
	bs, err := s.queryBindings("SELECT " + bindingColumns + " FROM bindings WHERE kind != 'instance' ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("all bindings: %w", err)
	}
	return bs, nil
}

// CountBindings returns the number of stored bindings.
func (s *Store) CountBindings() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM bindings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count bindings: %w", err)
	}
	return n, nil
}

// Bases returns the base list of a class.
func (s *Store) Bases(classID int64) ([]*Base, error) {
	rows, err := s.db.Query(`SELECT id, class_id, ordinal, type_expr, virtual, access
		FROM bases WHERE class_id = ? ORDER BY ordinal`, classID)
	if err != nil {
		return nil, fmt.Errorf("bases of %d: %w", classID, err)
	}
	defer rows.Close()
	var out []*Base
	for rows.Next() {
		var b Base
		var access sql.NullString
		if err := rows.Scan(&b.ID, &b.ClassID, &b.Ordinal, &b.TypeExpr, &b.Virtual, &access); err != nil {
			return nil, fmt.Errorf("scan base: %w", err)
		}
		b.Access = access.String
		out = append(out, &b)
	}
	return out, rows.Err()
}

// InstanceOf returns the persisted instance of a template for an argument
// key, or nil.
func (s *Store) InstanceOf(templateID int64, argsKey string) (*Instance, error) {
	var in Instance
	err := s.db.QueryRow(`SELECT id, template_id, args_key, args, instance_id
		FROM template_instances WHERE template_id = ? AND args_key = ?`, templateID, argsKey).
		Scan(&in.ID, &in.TemplateID, &in.ArgsKey, &in.Args, &in.InstanceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("instance of %d: %w", templateID, err)
	}
	return &in, nil
}

// CountInstances returns the number of instances of a template.
func (s *Store) CountInstances(templateID int64) (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM template_instances WHERE template_id = ?", templateID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

// NamesOf returns the occurrences of a binding whose role intersects
// roleMask, joined with their file records, in file and offset order.
func (s *Store) NamesOf(bindingID int64, roleMask int) ([]*Location, error) {
	rows, err := s.db.Query(`SELECT n.id, n.binding_id, n.file_id, n.offset, n.length, n.role, f.location, f.context_key
		FROM names n JOIN files f ON f.id = n.file_id
		WHERE n.binding_id = ? AND n.role & ? != 0
		ORDER BY f.location, f.context_key, n.offset`, bindingID, roleMask)
	if err != nil {
		return nil, fmt.Errorf("names of %d: %w", bindingID, err)
	}
	defer rows.Close()
	return scanLocations(rows)
}

// NamesInFile returns the occurrences recorded in a file record.
func (s *Store) NamesInFile(fileID int64) ([]*Location, error) {
	rows, err := s.db.Query(`SELECT n.id, n.binding_id, n.file_id, n.offset, n.length, n.role, f.location, f.context_key
		FROM names n JOIN files f ON f.id = n.file_id
		WHERE n.file_id = ? ORDER BY n.offset`, fileID)
	if err != nil {
		return nil, fmt.Errorf("names in %d: %w", fileID, err)
	}
	defer rows.Close()
	return scanLocations(rows)
}

func scanLocations(rows *sql.Rows) ([]*Location, error) {
	var out []*Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.Name.ID, &l.Name.BindingID, &l.Name.FileID, &l.Name.Offset, &l.Name.Length,
			&l.Name.Role, &l.Location, &l.ContextKey); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
