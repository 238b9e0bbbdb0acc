package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// CommitBatch applies all buffered data from a BatchedStore to SQLite
// within a single transaction. Fake (negative) IDs are remapped to real
// IDs, and all references within the batch are rewritten using the
// fakeToReal mapping, including "#<id>" tokens inside type expressions.
// Readers see either the state before or after the whole batch.
//
// Apply order respects FK dependencies:
//  1. Files (upserted by linkage, location and context key; old data of a
//     replaced record and displaced header variants are dropped)
//  2. Bindings (upserted by identity, parents first)
//  3. Binding type expressions, arguments and references
//  4. Bases and template instances
//  5. Includes, macros and using statements
//  6. Names (skipped when their binding vanished meanwhile)
//  7. Garbage collection of bindings that lost every declaration
func (s *Store) CommitBatch(batch *BatchedStore) (map[int64]int64, error) {
	batch.mu.Lock()
	defer batch.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	fakeToReal := make(map[int64]int64)
	remap := func(id int64) int64 {
		if id < 0 {
			return fakeToReal[id]
		}
		return id
	}
	remapPtr := func(p *int64) *int64 {
		if p == nil || *p >= 0 {
			return p
		}
		rid, ok := fakeToReal[*p]
		if !ok {
			return nil
		}
		return &rid
	}
	var candidates []int64

	// 1. Files
	for _, f := range batch.Files {
		fake := f.ID // upsertFileTx overwrites f.ID
		f.ParsedInContext = remapPtr(f.ParsedInContext)
		realID, displaced, err := upsertFileTx(tx, &f)
		if err != nil {
			return nil, fmt.Errorf("commit batch: file %q: %w", f.Location, err)
		}
		fakeToReal[fake] = realID
		candidates = append(candidates, displaced...)
	}

	// 2. Bindings
	for _, bn := range batch.Bindings {
		bn.ParentID = remapPtr(bn.ParentID)
		realID, err := upsertBindingTx(tx, &bn)
		if err != nil {
			return nil, fmt.Errorf("commit batch: binding %q: %w", bn.Qualified, err)
		}
		fakeToReal[bn.ID] = realID
		candidates = append(candidates, realID)
	}

	// 3. Type expressions may point forward, so they are written last.
	for _, bn := range batch.Bindings {
		_, err := tx.Exec(`UPDATE bindings SET type_expr = ?, args = ?, ref_id = ?, extra = ? WHERE id = ?`,
			remapRefs(bn.TypeExpr, fakeToReal), remapRefs(bn.Args, fakeToReal),
			remapPtr(bn.RefID), nullString(bn.Extra), fakeToReal[bn.ID])
		if err != nil {
			return nil, fmt.Errorf("commit batch: binding %q types: %w", bn.Qualified, err)
		}
	}

	// 4. Bases and instances
	for _, classID := range batch.BaseClasses {
		if _, err := tx.Exec("DELETE FROM bases WHERE class_id = ?", remap(classID)); err != nil {
			return nil, fmt.Errorf("commit batch: bases: %w", err)
		}
	}
	for _, base := range batch.Bases {
		base.ClassID = remap(base.ClassID)
		base.TypeExpr = remapRefs(base.TypeExpr, fakeToReal)
		if _, err := insertBaseTx(tx, &base); err != nil {
			return nil, fmt.Errorf("commit batch: base: %w", err)
		}
	}
	for _, in := range batch.Instances {
		in.TemplateID = remap(in.TemplateID)
		in.InstanceID = remap(in.InstanceID)
		in.Args = remapRefs(in.Args, fakeToReal)
		if _, err := insertInstanceTx(tx, &in); err != nil {
			return nil, fmt.Errorf("commit batch: instance %q: %w", in.ArgsKey, err)
		}
	}

	// 5. Preprocessor statements
	for _, inc := range batch.Includes {
		inc.FileID = remap(inc.FileID)
		inc.TargetID = remapPtr(inc.TargetID)
		realID, err := insertIncludeTx(tx, &inc)
		if err != nil {
			return nil, fmt.Errorf("commit batch: include %q: %w", inc.Name, err)
		}
		fakeToReal[inc.ID] = realID
	}
	for _, m := range batch.Macros {
		m.FileID = remap(m.FileID)
		if _, err := insertMacroTx(tx, &m); err != nil {
			return nil, fmt.Errorf("commit batch: macro %q: %w", m.Name, err)
		}
	}
	for _, u := range batch.Usings {
		u.FileID = remap(u.FileID)
		if _, err := insertUsingTx(tx, &u); err != nil {
			return nil, fmt.Errorf("commit batch: using %q: %w", u.Target, err)
		}
	}

	// 6. Names
	for _, n := range batch.Names {
		n.BindingID = remap(n.BindingID)
		n.FileID = remap(n.FileID)
		if err := insertNameTx(tx, &n); err != nil {
			return nil, fmt.Errorf("commit batch: name: %w", err)
		}
	}

	// 7. Garbage
	if _, err := collectGarbageTx(tx, candidates); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return fakeToReal, nil
}

var fakeRef = regexp.MustCompile(`#(-\d+)`)

// remapRefs rewrites fake "#<id>" tokens. A token without a mapping turns
// into the type-not-computable problem marker.
func remapRefs(s string, fakeToReal map[int64]int64) string {
	if s == "" {
		return s
	}
	return fakeRef.ReplaceAllStringFunc(s, func(tok string) string {
		id, _ := strconv.ParseInt(tok[1:], 10, 64)
		if rid, ok := fakeToReal[id]; ok {
			return "#" + strconv.FormatInt(rid, 10)
		}
		return "!3"
	})
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- Transaction-scoped helpers ---
// The Store insert methods call these with s.db.

// upsertFileTx inserts or replaces a file record. Replacing drops the
// record's includes, macros, using statements and names. It also deletes
// variants of the same header the record supersedes: every other variant
// when the header has pragma-once semantics, the pragma-once variant
// otherwise. The returned ids are bindings that lost declarations.
func upsertFileTx(ex execer, f *File) (int64, []int64, error) {
	var displaced []int64
	var id int64
	err := ex.QueryRow("SELECT id FROM files WHERE linkage = ? AND location = ? AND context_key = ?",
		f.Linkage, f.Location, f.ContextKey).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := ex.Exec(
			`INSERT INTO files (linkage, location, uri, context_key, hash, timestamp, pragma_once, guard,
				parsed_in_context, is_source, standalone)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.Linkage, f.Location, f.URI, f.ContextKey, f.Hash, unixNano(f.Timestamp), f.PragmaOnce,
			f.Guard, f.ParsedInContext, f.IsSource, f.Standalone,
		)
		if err != nil {
			return 0, nil, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, nil, err
		}
	case err != nil:
		return 0, nil, err
	default:
		ids, err := declaredIn(ex, id)
		if err != nil {
			return 0, nil, err
		}
		displaced = append(displaced, ids...)
		if err := deleteFileDataTx(ex, id); err != nil {
			return 0, nil, err
		}
		_, err = ex.Exec(
			`UPDATE files SET uri = ?, hash = ?, timestamp = ?, pragma_once = ?, guard = ?,
				parsed_in_context = ?, is_source = ?, standalone = ? WHERE id = ?`,
			f.URI, f.Hash, unixNano(f.Timestamp), f.PragmaOnce, f.Guard, f.ParsedInContext,
			f.IsSource, f.Standalone, id,
		)
		if err != nil {
			return 0, nil, err
		}
	}
	f.ID = id

	q := "SELECT id FROM files WHERE linkage = ? AND location = ? AND id != ? AND pragma_once"
	if f.PragmaOnce {
		q = "SELECT id FROM files WHERE linkage = ? AND location = ? AND id != ?"
	}
	others, err := queryIDs(ex, q, f.Linkage, f.Location, id)
	if err != nil {
		return 0, nil, err
	}
	for _, other := range others {
		ids, err := declaredIn(ex, other)
		if err != nil {
			return 0, nil, err
		}
		displaced = append(displaced, ids...)
		if _, err := ex.Exec("DELETE FROM files WHERE id = ?", other); err != nil {
			return 0, nil, err
		}
	}
	return id, displaced, nil
}

// declaredIn returns the bindings declared or defined in a file record.
func declaredIn(ex execer, fileID int64) ([]int64, error) {
	return queryIDs(ex, "SELECT DISTINCT binding_id FROM names WHERE file_id = ? AND role & 3 != 0", fileID)
}

// upsertBindingTx inserts a binding or updates the row with the same
// identity in place, keeping its id. Type expressions are written by the
// caller.
func upsertBindingTx(ex execer, b *Binding) (int64, error) {
	var id int64
	err := ex.QueryRow("SELECT id FROM bindings WHERE entity_key = ? AND origin = ?", b.EntityKey, b.Origin).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := ex.Exec(
			`INSERT INTO bindings (linkage, kind, name, scope, qualified, parent_id, entity_key, origin,
				origin_offset, flags, value, ordinal)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.Linkage, b.Kind, b.Name, b.Scope, b.Qualified, b.ParentID, b.EntityKey, b.Origin,
			b.OriginOffset, b.Flags, b.Value, b.Ordinal,
		)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	if err != nil {
		return 0, err
	}
	_, err = ex.Exec(
		`UPDATE bindings SET linkage = ?, kind = ?, name = ?, scope = ?, qualified = ?, parent_id = ?,
			origin_offset = ?, flags = ?, value = ?, ordinal = ? WHERE id = ?`,
		b.Linkage, b.Kind, b.Name, b.Scope, b.Qualified, b.ParentID, b.OriginOffset, b.Flags,
		b.Value, b.Ordinal, id,
	)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func insertIncludeTx(ex execer, inc *Include) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO includes (file_id, ordinal, name, name_offset, name_length, offset, target_id,
			target_location, target_key, active, resolved, system, heuristic)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.FileID, inc.Ordinal, inc.Name, inc.NameOffset, inc.NameLength, inc.Offset, inc.TargetID,
		inc.TargetLocation, inc.TargetKey, inc.Active, inc.Resolved, inc.System, inc.Heuristic,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertMacroTx(ex execer, m *Macro) (int64, error) {
	var params any
	if m.Params != nil {
		b, err := json.Marshal(m.Params)
		if err != nil {
			return 0, err
		}
		params = string(b)
	}
	res, err := ex.Exec(
		`INSERT INTO macros (file_id, ordinal, name, params, expansion, offset, undef)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.FileID, m.Ordinal, m.Name, params, m.Expansion, m.Offset, m.Undef,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertUsingTx(ex execer, u *Using) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO usings (file_id, ordinal, scope, target, offset, declaration)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.FileID, u.Ordinal, u.Scope, u.Target, u.Offset, u.Declaration,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// insertNameTx inserts a name unless its binding no longer exists, which
// happens when a concurrent translation unit removed it before this batch
// committed.
func insertNameTx(ex execer, n *Name) error {
	_, err := ex.Exec(
		`INSERT INTO names (binding_id, file_id, offset, length, role)
		 SELECT ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM bindings WHERE id = ?)`,
		n.BindingID, n.FileID, n.Offset, n.Length, n.Role, n.BindingID,
	)
	return err
}

func insertBaseTx(ex execer, b *Base) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO bases (class_id, ordinal, type_expr, virtual, access) VALUES (?, ?, ?, ?, ?)`,
		b.ClassID, b.Ordinal, b.TypeExpr, b.Virtual, b.Access,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertInstanceTx(ex execer, in *Instance) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO template_instances (template_id, args_key, args, instance_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(template_id, args_key) DO UPDATE SET args = excluded.args, instance_id = excluded.instance_id`,
		in.TemplateID, in.ArgsKey, in.Args, in.InstanceID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// --- Direct inserts, used outside of batches ---

func (s *Store) InsertFile(f *File) (int64, error) {
	id, _, err := upsertFileTx(s.db, f)
	if err != nil {
		return 0, fmt.Errorf("insert file %q: %w", f.Location, err)
	}
	return id, nil
}

func (s *Store) InsertInclude(inc *Include) (int64, error) {
	id, err := insertIncludeTx(s.db, inc)
	if err != nil {
		return 0, fmt.Errorf("insert include %q: %w", inc.Name, err)
	}
	inc.ID = id
	return id, nil
}

func (s *Store) InsertMacro(m *Macro) (int64, error) {
	id, err := insertMacroTx(s.db, m)
	if err != nil {
		return 0, fmt.Errorf("insert macro %q: %w", m.Name, err)
	}
	m.ID = id
	return id, nil
}

func (s *Store) InsertUsing(u *Using) (int64, error) {
	id, err := insertUsingTx(s.db, u)
	if err != nil {
		return 0, fmt.Errorf("insert using %q: %w", u.Target, err)
	}
	u.ID = id
	return id, nil
}

func (s *Store) InsertBinding(b *Binding) (int64, error) {
	id, err := upsertBindingTx(s.db, b)
	if err != nil {
		return 0, fmt.Errorf("insert binding %q: %w", b.Qualified, err)
	}
	b.ID = id
	if err := s.UpdateBinding(b); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdateBinding(b *Binding) error {
	_, err := s.db.Exec(`UPDATE bindings SET type_expr = ?, args = ?, ref_id = ?, extra = ?, value = ? WHERE id = ?`,
		b.TypeExpr, b.Args, b.RefID, nullString(b.Extra), b.Value, b.ID)
	if err != nil {
		return fmt.Errorf("update binding %q: %w", b.Qualified, err)
	}
	return nil
}

func (s *Store) InsertName(n *Name) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO names (binding_id, file_id, offset, length, role) VALUES (?, ?, ?, ?, ?)`,
		n.BindingID, n.FileID, n.Offset, n.Length, n.Role)
	if err != nil {
		return 0, fmt.Errorf("insert name: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert name: %w", err)
	}
	n.ID = id
	return id, nil
}

func (s *Store) ReplaceBases(classID int64, bases []Base) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace bases: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM bases WHERE class_id = ?", classID); err != nil {
		return fmt.Errorf("replace bases: %w", err)
	}
	for _, b := range bases {
		b.ClassID = classID
		if _, err := insertBaseTx(tx, &b); err != nil {
			return fmt.Errorf("replace bases: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) InsertInstance(in *Instance) (int64, error) {
	id, err := insertInstanceTx(s.db, in)
	if err != nil {
		return 0, fmt.Errorf("insert instance %q: %w", in.ArgsKey, err)
	}
	in.ID = id
	return id, nil
}
