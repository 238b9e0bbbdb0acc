package store

import (
	"fmt"
)

// liveCondition keeps instances and their members, which are owned by the
// template, and every binding with at least one declaring or defining name.
const liveCondition = `kind = 'instance' OR EXISTS (
	SELECT 1 FROM names n WHERE n.binding_id = bindings.id AND n.role & 3 != 0)
	OR EXISTS (SELECT 1 FROM bindings p WHERE p.id = bindings.parent_id AND p.kind = 'instance')`

// collectGarbageTx deletes the candidate bindings that no longer have a
// declaration or definition. Children, names and instances go with them
// through the foreign keys.
func collectGarbageTx(ex execer, candidates []int64) (int, error) {
	seen := make(map[int64]bool, len(candidates))
	uniq := candidates[:0:0]
	for _, id := range candidates {
		if id > 0 && !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	removed := 0
	for _, ids := range chunk(uniq, 500) {
		res, err := ex.Exec(`DELETE FROM bindings WHERE id IN (`+placeholderList(len(ids))+`)
			AND NOT (`+liveCondition+`)`, int64sToArgs(ids)...)
		if err != nil {
			return removed, fmt.Errorf("collect garbage: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, nil
}

// CollectGarbage deletes every binding without a declaration or
// definition and returns how many rows were removed.
func (s *Store) CollectGarbage() (int, error) {
	res, err := s.db.Exec(`DELETE FROM bindings WHERE NOT (` + liveCondition + `)`)
	if err != nil {
		return 0, fmt.Errorf("collect garbage: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SweepOrphans removes header variants no longer reachable from any
// include edge, unless they were indexed on their own, and then collects
// garbage. It returns the number of file records removed.
func (s *Store) SweepOrphans() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("sweep orphans: begin: %w", err)
	}
	defer tx.Rollback()

	removed := 0
	for {
		ids, err := queryIDs(tx, `SELECT f.id FROM files f
			WHERE NOT f.is_source AND NOT f.standalone
			AND NOT EXISTS (SELECT 1 FROM includes i WHERE i.target_id = f.id)`)
		if err != nil {
			return 0, fmt.Errorf("sweep orphans: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if _, err := tx.Exec("DELETE FROM files WHERE id = ?", id); err != nil {
				return 0, fmt.Errorf("sweep orphans: file %d: %w", id, err)
			}
		}
		removed += len(ids)
	}
	if _, err := tx.Exec(`DELETE FROM bindings WHERE NOT (` + liveCondition + `)`); err != nil {
		return 0, fmt.Errorf("sweep orphans: %w", err)
	}
	return removed, tx.Commit()
}

// RemoveLocation deletes every record of a file, across linkages and
// contexts, and the bindings only it declared.
func (s *Store) RemoveLocation(location string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("remove %s: begin: %w", location, err)
	}
	defer tx.Rollback()
	ids, err := queryIDs(tx, "SELECT id FROM files WHERE location = ?", location)
	if err != nil {
		return fmt.Errorf("remove %s: %w", location, err)
	}
	var candidates []int64
	for _, id := range ids {
		declared, err := declaredIn(tx, id)
		if err != nil {
			return fmt.Errorf("remove %s: %w", location, err)
		}
		candidates = append(candidates, declared...)
		if _, err := tx.Exec("DELETE FROM files WHERE id = ?", id); err != nil {
			return fmt.Errorf("remove %s: %w", location, err)
		}
	}
	if _, err := collectGarbageTx(tx, candidates); err != nil {
		return fmt.Errorf("remove %s: %w", location, err)
	}
	return tx.Commit()
}
