package store

import "fmt"

// AffectedUnits returns the locations of the translation units that
// transitively include any record of location, following include edges
// backwards. A source location is its own unit.
func (s *Store) AffectedUnits(location string) ([]string, error) {
	seeds, err := queryIDs(s.db, "SELECT id FROM files WHERE location = ?", location)
	if err != nil {
		return nil, fmt.Errorf("affected units of %s: %w", location, err)
	}
	ids, err := s.includerClosure(seeds)
	if err != nil {
		return nil, fmt.Errorf("affected units of %s: %w", location, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var units []string
	for _, part := range chunk(ids, 500) {
		rows, err := s.db.Query(`SELECT DISTINCT location FROM files
			WHERE is_source AND id IN (`+placeholderList(len(part))+`) ORDER BY location`, int64sToArgs(part)...)
		if err != nil {
			return nil, fmt.Errorf("affected units of %s: %w", location, err)
		}
		for rows.Next() {
			var loc string
			if err := rows.Scan(&loc); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan unit: %w", err)
			}
			units = append(units, loc)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return units, nil
}

// includerClosure returns seeds plus every record that reaches one of them
// through include edges. Both resolved target ids and target locations are
// followed, so variants that were never parsed still count.
func (s *Store) includerClosure(seeds []int64) ([]int64, error) {
	seen := make(map[int64]bool, len(seeds))
	frontier := make([]int64, 0, len(seeds))
	for _, id := range seeds {
		if !seen[id] {
			seen[id] = true
			frontier = append(frontier, id)
		}
	}
	for len(frontier) > 0 {
		var next []int64
		for _, part := range chunk(frontier, 500) {
			ph := placeholderList(len(part))
			args := int64sToArgs(part)
			ids, err := queryIDs(s.db, `SELECT DISTINCT i.file_id FROM includes i
				WHERE i.target_id IN (`+ph+`)
				OR i.target_location IN (SELECT location FROM files WHERE id IN (`+ph+`))`,
				append(args, args...)...)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					next = append(next, id)
				}
			}
		}
		frontier = next
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// IncludersOf returns the distinct locations whose records include any
// record of location directly.
func (s *Store) IncludersOf(location string) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT f.location FROM includes i
		JOIN files f ON f.id = i.file_id
		WHERE i.target_location = ? OR i.target_id IN (SELECT id FROM files WHERE location = ?)
		ORDER BY f.location`, location, location)
	if err != nil {
		return nil, fmt.Errorf("includers of %s: %w", location, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("scan includer: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}
