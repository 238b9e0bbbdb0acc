package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Preprocessing data: file records, include edges, macros and using
// statements.

const fileColumns = `id, linkage, location, uri, context_key, hash, timestamp, pragma_once, guard,
	parsed_in_context, is_source, standalone`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(sc scanner) (*File, error) {
	var f File
	var hash, guard sql.NullString
	var ts sql.NullInt64
	if err := sc.Scan(&f.ID, &f.Linkage, &f.Location, &f.URI, &f.ContextKey, &hash, &ts,
		&f.PragmaOnce, &guard, &f.ParsedInContext, &f.IsSource, &f.Standalone); err != nil {
		return nil, err
	}
	f.Hash = hash.String
	f.Guard = guard.String
	if ts.Valid {
		f.Timestamp = time.Unix(0, ts.Int64)
	}
	return &f, nil
}

func (s *Store) queryFiles(query string, args ...any) ([]*File, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FileByID returns the file record with the given id, or nil.
func (s *Store) FileByID(id int64) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileColumns+" FROM files WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by id %d: %w", id, err)
	}
	return f, nil
}

// FilesAt returns every record of a location. Linkage 0 matches all
// linkages.
func (s *Store) FilesAt(linkage int, location string) ([]*File, error) {
	q := "SELECT " + fileColumns + " FROM files WHERE location = ?"
	args := []any{location}
	if linkage != 0 {
		q += " AND linkage = ?"
		args = append(args, linkage)
	}
	files, err := s.queryFiles(q+" ORDER BY context_key, id", args...)
	if err != nil {
		return nil, fmt.Errorf("files at %s: %w", location, err)
	}
	return files, nil
}

// FileVariant returns the record of one header variant, or nil.
func (s *Store) FileVariant(linkage int, location, contextKey string) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileColumns+" FROM files WHERE linkage = ? AND location = ? AND context_key = ?",
		linkage, location, contextKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file variant %s: %w", location, err)
	}
	return f, nil
}

// UpToDate returns the id of the record for the variant when it exists
// with the given content hash.
func (s *Store) UpToDate(linkage int, location, contextKey, hash string) (int64, bool, error) {
	f, err := s.FileVariant(linkage, location, contextKey)
	if err != nil || f == nil || f.Hash != hash {
		return 0, false, err
	}
	return f.ID, true, nil
}

// AllFiles returns every file record ordered by location.
func (s *Store) AllFiles() ([]*File, error) {
	files, err := s.queryFiles("SELECT " + fileColumns + " FROM files ORDER BY location, context_key")
	if err != nil {
		return nil, fmt.Errorf("all files: %w", err)
	}
	return files, nil
}

// SourceFiles returns the records of translation unit roots.
func (s *Store) SourceFiles() ([]*File, error) {
	files, err := s.queryFiles("SELECT " + fileColumns + " FROM files WHERE is_source ORDER BY location")
	if err != nil {
		return nil, fmt.Errorf("source files: %w", err)
	}
	return files, nil
}

// Locations returns the distinct locations with at least one record.
func (s *Store) Locations() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT location FROM files ORDER BY location")
	if err != nil {
		return nil, fmt.Errorf("locations: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

const includeColumns = `id, file_id, ordinal, name, name_offset, name_length, offset, target_id,
	target_location, target_key, active, resolved, system, heuristic`

func (s *Store) queryIncludes(query string, args ...any) ([]*Include, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Include
	for rows.Next() {
		var inc Include
		var loc, key sql.NullString
		if err := rows.Scan(&inc.ID, &inc.FileID, &inc.Ordinal, &inc.Name, &inc.NameOffset, &inc.NameLength,
			&inc.Offset, &inc.TargetID, &loc, &key, &inc.Active, &inc.Resolved, &inc.System, &inc.Heuristic); err != nil {
			return nil, fmt.Errorf("scan include: %w", err)
		}
		inc.TargetLocation = loc.String
		inc.TargetKey = key.String
		out = append(out, &inc)
	}
	return out, rows.Err()
}

// IncludesOf returns the include statements of a file record in textual
// order.
func (s *Store) IncludesOf(fileID int64) ([]*Include, error) {
	incs, err := s.queryIncludes("SELECT "+includeColumns+" FROM includes WHERE file_id = ? ORDER BY ordinal", fileID)
	if err != nil {
		return nil, fmt.Errorf("includes of %d: %w", fileID, err)
	}
	return incs, nil
}

// IncludedBy returns the include statements that target a file record.
func (s *Store) IncludedBy(fileID int64) ([]*Include, error) {
	incs, err := s.queryIncludes("SELECT "+includeColumns+" FROM includes WHERE target_id = ? ORDER BY file_id, ordinal", fileID)
	if err != nil {
		return nil, fmt.Errorf("included by %d: %w", fileID, err)
	}
	return incs, nil
}

// InclusionCount returns how many include statements target a record.
func (s *Store) InclusionCount(fileID int64) (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM includes WHERE target_id = ?", fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("inclusion count %d: %w", fileID, err)
	}
	return n, nil
}

// MacrosOf returns the macro statements of a file record in textual
// order.
func (s *Store) MacrosOf(fileID int64) ([]*Macro, error) {
	rows, err := s.db.Query(`SELECT id, file_id, ordinal, name, params, expansion, offset, undef
		FROM macros WHERE file_id = ? ORDER BY ordinal`, fileID)
	if err != nil {
		return nil, fmt.Errorf("macros of %d: %w", fileID, err)
	}
	defer rows.Close()
	var out []*Macro
	for rows.Next() {
		var m Macro
		var params, exp sql.NullString
		if err := rows.Scan(&m.ID, &m.FileID, &m.Ordinal, &m.Name, &params, &exp, &m.Offset, &m.Undef); err != nil {
			return nil, fmt.Errorf("scan macro: %w", err)
		}
		m.Params = unmarshalParams(params)
		m.Expansion = exp.String
		out = append(out, &m)
	}
	return out, rows.Err()
}

// UsingsOf returns the using statements of a file record in textual
// order.
func (s *Store) UsingsOf(fileID int64) ([]*Using, error) {
	rows, err := s.db.Query(`SELECT id, file_id, ordinal, scope, target, offset, declaration
		FROM usings WHERE file_id = ? ORDER BY ordinal`, fileID)
	if err != nil {
		return nil, fmt.Errorf("usings of %d: %w", fileID, err)
	}
	defer rows.Close()
	var out []*Using
	for rows.Next() {
		var u Using
		if err := rows.Scan(&u.ID, &u.FileID, &u.Ordinal, &u.Scope, &u.Target, &u.Offset, &u.Declaration); err != nil {
			return nil, fmt.Errorf("scan using: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
