// Package store is the SQLite data access layer of one index fragment:
// file records with their includes, macros and using statements, bindings
// keyed by identity, name occurrences and template instances.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
)

// FormatVersion is the on-disk format written by this package. Fragments
// are readable when their version satisfies FormatConstraint.
const FormatVersion = "1.2.0"

// FormatConstraint accepts fragments of the current major version written
// by this or an earlier minor release.
const FormatConstraint = "^1.2.0"

// ErrIncompatibleFormat is returned by CheckFormat for fragments whose
// format version is outside FormatConstraint.
var ErrIncompatibleFormat = errors.New("incompatible fragment format")

// Store is the SQLite data access layer for one fragment.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open(DriverName, dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Migrate creates all tables and indexes and stamps a new fragment with
// FormatVersion and a fresh fragment id. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	v, err := s.GetMetadata("format_version")
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if v == "" {
		if err := s.SetMetadata("format_version", FormatVersion); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	id, err := s.GetMetadata("fragment_id")
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if id == "" {
		if err := s.SetMetadata("fragment_id", uuid.NewString()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Initialized reports whether the database carries a fragment schema.
func (s *Store) Initialized() (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'meta'").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check schema: %w", err)
	}
	return n > 0, nil
}

// CheckFormat verifies the fragment's format version against
// FormatConstraint.
func (s *Store) CheckFormat() error {
	v, err := s.GetMetadata("format_version")
	if err != nil {
		return fmt.Errorf("check format: %w", err)
	}
	return CompatibleVersion(v)
}

// CompatibleVersion reports whether a format version string is readable.
func CompatibleVersion(v string) error {
	if v == "" {
		return fmt.Errorf("%w: no format version", ErrIncompatibleFormat)
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrIncompatibleFormat, v, err)
	}
	c, err := semver.NewConstraint(FormatConstraint)
	if err != nil {
		return fmt.Errorf("format constraint: %w", err)
	}
	if !c.Check(ver) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleFormat, v, FormatConstraint)
	}
	return nil
}

// FragmentID returns the stable id of this fragment, distinct from its
// format version.
func (s *Store) FragmentID() (string, error) {
	return s.GetMetadata("fragment_id")
}

// GetMetadata returns a metadata value, or "" when the key is unset.
func (s *Store) GetMetadata(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return v, nil
}

// SetMetadata stores a metadata value.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

-- Preprocessing tables

CREATE TABLE IF NOT EXISTS files (
  id                INTEGER PRIMARY KEY,
  linkage           INTEGER NOT NULL,
  location          TEXT NOT NULL,
  uri               TEXT NOT NULL,
  context_key       TEXT NOT NULL DEFAULT '',
  hash              TEXT,
  timestamp         INTEGER,
  pragma_once       BOOLEAN DEFAULT FALSE,
  guard             TEXT,
  parsed_in_context INTEGER REFERENCES files(id) ON DELETE SET NULL,
  is_source         BOOLEAN DEFAULT FALSE,
  standalone        BOOLEAN DEFAULT FALSE,
  UNIQUE(linkage, location, context_key)
);

CREATE TABLE IF NOT EXISTS includes (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  ordinal         INTEGER NOT NULL,
  name            TEXT NOT NULL,
  name_offset     INTEGER,
  name_length     INTEGER,
  offset          INTEGER,
  target_id       INTEGER REFERENCES files(id) ON DELETE SET NULL,
  target_location TEXT,
  target_key      TEXT,
  active          BOOLEAN DEFAULT TRUE,
  resolved        BOOLEAN DEFAULT FALSE,
  system          BOOLEAN DEFAULT FALSE,
  heuristic       BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS macros (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  ordinal         INTEGER NOT NULL,
  name            TEXT NOT NULL,
  params          TEXT,
  expansion       TEXT,
  offset          INTEGER,
  undef           BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS usings (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  ordinal         INTEGER NOT NULL,
  scope           TEXT NOT NULL,
  target          TEXT NOT NULL,
  offset          INTEGER,
  declaration     BOOLEAN DEFAULT FALSE
);

-- Binding tables

CREATE TABLE IF NOT EXISTS bindings (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  linkage         INTEGER NOT NULL,
  kind            TEXT NOT NULL,
  name            TEXT NOT NULL,
  scope           TEXT NOT NULL,
  qualified       TEXT NOT NULL,
  parent_id       INTEGER REFERENCES bindings(id) ON DELETE CASCADE,
  entity_key      TEXT NOT NULL,
  origin          TEXT NOT NULL DEFAULT '',
  origin_offset   INTEGER,
  type_expr       TEXT,
  flags           INTEGER DEFAULT 0,
  value           INTEGER,
  ordinal         INTEGER DEFAULT 0,
  ref_id          INTEGER REFERENCES bindings(id) ON DELETE CASCADE,
  args            TEXT,
  extra           TEXT,
  UNIQUE(entity_key, origin)
);

CREATE TABLE IF NOT EXISTS names (
  id              INTEGER PRIMARY KEY,
  binding_id      INTEGER NOT NULL REFERENCES bindings(id) ON DELETE CASCADE,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  offset          INTEGER NOT NULL,
  length          INTEGER NOT NULL,
  role            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bases (
  id              INTEGER PRIMARY KEY,
  class_id        INTEGER NOT NULL REFERENCES bindings(id) ON DELETE CASCADE,
  ordinal         INTEGER NOT NULL,
  type_expr       TEXT NOT NULL,
  virtual         BOOLEAN DEFAULT FALSE,
  access          TEXT
);

CREATE TABLE IF NOT EXISTS template_instances (
  id              INTEGER PRIMARY KEY,
  template_id     INTEGER NOT NULL REFERENCES bindings(id) ON DELETE CASCADE,
  args_key        TEXT NOT NULL,
  args            TEXT NOT NULL,
  instance_id     INTEGER NOT NULL REFERENCES bindings(id) ON DELETE CASCADE,
  UNIQUE(template_id, args_key)
);

CREATE INDEX IF NOT EXISTS idx_files_location ON files(location);
CREATE INDEX IF NOT EXISTS idx_includes_file ON includes(file_id);
CREATE INDEX IF NOT EXISTS idx_includes_target ON includes(target_id);
CREATE INDEX IF NOT EXISTS idx_macros_file ON macros(file_id);
CREATE INDEX IF NOT EXISTS idx_usings_file ON usings(file_id);
CREATE INDEX IF NOT EXISTS idx_bindings_name ON bindings(name);
CREATE INDEX IF NOT EXISTS idx_bindings_name_nocase ON bindings(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_bindings_scope_name ON bindings(scope, name);
CREATE INDEX IF NOT EXISTS idx_bindings_parent ON bindings(parent_id);
CREATE INDEX IF NOT EXISTS idx_bindings_ref ON bindings(ref_id);
CREATE INDEX IF NOT EXISTS idx_names_binding ON names(binding_id);
CREATE INDEX IF NOT EXISTS idx_names_file ON names(file_id);
CREATE INDEX IF NOT EXISTS idx_bases_class ON bases(class_id);
`

// DeleteFileData removes everything recorded for a file record except the
// record itself: includes, macros, using statements and names.
func (s *Store) DeleteFileData(fileID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete file data: begin: %w", err)
	}
	defer tx.Rollback()
	if err := deleteFileDataTx(tx, fileID); err != nil {
		return fmt.Errorf("delete file data: %w", err)
	}
	return tx.Commit()
}

func deleteFileDataTx(ex execer, fileID int64) error {
	for _, table := range []string{"names", "includes", "macros", "usings"} {
		if _, err := ex.Exec("DELETE FROM "+table+" WHERE file_id = ?", fileID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}

// DeleteFile removes a file record and everything recorded for it.
func (s *Store) DeleteFile(fileID int64) error {
	if _, err := s.db.Exec("DELETE FROM files WHERE id = ?", fileID); err != nil {
		return fmt.Errorf("delete file %d: %w", fileID, err)
	}
	return nil
}

// MoveLocations rewrites every stored location under oldPrefix to start
// with newPrefix instead. Record ids and content are preserved.
func (s *Store) MoveLocations(oldPrefix, newPrefix string, uriOf func(string) string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("move locations: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id, location FROM files WHERE location = ? OR location LIKE ? ESCAPE '\\'",
		oldPrefix, likePrefix(oldPrefix))
	if err != nil {
		return fmt.Errorf("move locations: %w", err)
	}
	type moved struct {
		id  int64
		loc string
	}
	var files []moved
	for rows.Next() {
		var m moved
		if err := rows.Scan(&m.id, &m.loc); err != nil {
			rows.Close()
			return fmt.Errorf("move locations: scan: %w", err)
		}
		files = append(files, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("move locations: %w", err)
	}
	for _, f := range files {
		loc := newPrefix + strings.TrimPrefix(f.loc, oldPrefix)
		if _, err := tx.Exec("UPDATE files SET location = ?, uri = ? WHERE id = ?", loc, uriOf(loc), f.id); err != nil {
			return fmt.Errorf("move locations: file %d: %w", f.id, err)
		}
	}

	n := len(oldPrefix) + 1
	for _, stmt := range []string{
		`UPDATE includes SET target_location = ? || substr(target_location, ?) WHERE target_location = ? OR target_location LIKE ? ESCAPE '\'`,
		`UPDATE bindings SET origin = ? || substr(origin, ?) WHERE origin = ? OR origin LIKE ? ESCAPE '\'`,
	} {
		if _, err := tx.Exec(stmt, newPrefix, n, oldPrefix, likePrefix(oldPrefix)); err != nil {
			return fmt.Errorf("move locations: %w", err)
		}
	}
	return tx.Commit()
}

// likePrefix returns a LIKE pattern matching paths below dir.
func likePrefix(dir string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(strings.TrimSuffix(dir, "/")) + "/%"
}
