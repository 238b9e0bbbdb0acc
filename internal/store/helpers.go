package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// int64sToArgs converts []int64 to []any for use with database/sql.
func int64sToArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// queryIDs runs a single-column id query.
func queryIDs(ex execer, query string, args ...any) ([]int64, error) {
	rows, err := ex.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// unmarshalParams decodes a macro parameter list; NULL means object-like.
func unmarshalParams(s sql.NullString) []string {
	if !s.Valid {
		return nil
	}
	params := []string{}
	_ = json.Unmarshal([]byte(s.String), &params)
	return params
}

// chunk splits ids into groups that stay below SQLite's variable limit.
func chunk(ids []int64, size int) [][]int64 {
	var out [][]int64
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// unixNano stores a timestamp as nanoseconds; the zero time is NULL.
func unixNano(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

// escapeLike quotes the LIKE metacharacters of s.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
