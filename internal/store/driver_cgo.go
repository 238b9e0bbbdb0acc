//go:build !purego

package store

// Driver used: github.com/mattn/go-sqlite3 (requires CGO).
//
// Build command:
//   CGO_ENABLED=1 go build ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver the store opens.
	DriverName = "sqlite3"

	dsnParams = "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000"
)
