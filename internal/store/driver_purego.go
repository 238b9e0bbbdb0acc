//go:build purego

package store

// Driver used: modernc.org/sqlite, a pure Go SQLite without a C toolchain.
//
// Build command:
//   CGO_ENABLED=0 go build -tags purego ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver the store opens.
	DriverName = "sqlite"

	dsnParams = "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(30000)"
)
