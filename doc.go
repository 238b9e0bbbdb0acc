// Package cxxindex is a persistent, incrementally updated symbol index for
// C and C++ projects.
//
// Each project owns one index fragment, a SQLite database holding the
// file records, include graph, macros, bindings and name occurrences of
// every translation unit indexed under the project's location. A
// translation unit is preprocessed, parsed with tree-sitter and resolved
// against the fragments already on disk, so headers parsed once are not
// parsed again for every includer.
//
// # Usage
//
//	e, err := cxxindex.New(cxxindex.WithDataDir(dir))
//	if err != nil { ... }
//	defer e.Close()
//
//	_, err = e.CreateProject("core", "path/to/core", nil, nil)
//	err = e.IndexProject(ctx, "core")
//	e.Join(ctx, 0)
//
//	q, err := e.Query("core", cxxindex.IncludeDependencies)
//	refs, err := q.References(ctx, "ns::Widget")
//
// # Updates
//
// Each project has an update coordinator. Schedule, Update and Remove
// queue changes; the coordinator reparses the affected translation units
// in parallel and commits each one in its own write transaction. Files
// whose content hash is unchanged are skipped. Join waits until the queue
// is drained.
//
// # Reading
//
// Readers of an [Index] hold a read lock for as long as they use bindings
// obtained from it. [QueryBuilder] methods take the lock themselves.
// Bindings of a project and of the projects it references are merged by
// identity, so the same class declared in a shared header is one result.
package cxxindex
