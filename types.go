package cxxindex

import (
	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/config"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/index"
	"github.com/jward/cxxindex/internal/preproc"
	"github.com/jward/cxxindex/internal/project"
)

// Public type aliases for internal types used in the Engine and
// QueryBuilder API. External consumers use these names; no conversion is
// needed.

type Binding = binding.Binding
type Kind = binding.Kind
type Linkage = binding.Linkage
type Role = dom.Role
type Filter = index.Filter
type Index = index.Index
type Project = project.Project
type DependencyOption = project.DependencyOption
type ScannerInfo = preproc.ScannerInfo
type Config = config.Config

// Dependency options of Engine.Index and Engine.Query.
const (
	ProjectOnly         = project.None
	IncludeDependencies = project.AddDependencies
	IncludeDependents   = project.AddDependent
	IncludeBoth         = project.Both
)

// ParseDependencyOption accepts "none", "dependencies", "dependent" and
// "both".
func ParseDependencyOption(s string) (DependencyOption, error) {
	return project.ParseDependencyOption(s)
}

// Occurrence roles accepted by QueryBuilder.Names.
const (
	RoleDeclaration = dom.RoleDeclaration
	RoleDefinition  = dom.RoleDefinition
	RoleReference   = dom.RoleReference
	RoleWrite       = dom.RoleWrite
	RoleAny         = RoleDeclaration | RoleDefinition | RoleReference | RoleWrite
)

// Errors callers can match with errors.Is.
var (
	ErrProjectNotFound   = project.ErrNotFound
	ErrProjectExists     = project.ErrExists
	ErrNoReadLock        = index.ErrNoReadLock
	ErrMultipleFragments = index.ErrMultipleFragments
)
