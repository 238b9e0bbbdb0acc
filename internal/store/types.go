package store

import "time"

// Preprocessing domain types

// File is one file record: a source file, or a header variant parsed under
// one significant-macro context.
type File struct {
	ID         int64
	Linkage    int
	Location   string
	URI        string
	ContextKey string
	Hash       string
	Timestamp  time.Time
	PragmaOnce bool
	Guard      string
	// ParsedInContext is the includer record the header variant was parsed
	// under, nil for sources and standalone headers.
	ParsedInContext *int64
	IsSource        bool
	Standalone      bool
}

type Include struct {
	ID             int64
	FileID         int64
	Ordinal        int
	Name           string
	NameOffset     int
	NameLength     int
	Offset         int
	TargetID       *int64
	TargetLocation string
	TargetKey      string
	Active         bool
	Resolved       bool
	System         bool
	Heuristic      bool
}

// Macro is a #define or #undef. Params is nil for object-like macros.
type Macro struct {
	ID        int64
	FileID    int64
	Ordinal   int
	Name      string
	Params    []string
	Expansion string
	Offset    int
	Undef     bool
}

// Using is a using-directive, or a using-declaration when Declaration is
// set. Scope is the scope key the statement appears in and Target the
// qualified name it nominates.
type Using struct {
	ID          int64
	FileID      int64
	Ordinal     int
	Scope       string
	Target      string
	Offset      int
	Declaration bool
}

// Binding domain types

type Binding struct {
	ID        int64
	Linkage   int
	Kind      string
	Name      string
	Scope     string
	Qualified string
	ParentID  *int64
	EntityKey string
	// Origin is the location of the first declaration; empty for
	// namespaces, which are reopened across files.
	Origin       string
	OriginOffset int
	TypeExpr     string
	Flags        uint32
	Value        *int64
	Ordinal      int
	// RefID points at a related binding: the primary template of a
	// specialization, the template of an instance, the enumeration of an
	// enumerator or the target of a namespace alias.
	RefID *int64
	Args  string
	Extra string
}

// Identity is the merge key of b across fragments. Namespaces are reopened
// across files and carry no origin.
func (b *Binding) Identity() string {
	if b.Kind == "namespace" {
		return b.EntityKey
	}
	return b.EntityKey + "|" + b.Origin
}

// Name is one occurrence of a binding.
type Name struct {
	ID        int64
	BindingID int64
	FileID    int64
	Offset    int
	Length    int
	Role      int
}

type Base struct {
	ID       int64
	ClassID  int64
	Ordinal  int
	TypeExpr string
	Virtual  bool
	Access   string
}

// Instance maps a template and argument tuple to its instance binding.
type Instance struct {
	ID         int64
	TemplateID int64
	ArgsKey    string
	Args       string
	InstanceID int64
}

// Query result types

// Location is a name occurrence joined with its file record.
type Location struct {
	Name       Name
	Location   string
	ContextKey string
}
