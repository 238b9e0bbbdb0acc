package store

import "errors"

var errNotBuffered = errors.New("binding not buffered")

// DataStore is the write interface of the emitter. Both Store
// (direct SQLite) and BatchedStore (in-memory buffering for one
// translation unit) implement this interface.
type DataStore interface {
	// Inserts return the assigned ID. Files and bindings are
	// upserted by their natural keys when applied to SQLite.
	InsertFile(f *File) (int64, error)
	InsertInclude(inc *Include) (int64, error)
	InsertMacro(m *Macro) (int64, error)
	InsertUsing(u *Using) (int64, error)
	InsertBinding(b *Binding) (int64, error)
	UpdateBinding(b *Binding) error
	InsertName(n *Name) (int64, error)
	ReplaceBases(classID int64, bases []Base) error
	InsertInstance(in *Instance) (int64, error)

	// Queries needed while emitting.
	BindingByIdentity(entityKey, origin string) (*Binding, error)
	FilesAt(linkage int, location string) ([]*File, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)
