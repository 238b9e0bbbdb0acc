package store

import "sync"

// BatchedStore buffers the writes of one translation unit in memory using
// fake (negative) IDs. It implements DataStore so the emitter can write to
// it without knowing whether it is hitting SQLite or an in-memory buffer.
// CommitBatch later applies the whole buffer in one transaction.
//
// Thread safety: the mutex protects fake ID allocation and slice appends.
// Read queries are passed through to the underlying Store, which is safe
// for concurrent reads.
type BatchedStore struct {
	store *Store // for read passthrough
	mu    sync.Mutex

	// Buffered data, in insertion order.
	Files     []File
	Includes  []Include
	Macros    []Macro
	Usings    []Using
	Bindings  []Binding
	Names     []Name
	Bases     []Base
	Instances []Instance
	// BaseClasses lists classes whose base lists are replaced, including
	// classes that lost all bases.
	BaseClasses []int64

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for read queries.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:      s,
		nextFakeID: -1,
	}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

// Empty reports whether nothing was buffered.
func (b *BatchedStore) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Files) == 0 && len(b.Bindings) == 0 && len(b.Names) == 0
}

func (b *BatchedStore) InsertFile(f *File) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	f.ID = fakeID
	b.Files = append(b.Files, *f)
	return fakeID, nil
}

func (b *BatchedStore) InsertInclude(inc *Include) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	inc.ID = fakeID
	b.Includes = append(b.Includes, *inc)
	return fakeID, nil
}

func (b *BatchedStore) InsertMacro(m *Macro) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	m.ID = fakeID
	b.Macros = append(b.Macros, *m)
	return fakeID, nil
}

func (b *BatchedStore) InsertUsing(u *Using) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	u.ID = fakeID
	b.Usings = append(b.Usings, *u)
	return fakeID, nil
}

// InsertBinding buffers a binding. Its parent must already be buffered or
// persisted; type expressions may reference bindings buffered later.
func (b *BatchedStore) InsertBinding(bn *Binding) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	bn.ID = fakeID
	b.Bindings = append(b.Bindings, *bn)
	return fakeID, nil
}

// UpdateBinding replaces the buffered row with the same fake ID, for
// callers that fill type expressions after allocating the row.
func (b *BatchedStore) UpdateBinding(bn *Binding) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.Bindings {
		if b.Bindings[i].ID == bn.ID {
			b.Bindings[i] = *bn
			return nil
		}
	}
	return errNotBuffered
}

func (b *BatchedStore) InsertName(n *Name) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	n.ID = fakeID
	b.Names = append(b.Names, *n)
	return fakeID, nil
}

// ReplaceBases buffers the complete base list of a class.
func (b *BatchedStore) ReplaceBases(classID int64, bases []Base) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.BaseClasses = append(b.BaseClasses, classID)
	for _, base := range bases {
		base.ClassID = classID
		base.ID = b.allocFakeID()
		b.Bases = append(b.Bases, base)
	}
	return nil
}

func (b *BatchedStore) InsertInstance(in *Instance) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	in.ID = fakeID
	b.Instances = append(b.Instances, *in)
	return fakeID, nil
}

// --- Read passthrough ---

func (b *BatchedStore) BindingByIdentity(entityKey, origin string) (*Binding, error) {
	b.mu.Lock()
	for i := range b.Bindings {
		if b.Bindings[i].EntityKey == entityKey && b.Bindings[i].Origin == origin {
			bn := b.Bindings[i]
			b.mu.Unlock()
			return &bn, nil
		}
	}
	b.mu.Unlock()
	return b.store.BindingByIdentity(entityKey, origin)
}

func (b *BatchedStore) FilesAt(linkage int, location string) ([]*File, error) {
	return b.store.FilesAt(linkage, location)
}
