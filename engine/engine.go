// Package engine defines the capability contract shared by every ISAM
// engine family: table open/build/erase, keyed and sequential reads
// through compiled key descriptors, record writes, advisory locking and
// error-code translation. Families implement the low-level Backend
// contract over their own ordered storage; the positioning and index
// maintenance logic is common to all of them and lives in this package.
package engine

// OpenMode controls how a table is opened.
type OpenMode int

const (
	// ReadOnly opens the table for reading only.
	ReadOnly OpenMode = iota
	// ReadWrite opens the table for reading and writing.
	ReadWrite
	// Exclusive opens the table for reading and writing and denies
	// any other open of the same table until the handle is closed.
	Exclusive
)

func (m OpenMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	case Exclusive:
		return "exclusive"
	}
	return "unknown"
}

// LockMode controls advisory locking requests.
type LockMode int

const (
	// LockNone releases nothing and acquires nothing.
	LockNone LockMode = iota
	// LockWait blocks until the lock is granted.
	LockWait
	// LockNoWait fails immediately on contention.
	LockNoWait
)

// ReadMode selects the positioning semantics of a read. The order of
// the values mirrors the classic ISAM read modes.
type ReadMode int

const (
	// First positions on the first record of the index.
	First ReadMode = iota
	// Last positions on the last record of the index.
	Last
	// Next continues forward from the current position.
	Next
	// Previous continues backward from the current position.
	Previous
	// Current re-reads the record at the current position.
	Current
	// Equal positions on the record whose key equals the search value.
	Equal
	// Greater positions on the first record whose key is strictly
	// greater than the search value.
	Greater
	// GreaterOrEqual positions on the first record whose key is greater
	// than or equal to the search value.
	GreaterOrEqual
)

func (m ReadMode) String() string {
	switch m {
	case First:
		return "first"
	case Last:
		return "last"
	case Next:
		return "next"
	case Previous:
		return "previous"
	case Current:
		return "current"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	case GreaterOrEqual:
		return "greater-or-equal"
	}
	return "unknown"
}

// TableInfo describes an open table, as reported by the engine.
type TableInfo struct {
	// Indexes is the number of live indexes, primary included.
	Indexes int
	// RecordLength is the fixed record length in bytes.
	RecordLength int
	// Records is the number of records currently stored.
	Records int64
}

// An Engine gives access to the tables of one engine family. Exactly
// one engine is bound per process and shared by every table.
type Engine interface {
	// Name identifies the engine family.
	Name() string

	// Open opens an existing table. The returned handle owns the
	// current-record position and must be closed by the caller.
	Open(path string, mode OpenMode, lock LockMode) (Handle, error)

	// Build creates a new table with the given fixed record length and
	// primary index, replacing any previous table at the same path. The
	// returned handle is open in exclusive read-write mode.
	Build(path string, recordLength int, primary *KeyDescriptor) (Handle, error)

	// Erase removes a table that is not currently open.
	Erase(path string) error

	// ErrorLookup decodes a raw engine code into a message. Codes
	// inside the family's declared range map through its own table,
	// codes outside it fall back to the host's generic error text.
	ErrorLookup(code int) string
}

// A Handle is one open table. It owns the current-record position used
// by sequential reads and must not be shared between cursors.
type Handle interface {
	// Read positions on a record and returns a copy of its buffer.
	// A nil key descriptor continues on the current index; passing the
	// descriptor of the current index preserves the position as well,
	// while a different descriptor restarts positioning on that index.
	// The key is the comparable image produced by KeyDescriptor.KeyBytes
	// and is only consulted by the keyed modes.
	Read(kd *KeyDescriptor, mode ReadMode, key []byte) ([]byte, error)

	// Write adds a new record. The current position is left untouched.
	Write(buf []byte) error

	// Rewrite replaces the record identified by the primary key of buf.
	Rewrite(buf []byte) error

	// RewriteCurrent replaces the record at the current position.
	RewriteCurrent(buf []byte) error

	// Delete removes the record whose primary key image equals key.
	Delete(key []byte) error

	// DeleteCurrent removes the record at the current position.
	DeleteCurrent() error

	// AddIndex creates an index and backfills it from existing records.
	AddIndex(kd *KeyDescriptor) error

	// DeleteIndex removes a secondary index.
	DeleteIndex(kd *KeyDescriptor) error

	// KeyInfo returns a copy of the n-th index descriptor, primary
	// first, in creation order.
	KeyInfo(n int) (*KeyDescriptor, error)

	// Info reports table statistics.
	Info() (*TableInfo, error)

	// Lock acquires the advisory table lock. LockWait blocks until the
	// lock is granted, LockNoWait fails immediately on contention.
	Lock(mode LockMode) error

	// Unlock releases the advisory table lock.
	Unlock() error

	// Begin, Commit and Rollback are passed through to the engine's
	// transaction support, if any.
	Begin() error
	Commit() error
	Rollback() error

	// RecordLength returns the fixed record length of the table.
	RecordLength() int

	// Close releases the handle. Closing twice is an error.
	Close() error
}

// A Backend provides the ordered storage of one engine family. The
// common table logic of this package is layered on top of it.
type Backend interface {
	// Name identifies the engine family.
	Name() string

	// Create allocates the file set of a new table, replacing any
	// existing one at the same path.
	Create(path string) (File, error)

	// Open opens the file set of an existing table. Opening the same
	// path twice shares the underlying storage.
	Open(path string) (File, error)

	// Erase removes the file set of a table.
	Erase(path string) error

	// Errors returns the family's error-code table.
	Errors() ErrorTable
}

// A File is the storage of one open table: a metadata blob plus any
// number of named ordered keyspaces.
type File interface {
	// Store returns the named keyspace, creating it on first use.
	Store(name string) Store

	// DropStore removes the named keyspace and all its entries.
	DropStore(name string) error

	// Meta returns the table metadata blob, or ErrKeyNotFound if it has
	// never been written.
	Meta() ([]byte, error)

	// SetMeta replaces the table metadata blob.
	SetMeta(data []byte) error

	// Close releases the file set.
	Close() error
}

// A Store is one ordered keyspace of a table file. Iteration callbacks
// stop when the callback returns an error, which is propagated as is.
type Store interface {
	Put(k, v []byte) error

	// Get returns the value associated with k, or ErrKeyNotFound.
	Get(k []byte) ([]byte, error)

	// Delete removes k. Deleting an absent key returns ErrKeyNotFound.
	Delete(k []byte) error

	// AscendGreaterOrEqual calls fn for each entry with a key greater
	// than or equal to pivot, in ascending order. A nil pivot starts at
	// the beginning.
	AscendGreaterOrEqual(pivot []byte, fn func(k, v []byte) error) error

	// DescendLessOrEqual calls fn for each entry with a key less than
	// or equal to pivot, in descending order. A nil pivot starts at the
	// end.
	DescendLessOrEqual(pivot []byte, fn func(k, v []byte) error) error
}
