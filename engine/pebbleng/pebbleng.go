// Package pebbleng implements the persistent engine family on top of
// pebble. Each table is one pebble database; its stores are carved out
// of the keyspace with separator-delimited prefixes.
package pebbleng

import (
	"os"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"golang.org/x/sync/singleflight"

	"github.com/isamdb/isamdb/engine"
)

// Options configures the family. The zero value is ready to use and
// keeps pebble silent.
type Options struct {
	// Logger receives pebble's internal event log. Nil disables it.
	Logger pebble.Logger
}

// New returns the pebble-backed engine.
func New(opts Options) engine.Engine {
	return engine.New(&backend{
		opts: opts,
		dbs:  make(map[string]*dbRef),
	})
}

// Key layout inside one database. Store entries and the metadata blob
// share the keyspace under distinct lead bytes; 0x1F delimits the store
// name so that prefixes cannot collide, 0x20 bounds its range.
const (
	storeLead = 's'
	metaLead  = 'm'
	sep       = 0x1F
	sepUpper  = 0x20
)

var metaKey = []byte{metaLead, sep}

// noopLogger drops pebble's event log. Failures still surface as
// errors on the calling operation.
type noopLogger struct{}

func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Fatalf(string, ...any) {}

type backend struct {
	opts Options

	mu   sync.Mutex
	dbs  map[string]*dbRef
	open singleflight.Group
}

type dbRef struct {
	db   *pebble.DB
	refs int
}

func (b *backend) Name() string { return "pebble" }

func (b *backend) Errors() engine.ErrorTable {
	return engine.ErrorTable{Base: engine.CodeBase, Messages: engine.Messages}
}

func (b *backend) pebbleOptions() *pebble.Options {
	opt := &pebble.Options{}
	if b.opts.Logger != nil {
		opt.Logger = b.opts.Logger
	} else {
		opt.Logger = noopLogger{}
	}
	return opt
}

// acquire opens the database at path once, sharing it between handles.
// Concurrent opens of the same path are deduplicated.
func (b *backend) acquire(path string) (*dbRef, error) {
	b.mu.Lock()
	if ref, ok := b.dbs[path]; ok {
		ref.refs++
		b.mu.Unlock()
		return ref, nil
	}
	b.mu.Unlock()

	v, err, _ := b.open.Do(path, func() (any, error) {
		b.mu.Lock()
		if ref, ok := b.dbs[path]; ok {
			b.mu.Unlock()
			return ref, nil
		}
		b.mu.Unlock()

		db, err := pebble.Open(path, b.pebbleOptions())
		if err != nil {
			return nil, err
		}
		ref := &dbRef{db: db}
		b.mu.Lock()
		b.dbs[path] = ref
		b.mu.Unlock()
		return ref, nil
	})
	if err != nil {
		return nil, err
	}

	ref := v.(*dbRef)
	b.mu.Lock()
	ref.refs++
	b.mu.Unlock()
	return ref, nil
}

func (b *backend) release(path string, ref *dbRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ref.refs--
	if ref.refs > 0 {
		return nil
	}
	delete(b.dbs, path)
	return ref.db.Close()
}

func (b *backend) Create(path string) (engine.File, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, errors.WithStack(err)
	}
	ref, err := b.acquire(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &file{backend: b, path: path, ref: ref}, nil
}

func (b *backend) Open(path string) (engine.File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, b.Errors().Err(path, hostCode(err))
	}
	ref, err := b.acquire(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &file{backend: b, path: path, ref: ref}, nil
}

func (b *backend) Erase(path string) error {
	b.mu.Lock()
	if ref, ok := b.dbs[path]; ok && ref.refs > 0 {
		b.mu.Unlock()
		return b.Errors().Err(path, engine.EFLOCKED)
	}
	b.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return b.Errors().Err(path, hostCode(err))
	}
	return errors.WithStack(os.RemoveAll(path))
}

// hostCode extracts the errno of a filesystem failure so that it can be
// reported through the family's error table fallback.
func hostCode(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	if os.IsNotExist(err) {
		return int(syscall.ENOENT)
	}
	return int(syscall.EIO)
}

type file struct {
	backend *backend
	path    string
	ref     *dbRef
	closed  bool
}

func (f *file) Store(name string) engine.Store {
	prefix := append([]byte{storeLead, sep}, name...)
	prefix = append(prefix, sep)
	upper := append([]byte{storeLead, sep}, name...)
	upper = append(upper, sepUpper)
	return &store{db: f.ref.db, prefix: prefix, upper: upper}
}

func (f *file) DropStore(name string) error {
	s := f.Store(name).(*store)
	return errors.WithStack(f.ref.db.DeleteRange(s.prefix, s.upper, pebble.Sync))
}

func (f *file) Meta() ([]byte, error) {
	v, closer, err := f.ref.db.Get(metaKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, errors.WithStack(engine.ErrKeyNotFound)
		}
		return nil, errors.WithStack(err)
	}
	cp := append([]byte(nil), v...)
	if err := closer.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return cp, nil
}

func (f *file) SetMeta(data []byte) error {
	return errors.WithStack(f.ref.db.Set(metaKey, data, pebble.Sync))
}

func (f *file) Close() error {
	if f.closed {
		return errors.New("file already closed")
	}
	f.closed = true
	return errors.WithStack(f.backend.release(f.path, f.ref))
}

type store struct {
	db     *pebble.DB
	prefix []byte
	upper  []byte
}

func (s *store) key(k []byte) []byte {
	return append(append([]byte(nil), s.prefix...), k...)
}

func (s *store) Put(k, v []byte) error {
	return errors.WithStack(s.db.Set(s.key(k), v, pebble.Sync))
}

func (s *store) Get(k []byte) ([]byte, error) {
	v, closer, err := s.db.Get(s.key(k))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, errors.WithStack(engine.ErrKeyNotFound)
		}
		return nil, errors.WithStack(err)
	}
	cp := append([]byte(nil), v...)
	if err := closer.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return cp, nil
}

func (s *store) Delete(k []byte) error {
	key := s.key(k)
	_, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return errors.WithStack(engine.ErrKeyNotFound)
		}
		return errors.WithStack(err)
	}
	if err := closer.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(s.db.Delete(key, pebble.Sync))
}

func (s *store) AscendGreaterOrEqual(pivot []byte, fn func(k, v []byte) error) error {
	it := s.db.NewIter(&pebble.IterOptions{
		LowerBound: s.prefix,
		UpperBound: s.upper,
	})
	defer it.Close()

	if pivot == nil {
		it.First()
	} else {
		it.SeekGE(s.key(pivot))
	}
	for ; it.Valid(); it.Next() {
		if err := fn(it.Key()[len(s.prefix):], it.Value()); err != nil {
			return err
		}
	}
	return errors.WithStack(it.Error())
}

func (s *store) DescendLessOrEqual(pivot []byte, fn func(k, v []byte) error) error {
	it := s.db.NewIter(&pebble.IterOptions{
		LowerBound: s.prefix,
		UpperBound: s.upper,
	})
	defer it.Close()

	if pivot == nil {
		it.Last()
	} else {
		// SeekLT is strict; seeking below pivot+0x00 lands on pivot
		// itself when the exact key exists.
		it.SeekLT(append(s.key(pivot), 0))
	}
	for ; it.Valid(); it.Prev() {
		if err := fn(it.Key()[len(s.prefix):], it.Value()); err != nil {
			return err
		}
	}
	return errors.WithStack(it.Error())
}
