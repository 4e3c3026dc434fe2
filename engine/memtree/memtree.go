// Package memtree implements the in-memory engine family. Tables live
// in btrees held by the process and vanish when it exits, which makes
// the family the engine of choice for tests.
package memtree

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/isamdb/isamdb/engine"
)

const btreeDegree = 12

// New returns the in-memory engine.
func New() engine.Engine {
	return engine.New(&backend{files: make(map[string]*file)})
}

type backend struct {
	mu    sync.Mutex
	files map[string]*file
}

func (b *backend) Name() string { return "memory" }

// Errors declares the leading slice of the canonical code space the
// family reports; later codes fall back to host error text.
func (b *backend) Errors() engine.ErrorTable {
	return engine.ErrorTable{Base: engine.CodeBase, Messages: engine.Messages[:14]}
}

func (b *backend) Create(path string) (engine.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f := &file{backend: b, path: path, stores: make(map[string]*btree.BTree)}
	b.files[path] = f
	f.refs++
	return f, nil
}

func (b *backend) Open(path string) (engine.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.files[path]
	if !ok {
		return nil, b.Errors().Err(path, noEntry)
	}
	f.refs++
	return f, nil
}

func (b *backend) Erase(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.files[path]; !ok {
		return b.Errors().Err(path, noEntry)
	}
	delete(b.files, path)
	return nil
}

// noEntry is the host code for a missing table, resolved through the
// fallback branch of the error table.
const noEntry = 2

// file is the storage of one table: named btrees plus the metadata
// blob. It is shared by every handle opened on the same path.
type file struct {
	backend *backend
	path    string

	mu     sync.RWMutex
	stores map[string]*btree.BTree
	meta   []byte
	refs   int
}

func (f *file) Store(name string) engine.Store {
	f.mu.Lock()
	defer f.mu.Unlock()

	tr, ok := f.stores[name]
	if !ok {
		tr = btree.New(btreeDegree)
		f.stores[name] = tr
	}
	return &store{file: f, tree: tr}
}

func (f *file) DropStore(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.stores, name)
	return nil
}

func (f *file) Meta() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.meta == nil {
		return nil, errors.WithStack(engine.ErrKeyNotFound)
	}
	return append([]byte(nil), f.meta...), nil
}

func (f *file) SetMeta(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.meta = append([]byte(nil), data...)
	return nil
}

func (f *file) Close() error {
	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()

	f.refs--
	return nil
}

type item struct {
	k, v []byte
}

func (i *item) Less(than btree.Item) bool {
	return bytes.Compare(i.k, than.(*item).k) < 0
}

type store struct {
	file *file
	tree *btree.BTree
}

func (s *store) Put(k, v []byte) error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	s.tree.ReplaceOrInsert(&item{
		k: append([]byte(nil), k...),
		v: append([]byte(nil), v...),
	})
	return nil
}

func (s *store) Get(k []byte) ([]byte, error) {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	it := s.tree.Get(&item{k: k})
	if it == nil {
		return nil, errors.WithStack(engine.ErrKeyNotFound)
	}
	return append([]byte(nil), it.(*item).v...), nil
}

func (s *store) Delete(k []byte) error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	if s.tree.Delete(&item{k: k}) == nil {
		return errors.WithStack(engine.ErrKeyNotFound)
	}
	return nil
}

func (s *store) AscendGreaterOrEqual(pivot []byte, fn func(k, v []byte) error) error {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	var err error
	iter := func(i btree.Item) bool {
		it := i.(*item)
		err = fn(it.k, it.v)
		return err == nil
	}
	if pivot == nil {
		s.tree.Ascend(iter)
	} else {
		s.tree.AscendGreaterOrEqual(&item{k: pivot}, iter)
	}
	return err
}

func (s *store) DescendLessOrEqual(pivot []byte, fn func(k, v []byte) error) error {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	var err error
	iter := func(i btree.Item) bool {
		it := i.(*item)
		err = fn(it.k, it.v)
		return err == nil
	}
	if pivot == nil {
		s.tree.Descend(iter)
	} else {
		s.tree.DescendLessOrEqual(&item{k: pivot}, iter)
	}
	return err
}
