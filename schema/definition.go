package schema

import (
	"sync"

	"github.com/isamdb/isamdb/engine"
)

// A Definition is a frozen table layout. It is safe for concurrent use;
// compiled key descriptors are cached.
type Definition struct {
	name    string
	columns []Column
	byName  map[string]int
	indexes []Index
	length  int

	mu  sync.RWMutex
	kds map[string]*engine.KeyDescriptor
}

func (d *Definition) Name() string {
	return d.name
}

// RecordLength is the fixed size of one record buffer.
func (d *Definition) RecordLength() int {
	return d.length
}

// Columns returns the columns in layout order.
func (d *Definition) Columns() []Column {
	cols := make([]Column, len(d.columns))
	copy(cols, d.columns)
	return cols
}

// Column looks a column up by name.
func (d *Definition) Column(name string) (Column, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Column{}, false
	}
	return d.columns[i], true
}

// Indexes returns the indexes, primary first.
func (d *Definition) Indexes() []Index {
	idx := make([]Index, len(d.indexes))
	copy(idx, d.indexes)
	return idx
}

// Index looks an index up by name.
func (d *Definition) Index(name string) (Index, bool) {
	for _, idx := range d.indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// Primary returns the primary index.
func (d *Definition) Primary() Index {
	return d.indexes[0]
}

// Keydesc compiles the named index into its engine descriptor. Results
// are cached; callers must not mutate the returned value.
func (d *Definition) Keydesc(indexName string) (*engine.KeyDescriptor, error) {
	d.mu.RLock()
	kd, ok := d.kds[indexName]
	d.mu.RUnlock()
	if ok {
		return kd, nil
	}

	idx, ok := d.Index(indexName)
	if !ok {
		return nil, engine.ErrIndexMissing
	}

	kd = &engine.KeyDescriptor{
		AllowDuplicates: idx.Uniqueness == Duplicates,
		Descending:      idx.Descending,
	}
	for _, p := range idx.Parts {
		col := d.columns[d.byName[p.Column]]
		length := p.Length
		if length == 0 {
			length = col.Width
		}
		kd.Parts = append(kd.Parts, engine.KeyPart{
			Offset: col.Offset,
			Length: length,
			Type:   col.Kind.keyType(),
		})
		kd.Length += length
	}

	d.mu.Lock()
	d.kds[indexName] = kd
	d.mu.Unlock()
	return kd, nil
}
