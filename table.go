package isamdb

import (
	"github.com/cockroachdb/errors"

	"github.com/isamdb/isamdb/engine"
	"github.com/isamdb/isamdb/record"
	"github.com/isamdb/isamdb/schema"
)

// A Table is a cursor over one open table. It remembers the selected
// index and the current record; sequential reads continue from there.
// A Table must not be used concurrently, open several cursors on the
// same path instead.
type Table struct {
	path  string
	def   *schema.Definition
	eng   engine.Engine
	h     engine.Handle
	codec *record.Codec
	sel   string
}

func newTable(path string, def *schema.Definition, h engine.Handle, eng engine.Engine) (*Table, error) {
	if def.RecordLength() != h.RecordLength() {
		return nil, &schema.SchemaError{
			Table: def.Name(),
			Msg:   "record length does not match the stored table",
		}
	}
	return &Table{
		path:  path,
		def:   def,
		eng:   eng,
		h:     h,
		codec: record.NewCodec(def),
		sel:   def.Primary().Name,
	}, nil
}

// ensureIndexes creates the secondary indexes the definition declares
// but the stored table lacks.
func (t *Table) ensureIndexes() error {
	for _, idx := range t.def.Indexes()[1:] {
		kd, err := t.def.Keydesc(idx.Name)
		if err != nil {
			return err
		}
		err = t.h.AddIndex(kd)
		if err != nil {
			var engErr *engine.Error
			if errors.As(err, &engErr) && engErr.Code == engine.EKEXISTS {
				continue
			}
			return err
		}
	}
	return nil
}

func (t *Table) guard() error {
	if t.h == nil {
		return errors.WithStack(ErrNotOpen)
	}
	return nil
}

// Definition returns the table's definition.
func (t *Table) Definition() *schema.Definition {
	return t.def
}

// CurrentIndex returns the name of the selected index.
func (t *Table) CurrentIndex() string {
	return t.sel
}

// SelectIndex switches the cursor to another index without reading. The
// next sequential read starts from the edge of that index.
func (t *Table) SelectIndex(name string) error {
	if err := t.guard(); err != nil {
		return err
	}
	if _, ok := t.def.Index(name); !ok {
		return errors.Wrapf(ErrIndexMissing, "%q", name)
	}
	t.sel = name
	return nil
}

// Read positions the cursor and returns the record it lands on. An
// empty index name continues on the selected index; naming another
// index switches to it. The keyed modes take their search value from
// key, which must fill the index parts left to right, a leading subset
// of them selecting a prefix search.
func (t *Table) Read(index string, mode ReadMode, key Row) (Row, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}

	name := index
	if name == "" {
		name = t.sel
	}
	kd, err := t.def.Keydesc(name)
	if err != nil {
		return nil, errors.Wrapf(err, "%q", name)
	}

	var keyBytes []byte
	switch mode {
	case Equal, Greater, GreaterOrEqual:
		idx, _ := t.def.Index(name)
		keyBytes, err = t.keyImage(idx, kd, key)
		if err != nil {
			return nil, err
		}
	}

	buf, err := t.h.Read(kd, mode, keyBytes)
	if err != nil {
		return nil, err
	}
	t.sel = name
	return t.codec.Decode(buf)
}

// keyImage builds the comparable search image from the key columns the
// row provides. Parts must be filled left to right; the image stops at
// the first absent one.
func (t *Table) keyImage(idx schema.Index, kd *engine.KeyDescriptor, key Row) ([]byte, error) {
	if len(key) == 0 {
		return nil, &record.EncodingError{Column: "", Msg: "search key is empty"}
	}

	filled := 0
	for _, p := range idx.Parts {
		if _, ok := key[p.Column]; !ok {
			break
		}
		filled++
	}
	if filled == 0 {
		return nil, &record.EncodingError{
			Column: idx.Parts[0].Column,
			Msg:    "leading key part is missing",
		}
	}
	for name := range key {
		found := false
		for _, p := range idx.Parts[:filled] {
			if p.Column == name {
				found = true
				break
			}
		}
		if !found {
			return nil, &record.EncodingError{Column: name, Msg: "not a leading key part"}
		}
	}

	buf, err := t.codec.Encode(key)
	if err != nil {
		return nil, err
	}
	trimmed := kd.Clone()
	trimmed.Parts = trimmed.Parts[:filled]
	return trimmed.KeyBytes(buf), nil
}

// Insert adds a new record. Columns absent from the row keep their null
// image. The cursor position does not move.
func (t *Table) Insert(row Row) error {
	if err := t.guard(); err != nil {
		return err
	}
	buf, err := t.codec.Encode(row)
	if err != nil {
		return err
	}
	return t.h.Write(buf)
}

// Update replaces the record identified by the row's primary key. The
// row must carry every column; absent ones revert to their null image.
func (t *Table) Update(row Row) error {
	if err := t.guard(); err != nil {
		return err
	}
	buf, err := t.codec.Encode(row)
	if err != nil {
		return err
	}
	return t.h.Rewrite(buf)
}

// UpdateCurrent replaces the record at the cursor position.
func (t *Table) UpdateCurrent(row Row) error {
	if err := t.guard(); err != nil {
		return err
	}
	buf, err := t.codec.Encode(row)
	if err != nil {
		return err
	}
	return t.h.RewriteCurrent(buf)
}

// Delete removes the record whose primary key matches key.
func (t *Table) Delete(key Row) error {
	if err := t.guard(); err != nil {
		return err
	}
	primary := t.def.Primary()
	kd, err := t.def.Keydesc(primary.Name)
	if err != nil {
		return err
	}
	image, err := t.keyImage(primary, kd, key)
	if err != nil {
		return err
	}
	return t.h.Delete(image)
}

// DeleteCurrent removes the record at the cursor position. The position
// survives, so the next sequential read continues past it.
func (t *Table) DeleteCurrent() error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.h.DeleteCurrent()
}

// Lock acquires the advisory table lock.
func (t *Table) Lock(mode LockMode) error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.h.Lock(mode)
}

// Unlock releases the advisory table lock.
func (t *Table) Unlock() error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.h.Unlock()
}

// Begin, Commit and Rollback pass through to the engine.
func (t *Table) Begin() error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.h.Begin()
}

func (t *Table) Commit() error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.h.Commit()
}

func (t *Table) Rollback() error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.h.Rollback()
}

// Info reports table statistics.
func (t *Table) Info() (*engine.TableInfo, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return t.h.Info()
}

// ErrorLookup decodes a raw engine code of the bound family.
func (t *Table) ErrorLookup(code int) string {
	return t.eng.ErrorLookup(code)
}

// Close releases the cursor and its table handle.
func (t *Table) Close() error {
	if err := t.guard(); err != nil {
		return err
	}
	h := t.h
	t.h = nil
	return h.Close()
}
