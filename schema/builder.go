package schema

import (
	"golang.org/x/exp/slices"

	"github.com/isamdb/isamdb/engine"
)

// A Builder assembles a table definition column by column. The first
// error sticks and is reported by Freeze; calls after Freeze fail.
type Builder struct {
	name    string
	columns []Column
	indexes []Index
	length  int
	frozen  bool
	err     error
}

func NewBuilder(name string) *Builder {
	b := &Builder{name: name}
	if name == "" {
		b.fail("table name is empty")
	}
	return b
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = schemaErrf(b.name, format, args...)
	}
}

// Column appends a column to the record layout. width is required for
// Text and Decimal columns and must be zero or the implied width for
// the fixed-width kinds.
func (b *Builder) Column(name string, kind Kind, width int) *Builder {
	if b.frozen {
		b.fail("definition is frozen")
		return b
	}
	if name == "" {
		b.fail("column name is empty")
		return b
	}
	if slices.IndexFunc(b.columns, func(c Column) bool { return c.Name == name }) >= 0 {
		b.fail("duplicate column %q", name)
		return b
	}

	if w, ok := kind.FixedWidth(); ok {
		if width != 0 && width != w {
			b.fail("column %q: %s is %d bytes wide", name, kind, w)
			return b
		}
		width = w
	} else if width <= 0 {
		b.fail("column %q: %s needs an explicit width", name, kind)
		return b
	}

	b.columns = append(b.columns, Column{
		Name:   name,
		Kind:   kind,
		Width:  width,
		Offset: b.length,
	})
	b.length += width
	return b
}

// Index appends an ascending index.
func (b *Builder) Index(name string, u Uniqueness, parts ...KeyPart) *Builder {
	return b.addIndex(name, u, false, parts)
}

// DescendingIndex appends an index ordered from largest to smallest key.
func (b *Builder) DescendingIndex(name string, u Uniqueness, parts ...KeyPart) *Builder {
	return b.addIndex(name, u, true, parts)
}

func (b *Builder) addIndex(name string, u Uniqueness, desc bool, parts []KeyPart) *Builder {
	if b.frozen {
		b.fail("definition is frozen")
		return b
	}
	if name == "" {
		b.fail("index name is empty")
		return b
	}
	if slices.IndexFunc(b.indexes, func(i Index) bool { return i.Name == name }) >= 0 {
		b.fail("duplicate index %q", name)
		return b
	}
	if u == Primary {
		if slices.IndexFunc(b.indexes, func(i Index) bool { return i.Uniqueness == Primary }) >= 0 {
			b.fail("index %q: table already has a primary index", name)
			return b
		}
	}
	if len(parts) == 0 || len(parts) > engine.MaxKeyParts {
		b.fail("index %q: needs 1 to %d parts", name, engine.MaxKeyParts)
		return b
	}

	total := 0
	for _, p := range parts {
		i := slices.IndexFunc(b.columns, func(c Column) bool { return c.Name == p.Column })
		if i < 0 {
			b.fail("index %q: unknown column %q", name, p.Column)
			return b
		}
		col := b.columns[i]
		length := p.Length
		if length == 0 {
			length = col.Width
		}
		if length < 0 || length > col.Width {
			b.fail("index %q: prefix of %q exceeds column width", name, p.Column)
			return b
		}
		if length != col.Width && col.Kind != Text {
			b.fail("index %q: prefix only applies to text columns", name)
			return b
		}
		total += length
	}
	if total > engine.MaxKeyLength {
		b.fail("index %q: key exceeds %d bytes", name, engine.MaxKeyLength)
		return b
	}

	cp := make([]KeyPart, len(parts))
	copy(cp, parts)
	b.indexes = append(b.indexes, Index{Name: name, Uniqueness: u, Descending: desc, Parts: cp})
	return b
}

// Freeze validates the definition and returns its immutable form. The
// builder cannot be reused afterwards.
func (b *Builder) Freeze() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.frozen {
		return nil, schemaErrf(b.name, "definition is frozen")
	}
	if len(b.columns) == 0 {
		return nil, schemaErrf(b.name, "table has no columns")
	}
	primary := slices.IndexFunc(b.indexes, func(i Index) bool { return i.Uniqueness == Primary })
	if primary < 0 {
		return nil, schemaErrf(b.name, "table has no primary index")
	}
	b.frozen = true

	// The primary index always compiles to slot 0.
	indexes := make([]Index, 0, len(b.indexes))
	indexes = append(indexes, b.indexes[primary])
	for i, idx := range b.indexes {
		if i != primary {
			indexes = append(indexes, idx)
		}
	}

	d := &Definition{
		name:    b.name,
		columns: b.columns,
		indexes: indexes,
		length:  b.length,
		byName:  make(map[string]int, len(b.columns)),
		kds:     make(map[string]*engine.KeyDescriptor),
	}
	for i, c := range b.columns {
		d.byName[c.Name] = i
	}
	return d, nil
}
