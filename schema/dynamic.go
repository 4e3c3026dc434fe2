package schema

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/isamdb/isamdb/engine"
)

// A Dynamic builds a definition for a table whose indexes are only
// known at runtime: the caller declares the column layout, the indexes
// are recovered from the open table itself.
type Dynamic struct {
	b *Builder
}

func NewDynamic(name string) *Dynamic {
	return &Dynamic{b: NewBuilder(name)}
}

// Column appends a column, as on Builder.
func (d *Dynamic) Column(name string, kind Kind, width int) *Dynamic {
	d.b.Column(name, kind, width)
	return d
}

// LoadIndexes walks the table's key descriptors and declares a matching
// index for each. The primary is named "primary", secondaries "key1",
// "key2" and so on in table order. Descriptors whose parts do not line
// up with the declared columns are an error.
func (d *Dynamic) LoadIndexes(h engine.Handle) error {
	if d.b.err != nil {
		return d.b.err
	}

	for n := 0; ; n++ {
		kd, err := h.KeyInfo(n)
		if err != nil {
			var engErr *engine.Error
			if errors.As(err, &engErr) && engErr.Code == engine.EBADKEY {
				break
			}
			return err
		}

		parts := make([]KeyPart, 0, len(kd.Parts))
		for _, p := range kd.Parts {
			part, err := d.matchColumn(p)
			if err != nil {
				return err
			}
			parts = append(parts, part)
		}

		name := "primary"
		u := Primary
		if n > 0 {
			name = fmt.Sprintf("key%d", n)
			u = Unique
			if kd.AllowDuplicates {
				u = Duplicates
			}
		}
		if kd.Descending {
			d.b.DescendingIndex(name, u, parts...)
		} else {
			d.b.Index(name, u, parts...)
		}
	}
	return d.b.err
}

// matchColumn maps an engine key part back to the declared column
// starting at its offset.
func (d *Dynamic) matchColumn(p engine.KeyPart) (KeyPart, error) {
	for _, c := range d.b.columns {
		if c.Offset != p.Offset {
			continue
		}
		if p.Length == c.Width {
			return Part(c.Name), nil
		}
		if p.Length < c.Width && c.Kind == Text {
			return Prefix(c.Name, p.Length), nil
		}
		return KeyPart{}, schemaErrf(d.b.name, "key part at offset %d does not fit column %q", p.Offset, c.Name)
	}
	return KeyPart{}, schemaErrf(d.b.name, "no column at key part offset %d", p.Offset)
}

// Freeze returns the completed definition.
func (d *Dynamic) Freeze() (*Definition, error) {
	return d.b.Freeze()
}
