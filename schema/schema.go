// Package schema describes fixed-layout tables: typed columns packed
// side by side into a record buffer, plus the indexes defined over
// them. A frozen Definition compiles its indexes into the key
// descriptors the engine layer consumes.
package schema

import (
	"fmt"

	"github.com/isamdb/isamdb/engine"
)

// Kind is the storage type of a column.
type Kind int

const (
	// Char is a single character.
	Char Kind = iota
	// Text is a fixed-width, space-padded character column.
	Text
	// Int16, Int32 and Int64 are big-endian signed integers.
	Int16
	Int32
	Int64
	// Uint16 and Uint32 are big-endian unsigned integers.
	Uint16
	Uint32
	// Float32 and Float64 are IEEE 754 floats.
	Float32
	Float64
	// Decimal is a packed decimal with a trailing sign nibble.
	Decimal
	// Date is a calendar date stored as a yyyymmdd integer.
	Date
)

func (k Kind) String() string {
	switch k {
	case Char:
		return "char"
	case Text:
		return "text"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Decimal:
		return "decimal"
	case Date:
		return "date"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FixedWidth returns the storage width of kinds whose width is implied
// by the type. Text and Decimal columns size themselves explicitly.
func (k Kind) FixedWidth() (int, bool) {
	switch k {
	case Char:
		return 1, true
	case Int16, Uint16:
		return 2, true
	case Int32, Uint32, Float32, Date:
		return 4, true
	case Int64, Float64:
		return 8, true
	}
	return 0, false
}

func (k Kind) keyType() engine.KeyType {
	switch k {
	case Char, Text:
		return engine.TypeText
	case Int16:
		return engine.TypeInt16
	case Int32:
		return engine.TypeInt32
	case Int64:
		return engine.TypeInt64
	case Uint16:
		return engine.TypeUint16
	case Uint32:
		return engine.TypeUint32
	case Float32:
		return engine.TypeFloat32
	case Float64:
		return engine.TypeFloat64
	case Decimal:
		return engine.TypeDecimal
	case Date:
		return engine.TypeDate
	}
	return engine.TypeText
}

// A Column is one field of the record layout.
type Column struct {
	Name   string
	Kind   Kind
	Width  int
	Offset int
}

// Uniqueness classifies an index.
type Uniqueness int

const (
	// Primary is the unique primary index. A table has exactly one.
	Primary Uniqueness = iota
	// Unique rejects duplicate key values.
	Unique
	// Duplicates admits any number of records per key value.
	Duplicates
)

// A KeyPart names the column, or leading column prefix, contributing to
// an index.
type KeyPart struct {
	Column string
	// Length restricts the part to a leading prefix of the column. Zero
	// means the full column width.
	Length int
}

// Part selects the full column.
func Part(column string) KeyPart {
	return KeyPart{Column: column}
}

// Prefix selects the first n bytes of the column.
func Prefix(column string, n int) KeyPart {
	return KeyPart{Column: column, Length: n}
}

// An Index is a named key over one or more columns.
type Index struct {
	Name       string
	Uniqueness Uniqueness
	Descending bool
	Parts      []KeyPart
}

// A SchemaError reports an invalid table definition.
type SchemaError struct {
	Table string
	Msg   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %q: %s", e.Table, e.Msg)
}

func schemaErrf(table, format string, args ...any) error {
	return &SchemaError{Table: table, Msg: fmt.Sprintf(format, args...)}
}
