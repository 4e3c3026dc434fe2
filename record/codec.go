// Package record converts between Go values and the fixed-layout
// record buffers the engine stores. Text columns are space padded,
// integers are big endian, dates are yyyymmdd integers and decimals are
// packed BCD with a trailing sign nibble.
package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-module/carbon/v2"

	"github.com/isamdb/isamdb/schema"
)

// A Row maps column names to values. Decode produces the canonical
// types: string for character columns, int64 for signed integers and
// decimals, uint64 for unsigned integers, float64 for floats and
// time.Time for dates. Encode additionally accepts the common Go
// integer and float types.
type Row map[string]any

// An EncodingError reports a value that does not fit its column.
type EncodingError struct {
	Column string
	Msg    string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("column %q: %s", e.Column, e.Msg)
}

func encErrf(column, format string, args ...any) error {
	return &EncodingError{Column: column, Msg: fmt.Sprintf(format, args...)}
}

// A Codec encodes and decodes the records of one table definition.
type Codec struct {
	def *schema.Definition
}

func NewCodec(def *schema.Definition) *Codec {
	return &Codec{def: def}
}

// NewBuffer returns a record buffer holding every column's null image:
// spaces for character columns, zero bytes for the rest.
func (c *Codec) NewBuffer() []byte {
	buf := make([]byte, c.def.RecordLength())
	for _, col := range c.def.Columns() {
		if col.Kind == schema.Char || col.Kind == schema.Text {
			for i := col.Offset; i < col.Offset+col.Width; i++ {
				buf[i] = ' '
			}
		}
	}
	return buf
}

// Encode builds a fresh record buffer from row. Columns absent from the
// row keep their null image.
func (c *Codec) Encode(row Row) ([]byte, error) {
	buf := c.NewBuffer()
	if err := c.EncodeInto(buf, row); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeInto writes the row's columns over an existing record buffer.
func (c *Codec) EncodeInto(buf []byte, row Row) error {
	if len(buf) != c.def.RecordLength() {
		return encErrf("", "buffer is %d bytes, record is %d", len(buf), c.def.RecordLength())
	}
	for name, v := range row {
		col, ok := c.def.Column(name)
		if !ok {
			return encErrf(name, "not in table %q", c.def.Name())
		}
		if err := encodeColumn(buf[col.Offset:col.Offset+col.Width], col, v); err != nil {
			return err
		}
	}
	return nil
}

// Decode extracts every column of a record buffer.
func (c *Codec) Decode(buf []byte) (Row, error) {
	if len(buf) != c.def.RecordLength() {
		return nil, encErrf("", "buffer is %d bytes, record is %d", len(buf), c.def.RecordLength())
	}
	row := make(Row, len(c.def.Columns()))
	for _, col := range c.def.Columns() {
		v, err := decodeColumn(buf[col.Offset:col.Offset+col.Width], col)
		if err != nil {
			return nil, err
		}
		row[col.Name] = v
	}
	return row, nil
}

func encodeColumn(dst []byte, col schema.Column, v any) error {
	switch col.Kind {
	case schema.Char, schema.Text:
		s, ok := v.(string)
		if !ok {
			return encErrf(col.Name, "want string, got %T", v)
		}
		encodeText(dst, s)
		return nil

	case schema.Int16:
		return encodeInt(dst, col, v, math.MinInt16, math.MaxInt16)
	case schema.Int32:
		return encodeInt(dst, col, v, math.MinInt32, math.MaxInt32)
	case schema.Int64:
		return encodeInt(dst, col, v, math.MinInt64, math.MaxInt64)

	case schema.Uint16:
		return encodeUint(dst, col, v, math.MaxUint16)
	case schema.Uint32:
		return encodeUint(dst, col, v, math.MaxUint32)

	case schema.Float32:
		f, ok := toFloat(v)
		if !ok {
			return encErrf(col.Name, "want float, got %T", v)
		}
		binary.BigEndian.PutUint32(dst, math.Float32bits(float32(f)))
		return nil
	case schema.Float64:
		f, ok := toFloat(v)
		if !ok {
			return encErrf(col.Name, "want float, got %T", v)
		}
		binary.BigEndian.PutUint64(dst, math.Float64bits(f))
		return nil

	case schema.Decimal:
		n, ok := toInt(v)
		if !ok {
			return encErrf(col.Name, "want integer, got %T", v)
		}
		return encodeDecimal(dst, col.Name, n)

	case schema.Date:
		t, ok := v.(time.Time)
		if !ok {
			return encErrf(col.Name, "want time.Time, got %T", v)
		}
		encodeDate(dst, t)
		return nil
	}
	return encErrf(col.Name, "unsupported kind %s", col.Kind)
}

func decodeColumn(src []byte, col schema.Column) (any, error) {
	switch col.Kind {
	case schema.Char, schema.Text:
		return decodeText(src), nil
	case schema.Int16:
		return int64(int16(binary.BigEndian.Uint16(src))), nil
	case schema.Int32:
		return int64(int32(binary.BigEndian.Uint32(src))), nil
	case schema.Int64:
		return int64(binary.BigEndian.Uint64(src)), nil
	case schema.Uint16:
		return uint64(binary.BigEndian.Uint16(src)), nil
	case schema.Uint32:
		return uint64(binary.BigEndian.Uint32(src)), nil
	case schema.Float32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(src))), nil
	case schema.Float64:
		return math.Float64frombits(binary.BigEndian.Uint64(src)), nil
	case schema.Decimal:
		return decodeDecimal(src, col.Name)
	case schema.Date:
		return decodeDate(src), nil
	}
	return nil, encErrf(col.Name, "unsupported kind %s", col.Kind)
}

// encodeText space-pads or truncates s into dst, replacing NUL bytes
// with spaces.
func encodeText(dst []byte, s string) {
	for i := range dst {
		if i < len(s) {
			c := s[i]
			if c == 0 {
				c = ' '
			}
			dst[i] = c
		} else {
			dst[i] = ' '
		}
	}
}

func decodeText(src []byte) string {
	b := make([]byte, len(src))
	for i, c := range src {
		if c == 0 {
			c = ' '
		}
		b[i] = c
	}
	return strings.TrimRight(string(b), " ")
}

func encodeInt(dst []byte, col schema.Column, v any, min, max int64) error {
	n, ok := toInt(v)
	if !ok {
		return encErrf(col.Name, "want integer, got %T", v)
	}
	if n < min || n > max {
		return encErrf(col.Name, "%d out of range for %s", n, col.Kind)
	}
	switch len(dst) {
	case 2:
		binary.BigEndian.PutUint16(dst, uint16(n))
	case 4:
		binary.BigEndian.PutUint32(dst, uint32(n))
	default:
		binary.BigEndian.PutUint64(dst, uint64(n))
	}
	return nil
}

func encodeUint(dst []byte, col schema.Column, v any, max uint64) error {
	n, ok := toUint(v)
	if !ok {
		return encErrf(col.Name, "want unsigned integer, got %T", v)
	}
	if n > max {
		return encErrf(col.Name, "%d out of range for %s", n, col.Kind)
	}
	switch len(dst) {
	case 2:
		binary.BigEndian.PutUint16(dst, uint16(n))
	default:
		binary.BigEndian.PutUint32(dst, uint32(n))
	}
	return nil
}

// encodeDate stores t as the integer yyyymmdd. The zero time encodes as
// zero and decodes back to it.
func encodeDate(dst []byte, t time.Time) {
	var n int32
	if !t.IsZero() {
		d := carbon.CreateFromStdTime(t)
		n = int32(d.Year()*10000 + d.Month()*100 + d.Day())
	}
	binary.BigEndian.PutUint32(dst, uint32(n))
}

func decodeDate(src []byte) time.Time {
	n := int(int32(binary.BigEndian.Uint32(src)))
	if n == 0 {
		return time.Time{}
	}
	return time.Date(n/10000, time.Month(n/100%100), n%100, 0, 0, 0, 0, time.UTC)
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	case int:
		return float64(f), true
	case int64:
		return float64(f), true
	}
	return 0, false
}
