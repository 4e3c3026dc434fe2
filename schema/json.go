package schema

import (
	"github.com/buger/jsonparser"
)

// ParseJSON builds a definition from its JSON form:
//
//	{
//	  "table": "orders",
//	  "columns": [
//	    {"name": "id", "kind": "int32"},
//	    {"name": "code", "kind": "text", "width": 8}
//	  ],
//	  "indexes": [
//	    {"name": "primary", "parts": ["id"]},
//	    {"name": "bycode", "unique": false, "desc": true,
//	     "parts": [{"column": "code", "length": 4}]}
//	  ]
//	}
//
// The first index is the primary. Parts are column names, or objects
// when a prefix length is needed.
func ParseJSON(data []byte) (*Definition, error) {
	table, err := jsonparser.GetString(data, "table")
	if err != nil {
		return nil, schemaErrf("", "missing table name: %v", err)
	}
	b := NewBuilder(table)

	var cbErr error
	_, err = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if cbErr != nil {
			return
		}
		cbErr = parseColumn(b, value)
	}, "columns")
	if err != nil {
		return nil, schemaErrf(table, "columns: %v", err)
	}
	if cbErr != nil {
		return nil, cbErr
	}

	first := true
	_, err = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if cbErr != nil {
			return
		}
		cbErr = parseIndex(b, value, first)
		first = false
	}, "indexes")
	if err != nil {
		return nil, schemaErrf(table, "indexes: %v", err)
	}
	if cbErr != nil {
		return nil, cbErr
	}

	return b.Freeze()
}

func parseColumn(b *Builder, value []byte) error {
	name, err := jsonparser.GetString(value, "name")
	if err != nil {
		return schemaErrf(b.name, "column without a name")
	}
	kindName, err := jsonparser.GetString(value, "kind")
	if err != nil {
		return schemaErrf(b.name, "column %q: missing kind", name)
	}
	kind, ok := kindFromString(kindName)
	if !ok {
		return schemaErrf(b.name, "column %q: unknown kind %q", name, kindName)
	}
	width, _ := jsonparser.GetInt(value, "width")

	b.Column(name, kind, int(width))
	return nil
}

func parseIndex(b *Builder, value []byte, primary bool) error {
	name, err := jsonparser.GetString(value, "name")
	if err != nil {
		return schemaErrf(b.name, "index without a name")
	}

	u := Primary
	if !primary {
		u = Unique
		if unique, err := jsonparser.GetBoolean(value, "unique"); err == nil && !unique {
			u = Duplicates
		}
	}
	desc, _ := jsonparser.GetBoolean(value, "desc")

	var parts []KeyPart
	var cbErr error
	_, err = jsonparser.ArrayEach(value, func(part []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if cbErr != nil {
			return
		}
		switch dataType {
		case jsonparser.String:
			parts = append(parts, Part(string(part)))
		case jsonparser.Object:
			column, err := jsonparser.GetString(part, "column")
			if err != nil {
				cbErr = schemaErrf(b.name, "index %q: part without a column", name)
				return
			}
			length, _ := jsonparser.GetInt(part, "length")
			parts = append(parts, KeyPart{Column: column, Length: int(length)})
		default:
			cbErr = schemaErrf(b.name, "index %q: part must be a string or object", name)
		}
	}, "parts")
	if err != nil {
		return schemaErrf(b.name, "index %q: parts: %v", name, err)
	}
	if cbErr != nil {
		return cbErr
	}

	if desc {
		b.DescendingIndex(name, u, parts...)
	} else {
		b.Index(name, u, parts...)
	}
	return nil
}

func kindFromString(s string) (Kind, bool) {
	switch s {
	case "char":
		return Char, true
	case "text":
		return Text, true
	case "int16":
		return Int16, true
	case "int32":
		return Int32, true
	case "int64":
		return Int64, true
	case "uint16":
		return Uint16, true
	case "uint32":
		return Uint32, true
	case "float32":
		return Float32, true
	case "float64":
		return Float64, true
	case "decimal":
		return Decimal, true
	case "date":
		return Date, true
	}
	return 0, false
}
