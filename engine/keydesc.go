package engine

// Engine ceilings for composite keys.
const (
	MaxKeyParts  = 8
	MaxKeyLength = 120
)

// KeyType is the engine-level type code of one key part. The first five
// values follow the classic ISAM key-part enumeration; the rest are
// engine-local extensions.
type KeyType uint8

const (
	TypeText KeyType = iota
	TypeInt16
	TypeInt32
	TypeFloat64
	TypeFloat32
	TypeInt64
	TypeUint16
	TypeUint32
	TypeDecimal
	TypeDate
)

// A KeyPart locates the bytes of one column (or column prefix)
// contributing to a composite key.
type KeyPart struct {
	Offset int     `json:"offset"`
	Length int     `json:"length"`
	Type   KeyType `json:"type"`
}

// A KeyDescriptor is the compiled, engine-ready form of an index:
// uniqueness and order flags plus the (offset, length, type) triple of
// each key part, in declaration order.
type KeyDescriptor struct {
	// AllowDuplicates is false for primary and unique indexes.
	AllowDuplicates bool `json:"dups"`
	// Descending reverses the index order.
	Descending bool `json:"desc,omitempty"`
	// Parts are the key parts in declaration order.
	Parts []KeyPart `json:"parts"`
	// Length is the total key length in bytes.
	Length int `json:"length"`
}

// Equal reports whether two descriptors denote the same index: same
// duplicates flag, same order and the same part triples.
func (kd *KeyDescriptor) Equal(other *KeyDescriptor) bool {
	if kd.AllowDuplicates != other.AllowDuplicates || kd.Descending != other.Descending {
		return false
	}
	if len(kd.Parts) != len(other.Parts) {
		return false
	}
	for i := range kd.Parts {
		if kd.Parts[i] != other.Parts[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the descriptor.
func (kd *KeyDescriptor) Clone() *KeyDescriptor {
	cp := *kd
	cp.Parts = make([]KeyPart, len(kd.Parts))
	copy(cp.Parts, kd.Parts)
	return &cp
}

// KeyBytes extracts the comparable key image of a record buffer: the
// bytes of each part, transformed so that a bytewise comparison of two
// images matches the typed comparison of the underlying values. Signed
// integers get their sign bit flipped, floats use the usual IEEE order
// transform, text and unsigned parts are taken as is. A descending
// descriptor inverts the whole image.
func (kd *KeyDescriptor) KeyBytes(buf []byte) []byte {
	out := make([]byte, 0, kd.Length)
	for _, p := range kd.Parts {
		start := len(out)
		out = append(out, buf[p.Offset:p.Offset+p.Length]...)
		part := out[start:]

		switch p.Type {
		case TypeInt16, TypeInt32, TypeInt64, TypeDate:
			part[0] ^= 0x80
		case TypeFloat32, TypeFloat64:
			if part[0]&0x80 == 0 {
				part[0] ^= 0x80
			} else {
				for i := range part {
					part[i] = ^part[i]
				}
			}
		}
	}

	if kd.Descending {
		for i := range out {
			out[i] = ^out[i]
		}
	}
	return out
}
