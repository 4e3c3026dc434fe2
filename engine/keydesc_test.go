package engine

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func int32Record(n int32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n))
	return buf
}

func float64Record(f float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	return buf
}

func TestKeyBytesOrder(t *testing.T) {
	t.Run("signed integers", func(t *testing.T) {
		kd := &KeyDescriptor{Parts: []KeyPart{{Offset: 0, Length: 4, Type: TypeInt32}}, Length: 4}

		values := []int32{math.MinInt32, -1000, -1, 0, 1, 42, math.MaxInt32}
		var prev []byte
		for _, v := range values {
			img := kd.KeyBytes(int32Record(v))
			if prev != nil {
				require.Negative(t, bytes.Compare(prev, img), "order broken at %d", v)
			}
			prev = img
		}
	})

	t.Run("floats", func(t *testing.T) {
		kd := &KeyDescriptor{Parts: []KeyPart{{Offset: 0, Length: 8, Type: TypeFloat64}}, Length: 8}

		values := []float64{-math.MaxFloat64, -1.5, -0.001, 0, 0.001, 1.5, math.MaxFloat64}
		var prev []byte
		for _, v := range values {
			img := kd.KeyBytes(float64Record(v))
			if prev != nil {
				require.Negative(t, bytes.Compare(prev, img), "order broken at %g", v)
			}
			prev = img
		}
	})

	t.Run("descending inverts", func(t *testing.T) {
		kd := &KeyDescriptor{
			Descending: true,
			Parts:      []KeyPart{{Offset: 0, Length: 4, Type: TypeInt32}},
			Length:     4,
		}

		small := kd.KeyBytes(int32Record(1))
		big := kd.KeyBytes(int32Record(1000))
		require.Positive(t, bytes.Compare(small, big))
	})

	t.Run("composite parts concatenate in order", func(t *testing.T) {
		kd := &KeyDescriptor{
			Parts: []KeyPart{
				{Offset: 4, Length: 2, Type: TypeText},
				{Offset: 0, Length: 4, Type: TypeInt32},
			},
			Length: 6,
		}

		buf := append(int32Record(7), 'a', 'b')
		img := kd.KeyBytes(buf)
		require.Len(t, img, 6)
		require.Equal(t, []byte("ab"), img[:2])
	})
}

func TestKeyDescriptorEqual(t *testing.T) {
	kd := &KeyDescriptor{
		AllowDuplicates: true,
		Parts:           []KeyPart{{Offset: 0, Length: 4, Type: TypeInt32}},
		Length:          4,
	}

	require.True(t, kd.Equal(kd.Clone()))

	other := kd.Clone()
	other.AllowDuplicates = false
	require.False(t, kd.Equal(other))

	other = kd.Clone()
	other.Parts[0].Length = 2
	require.False(t, kd.Equal(other))

	other = kd.Clone()
	other.Descending = true
	require.False(t, kd.Equal(other))
}

func TestKeyDescriptorClone(t *testing.T) {
	kd := &KeyDescriptor{Parts: []KeyPart{{Offset: 0, Length: 4, Type: TypeInt32}}, Length: 4}
	cp := kd.Clone()
	cp.Parts[0].Offset = 10
	require.Equal(t, 0, kd.Parts[0].Offset)
}
