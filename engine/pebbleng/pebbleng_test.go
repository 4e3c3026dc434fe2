package pebbleng

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isamdb/isamdb/engine"
)

func rec(id int32, code string) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf, uint32(id))
	copy(buf[4:], "    ")
	copy(buf[4:], code)
	return buf
}

func idKey() *engine.KeyDescriptor {
	return &engine.KeyDescriptor{
		Parts:  []engine.KeyPart{{Offset: 0, Length: 4, Type: engine.TypeInt32}},
		Length: 4,
	}
}

func idImage(id int32) []byte {
	return idKey().KeyBytes(rec(id, ""))
}

func TestPersistence(t *testing.T) {
	eng := New(Options{})
	require.Equal(t, "pebble", eng.Name())
	path := filepath.Join(t.TempDir(), "stock")

	h, err := eng.Build(path, 8, idKey())
	require.NoError(t, err)
	require.NoError(t, h.Write(rec(1, "aaaa")))
	require.NoError(t, h.Write(rec(2, "bbbb")))
	require.NoError(t, h.Close())

	h, err = eng.Open(path, engine.ReadWrite, engine.LockNone)
	require.NoError(t, err)
	defer h.Close()

	buf, err := h.Read(idKey(), engine.Equal, idImage(2))
	require.NoError(t, err)
	require.Equal(t, rec(2, "bbbb"), buf)

	info, err := h.Info()
	require.NoError(t, err)
	require.EqualValues(t, 2, info.Records)
	require.Equal(t, 8, info.RecordLength)
}

func TestSharedOpen(t *testing.T) {
	eng := New(Options{})
	path := filepath.Join(t.TempDir(), "stock")

	h, err := eng.Build(path, 8, idKey())
	require.NoError(t, err)
	require.NoError(t, h.Close())

	// Two handles share the same pebble database.
	a, err := eng.Open(path, engine.ReadWrite, engine.LockNone)
	require.NoError(t, err)
	b, err := eng.Open(path, engine.ReadOnly, engine.LockNone)
	require.NoError(t, err)

	require.NoError(t, a.Write(rec(7, "gggg")))
	buf, err := b.Read(idKey(), engine.Equal, idImage(7))
	require.NoError(t, err)
	require.Equal(t, rec(7, "gggg"), buf)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestWalkBackward(t *testing.T) {
	eng := New(Options{})
	path := filepath.Join(t.TempDir(), "stock")

	h, err := eng.Build(path, 8, idKey())
	require.NoError(t, err)
	defer h.Close()

	for _, id := range []int32{1, 3, 5} {
		require.NoError(t, h.Write(rec(id, "xxxx")))
	}

	buf, err := h.Read(idKey(), engine.Last, nil)
	require.NoError(t, err)
	require.Equal(t, rec(5, "xxxx"), buf)

	buf, err = h.Read(nil, engine.Previous, nil)
	require.NoError(t, err)
	require.Equal(t, rec(3, "xxxx"), buf)

	buf, err = h.Read(nil, engine.Previous, nil)
	require.NoError(t, err)
	require.Equal(t, rec(1, "xxxx"), buf)

	_, err = h.Read(nil, engine.Previous, nil)
	require.ErrorIs(t, err, engine.ErrNoRecord)
}

func TestErase(t *testing.T) {
	eng := New(Options{})
	path := filepath.Join(t.TempDir(), "stock")

	h, err := eng.Build(path, 8, idKey())
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, eng.Erase(path))
	_, err = eng.Open(path, engine.ReadOnly, engine.LockNone)
	require.ErrorIs(t, err, engine.ErrNotOpen)
}

func TestOpenMissing(t *testing.T) {
	eng := New(Options{})
	_, err := eng.Open(filepath.Join(t.TempDir(), "nowhere"), engine.ReadOnly, engine.LockNone)
	require.ErrorIs(t, err, engine.ErrNotOpen)

	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	require.Less(t, engErr.Code, engine.CodeBase)
}

func TestErrorLookupFullRange(t *testing.T) {
	eng := New(Options{})
	require.Equal(t, "Duplicate record", eng.ErrorLookup(engine.EDUPL))
	require.Equal(t, "Can't allocate memory", eng.ErrorLookup(engine.EBADMEM))
	require.Equal(t, "No transaction", eng.ErrorLookup(engine.ENOTRANS))
}
