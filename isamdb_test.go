package isamdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindEngine(t *testing.T) {
	t.Run("default is pebble", func(t *testing.T) {
		eng, err := bindEngine("")
		require.NoError(t, err)
		require.Equal(t, "pebble", eng.Name())
	})

	t.Run("explicit families", func(t *testing.T) {
		eng, err := bindEngine("pebble")
		require.NoError(t, err)
		require.Equal(t, "pebble", eng.Name())

		eng, err = bindEngine("memory")
		require.NoError(t, err)
		require.Equal(t, "memory", eng.Name())
	})

	t.Run("unknown family", func(t *testing.T) {
		_, err := bindEngine("dbase")
		require.ErrorIs(t, err, ErrUnknownEngine)
	})
}
