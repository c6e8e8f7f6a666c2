package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndReadAtRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(dir, 1)
	require.NoError(t, err)
	defer h.Close()

	pos1, n1, err := h.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(0), pos1)
	require.Equal(t, 5, n1)

	pos2, n2, err := h.Write([]byte("world!"))
	require.NoError(t, err)
	require.Equal(t, int64(5), pos2)
	require.Equal(t, 6, n2)

	got, err := h.ReadAt(pos1, n1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got2, err := h.ReadAt(pos2, n2)
	require.NoError(t, err)
	require.Equal(t, "world!", string(got2))
}

func TestReopenPreservesWritePosition(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(dir, 7)
	require.NoError(t, err)

	_, _, err = h.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, h.Flush())
	require.NoError(t, h.Close())

	reopened, err := Open(dir, 7)
	require.NoError(t, err)
	defer reopened.Close()

	pos, n, err := reopened.Write([]byte("second"))
	require.NoError(t, err)
	require.Equal(t, int64(5), pos)

	full, err := reopened.ReadToEnd()
	require.NoError(t, err)
	require.Equal(t, "firstsecond", string(full))
	require.Equal(t, 6, n)
}

func TestFactoryEnumerateSortsAscending(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(dir)

	for _, gen := range []int64{3, 1, 2} {
		h, err := f.Create(gen)
		require.NoError(t, err)
		require.NoError(t, h.Close())
	}

	gens, err := f.Enumerate()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, gens)
}

func TestFactoryRemove(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(dir)

	h, err := f.Create(5)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, f.Remove(5))

	gens, err := f.Enumerate()
	require.NoError(t, err)
	require.Empty(t, gens)

	// Removing again is a no-op, not an error.
	require.NoError(t, f.Remove(5))
}

func TestCrc32OfFileChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(dir, 1)
	require.NoError(t, err)
	defer h.Close()

	before, err := h.Crc32OfFile()
	require.NoError(t, err)

	_, _, err = h.Write([]byte("payload"))
	require.NoError(t, err)

	after, err := h.Crc32OfFile()
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}
