package lsmstore

import (
	"testing"

	"github.com/intellect4all/kvcore/internal/record"
	"github.com/stretchr/testify/require"
)

func TestMemTablePutGetOrdering(t *testing.T) {
	m := newMemTable(1 << 20)

	m.Put([]byte("banana"), record.Set([]byte("banana"), []byte("2")), 2)
	m.Put([]byte("apple"), record.Set([]byte("apple"), []byte("1")), 1)
	m.Put([]byte("cherry"), record.Set([]byte("cherry"), []byte("3")), 3)

	entries := m.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "apple", string(entries[0].Key))
	require.Equal(t, "banana", string(entries[1].Key))
	require.Equal(t, "cherry", string(entries[2].Key))

	cmd, seq, ok := m.Get([]byte("banana"))
	require.True(t, ok)
	require.Equal(t, uint64(2), seq)
	require.Equal(t, "2", string(cmd.Value))

	_, _, ok = m.Get([]byte("missing"))
	require.False(t, ok)
}

func TestMemTablePutReplacesExistingKey(t *testing.T) {
	m := newMemTable(1 << 20)
	m.Put([]byte("a"), record.Set([]byte("a"), []byte("1")), 1)
	m.Put([]byte("a"), record.Set([]byte("a"), []byte("22")), 2)

	require.Equal(t, 1, m.Len())
	cmd, seq, ok := m.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, uint64(2), seq)
	require.Equal(t, "22", string(cmd.Value))
}

func TestMemTableIsFull(t *testing.T) {
	m := newMemTable(10)
	require.False(t, m.IsFull())
	m.Put([]byte("key"), record.Set([]byte("key"), []byte("0123456789")), 1)
	require.True(t, m.IsFull())
}

func TestMemTablePairSwapFreezesActive(t *testing.T) {
	p := newMemTablePair(1 << 20)
	p.Put([]byte("a"), record.Set([]byte("a"), []byte("1")), 1)

	require.False(t, p.HasImmutable())
	entries := p.Swap()
	require.Len(t, entries, 1)
	require.True(t, p.HasImmutable())

	// Swap again before clearing is a no-op.
	require.Nil(t, p.Swap())

	cmd, _, ok := p.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, "1", string(cmd.Value))

	p.ClearImmutable()
	require.False(t, p.HasImmutable())
}
