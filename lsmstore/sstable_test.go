package lsmstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/intellect4all/kvcore/internal/record"
	"github.com/stretchr/testify/require"
)

func buildTestSSTable(t *testing.T, keys []string) *SSTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sst")

	b, err := NewBuilder(path, len(keys), 0.01, 4, false)
	require.NoError(t, err)

	for i, k := range keys {
		cmd := record.Set([]byte(k), []byte(fmt.Sprintf("value-%d", i)))
		require.NoError(t, b.Add([]byte(k), cmd))
	}
	require.NoError(t, b.Finish(1))

	sst, err := Open(path, 1, 1, nil, false)
	require.NoError(t, err)
	t.Cleanup(func() { sst.Close() })
	return sst
}

func TestSSTableRoundTripsEveryKey(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	sst := buildTestSSTable(t, keys)

	for i, k := range keys {
		cmd, ok, err := sst.Query([]byte(k), false)
		require.NoError(t, err)
		require.True(t, ok, "key %q should be found", k)
		require.Equal(t, fmt.Sprintf("value-%d", i), string(cmd.Value))
	}
}

func TestSSTableScopeIsMinMaxOfWrittenKeys(t *testing.T) {
	sst := buildTestSSTable(t, []string{"apple", "banana", "cherry"})

	require.Equal(t, "apple", string(sst.MinKey()))
	require.Equal(t, "cherry", string(sst.MaxKey()))
}

func TestSSTableBloomFilterContainsEveryWrittenKey(t *testing.T) {
	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	sst := buildTestSSTable(t, keys)

	for _, k := range keys {
		require.True(t, sst.filter.Test([]byte(k)), "bloom filter must not false-negative on %q", k)
	}
}

func TestSSTableQueryMissesOutsideScope(t *testing.T) {
	sst := buildTestSSTable(t, []string{"m", "n", "o"})

	_, ok, err := sst.Query([]byte("z"), false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSSTableAllEntriesPreservesSortedOrder(t *testing.T) {
	keys := []string{"a", "b", "c", "d"}
	sst := buildTestSSTable(t, keys)

	entries, err := sst.AllEntries(false)
	require.NoError(t, err)
	require.Len(t, entries, len(keys))
	for i, k := range keys {
		require.Equal(t, k, string(entries[i].Key))
	}
}
