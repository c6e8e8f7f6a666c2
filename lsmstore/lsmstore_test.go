package lsmstore

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/intellect4all/kvcore/common"
	"github.com/stretchr/testify/require"
)

const (
	fiveSeconds = 5 * time.Second
	tenMillis   = 10 * time.Millisecond
)

func testConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.MemThreshold = 2048
	cfg.SstFileSize = 4096
	cfg.MaxL0Files = 3
	return cfg
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	require.NoError(t, s.Delete([]byte("a")))
	_, err = s.Get([]byte("a"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)

	_, err = s.Get([]byte("missing"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestOpenRejectsNegativeBlockCacheSize(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.BlockCacheSize = -1

	_, err := Open(cfg)
	require.ErrorIs(t, err, common.ErrCacheSizeOverflow)
}

func TestOpenDefaultsZeroBlockCacheSize(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.BlockCacheSize = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, 256, s.cfg.BlockCacheSize)
}

func TestDeleteAbsentKeyReturnsKeyNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	err = s.Delete([]byte("missing"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestMinorCompactionFlushesToL0(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%04d", i)
		require.NoError(t, s.Put([]byte(key), []byte("0123456789")))
	}

	require.Eventually(t, func() bool {
		return s.levels.NumFiles(0) > 0
	}, fiveSeconds, tenMillis)

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%04d", i)
		v, err := s.Get([]byte(key))
		require.NoError(t, err)
		require.Equal(t, "0123456789", string(v))
	}
}

func TestMajorCompactionPromotesToL1(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	for round := 0; round < 6; round++ {
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("round-%d-key-%04d", round, i)
			require.NoError(t, s.Put([]byte(key), []byte("value-value-value")))
		}
	}

	require.Eventually(t, func() bool {
		return s.levels.NumFiles(1) > 0
	}, fiveSeconds, tenMillis)

	v, err := s.Get([]byte("round-0-key-0000"))
	require.NoError(t, err)
	require.Equal(t, "value-value-value", string(v))
}

// TestLevel1ScopesNeverOverlap drives enough major compactions to produce
// multiple L1 SSTables and checks that no two of their key scopes
// intersect, the non-overlap guarantee every level above L0 relies on
// for FindScope to return an unambiguous file.
func TestLevel1ScopesNeverOverlap(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	for round := 0; round < 10; round++ {
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("round-%02d-key-%04d", round, i)
			require.NoError(t, s.Put([]byte(key), []byte("value-value-value")))
		}
	}

	require.Eventually(t, func() bool {
		return s.levels.NumFiles(1) >= 2
	}, fiveSeconds, tenMillis)

	tables := s.levels.All(1)
	require.GreaterOrEqual(t, len(tables), 2)
	for i := range tables {
		for j := i + 1; j < len(tables); j++ {
			require.False(t, tables[i].Overlaps(tables[j].Scope()),
				"L1 sstables %d and %d have overlapping scopes", i, j)
		}
	}
}

func TestRecoveryReplaysWALAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MemThreshold = 64 * 1024 * 1024 // large enough that nothing flushes

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, s.Put([]byte("k2"), []byte("v2")))
	require.NoError(t, s.Delete([]byte("k1")))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Get([]byte("k1"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)

	v, err := reopened.Get([]byte("k2"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func TestOpenRejectsCorruptedSSTable(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	s, err := Open(cfg)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%04d", i)
		require.NoError(t, s.Put([]byte(key), []byte("0123456789")))
	}
	require.Eventually(t, func() bool {
		return s.levels.NumFiles(0) > 0
	}, fiveSeconds, tenMillis)
	require.NoError(t, s.Close())

	sstPath := firstSSTablePath(t, dir)
	corruptByteInFile(t, sstPath, 0)

	_, err = Open(cfg)
	require.ErrorIs(t, err, common.ErrCrcMismatch)
}

func firstSSTablePath(t *testing.T, dir string) string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if len(e.Name()) > 4 && e.Name()[len(e.Name())-4:] == ".sst" {
			return dir + "/" + e.Name()
		}
	}
	t.Fatal("no sstable file found")
	return ""
}

func corruptByteInFile(t *testing.T, path string, offset int64) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	b := make([]byte, 1)
	_, err = f.ReadAt(b, offset)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, offset)
	require.NoError(t, err)
}
