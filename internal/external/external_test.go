package external

import (
	"fmt"
	"testing"

	"github.com/intellect4all/kvcore/common"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	require.NoError(t, s.Delete([]byte("a")))
	_, err = s.Get([]byte("a"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestDeleteAbsentKeyReturnsKeyNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	err = s.Delete([]byte("missing"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestPutRejectsEmptyKey(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	err = s.Put(nil, []byte("v"))
	require.ErrorIs(t, err, common.ErrKeyEmpty)
}

func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	s, err := Open(cfg)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%02d", i)
		require.NoError(t, s.Put([]byte(key), []byte("value")))
	}
	require.NoError(t, s.Delete([]byte("key-00")))
	require.NoError(t, s.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Get([]byte("key-00"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)

	v, err := reopened.Get([]byte("key-49"))
	require.NoError(t, err)
	require.Equal(t, "value", string(v))
}

func TestCompactReclaimsSpace(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%04d", i)
		require.NoError(t, s.Put([]byte(key), make([]byte, 1024)))
	}
	for i := 0; i < 150; i++ {
		key := fmt.Sprintf("key-%04d", i)
		require.NoError(t, s.Delete([]byte(key)))
	}

	sizeBefore, err := s.SizeOfDisk()
	require.NoError(t, err)

	require.NoError(t, s.Compact())

	sizeAfter, err := s.SizeOfDisk()
	require.NoError(t, err)
	require.LessOrEqual(t, sizeAfter, sizeBefore)

	for i := 150; i < 200; i++ {
		key := fmt.Sprintf("key-%04d", i)
		v, err := s.Get([]byte(key))
		require.NoError(t, err)
		require.Len(t, v, 1024)
	}
}

func TestLenAndIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.IsEmpty())
	require.Equal(t, int64(0), s.Len())

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))
	require.Equal(t, int64(2), s.Len())
	require.False(t, s.IsEmpty())

	require.NoError(t, s.Delete([]byte("a")))
	require.Equal(t, int64(1), s.Len())
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))

	stats := s.Stats()
	require.Equal(t, int64(2), stats.NumKeys)
	require.Equal(t, int64(2), stats.WriteCount)
}
