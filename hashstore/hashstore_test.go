package hashstore

import (
	"fmt"
	"testing"

	"github.com/intellect4all/kvcore/common"
	"github.com/intellect4all/kvcore/internal/record"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.SegmentSizeBytes = 64 * 1024
	cfg.CompactionThreshold = 1024
	return cfg
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	hs, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer hs.Close()

	require.NoError(t, hs.Put([]byte("a"), []byte("1")))
	v, err := hs.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	require.NoError(t, hs.Put([]byte("a"), []byte("2")))
	v, err = hs.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	require.NoError(t, hs.Delete([]byte("a")))
	_, err = hs.Get([]byte("a"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)

	err = hs.Delete([]byte("missing"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestPutRejectsEmptyKey(t *testing.T) {
	dir := t.TempDir()
	hs, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer hs.Close()

	err = hs.Put(nil, []byte("v"))
	require.ErrorIs(t, err, common.ErrKeyEmpty)
}

func TestRecoveryReplaysSegmentsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	hs, err := Open(cfg)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		require.NoError(t, hs.Put([]byte(key), []byte("value")))
	}
	require.NoError(t, hs.Delete([]byte("key-0")))
	require.NoError(t, hs.Sync())
	require.NoError(t, hs.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Get([]byte("key-0"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)

	v, err := reopened.Get([]byte("key-49"))
	require.NoError(t, err)
	require.Equal(t, "value", string(v))

	require.Equal(t, int64(49), reopened.Len())
}

// TestCompactionReclaimsSpaceAndPreservesLatestValues is the rendering of
// the HashStore compaction-trigger scenario: many overwrites of the same
// keys should still resolve to their latest value after compaction runs,
// and disk usage should not grow unbounded with the overwrite count.
func TestCompactionReclaimsSpaceAndPreservesLatestValues(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.CompactionThreshold = 1024

	hs, err := Open(cfg)
	require.NoError(t, err)
	defer hs.Close()

	keys := make([]string, 100)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		require.NoError(t, hs.Put([]byte(keys[i]), []byte("0123456789")))
	}
	for _, k := range keys {
		require.NoError(t, hs.Put([]byte(k), []byte("x")))
	}

	for _, k := range keys {
		v, err := hs.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, "x", string(v))
	}

	require.NoError(t, hs.compactLocked())
	for _, k := range keys {
		v, err := hs.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, "x", string(v))
	}

	// After a full pass only the latest record of each key is on disk.
	var liveBytes int64
	for _, k := range keys {
		payload, err := record.Encode(record.Set([]byte(k), []byte("x")))
		require.NoError(t, err)
		liveBytes += int64(len(record.Frame(payload)))
	}
	hs.compactMu.Lock()
	size, err := hs.SizeOfDisk()
	hs.compactMu.Unlock()
	require.NoError(t, err)
	require.Equal(t, liveBytes, size)
}

func TestKeysFromIndexAndGetCommand(t *testing.T) {
	dir := t.TempDir()
	hs, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer hs.Close()

	require.NoError(t, hs.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, hs.Put([]byte("k2"), []byte("v2")))

	keys := hs.KeysFromIndex()
	require.Len(t, keys, 2)

	cmd, ok, err := hs.GetCommand([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(cmd.Value))

	_, ok, err = hs.GetCommand([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

// TestGetReflectsLastSetNotFollowedByRemove checks that after any random
// sequence of set/remove operations on a single key, get resolves to
// the value of the last set not followed by a remove.
func TestGetReflectsLastSetNotFollowedByRemove(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("get reflects the last set not followed by a remove", prop.ForAll(
		func(steps []string) bool {
			dir := t.TempDir()
			hs, err := Open(testConfig(dir))
			if err != nil {
				return false
			}
			defer hs.Close()

			key := []byte("k")
			var want string
			present := false

			for _, step := range steps {
				if step == "" {
					err := hs.Delete(key)
					if present && err != nil {
						return false
					}
					if !present && err != common.ErrKeyNotFound {
						return false
					}
					present = false
					continue
				}
				if err := hs.Put(key, []byte(step)); err != nil {
					return false
				}
				want = step
				present = true
			}

			v, err := hs.Get(key)
			if !present {
				return err == common.ErrKeyNotFound
			}
			return err == nil && string(v) == want
		},
		gen.SliceOfN(12, gen.OneConstOf("", "a", "b", "c")),
	))

	properties.TestingRun(t)
}

// TestCompactionRewritesEveryLiveEntryToCompactGen checks that after
// compaction over an arbitrary sequence of puts/deletes across several
// keys (forcing multiple generation rotations), every surviving index
// entry's generation is the compaction's destination generation — never
// a stale pre-compaction one.
func TestCompactionRewritesEveryLiveEntryToCompactGen(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("compaction rewrites every live entry to its destination generation", prop.ForAll(
		func(steps []string) bool {
			dir := t.TempDir()
			cfg := testConfig(dir)
			cfg.SegmentSizeBytes = 256 // rotate frequently so several generations accumulate
			hs, err := Open(cfg)
			if err != nil {
				return false
			}
			defer hs.Close()

			for _, step := range steps {
				key := []byte(step[1:2])
				if step[0] == 'd' {
					hs.Delete(key) // ErrKeyNotFound on an already-absent key is expected
					continue
				}
				if err := hs.Put(key, []byte("value-value-value")); err != nil {
					return false
				}
			}

			if err := hs.compactLocked(); err != nil {
				return false
			}

			// Keep a background pass from moving the generations while they are checked.
			hs.compactMu.Lock()
			defer hs.compactMu.Unlock()

			hs.manifest.mu.RLock()
			compactGen := hs.manifest.currentGen - 1
			hs.manifest.mu.RUnlock()

			for _, e := range hs.manifest.index.Snapshot() {
				if e.entry.gen != compactGen {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.OneConstOf("p0", "p1", "p2", "d0", "d1", "d2")),
	))

	properties.TestingRun(t)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	dir := t.TempDir()
	hs, err := Open(testConfig(dir))
	require.NoError(t, err)

	require.NoError(t, hs.Put([]byte("a"), []byte("1")))
	require.NoError(t, hs.Close())

	err = hs.Put([]byte("a"), []byte("2"))
	require.ErrorIs(t, err, common.ErrClosed)

	_, err = hs.Get([]byte("a"))
	require.ErrorIs(t, err, common.ErrClosed)

	// Closing twice is a no-op.
	require.NoError(t, hs.Close())
}
