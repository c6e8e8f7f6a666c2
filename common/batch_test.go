package common_test

import (
	"context"
	"testing"

	"github.com/intellect4all/kvcore/common"
	"github.com/intellect4all/kvcore/hashstore"
	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *hashstore.HashStore {
	t.Helper()
	cfg := hashstore.DefaultConfig(t.TempDir())
	cfg.SegmentSizeBytes = 64 * 1024
	cfg.CompactionThreshold = 1024
	s, err := hashstore.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBatchOrderAppliesSequentially(t *testing.T) {
	engine := openTestEngine(t)

	ops := []common.BatchOp{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("a"), Remove: true},
		{Key: []byte("b")}, // get
	}

	results, err := common.BatchOrder(engine, ops)
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.Equal(t, "2", string(results[3]))

	_, err = engine.Get([]byte("a"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestBatchParallelAppliesAllOps(t *testing.T) {
	engine := openTestEngine(t)

	ops := make([]common.BatchOp, 0, 100)
	for i := 0; i < 100; i++ {
		ops = append(ops, common.BatchOp{Key: []byte{byte(i)}, Value: []byte("v")})
	}

	_, err := common.BatchParallel(context.Background(), engine, ops)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		v, err := engine.Get([]byte{byte(i)})
		require.NoError(t, err)
		require.Equal(t, "v", string(v))
	}
}

func TestBatchParallelPropagatesError(t *testing.T) {
	engine := openTestEngine(t)

	ops := []common.BatchOp{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: nil, Value: []byte("bad")}, // empty key is rejected by Put
	}

	_, err := common.BatchParallel(context.Background(), engine, ops)
	require.Error(t, err)
}
