package common

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchOp is one operation in a batch: a Set (Value non-nil), a Remove
// (Value nil, Remove true), or a Get (Remove false, Value nil).
type BatchOp struct {
	Key    []byte
	Value  []byte
	Remove bool
}

// BatchOrder applies ops to engine sequentially in order, collecting
// each op's result: the written/read value for Set/Get, nil for Remove.
// A failing op aborts the batch and returns its error.
func BatchOrder(engine StorageEngine, ops []BatchOp) ([][]byte, error) {
	results := make([][]byte, len(ops))
	for i, op := range ops {
		v, err := applyOp(engine, op)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

// BatchParallel applies ops concurrently, bounded by GOMAXPROCS workers,
// and returns their results in the same order as ops. After the first
// error, operations that have not started yet are skipped; operations
// already running finish, and none are rolled back. The first error is
// returned.
func BatchParallel(ctx context.Context, engine StorageEngine, ops []BatchOp) ([][]byte, error) {
	results := make([][]byte, len(ops))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := applyOp(engine, op)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func applyOp(engine StorageEngine, op BatchOp) ([]byte, error) {
	switch {
	case op.Remove:
		return nil, engine.Delete(op.Key)
	case op.Value != nil:
		return op.Value, engine.Put(op.Key, op.Value)
	default:
		return engine.Get(op.Key)
	}
}
