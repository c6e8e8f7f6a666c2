package hashstore

import (
	"fmt"
	"sync"

	"github.com/intellect4all/kvcore/common"
	"github.com/intellect4all/kvcore/internal/segment"
)

// manifest is the HashStore's view of on-disk state: the sharded index,
// the current writable generation, per-generation segment handlers, and
// the running count of superseded bytes that drives compaction.
type manifest struct {
	mu sync.RWMutex

	index      *shardedIndex
	factory    *segment.Factory
	handlers   map[int64]*segment.Handler
	currentGen int64

	unCompacted int64 // bytes belonging to superseded records
}

func newManifest(factory *segment.Factory) *manifest {
	return &manifest{
		index:    newShardedIndex(),
		factory:  factory,
		handlers: make(map[int64]*segment.Handler),
	}
}

func (m *manifest) handlerFor(gen int64) (*segment.Handler, error) {
	m.mu.RLock()
	h, ok := m.handlers[gen]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("hashstore: %w (gen %d)", common.ErrFileNotFound, gen)
	}
	return h, nil
}

func (m *manifest) ensureHandler(gen int64) (*segment.Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handlers[gen]; ok {
		return h, nil
	}
	h, err := m.factory.Create(gen)
	if err != nil {
		return nil, err
	}
	m.handlers[gen] = h
	return h, nil
}

func (m *manifest) closeAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, h := range m.handlers {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
