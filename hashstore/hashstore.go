// Package hashstore implements the Bitcask-style storage core: an
// in-memory hash index maps each key to the (gen,pos,len) of its most
// recent command record on an append-only segment log, and periodic
// compaction reclaims superseded records.
package hashstore

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/intellect4all/kvcore/common"
	"github.com/intellect4all/kvcore/internal/record"
	"github.com/intellect4all/kvcore/internal/segment"
	"github.com/sirupsen/logrus"
)

// Config controls a HashStore's segment sizing and compaction trigger.
type Config struct {
	DataDir string

	// SegmentSizeBytes rotates to a new generation once the active
	// segment reaches this size.
	SegmentSizeBytes int64

	// CompactionThreshold is the un-compacted-bytes trigger; default
	// 64 MiB.
	CompactionThreshold int64

	SyncOnWrite bool

	// Logger receives compaction/recovery diagnostics. A nil Logger
	// falls back to a discard-output logrus instance.
	Logger logrus.FieldLogger
}

// DefaultConfig returns sane defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:             dataDir,
		SegmentSizeBytes:    4 * 1024 * 1024,
		CompactionThreshold: 64 * 1024 * 1024,
		SyncOnWrite:         false,
	}
}

// HashStore is the Bitcask-style storage engine: append-only segment
// logs with a sharded in-memory hash index.
type HashStore struct {
	cfg     Config
	logger  logrus.FieldLogger
	factory *segment.Factory

	manifest *manifest

	compactMu   sync.Mutex // serialises compaction passes
	compactChan chan struct{}
	stopChan    chan struct{}
	workerWg    sync.WaitGroup

	closed atomic.Bool

	stats struct {
		writeCount   atomic.Int64
		readCount    atomic.Int64
		compactCount atomic.Int64
	}
}

var _ common.StorageEngine = (*HashStore)(nil)

// Open prepares the data directory, enumerates existing generations,
// replays each into the index, picks the current writable generation,
// and runs one initial compaction pass before starting the background
// compaction worker.
func Open(cfg Config) (*HashStore, error) {
	if cfg.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		discard.SetLevel(logrus.PanicLevel)
		cfg.Logger = discard
	}
	if cfg.SegmentSizeBytes <= 0 {
		cfg.SegmentSizeBytes = 4 * 1024 * 1024
	}
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = 64 * 1024 * 1024
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("hashstore: mkdir %s: %w", cfg.DataDir, err)
	}

	factory := segment.NewFactory(cfg.DataDir)

	hs := &HashStore{
		cfg:         cfg,
		logger:      cfg.Logger,
		factory:     factory,
		manifest:    newManifest(factory),
		compactChan: make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}

	if err := hs.recover(); err != nil {
		return nil, fmt.Errorf("hashstore: recovery: %w", err)
	}

	if _, err := hs.manifest.ensureHandler(hs.manifest.currentGen); err != nil {
		return nil, err
	}

	if err := hs.compactLocked(); err != nil {
		return nil, fmt.Errorf("hashstore: initial compaction: %w", err)
	}

	hs.workerWg.Add(1)
	go hs.compactionWorker()

	return hs, nil
}

// Put implements common.StorageEngine.Put.
func (hs *HashStore) Put(key, value []byte) error {
	if len(key) == 0 {
		return common.ErrKeyEmpty
	}
	if hs.closed.Load() {
		return common.ErrClosed
	}
	return hs.apply(record.Set(key, value))
}

// Delete implements common.StorageEngine.Delete.
func (hs *HashStore) Delete(key []byte) error {
	if hs.closed.Load() {
		return common.ErrClosed
	}
	if _, exists := hs.manifest.index.Get(string(key)); !exists {
		return common.ErrKeyNotFound
	}
	return hs.apply(record.Remove(key))
}

// apply writes a command to the current generation, updates the index,
// and accounts the previous entry's bytes into un_compacted.
func (hs *HashStore) apply(cmd record.Command) error {
	// The read lock is held through the append and the index update, so a
	// compaction pass cannot delete this generation in between.
	hs.manifest.mu.RLock()
	gen := hs.manifest.currentGen
	handler := hs.manifest.handlers[gen]

	pos, length, err := record.Write(handler, cmd)
	if err != nil {
		hs.manifest.mu.RUnlock()
		return err
	}
	if hs.cfg.SyncOnWrite {
		if err := handler.Flush(); err != nil {
			hs.manifest.mu.RUnlock()
			return err
		}
	}

	hs.stats.writeCount.Add(1)

	if cmd.Kind == record.KindRemove {
		old, existed := hs.manifest.index.Delete(string(cmd.Key))
		if existed {
			atomic.AddInt64(&hs.manifest.unCompacted, int64(old.len)+int64(length)+1)
		}
	} else {
		old, existed := hs.manifest.index.Put(string(cmd.Key), indexEntry{gen: gen, pos: pos, len: int32(length)})
		if existed {
			atomic.AddInt64(&hs.manifest.unCompacted, int64(old.len)+1)
		}
	}
	hs.manifest.mu.RUnlock()

	if err := hs.maybeRotate(gen); err != nil {
		return err
	}

	if atomic.LoadInt64(&hs.manifest.unCompacted) > hs.cfg.CompactionThreshold {
		select {
		case hs.compactChan <- struct{}{}:
		default:
		}
	}

	return nil
}

func (hs *HashStore) maybeRotate(gen int64) error {
	hs.manifest.mu.RLock()
	handler, ok := hs.manifest.handlers[gen]
	hs.manifest.mu.RUnlock()
	if !ok {
		return nil // a compaction pass already replaced this generation
	}

	size, err := handler.FileSize()
	if err != nil {
		return err
	}
	if size < hs.cfg.SegmentSizeBytes {
		return nil
	}

	hs.manifest.mu.Lock()
	defer hs.manifest.mu.Unlock()
	if hs.manifest.currentGen != gen {
		return nil // another goroutine already rotated
	}
	next := gen + 1
	h, err := hs.manifest.factory.Create(next)
	if err != nil {
		return err
	}
	hs.manifest.handlers[next] = h
	hs.manifest.currentGen = next
	return nil
}

// Get implements common.StorageEngine.Get.
func (hs *HashStore) Get(key []byte) ([]byte, error) {
	if hs.closed.Load() {
		return nil, common.ErrClosed
	}
	cmd, ok, err := hs.GetCommand(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrKeyNotFound
	}
	hs.stats.readCount.Add(1)
	return cmd.Value, nil
}

// GetCommand resolves the raw command stored at key's indexed position,
// giving batch surfaces access to the full record rather than just the
// value.
func (hs *HashStore) GetCommand(key []byte) (record.Command, bool, error) {
	hs.manifest.mu.RLock()
	defer hs.manifest.mu.RUnlock()

	entry, exists := hs.manifest.index.Get(string(key))
	if !exists {
		return record.Command{}, false, nil
	}

	handler, ok := hs.manifest.handlers[entry.gen]
	if !ok {
		return record.Command{}, false, fmt.Errorf("hashstore: %w (gen %d)", common.ErrFileNotFound, entry.gen)
	}

	cmd, ok, err := record.ReadAt(handler, entry.pos, int(entry.len))
	if err != nil {
		return record.Command{}, false, err
	}
	if !ok {
		return record.Command{}, false, common.ErrUnexpectedCommandType
	}
	if cmd.Kind != record.KindSet {
		return record.Command{}, false, common.ErrUnexpectedCommandType
	}
	return cmd, true, nil
}

// KeysFromIndex returns every live key currently tracked by the index.
func (hs *HashStore) KeysFromIndex() [][]byte {
	snapshot := hs.manifest.index.Snapshot()
	keys := make([][]byte, len(snapshot))
	for i, e := range snapshot {
		keys[i] = []byte(e.key)
	}
	return keys
}

// Len returns the number of live keys.
func (hs *HashStore) Len() int64 { return hs.manifest.index.Count() }

// IsEmpty reports whether the store has no live keys.
func (hs *HashStore) IsEmpty() bool { return hs.Len() == 0 }

// Sync flushes the current generation's handler to durable storage.
func (hs *HashStore) Sync() error {
	if hs.closed.Load() {
		return common.ErrClosed
	}
	hs.manifest.mu.RLock()
	handler := hs.manifest.handlers[hs.manifest.currentGen]
	hs.manifest.mu.RUnlock()
	return handler.Flush()
}

// Flush is an alias for Sync.
func (hs *HashStore) Flush() error { return hs.Sync() }

// Close stops the compaction worker and closes every segment handler.
func (hs *HashStore) Close() error {
	if hs.closed.Swap(true) {
		return nil
	}
	close(hs.stopChan)
	hs.workerWg.Wait()
	return hs.manifest.closeAll()
}

// SizeOfDisk returns the total size, in bytes, of every segment file the
// manifest currently tracks.
func (hs *HashStore) SizeOfDisk() (int64, error) {
	hs.manifest.mu.RLock()
	handlers := make([]*segment.Handler, 0, len(hs.manifest.handlers))
	for _, h := range hs.manifest.handlers {
		handlers = append(handlers, h)
	}
	hs.manifest.mu.RUnlock()

	var total int64
	for _, h := range handlers {
		size, err := h.FileSize()
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// Stats implements common.StorageEngine.Stats.
func (hs *HashStore) Stats() common.Stats {
	diskSize, _ := hs.SizeOfDisk()

	hs.manifest.mu.RLock()
	numSegments := len(hs.manifest.handlers)
	activeHandler := hs.manifest.handlers[hs.manifest.currentGen]
	hs.manifest.mu.RUnlock()

	activeSize, _ := activeHandler.FileSize()

	return common.Stats{
		NumKeys:       hs.manifest.index.Count(),
		NumSegments:   numSegments,
		ActiveSegSize: activeSize,
		TotalDiskSize: diskSize,
		WriteCount:    hs.stats.writeCount.Load(),
		ReadCount:     hs.stats.readCount.Load(),
		CompactCount:  hs.stats.compactCount.Load(),
	}
}

// Compact requests an out-of-band compaction pass.
func (hs *HashStore) Compact() error {
	if hs.closed.Load() {
		return common.ErrClosed
	}
	select {
	case hs.compactChan <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("hashstore: compaction already pending")
	}
}

func (hs *HashStore) compactionWorker() {
	defer hs.workerWg.Done()
	for {
		select {
		case <-hs.stopChan:
			return
		case <-hs.compactChan:
			if err := hs.compactLocked(); err != nil {
				hs.logger.WithError(err).Warn("hashstore: compaction pass failed")
			}
		}
	}
}
