// Package lsmstore implements the leveled LSM-tree storage core: a
// two-slot memtable pair, a write-ahead log for crash recovery, and
// SSTables organized across levels 0..6 with minor and major
// compaction.
package lsmstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/intellect4all/kvcore/common"
	"github.com/intellect4all/kvcore/internal/record"
	"github.com/sirupsen/logrus"
)

// Config controls memtable sizing, SSTable shape, and compaction
// triggers.
type Config struct {
	DataDir string

	MemThreshold int // active memtable bytes before minor compaction
	SstFileSize  int // target bytes per SSTable shard
	MaxL0Files   int // L0 file count before major compaction

	IndexInterval      int     // sparse index sampling interval
	BloomFPRate        float64 // target bloom filter false-positive rate
	CompressionEnabled bool    // snappy-compress SSTable data blocks
	BlockCacheSize     int     // number of cached (gen,pos) block slices

	Logger logrus.FieldLogger
}

// DefaultConfig returns sane defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		MemThreshold:       4 * 1024 * 1024,
		SstFileSize:        4 * 1024 * 1024,
		MaxL0Files:         4,
		IndexInterval:      4,
		BloomFPRate:        0.01,
		CompressionEnabled: false,
		BlockCacheSize:     256,
	}
}

// LSMStore is the leveled LSM-tree storage engine: memtables, a
// write-ahead log, and SSTables organized across levels.
type LSMStore struct {
	cfg    Config
	logger logrus.FieldLogger

	memtables *memTablePair
	wal       *wal
	levels    *levelManager
	cache     *blockCache

	sequence  atomic.Uint64
	nextGen   atomic.Int64
	compactMu sync.Mutex // serialises major-compaction rounds per level

	flushChan      chan struct{}
	compactionChan chan struct{}
	stopChan       chan struct{}
	wg             sync.WaitGroup

	closed atomic.Bool

	stats struct {
		writeCount   atomic.Int64
		readCount    atomic.Int64
		flushCount   atomic.Int64
		compactCount atomic.Int64
	}
}

var _ common.StorageEngine = (*LSMStore)(nil)

func sstPath(dataDir string, level int, gen int64) string {
	return filepath.Join(dataDir, fmt.Sprintf("L%d-%06d.sst", level, gen))
}

// Open ensures the data directory exists, loads every on-disk SSTable
// into the level manager, then replays the WAL to reconstruct the
// active memtable.
func Open(cfg Config) (*LSMStore, error) {
	if cfg.BlockCacheSize < 0 {
		return nil, common.ErrCacheSizeOverflow
	}
	if cfg.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		discard.SetLevel(logrus.PanicLevel)
		cfg.Logger = discard
	}
	if cfg.MemThreshold <= 0 {
		cfg.MemThreshold = 4 * 1024 * 1024
	}
	if cfg.SstFileSize <= 0 {
		cfg.SstFileSize = 4 * 1024 * 1024
	}
	if cfg.MaxL0Files <= 0 {
		cfg.MaxL0Files = 4
	}
	if cfg.IndexInterval <= 0 {
		cfg.IndexInterval = 4
	}
	if cfg.BloomFPRate <= 0 {
		cfg.BloomFPRate = 0.01
	}
	if cfg.BlockCacheSize <= 0 {
		cfg.BlockCacheSize = 256
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lsmstore: mkdir %s: %w", cfg.DataDir, err)
	}

	s := &LSMStore{
		cfg:            cfg,
		logger:         cfg.Logger,
		memtables:      newMemTablePair(cfg.MemThreshold),
		levels:         newLevelManager(),
		cache:          newBlockCache(cfg.BlockCacheSize),
		flushChan:      make(chan struct{}, 1),
		compactionChan: make(chan struct{}, 1),
		stopChan:       make(chan struct{}),
	}

	if err := s.loadSSTables(); err != nil {
		return nil, fmt.Errorf("lsmstore: load sstables: %w", err)
	}

	walPath := filepath.Join(cfg.DataDir, "wal.log")
	w, err := openWAL(walPath)
	if err != nil {
		return nil, err
	}
	s.wal = w

	if err := s.recoverFromWAL(); err != nil {
		return nil, fmt.Errorf("lsmstore: %w: %v", common.ErrWalLoadError, err)
	}

	s.wg.Add(2)
	go s.flushWorker()
	go s.compactionWorker()

	return s, nil
}

func (s *LSMStore) loadSSTables() error {
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		return err
	}

	var maxGen int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var level int
		var gen int64
		if _, err := fmt.Sscanf(e.Name(), "L%d-%06d.sst", &level, &gen); err != nil {
			continue
		}
		sst, err := Open(sstPath(s.cfg.DataDir, level, gen), level, gen, s.cache, s.cfg.CompressionEnabled)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		s.levels.Add(sst)
		if gen > maxGen {
			maxGen = gen
		}
	}
	s.nextGen.Store(maxGen + 1)
	return nil
}

func (s *LSMStore) recoverFromWAL() error {
	entries, err := s.wal.ReadAll()
	if err != nil {
		return err
	}

	var maxSeq uint64
	for _, e := range entries {
		s.memtables.Put(e.Cmd.Key, e.Cmd, e.Seq)
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	s.sequence.Store(maxSeq)
	return nil
}

// Put implements common.StorageEngine.Put.
func (s *LSMStore) Put(key, value []byte) error {
	if len(key) == 0 {
		return common.ErrKeyEmpty
	}
	if s.closed.Load() {
		return common.ErrClosed
	}
	return s.apply(record.Set(key, value))
}

// Delete implements common.StorageEngine.Delete.
func (s *LSMStore) Delete(key []byte) error {
	if s.closed.Load() {
		return common.ErrClosed
	}
	if _, err := s.Get(key); err != nil {
		return err
	}
	return s.apply(record.Remove(key))
}

func (s *LSMStore) apply(cmd record.Command) error {
	seq := s.sequence.Add(1)

	if err := s.wal.Append(seq, cmd); err != nil {
		return err
	}

	s.memtables.Put(cmd.Key, cmd, seq)
	s.stats.writeCount.Add(1)

	if s.memtables.ActiveIsFull() && !s.memtables.HasImmutable() {
		if s.memtables.Swap() != nil {
			select {
			case s.flushChan <- struct{}{}:
			default:
			}
		}
	}

	return nil
}

// Get implements common.StorageEngine.Get.
func (s *LSMStore) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, common.ErrClosed
	}

	if cmd, _, ok := s.memtables.Get(key); ok {
		if cmd.Kind == record.KindRemove {
			return nil, common.ErrKeyNotFound
		}
		s.stats.readCount.Add(1)
		return cmd.Value, nil
	}

	for _, sst := range s.levels.AllNewestFirst(0) {
		cmd, ok, err := sst.Query(key, s.cfg.CompressionEnabled)
		if err != nil {
			return nil, err
		}
		if ok {
			s.stats.readCount.Add(1)
			if cmd.Kind == record.KindRemove {
				return nil, common.ErrKeyNotFound
			}
			return cmd.Value, nil
		}
	}

	for level := 1; level < numLevels; level++ {
		sst := s.levels.FindScope(level, key)
		if sst == nil {
			continue
		}
		cmd, ok, err := sst.Query(key, s.cfg.CompressionEnabled)
		if err != nil {
			return nil, err
		}
		if ok {
			s.stats.readCount.Add(1)
			if cmd.Kind == record.KindRemove {
				return nil, common.ErrKeyNotFound
			}
			return cmd.Value, nil
		}
	}

	return nil, common.ErrKeyNotFound
}

// Len returns an approximate count of live keys: active memtable
// entries plus every on-disk SSTable's estimated key count. It is not
// exact since the same key can appear live in more than one level.
func (s *LSMStore) Len() int64 {
	count := int64(s.memtables.ActiveLen())
	for level := 0; level < numLevels; level++ {
		for _, sst := range s.levels.All(level) {
			count += int64(len(sst.extra.SparseIndex)) * int64(s.cfg.IndexInterval)
		}
	}
	return count
}

func (s *LSMStore) IsEmpty() bool {
	return s.memtables.ActiveLen() == 0 && s.levels.TotalFiles() == 0
}

// Sync flushes the WAL to durable storage.
func (s *LSMStore) Sync() error {
	if s.closed.Load() {
		return common.ErrClosed
	}
	return s.wal.Sync()
}

func (s *LSMStore) Flush() error { return s.Sync() }

func (s *LSMStore) SizeOfDisk() (int64, error) {
	return s.levels.TotalDiskSize(), nil
}

// Stats implements common.StorageEngine.Stats.
func (s *LSMStore) Stats() common.Stats {
	diskSize := s.levels.TotalDiskSize()
	return common.Stats{
		NumKeys:       s.Len(),
		NumSegments:   s.levels.TotalFiles(),
		ActiveSegSize: int64(s.memtables.ActiveSize()),
		TotalDiskSize: diskSize,
		WriteCount:    s.stats.writeCount.Load(),
		ReadCount:     s.stats.readCount.Load(),
		CompactCount:  s.stats.compactCount.Load(),
	}
}

// Compact requests an out-of-band major-compaction sweep across every
// level that currently exceeds its threshold.
func (s *LSMStore) Compact() error {
	if s.closed.Load() {
		return common.ErrClosed
	}
	select {
	case s.compactionChan <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("lsmstore: compaction already pending")
	}
}

// Close stops background workers and releases all open SSTable and WAL
// file handles.
func (s *LSMStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stopChan)
	s.wg.Wait()

	if err := s.wal.Close(); err != nil {
		return err
	}
	return s.levels.CloseAll()
}

func (s *LSMStore) flushWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case <-s.flushChan:
			if err := s.flushMemtable(); err != nil {
				s.logger.WithError(err).Warn("lsmstore: minor compaction failed")
			}
		}
	}
}

func (s *LSMStore) compactionWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case <-s.compactionChan:
			for level := 0; level < numLevels-1; level++ {
				if s.levels.ShouldCompact(level, s.cfg.MaxL0Files) {
					if err := s.compactLevel(level); err != nil {
						s.logger.WithError(err).WithField("level", level).Warn("lsmstore: major compaction failed")
					}
				}
			}
		}
	}
}
