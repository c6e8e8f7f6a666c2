// Package external adapts go.etcd.io/bbolt to the common.StorageEngine
// contract, giving the store a third, off-the-shelf-backed engine
// variant alongside the bespoke hashstore and lsmstore cores.
package external

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/intellect4all/kvcore/common"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var dataBucket = []byte("data")

// Config controls the bbolt file location and sync behavior.
type Config struct {
	DataDir string

	// FileName is the bbolt database file name within DataDir.
	FileName string

	// NoSync, when true, tells bbolt to skip fsync on every commit.
	// Matches the other engines' SyncOnWrite=false fast path; durability
	// is then only as strong as the OS page cache until Sync is called.
	NoSync bool

	Logger logrus.FieldLogger
}

// DefaultConfig returns sane defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:  dataDir,
		FileName: "external.db",
		NoSync:   false,
	}
}

// Store is a common.StorageEngine backed by a single bbolt database
// file with one bucket holding every key.
type Store struct {
	cfg Config
	db  *bolt.DB

	writeCount   atomic.Int64
	readCount    atomic.Int64
	compactCount atomic.Int64
}

var _ common.StorageEngine = (*Store)(nil)

// Open creates the data directory if needed and opens (or initializes)
// the bbolt database file, ensuring the data bucket exists.
func Open(cfg Config) (*Store, error) {
	if cfg.FileName == "" {
		cfg.FileName = "external.db"
	}
	if cfg.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(os.Stdout)
		discard.SetLevel(logrus.PanicLevel)
		cfg.Logger = discard
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("external: mkdir %s: %w", cfg.DataDir, err)
	}

	path := filepath.Join(cfg.DataDir, cfg.FileName)
	db, err := bolt.Open(path, 0o644, &bolt.Options{NoSync: cfg.NoSync})
	if err != nil {
		return nil, fmt.Errorf("external: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("external: init bucket: %w", err)
	}

	return &Store{cfg: cfg, db: db}, nil
}

// Put implements common.StorageEngine.Put.
func (s *Store) Put(key, value []byte) error {
	if len(key) == 0 {
		return common.ErrKeyEmpty
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Put(key, value)
	})
	if err != nil {
		return err
	}
	s.writeCount.Add(1)
	return nil
}

// Get implements common.StorageEngine.Get.
func (s *Store) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(key)
		if v == nil {
			return common.ErrKeyNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.readCount.Add(1)
	return value, nil
}

// Delete implements common.StorageEngine.Delete. Unlike
// bolt.Bucket.Delete, which silently no-ops on an absent key, this
// returns common.ErrKeyNotFound so all three engines share one contract.
func (s *Store) Delete(key []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		if b.Get(key) == nil {
			return common.ErrKeyNotFound
		}
		return b.Delete(key)
	})
	if err != nil {
		return err
	}
	s.writeCount.Add(1)
	return nil
}

// Close releases the underlying database file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sync forces a checkpoint of the memory-mapped file to disk. bbolt
// fsyncs on every committed write transaction unless NoSync is set, so
// this mainly matters when NoSync is true.
func (s *Store) Sync() error {
	return s.db.Sync()
}

// Compact rewrites the database file into a fresh one with no free
// pages, then swaps it into place. bbolt never shrinks its file on
// Delete, so this is the only way to reclaim space after heavy churn.
func (s *Store) Compact() error {
	tmpPath := s.db.Path() + ".compact.tmp"
	tmp, err := bolt.Open(tmpPath, 0o644, nil)
	if err != nil {
		return fmt.Errorf("external: open compaction target: %w", err)
	}

	if err := bolt.Compact(tmp, s.db, 0); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("external: compact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("external: close compaction target: %w", err)
	}

	path := s.db.Path()
	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("external: close original: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("external: swap in compacted file: %w", err)
	}

	db, err := bolt.Open(path, 0o644, &bolt.Options{NoSync: s.cfg.NoSync})
	if err != nil {
		return fmt.Errorf("external: reopen after compact: %w", err)
	}
	s.db = db
	s.compactCount.Add(1)
	return nil
}

// Len returns the number of live keys in the data bucket.
func (s *Store) Len() int64 { return s.keyCount() }

// IsEmpty reports whether the data bucket has no live keys.
func (s *Store) IsEmpty() bool { return s.Len() == 0 }

func (s *Store) keyCount() int64 {
	var numKeys int64
	s.db.View(func(tx *bolt.Tx) error {
		numKeys = int64(tx.Bucket(dataBucket).Stats().KeyN)
		return nil
	})
	return numKeys
}

// Stats implements common.StorageEngine.Stats.
func (s *Store) Stats() common.Stats {
	dbStats := s.db.Stats()
	diskSize, _ := s.SizeOfDisk()

	return common.Stats{
		NumKeys:       s.keyCount(),
		NumSegments:   1,
		TotalDiskSize: diskSize,
		WriteCount:    s.writeCount.Load(),
		ReadCount:     s.readCount.Load(),
		CompactCount:  s.compactCount.Load(),
		WriteAmp:      float64(dbStats.TxStats.Write) / float64(max64(s.writeCount.Load(), 1)),
	}
}

// SizeOfDisk returns the size of the underlying database file.
func (s *Store) SizeOfDisk() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
