package lsmstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/golang/snappy"
	"github.com/intellect4all/kvcore/common"
	"github.com/intellect4all/kvcore/internal/record"
	"github.com/vmihailenco/msgpack/v5"
)

// footerSize is fixed at 40 bytes: five 8-byte fields (level, version,
// data_part_len, index_part_len, crc_code).
const footerSize = 40

// position locates a record within the data block: a byte offset and
// length, exactly the HashStore index entry's (pos,len) pair reused for
// SSTable sparse-index lookups.
type position struct {
	Start int64 `msgpack:"s"`
	Len   int32 `msgpack:"l"`
}

type sparseEntry struct {
	Key []byte   `msgpack:"k"`
	Pos position `msgpack:"p"`
}

type scope struct {
	Min []byte `msgpack:"min"`
	Max []byte `msgpack:"max"`
}

func (s scope) contains(key []byte) bool {
	return bytes.Compare(key, s.Min) >= 0 && bytes.Compare(key, s.Max) <= 0
}

func (s scope) overlaps(other scope) bool {
	return bytes.Compare(s.Min, other.Max) <= 0 && bytes.Compare(other.Min, s.Max) <= 0
}

// extraInfo is the "extra" block: sparse index, scope, bloom filter
// bytes, and the data block's byte length, serialized with msgpack —
// the same domain-stack codec the record package already uses.
type extraInfo struct {
	SparseIndex []sparseEntry `msgpack:"idx"`
	Scope       scope         `msgpack:"scope"`
	Filter      []byte        `msgpack:"filter"`
	DataLen     int64         `msgpack:"data_len"`
}

// SSTable is an immutable, sorted, on-disk run of records at a given
// level. File layout: [data block][extra block][fixed 40-byte footer].
type SSTable struct {
	file  *os.File
	path  string
	level int
	gen   int64

	extra  extraInfo
	filter *bloom.BloomFilter

	cache *blockCache
}

// Builder accumulates sorted records into a new SSTable file.
type Builder struct {
	file *os.File
	path string

	compressionEnabled bool
	sstFileSize        int64
	indexInterval      int
	bloomFPRate        float64

	dataBuf     bytes.Buffer
	sparseIndex []sparseEntry
	filter      *bloom.BloomFilter
	minKey      []byte
	maxKey      []byte
	count       int
}

// NewBuilder opens path for writing and prepares a bloom filter sized
// for expectedKeys at fpRate.
func NewBuilder(path string, expectedKeys int, fpRate float64, indexInterval int, compressionEnabled bool) (*Builder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("lsmstore: create sstable %s: %w", path, err)
	}
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	if indexInterval < 1 {
		indexInterval = 4
	}
	return &Builder{
		file:               file,
		path:               path,
		compressionEnabled: compressionEnabled,
		indexInterval:      indexInterval,
		bloomFPRate:        fpRate,
		filter:             bloom.NewWithEstimates(uint(expectedKeys), fpRate),
	}, nil
}

// Add encodes cmd, frames it per the record codec and appends it to the
// data block. The caller must call Add in ascending key order.
func (b *Builder) Add(key []byte, cmd record.Command) error {
	if b.count == 0 {
		b.minKey = append([]byte(nil), key...)
	}
	b.maxKey = append([]byte(nil), key...)
	b.filter.Add(key)

	payload, err := record.Encode(cmd)
	if err != nil {
		return err
	}
	framed := record.Frame(payload)

	start := int64(b.dataBuf.Len())
	b.dataBuf.Write(framed)

	if b.count%b.indexInterval == 0 {
		b.sparseIndex = append(b.sparseIndex, sparseEntry{
			Key: append([]byte(nil), key...),
			Pos: position{Start: start, Len: int32(len(framed))},
		})
	}
	b.count++
	return nil
}

// Finish writes the data block, the extra block and the footer (which
// records the data block's crc32), then syncs and closes the file.
func (b *Builder) Finish(level int) error {
	dataBytes := b.dataBuf.Bytes()
	if b.compressionEnabled {
		dataBytes = snappy.Encode(nil, dataBytes)
	}

	if _, err := b.file.Write(dataBytes); err != nil {
		return fmt.Errorf("lsmstore: write data block: %w", err)
	}
	crc := crc32.ChecksumIEEE(dataBytes)

	filterBytes, err := encodeBloom(b.filter)
	if err != nil {
		return err
	}

	extra := extraInfo{
		SparseIndex: b.sparseIndex,
		Scope:       scope{Min: b.minKey, Max: b.maxKey},
		Filter:      filterBytes,
		DataLen:     int64(len(dataBytes)),
	}
	extraBytes, err := msgpack.Marshal(&extra)
	if err != nil {
		return fmt.Errorf("lsmstore: encode extra block: %w", err)
	}
	if _, err := b.file.Write(extraBytes); err != nil {
		return fmt.Errorf("lsmstore: write extra block: %w", err)
	}

	footer := make([]byte, footerSize)
	binary.BigEndian.PutUint64(footer[0:8], uint64(level))
	binary.BigEndian.PutUint64(footer[8:16], 1) // version
	binary.BigEndian.PutUint64(footer[16:24], uint64(len(dataBytes)))
	binary.BigEndian.PutUint64(footer[24:32], uint64(len(extraBytes)))
	binary.BigEndian.PutUint64(footer[32:40], uint64(crc))

	if _, err := b.file.Write(footer); err != nil {
		return fmt.Errorf("lsmstore: write footer: %w", err)
	}

	if err := b.file.Sync(); err != nil {
		return fmt.Errorf("lsmstore: sync sstable: %w", err)
	}
	return b.file.Close()
}

// Abort discards a partially-built SSTable.
func (b *Builder) Abort() error {
	b.file.Close()
	return os.Remove(b.path)
}

func (b *Builder) Count() int { return b.count }

func encodeBloom(f *bloom.BloomFilter) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("lsmstore: encode bloom filter: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeBloom(data []byte) (*bloom.BloomFilter, error) {
	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("lsmstore: decode bloom filter: %w", err)
	}
	return f, nil
}

// Open opens an existing SSTable file, verifying the footer's crc32
// against the data block before trusting the file at all — corruption
// here is fatal, unlike a HashStore decode failure.
func Open(path string, level int, gen int64, cache *blockCache, compressionEnabled bool) (*SSTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lsmstore: open sstable %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("lsmstore: stat sstable %s: %w", path, err)
	}
	size := info.Size()
	if size < footerSize {
		file.Close()
		return nil, fmt.Errorf("lsmstore: %s: %w", path, common.ErrSSTableLost)
	}

	footer := make([]byte, footerSize)
	if _, err := file.ReadAt(footer, size-footerSize); err != nil {
		file.Close()
		return nil, fmt.Errorf("lsmstore: read footer %s: %w", path, err)
	}

	dataPartLen := int64(binary.BigEndian.Uint64(footer[16:24]))
	indexPartLen := int64(binary.BigEndian.Uint64(footer[24:32]))
	wantCRC := uint32(binary.BigEndian.Uint64(footer[32:40]))

	dataBytes := make([]byte, dataPartLen)
	if _, err := file.ReadAt(dataBytes, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("lsmstore: read data block %s: %w", path, err)
	}
	if crc32.ChecksumIEEE(dataBytes) != wantCRC {
		file.Close()
		return nil, fmt.Errorf("lsmstore: %s: %w", path, common.ErrCrcMismatch)
	}

	extraBytes := make([]byte, indexPartLen)
	if _, err := file.ReadAt(extraBytes, dataPartLen); err != nil {
		file.Close()
		return nil, fmt.Errorf("lsmstore: read extra block %s: %w", path, err)
	}
	var extra extraInfo
	if err := msgpack.Unmarshal(extraBytes, &extra); err != nil {
		file.Close()
		return nil, fmt.Errorf("lsmstore: decode extra block %s: %w", path, err)
	}

	filter, err := decodeBloom(extra.Filter)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &SSTable{
		file:   file,
		path:   path,
		level:  level,
		gen:    gen,
		extra:  extra,
		filter: filter,
		cache:  cache,
	}, nil
}

func (s *SSTable) compressedData(compressionEnabled bool) ([]byte, error) {
	buf := make([]byte, s.extra.DataLen)
	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("lsmstore: read data block %s: %w", s.path, err)
	}
	if !compressionEnabled {
		return buf, nil
	}
	decoded, err := snappy.Decode(nil, buf)
	if err != nil {
		return nil, fmt.Errorf("lsmstore: snappy decode %s: %w", s.path, err)
	}
	return decoded, nil
}

// Query looks up key: scope check, bloom check, sparse index narrowing,
// then a scan of the window between two sparse entries, served from the
// position-keyed block cache or cut from a fresh read of the data block.
func (s *SSTable) Query(key []byte, compressionEnabled bool) (record.Command, bool, error) {
	if !s.extra.Scope.contains(key) {
		return record.Command{}, false, nil
	}
	if !s.filter.Test(key) {
		return record.Command{}, false, nil
	}

	idx := sort.Search(len(s.extra.SparseIndex), func(i int) bool {
		return bytes.Compare(s.extra.SparseIndex[i].Key, key) > 0
	})
	if idx == 0 {
		return record.Command{}, false, nil
	}
	entry := s.extra.SparseIndex[idx-1]

	cacheKey := blockCacheKey{gen: s.gen, pos: entry.Pos.Start}
	var block []byte
	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKey); ok {
			block = cached
		}
	}
	if block == nil {
		full, err := s.compressedData(compressionEnabled)
		if err != nil {
			return record.Command{}, false, err
		}
		end := entry.Pos.Start + chunkSearchWindow(s.extra.SparseIndex, idx-1, int64(len(full)))
		if end > int64(len(full)) {
			end = int64(len(full))
		}
		block = full[entry.Pos.Start:end]
		if s.cache != nil {
			s.cache.Put(cacheKey, block)
		}
	}

	cmds := record.Scan(block, nil)
	for _, cmd := range cmds {
		if bytes.Equal(cmd.Key, key) {
			return cmd, true, nil
		}
	}
	return record.Command{}, false, nil
}

// chunkSearchWindow returns the byte span from sparse index entry i to
// the next sparse entry (or end of data), the range record.Scan needs
// to cover every record between two sampled keys.
func chunkSearchWindow(idx []sparseEntry, i int, dataLen int64) int64 {
	if i+1 < len(idx) {
		return idx[i+1].Pos.Start - idx[i].Pos.Start
	}
	return dataLen - idx[i].Pos.Start
}

// AllEntries decodes every record in the data block, in on-disk (sorted
// key) order, for the major-compaction merge path.
func (s *SSTable) AllEntries(compressionEnabled bool) ([]record.Command, error) {
	data, err := s.compressedData(compressionEnabled)
	if err != nil {
		return nil, err
	}
	return record.Scan(data, nil), nil
}

func (s *SSTable) Overlaps(other scope) bool { return s.extra.Scope.overlaps(other) }
func (s *SSTable) Scope() scope              { return s.extra.Scope }
func (s *SSTable) MinKey() []byte            { return s.extra.Scope.Min }
func (s *SSTable) MaxKey() []byte            { return s.extra.Scope.Max }
func (s *SSTable) Level() int                { return s.level }
func (s *SSTable) Gen() int64                { return s.gen }
func (s *SSTable) Path() string              { return s.path }

func (s *SSTable) SizeOfDisk() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *SSTable) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

func (s *SSTable) Remove() error {
	s.Close()
	return os.Remove(s.path)
}
