package hashstore

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	numShards = 256
	shardMask = numShards - 1
)

// indexEntry is a key's location in a segment log: generation, byte
// offset, and encoded length.
type indexEntry struct {
	gen int64
	pos int64
	len int32
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
}

// shardedIndex is the manifest's in-memory key -> (gen,pos,len) map,
// partitioned 256 ways with xxhash routing to reduce lock contention
// under concurrent access.
type shardedIndex struct {
	shards [numShards]*shard
	count  atomic.Int64
}

func newShardedIndex() *shardedIndex {
	si := &shardedIndex{}
	for i := range si.shards {
		si.shards[i] = &shard{entries: make(map[string]indexEntry)}
	}
	return si
}

func (si *shardedIndex) getShard(key string) *shard {
	h := xxhash.Sum64String(key)
	return si.shards[h&shardMask]
}

func (si *shardedIndex) Get(key string) (indexEntry, bool) {
	s := si.getShard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Put inserts or replaces an entry, returning the previous entry if one
// existed so the caller can account its length into un_compacted.
func (si *shardedIndex) Put(key string, entry indexEntry) (indexEntry, bool) {
	s := si.getShard(key)
	s.mu.Lock()
	old, existed := s.entries[key]
	s.entries[key] = entry
	s.mu.Unlock()

	if !existed {
		si.count.Add(1)
	}
	return old, existed
}

// Delete erases an entry, returning the removed entry if one existed.
func (si *shardedIndex) Delete(key string) (indexEntry, bool) {
	s := si.getShard(key)
	s.mu.Lock()
	old, existed := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if existed {
		si.count.Add(-1)
	}
	return old, existed
}

func (si *shardedIndex) Count() int64 {
	return si.count.Load()
}

// Snapshot returns every live (key, entry) pair sorted by (gen, pos)
// ascending, the order the compaction rewrite and KeysFromIndex both
// need.
func (si *shardedIndex) Snapshot() []keyedEntry {
	out := make([]keyedEntry, 0, si.count.Load())
	for _, s := range si.shards {
		s.mu.RLock()
		for k, e := range s.entries {
			out = append(out, keyedEntry{key: k, entry: e})
		}
		s.mu.RUnlock()
	}
	sortKeyedEntries(out)
	return out
}

type keyedEntry struct {
	key   string
	entry indexEntry
}

func sortKeyedEntries(entries []keyedEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].entry.gen != entries[j].entry.gen {
			return entries[i].entry.gen < entries[j].entry.gen
		}
		return entries[i].entry.pos < entries[j].entry.pos
	})
}

// replaceGens atomically rewrites the manifest's entries for keys that
// were relocated during compaction. Applied under the manifest's write
// lock, so no internal locking of its own beyond the per-shard maps it
// already has is required; it is still sharded for symmetry with Put.
func (si *shardedIndex) replaceGens(updates map[string]indexEntry) {
	perShard := make([]map[string]indexEntry, numShards)
	for k, v := range updates {
		h := xxhash.Sum64String(k) & shardMask
		if perShard[h] == nil {
			perShard[h] = make(map[string]indexEntry)
		}
		perShard[h][k] = v
	}

	var wg sync.WaitGroup
	for i, ops := range perShard {
		if ops == nil {
			continue
		}
		wg.Add(1)
		go func(s *shard, ops map[string]indexEntry) {
			defer wg.Done()
			s.mu.Lock()
			for k, v := range ops {
				s.entries[k] = v
			}
			s.mu.Unlock()
		}(si.shards[i], ops)

		if i%16 == 0 {
			runtime.Gosched()
		}
	}
	wg.Wait()
}
