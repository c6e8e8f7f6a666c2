package lsmstore

import (
	"bytes"
	"sort"
	"sync"

	"github.com/intellect4all/kvcore/internal/record"
)

// memTableEntry is a single in-memory entry: the command that would be
// persisted, plus the sequence number it was written under. The sequence
// is kept in memory and in the WAL only; SSTables do not store it.
type memTableEntry struct {
	Key      []byte
	Cmd      record.Command
	Sequence uint64
}

// memTable is a sorted, binary-searchable in-memory buffer for recent
// writes, keyed by []byte rather than string.
type memTable struct {
	mu      sync.RWMutex
	entries []memTableEntry
	size    int
	maxSize int
}

func newMemTable(maxSize int) *memTable {
	return &memTable{
		entries: make([]memTableEntry, 0, 1024),
		maxSize: maxSize,
	}
}

func (m *memTable) search(key []byte) int {
	return sort.Search(len(m.entries), func(i int) bool {
		return bytes.Compare(m.entries[i].Key, key) >= 0
	})
}

// Put inserts or replaces key's command, tracking the byte delta via the
// record codec's size estimate.
func (m *memTable) Put(key []byte, cmd record.Command, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.search(key)
	entry := memTableEntry{Key: key, Cmd: cmd, Sequence: seq}

	if idx < len(m.entries) && bytes.Equal(m.entries[idx].Key, key) {
		oldSize := record.EncodedSize(m.entries[idx].Cmd)
		m.entries[idx] = entry
		m.size += record.EncodedSize(cmd) - oldSize
		return
	}

	m.entries = append(m.entries, memTableEntry{})
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = entry
	m.size += len(key) + record.EncodedSize(cmd)
}

// Get looks up key, returning the stored command, its sequence number,
// and whether it was found at all.
func (m *memTable) Get(key []byte) (record.Command, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.search(key)
	if idx < len(m.entries) && bytes.Equal(m.entries[idx].Key, key) {
		e := m.entries[idx]
		return e.Cmd, e.Sequence, true
	}
	return record.Command{}, 0, false
}

// Size returns the approximate in-memory footprint in bytes.
func (m *memTable) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// IsFull reports whether Size has reached maxSize.
func (m *memTable) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size >= m.maxSize
}

// Entries returns a defensive copy of every entry in key order, for the
// minor-compaction writer to consume without holding the memtable lock.
func (m *memTable) Entries() []memTableEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]memTableEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *memTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
