package lsmstore

import (
	"sync"

	"github.com/intellect4all/kvcore/internal/record"
)

// memTablePair is the two-slot [active, immutable] memtable array:
// writes always land in active; immutable holds the frozen contents
// awaiting a minor compaction flush.
type memTablePair struct {
	mu        sync.RWMutex
	active    *memTable
	immutable *memTable // nil when there is nothing awaiting flush
	maxSize   int
}

func newMemTablePair(maxSize int) *memTablePair {
	return &memTablePair{
		active:  newMemTable(maxSize),
		maxSize: maxSize,
	}
}

func (p *memTablePair) Put(key []byte, cmd record.Command, seq uint64) {
	p.mu.RLock()
	active := p.active
	p.mu.RUnlock()
	active.Put(key, cmd, seq)
}

// Get checks active then immutable, so a read always sees the most
// recently swapped-out generation too.
func (p *memTablePair) Get(key []byte) (record.Command, uint64, bool) {
	p.mu.RLock()
	active, immutable := p.active, p.immutable
	p.mu.RUnlock()

	if cmd, seq, ok := active.Get(key); ok {
		return cmd, seq, true
	}
	if immutable != nil {
		if cmd, seq, ok := immutable.Get(key); ok {
			return cmd, seq, true
		}
	}
	return record.Command{}, 0, false
}

func (p *memTablePair) ActiveIsFull() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active.IsFull()
}

func (p *memTablePair) ActiveLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active.Len()
}

func (p *memTablePair) ActiveSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active.Size()
}

func (p *memTablePair) HasImmutable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.immutable != nil
}

// Swap moves active into the immutable slot and installs a fresh empty
// active, returning the swapped-out entries for the minor-compaction
// writer. It is a no-op (returns nil) if immutable is already occupied —
// the caller must flush first.
func (p *memTablePair) Swap() []memTableEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.immutable != nil {
		return nil
	}

	entries := p.active.Entries()
	p.immutable = p.active
	p.active = newMemTable(p.maxSize)
	return entries
}

// ClearImmutable drops the immutable slot once its contents are safely
// persisted in an SSTable.
func (p *memTablePair) ClearImmutable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.immutable = nil
}

// ImmutableEntries returns the frozen entries awaiting a minor
// compaction flush, or ok=false if there is nothing frozen.
func (p *memTablePair) ImmutableEntries() (entries []memTableEntry, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.immutable == nil {
		return nil, false
	}
	return p.immutable.Entries(), true
}
