package lsmstore

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/intellect4all/kvcore/common"
	"github.com/intellect4all/kvcore/internal/record"
)

// flushMemtable performs a minor compaction: the frozen immutable
// memtable is re-sharded into SstFileSize-sized pieces and each shard is
// written as a new L0 SSTable.
func (s *LSMStore) flushMemtable() error {
	entries, ok := s.memtables.ImmutableEntries()
	if !ok {
		return nil
	}
	if len(entries) == 0 {
		s.memtables.ClearImmutable()
		return s.wal.Reset()
	}

	for _, shard := range shardEntries(entries, s.cfg.SstFileSize) {
		gen := s.nextGen.Add(1) - 1
		path := sstPath(s.cfg.DataDir, 0, gen)

		builder, err := NewBuilder(path, len(shard), s.cfg.BloomFPRate, s.cfg.IndexInterval, s.cfg.CompressionEnabled)
		if err != nil {
			return err
		}
		for _, e := range shard {
			if err := builder.Add(e.Key, e.Cmd); err != nil {
				builder.Abort()
				return err
			}
		}
		if err := builder.Finish(0); err != nil {
			return err
		}

		sst, err := Open(path, 0, gen, s.cache, s.cfg.CompressionEnabled)
		if err != nil {
			return err
		}
		s.levels.Add(sst)
	}

	s.memtables.ClearImmutable()
	if err := s.wal.Reset(); err != nil {
		return err
	}
	s.stats.flushCount.Add(1)

	if s.levels.ShouldCompact(0, s.cfg.MaxL0Files) {
		select {
		case s.compactionChan <- struct{}{}:
		default:
		}
	}
	return nil
}

// shardEntries splits already key-sorted entries into chunks whose
// estimated encoded size approximates sstFileSize.
func shardEntries(entries []memTableEntry, sstFileSize int) [][]memTableEntry {
	var shards [][]memTableEntry
	var current []memTableEntry
	size := 0

	for _, e := range entries {
		entrySize := len(e.Key) + record.EncodedSize(e.Cmd)
		if size+entrySize > sstFileSize && len(current) > 0 {
			shards = append(shards, current)
			current = nil
			size = 0
		}
		current = append(current, e)
		size += entrySize
	}
	if len(current) > 0 {
		shards = append(shards, current)
	}
	return shards
}

// compactLevel performs a major compaction for level L: pick an SSTable
// from L, pull every overlapping SSTable from L+1 (claiming them out of
// the meet-buffer so a concurrent round can't pick them twice),
// merge-sort with last-writer-wins, and re-shard into L+1.
func (s *LSMStore) compactLevel(level int) error {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	return s.compactLevelLocked(level)
}

func (s *LSMStore) compactLevelLocked(level int) error {
	if level >= numLevels-1 {
		return common.ErrLevelOver
	}

	candidates := s.levels.All(level)
	if len(candidates) == 0 {
		return nil
	}
	source := candidates[0]
	for _, c := range candidates {
		if c.Gen() < source.Gen() {
			source = c
		}
	}

	overlapping := s.levels.ClaimOverlapping(level+1, source.Scope())
	dropTombstones := level+1 == numLevels-1

	merged, err := mergeSSTables(append([]*SSTable{source}, overlapping...), s.cfg.CompressionEnabled, dropTombstones)
	if err != nil {
		for _, o := range overlapping {
			s.levels.Release(o.Gen())
		}
		return err
	}

	for _, shard := range shardEntries(merged, s.cfg.SstFileSize) {
		gen := s.nextGen.Add(1) - 1
		path := sstPath(s.cfg.DataDir, level+1, gen)

		builder, err := NewBuilder(path, len(shard), s.cfg.BloomFPRate, s.cfg.IndexInterval, s.cfg.CompressionEnabled)
		if err != nil {
			return err
		}
		for _, e := range shard {
			if err := builder.Add(e.Key, e.Cmd); err != nil {
				builder.Abort()
				return err
			}
		}
		if err := builder.Finish(level + 1); err != nil {
			return err
		}

		sst, err := Open(path, level+1, gen, s.cache, s.cfg.CompressionEnabled)
		if err != nil {
			return err
		}
		s.levels.Add(sst)
	}

	s.levels.Remove(source)
	if err := source.Remove(); err != nil {
		s.logger.WithError(err).Warn("lsmstore: error removing superseded sstable")
	}
	for _, o := range overlapping {
		s.levels.Remove(o)
		if err := o.Remove(); err != nil {
			s.logger.WithError(err).Warn("lsmstore: error removing superseded sstable")
		}
	}

	s.stats.compactCount.Add(1)

	if level+1 < numLevels-1 && s.levels.ShouldCompact(level+1, s.cfg.MaxL0Files) {
		return s.compactLevelLocked(level + 1)
	}
	return nil
}

// mergeSSTables merges every record across tables (source first, so it
// wins key ties since lower levels always hold newer data than the
// level being merged into), dropping tombstones only when merging into
// the deepest level, where no shallower copy of the key can still be
// shadowed by them.
func mergeSSTables(tables []*SSTable, compressionEnabled bool, dropTombstones bool) ([]memTableEntry, error) {
	type tagged struct {
		cmd  record.Command
		rank int // lower rank wins ties; source table is rank 0
	}

	latest := make(map[string]tagged)
	order := make([]string, 0)

	for rank, t := range tables {
		cmds, err := t.AllEntries(compressionEnabled)
		if err != nil {
			return nil, fmt.Errorf("lsmstore: merge read %s: %w", t.Path(), err)
		}
		for _, cmd := range cmds {
			key := string(cmd.Key)
			if existing, ok := latest[key]; ok {
				if rank < existing.rank {
					latest[key] = tagged{cmd: cmd, rank: rank}
				}
				continue
			}
			latest[key] = tagged{cmd: cmd, rank: rank}
			order = append(order, key)
		}
	}

	merged := make([]memTableEntry, 0, len(order))
	for _, key := range order {
		t := latest[key]
		if dropTombstones && t.cmd.Kind == record.KindRemove {
			continue
		}
		merged = append(merged, memTableEntry{Key: []byte(key), Cmd: t.cmd})
	}

	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].Key, merged[j].Key) < 0
	})
	return merged, nil
}
