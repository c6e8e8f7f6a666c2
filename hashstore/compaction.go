package hashstore

import (
	"sync/atomic"

	"github.com/intellect4all/kvcore/internal/record"
	"github.com/intellect4all/kvcore/internal/segment"
)

// compactLocked runs one compaction pass: it rewrites *every* live entry
// into a new generation rather than leaving a "hot" tail behind in
// segments that are about to be deleted, then drops all superseded
// generation files. With nothing live to rewrite and only one generation
// tracked it returns without doing anything; with nothing live but older
// generations still tracked it still moves to fresh generations and
// deletes the old files. The manifest lock is held for the entire pass — including the
// rewrite I/O — so no write can land in a generation this pass is about
// to delete, and no reader can observe an index entry mid-rewrite.
func (hs *HashStore) compactLocked() error {
	hs.compactMu.Lock()
	defer hs.compactMu.Unlock()

	hs.manifest.mu.Lock()
	defer hs.manifest.mu.Unlock()

	liveEntries := hs.manifest.index.Snapshot()
	if len(liveEntries) == 0 && len(hs.manifest.handlers) <= 1 {
		return nil
	}

	compactGen := hs.manifest.currentGen + 1
	nextCurrent := hs.manifest.currentGen + 2

	compactHandler, err := hs.manifest.factory.Create(compactGen)
	if err != nil {
		return err
	}
	nextHandler, err := hs.manifest.factory.Create(nextCurrent)
	if err != nil {
		return err
	}

	oldHandlers := hs.manifest.handlers

	updates := make(map[string]indexEntry, len(liveEntries))
	for _, ke := range liveEntries {
		src, ok := oldHandlers[ke.entry.gen]
		if !ok {
			continue
		}
		cmd, ok, err := record.ReadAt(src, ke.entry.pos, int(ke.entry.len))
		if err != nil {
			return err
		}
		if !ok || cmd.Kind != record.KindSet {
			continue
		}

		pos, length, err := record.Write(compactHandler, cmd)
		if err != nil {
			return err
		}
		updates[ke.key] = indexEntry{gen: compactGen, pos: pos, len: int32(length)}
	}

	if err := compactHandler.Flush(); err != nil {
		return err
	}

	hs.manifest.index.replaceGens(updates)

	newHandlers := map[int64]*segment.Handler{
		compactGen:  compactHandler,
		nextCurrent: nextHandler,
	}
	hs.manifest.handlers = newHandlers
	hs.manifest.currentGen = nextCurrent
	atomic.StoreInt64(&hs.manifest.unCompacted, 0)

	for gen, h := range oldHandlers {
		if gen == compactGen || gen == nextCurrent {
			continue
		}
		if err := h.Close(); err != nil {
			hs.logger.WithError(err).Warn("hashstore: error closing stale segment handler")
		}
		if err := hs.manifest.factory.Remove(gen); err != nil {
			hs.logger.WithError(err).Warn("hashstore: error removing stale segment file")
		}
	}

	hs.stats.compactCount.Add(1)
	hs.logger.WithField("compact_gen", compactGen).
		WithField("entries_rewritten", len(updates)).
		Debug("hashstore: compaction pass complete")

	return nil
}
