package hashstore

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/intellect4all/kvcore/internal/record"
)

// recover rebuilds the index on Open: enumerate generations ascending,
// replay each segment's records into the index, and leave the manifest
// positioned at the highest generation seen (or 0 for a brand new
// store).
func (hs *HashStore) recover() error {
	gens, err := hs.factory.Enumerate()
	if err != nil {
		return err
	}

	if len(gens) == 0 {
		hs.manifest.currentGen = 0
		return nil
	}

	for _, gen := range gens {
		handler, err := hs.manifest.ensureHandler(gen)
		if err != nil {
			return err
		}

		buf, err := handler.ReadToEnd()
		if err != nil {
			return err
		}

		cmds, positions := scanWithPositions(buf)
		for i, cmd := range cmds {
			pos, length := positions[i].pos, positions[i].length
			switch cmd.Kind {
			case record.KindSet:
				old, existed := hs.manifest.index.Put(string(cmd.Key), indexEntry{gen: gen, pos: pos, len: int32(length)})
				if existed {
					atomic.AddInt64(&hs.manifest.unCompacted, int64(old.len)+1)
				}
			case record.KindRemove:
				old, existed := hs.manifest.index.Delete(string(cmd.Key))
				if existed {
					atomic.AddInt64(&hs.manifest.unCompacted, int64(old.len)+1)
				}
			}
		}
	}

	hs.manifest.currentGen = gens[len(gens)-1]
	return nil
}

type recordPosition struct {
	pos    int64
	length int
}

// scanWithPositions mirrors record.Scan but additionally tracks each
// decoded command's logical (pos,length) within buf, which record.Scan
// alone discards since most callers only need the command stream.
func scanWithPositions(buf []byte) ([]record.Command, []recordPosition) {
	const lengthPrefixSize = 4

	var cmds []record.Command
	var positions []recordPosition
	lastPos := 0

	for {
		pos := lastPos + lengthPrefixSize
		if pos > len(buf) {
			break
		}
		declaredLen := int(binary.BigEndian.Uint32(buf[lastPos:pos]))
		if declaredLen < 1 || declaredLen > len(buf)-pos {
			break
		}

		payload := buf[pos : pos+declaredLen]
		cmd, err := record.Decode(payload)
		if err == nil {
			cmds = append(cmds, cmd)
			positions = append(positions, recordPosition{pos: int64(pos), length: declaredLen})
		}

		lastPos = pos + declaredLen
	}

	return cmds, positions
}
