package lsmstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/intellect4all/kvcore/internal/record"
	"github.com/vmihailenco/msgpack/v5"
)

// walEntry pairs a command with the sequence number it was assigned,
// framed the same way internal/record frames segment records: a 4-byte
// big-endian length prefix around a msgpack payload.
type walEntry struct {
	Seq uint64         `msgpack:"seq"`
	Cmd record.Command `msgpack:"cmd"`
}

// wal is the LSM engine's write-ahead log, replayed on open to
// reconstruct the active memtable after a crash.
type wal struct {
	file *os.File
	path string
}

func openWAL(path string) (*wal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lsmstore: open wal %s: %w", path, err)
	}
	return &wal{file: file, path: path}, nil
}

func (w *wal) Append(seq uint64, cmd record.Command) error {
	payload, err := msgpack.Marshal(&walEntry{Seq: seq, Cmd: cmd})
	if err != nil {
		return fmt.Errorf("lsmstore: encode wal entry: %w", err)
	}
	framed := record.Frame(payload)
	if _, err := w.file.Write(framed); err != nil {
		return fmt.Errorf("lsmstore: append wal: %w", err)
	}
	return nil
}

func (w *wal) Sync() error { return w.file.Sync() }

func (w *wal) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// ReadAll replays every entry in the WAL from the start of the file.
func (w *wal) ReadAll() ([]walEntry, error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("lsmstore: seek wal %s: %w", w.path, err)
	}

	var entries []walEntry
	lengthPrefix := make([]byte, 4)

	for {
		if _, err := io.ReadFull(w.file, lengthPrefix); err != nil {
			if err == io.EOF {
				break
			}
			return entries, nil // a short trailing header is a truncated write, stop silently
		}

		declaredLen := binary.BigEndian.Uint32(lengthPrefix)
		payload := make([]byte, declaredLen)
		if _, err := io.ReadFull(w.file, payload); err != nil {
			return entries, nil // truncated tail from an interrupted append
		}

		var entry walEntry
		if err := msgpack.Unmarshal(payload, &entry); err != nil {
			return entries, nil
		}
		entries = append(entries, entry)
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("lsmstore: seek wal end %s: %w", w.path, err)
	}
	return entries, nil
}

// Reset truncates the WAL to empty, called after a successful minor
// compaction flush once the memtable contents are durable in an
// SSTable.
func (w *wal) Reset() error {
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("lsmstore: truncate wal %s: %w", w.path, err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("lsmstore: seek wal %s: %w", w.path, err)
	}
	return nil
}
