// Package record implements the command-record codec shared by the
// HashStore and LSM storage cores: a tagged Set/Remove/Get union,
// msgpack-encoded and framed with a 4-byte big-endian length prefix.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies which variant of Command a record holds.
type Kind uint8

const (
	KindSet Kind = iota
	KindRemove
	KindGet
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "Set"
	case KindRemove:
		return "Remove"
	case KindGet:
		return "Get"
	default:
		return "Unknown"
	}
}

// Command is the tagged union persisted to segment logs: Set carries a
// value, Remove and Get carry only a key. Get is never persisted
// meaningfully; it exists so batch RPC callers can thread point lookups
// through the same apply path as writes.
type Command struct {
	Kind  Kind   `msgpack:"k"`
	Key   []byte `msgpack:"key"`
	Value []byte `msgpack:"value,omitempty"`
}

// Set builds a Set command.
func Set(key, value []byte) Command { return Command{Kind: KindSet, Key: key, Value: value} }

// Remove builds a Remove command.
func Remove(key []byte) Command { return Command{Kind: KindRemove, Key: key} }

// Get builds a Get command.
func Get(key []byte) Command { return Command{Kind: KindGet, Key: key} }

// lengthPrefixSize is the size of the big-endian frame length prefix.
const lengthPrefixSize = 4

// Encode serialises a command with msgpack, the Go-ecosystem analogue of
// the MessagePack encoding the original Rust implementation used
// (rmp_serde).
func Encode(cmd Command) ([]byte, error) {
	buf, err := msgpack.Marshal(&cmd)
	if err != nil {
		return nil, fmt.Errorf("record: encode: %w", err)
	}
	return buf, nil
}

// Decode deserialises a msgpack-encoded command.
func Decode(buf []byte) (Command, error) {
	var cmd Command
	if err := msgpack.Unmarshal(buf, &cmd); err != nil {
		return Command{}, fmt.Errorf("record: decode: %w", err)
	}
	return cmd, nil
}

// Frame prepends a 4-byte big-endian length prefix to an already-encoded
// payload.
func Frame(payload []byte) []byte {
	framed := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(framed, uint32(len(payload)))
	copy(framed[lengthPrefixSize:], payload)
	return framed
}

// Writer is the minimal segment-handler capability the codec needs to
// append a framed record: a single positioned write that returns where
// the bytes landed.
type Writer interface {
	Write(buf []byte) (pos int64, n int, err error)
}

// Reader is the minimal segment-handler capability needed for a
// positioned read.
type Reader interface {
	ReadAt(pos int64, length int) ([]byte, error)
}

// Write encodes, frames, and appends cmd through h. It returns the
// "logical" position and length of the payload — the physical write
// advanced by the 4-byte length prefix, shrunk by the same amount.
func Write(h Writer, cmd Command) (pos int64, length int, err error) {
	payload, err := Encode(cmd)
	if err != nil {
		return 0, 0, err
	}
	framed := Frame(payload)

	start, n, err := h.Write(framed)
	if err != nil {
		return 0, 0, fmt.Errorf("record: write: %w", err)
	}
	return start + lengthPrefixSize, n - lengthPrefixSize, nil
}

// ReadAt positionally reads and decodes a single command payload using
// the logical pos/length an index entry records (i.e. without the
// length prefix).
// A decode failure is reported via the bool return rather than an error:
// index entries that resolve to garbage are corruption, not I/O failure,
// and callers (HashStore.Get) turn that into ErrUnexpectedCommandType or
// simply "not found" depending on context.
func ReadAt(h Reader, pos int64, length int) (Command, bool, error) {
	buf, err := h.ReadAt(pos, length)
	if err != nil {
		return Command{}, false, fmt.Errorf("record: read_at: %w", err)
	}
	cmd, err := Decode(buf)
	if err != nil {
		return Command{}, false, nil
	}
	return cmd, true, nil
}

// Scan iterates 4-byte-length-prefixed frames out of buf, decoding each
// payload, and stops silently the moment a frame's declared length is
// inconsistent with the remaining bytes. A logger is accepted so callers
// can surface a warning for the truncated tail without changing the
// truncation behavior itself.
func Scan(buf []byte, logger logrus.FieldLogger) []Command {
	var cmds []Command
	lastPos := 0

	for {
		pos := lastPos + lengthPrefixSize
		if pos > len(buf) {
			break
		}
		declaredLen := int(binary.BigEndian.Uint32(buf[lastPos:pos]))
		if declaredLen < 1 || declaredLen > len(buf)-pos {
			if logger != nil && lastPos < len(buf) {
				logger.WithField("offset", lastPos).
					Warn("record: scan stopped at inconsistent frame length, tail truncated from view")
			}
			break
		}

		payload := buf[pos : pos+declaredLen]
		cmd, err := Decode(payload)
		if err == nil {
			cmds = append(cmds, cmd)
		} else if logger != nil {
			logger.WithField("offset", lastPos).WithError(err).
				Warn("record: scan skipped undecodable frame")
		}

		lastPos = pos + declaredLen
	}

	return cmds
}

// EncodedSize estimates the on-disk footprint of cmd for memtable byte
// accounting: key + value bytes plus the msgpack framing overhead for
// the variant.
func EncodedSize(cmd Command) int {
	overhead := 10
	switch cmd.Kind {
	case KindRemove:
		overhead = 12
	case KindGet:
		overhead = 9
	}
	return len(cmd.Key) + len(cmd.Value) + overhead
}
