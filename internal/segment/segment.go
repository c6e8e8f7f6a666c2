// Package segment owns the numbered append-only log files (<gen>.log)
// shared by both storage cores: one exclusive writer per file with a
// tracked append position, and positioned reads that may run
// concurrently with it.
package segment

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Handler owns a single numbered log file. Writes are serialised under
// mu and append-only; reads use os.File.ReadAt, which is safe to call
// concurrently with writes and with other reads (pread semantics), so no
// reader lock is needed.
type Handler struct {
	gen  int64
	path string

	mu       sync.Mutex
	file     *os.File
	writePos int64
}

// Open creates (if absent) and opens the log file for generation gen
// under dir, positioning the writer at the current end of file.
func Open(dir string, gen int64) (*Handler, error) {
	path := logPath(dir, gen)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("segment: stat %s: %w", path, err)
	}

	return &Handler{
		gen:      gen,
		path:     path,
		file:     file,
		writePos: info.Size(),
	}, nil
}

// Gen returns the handler's generation number.
func (h *Handler) Gen() int64 { return h.gen }

// Write appends buf and returns the physical start position and length
// written.
func (h *Handler) Write(buf []byte) (pos int64, n int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := h.writePos
	written, err := h.file.WriteAt(buf, start)
	if err != nil {
		return 0, 0, fmt.Errorf("segment: write %s: %w", h.path, err)
	}
	h.writePos += int64(written)
	return start, written, nil
}

// ReadAt reads exactly length bytes starting at pos.
func (h *Handler) ReadAt(pos int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := h.file.ReadAt(buf, pos)
	if err != nil && n < length {
		return nil, fmt.Errorf("segment: read_at %s: %w", h.path, err)
	}
	return buf, nil
}

// ReadToEnd reads the entire file from position 0.
func (h *Handler) ReadToEnd() ([]byte, error) {
	size, err := h.FileSize()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	return h.ReadAt(0, int(size))
}

// FileSize returns the current size of the file on disk.
func (h *Handler) FileSize() (int64, error) {
	info, err := h.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("segment: stat %s: %w", h.path, err)
	}
	return info.Size(), nil
}

// Flush durably syncs the file to the OS (and, since writes go through
// WriteAt directly with no user-space buffer, there is no separate
// buffered-writer flush step — Sync is the only durability boundary).
func (h *Handler) Flush() error {
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("segment: flush %s: %w", h.path, err)
	}
	return nil
}

// Crc32OfFile computes the CRC-32 checksum of the entire file contents.
func (h *Handler) Crc32OfFile() (uint32, error) {
	buf, err := h.ReadToEnd()
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(buf), nil
}

// Close releases the underlying file descriptor.
func (h *Handler) Close() error {
	return h.file.Close()
}

// Factory creates, names, and deletes segment files under a directory.
type Factory struct {
	dir string
}

// NewFactory builds a factory rooted at dir. The caller is responsible
// for ensuring dir exists.
func NewFactory(dir string) *Factory {
	return &Factory{dir: dir}
}

// Create opens (creating if necessary) the handler for generation gen.
func (f *Factory) Create(gen int64) (*Handler, error) {
	return Open(f.dir, gen)
}

// Remove deletes the log file for generation gen.
func (f *Factory) Remove(gen int64) error {
	if err := os.Remove(logPath(f.dir, gen)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("segment: remove gen %d: %w", gen, err)
	}
	return nil
}

// Enumerate lists the generations present under the factory's directory,
// ascending.
func (f *Factory) Enumerate() ([]int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("segment: enumerate %s: %w", f.dir, err)
	}

	var gens []int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		trimmed := strings.TrimSuffix(e.Name(), ".log")
		gen, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, gen)
	}

	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

func logPath(dir string, gen int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.log", gen))
}
