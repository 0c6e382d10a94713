// Package sstable serializes a memtable's in-order enumeration to an
// immutable, human-readable on-disk table and reads it back.
//
// Format: one line per record, "<key><SP><value><LF>", sorted
// ascending by key. There is no block index and no Bloom filter — the
// spec this engine follows treats both as explicit non-goals; each
// table is small enough for a linear scan per lookup, which stops once
// it passes the key's sort position.
package sstable

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arjunvdev/textlsm/memtable"
	"github.com/arjunvdev/textlsm/textlsmerr"
)

const (
	filePrefix = "sstable_"
	fileSuffix = ".tlsm"
	idDigits   = 19
)

// Filename returns the on-disk name for SSTable id. Zero-padding to a
// fixed width is what makes lexical-descending filename order equal
// temporal-descending creation order; an unpadded decimal id would
// break that ordering once the counter crosses a power-of-ten boundary.
func Filename(id uint64) string {
	return fmt.Sprintf("%s%0*d%s", filePrefix, idDigits, id, fileSuffix)
}

// ParseID extracts the id encoded in an SSTable filename, reporting ok
// = false for names that don't match the expected shape (so stray
// files in the data directory are ignored rather than misparsed).
func ParseID(name string) (uint64, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

var idCounter int64

// NextID returns a fresh, strictly increasing table id. It combines
// wall-clock nanoseconds with a monotonic ratchet so that two calls in
// the same process never collide even when the clock doesn't advance
// between them, and so that compaction output always sorts after
// every file it merged.
func NextID() uint64 {
	for {
		last := atomic.LoadInt64(&idCounter)
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if atomic.CompareAndSwapInt64(&idCounter, last, next) {
			return uint64(next)
		}
	}
}

// SeedIDCounter bumps the internal ratchet forward past id. Call this
// once per id found on disk at startup so IDs generated this run never
// precede or collide with tables already present.
func SeedIDCounter(id uint64) {
	for {
		last := atomic.LoadInt64(&idCounter)
		if int64(id) <= last {
			return
		}
		if atomic.CompareAndSwapInt64(&idCounter, last, int64(id)) {
			return
		}
	}
}

// OnCorruptLine, if set, is called whenever Get/ForEach skips a line
// that can't be parsed as "<key> <value>". The engine wires this to a
// logrus warning; tests leave it nil.
var OnCorruptLine func(path string, line []byte)

// Entry describes a file found by List.
type Entry struct {
	ID   uint64
	Name string
	Path string
}

// List enumerates SSTable files in dir, sorted ascending by id
// (equivalently, ascending lexical filename order). Non-matching
// entries (directories, the tombstone log, stray temp files) are
// skipped.
func List(dir string) ([]Entry, error) {
	dirEnts, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, textlsmerr.IO("readdir", dir, err)
	}
	out := make([]Entry, 0, len(dirEnts))
	for _, de := range dirEnts {
		if de.IsDir() {
			continue
		}
		id, ok := ParseID(de.Name())
		if !ok {
			continue
		}
		out = append(out, Entry{ID: id, Name: de.Name(), Path: filepath.Join(dir, de.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Write serializes kvs (already sorted ascending by key, as produced
// by Memtable.EnumerateInOrder) into a new SSTable at
// dir/Filename(id). Writes are not fsynced: loss of the last write
// window on crash is an accepted non-goal.
func Write(dir string, id uint64, kvs []memtable.KV) (string, error) {
	path := filepath.Join(dir, Filename(id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", textlsmerr.IO("create", path, err)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	for _, kv := range kvs {
		if err := WriteLine(w, kv.Key, kv.Value); err != nil {
			return "", textlsmerr.IO("write", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", textlsmerr.IO("flush", path, err)
	}
	return path, nil
}

// WriteLine writes one "<key> <value>\n" record. Exported so the
// compactor can reuse the exact same line format when it rewrites and
// merges tables.
func WriteLine(w *bufio.Writer, key, value []byte) error {
	if _, err := w.Write(key); err != nil {
		return err
	}
	if err := w.WriteByte(' '); err != nil {
		return err
	}
	if _, err := w.Write(value); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// Get scans path for key, returning its value and true on the first
// match. Lines are sorted ascending by key (a per-file invariant), so
// the scan stops as soon as it passes where key would sort — it does
// not need to read the remainder of the file.
func Get(path string, key []byte) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, textlsmerr.IO("open", path, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		k, v, ok := SplitLine(line)
		if !ok {
			if OnCorruptLine != nil {
				OnCorruptLine(path, CloneBytes(line))
			}
			continue // corrupt line: skip with no match, rather than misreading a prefix
		}
		cmp := bytes.Compare(k, key)
		if cmp == 0 {
			return CloneBytes(v), true, nil
		}
		if cmp > 0 {
			return nil, false, nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, false, textlsmerr.IO("scan", path, err)
	}
	return nil, false, nil
}

// ForEach calls fn with every (key, value) line in path, in file
// order. It is used by the compactor, which needs to see every line
// rather than stop at the first match.
func ForEach(path string, fn func(key, value []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return textlsmerr.IO("open", path, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		k, v, ok := SplitLine(line)
		if !ok {
			if OnCorruptLine != nil {
				OnCorruptLine(path, CloneBytes(line))
			}
			continue
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return textlsmerr.IO("scan", path, err)
	}
	return nil
}

// SplitLine parses "<key> <value>" at the first space. A line with no
// space is corrupt and is reported via ok = false so callers can skip
// it rather than silently reading a truncated prefix.
func SplitLine(line []byte) (key, value []byte, ok bool) {
	i := bytes.IndexByte(line, ' ')
	if i < 0 {
		return nil, nil, false
	}
	return line[:i], line[i+1:], true
}

// CloneBytes returns an owned copy of b. Exported for callers (such as
// the compactor's merge iterators) that hold onto bytes returned by a
// bufio.Scanner past its next Scan call.
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
