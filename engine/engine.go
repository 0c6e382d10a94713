// Package engine ties the memtable, SSTable family, tombstone log, and
// compactor into the public operations of the store: Write, Read,
// Delete, Flush, Compact, ClearAll, EnumerateMemtable.
//
// Engine is single-threaded and synchronous by design: every
// operation runs to completion on the caller's goroutine, and it
// assumes exclusive ownership of its data directory. It is not safe
// for concurrent use by multiple goroutines — this store is designed
// for single-writer access only, so no mutex is used here; adding one
// would imply a safety contract that doesn't exist.
package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arjunvdev/textlsm/compaction"
	"github.com/arjunvdev/textlsm/memtable"
	"github.com/arjunvdev/textlsm/sstable"
	"github.com/arjunvdev/textlsm/textlsmerr"
	"github.com/arjunvdev/textlsm/tombstone"
)

const tombstoneFileName = "tombstones.dat"

// Stats is a small in-process counters surface, consumed by the CLI's
// print command and the benchmark harness. It is observability of the
// core, not a new core behavior.
type Stats struct {
	FlushCount        int
	CompactionRuns    int
	TombstonesApplied int
	FilesPacked       int
}

// Engine is a single instance of the store, rooted at Options.Dir.
type Engine struct {
	opts Options
	log  *logrus.Logger

	dir      string
	tlogPath string

	mem   *memtable.Memtable
	tlog  *tombstone.Log
	stats Stats
}

// Open ensures the data directory and tombstone log exist and returns
// a ready Engine. No recovery scan is performed beyond discovering
// existing SSTables: there is no WAL to replay, by design.
func Open(opts Options) (*Engine, error) {
	if opts.Dir == "" {
		opts.Dir = "data"
	}
	if opts.MaxKeyLength <= 0 {
		opts.MaxKeyLength = 100
	}
	if opts.MaxValueLength <= 0 {
		opts.MaxValueLength = 100
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, textlsmerr.IO("mkdir", opts.Dir, err)
	}

	if err := cleanupStrayTempFiles(opts.Dir); err != nil {
		return nil, err
	}

	tlogPath := filepath.Join(opts.Dir, tombstoneFileName)
	tlog, err := tombstone.Open(tlogPath)
	if err != nil {
		return nil, err
	}

	entries, err := sstable.List(opts.Dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		sstable.SeedIDCounter(e.ID)
	}

	e := &Engine{
		opts:     opts,
		log:      log,
		dir:      opts.Dir,
		tlogPath: tlogPath,
		mem:      memtable.New(),
		tlog:     tlog,
	}

	sstable.OnCorruptLine = func(path string, line []byte) {
		e.log.WithFields(logrus.Fields{"path": path, "line": string(line)}).Warn("engine: skipping corrupt sstable line")
	}

	return e, nil
}

// cleanupStrayTempFiles removes leftover *.tmp files from a compaction
// that crashed between writing the temp file and renaming it — the
// next compaction would have regenerated them anyway, so removing them
// at startup just avoids confusing directory listings.
func cleanupStrayTempFiles(dir string) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return textlsmerr.IO("readdir", dir, err)
	}
	for _, de := range ents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, de.Name())); err != nil && !os.IsNotExist(err) {
			return textlsmerr.IO("remove", filepath.Join(dir, de.Name()), err)
		}
	}
	return nil
}

func (e *Engine) validate(b []byte, maxLen int) error {
	if len(b) == 0 {
		return textlsmerr.ErrInvalidInput
	}
	if len(b) > maxLen {
		return textlsmerr.ErrInvalidInput
	}
	if bytes.IndexByte(b, ' ') >= 0 || bytes.IndexByte(b, '\n') >= 0 {
		return textlsmerr.ErrInvalidInput
	}
	return nil
}

// Write inserts or overwrites key/value in the memtable. Inputs are
// validated before any mutation: an invalid key or value leaves state
// untouched. A flush is triggered automatically once the memtable's
// byte charge exceeds Options.FlushThreshold.
func (e *Engine) Write(key, value []byte) error {
	if err := e.validate(key, e.opts.MaxKeyLength); err != nil {
		return err
	}
	if err := e.validate(value, e.opts.MaxValueLength); err != nil {
		return err
	}
	e.mem.Insert(key, value)
	if e.opts.FlushThreshold > 0 && e.mem.ByteCount() > e.opts.FlushThreshold {
		return e.Flush()
	}
	return nil
}

// Read resolves key against the memtable first, then the tombstone
// log, then the SSTable stack newest-first, returning
// textlsmerr.ErrNotFound when none has a definitive answer.
func (e *Engine) Read(key []byte) ([]byte, error) {
	if err := e.validate(key, e.opts.MaxKeyLength); err != nil {
		return nil, err
	}

	if v, ok := e.mem.Lookup(key); ok {
		return v, nil
	}

	pending, err := e.tlog.LoadSet()
	if err != nil {
		return nil, err
	}
	if _, deleted := pending[string(key)]; deleted {
		return nil, textlsmerr.ErrNotFound
	}

	entries, err := sstable.List(e.dir)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		v, found, err := sstable.Get(entries[i].Path, key)
		if err != nil {
			return nil, err
		}
		if found {
			return v, nil
		}
	}
	return nil, textlsmerr.ErrNotFound
}

// Delete removes key from the memtable if it lives there; otherwise it
// appends a tombstone so a later compaction can erase any on-disk
// copies. A delete for a key absent from both memtable and SSTables
// still appends a tombstone, avoiding a full SSTable-stack scan on
// every delete just to skip a rare no-op append.
func (e *Engine) Delete(key []byte) error {
	if err := e.validate(key, e.opts.MaxKeyLength); err != nil {
		return err
	}
	if e.mem.Remove(key) {
		return nil
	}
	return e.tlog.Append(key)
}

// Flush serializes the memtable to a new SSTable in key-ascending
// order, then clears it. An empty memtable is a no-op: there is
// nothing useful to write, and skipping it avoids littering the data
// directory with empty files on repeated explicit "dump" calls.
func (e *Engine) Flush() error {
	kvs := e.mem.EnumerateInOrder()
	if len(kvs) == 0 {
		e.mem.Clear()
		return nil
	}
	id := sstable.NextID()
	path, err := sstable.Write(e.dir, id, kvs)
	if err != nil {
		return err
	}
	e.mem.Clear()
	e.stats.FlushCount++
	e.log.WithFields(logrus.Fields{"path": path, "keys": len(kvs)}).Debug("engine: flushed memtable")
	return nil
}

// Compact runs the compactor's two phases: apply every pending
// tombstone to every SSTable, then pack small files into larger ones.
func (e *Engine) Compact() error {
	res, err := compaction.Run(e.dir, e.tlog, compaction.Thresholds{
		SmallFile:  e.opts.SmallFileThreshold,
		UpperMerge: e.opts.UpperMergeThreshold,
	}, e.log)
	if err != nil {
		return err
	}
	e.stats.CompactionRuns++
	e.stats.TombstonesApplied += res.TombstonesApplied
	e.stats.FilesPacked += res.FilesPacked
	return nil
}

// ClearAll removes every regular file in the data directory (every
// SSTable and the tombstone log) and clears the memtable.
func (e *Engine) ClearAll() error {
	ents, err := os.ReadDir(e.dir)
	if err != nil {
		return textlsmerr.IO("readdir", e.dir, err)
	}
	for _, de := range ents {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(e.dir, de.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return textlsmerr.IO("remove", path, err)
		}
	}
	e.mem.Clear()
	return nil
}

// EnumerateMemtable returns every (key, value) currently buffered in
// the memtable, in ascending key order. For debugging/inspection only.
func (e *Engine) EnumerateMemtable() []memtable.KV {
	return e.mem.EnumerateInOrder()
}

// Stats returns a snapshot of the engine's lifetime counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// ByteCount reports the memtable's current memory-charge total.
func (e *Engine) ByteCount() int {
	return e.mem.ByteCount()
}

// Close releases any resources the Engine holds. There is currently
// nothing to release — no WAL file handle, no background goroutine —
// but callers should still call it on shutdown in case a future
// revision needs to flush or sync something here.
func (e *Engine) Close() error {
	return nil
}
