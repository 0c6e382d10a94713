// Package compaction implements the engine's two-phase maintenance
// routine: apply pending tombstones to every SSTable, then pack small
// files into larger ones.
package compaction

import (
	"bufio"
	"bytes"
	"container/heap"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/arjunvdev/textlsm/sstable"
	"github.com/arjunvdev/textlsm/textlsmerr"
	"github.com/arjunvdev/textlsm/tombstone"
)

// Thresholds controls phase B's file-size decisions.
type Thresholds struct {
	SmallFile   int64 // files below this size are candidates for packing
	UpperMerge  int64 // a packed output file never exceeds this size
}

// Result summarizes one compaction run, for logging and tests.
type Result struct {
	TombstonesApplied int
	FilesRewritten    int
	FilesPacked       int
	FilesProduced     int
}

// Run executes phase A (tombstone application) followed by phase B
// (small-file packing) against every SSTable in dir.
//
// Phase A loads the tombstone log but defers truncating it until every
// file has been rewritten, so a crash partway through phase A loses no
// tombstone — it simply reapplies the same set on the next compaction.
func Run(dir string, tlog *tombstone.Log, th Thresholds, log *logrus.Logger) (Result, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var res Result

	pending, err := tlog.LoadSet()
	if err != nil {
		return res, err
	}

	if len(pending) > 0 {
		entries, err := sstable.List(dir)
		if err != nil {
			return res, err
		}
		for _, e := range entries {
			dropped, err := applyTombstones(e.Path, pending)
			if err != nil {
				return res, err
			}
			res.TombstonesApplied += dropped
			res.FilesRewritten++
		}
		if err := tlog.Truncate(); err != nil {
			return res, err
		}
		log.WithFields(logrus.Fields{
			"files":      res.FilesRewritten,
			"tombstones": len(pending),
			"dropped":    res.TombstonesApplied,
		}).Debug("compaction: phase A applied tombstones")
	}

	entries, err := sstable.List(dir)
	if err != nil {
		return res, err
	}
	packed, err := packSmallFiles(dir, entries, th)
	if err != nil {
		return res, err
	}
	res.FilesPacked = packed.filesPacked
	res.FilesProduced = packed.filesProduced
	if packed.filesPacked > 0 {
		log.WithFields(logrus.Fields{
			"merged":   packed.filesPacked,
			"produced": packed.filesProduced,
		}).Debug("compaction: phase B packed small files")
	}
	return res, nil
}

// applyTombstones rewrites path in place (temp file + rename),
// dropping every line whose key is in pending. It returns the number
// of lines dropped.
func applyTombstones(path string, pending map[string]struct{}) (int, error) {
	tmpPath := path + ".tmp"
	_ = os.Remove(tmpPath) // self-heal a stray temp left by a prior crash

	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, textlsmerr.IO("create", tmpPath, err)
	}
	w := bufio.NewWriter(out)

	dropped := 0
	scanErr := sstable.ForEach(path, func(key, value []byte) error {
		if _, found := pending[string(key)]; found {
			dropped++
			return nil
		}
		return sstable.WriteLine(w, key, value)
	})
	if scanErr != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return 0, scanErr
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return 0, textlsmerr.IO("flush", tmpPath, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, textlsmerr.IO("close", tmpPath, err)
	}
	if err := os.Remove(path); err != nil {
		return 0, textlsmerr.IO("remove", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, textlsmerr.IO("rename", tmpPath, err)
	}
	return dropped, nil
}

type packResult struct {
	filesPacked   int
	filesProduced int
}

// packSmallFiles concatenates files under th.SmallFile into new
// outputs capped at th.UpperMerge, deduplicating by key across the
// merged set (the newer source file — the one with the greater id —
// wins a collision). Each output file's id is freshly generated, so it
// always sorts after every input it packed.
func packSmallFiles(dir string, entries []sstable.Entry, th Thresholds) (result packResult, err error) {
	var smalls []sstable.Entry
	for _, e := range entries {
		fi, err := os.Stat(e.Path)
		if err != nil {
			return packResult{}, textlsmerr.IO("stat", e.Path, err)
		}
		if fi.Size() < th.SmallFile {
			smalls = append(smalls, e)
		}
	}
	if len(smalls) < 2 {
		return packResult{}, nil
	}

	iters := make([]*tableIter, 0, len(smalls))
	defer func() {
		for _, it := range iters {
			_ = it.close()
		}
	}()
	for _, e := range smalls {
		it, err := newTableIter(e)
		if err != nil {
			return packResult{}, err
		}
		iters = append(iters, it)
	}

	h := &mergeHeap{}
	for _, it := range iters {
		if it.next() {
			heap.Push(h, it)
		}
		if it.err != nil {
			return packResult{}, it.err
		}
	}

	var (
		outFile  *os.File
		outW     *bufio.Writer
		outPath  string
		outSize  int64
		produced []string
	)
	// If we return with an error while an output file is still open, it
	// holds a handle and is absent from produced — remove it rather
	// than leak the handle and leave an untracked partial file behind.
	defer func() {
		if err != nil && outFile != nil {
			_ = outFile.Close()
			_ = os.Remove(outPath)
		}
	}()
	closeOutput := func() error {
		if outFile == nil {
			return nil
		}
		if err := outW.Flush(); err != nil {
			return textlsmerr.IO("flush", outPath, err)
		}
		if err := outFile.Close(); err != nil {
			return textlsmerr.IO("close", outPath, err)
		}
		outFile = nil
		return nil
	}
	openOutput := func() error {
		id := sstable.NextID()
		outPath = filepath.Join(dir, sstable.Filename(id))
		f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return textlsmerr.IO("create", outPath, err)
		}
		outFile = f
		outW = bufio.NewWriter(f)
		outSize = 0
		produced = append(produced, outPath)
		return nil
	}
	writeRecord := func(key, value []byte) error {
		lineLen := int64(len(key) + 1 + len(value) + 1)
		if outFile != nil && outSize > 0 && outSize+lineLen > th.UpperMerge {
			if err := closeOutput(); err != nil {
				return err
			}
		}
		if outFile == nil {
			if err := openOutput(); err != nil {
				return err
			}
		}
		if err := sstable.WriteLine(outW, key, value); err != nil {
			return textlsmerr.IO("write", outPath, err)
		}
		outSize += lineLen
		return nil
	}

	for h.Len() > 0 {
		key := sstable.CloneBytes((*h)[0].key)

		var (
			haveWinner  bool
			winKey      []byte
			winValue    []byte
			winSourceID uint64
		)
		for h.Len() > 0 && bytes.Equal((*h)[0].key, key) {
			it := heap.Pop(h).(*tableIter)
			if !haveWinner || it.sourceID > winSourceID {
				haveWinner = true
				winKey = sstable.CloneBytes(it.key)
				winValue = sstable.CloneBytes(it.value)
				winSourceID = it.sourceID
			}
			if it.next() {
				heap.Push(h, it)
			} else if it.err != nil {
				return packResult{}, it.err
			}
		}
		if err := writeRecord(winKey, winValue); err != nil {
			return packResult{}, err
		}
	}
	if err := closeOutput(); err != nil {
		return packResult{}, err
	}

	for _, e := range smalls {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return packResult{}, textlsmerr.IO("remove", e.Path, err)
		}
	}

	return packResult{filesPacked: len(smalls), filesProduced: len(produced)}, nil
}

// tableIter streams one SSTable's lines in ascending key order, for
// the k-way merge in packSmallFiles.
type tableIter struct {
	sourceID uint64
	f        *os.File
	sc       *bufio.Scanner

	key   []byte
	value []byte
	err   error
}

func newTableIter(e sstable.Entry) (*tableIter, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, textlsmerr.IO("open", e.Path, err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &tableIter{sourceID: e.ID, f: f, sc: sc}, nil
}

func (it *tableIter) next() bool {
	for it.sc.Scan() {
		k, v, ok := sstable.SplitLine(it.sc.Bytes())
		if !ok {
			continue
		}
		it.key = sstable.CloneBytes(k)
		it.value = sstable.CloneBytes(v)
		return true
	}
	if err := it.sc.Err(); err != nil {
		it.err = textlsmerr.IO("scan", it.f.Name(), err)
	}
	return false
}

func (it *tableIter) close() error {
	return it.f.Close()
}

// mergeHeap orders tableIters by current key, ascending.
type mergeHeap []*tableIter

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return bytes.Compare(h[i].key, h[j].key) < 0 }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*tableIter)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
