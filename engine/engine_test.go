package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arjunvdev/textlsm/sstable"
	"github.com/arjunvdev/textlsm/textlsmerr"
)

func newTestEngine(t *testing.T, mutate func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Dir = t.TempDir()
	if mutate != nil {
		mutate(&opts)
	}
	eng, err := Open(opts)
	require.NoError(t, err)
	return eng
}

func TestWriteReadRoundTrip(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Write([]byte("k"), []byte("v")))
	v, err := eng.Read([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}

func TestWriteRejectsInvalidInputWithoutMutatingState(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Write([]byte("k"), []byte("v")))

	err := eng.Write([]byte("bad key"), []byte("v2"))
	require.ErrorIs(t, err, textlsmerr.ErrInvalidInput)
	err = eng.Write([]byte("k2"), []byte("bad\nvalue"))
	require.ErrorIs(t, err, textlsmerr.ErrInvalidInput)

	v, err := eng.Read([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
	_, err = eng.Read([]byte("k2"))
	require.ErrorIs(t, err, textlsmerr.ErrNotFound)
}

func TestOverwriteReturnsLatestValue(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Write([]byte("k"), []byte("v1")))
	require.NoError(t, eng.Write([]byte("k"), []byte("v2")))
	v, err := eng.Read([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func TestDeleteThenReadIsAbsent(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Write([]byte("k"), []byte("v")))
	require.NoError(t, eng.Delete([]byte("k")))
	_, err := eng.Read([]byte("k"))
	require.ErrorIs(t, err, textlsmerr.ErrNotFound)
}

func TestOverwriteAcrossFlush(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Write([]byte("k"), []byte("v1")))
	require.NoError(t, eng.Flush())
	require.NoError(t, eng.Write([]byte("k"), []byte("v2")))

	v, err := eng.Read([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func TestDeleteAcrossFlush(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Write([]byte("k"), []byte("v1")))
	require.NoError(t, eng.Flush())
	require.NoError(t, eng.Delete([]byte("k")))

	_, err := eng.Read([]byte("k"))
	require.ErrorIs(t, err, textlsmerr.ErrNotFound)
}

func TestTombstoneShadowedByReinsert(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Write([]byte("k"), []byte("v1")))
	require.NoError(t, eng.Flush())
	require.NoError(t, eng.Delete([]byte("k")))
	require.NoError(t, eng.Write([]byte("k"), []byte("v2")))

	v, err := eng.Read([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func TestClearAllEmptiesMemtableAndDirectory(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Write([]byte("k"), []byte("v")))
	require.NoError(t, eng.Flush())
	require.NoError(t, eng.ClearAll())

	require.Zero(t, eng.ByteCount())
	_, err := eng.Read([]byte("k"))
	require.ErrorIs(t, err, textlsmerr.ErrNotFound)

	entries, err := sstable.List(eng.dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFlushBoundaryWritesAllKeys(t *testing.T) {
	eng := newTestEngine(t, func(o *Options) {
		o.MaxKeyLength = 32
		o.MaxValueLength = 32
		o.FlushThreshold = 4096
	})
	const n = 10000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		value := []byte(fmt.Sprintf("val-%06d", i))
		require.NoError(t, eng.Write(key, value))
	}
	require.NoError(t, eng.Flush())

	for i := 0; i < n; i += 997 { // sample rather than check all 10k for speed
		key := []byte(fmt.Sprintf("key-%06d", i))
		want := fmt.Sprintf("val-%06d", i)
		v, err := eng.Read(key)
		require.NoError(t, err)
		require.Equal(t, want, string(v))
	}
	require.Greater(t, eng.Stats().FlushCount, 1)
}

func TestCompactPacksAndPreservesReads(t *testing.T) {
	eng := newTestEngine(t, func(o *Options) {
		o.SmallFileThreshold = 1 << 20
		o.UpperMergeThreshold = 1 << 20
	})
	for i := 0; i < 5; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		value := []byte(fmt.Sprintf("v%d", i))
		require.NoError(t, eng.Write(key, value))
		require.NoError(t, eng.Flush())
	}
	require.NoError(t, eng.Delete([]byte("k0")))
	require.NoError(t, eng.Compact())

	_, err := eng.Read([]byte("k0"))
	require.ErrorIs(t, err, textlsmerr.ErrNotFound)

	for i := 1; i < 5; i++ {
		v, err := eng.Read([]byte(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
	require.Equal(t, 1, eng.Stats().CompactionRuns)
}

func TestTenSingleRecordFlushesCompactIntoFewerFiles(t *testing.T) {
	eng := newTestEngine(t, nil) // default flush/small-file/upper-merge thresholds
	const n = 10
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		value := []byte(fmt.Sprintf("v%d", i))
		require.NoError(t, eng.Write(key, value))
		require.NoError(t, eng.Flush())
	}

	before, err := sstable.List(eng.dir)
	require.NoError(t, err)
	require.Len(t, before, n)

	require.NoError(t, eng.Compact())

	after, err := sstable.List(eng.dir)
	require.NoError(t, err)
	require.Less(t, len(after), len(before))

	for _, e := range after {
		fi, err := os.Stat(e.Path)
		require.NoError(t, err)
		require.LessOrEqual(t, fi.Size(), eng.opts.UpperMergeThreshold)
	}

	for i := 0; i < n; i++ {
		v, err := eng.Read([]byte(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
}

func TestOpenSeedsIDCounterAboveExistingFiles(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.Dir = dir
	eng, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, eng.Write([]byte("a"), []byte("1")))
	require.NoError(t, eng.Flush())

	reopened, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, reopened.Write([]byte("b"), []byte("2")))
	require.NoError(t, reopened.Flush())

	entries, err := sstable.List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Less(t, entries[0].ID, entries[1].ID)
}

func TestCleanupStrayTempFilesOnOpen(t *testing.T) {
	dir := t.TempDir()
	strayPath := filepath.Join(dir, sstable.Filename(1)+".tmp")
	require.NoError(t, os.WriteFile(strayPath, []byte(""), 0o644))

	opts := DefaultOptions()
	opts.Dir = dir
	_, err := Open(opts)
	require.NoError(t, err)
	require.NoFileExists(t, strayPath)
}
