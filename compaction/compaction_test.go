package compaction

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arjunvdev/textlsm/memtable"
	"github.com/arjunvdev/textlsm/sstable"
	"github.com/arjunvdev/textlsm/tombstone"
)

func openTombstoneLog(t *testing.T, dir string) *tombstone.Log {
	t.Helper()
	l, err := tombstone.Open(filepath.Join(dir, "tombstones.dat"))
	require.NoError(t, err)
	return l
}

func TestRunAppliesTombstonesAndTruncatesLog(t *testing.T) {
	dir := t.TempDir()
	_, err := sstable.Write(dir, 1, []memtable.KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	})
	require.NoError(t, err)

	tlog := openTombstoneLog(t, dir)
	require.NoError(t, tlog.Append([]byte("a")))

	res, err := Run(dir, tlog, Thresholds{SmallFile: 1, UpperMerge: 1 << 20}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.TombstonesApplied)
	require.Equal(t, 1, res.FilesRewritten)

	entries, err := sstable.List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, found, err := sstable.Get(entries[0].Path, []byte("a"))
	require.NoError(t, err)
	require.False(t, found)

	v, found, err := sstable.Get(entries[0].Path, []byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", string(v))

	set, err := tlog.LoadSet()
	require.NoError(t, err)
	require.Empty(t, set)
}

func TestRunPacksSmallFilesAndDedupsByNewestSource(t *testing.T) {
	dir := t.TempDir()
	_, err := sstable.Write(dir, 1, []memtable.KV{{Key: []byte("k"), Value: []byte("old")}})
	require.NoError(t, err)
	_, err = sstable.Write(dir, 2, []memtable.KV{{Key: []byte("k"), Value: []byte("new")}})
	require.NoError(t, err)
	_, err = sstable.Write(dir, 3, []memtable.KV{{Key: []byte("z"), Value: []byte("z1")}})
	require.NoError(t, err)

	tlog := openTombstoneLog(t, dir)

	res, err := Run(dir, tlog, Thresholds{SmallFile: 1 << 20, UpperMerge: 1 << 20}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.FilesPacked)
	require.Equal(t, 1, res.FilesProduced)

	entries, err := sstable.List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	v, found, err := sstable.Get(entries[0].Path, []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "new", string(v))

	v, found, err = sstable.Get(entries[0].Path, []byte("z"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "z1", string(v))
}

func TestRunLeavesLargeFilesUnpacked(t *testing.T) {
	dir := t.TempDir()
	_, err := sstable.Write(dir, 1, []memtable.KV{{Key: []byte("a"), Value: []byte("1")}})
	require.NoError(t, err)

	tlog := openTombstoneLog(t, dir)

	res, err := Run(dir, tlog, Thresholds{SmallFile: 1, UpperMerge: 1 << 20}, nil)
	require.NoError(t, err)
	require.Zero(t, res.FilesPacked)

	entries, err := sstable.List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRunNoOpOnEmptyDir(t *testing.T) {
	dir := t.TempDir()
	tlog := openTombstoneLog(t, dir)

	res, err := Run(dir, tlog, Thresholds{SmallFile: 1 << 10, UpperMerge: 1 << 20}, nil)
	require.NoError(t, err)
	require.Zero(t, res.TombstonesApplied)
	require.Zero(t, res.FilesPacked)
}
