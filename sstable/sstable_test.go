package sstable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arjunvdev/textlsm/memtable"
)

func TestWriteAndGet(t *testing.T) {
	dir := t.TempDir()
	kvs := []memtable.KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}
	path, err := Write(dir, 1, kvs)
	require.NoError(t, err)

	v, ok, err := Get(path, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))

	_, ok, err = Get(path, []byte("zzz"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFilenameOrderingMatchesCreationOrder(t *testing.T) {
	early := Filename(1)
	later := Filename(2)
	require.Less(t, early, later)

	// Zero-padding must hold across a power-of-ten boundary.
	boundary1 := Filename(999999999999999999)
	boundary2 := Filename(1000000000000000000)
	require.Less(t, boundary1, boundary2)
	require.Len(t, boundary1, len(boundary2))
}

func TestParseIDRoundTrip(t *testing.T) {
	name := Filename(42)
	id, ok := ParseID(name)
	require.True(t, ok)
	require.Equal(t, uint64(42), id)

	_, ok = ParseID("tombstones.dat")
	require.False(t, ok)
}

func TestListSortsAscendingByID(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []uint64{30, 10, 20} {
		_, err := Write(dir, id, []memtable.KV{{Key: []byte("k"), Value: []byte("v")}})
		require.NoError(t, err)
	}
	entries, err := List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, []uint64{10, 20, 30}, []uint64{entries[0].ID, entries[1].ID, entries[2].ID})
}

func TestGetSkipsCorruptLineWithoutMatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Filename(1))
	raw := "a 1\nnodelimiterhere\nb 2\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	var seen []string
	OnCorruptLine = func(_ string, line []byte) { seen = append(seen, string(line)) }
	defer func() { OnCorruptLine = nil }()

	v, ok, err := Get(path, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))
	require.Equal(t, []string{"nodelimiterhere"}, seen)
}

