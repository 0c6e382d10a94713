// Package tombstone implements the append-only log of keys whose
// deletion has not yet been absorbed into the SSTables.
package tombstone

import (
	"bufio"
	"bytes"
	"os"

	"github.com/arjunvdev/textlsm/textlsmerr"
)

// Log is a single text file of "<key>\n" lines. It is not safe for
// concurrent use — the engine that owns it is itself single-writer.
type Log struct {
	path string
}

// Open ensures path exists (creating it empty if absent) and returns a
// handle to it.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, textlsmerr.IO("open", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, textlsmerr.IO("close", path, err)
	}
	return &Log{path: path}, nil
}

// Append records key as pending deletion. Order is not significant;
// duplicate entries for the same key are harmless.
func (l *Log) Append(key []byte) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return textlsmerr.IO("open", l.path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(key); err != nil {
		return textlsmerr.IO("write", l.path, err)
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return textlsmerr.IO("write", l.path, err)
	}
	return nil
}

// Contains reports whether key has a pending tombstone. It scans the
// log once per call; callers resolving many keys against the same
// snapshot should prefer LoadSet.
func (l *Log) Contains(key []byte) (bool, error) {
	set, err := l.LoadSet()
	if err != nil {
		return false, err
	}
	_, ok := set[string(key)]
	return ok, nil
}

// LoadSet reads every pending key into an in-memory set for O(1)
// average membership tests, rather than a linear scan per lookup.
func (l *Log) LoadSet() (map[string]struct{}, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, textlsmerr.IO("open", l.path, err)
	}
	defer func() { _ = f.Close() }()

	set := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		set[string(bytes.TrimRight(line, "\r"))] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, textlsmerr.IO("scan", l.path, err)
	}
	return set, nil
}

// Truncate empties the log in place. Callers applying tombstones to
// every SSTable must not call this until every rewrite has succeeded —
// truncating first would lose a tombstone to a mid-pass crash.
func (l *Log) Truncate() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return textlsmerr.IO("truncate", l.path, err)
	}
	return textlsmerr.IO("close", l.path, f.Close())
}

// Path returns the log's file path.
func (l *Log) Path() string { return l.path }
