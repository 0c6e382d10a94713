package engine

import "github.com/sirupsen/logrus"

// Options configures an Engine. For a zero value, Open falls back to
// "data" for Dir and 100 for the length limits, but leaves
// FlushThreshold at zero (no automatic flush) and both compaction
// thresholds at zero (phase B packs nothing); call DefaultOptions and
// override individual fields.
type Options struct {
	// Dir is the data directory. SSTables and the tombstone log both
	// live directly under it.
	Dir string

	MaxKeyLength   int
	MaxValueLength int

	// FlushThreshold is the memtable byte-charge level that triggers an
	// automatic flush after a write. Zero disables automatic flushing.
	FlushThreshold int

	// SmallFileThreshold and UpperMergeThreshold drive compaction's
	// phase B packing (see package compaction).
	SmallFileThreshold  int64
	UpperMergeThreshold int64

	// Logger receives structured debug events for flush and compaction,
	// and a warning for each corrupt SSTable line that a read skips. Nil
	// defaults to logrus.StandardLogger().
	Logger *logrus.Logger
}

// DefaultOptions returns the store's default thresholds: 100-byte keys
// and values, a ~1 MiB flush threshold, and 200/400 KiB compaction
// thresholds.
func DefaultOptions() Options {
	return Options{
		Dir:                 "data",
		MaxKeyLength:        100,
		MaxValueLength:      100,
		FlushThreshold:      1 << 20,
		SmallFileThreshold:  200 << 10,
		UpperMergeThreshold: 400 << 10,
	}
}
