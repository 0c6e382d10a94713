// Package textlsmerr defines the error kinds the engine distinguishes:
// invalid input, not-found, I/O failure, and on-disk corruption.
package textlsmerr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput is returned when a key or value violates the
	// length or charset rules. State is left unchanged.
	ErrInvalidInput = errors.New("textlsm: invalid input")

	// ErrNotFound is returned by Read when no source — memtable,
	// tombstone log, or any SSTable — has a definitive answer. Delete
	// does not return it: a key it cannot find gets a tombstone.
	ErrNotFound = errors.New("textlsm: not found")

	// ErrCorruption names the on-disk corruption kind. No operation
	// returns it: SSTable readers skip a line that cannot be parsed and
	// report it through sstable.OnCorruptLine instead.
	ErrCorruption = errors.New("textlsm: corrupt record")

	// ErrIO is the sentinel wrapped around filesystem failures so callers
	// can do errors.Is(err, ErrIO) regardless of the underlying os error.
	ErrIO = errors.New("textlsm: i/o error")
)

// IO wraps a filesystem failure with call-site context. The returned
// error satisfies errors.Is(err, ErrIO) and errors.Unwrap(err) yields
// the original cause (with a stack trace attached by pkg/errors).
func IO(op string, path string, cause error) error {
	if cause == nil {
		return nil
	}
	return &ioError{op: op, path: path, cause: errors.WithStack(cause)}
}

type ioError struct {
	op    string
	path  string
	cause error
}

func (e *ioError) Error() string {
	return fmt.Sprintf("textlsm: %s %s: %v", e.op, e.path, e.cause)
}

func (e *ioError) Unwrap() error { return e.cause }

func (e *ioError) Is(target error) bool { return target == ErrIO }

func (e *ioError) Cause() error { return e.cause }
