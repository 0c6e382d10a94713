// Package memtable implements the engine's in-memory ordered index: a
// skip list keyed by byte-string, with per-entry memory charge
// accounting layered on top.
package memtable

import (
	"bytes"

	"github.com/huandu/skiplist"
)

const fixedOverhead = 48 // approximates per-node bookkeeping

// byteKeys orders skiplist elements by the raw byte-string comparison
// our keys need. Keys have no natural numeric score, so CalcScore
// returns a constant and every ordering decision falls through to
// Compare.
type byteKeys struct{}

func (byteKeys) Compare(lhs, rhs interface{}) int {
	return bytes.Compare(lhs.([]byte), rhs.([]byte))
}

func (byteKeys) CalcScore(interface{}) float64 { return 0 }

// record is the value stored at each skip list element: the value
// bytes plus the entry's contribution to the memtable's byte counter.
type record struct {
	value  []byte
	charge int
}

func charge(key, value []byte) int {
	return fixedOverhead + len(key) + len(value)
}

// Memtable is an ordered associative container mapping keys to values
// in lexicographic byte order. It owns its entries exclusively; zero
// value is not usable, construct with New.
type Memtable struct {
	sl    *skiplist.SkipList
	bytes int
	count int
}

// New returns an empty Memtable.
func New() *Memtable {
	return &Memtable{sl: skiplist.New(byteKeys{})}
}

// Insert adds key/value if key is absent, or overwrites the value for
// an existing key. The byte counter is adjusted by the full entry size
// on create, or by the size delta on overwrite. Callers are expected
// to have already validated key/value against length and charset
// rules; Insert itself performs no validation.
func (m *Memtable) Insert(key, value []byte) {
	if elem := m.sl.Get(key); elem != nil {
		r := elem.Value.(*record)
		newCharge := charge(key, value)
		m.bytes += newCharge - r.charge
		r.value = cloneBytes(value)
		r.charge = newCharge
		return
	}
	r := &record{value: cloneBytes(value), charge: charge(key, value)}
	m.sl.Set(cloneBytes(key), r)
	m.bytes += r.charge
	m.count++
}

// Lookup returns the current value for key, and whether it was found.
func (m *Memtable) Lookup(key []byte) ([]byte, bool) {
	elem := m.sl.Get(key)
	if elem == nil {
		return nil, false
	}
	return cloneBytes(elem.Value.(*record).value), true
}

// Remove deletes the entry for key, if present, decreasing the byte
// counter by its charge. It returns false without side effects if the
// key is absent — callers use that to decide whether a tombstone needs
// to be appended instead.
func (m *Memtable) Remove(key []byte) bool {
	elem := m.sl.Remove(key)
	if elem == nil {
		return false
	}
	r := elem.Value.(*record)
	m.bytes -= r.charge
	m.count--
	return true
}

// KV is a key/value pair yielded by EnumerateInOrder.
type KV struct {
	Key   []byte
	Value []byte
}

// EnumerateInOrder returns every entry in ascending key order.
func (m *Memtable) EnumerateInOrder() []KV {
	out := make([]KV, 0, m.count)
	for elem := m.sl.Front(); elem != nil; elem = elem.Next() {
		r := elem.Value.(*record)
		out = append(out, KV{Key: cloneBytes(elem.Key().([]byte)), Value: cloneBytes(r.value)})
	}
	return out
}

// Clear frees every entry and zeroes the byte counter.
func (m *Memtable) Clear() {
	m.sl = skiplist.New(byteKeys{})
	m.bytes = 0
	m.count = 0
}

// ByteCount returns the current memory-charge total. The invariant
// bytes == sum(charge) holds by construction: Insert, Remove and Clear
// are the only mutators and each keeps it up to date.
func (m *Memtable) ByteCount() int { return m.bytes }

// Len reports the number of distinct keys currently held.
func (m *Memtable) Len() int { return m.count }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
