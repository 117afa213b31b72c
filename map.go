// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package frozenswiss implements immutable Swiss Tables whose serialized
// bytes are also their in-memory representation. A table is built once into
// a byte buffer and then read directly from that buffer, whether it came from
// a file, a memory mapping or the network, with no deserialization pass.
//
// See https://abseil.io/about/design/swisstables for the design of Swiss
// tables, and https://faultlore.com/blah/hashbrown-tldr/ for an overview.
//
// # Layout
//
// A table is a 12 byte header (a relative pointer to its slots, the number
// of entries and the number of buckets) pointing at a block holding the slot
// array followed by the control bytes. All integers are little endian and
// every pointer is an int32 offset relative to its own position, so a buffer
// can be placed anywhere in memory.
//
// Each bucket has one control byte: 0x80 if the bucket is empty, or the low
// 7 bits of the hash of its key (h2) if it is full. The control array holds
// the bucket count plus 15 bytes, rounded up to a multiple of 16. That is
// one group more than rounding the bucket count itself up to 16 when the
// bucket count is already a multiple of 16, and it keeps a group of control
// bytes read starting at the last bucket in bounds. The bytes past the last
// bucket mirror the bytes at the start, so such a group never needs to wrap.
//
// The number of buckets is not rounded to a power of 2. It is the smallest
// count that keeps the load at or below the load factor (7/8 by default).
// Probing starts at h1 modulo the bucket count and visits groups at
// triangular multiples of 16 from there, skipping offsets that fall past the
// last bucket. See the comments on probeSeq for details.
//
// # Safety
//
// A buffer of unknown provenance must be checked before it is read. Access
// checks the table and everything reachable from it, including shared
// pointers nested in keys and values, and only then returns a Map. A
// location reachable through several shared pointers is checked once per
// Context. AccessUnchecked skips the check for buffers the caller produced.
//
// # Building
//
// Tables are built in two steps to support relative pointers in an
// append-only writer. SerializeFromIter assigns buckets and writes the
// out-of-line data of every key and value, returning a Resolver.
// ResolveFromLen then fills in the slots, the control bytes and the header
// once the position of the header is known. Build does both.
package frozenswiss

import (
	"fmt"
	"iter"
	"strings"
)

// Map is a read-only view of a table of K to V in a byte buffer. A Map is
// safe for concurrent readers. Values written through a ValueMut must not
// race with readers.
type Map[K, V any] struct {
	t    rawTable
	ka   KeyArchiver[K]
	va   Archiver[V]
	hash func(K) uint64
}

// Access checks the table whose header is at buf[pos:] and returns a Map over
// it. The options must include the WithHash option used to build the table,
// if any. WithLoadFactor additionally requires the table to have exactly the
// bucket count that load factor produces.
func Access[K, V any](
	buf []byte, pos int, ka KeyArchiver[K], va Archiver[V], options ...option,
) (*Map[K, V], error) {
	return AccessWithContext(NewContext(buf), pos, ka, va, options...)
}

// AccessWithContext is like Access but checks the table within an existing
// Context, so shared values already checked in this pass are not checked
// again.
func AccessWithContext[K, V any](
	c *Context, pos int, ka KeyArchiver[K], va Archiver[V], options ...option,
) (*Map[K, V], error) {
	if err := CheckMap(c, pos, ka, va, options...); err != nil {
		return nil, err
	}
	return AccessUnchecked(c.Bytes(), pos, ka, va, options...), nil
}

// AccessUnchecked returns a Map over the table at buf[pos:] without checking
// it. The buffer must have been produced by Build or checked already;
// malformed bytes may cause panics or wrong results.
func AccessUnchecked[K, V any](
	buf []byte, pos int, ka KeyArchiver[K], va Archiver[V], options ...option,
) *Map[K, V] {
	c := newConfig(options)
	m := &Map[K, V]{
		t:    newRawTable(buf, pos, makeEntryLayout(ka.Layout(), va.Layout())),
		ka:   ka,
		va:   va,
		hash: hashFor(&c, ka),
	}
	m.checkInvariants()
	return m
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.t.len
}

// IsEmpty reports whether the map has no entries.
func (m *Map[K, V]) IsEmpty() bool {
	return m.t.len == 0
}

// Capacity returns the number of buckets in the map.
func (m *Map[K, V]) Capacity() int {
	return m.t.buckets
}

// Hash returns the hash of key used to place it in the map.
func (m *Map[K, V]) Hash(key K) uint64 {
	return m.hash(key)
}

func (m *Map[K, V]) find(key K) (int, bool) {
	return m.t.find(m.hash(key), func(pos int) bool {
		return m.ka.Equal(m.t.buf, pos, key)
	})
}

func (m *Map[K, V]) findWith(hash uint64, eq func(Ref) bool) (int, bool) {
	return m.t.find(hash, func(pos int) bool {
		return eq(Ref{Buf: m.t.buf, Pos: pos})
	})
}

func (m *Map[K, V]) readValue(bucket int) V {
	return m.va.Read(m.t.buf, m.t.entry(bucket)+m.t.layout.valueOffset)
}

func (m *Map[K, V]) readKey(bucket int) K {
	return m.ka.Read(m.t.buf, m.t.entry(bucket))
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	b, ok := m.find(key)
	if !ok {
		return value, false
	}
	return m.readValue(b), true
}

// GetKeyValue is like Get but also returns the archived key.
func (m *Map[K, V]) GetKeyValue(key K) (k K, v V, ok bool) {
	b, ok := m.find(key)
	if !ok {
		return k, v, false
	}
	return m.readKey(b), m.readValue(b), true
}

// ContainsKey reports whether key is present in the map.
func (m *Map[K, V]) ContainsKey(key K) bool {
	_, ok := m.find(key)
	return ok
}

// Index returns the value for key. It panics if the key is not present.
func (m *Map[K, V]) Index(key K) V {
	b, ok := m.find(key)
	if !ok {
		panic(fmt.Sprintf("frozenswiss: key %v not found", key))
	}
	return m.readValue(b)
}

// GetWith looks up the entry with the given hash whose archived key satisfies
// eq. It allows probing with a representation of the key other than K, such
// as a []byte for a string key hashed with HashBytes.
func (m *Map[K, V]) GetWith(hash uint64, eq func(Ref) bool) (value V, ok bool) {
	b, ok := m.findWith(hash, eq)
	if !ok {
		return value, false
	}
	return m.readValue(b), true
}

// GetKeyValueWith is like GetWith but also returns the archived key.
func (m *Map[K, V]) GetKeyValueWith(hash uint64, eq func(Ref) bool) (k K, v V, ok bool) {
	b, ok := m.findWith(hash, eq)
	if !ok {
		return k, v, false
	}
	return m.readKey(b), m.readValue(b), true
}

// ValueMut is a handle on the inline bytes of one value in a map. It cannot
// reach the key or the control bytes, so the placement of the entry is never
// affected by writes through it.
type ValueMut[V any] struct {
	buf  []byte
	pos  int
	size int
	va   Archiver[V]
}

// Bytes returns the inline bytes of the value. The slice has no spare
// capacity.
func (v ValueMut[V]) Bytes() []byte {
	end := v.pos + v.size
	return v.buf[v.pos:end:end]
}

// Get returns the current value.
func (v ValueMut[V]) Get() V {
	return v.va.Read(v.buf, v.pos)
}

// Set overwrites the value in place. It returns ErrNotPatchable unless the
// value's archiver implements Patcher.
func (v ValueMut[V]) Set(value V) error {
	p, ok := v.va.(Patcher[V])
	if !ok {
		return fmt.Errorf("%T: %w", v.va, ErrNotPatchable)
	}
	p.Patch(v.Bytes(), value)
	return nil
}

func (m *Map[K, V]) valueMut(bucket int) ValueMut[V] {
	return ValueMut[V]{
		buf:  m.t.buf,
		pos:  m.t.entry(bucket) + m.t.layout.valueOffset,
		size: m.va.Layout().Size,
		va:   m.va,
	}
}

// ValueMut returns a handle on the value for key. The caller must hold
// exclusive access to the map while writing through it.
func (m *Map[K, V]) ValueMut(key K) (ValueMut[V], bool) {
	b, ok := m.find(key)
	if !ok {
		return ValueMut[V]{}, false
	}
	return m.valueMut(b), true
}

// KeyValueMut is like ValueMut but also returns the archived key.
func (m *Map[K, V]) KeyValueMut(key K) (K, ValueMut[V], bool) {
	b, ok := m.find(key)
	if !ok {
		var k K
		return k, ValueMut[V]{}, false
	}
	return m.readKey(b), m.valueMut(b), true
}

// ValueMutWith is like GetWith but returns a handle on the value.
func (m *Map[K, V]) ValueMutWith(hash uint64, eq func(Ref) bool) (ValueMut[V], bool) {
	b, ok := m.findWith(hash, eq)
	if !ok {
		return ValueMut[V]{}, false
	}
	return m.valueMut(b), true
}

// All returns an iterator over the entries of the map in bucket order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it := m.t.iter()
		for b, ok := it.Next(); ok; b, ok = it.Next() {
			if !yield(m.readKey(b), m.readValue(b)) {
				return
			}
		}
	}
}

// Keys returns an iterator over the keys of the map.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		it := m.t.iter()
		for b, ok := it.Next(); ok; b, ok = it.Next() {
			if !yield(m.readKey(b)) {
				return
			}
		}
	}
}

// Values returns an iterator over the values of the map.
func (m *Map[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		it := m.t.iter()
		for b, ok := it.Next(); ok; b, ok = it.Next() {
			if !yield(m.readValue(b)) {
				return
			}
		}
	}
}

// ValuesMut returns an iterator over handles on the values of the map.
func (m *Map[K, V]) ValuesMut() iter.Seq[ValueMut[V]] {
	return func(yield func(ValueMut[V]) bool) {
		it := m.t.iter()
		for b, ok := it.Next(); ok; b, ok = it.Next() {
			if !yield(m.valueMut(b)) {
				return
			}
		}
	}
}

// AllMut returns an iterator over the keys of the map and handles on their
// values.
func (m *Map[K, V]) AllMut() iter.Seq2[K, ValueMut[V]] {
	return func(yield func(K, ValueMut[V]) bool) {
		it := m.t.iter()
		for b, ok := it.Next(); ok; b, ok = it.Next() {
			if !yield(m.readKey(b), m.valueMut(b)) {
				return
			}
		}
	}
}

// Iter is an iterator over the entries of a map that knows how many entries
// remain.
type Iter[K, V any] struct {
	m  *Map[K, V]
	it rawIter
}

// Iter returns a new iterator positioned before the first entry.
func (m *Map[K, V]) Iter() *Iter[K, V] {
	return &Iter[K, V]{m: m, it: m.t.iter()}
}

// Next returns the next entry, or ok=false once every entry has been
// returned.
func (it *Iter[K, V]) Next() (k K, v V, ok bool) {
	b, ok := it.it.Next()
	if !ok {
		return k, v, false
	}
	return it.m.readKey(b), it.m.readValue(b), true
}

// Len returns the number of entries not yet returned.
func (it *Iter[K, V]) Len() int {
	return it.it.Len()
}

// Equal reports whether a and b hold the same entries. Tables built from the
// same entries in a different order compare equal even though their bytes
// differ.
func Equal[K any, V comparable](a, b *Map[K, V]) bool {
	return EqualFunc(a, b, func(x, y V) bool { return x == y })
}

// EqualFunc is like Equal but compares values with eq.
func EqualFunc[K, V any](a, b *Map[K, V], eq func(V, V) bool) bool {
	if a.Len() != b.Len() {
		return false
	}
	for k, v := range a.All() {
		w, ok := b.Get(k)
		if !ok || !eq(v, w) {
			return false
		}
	}
	return true
}

// String renders the map like a builtin map, in bucket order.
func (m *Map[K, V]) String() string {
	var buf strings.Builder
	buf.WriteString("map[")
	first := true
	for k, v := range m.All() {
		if !first {
			buf.WriteByte(' ')
		}
		first = false
		fmt.Fprintf(&buf, "%v:%v", k, v)
	}
	buf.WriteByte(']')
	return buf.String()
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		describe := func(pos int) string {
			return fmt.Sprint(m.ka.Read(m.t.buf, pos))
		}
		m.t.checkInvariants(describe)
		it := m.t.iter()
		for b, ok := it.Next(); ok; b, ok = it.Next() {
			k := m.readKey(b)
			if _, ok := m.find(k); !ok {
				h := m.hash(k)
				panic(fmt.Sprintf("invariant failed: bucket(%d): %v not found [h2=%02x h1=%07x]\n%s",
					b, k, h2(h), h1(h), m.t.debugString(describe)))
			}
		}
	}
}
