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

package frozenswiss

import (
	"fmt"
	"iter"
	"maps"
)

// Pairs is a source of key/value pairs that knows its exact length up front.
// All must yield exactly Len pairs with distinct keys. Building from pairs
// with duplicate keys produces a table in which only one of the duplicates
// can be found; which one is unspecified.
type Pairs[K, V any] interface {
	Len() int
	All() iter.Seq2[K, V]
}

// Pair holds a key and value.
type Pair[K, V any] struct {
	Key   K
	Value V
}

// SlicePairs adapts a slice of pairs to Pairs.
type SlicePairs[K, V any] []Pair[K, V]

func (s SlicePairs[K, V]) Len() int { return len(s) }

func (s SlicePairs[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, p := range s {
			if !yield(p.Key, p.Value) {
				return
			}
		}
	}
}

// MapPairs adapts a builtin map to Pairs.
type MapPairs[K comparable, V any] map[K]V

func (m MapPairs[K, V]) Len() int             { return len(m) }
func (m MapPairs[K, V]) All() iter.Seq2[K, V] { return maps.All(m) }

type seqPairs[K, V any] struct {
	n   int
	seq iter.Seq2[K, V]
}

func (s seqPairs[K, V]) Len() int             { return s.n }
func (s seqPairs[K, V]) All() iter.Seq2[K, V] { return s.seq }

// SeqPairs adapts a sequence known to yield n pairs to Pairs.
func SeqPairs[K, V any](n int, seq iter.Seq2[K, V]) Pairs[K, V] {
	return seqPairs[K, V]{n: n, seq: seq}
}

type entryResolver[K, V any] struct {
	bucket   int
	key      K
	value    V
	keyDep   int
	valueDep int
}

// Resolver holds everything needed to finish writing a table whose entries
// have been serialized, except the position of the table header.
type Resolver[K, V any] struct {
	ka        KeyArchiver[K]
	va        Archiver[V]
	layout    TableLayout
	entry     entryLayout
	block     int
	ctrls     []byte
	entries   []entryResolver[K, V]
	allocator Allocator
}

// Len returns the number of entries in the table.
func (r *Resolver[K, V]) Len() int {
	return len(r.entries)
}

// Layout returns the layout of the table.
func (r *Resolver[K, V]) Layout() TableLayout {
	return r.layout
}

// SerializeFromIter assigns each pair a bucket, writes the out-of-line data of
// every key and value followed by space for the table's slots and control
// bytes, and returns a Resolver that ResolveFromLen later uses to fill that
// space in.
//
// The assigned buckets depend only on the keys, their insertion order and
// the load factor. Slots are assigned by walking each key's probe sequence
// over a scratch copy of the control bytes and taking the first empty bucket
// of the first probe step that has one, exactly as lookups walk it.
func SerializeFromIter[K, V any](
	w *Writer, pairs Pairs[K, V], ka KeyArchiver[K], va Archiver[V], options ...option,
) (*Resolver[K, V], error) {
	c := newConfig(options)
	if err := c.loadFactor.Validate(); err != nil {
		return nil, err
	}
	n := pairs.Len()
	if n < 0 || n > maxArchiveSize {
		return nil, fmt.Errorf("frozenswiss: invalid length %d: %w", n, ErrOverflow)
	}
	hash := hashFor(&c, ka)
	layout := Layout(n, c.loadFactor)
	el := makeEntryLayout(ka.Layout(), va.Layout())

	slotBytes, ok := mulOverflowSafe(layout.Buckets, el.size)
	if !ok {
		return nil, fmt.Errorf("frozenswiss: %d buckets of %d bytes: %w", layout.Buckets, el.size, ErrOverflow)
	}

	r := &Resolver[K, V]{
		ka:        ka,
		va:        va,
		layout:    layout,
		entry:     el,
		ctrls:     c.allocator.AllocControls(layout.Controls),
		entries:   make([]entryResolver[K, V], 0, n),
		allocator: c.allocator,
	}
	for i := range r.ctrls {
		r.ctrls[i] = byte(ctrlEmpty)
	}

	err := func() error {
		for k, v := range pairs.All() {
			if len(r.entries) == n {
				return fmt.Errorf("frozenswiss: pairs yielded more than %d entries: %w", n, ErrLengthMismatch)
			}
			h := hash(k)
			b := findInsertSlot(r.ctrls, layout.Buckets, h)
			setCtrl(r.ctrls, layout.Buckets, b, ctrl(h2(h)))

			keyDep, err := ka.Serialize(w, k)
			if err != nil {
				return fmt.Errorf("serializing key: %w", err)
			}
			valueDep, err := va.Serialize(w, v)
			if err != nil {
				return fmt.Errorf("serializing value: %w", err)
			}
			r.entries = append(r.entries, entryResolver[K, V]{
				bucket:   b,
				key:      k,
				value:    v,
				keyDep:   keyDep,
				valueDep: valueDep,
			})
		}
		if len(r.entries) != n {
			return fmt.Errorf("frozenswiss: pairs yielded %d entries, expected %d: %w",
				len(r.entries), n, ErrLengthMismatch)
		}
		var err error
		r.block, err = w.Reserve(slotBytes+layout.Controls, el.align)
		return err
	}()
	if err != nil {
		r.release()
		return nil, err
	}
	return r, nil
}

// ResolveFromLen writes the table described by r into out, which must hold
// everything written by the Writer passed to SerializeFromIter. The table
// header is written at pos. n and lf must be the length and load factor the
// resolver was built with. r may not be used again.
func ResolveFromLen[K, V any](n int, lf LoadFactor, pos int, r *Resolver[K, V], out []byte) {
	layout := Layout(n, lf)
	if invariants && (layout != r.layout || n != len(r.entries)) {
		panic(fmt.Sprintf("invariant failed: resolving %d entries at %s with a resolver for %d entries in %d buckets",
			n, lf, len(r.entries), r.layout.Buckets))
	}
	size := r.entry.size
	copy(out[r.block+r.layout.Buckets*size:], r.ctrls)
	for _, e := range r.entries {
		p := r.block + e.bucket*size
		r.ka.Resolve(out, p, e.key, e.keyDep)
		r.va.Resolve(out, p+r.entry.valueOffset, e.value, e.valueDep)
	}
	writeHeader(out, pos, r.block, n, layout.Buckets)
	r.release()
}

func (r *Resolver[K, V]) release() {
	if r.ctrls != nil {
		r.allocator.FreeControls(r.ctrls)
		r.ctrls = nil
	}
	r.entries = nil
}

// Build writes a table holding pairs into a new buffer and returns the buffer
// along with the position of the table header.
func Build[K, V any](
	pairs Pairs[K, V], ka KeyArchiver[K], va Archiver[V], options ...option,
) ([]byte, int, error) {
	w := NewWriter(0)
	pos, err := BuildInto(w, pairs, ka, va, options...)
	if err != nil {
		return nil, 0, err
	}
	return w.Bytes(), pos, nil
}

// BuildInto appends a table holding pairs to w and returns the position of
// its header.
func BuildInto[K, V any](
	w *Writer, pairs Pairs[K, V], ka KeyArchiver[K], va Archiver[V], options ...option,
) (int, error) {
	r, err := SerializeFromIter(w, pairs, ka, va, options...)
	if err != nil {
		return 0, err
	}
	n := r.Len()
	pos, err := w.Reserve(TableHeaderSize, TableHeaderAlign)
	if err != nil {
		r.release()
		return 0, err
	}
	c := newConfig(options)
	ResolveFromLen(n, c.loadFactor, pos, r, w.Bytes())
	return pos, nil
}
