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
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// TableHeaderSize is the size of a table header: a relative pointer to
	// the slot array, the number of entries and the number of buckets.
	TableHeaderSize = 12
	// TableHeaderAlign is the alignment of a table header.
	TableHeaderAlign = 4
)

// Ref is a view of an archived key: the buffer it lives in and the position
// of its inline form.
type Ref struct {
	Buf []byte
	Pos int
}

// rawTable is an untyped view of a table over a buffer. It trusts the bytes
// it is given; only checked buffers may be wrapped in a rawTable.
type rawTable struct {
	buf []byte
	// slots is the position of the slot array in buf.
	slots   int
	ctrls   []byte
	len     int
	buckets int
	layout  entryLayout
}

func readHeader(buf []byte, pos int) (slots, n, buckets int) {
	slots = relPtrTarget(buf, pos)
	n = int(binary.LittleEndian.Uint32(buf[pos+4:]))
	buckets = int(binary.LittleEndian.Uint32(buf[pos+8:]))
	return slots, n, buckets
}

func writeHeader(out []byte, pos, slots, n, buckets int) {
	putRelPtr(out, pos, slots)
	binary.LittleEndian.PutUint32(out[pos+4:], uint32(n))
	binary.LittleEndian.PutUint32(out[pos+8:], uint32(buckets))
}

func newRawTable(buf []byte, pos int, entry entryLayout) rawTable {
	slots, n, buckets := readHeader(buf, pos)
	ctrlStart := slots + buckets*entry.size
	ctrlEnd := ctrlStart + controlsFor(buckets)
	return rawTable{
		buf:     buf,
		slots:   slots,
		ctrls:   buf[ctrlStart:ctrlEnd:ctrlEnd],
		len:     n,
		buckets: buckets,
		layout:  entry,
	}
}

// entry returns the position of the entry stored in bucket i.
func (t *rawTable) entry(i int) int {
	return t.slots + i*t.layout.size
}

// find returns the bucket holding the entry with the given hash for which eq
// returns true. eq is passed the position of each candidate entry.
//
// To find the location of a key we walk the probe sequence for h1(hash). At
// each step the maxGroupWidth control bytes starting at the probe position
// are examined as subGroups SWAR groups. Within a group, candidates are the
// full buckets whose control byte equals h2(hash); eq is consulted for each.
// A group which contains an empty bucket ends the search: at build time an
// entry is placed in the first empty bucket of the first step that has one,
// and buckets only ever go from empty to full, so a key cannot live past
// the first group that still has an empty bucket.
func (t *rawTable) find(hash uint64, eq func(pos int) bool) (int, bool) {
	if t.buckets == 0 {
		return 0, false
	}
	tag := h2(hash)
	seq := makeProbeSeq(h1(hash), t.buckets)
	if debug {
		fmt.Printf("find(%016x): %s\n", hash, seq)
	}
	for {
		p := seq.pos()
		for i := 0; i < subGroups; i++ {
			q := p + i*groupWidth
			g := loadGroup(t.ctrls, q)
			match := g.matchH2(tag)
			if debug {
				fmt.Printf("find(probing): offset=%d h2=%02x match=%s [% 02x]\n",
					q, tag, match, t.ctrls[q:q+groupWidth])
			}
			for match != 0 {
				b := (q + match.first()) % t.buckets
				if eq(t.entry(b)) {
					return b, true
				}
				match = match.removeFirst()
			}
			if g.matchEmpty() != 0 {
				if debug {
					fmt.Printf("find(not-found): offset=%d\n", q)
				}
				return 0, false
			}
		}
		if !seq.next() {
			return 0, false
		}
	}
}

func (t *rawTable) isFull(i int) bool {
	return ctrl(t.ctrls[i]).isFull()
}

func (t *rawTable) iter() rawIter {
	return rawIter{t: t, remaining: t.len}
}

// rawIter walks the full buckets of a table in bucket order. Mirrored
// control bytes are never visited, so every entry is yielded once.
type rawIter struct {
	t         *rawTable
	next      int
	remaining int
}

// Next returns the next full bucket.
func (it *rawIter) Next() (int, bool) {
	for it.remaining > 0 && it.next < it.t.buckets {
		i := it.next
		it.next++
		if it.t.isFull(i) {
			it.remaining--
			return i, true
		}
	}
	return 0, false
}

// Len returns the number of entries not yet returned.
func (it *rawIter) Len() int {
	return it.remaining
}

// checkInvariants verifies the control bytes of the table when built with
// the invariants tag.
func (t *rawTable) checkInvariants(describe func(pos int) string) {
	if invariants {
		var used int
		for i := 0; i < t.buckets; i++ {
			c := ctrl(t.ctrls[i])
			if !c.isFull() && c != ctrlEmpty {
				panic(fmt.Sprintf("invariant failed: ctrl(%d): unexpected %02x\n%s", i, c, t.debugString(describe)))
			}
			if c.isFull() {
				used++
			}
		}
		if used != t.len {
			panic(fmt.Sprintf("invariant failed: found %d used buckets, but len is %d\n%s",
				used, t.len, t.debugString(describe)))
		}
		for j := t.buckets; j < len(t.ctrls); j++ {
			want := ctrlEmpty
			if t.buckets > 0 {
				want = ctrl(t.ctrls[j%t.buckets])
			}
			if c := ctrl(t.ctrls[j]); c != want {
				panic(fmt.Sprintf("invariant failed: ctrl(%d)=%02x != %02x\n%s", j, c, want, t.debugString(describe)))
			}
		}
	}
}

func (t *rawTable) debugString(describe func(pos int) string) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "buckets=%d  len=%d  controls=%d\n", t.buckets, t.len, len(t.ctrls))
	for i := range t.ctrls {
		switch c := ctrl(t.ctrls[i]); {
		case c == ctrlEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case !c.isFull():
			fmt.Fprintf(&buf, "  %4d: invalid [ctrl=%02x]\n", i, c)
		case i < t.buckets:
			fmt.Fprintf(&buf, "  %4d: %s [ctrl=%02x]\n", i, describe(t.entry(i)), c)
		default:
			fmt.Fprintf(&buf, "  %4d: [ctrl=%02x]\n", i, c)
		}
	}
	return buf.String()
}
