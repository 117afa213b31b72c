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
	"math/bits"
	"strings"
)

const (
	debug = false

	// maxGroupWidth is the number of control bytes examined by a single probe
	// step. It is part of the format: the mirrored tail and the probe offsets
	// are derived from it, so it must not depend on the hardware.
	maxGroupWidth = 16
	// groupWidth is the number of control bytes compared at once by the SWAR
	// matching routines below.
	groupWidth = 8
	// subGroups is the number of groupWidth reads per probe step.
	subGroups = maxGroupWidth / groupWidth

	ctrlEmpty ctrl = 0b10000000

	bitsetLSB = 0x0101010101010101
	bitsetMSB = 0x8080808080808080
)

// Each bucket in the table has a control byte which is in one of two states:
//
//	empty: 1 0 0 0 0 0 0 0
//	 full: 0 h h h h h h h  // h represents the H2 hash bits
//
// Unlike a mutable swiss table there are no tombstones and no sentinel: the
// table is written once and never has entries removed.
type ctrl uint8

func (c ctrl) isFull() bool {
	return c&ctrlEmpty == 0
}

// bitset represents a set of bytes within a group. Each byte is either 0x80
// if that byte is part of the set or 0x00 otherwise.
type bitset uint64

// first returns the relative index of the first byte in the set.
func (b bitset) first() int {
	return bits.TrailingZeros64(uint64(b)) >> 3
}

// removeFirst clears the first byte in the set.
func (b bitset) removeFirst() bitset {
	return b & (b - 1)
}

func (b bitset) String() string {
	var buf strings.Builder
	buf.Grow(groupWidth)
	for i := 0; i < groupWidth; i++ {
		if (b & (bitset(0x80) << (i << 3))) != 0 {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
	}
	return buf.String()
}

// ctrlGroup is a little-endian load of groupWidth consecutive control bytes.
type ctrlGroup uint64

func loadGroup(ctrls []byte, i int) ctrlGroup {
	return ctrlGroup(binary.LittleEndian.Uint64(ctrls[i : i+groupWidth]))
}

// matchH2 returns the set of bytes in the group equal to h.
func (g ctrlGroup) matchH2(h uint8) bitset {
	// NB: This generic matching routine produces false positive matches when
	// h is 2^N and the control bytes have a seq of 2^N followed by 2^N+1. For
	// example: if ctrls==0x0302 and h=02, we'll compute v as 0x0100. When we
	// subtract off 0x0101 the first 2 bytes we'll become 0xffff and both be
	// considered matches of h. The false positive matches are not a problem,
	// just a rare inefficiency. Note that they only occur if there is a real
	// match and never occur on ctrlEmpty. The subsequent key comparisons
	// ensure that there is no correctness issue.
	v := uint64(g) ^ (bitsetLSB * uint64(h))
	return bitset(((v - bitsetLSB) &^ v) & bitsetMSB)
}

// matchEmpty returns the set of bytes in the group that are empty. Validated
// control bytes only ever have the high bit set when they are ctrlEmpty.
func (g ctrlGroup) matchEmpty() bitset {
	return bitset(uint64(g) & bitsetMSB)
}

// probeSeq maintains the state for a probe sequence over a table whose
// bucket count need not be a power of two. The sequence visits the offsets
//
//	o(i) := maxGroupWidth * (i^2 + i)/2 (mod P)
//
// where P is the bucket count rounded up to a power of two (and at least
// maxGroupWidth). Because (i^2+i)/2 is a bijection in Z/(2^m), the first
// P/maxGroupWidth offsets are exactly the multiples of maxGroupWidth below P.
// Offsets at or beyond the bucket count are skipped rather than wrapped, so
// the offsets that remain are 0, 16, 32, ... below the bucket count, and the
// 16-byte groups starting at start+offset (mod buckets) cover every bucket.
// Group reads which extend past the last bucket land in the mirrored tail of
// the control bytes.
type probeSeq struct {
	start   int
	buckets int
	mask    int
	offset  int
	stride  int
	index   int
	steps   int
}

func makeProbeSeq(h1 uint64, buckets int) probeSeq {
	p := max(maxGroupWidth, nextPowerOf2(buckets))
	return probeSeq{
		start:   int(h1 % uint64(buckets)),
		buckets: buckets,
		mask:    p - 1,
		steps:   p / maxGroupWidth,
	}
}

// pos returns the bucket index at which the current probe group starts.
func (s *probeSeq) pos() int {
	p := s.start + s.offset
	if p >= s.buckets {
		p -= s.buckets
	}
	return p
}

// next advances the sequence to the next offset below the bucket count. It
// returns false once every group has been visited.
func (s *probeSeq) next() bool {
	for {
		s.index++
		if s.index >= s.steps {
			return false
		}
		s.stride += maxGroupWidth
		s.offset = (s.offset + s.stride) & s.mask
		if s.offset < s.buckets {
			return true
		}
	}
}

func (s probeSeq) String() string {
	return fmt.Sprintf("start=%d buckets=%d offset=%d index=%d/%d",
		s.start, s.buckets, s.offset, s.index, s.steps)
}

// Extracts the H1 portion of a hash: the 57 upper bits.
func h1(h uint64) uint64 {
	return h >> 7
}

// Extracts the H2 portion of a hash: the 7 bits not used for h1.
//
// These are used as an occupied control byte.
func h2(h uint64) uint8 {
	return uint8(h & 0x7f)
}

// setCtrl sets the control byte for bucket i, taking care to mirror the byte
// into every tail position that aliases i.
func setCtrl(ctrls []byte, buckets, i int, v ctrl) {
	for j := i; j < len(ctrls); j += buckets {
		ctrls[j] = byte(v)
	}
}

// findInsertSlot returns the bucket an entry with hash h is assigned to: the
// first empty bucket of the first probe step that has one. Lookups stop at
// the first probe step containing an empty bucket, so this is the only
// placement a lookup is guaranteed to reach.
func findInsertSlot(ctrls []byte, buckets int, h uint64) int {
	seq := makeProbeSeq(h1(h), buckets)
	if debug {
		fmt.Printf("insert(%016x): %s\n", h, seq)
	}
	for {
		p := seq.pos()
		for i := 0; i < subGroups; i++ {
			q := p + i*groupWidth
			if match := loadGroup(ctrls, q).matchEmpty(); match != 0 {
				b := (q + match.first()) % buckets
				if debug {
					fmt.Printf("insert(found): offset=%d bucket=%d match-empty=%s\n", q, b, match)
				}
				return b
			}
		}
		if !seq.next() {
			panic(fmt.Sprintf("frozenswiss: no empty bucket for hash %016x (%s)", h, seq))
		}
	}
}

// nextPowerOf2 returns the smallest power of 2 that is >= v.
func nextPowerOf2(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(v-1))
}
