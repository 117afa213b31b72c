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

import "fmt"

// LoadFactor is the maximum ratio of entries to buckets, Num/Den. It is not
// stored in a table; a reader that wants to verify the bucket count must be
// told which load factor was used to build it.
type LoadFactor struct {
	Num uint32
	Den uint32
}

// DefaultLoadFactor matches the maximum average group load of a mutable
// swiss table (7 of every 8 slots).
var DefaultLoadFactor = LoadFactor{Num: 7, Den: 8}

// Validate returns an error unless 0 < Num <= Den.
func (lf LoadFactor) Validate() error {
	if lf.Num == 0 || lf.Den == 0 || lf.Num > lf.Den {
		return fmt.Errorf("frozenswiss: invalid load factor %s", lf)
	}
	return nil
}

func (lf LoadFactor) String() string {
	return fmt.Sprintf("%d/%d", lf.Num, lf.Den)
}

// TableLayout describes the shape of a table holding a given number of
// entries.
type TableLayout struct {
	// Buckets is the number of slots, and of non-mirrored control bytes.
	Buckets int
	// Groups is the number of maxGroupWidth-byte groups in the control array.
	Groups int
	// Controls is the physical length of the control array, including the
	// mirrored tail.
	Controls int
}

// Layout computes the layout of a table with n entries at load factor lf.
// The bucket count is the smallest count that keeps the load at or below
// lf, and never less than n. The control array is rounded up to a multiple
// of maxGroupWidth while leaving room for at least maxGroupWidth-1 mirror
// bytes, so a group read starting at any bucket stays in bounds. lf must be
// valid.
func Layout(n int, lf LoadFactor) TableLayout {
	buckets := 0
	if n > 0 {
		num, den := uint64(lf.Num), uint64(lf.Den)
		buckets = max(n, int((uint64(n)*den+num-1)/num))
	}
	controls := controlsFor(buckets)
	return TableLayout{
		Buckets:  buckets,
		Groups:   controls / maxGroupWidth,
		Controls: controls,
	}
}

// controlsFor returns the physical control array length for a bucket count.
func controlsFor(buckets int) int {
	return alignUp(buckets+maxGroupWidth-1, maxGroupWidth)
}

// alignUp rounds n up to a multiple of align, which must be a power of 2.
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// entryLayout is the layout of a key followed by a value within a slot.
type entryLayout struct {
	valueOffset int
	size        int
	align       int
}

func makeEntryLayout(k, v ValueLayout) entryLayout {
	align := max(k.Align, v.Align, 1)
	valueOffset := alignUp(k.Size, max(v.Align, 1))
	return entryLayout{
		valueOffset: valueOffset,
		size:        max(alignUp(valueOffset+v.Size, align), 1),
		align:       align,
	}
}
