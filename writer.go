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
	"math"
)

// maxArchiveSize bounds archives so every position fits in a relative
// pointer.
const maxArchiveSize = math.MaxInt32

const relPtrSize = 4

// Writer is an append-only byte buffer that archives are built in. Data is
// only ever appended; bytes already written are patched in place once their
// final contents are known.
type Writer struct {
	buf    []byte
	shared map[any]int
}

// NewWriter returns a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Pos returns the position the next byte will be written at.
func (w *Writer) Pos() int {
	return len(w.buf)
}

// Bytes returns the bytes written so far. The slice aliases the writer's
// buffer until the next append.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reserve pads the buffer to align and appends n zero bytes, returning the
// position of the first of them.
func (w *Writer) Reserve(n, align int) (int, error) {
	pos := len(w.buf)
	if align > 1 {
		pos = alignUp(pos, align)
	}
	end, ok := addOverflowSafe(pos, n)
	if !ok || n < 0 || end > maxArchiveSize {
		return 0, fmt.Errorf("reserving %d bytes at %d: %w", n, pos, ErrOverflow)
	}
	w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	return pos, nil
}

// Write appends b and returns the position it was written at.
func (w *Writer) Write(b []byte) (int, error) {
	pos, err := w.Reserve(len(b), 1)
	if err != nil {
		return 0, err
	}
	copy(w.buf[pos:], b)
	return pos, nil
}

// Shared returns the position a shared value identified by key was written
// at, if it has been written.
func (w *Writer) Shared(key any) (int, bool) {
	pos, ok := w.shared[key]
	return pos, ok
}

// RegisterShared records the position of the shared value identified by key.
func (w *Writer) RegisterShared(key any, pos int) {
	if w.shared == nil {
		w.shared = make(map[any]int)
	}
	w.shared[key] = pos
}

// forgetShared drops the registration of key, so a value whose
// serialization failed can be written again.
func (w *Writer) forgetShared(key any) {
	delete(w.shared, key)
}

// putRelPtr stores at pos the offset from pos to target.
func putRelPtr(out []byte, pos, target int) {
	off := target - pos
	if off < math.MinInt32 || off > math.MaxInt32 {
		panic(fmt.Sprintf("frozenswiss: relative pointer from %d to %d overflows", pos, target))
	}
	binary.LittleEndian.PutUint32(out[pos:], uint32(int32(off)))
}

// relPtrTarget returns the target of the relative pointer stored at pos.
func relPtrTarget(buf []byte, pos int) int {
	return pos + int(int32(binary.LittleEndian.Uint32(buf[pos:])))
}

// Align pads the buffer to a multiple of align and returns the new position.
func (w *Writer) Align(align int) (int, error) {
	return w.Reserve(0, align)
}
