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
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// ValueLayout is the size and alignment of the inline form of a value.
type ValueLayout struct {
	Size  int
	Align int
}

// Archiver describes how values of type T are laid out in an archive.
//
// Building happens in two steps. Serialize appends whatever the value
// depends on (string bytes, shared targets) and returns a position that is
// later handed back to Resolve, which writes the fixed-size inline form once
// the position of that inline form is known.
type Archiver[T any] interface {
	// Layout returns the layout of the inline form.
	Layout() ValueLayout
	// Serialize writes the out-of-line data of v and returns its position.
	Serialize(w *Writer, v T) (int, error)
	// Resolve writes the inline form of v at out[pos:]. dep is the position
	// returned by Serialize.
	Resolve(out []byte, pos int, v T, dep int)
	// Read decodes the value whose inline form is at buf[pos:]. The bytes
	// must have been checked.
	Read(buf []byte, pos int) T
	// Check verifies the value whose inline form is at pos, which the caller
	// has already bounds checked against Layout.
	Check(c *Context, pos int) error
}

// KeyArchiver is an Archiver for types usable as map keys.
type KeyArchiver[T any] interface {
	Archiver[T]
	// Hash returns the hash of v. It must be stable across processes since
	// hashes determine the placement of keys in the archive.
	Hash(v T) uint64
	// Equal reports whether the archived key at buf[pos:] equals v.
	Equal(buf []byte, pos int, v T) bool
}

// Patcher is implemented by archivers whose values have no out-of-line data
// and can therefore be overwritten in place.
type Patcher[T any] interface {
	// Patch writes the inline form of v into out, which is exactly
	// Layout().Size bytes long.
	Patch(out []byte, v T)
}

// HashBytes returns the default hash of an archived byte string key.
func HashBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// HashString returns the default hash of an archived string key. It agrees
// with HashBytes for the same bytes.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// HashUint64 returns the default hash of an archived integer key.
func HashUint64(v uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return xxhash.Sum64(b[:])
}

var (
	// Uint32 archives uint32 values as 4 little-endian bytes.
	Uint32 KeyArchiver[uint32] = uint32Archiver{}
	// Uint64 archives uint64 values as 8 little-endian bytes.
	Uint64 KeyArchiver[uint64] = uint64Archiver{}
	// Int64 archives int64 values as 8 little-endian bytes.
	Int64 KeyArchiver[int64] = int64Archiver{}
	// Bool archives bool values as a single 0 or 1 byte.
	Bool KeyArchiver[bool] = boolArchiver{}
	// String archives strings as a relative pointer and length, with the
	// bytes stored out of line.
	String KeyArchiver[string] = stringArchiver{}
	// Bytes archives byte slices like String. Reads alias the buffer.
	Bytes KeyArchiver[[]byte] = bytesArchiver{}
)

type uint32Archiver struct{}

func (uint32Archiver) Layout() ValueLayout                          { return ValueLayout{Size: 4, Align: 4} }
func (uint32Archiver) Serialize(*Writer, uint32) (int, error)       { return 0, nil }
func (a uint32Archiver) Resolve(out []byte, pos int, v uint32, _ int) { a.Patch(out[pos:pos+4], v) }
func (uint32Archiver) Patch(out []byte, v uint32)                   { binary.LittleEndian.PutUint32(out, v) }
func (uint32Archiver) Check(*Context, int) error                    { return nil }
func (uint32Archiver) Hash(v uint32) uint64                         { return HashUint64(uint64(v)) }

func (uint32Archiver) Read(buf []byte, pos int) uint32 {
	return binary.LittleEndian.Uint32(buf[pos:])
}

func (a uint32Archiver) Equal(buf []byte, pos int, v uint32) bool {
	return a.Read(buf, pos) == v
}

type uint64Archiver struct{}

func (uint64Archiver) Layout() ValueLayout                          { return ValueLayout{Size: 8, Align: 8} }
func (uint64Archiver) Serialize(*Writer, uint64) (int, error)       { return 0, nil }
func (a uint64Archiver) Resolve(out []byte, pos int, v uint64, _ int) { a.Patch(out[pos:pos+8], v) }
func (uint64Archiver) Patch(out []byte, v uint64)                   { binary.LittleEndian.PutUint64(out, v) }
func (uint64Archiver) Check(*Context, int) error                    { return nil }
func (uint64Archiver) Hash(v uint64) uint64                         { return HashUint64(v) }

func (uint64Archiver) Read(buf []byte, pos int) uint64 {
	return binary.LittleEndian.Uint64(buf[pos:])
}

func (a uint64Archiver) Equal(buf []byte, pos int, v uint64) bool {
	return a.Read(buf, pos) == v
}

type int64Archiver struct{}

func (int64Archiver) Layout() ValueLayout                         { return ValueLayout{Size: 8, Align: 8} }
func (int64Archiver) Serialize(*Writer, int64) (int, error)       { return 0, nil }
func (a int64Archiver) Resolve(out []byte, pos int, v int64, _ int) { a.Patch(out[pos:pos+8], v) }
func (int64Archiver) Patch(out []byte, v int64)                   { binary.LittleEndian.PutUint64(out, uint64(v)) }
func (int64Archiver) Check(*Context, int) error                   { return nil }
func (int64Archiver) Hash(v int64) uint64                         { return HashUint64(uint64(v)) }

func (int64Archiver) Read(buf []byte, pos int) int64 {
	return int64(binary.LittleEndian.Uint64(buf[pos:]))
}

func (a int64Archiver) Equal(buf []byte, pos int, v int64) bool {
	return a.Read(buf, pos) == v
}

type boolArchiver struct{}

func (boolArchiver) Layout() ValueLayout                        { return ValueLayout{Size: 1, Align: 1} }
func (boolArchiver) Serialize(*Writer, bool) (int, error)       { return 0, nil }
func (a boolArchiver) Resolve(out []byte, pos int, v bool, _ int) { a.Patch(out[pos:pos+1], v) }
func (boolArchiver) Read(buf []byte, pos int) bool              { return buf[pos] == 1 }
func (a boolArchiver) Equal(buf []byte, pos int, v bool) bool   { return a.Read(buf, pos) == v }

func (boolArchiver) Patch(out []byte, v bool) {
	out[0] = 0
	if v {
		out[0] = 1
	}
}

func (boolArchiver) Check(c *Context, pos int) error {
	if b := c.Bytes()[pos]; b > 1 {
		return &ValueError{Pos: pos, Err: ErrInvalidBool}
	}
	return nil
}

func (boolArchiver) Hash(v bool) uint64 {
	if v {
		return HashUint64(1)
	}
	return HashUint64(0)
}

// stringLayout is shared by strings and byte slices: a relative pointer to
// the bytes followed by their length.
var stringLayout = ValueLayout{Size: 8, Align: 4}

func serializeBytes(w *Writer, b []byte) (int, error) {
	return w.Write(b)
}

func resolveBytes(out []byte, pos, n, dep int) {
	putRelPtr(out, pos, dep)
	binary.LittleEndian.PutUint32(out[pos+relPtrSize:], uint32(n))
}

func readBytes(buf []byte, pos int) []byte {
	target := relPtrTarget(buf, pos)
	n := int(binary.LittleEndian.Uint32(buf[pos+relPtrSize:]))
	return buf[target : target+n : target+n]
}

func checkBytes(c *Context, pos int) ([]byte, error) {
	n := int(binary.LittleEndian.Uint32(c.Bytes()[pos+relPtrSize:]))
	target, err := c.CheckRelPtr(pos, n, 1)
	if err != nil {
		return nil, err
	}
	return c.Bytes()[target : target+n], nil
}

type stringArchiver struct{}

func (stringArchiver) Layout() ValueLayout { return stringLayout }

func (stringArchiver) Serialize(w *Writer, v string) (int, error) {
	return serializeBytes(w, []byte(v))
}

func (stringArchiver) Resolve(out []byte, pos int, v string, dep int) {
	resolveBytes(out, pos, len(v), dep)
}

func (stringArchiver) Read(buf []byte, pos int) string {
	return string(readBytes(buf, pos))
}

func (stringArchiver) Check(c *Context, pos int) error {
	b, err := checkBytes(c, pos)
	if err != nil {
		return err
	}
	if !utf8.Valid(b) {
		return &ValueError{Pos: pos, Err: ErrInvalidUTF8}
	}
	return nil
}

func (stringArchiver) Hash(v string) uint64 { return HashString(v) }

func (stringArchiver) Equal(buf []byte, pos int, v string) bool {
	return string(readBytes(buf, pos)) == v
}

type bytesArchiver struct{}

func (bytesArchiver) Layout() ValueLayout { return stringLayout }

func (bytesArchiver) Serialize(w *Writer, v []byte) (int, error) {
	return serializeBytes(w, v)
}

func (bytesArchiver) Resolve(out []byte, pos int, v []byte, dep int) {
	resolveBytes(out, pos, len(v), dep)
}

func (bytesArchiver) Read(buf []byte, pos int) []byte {
	return readBytes(buf, pos)
}

func (bytesArchiver) Check(c *Context, pos int) error {
	_, err := checkBytes(c, pos)
	return err
}

func (bytesArchiver) Hash(v []byte) uint64 { return HashBytes(v) }

func (bytesArchiver) Equal(buf []byte, pos int, v []byte) bool {
	return bytes.Equal(readBytes(buf, pos), v)
}
