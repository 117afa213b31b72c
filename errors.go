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
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds indicates a byte range extends past the buffer.
	ErrOutOfBounds = errors.New("frozenswiss: out of bounds")
	// ErrMisaligned indicates a value is not at its natural alignment.
	ErrMisaligned = errors.New("frozenswiss: misaligned")
	// ErrOverflow indicates a size or offset computation overflowed.
	ErrOverflow = errors.New("frozenswiss: overflow")
	// ErrDepthExceeded indicates shared pointers nest deeper than allowed.
	ErrDepthExceeded = errors.New("frozenswiss: maximum depth exceeded")
	// ErrInvalidControl indicates a control byte is neither empty nor full.
	ErrInvalidControl = errors.New("frozenswiss: invalid control byte")
	// ErrMirrorMismatch indicates the mirrored control bytes disagree with
	// the bucket they alias.
	ErrMirrorMismatch = errors.New("frozenswiss: mirrored control byte mismatch")
	// ErrLengthMismatch indicates the stored length disagrees with the table.
	ErrLengthMismatch = errors.New("frozenswiss: length mismatch")
	// ErrLayoutMismatch indicates the bucket count is not the one produced by
	// the expected load factor.
	ErrLayoutMismatch = errors.New("frozenswiss: layout mismatch")
	// ErrNotPatchable indicates a value cannot be rewritten in place.
	ErrNotPatchable = errors.New("frozenswiss: value cannot be patched in place")
	// ErrInvalidUTF8 indicates an archived string is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("frozenswiss: invalid utf-8")
	// ErrInvalidBool indicates an archived bool is neither 0 nor 1.
	ErrInvalidBool = errors.New("frozenswiss: invalid bool")
	// ErrNilShared indicates a nil pointer was serialized as a shared pointer.
	ErrNilShared = errors.New("frozenswiss: nil shared pointer")
	// ErrSharedCycle indicates a shared value was reached again while its own
	// out-of-line data was being serialized.
	ErrSharedCycle = errors.New("frozenswiss: shared pointer cycle")
	// ErrContextFailed indicates a check was made with a Context in which an
	// earlier check failed.
	ErrContextFailed = errors.New("frozenswiss: context has a failed check")
)

// ContextError reports a failure of the validation context itself: a range
// that is out of bounds or misaligned, or claim bookkeeping that failed.
type ContextError struct {
	Pos  int
	Size int
	Err  error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("range [%d, %d+%d): %v", e.Pos, e.Pos, e.Size, e.Err)
}

func (e *ContextError) Unwrap() error { return e.Err }

// PointerError reports a relative pointer whose target is not a valid range.
// The target is never visited.
type PointerError struct {
	Pos    int
	Offset int32
	Err    error
}

func (e *PointerError) Error() string {
	return fmt.Sprintf("pointer check failed at %d (offset %d): %v", e.Pos, e.Offset, e.Err)
}

func (e *PointerError) Unwrap() error { return e.Err }

// ValueError reports bytes that are in bounds but do not encode a valid
// value, such as a bool that is neither 0 nor 1.
type ValueError struct {
	Pos int
	Err error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("value check failed at %d: %v", e.Pos, e.Err)
}

func (e *ValueError) Unwrap() error { return e.Err }

// SharedPointerKind identifies which step of a shared pointer check failed.
type SharedPointerKind uint8

const (
	// PointerCheck means the pointer itself was invalid.
	PointerCheck SharedPointerKind = iota
	// ValueCheck means the pointed-to value was invalid.
	ValueCheck
	// ContextCheck means the claim could not be recorded.
	ContextCheck
)

func (k SharedPointerKind) String() string {
	switch k {
	case PointerCheck:
		return "pointer"
	case ValueCheck:
		return "value"
	case ContextCheck:
		return "context"
	default:
		return fmt.Sprintf("SharedPointerKind(%d)", uint8(k))
	}
}

// SharedPointerError reports a failed shared pointer check.
type SharedPointerError struct {
	Kind SharedPointerKind
	Pos  int
	Err  error
}

func (e *SharedPointerError) Error() string {
	return fmt.Sprintf("shared pointer at %d: %s check: %v", e.Pos, e.Kind, e.Err)
}

func (e *SharedPointerError) Unwrap() error { return e.Err }

// WeakPointerError reports a failed weak pointer check. Either the tag byte
// was invalid (Err is nil and Tag holds the offending byte) or the shared
// pointer payload failed its check.
type WeakPointerError struct {
	Pos int
	Tag byte
	Err error
}

// InvalidTag reports whether the error is due to an invalid discriminant.
func (e *WeakPointerError) InvalidTag() bool {
	return e.Err == nil
}

func (e *WeakPointerError) Error() string {
	if e.InvalidTag() {
		return fmt.Sprintf("weak pointer at %d: invalid tag: %d", e.Pos, e.Tag)
	}
	return fmt.Sprintf("weak pointer at %d: %v", e.Pos, e.Err)
}

func (e *WeakPointerError) Unwrap() error { return e.Err }

// ControlError reports an invalid control byte.
type ControlError struct {
	Index int
	Byte  byte
	Err   error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("control byte %d (%02x): %v", e.Index, e.Byte, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

// EntryPart identifies the half of an entry a check failed in.
type EntryPart uint8

const (
	EntryKey EntryPart = iota
	EntryValue
)

func (p EntryPart) String() string {
	if p == EntryKey {
		return "key"
	}
	return "value"
}

// EntryError reports an entry whose key or value failed its check.
type EntryError struct {
	Bucket int
	Part   EntryPart
	Err    error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry in bucket %d: %s: %v", e.Bucket, e.Part, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }
