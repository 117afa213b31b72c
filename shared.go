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
	"reflect"
)

const (
	weakNone = 0
	weakSome = 1

	// weakPayloadOffset is the offset of the shared pointer in a weak
	// pointer: the tag byte padded to the pointer's alignment.
	weakPayloadOffset = relPtrSize
)

// SharedArchiver archives a *T as a relative pointer to a single copy of the
// T. Every pointer to the same T written through one Writer refers to the
// same archived bytes, and a checked location is only checked once per
// Context no matter how many pointers reach it.
type SharedArchiver[T any] struct {
	Inner Archiver[T]
}

// Shared returns an archiver for shared pointers to values archived by
// inner.
func Shared[T any](inner Archiver[T]) SharedArchiver[T] {
	return SharedArchiver[T]{Inner: inner}
}

type sharedKey struct {
	archiver reflect.Type
	ptr      any
}

// claimType identifies the archived type of the target in the claim table.
func (s SharedArchiver[T]) claimType() reflect.Type {
	return reflect.TypeOf(s.Inner)
}

func (SharedArchiver[T]) Layout() ValueLayout {
	return ValueLayout{Size: relPtrSize, Align: relPtrSize}
}

// Serialize writes the pointed-to value unless it has already been written
// by w, and returns the position of its inline form.
func (s SharedArchiver[T]) Serialize(w *Writer, v *T) (int, error) {
	if v == nil {
		return 0, ErrNilShared
	}
	key := sharedKey{archiver: s.claimType(), ptr: v}
	if pos, ok := w.Shared(key); ok {
		if pos < 0 {
			return 0, fmt.Errorf("serializing %T: %w", v, ErrSharedCycle)
		}
		return pos, nil
	}
	w.RegisterShared(key, -1)
	dep, err := s.Inner.Serialize(w, *v)
	if err != nil {
		w.forgetShared(key)
		return 0, err
	}
	l := s.Inner.Layout()
	pos, err := w.Reserve(l.Size, l.Align)
	if err != nil {
		w.forgetShared(key)
		return 0, err
	}
	s.Inner.Resolve(w.Bytes(), pos, *v, dep)
	w.RegisterShared(key, pos)
	return pos, nil
}

func (SharedArchiver[T]) Resolve(out []byte, pos int, _ *T, dep int) {
	putRelPtr(out, pos, dep)
}

// Read returns a copy of the pointed-to value.
func (s SharedArchiver[T]) Read(buf []byte, pos int) *T {
	v := s.Inner.Read(buf, relPtrTarget(buf, pos))
	return &v
}

// Check verifies the pointer and, the first time its target is reached in
// this pass, the target itself. A target reached again while it is still
// being checked (a cycle) is accepted; the check in progress decides the
// outcome.
func (s SharedArchiver[T]) Check(c *Context, pos int) error {
	l := s.Inner.Layout()
	target, err := c.CheckRelPtr(pos, l.Size, l.Align)
	if err != nil {
		return &SharedPointerError{Kind: PointerCheck, Pos: pos, Err: err}
	}
	typ := s.claimType()
	state, err := c.Claim(typ, target)
	if err != nil {
		return &SharedPointerError{Kind: ContextCheck, Pos: pos, Err: err}
	}
	if state != ClaimUnseen {
		return nil
	}
	if err := c.push(); err != nil {
		c.release(typ, target)
		return c.fail(&SharedPointerError{Kind: ContextCheck, Pos: pos, Err: err})
	}
	err = s.Inner.Check(c, target)
	c.pop()
	if err != nil {
		c.release(typ, target)
		return c.fail(&SharedPointerError{Kind: ValueCheck, Pos: pos, Err: err})
	}
	c.Finish(typ, target)
	return nil
}

// WeakArchiver archives a *T that may be nil as a tag byte followed by a
// shared pointer. A nil pointer is archived with tag 0 and no target.
type WeakArchiver[T any] struct {
	Shared SharedArchiver[T]
}

// Weak returns an archiver for optional shared pointers to values archived
// by inner.
func Weak[T any](inner Archiver[T]) WeakArchiver[T] {
	return WeakArchiver[T]{Shared: Shared(inner)}
}

func (WeakArchiver[T]) Layout() ValueLayout {
	return ValueLayout{Size: weakPayloadOffset + relPtrSize, Align: relPtrSize}
}

func (a WeakArchiver[T]) Serialize(w *Writer, v *T) (int, error) {
	if v == nil {
		return 0, nil
	}
	return a.Shared.Serialize(w, v)
}

func (a WeakArchiver[T]) Resolve(out []byte, pos int, v *T, dep int) {
	clear(out[pos : pos+weakPayloadOffset+relPtrSize])
	if v == nil {
		out[pos] = weakNone
		return
	}
	out[pos] = weakSome
	a.Shared.Resolve(out, pos+weakPayloadOffset, v, dep)
}

func (a WeakArchiver[T]) Read(buf []byte, pos int) *T {
	if buf[pos] != weakSome {
		return nil
	}
	return a.Shared.Read(buf, pos+weakPayloadOffset)
}

func (a WeakArchiver[T]) Check(c *Context, pos int) error {
	switch tag := c.Bytes()[pos]; tag {
	case weakNone:
		return nil
	case weakSome:
		if err := a.Shared.Check(c, pos+weakPayloadOffset); err != nil {
			return &WeakPointerError{Pos: pos, Tag: tag, Err: err}
		}
		return nil
	default:
		return &WeakPointerError{Pos: pos, Tag: tag}
	}
}
