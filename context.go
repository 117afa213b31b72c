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
	"io"
	"log/slog"
	"math"
	"reflect"
)

const defaultMaxDepth = 1024

// ClaimState is the validation state of a shared location.
type ClaimState uint8

const (
	// ClaimUnseen means the location has not been reached yet.
	ClaimUnseen ClaimState = iota
	// ClaimInProgress means the location is being checked further up the
	// stack. Reaching it again means the shared graph has a cycle.
	ClaimInProgress
	// ClaimDone means the location has been checked successfully.
	ClaimDone
)

func (s ClaimState) String() string {
	switch s {
	case ClaimUnseen:
		return "unseen"
	case ClaimInProgress:
		return "in-progress"
	case ClaimDone:
		return "done"
	default:
		return "unknown"
	}
}

type claimKey struct {
	typ reflect.Type
	pos int
}

// Context holds the state of a single validation pass over a buffer: the
// valid extent of the buffer and the claims made on shared locations, so a
// location reachable through many pointers is checked once.
//
// Once a check made with a Context fails, every later check with it fails
// too: locations accepted while the failed check ran may depend on the bad
// bytes.
//
// A Context is not safe for concurrent use. Use one Context per pass.
type Context struct {
	buf      []byte
	claims   map[claimKey]ClaimState
	depth    int
	maxDepth int
	logger   *slog.Logger
	// err is the first check failure of the pass.
	err error
}

// ContextOption configures a Context.
type ContextOption func(c *Context)

// WithMaxDepth limits how deeply shared pointers may nest. The default is
// 1024.
func WithMaxDepth(depth int) ContextOption {
	return func(c *Context) {
		c.maxDepth = depth
	}
}

// WithLogger sets the logger claims are traced to at debug level.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *Context) {
		c.logger = logger
	}
}

// NewContext returns a Context for validating buf.
func NewContext(buf []byte, opts ...ContextOption) *Context {
	c := &Context{
		buf:      buf,
		maxDepth: defaultMaxDepth,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bytes returns the buffer being validated.
func (c *Context) Bytes() []byte {
	return c.buf
}

// CheckRange verifies that [pos, pos+size) lies within the buffer and that
// pos is a multiple of align.
func (c *Context) CheckRange(pos, size, align int) error {
	if pos < 0 || size < 0 {
		return &ContextError{Pos: pos, Size: size, Err: ErrOutOfBounds}
	}
	end, ok := addOverflowSafe(pos, size)
	if !ok {
		return &ContextError{Pos: pos, Size: size, Err: ErrOverflow}
	}
	if end > len(c.buf) {
		return &ContextError{Pos: pos, Size: size, Err: ErrOutOfBounds}
	}
	if align > 1 && pos%align != 0 {
		return &ContextError{Pos: pos, Size: size, Err: ErrMisaligned}
	}
	return nil
}

// CheckRelPtr verifies the relative pointer stored at pos and that its
// target is a valid range of size bytes at the given alignment. It returns
// the absolute position of the target.
func (c *Context) CheckRelPtr(pos, size, align int) (int, error) {
	if err := c.CheckRange(pos, relPtrSize, relPtrSize); err != nil {
		return 0, &PointerError{Pos: pos, Err: err}
	}
	off := int32(binary.LittleEndian.Uint32(c.buf[pos:]))
	target := pos + int(off)
	if err := c.CheckRange(target, size, align); err != nil {
		return 0, &PointerError{Pos: pos, Offset: off, Err: err}
	}
	return target, nil
}

// Claim records that the shared location pos of type typ is being checked
// and returns its previous state. The caller must check the location only
// when ClaimUnseen is returned, and call Finish when done.
func (c *Context) Claim(typ reflect.Type, pos int) (ClaimState, error) {
	if err := c.Err(); err != nil {
		return ClaimUnseen, err
	}
	if err := c.CheckRange(pos, 0, 0); err != nil {
		return ClaimUnseen, err
	}
	if c.claims == nil {
		c.claims = make(map[claimKey]ClaimState)
	}
	key := claimKey{typ: typ, pos: pos}
	state := c.claims[key]
	if state == ClaimUnseen {
		c.claims[key] = ClaimInProgress
	}
	c.logger.Debug("claim", "type", typ, "pos", pos, "state", state)
	return state, nil
}

// Finish marks a claimed location as successfully checked.
func (c *Context) Finish(typ reflect.Type, pos int) {
	c.claims[claimKey{typ: typ, pos: pos}] = ClaimDone
}

// release forgets a claim whose check failed.
func (c *Context) release(typ reflect.Type, pos int) {
	delete(c.claims, claimKey{typ: typ, pos: pos})
}

// Err returns ErrContextFailed wrapping the first failure of a check made
// with c, or nil if no check has failed.
func (c *Context) Err() error {
	if c.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrContextFailed, c.err)
}

// fail records err as a failure of the pass and returns it.
func (c *Context) fail(err error) error {
	if c.err == nil {
		c.err = err
		c.logger.Debug("check failed", "err", err)
	}
	return err
}

// Claims returns the number of shared locations claimed so far.
func (c *Context) Claims() int {
	return len(c.claims)
}

func (c *Context) push() error {
	if c.depth >= c.maxDepth {
		return &ContextError{Err: ErrDepthExceeded}
	}
	c.depth++
	return nil
}

func (c *Context) pop() {
	c.depth--
}

// addOverflowSafe adds a and b, returning ok = false when the result would
// overflow int.
func addOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// mulOverflowSafe multiplies two non-negative ints, returning ok = false
// when the result would overflow int.
func mulOverflowSafe(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a < 0 || b < 0 || a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}
