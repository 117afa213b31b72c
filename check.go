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
)

// CheckMap verifies that the bytes of c describe a table whose header is at
// pos, with keys and values archived by ka and va. Nothing past the header is
// read until it has been bounds checked, and nested shared pointers share
// the claims of c. A failure fails c, and CheckMap fails at once if an
// earlier check with c failed.
func CheckMap[K, V any](c *Context, pos int, ka KeyArchiver[K], va Archiver[V], options ...option) error {
	if err := c.Err(); err != nil {
		return err
	}
	cfg := newConfig(options)
	if err := checkTable(c, pos, makeEntryLayout(ka.Layout(), va.Layout()), &cfg, ka.Check, va.Check); err != nil {
		return c.fail(err)
	}
	return nil
}

func checkTable(
	c *Context,
	pos int,
	el entryLayout,
	cfg *config,
	checkKey, checkValue func(c *Context, pos int) error,
) error {
	if err := c.CheckRange(pos, TableHeaderSize, TableHeaderAlign); err != nil {
		return err
	}
	buf := c.Bytes()
	n := int(binary.LittleEndian.Uint32(buf[pos+4:]))
	buckets := int(binary.LittleEndian.Uint32(buf[pos+8:]))
	if n > buckets {
		return fmt.Errorf("frozenswiss: table at %d holds %d entries in %d buckets: %w",
			pos, n, buckets, ErrLengthMismatch)
	}
	if cfg.hasLoadFactor {
		if err := cfg.loadFactor.Validate(); err != nil {
			return err
		}
		if want := Layout(n, cfg.loadFactor).Buckets; want != buckets {
			return fmt.Errorf("frozenswiss: table at %d has %d buckets, load factor %s requires %d: %w",
				pos, buckets, cfg.loadFactor, want, ErrLayoutMismatch)
		}
	}

	slotBytes, ok := mulOverflowSafe(buckets, el.size)
	if !ok {
		return &ContextError{Pos: pos, Err: ErrOverflow}
	}
	controls := controlsFor(buckets)
	total, ok := addOverflowSafe(slotBytes, controls)
	if !ok {
		return &ContextError{Pos: pos, Err: ErrOverflow}
	}
	slots, err := c.CheckRelPtr(pos, total, el.align)
	if err != nil {
		return err
	}

	ctrls := buf[slots+slotBytes : slots+total]
	var used int
	for i := 0; i < buckets; i++ {
		switch b := ctrls[i]; {
		case ctrl(b).isFull():
			used++
		case ctrl(b) != ctrlEmpty:
			return &ControlError{Index: i, Byte: b, Err: ErrInvalidControl}
		}
	}
	if used != n {
		return fmt.Errorf("frozenswiss: table at %d has %d full buckets but length %d: %w",
			pos, used, n, ErrLengthMismatch)
	}
	for j := buckets; j < controls; j++ {
		want := byte(ctrlEmpty)
		if buckets > 0 {
			want = ctrls[j%buckets]
		}
		if b := ctrls[j]; b != want {
			return &ControlError{Index: j, Byte: b, Err: ErrMirrorMismatch}
		}
	}

	for i := 0; i < buckets; i++ {
		if !ctrl(ctrls[i]).isFull() {
			continue
		}
		p := slots + i*el.size
		if err := checkKey(c, p); err != nil {
			return &EntryError{Bucket: i, Part: EntryKey, Err: err}
		}
		if err := checkValue(c, p+el.valueOffset); err != nil {
			return &EntryError{Bucket: i, Part: EntryValue, Err: err}
		}
	}
	return nil
}
