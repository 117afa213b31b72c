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

package envelope

import (
	"fmt"
	"io"

	"github.com/cockroachdb/frozenswiss"
)

// Write builds a table holding pairs with the default hash and writes it to
// w in an envelope. keyType and valueType name the archivers for readers.
func Write[K, V any](
	w io.Writer,
	pairs frozenswiss.Pairs[K, V],
	ka frozenswiss.KeyArchiver[K], keyType string,
	va frozenswiss.Archiver[V], valueType string,
	lf frozenswiss.LoadFactor, c Compression,
) (Header, error) {
	buf, root, err := frozenswiss.Build(pairs, ka, va, frozenswiss.WithLoadFactor(lf))
	if err != nil {
		return Header{}, err
	}
	return Encode(w, Header{
		LoadFactor:  lf,
		Root:        uint64(root),
		Len:         uint64(pairs.Len()),
		KeyType:     keyType,
		ValueType:   valueType,
		Compression: c,
	}, buf)
}

// Access decodes the envelope in data, checks its root table including the
// bucket count implied by the recorded load factor, and returns a Map over
// it. The table must have been built with the default hash. opts configure
// the Context the table is checked with.
func Access[K, V any](
	data []byte, ka frozenswiss.KeyArchiver[K], va frozenswiss.Archiver[V], opts ...frozenswiss.ContextOption,
) (*frozenswiss.Map[K, V], Header, error) {
	h, payload, err := Decode(data)
	if err != nil {
		return nil, Header{}, err
	}
	if h.Root > uint64(len(payload)) {
		return nil, Header{}, fmt.Errorf("envelope: root %d: %w", h.Root, frozenswiss.ErrOutOfBounds)
	}
	c := frozenswiss.NewContext(payload, opts...)
	m, err := frozenswiss.AccessWithContext(c, int(h.Root), ka, va, frozenswiss.WithLoadFactor(h.LoadFactor))
	if err != nil {
		return nil, Header{}, err
	}
	if uint64(m.Len()) != h.Len {
		return nil, Header{}, fmt.Errorf("envelope: header records %d entries, table holds %d: %w",
			h.Len, m.Len(), frozenswiss.ErrLengthMismatch)
	}
	return m, h, nil
}
