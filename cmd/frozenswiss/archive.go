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

package main

import (
	"fmt"
	"iter"

	"github.com/cockroachdb/frozenswiss"
	"github.com/cockroachdb/frozenswiss/envelope"
	"github.com/cockroachdb/frozenswiss/internal/mmfile"
)

// Names of the archivers recorded in envelope headers.
const (
	typeString = "string"
	typeU64    = "u64"
)

// table is the part of a Map the commands use, with values rendered as text.
type table interface {
	Len() int
	Capacity() int
	Get(key string) (string, bool)
	All() iter.Seq2[string, string]
}

type textTable[V any] struct {
	m *frozenswiss.Map[string, V]
}

func (t textTable[V]) Len() int      { return t.m.Len() }
func (t textTable[V]) Capacity() int { return t.m.Capacity() }

func (t textTable[V]) Get(key string) (string, bool) {
	v, ok := t.m.Get(key)
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}

func (t textTable[V]) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for k, v := range t.m.All() {
			if !yield(k, fmt.Sprint(v)) {
				return
			}
		}
	}
}

// archive is a mapped archive file.
type archive struct {
	path   string
	data   []byte
	header envelope.Header
	unmap  func() error
}

// openArchive maps the file at path and decodes its envelope header. The
// payload is not verified until the table is opened.
func openArchive(path string) (*archive, error) {
	logger.Debug("mapping archive", "path", path)
	data, unmap, err := mmfile.Map(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	h, _, err := envelope.DecodeHeader(data)
	if err != nil {
		_ = unmap()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Debug("decoded header", "path", path, "len", h.Len, "load_factor", h.LoadFactor,
		"compression", h.Compression, "key_type", h.KeyType, "value_type", h.ValueType)
	return &archive{path: path, data: data, header: h, unmap: unmap}, nil
}

func (a *archive) Close() error {
	return a.unmap()
}

// table verifies the payload, checks the root table and returns it.
func (a *archive) table() (table, error) {
	if a.header.KeyType != typeString {
		return nil, fmt.Errorf("%s: unsupported key type %q", a.path, a.header.KeyType)
	}
	opt := frozenswiss.WithLogger(logger)
	switch a.header.ValueType {
	case typeString:
		m, _, err := envelope.Access(a.data, frozenswiss.String, frozenswiss.String, opt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.path, err)
		}
		return textTable[string]{m}, nil
	case typeU64:
		m, _, err := envelope.Access(a.data, frozenswiss.String, frozenswiss.Uint64, opt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.path, err)
		}
		return textTable[uint64]{m}, nil
	default:
		return nil, fmt.Errorf("%s: unsupported value type %q", a.path, a.header.ValueType)
	}
}

// openTable opens the archive at path and its root table.
func openTable(path string) (*archive, table, error) {
	a, err := openArchive(path)
	if err != nil {
		return nil, nil, err
	}
	t, err := a.table()
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return a, t, nil
}
