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

// Package manifest parses the key-value manifests that archives are built
// from. A manifest is a single YAML mapping or JSON object (comments and
// trailing commas allowed) of keys to scalar values. Entries keep the order
// they have in the file.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Entry is a key and its value as written in the manifest.
type Entry struct {
	Key   string
	Value string
}

// Format is a manifest syntax.
type Format int

const (
	YAML Format = iota
	JSON
)

func (f Format) String() string {
	switch f {
	case YAML:
		return "yaml"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

var (
	// ErrDuplicateKey indicates a key appears more than once.
	ErrDuplicateKey = errors.New("manifest: duplicate key")
	// ErrNotMapping indicates the document is not a mapping of keys to
	// scalars.
	ErrNotMapping = errors.New("manifest: not a mapping of keys to scalars")
)

// FormatFor returns the format implied by the extension of path.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json", ".jsonc":
		return JSON, nil
	default:
		return 0, fmt.Errorf("manifest: unknown extension %q", filepath.Ext(path))
	}
}

// Load reads and parses the manifest at path.
func Load(path string) ([]Entry, error) {
	f, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	entries, err := Parse(data, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Parse parses a manifest in format f.
func Parse(data []byte, f Format) ([]Entry, error) {
	switch f {
	case YAML:
		return parseYAML(data)
	case JSON:
		return parseJSON(data)
	default:
		return nil, fmt.Errorf("manifest: unsupported format %s", f)
	}
}

func parseYAML(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, ErrNotMapping
	}
	m := doc.Content[0]
	entries := make([]Entry, 0, len(m.Content)/2)
	seen := make(map[string]struct{}, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: line %d", ErrNotMapping, k.Line)
		}
		if _, ok := seen[k.Value]; ok {
			return nil, fmt.Errorf("%w %q: line %d", ErrDuplicateKey, k.Value, k.Line)
		}
		seen[k.Value] = struct{}{}
		value := v.Value
		if v.ShortTag() == "!!null" {
			value = ""
		}
		entries = append(entries, Entry{Key: k.Value, Value: value})
	}
	return entries, nil
}

func parseJSON(data []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if tok != json.Delim('{') {
		return nil, ErrNotMapping
	}
	var entries []Entry
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		key := tok.(string)
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w %q: offset %d", ErrDuplicateKey, key, dec.InputOffset())
		}
		seen[key] = struct{}{}

		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		var value string
		switch v := tok.(type) {
		case string:
			value = v
		case json.Number:
			value = v.String()
		case bool:
			value = strconv.FormatBool(v)
		case nil:
		default:
			return nil, fmt.Errorf("%w: key %q", ErrNotMapping, key)
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("manifest: trailing data after object")
	}
	return entries, nil
}
