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
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/frozenswiss"
	"github.com/cockroachdb/frozenswiss/envelope"
	"github.com/stretchr/testify/require"
)

// setup resets the global flags and captures output.
func setup(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	out = &buf
	jsonOut = false
	verbose = false
	buildValues = typeString
	buildCompress = "none"
	buildLoadFactor = loadFactorValue(frozenswiss.DefaultLoadFactor)
	t.Cleanup(func() {
		out = os.Stdout
		jsonOut = false
	})
	return &buf
}

// buildArchive writes manifest to a file named name and builds an archive
// from it.
func buildArchive(t *testing.T, name, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	buildInput = filepath.Join(dir, name)
	buildOutput = filepath.Join(dir, "out.fzs")
	require.NoError(t, os.WriteFile(buildInput, []byte(manifest), 0o644))
	require.NoError(t, runBuild())
	return buildOutput
}

const greetings = `
alpha: one
beta: two
gamma: three
`

func TestBuildGet(t *testing.T) {
	buf := setup(t)
	path := buildArchive(t, "pairs.yaml", greetings)
	require.Contains(t, buf.String(), "3 entries")

	buf.Reset()
	require.NoError(t, runGet(path, "beta"))
	require.Equal(t, "two\n", buf.String())

	err := runGet(path, "delta")
	require.ErrorContains(t, err, `key "delta" not found`)

	buf.Reset()
	jsonOut = true
	require.NoError(t, runGet(path, "gamma"))
	var got map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, map[string]string{"key": "gamma", "value": "three"}, got)
}

func TestBuildU64(t *testing.T) {
	buf := setup(t)
	buildValues = typeU64
	buildCompress = "zstd"
	require.NoError(t, buildLoadFactor.Set("1/2"))
	path := buildArchive(t, "counts.jsonc", `{
	// hex is fine
	"a": 1,
	"b": "0x10",
}`)

	buf.Reset()
	require.NoError(t, runGet(path, "b"))
	require.Equal(t, "16\n", buf.String())

	buf.Reset()
	jsonOut = true
	require.NoError(t, runStat(path))
	var s stats
	require.NoError(t, json.Unmarshal(buf.Bytes(), &s))
	require.Equal(t, 2, s.Len)
	require.Equal(t, 4, s.Buckets)
	require.Equal(t, "1/2", s.LoadFactor)
	require.Equal(t, typeU64, s.ValueType)
}

func TestBuildErrors(t *testing.T) {
	setup(t)
	dir := t.TempDir()
	buildOutput = filepath.Join(dir, "out.fzs")

	buildInput = filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(buildInput, []byte("a: x\n"), 0o644))
	buildValues = typeU64
	require.ErrorContains(t, runBuild(), `key "a"`)

	buildValues = "f32"
	require.ErrorContains(t, runBuild(), `unsupported value type "f32"`)

	buildValues = typeString
	buildCompress = "gzip"
	require.ErrorContains(t, runBuild(), "unknown compression")
}

func TestDump(t *testing.T) {
	buf := setup(t)
	path := buildArchive(t, "pairs.yaml", greetings)

	buf.Reset()
	require.NoError(t, runDump(path))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	sort.Strings(lines)
	require.Equal(t, []string{"alpha\tone", "beta\ttwo", "gamma\tthree"}, lines)

	buf.Reset()
	jsonOut = true
	require.NoError(t, runDump(path))
	var got map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, map[string]string{"alpha": "one", "beta": "two", "gamma": "three"}, got)
}

func TestStat(t *testing.T) {
	buf := setup(t)
	path := buildArchive(t, "pairs.yaml", greetings)

	buf.Reset()
	require.NoError(t, runStat(path))
	require.Contains(t, buf.String(), "entries:      3\n")
	require.Contains(t, buf.String(), "buckets:      4\n")
	require.Contains(t, buf.String(), "load:         75.0% (max 7/8)\n")
	require.Contains(t, buf.String(), "controls:     32 B\n")
}

func TestCheck(t *testing.T) {
	buf := setup(t)
	path := buildArchive(t, "pairs.yaml", greetings)

	buf.Reset()
	require.NoError(t, runCheck(path))
	require.Equal(t, "ok: "+path+": 3 entries in 4 buckets\n", buf.String())
}

func TestCheckCorrupt(t *testing.T) {
	buf := setup(t)
	path := buildArchive(t, "pairs.yaml", greetings)

	t.Run("digest", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[len(data)-1] ^= 1
		bad := filepath.Join(t.TempDir(), "bad.fzs")
		require.NoError(t, os.WriteFile(bad, data, 0o644))

		buf.Reset()
		err = runCheck(bad)
		require.ErrorIs(t, err, envelope.ErrDigestMismatch)
		require.Equal(t, "FAIL: "+bad+"\n", buf.String())
	})

	t.Run("control", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		h, payload, err := envelope.Decode(data)
		require.NoError(t, err)
		payload = bytes.Clone(payload)

		// Overwrite the first control byte. Entries of two strings are 16
		// bytes.
		root := int(h.Root)
		slots := root + int(int32(binary.LittleEndian.Uint32(payload[root:])))
		buckets := int(binary.LittleEndian.Uint32(payload[root+8:]))
		payload[slots+16*buckets] = 0xff

		var enc bytes.Buffer
		_, err = envelope.Encode(&enc, h, payload)
		require.NoError(t, err)
		bad := filepath.Join(t.TempDir(), "bad.fzs")
		require.NoError(t, os.WriteFile(bad, enc.Bytes(), 0o644))

		buf.Reset()
		jsonOut = true
		defer func() { jsonOut = false }()
		err = runCheck(bad)
		require.ErrorIs(t, err, frozenswiss.ErrInvalidControl)
		var report checkReport
		require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
		require.False(t, report.OK)
		require.NotNil(t, report.Control)
		require.Equal(t, 0, *report.Control)
	})
}

func TestRootCommand(t *testing.T) {
	buf := setup(t)
	path := buildArchive(t, "pairs.yaml", greetings)

	buf.Reset()
	rootCmd.SetArgs([]string{"get", path, "alpha"})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "one\n", buf.String())
}

func TestLoadFactorValue(t *testing.T) {
	v := loadFactorValue(frozenswiss.DefaultLoadFactor)
	require.Equal(t, "7/8", v.String())
	require.NoError(t, v.Set("3/4"))
	require.Equal(t, frozenswiss.LoadFactor{Num: 3, Den: 4}, frozenswiss.LoadFactor(v))
	require.Error(t, v.Set("5/4"))
	require.Error(t, v.Set("0/4"))
	require.Error(t, v.Set("0.75"))
	require.Error(t, v.Set("a/b"))
	require.Equal(t, "3/4", v.String())
}
