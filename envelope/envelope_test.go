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
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"testing"
	"unsafe"

	"github.com/cockroachdb/frozenswiss"
	"github.com/stretchr/testify/require"
)

func testPairs(n int) frozenswiss.MapPairs[string, string] {
	pairs := make(frozenswiss.MapPairs[string, string], n)
	for i := 0; i < n; i++ {
		pairs[fmt.Sprintf("key-%04d", i)] = fmt.Sprintf("value-%04d", i)
	}
	return pairs
}

// rawEnvelope assembles an envelope without any of the checks in Encode.
func rawEnvelope(t *testing.T, h Header, stored []byte) []byte {
	enc, err := encMode.Marshal(h)
	require.NoError(t, err)
	var buf bytes.Buffer
	buf.WriteString(Magic)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(enc))))
	buf.Write(enc)
	buf.Write(make([]byte, payloadOffset(len(enc))-buf.Len()))
	buf.Write(stored)
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	lf := frozenswiss.LoadFactor{Num: 3, Den: 4}
	for _, c := range []Compression{None, LZ4, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			pairs := testPairs(1000)
			var buf bytes.Buffer
			h, err := Write(&buf, pairs, frozenswiss.String, "string", frozenswiss.String, "string", lf, c)
			require.NoError(t, err)
			require.Equal(t, c, h.Compression)
			require.EqualValues(t, Version, h.Version)
			if c != None {
				require.Less(t, h.StoredSize, h.PayloadSize)
			}

			m, got, err := Access(buf.Bytes(), frozenswiss.String, frozenswiss.String)
			require.NoError(t, err)
			require.Equal(t, h, got)
			require.Equal(t, lf, got.LoadFactor)
			require.Equal(t, "string", got.KeyType)
			require.Equal(t, len(pairs), m.Len())
			for k, v := range pairs {
				got, ok := m.Get(k)
				require.True(t, ok)
				require.Equal(t, v, got)
			}
		})
	}
}

func TestDecodeNoneAliases(t *testing.T) {
	payload := []byte("0123456789abcdef0123456789abcdef")
	var buf bytes.Buffer
	h, err := Encode(&buf, Header{Root: 4}, payload)
	require.NoError(t, err)
	require.EqualValues(t, len(payload), h.StoredSize)

	data := buf.Bytes()
	_, got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// The payload is a window into data, aligned relative to its start.
	off := uintptr(unsafe.Pointer(&got[0])) - uintptr(unsafe.Pointer(&data[0]))
	require.Zero(t, off%PayloadAlign)
	require.EqualValues(t, len(data)-len(payload), off)
}

func TestIncompressible(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	payload := make([]byte, 4096)
	rng.Read(payload)
	for _, c := range []Compression{LZ4, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			h, err := Encode(&buf, Header{Compression: c}, payload)
			require.NoError(t, err)
			require.Equal(t, None, h.Compression)
			_, got, err := Decode(buf.Bytes())
			require.NoError(t, err)
			require.Equal(t, payload, got)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	payload := bytes.Repeat([]byte("frozen"), 64)
	var buf bytes.Buffer
	h, err := Encode(&buf, Header{}, payload)
	require.NoError(t, err)
	valid := buf.Bytes()

	t.Run("magic", func(t *testing.T) {
		data := bytes.Clone(valid)
		data[0] = 'X'
		_, _, err := Decode(data)
		require.ErrorIs(t, err, ErrBadMagic)
		_, _, err = Decode([]byte("nope"))
		require.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("truncated", func(t *testing.T) {
		for _, n := range []int{2, prefixSize, prefixSize + 3, len(valid) - 1} {
			_, _, err := Decode(valid[:n])
			require.ErrorIs(t, err, ErrTruncated, "n=%d", n)
		}
	})

	t.Run("digest", func(t *testing.T) {
		data := bytes.Clone(valid)
		data[len(data)-1] ^= 1
		_, _, err := Decode(data)
		require.ErrorIs(t, err, ErrDigestMismatch)
		// The header alone still decodes.
		_, _, err = DecodeHeader(data)
		require.NoError(t, err)
	})

	t.Run("version", func(t *testing.T) {
		h := h
		h.Version = 2
		_, _, err := Decode(rawEnvelope(t, h, payload))
		require.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("compression", func(t *testing.T) {
		h := h
		h.Compression = 9
		_, _, err := Decode(rawEnvelope(t, h, payload))
		require.ErrorContains(t, err, "unsupported compression unknown(9)")
	})

	t.Run("size", func(t *testing.T) {
		h := h
		h.PayloadSize++
		_, _, err := Decode(rawEnvelope(t, h, payload))
		require.Error(t, err)
	})

	t.Run("too-large", func(t *testing.T) {
		h := h
		h.PayloadSize = 1 << 40
		_, _, err := Decode(rawEnvelope(t, h, payload))
		require.ErrorIs(t, err, ErrPayloadTooLarge)

		// A size under the limit that the stored bytes cannot decompress to
		// is rejected before anything is allocated for it.
		for _, c := range []Compression{LZ4, Zstd} {
			var buf bytes.Buffer
			_, err := Encode(&buf, Header{Compression: c}, payload)
			require.NoError(t, err)
			ch, stored, err := DecodeHeader(buf.Bytes())
			require.NoError(t, err)
			require.Equal(t, c, ch.Compression)

			ch.PayloadSize = 1 << 30
			_, _, err = Decode(rawEnvelope(t, ch, stored))
			require.ErrorIs(t, err, ErrPayloadTooLarge, "%s", c)
		}
	})
}

func TestAccessChecksTable(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(&buf, testPairs(10), frozenswiss.String, "string", frozenswiss.String, "string",
		frozenswiss.DefaultLoadFactor, None)
	require.NoError(t, err)

	t.Run("load-factor", func(t *testing.T) {
		h, payload, err := Decode(buf.Bytes())
		require.NoError(t, err)
		h.LoadFactor = frozenswiss.LoadFactor{Num: 1, Den: 2}
		_, _, err = Access(rawEnvelope(t, h, payload), frozenswiss.String, frozenswiss.String)
		require.ErrorIs(t, err, frozenswiss.ErrLayoutMismatch)
	})

	t.Run("len", func(t *testing.T) {
		h, payload, err := Decode(buf.Bytes())
		require.NoError(t, err)
		h.Len = 11
		_, _, err = Access(rawEnvelope(t, h, payload), frozenswiss.String, frozenswiss.String)
		require.ErrorIs(t, err, frozenswiss.ErrLengthMismatch)
	})

	t.Run("root", func(t *testing.T) {
		h, payload, err := Decode(buf.Bytes())
		require.NoError(t, err)
		h.Root = uint64(len(payload)) + 1
		_, _, err = Access(rawEnvelope(t, h, payload), frozenswiss.String, frozenswiss.String)
		require.ErrorIs(t, err, frozenswiss.ErrOutOfBounds)
	})
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{None, LZ4, Zstd} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
	_, err := ParseCompression("gzip")
	require.Error(t, err)
}
