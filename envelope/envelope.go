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

// Package envelope implements the container format for frozenswiss files.
//
// An envelope is the 4 byte magic "FZSW", a little endian uint32 holding the
// length of the header, the header encoded as deterministic CBOR, zero
// padding up to a multiple of 16 bytes and finally the stored payload. The
// header records what a reader needs to interpret the payload: the position
// of the root table, the load factor it was built with, the archivers used
// for its keys and values, and a BLAKE3 digest of the uncompressed payload.
package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cockroachdb/frozenswiss"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Magic starts every envelope.
const Magic = "FZSW"

// Version is the only header version this package reads and writes.
const Version = 1

// PayloadAlign is the alignment of the payload relative to the start of the
// envelope.
const PayloadAlign = 16

// MaxPayloadSize is the largest payload an envelope may hold. Tables address
// their buffer with int32 offsets, so no larger payload can be valid.
const MaxPayloadSize = math.MaxInt32

const prefixSize = len(Magic) + 4

// maxHeaderSize bounds the header so a corrupt length cannot make Decode
// allocate or scan without limit.
const maxHeaderSize = 1 << 16

var (
	// ErrBadMagic indicates the data does not start with Magic.
	ErrBadMagic = errors.New("envelope: bad magic")
	// ErrTruncated indicates the data ends before the header or payload.
	ErrTruncated = errors.New("envelope: truncated")
	// ErrUnsupportedVersion indicates a header version other than Version.
	ErrUnsupportedVersion = errors.New("envelope: unsupported version")
	// ErrPayloadTooLarge indicates a header records a payload larger than
	// MaxPayloadSize, or larger than its stored form can decompress to.
	ErrPayloadTooLarge = errors.New("envelope: payload too large")
	// ErrDigestMismatch indicates the payload does not match its digest.
	ErrDigestMismatch = errors.New("envelope: digest mismatch")
)

// Header describes the payload of an envelope.
type Header struct {
	Version    uint32                 `cbor:"version"`
	LoadFactor frozenswiss.LoadFactor `cbor:"load_factor"`
	// Root is the position of the root table header within the payload.
	Root uint64 `cbor:"root"`
	// Len is the number of entries in the root table.
	Len uint64 `cbor:"len"`
	// KeyType and ValueType name the archivers of the root table.
	KeyType     string      `cbor:"key_type"`
	ValueType   string      `cbor:"value_type"`
	Compression Compression `cbor:"compression"`
	// PayloadSize is the size of the uncompressed payload and StoredSize the
	// number of payload bytes in the envelope.
	PayloadSize uint64   `cbor:"payload_size"`
	StoredSize  uint64   `cbor:"stored_size"`
	Digest      [32]byte `cbor:"digest"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("envelope: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels: 4,
	}.DecMode()
	if err != nil {
		panic("envelope: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode writes an envelope holding payload to w and returns the header that
// was written. Encode fills in the version, sizes and digest of h. If the
// payload does not shrink under the requested compression it is stored
// uncompressed and the returned header says so.
func Encode(w io.Writer, h Header, payload []byte) (Header, error) {
	if len(payload) > MaxPayloadSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	h.Version = Version
	h.PayloadSize = uint64(len(payload))
	h.Digest = blake3.Sum256(payload)

	stored, err := compress(payload, h.Compression)
	if errors.Is(err, errIncompressible) {
		h.Compression = None
		stored, err = payload, nil
	}
	if err != nil {
		return Header{}, err
	}
	h.StoredSize = uint64(len(stored))

	enc, err := encMode.Marshal(h)
	if err != nil {
		return Header{}, fmt.Errorf("envelope: encoding header: %w", err)
	}
	if len(enc) > maxHeaderSize {
		return Header{}, fmt.Errorf("envelope: header is %d bytes", len(enc))
	}

	var buf bytes.Buffer
	buf.Grow(payloadOffset(len(enc)))
	buf.WriteString(Magic)
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(enc))))
	buf.Write(enc)
	buf.Write(make([]byte, payloadOffset(len(enc))-buf.Len()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		return Header{}, err
	}
	if _, err := w.Write(stored); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Decode parses the envelope in data and returns its header and the
// uncompressed payload, after verifying the payload against its digest. An
// uncompressed payload aliases data.
func Decode(data []byte) (Header, []byte, error) {
	h, stored, err := DecodeHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	if h.PayloadSize > MaxPayloadSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.PayloadSize)
	}
	payload, err := decompress(stored, h.Compression, int(h.PayloadSize))
	if err != nil {
		return Header{}, nil, err
	}
	if blake3.Sum256(payload) != h.Digest {
		return Header{}, nil, ErrDigestMismatch
	}
	return h, payload, nil
}

// DecodeHeader parses the header of the envelope in data and returns it
// along with the stored payload. The payload is neither decompressed nor
// verified.
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < prefixSize {
		if bytes.HasPrefix([]byte(Magic), data) {
			return Header{}, nil, ErrTruncated
		}
		return Header{}, nil, ErrBadMagic
	}
	if string(data[:len(Magic)]) != Magic {
		return Header{}, nil, ErrBadMagic
	}
	n := int(binary.LittleEndian.Uint32(data[len(Magic):]))
	if n > maxHeaderSize {
		return Header{}, nil, fmt.Errorf("envelope: header is %d bytes", n)
	}
	if prefixSize+n > len(data) {
		return Header{}, nil, fmt.Errorf("envelope: header: %w", ErrTruncated)
	}

	var h Header
	if err := decMode.Unmarshal(data[prefixSize:prefixSize+n], &h); err != nil {
		return Header{}, nil, fmt.Errorf("envelope: decoding header: %w", err)
	}
	if h.Version != Version {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	start := payloadOffset(n)
	if start > len(data) || h.StoredSize > uint64(len(data)-start) {
		return Header{}, nil, fmt.Errorf("envelope: payload: %w", ErrTruncated)
	}
	end := start + int(h.StoredSize)
	return h, data[start:end:end], nil
}

func payloadOffset(headerSize int) int {
	return (prefixSize + headerSize + PayloadAlign - 1) &^ (PayloadAlign - 1)
}
