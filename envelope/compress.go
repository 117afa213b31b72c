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
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how the payload of an envelope is stored. The
// values are part of the file format.
type Compression uint8

const (
	// None stores the payload as is. Decoding a None envelope does not copy
	// the payload.
	None Compression = 0
	// LZ4 stores the payload as a single LZ4 block.
	LZ4 Compression = 1
	// Zstd stores the payload as a zstd frame.
	Zstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the name returned by Compression.String.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("envelope: unknown compression %q", name)
	}
}

// errIncompressible is returned by compress when the compressed form is not
// smaller than the input. Encode stores such payloads uncompressed.
var errIncompressible = errors.New("envelope: payload is incompressible")

// Bounds on how many bytes one stored byte can decompress to. A 4 byte zstd
// RLE block decodes to a full 128 KiB block.
const (
	lz4MaxExpansion  = 255
	zstdMaxExpansion = 128 << 10 / 4
)

// checkExpansion rejects a payload size that stored cannot decompress to.
func checkExpansion(size, stored int, ratio uint64, c Compression) error {
	if uint64(size) > ratio*uint64(stored)+ratio {
		return fmt.Errorf("%w: %d bytes from %d stored %s bytes", ErrPayloadTooLarge, size, stored, c)
	}
	return nil
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("envelope: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
	if err != nil {
		panic("envelope: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case None:
		return data, nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("envelope: lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil
	case Zstd:
		dst := zstdEncoder.EncodeAll(data, nil)
		if len(dst) >= len(data) {
			return nil, errIncompressible
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("envelope: unsupported compression %s", c)
	}
}

func decompress(stored []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case None:
		if len(stored) != size {
			return nil, fmt.Errorf("envelope: stored payload is %d bytes, expected %d", len(stored), size)
		}
		return stored, nil
	case LZ4:
		if err := checkExpansion(size, len(stored), lz4MaxExpansion, c); err != nil {
			return nil, err
		}
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(stored, dst)
		if err != nil {
			return nil, fmt.Errorf("envelope: lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("envelope: lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return dst, nil
	case Zstd:
		if err := checkExpansion(size, len(stored), zstdMaxExpansion, c); err != nil {
			return nil, err
		}
		// The header is not trusted yet, so the output grows with the
		// decoded data rather than being sized from it.
		dst, err := zstdDecoder.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("envelope: zstd decompress: %w", err)
		}
		if len(dst) != size {
			return nil, fmt.Errorf("envelope: zstd decompress: got %d bytes, expected %d", len(dst), size)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("envelope: unsupported compression %s", c)
	}
}
