// Package payload inflates compressed result payloads sent by relays.
package payload

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"relayd/internal/relay"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Encoding identifies how a payload was compressed before transport.
// The values are wire constants.
type Encoding string

const (
	// EncodingIdentity means the payload is not compressed
	EncodingIdentity Encoding = "identity"
	// EncodingZlib is RFC 1950 deflate with a zlib header
	EncodingZlib Encoding = "zlib"
	// EncodingZstd is a zstd frame
	EncodingZstd Encoding = "zstd"
	// EncodingLZ4 is an LZ4 frame
	EncodingLZ4 Encoding = "lz4"
)

// MaxInflatedSize caps the output of a single inflate
const MaxInflatedSize = 64 << 20

// ParseEncoding parses an encoding name; the empty string means identity
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(strings.ToLower(name)) {
	case "", EncodingIdentity:
		return EncodingIdentity, nil
	case EncodingZlib, "deflate":
		return EncodingZlib, nil
	case EncodingZstd:
		return EncodingZstd, nil
	case EncodingLZ4:
		return EncodingLZ4, nil
	default:
		return "", fmt.Errorf("unknown payload encoding %q", name)
	}
}

// Inflate decompresses data according to encoding.
// Malformed input, unknown encodings and oversized output yield a
// *relay.DecompressionError.
func Inflate(encoding string, data []byte) ([]byte, error) {
	enc, err := ParseEncoding(encoding)
	if err != nil {
		return nil, relay.NewDecompressionError(encoding, err)
	}

	var reader io.Reader
	switch enc {
	case EncodingIdentity:
		return data, nil

	case EncodingZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, relay.NewDecompressionError(string(enc), err)
		}
		defer zr.Close()
		reader = zr

	case EncodingZstd:
		zr, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderMaxMemory(MaxInflatedSize))
		if err != nil {
			return nil, relay.NewDecompressionError(string(enc), err)
		}
		defer zr.Close()
		reader = zr

	case EncodingLZ4:
		reader = lz4.NewReader(bytes.NewReader(data))
	}

	out, err := io.ReadAll(io.LimitReader(reader, MaxInflatedSize+1))
	if err != nil {
		return nil, relay.NewDecompressionError(string(enc), err)
	}
	if len(out) > MaxInflatedSize {
		return nil, relay.NewDecompressionError(string(enc), fmt.Errorf("inflated payload exceeds %d bytes", MaxInflatedSize))
	}
	return out, nil
}
