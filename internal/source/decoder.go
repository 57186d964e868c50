package source

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Decoder unwraps zstd or gzip compressed payloads.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a new payload decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Compression names the wrapping detected on data, or "" for none.
func Compression(data []byte) string {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return "zstd"
	case bytes.HasPrefix(data, gzipMagic):
		return "gzip"
	default:
		return ""
	}
}

// Decode returns the uncompressed document bytes. Uncompressed input is
// returned as is.
func (d *Decoder) Decode(data []byte) ([]byte, error) {
	switch Compression(data) {
	case "zstd":
		out, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decompress: %v", ErrCorruptPayload, err)
		}
		return out, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip header: %v", ErrCorruptPayload, err)
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, maxPayloadBytes+1))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip decompress: %v", ErrCorruptPayload, err)
		}
		if len(out) > maxPayloadBytes {
			return nil, fmt.Errorf("%w: decompressed payload exceeds %d bytes", ErrCorruptPayload, maxPayloadBytes)
		}
		return out, nil
	default:
		return data, nil
	}
}
