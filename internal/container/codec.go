package container

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// CompressorConfig mirrors the "compressor" object in .zarray metadata.
// A nil config means chunks are stored raw.
type CompressorConfig struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		zstdEncoder, _ = zstd.NewWriter(nil)
		zstdDecoder, _ = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder
}

// Compress encodes a raw chunk with the configured codec.
func (c *CompressorConfig) Compress(raw []byte) ([]byte, error) {
	if c == nil {
		return raw, nil
	}
	switch c.ID {
	case "", "none":
		return raw, nil
	case "zlib":
		level := c.Level
		if level == 0 {
			level = zlib.DefaultCompression
		}
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "gzip":
		level := c.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zstd":
		enc, _ := zstdCodecs()
		if enc == nil {
			return nil, fmt.Errorf("zstd encoder unavailable")
		}
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compressor %q", c.ID)
	}
}

// Decompress decodes a stored chunk with the configured codec.
func (c *CompressorConfig) Decompress(data []byte) ([]byte, error) {
	if c == nil {
		return data, nil
	}
	switch c.ID {
	case "", "none":
		return data, nil
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "zstd":
		_, dec := zstdCodecs()
		if dec == nil {
			return nil, fmt.Errorf("zstd decoder unavailable")
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compressor %q", c.ID)
	}
}
