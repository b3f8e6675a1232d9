package zarr

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/qri-io/dataset/compression"
)

// numcodecs codec identifiers this package understands
const (
	CodecGZip  = "gzip"
	CodecZlib  = "zlib"
	CodecZstd  = "zstd"
	CodecBlosc = "blosc"
)

// CompressionMeta defines compression settings this package understands. A nil
// *CompressionMeta is encoded as JSON null and means chunks are stored raw.
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
	Level   int    `json:"level,omitempty"`
}

// ParseCompressor maps a codec name to compression settings. "" and "none"
// disable compression.
func ParseCompressor(id string) (*CompressionMeta, error) {
	switch id {
	case "", "none", "null":
		return nil, nil
	case CodecGZip, CodecZlib, CodecZstd:
		return &CompressionMeta{ID: id}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, id)
}

// shared zstd encoder & decoder, only EncodeAll/DecodeAll are used which
// are safe for concurrent use
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
		panic(err)
	}
	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		panic(err)
	}
}

// chunkReader reads decoded bytes. Close closes the decoder and then the
// underlying store reader.
type chunkReader struct {
	io.Reader
	closers []io.Closer
}

func (c *chunkReader) Close() error {
	var err error
	for _, cl := range c.closers {
		if cerr := cl.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Decompressor wraps a reader of encoded chunk bytes. Closing the returned
// reader closes r, as does a failure.
func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	if m == nil {
		return r, nil
	}
	switch m.ID {
	case CodecGZip, CodecZlib:
		var (
			dr  io.ReadCloser
			err error
		)
		if m.ID == CodecGZip {
			dr, err = compression.Decompressor("gzip", r)
		} else {
			dr, err = zlib.NewReader(r)
		}
		if err != nil {
			r.Close()
			return nil, err
		}
		return &chunkReader{Reader: dr, closers: []io.Closer{dr, r}}, nil
	case CodecZstd:
		defer r.Close()
		data, err := ioutil.ReadAll(r)
		if err != nil {
			return nil, err
		}
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, err
		}
		return ioutil.NopCloser(bytes.NewReader(out)), nil
	}
	r.Close()
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, m.ID)
}

// Encode compresses a raw chunk
func (m *CompressionMeta) Encode(raw []byte) ([]byte, error) {
	if m == nil {
		return raw, nil
	}

	buf := &bytes.Buffer{}
	var w io.WriteCloser
	switch m.ID {
	case CodecZstd:
		return zstdEncoder.EncodeAll(raw, nil), nil
	case CodecGZip:
		cw, err := compression.Compressor("gzip", buf)
		if err != nil {
			return nil, err
		}
		w = cw
	case CodecZlib:
		level := m.Level
		if level == 0 {
			level = zlib.DefaultCompression
		}
		zw, err := zlib.NewWriterLevel(buf, level)
		if err != nil {
			return nil, err
		}
		w = zw
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, m.ID)
	}

	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decompresses an encoded chunk
func (m *CompressionMeta) Decode(encoded []byte) ([]byte, error) {
	rc, err := m.Decompressor(ioutil.NopCloser(bytes.NewReader(encoded)))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ioutil.ReadAll(rc)
}
