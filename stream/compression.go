package stream

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Compression is a framing codec applied to a byte stream before it reaches
// a Decoder or after it leaves an Encoder. It implements flag.Value.
type Compression int

const (
	None Compression = iota
	Gzip
	Snappy
	LZ4
	Zstd
)

var compressionNames = [...]string{
	None:   "none",
	Gzip:   "gzip",
	Snappy: "snappy",
	LZ4:    "lz4",
	Zstd:   "zstd",
}

// SupportedCompressions returns the names accepted by ParseCompression.
func SupportedCompressions() []string {
	return append([]string(nil), compressionNames[:]...)
}

// ParseCompression parses a codec name. The empty string means None.
func ParseCompression(s string) (Compression, error) {
	if s == "" {
		return None, nil
	}
	for c, name := range compressionNames {
		if strings.EqualFold(s, name) {
			return Compression(c), nil
		}
	}
	return None, fmt.Errorf("invalid compression %q, supported: %s", s, strings.Join(compressionNames[:], ", "))
}

func (c Compression) String() string {
	if c < 0 || int(c) >= len(compressionNames) {
		return fmt.Sprintf("Compression(%d)", int(c))
	}
	return compressionNames[c]
}

// Set implements flag.Value.
func (c *Compression) Set(s string) error {
	v, err := ParseCompression(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// NewReader wraps r so reads return decompressed bytes.
func (c Compression) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		return zr, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "zstd")
		}
		return zr.IOReadCloser(), nil
	}
	return nil, errors.Errorf("unknown compression %s", c)
}

// NewWriter wraps w so written bytes are compressed. Close must be called to
// flush the final frame; it does not close w.
func (c Compression) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case LZ4:
		return lz4.NewWriter(w), nil
	case Zstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "zstd")
		}
		return zw, nil
	}
	return nil, errors.Errorf("unknown compression %s", c)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
