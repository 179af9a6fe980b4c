package stream

import (
	"bytes"
	"io"
	"slices"

	"github.com/pkg/errors"
)

// DefaultChunkSize is how many bytes a ReaderSource asks its reader for at once.
const DefaultChunkSize = 32 << 10

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

// BytesSource is a ByteSource over a byte slice. Chunks it returns alias the
// slice.
type BytesSource struct {
	status
	data []byte
}

var _ ByteSource = (*BytesSource)(nil)

func NewBytesSource(b []byte) *BytesSource {
	return &BytesSource{data: b}
}

// Next returns everything that is left.
func (s *BytesSource) Next() ([]byte, bool) {
	b, err := s.Get(1)
	return b, err == nil
}

// Get returns everything that is left, which may be less than min at the end
// of the slice.
func (s *BytesSource) Get(min int) ([]byte, error) {
	if len(s.data) == 0 {
		return nil, s.exhausted()
	}
	b := s.data
	s.data = nil
	s.eof = false
	return b, nil
}

// Append copies up to n bytes onto buf. A non-positive n copies everything
// that is left.
func (s *BytesSource) Append(buf []byte, n int) ([]byte, error) {
	if len(s.data) == 0 {
		return buf, s.exhausted()
	}
	if n <= 0 || n > len(s.data) {
		n = len(s.data)
	}
	buf = append(buf, s.data[:n]...)
	s.data = s.data[n:]
	s.eof = false
	return buf, nil
}

// Len returns the number of bytes not yet consumed.
func (s *BytesSource) Len() int { return len(s.data) }

// ReaderSource is a ByteSource over an io.Reader. Chunks returned by Next and
// Get are only valid until the next call.
type ReaderSource struct {
	status
	r       io.Reader
	chunk   int
	buf     []byte
	pending error // error to report once the data read with it is consumed
}

var _ ByteSource = (*ReaderSource)(nil)

func NewReaderSource(r io.Reader) *ReaderSource {
	return NewReaderSourceSize(r, DefaultChunkSize)
}

// NewReaderSourceSize returns a ReaderSource that reads chunk bytes at a time.
func NewReaderSourceSize(r io.Reader, chunk int) *ReaderSource {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &ReaderSource{r: r, chunk: chunk}
}

func (s *ReaderSource) Next() ([]byte, bool) {
	b, err := s.Get(1)
	return b, err == nil
}

func (s *ReaderSource) Get(min int) ([]byte, error) {
	if min < 1 {
		min = 1
	}
	s.buf = s.buf[:0]
	for len(s.buf) < min {
		var err error
		s.buf, err = s.Append(s.buf, max(min-len(s.buf), s.chunk))
		if err == io.EOF && len(s.buf) > 0 {
			s.eof = false
			return s.buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return s.buf, nil
}

// Append performs a single read of at most n bytes onto buf. A non-positive
// n reads up to the chunk size.
func (s *ReaderSource) Append(buf []byte, n int) ([]byte, error) {
	if s.err != nil {
		return buf, s.err
	}
	if s.pending != nil {
		err := s.pending
		s.pending = nil
		if err == io.EOF {
			return buf, s.exhausted()
		}
		return buf, s.fail(errors.Wrap(err, "read"))
	}
	if n <= 0 {
		n = s.chunk
	}
	buf = slices.Grow(buf, n)
	for i := 0; i < maxEmptyReads; i++ {
		m, err := s.r.Read(buf[len(buf) : len(buf)+n])
		buf = buf[:len(buf)+m]
		switch {
		case m > 0:
			s.pending = err
			s.eof = false
			return buf, nil
		case err == io.EOF:
			return buf, s.exhausted()
		case err != nil:
			return buf, s.fail(errors.Wrap(err, "read"))
		}
	}
	return buf, s.fail(io.ErrNoProgress)
}

// WriterSink is a ByteSink over an io.Writer.
type WriterSink struct {
	status
	w io.Writer
}

var _ ByteSink = (*WriterSink)(nil)

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Put(b []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.w.Write(b)
	if err != nil {
		return n, s.fail(errors.Wrap(err, "write"))
	}
	return n, nil
}

// BufferSink is a ByteSink that collects bytes in memory. Limit, when
// positive, caps how many bytes a single Put accepts; while Blocked is set
// Put accepts nothing. Both emulate a slow consumer.
type BufferSink struct {
	status
	Limit   int
	Blocked bool

	buf bytes.Buffer
}

var _ ByteSink = (*BufferSink)(nil)

func (s *BufferSink) Put(b []byte) (int, error) {
	if s.Blocked {
		s.eof = true
		return 0, nil
	}
	n := len(b)
	if s.Limit > 0 && n > s.Limit {
		n = s.Limit
	}
	s.buf.Write(b[:n])
	s.eof = false
	return n, nil
}

// Bytes returns everything accepted so far.
func (s *BufferSink) Bytes() []byte { return s.buf.Bytes() }

func (s *BufferSink) Reset() {
	s.buf.Reset()
	s.status = status{}
}
