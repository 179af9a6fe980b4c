package parser

// StringBuffer is a caller-owned byte buffer the parser reuses for string
// and bytes payloads that arrive split across Parse calls. The parser may grow
// it and overwrite it on the next string field, so its contents must not be
// retained past the String callback that received them. A StringBuffer must
// not be shared between parsers.
type StringBuffer struct {
	b []byte
}

// NewStringBuffer returns a buffer with the given initial capacity.
func NewStringBuffer(capacity int) *StringBuffer {
	return &StringBuffer{b: make([]byte, 0, capacity)}
}

// Bytes returns the current contents.
func (s *StringBuffer) Bytes() []byte { return s.b }

// Len returns the number of buffered bytes.
func (s *StringBuffer) Len() int { return len(s.b) }

// Cap returns the capacity of the underlying allocation.
func (s *StringBuffer) Cap() int { return cap(s.b) }

// Reset empties the buffer, keeping its allocation.
func (s *StringBuffer) Reset() { s.b = s.b[:0] }

func (s *StringBuffer) write(p []byte) { s.b = append(s.b, p...) }
