package wire

// Encoder handles low-level protobuf wire format encoding
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new wire format encoder
func NewEncoder() *Encoder {
	return &Encoder{
		buf: make([]byte, 0, 64),
	}
}

// Bytes returns the encoded bytes
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of encoded bytes
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Reset clears the encoder buffer
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// EncodeVarint encodes a uint64 as varint
func (e *Encoder) EncodeVarint(v uint64) {
	e.buf = AppendVarint(e.buf, v)
}

// EncodeTag encodes a field tag
func (e *Encoder) EncodeTag(num FieldNumber, wt WireType) {
	e.buf = AppendTag(e.buf, num, wt)
}

// EncodeFixed32 encodes a 32-bit fixed-width value
func (e *Encoder) EncodeFixed32(v uint32) {
	e.buf = AppendFixed32(e.buf, v)
}

// EncodeFixed64 encodes a 64-bit fixed-width value
func (e *Encoder) EncodeFixed64(v uint64) {
	e.buf = AppendFixed64(e.buf, v)
}

// EncodeValue encodes a scalar without a tag
func (e *Encoder) EncodeValue(v Value) {
	e.buf = AppendValue(e.buf, v)
}

// EncodeBytes encodes a byte array as length-delimited
func (e *Encoder) EncodeBytes(data []byte) {
	e.buf = AppendBytes(e.buf, data)
}

// EncodeRaw appends pre-encoded bytes verbatim
func (e *Encoder) EncodeRaw(data []byte) {
	e.buf = append(e.buf, data...)
}

// EncodeField encodes a complete tagged scalar field
func (e *Encoder) EncodeField(num FieldNumber, v Value) {
	e.EncodeTag(num, v.Type().ExpectedWireType())
	e.EncodeValue(v)
}
