package wire

import (
	"encoding/binary"
)

// DECODER FUNCTIONS

// DecodeFixed32 decodes a little-endian 32-bit value from the start of b.
func DecodeFixed32(b []byte) (uint32, int, error) {
	if len(b) < 4 {
		return 0, 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(b), 4, nil
}

// DecodeFixed64 decodes a little-endian 64-bit value from the start of b.
func DecodeFixed64(b []byte) (uint64, int, error) {
	if len(b) < 8 {
		return 0, 0, ErrTruncated
	}
	return binary.LittleEndian.Uint64(b), 8, nil
}

// DecodeWireValue decodes one non-delimited, non-group wire value.
func DecodeWireValue(b []byte, wt WireType) (WireValue, int, error) {
	switch wt {
	case WireVarint:
		v, n, err := DecodeVarint(b)
		return WireValue{Type: wt, Bits: v}, n, err
	case WireFixed64:
		v, n, err := DecodeFixed64(b)
		return WireValue{Type: wt, Bits: v}, n, err
	case WireFixed32:
		v, n, err := DecodeFixed32(b)
		return WireValue{Type: wt, Bits: uint64(v)}, n, err
	default:
		return WireValue{}, 0, ErrInvalidWireType
	}
}

// ENCODER FUNCTIONS

// AppendFixed32 appends a little-endian 32-bit value to b.
func AppendFixed32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

// AppendFixed64 appends a little-endian 64-bit value to b.
func AppendFixed64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}
