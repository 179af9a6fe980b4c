package wire

import "math"

// MaxLength is the largest length prefix accepted for a delimited field.
const MaxLength = math.MaxInt32

// DecodeLength decodes a length prefix. The payload itself is not checked.
func DecodeLength(b []byte) (int, int, error) {
	l, n, err := DecodeVarint(b)
	if err != nil {
		return 0, 0, err
	}
	if l > MaxLength {
		return 0, 0, ErrLengthOverflow
	}
	return int(l), n, nil
}

// DecodeBytes decodes a length-delimited payload from the start of b. The
// returned slice aliases b.
func DecodeBytes(b []byte) ([]byte, int, error) {
	l, n, err := DecodeLength(b)
	if err != nil {
		return nil, 0, err
	}
	if len(b)-n < l {
		return nil, 0, ErrTruncated
	}
	return b[n : n+l], n + l, nil
}

// AppendBytes appends data as a length-delimited payload.
func AppendBytes(b []byte, data []byte) []byte {
	b = AppendVarint(b, uint64(len(data)))
	return append(b, data...)
}

// BytesSize returns the size needed to encode the given bytes
func BytesSize(data []byte) int {
	return VarintSize(uint64(len(data))) + len(data)
}
