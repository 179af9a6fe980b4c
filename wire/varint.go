package wire

// MaxVarintLen64 is the longest legal varint encoding of a 64-bit value.
const MaxVarintLen64 = 10

// DECODER FUNCTIONS

// DecodeVarint decodes a base-128 varint from the start of b and returns the
// value and the number of bytes consumed. ErrTruncated means b ended before
// the varint did; ErrVarintTooLong means the encoding can never be valid.
func DecodeVarint(b []byte) (uint64, int, error) {
	// Fast path for single-byte varints (values 0-127)
	if len(b) > 0 && b[0] < 0x80 {
		return uint64(b[0]), 1, nil
	}

	var result uint64
	var shift uint

	for i := 0; i < MaxVarintLen64; i++ {
		if i >= len(b) {
			return 0, 0, ErrTruncated
		}
		c := b[i]

		// The 10th byte may only contribute bit 63.
		if i == MaxVarintLen64-1 {
			if c >= 0x80 {
				return 0, 0, ErrVarintTooLong
			}
			if c > 1 {
				return 0, 0, ErrVarintOverflow
			}
		}

		result |= uint64(c&0x7F) << shift

		// If MSB is not set, we're done
		if c < 0x80 {
			return result, i + 1, nil
		}

		shift += 7
	}

	return 0, 0, ErrVarintTooLong
}

// SkipVarint returns the length of the varint at the start of b without decoding it.
func SkipVarint(b []byte) (int, error) {
	for i := 0; i < MaxVarintLen64; i++ {
		if i >= len(b) {
			return 0, ErrTruncated
		}
		if b[i] < 0x80 {
			return i + 1, nil
		}
	}
	return 0, ErrVarintTooLong
}

// DecodeTag decodes a field tag. The tag varint must fit in 32 bits, the
// field number must be positive and the wire type one of the six defined ones.
func DecodeTag(b []byte) (Tag, int, error) {
	raw, n, err := DecodeVarint(b)
	if err != nil {
		return Tag{}, 0, err
	}
	if raw > 1<<32-1 {
		return Tag{}, 0, ErrInvalidFieldNumber
	}
	tag := ParseTag(raw)
	if tag.FieldNumber < MinFieldNumber {
		return Tag{}, 0, ErrInvalidFieldNumber
	}
	if !tag.WireType.IsValid() {
		return Tag{}, 0, ErrInvalidWireType
	}
	return tag, n, nil
}

// ENCODER FUNCTIONS

// AppendVarint appends the varint encoding of v to b.
func AppendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// AppendTag appends the encoding of a tag to b.
func AppendTag(b []byte, num FieldNumber, wt WireType) []byte {
	return AppendVarint(b, MakeTag(num, wt).Encode())
}

// UTILITY FUNCTIONS

// DecodeZigZag32 decodes a zigzag-encoded 32-bit integer
func DecodeZigZag32(encoded uint64) int32 {
	return int32((uint32(encoded) >> 1) ^ uint32(-int32(encoded&1)))
}

// DecodeZigZag64 decodes a zigzag-encoded 64-bit integer
func DecodeZigZag64(encoded uint64) int64 {
	return int64((encoded >> 1) ^ uint64(-int64(encoded&1)))
}

// EncodeZigZag32 encodes a signed 32-bit integer using zigzag encoding
func EncodeZigZag32(v int32) uint64 {
	return uint64((uint32(v) << 1) ^ uint32(v>>31))
}

// EncodeZigZag64 encodes a signed 64-bit integer using zigzag encoding
func EncodeZigZag64(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// VarintSize returns the number of bytes needed to encode the given varint
func VarintSize(v uint64) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	case v < 1<<28:
		return 4
	case v < 1<<35:
		return 5
	case v < 1<<42:
		return 6
	case v < 1<<49:
		return 7
	case v < 1<<56:
		return 8
	case v < 1<<63:
		return 9
	default:
		return 10
	}
}
