package wire

import (
	"fmt"
	"math"
)

// Value is a fully typed scalar. The discriminant is the field type the value
// was decoded as; accessors panic when asked for an incompatible Go type, the
// way reflect.Value does.
type Value struct {
	typ  FieldType
	bits uint64
}

// Constructors

func ValueOfBool(v bool) Value {
	if v {
		return Value{typ: TypeBool, bits: 1}
	}
	return Value{typ: TypeBool}
}

func ValueOfInt32(v int32) Value { return Value{typ: TypeInt32, bits: uint64(int64(v))} }
func ValueOfInt64(v int64) Value { return Value{typ: TypeInt64, bits: uint64(v)} }
func ValueOfUint32(v uint32) Value { return Value{typ: TypeUint32, bits: uint64(v)} }
func ValueOfUint64(v uint64) Value { return Value{typ: TypeUint64, bits: v} }
func ValueOfFloat(v float32) Value { return Value{typ: TypeFloat, bits: uint64(math.Float32bits(v))} }
func ValueOfDouble(v float64) Value { return Value{typ: TypeDouble, bits: math.Float64bits(v)} }
func ValueOfEnum(v int32) Value { return Value{typ: TypeEnum, bits: uint64(int64(v))} }
func ValueOfSint32(v int32) Value { return Value{typ: TypeSint32, bits: uint64(int64(v))} }
func ValueOfSint64(v int64) Value { return Value{typ: TypeSint64, bits: uint64(v)} }
func ValueOfFixed32(v uint32) Value { return Value{typ: TypeFixed32, bits: uint64(v)} }
func ValueOfFixed64(v uint64) Value { return Value{typ: TypeFixed64, bits: v} }
func ValueOfSfixed32(v int32) Value { return Value{typ: TypeSfixed32, bits: uint64(int64(v))} }
func ValueOfSfixed64(v int64) Value { return Value{typ: TypeSfixed64, bits: uint64(v)} }

// Type returns the field type the value was decoded as.
func (v Value) Type() FieldType { return v.typ }

// IsValid reports whether v holds a scalar.
func (v Value) IsValid() bool { return v.typ.IsScalar() }

// Equal reports whether v and o have the same type and payload bits.
func (v Value) Equal(o Value) bool { return v.typ == o.typ && v.bits == o.bits }

func (v Value) mustBe(want string, types ...FieldType) {
	for _, t := range types {
		if v.typ == t {
			return
		}
	}
	panic(fmt.Sprintf("wire: Value.%s called on %s value", want, v.typ))
}

func (v Value) Bool() bool {
	v.mustBe("Bool", TypeBool)
	return v.bits != 0
}

func (v Value) Int32() int32 {
	v.mustBe("Int32", TypeInt32, TypeSint32, TypeSfixed32, TypeEnum)
	return int32(v.bits)
}

func (v Value) Int64() int64 {
	v.mustBe("Int64", TypeInt64, TypeSint64, TypeSfixed64)
	return int64(v.bits)
}

func (v Value) Uint32() uint32 {
	v.mustBe("Uint32", TypeUint32, TypeFixed32)
	return uint32(v.bits)
}

func (v Value) Uint64() uint64 {
	v.mustBe("Uint64", TypeUint64, TypeFixed64)
	return v.bits
}

func (v Value) Float() float32 {
	v.mustBe("Float", TypeFloat)
	return math.Float32frombits(uint32(v.bits))
}

func (v Value) Double() float64 {
	v.mustBe("Double", TypeDouble)
	return math.Float64frombits(v.bits)
}

func (v Value) Enum() int32 {
	v.mustBe("Enum", TypeEnum)
	return int32(v.bits)
}

// Interface returns the value as the natural Go type for its field type.
func (v Value) Interface() interface{} {
	switch v.typ {
	case TypeBool:
		return v.Bool()
	case TypeInt32, TypeSint32, TypeSfixed32, TypeEnum:
		return v.Int32()
	case TypeInt64, TypeSint64, TypeSfixed64:
		return v.Int64()
	case TypeUint32, TypeFixed32:
		return v.Uint32()
	case TypeUint64, TypeFixed64:
		return v.Uint64()
	case TypeFloat:
		return v.Float()
	case TypeDouble:
		return v.Double()
	default:
		return nil
	}
}

func (v Value) String() string {
	if !v.IsValid() {
		return "<invalid>"
	}
	return fmt.Sprintf("%s(%v)", v.typ, v.Interface())
}

// ValueFromWire interprets a raw wire value as field type ft. The caller must
// have checked WireTypeMatches(wv.Type, ft).
func ValueFromWire(wv WireValue, ft FieldType) Value {
	switch ft {
	case TypeInt32, TypeEnum:
		// Straight two's-complement truncation, high bits discarded.
		return Value{typ: ft, bits: uint64(int64(int32(wv.Bits)))}
	case TypeSint32:
		return Value{typ: ft, bits: uint64(int64(DecodeZigZag32(wv.Bits)))}
	case TypeSint64:
		return Value{typ: ft, bits: uint64(DecodeZigZag64(wv.Bits))}
	case TypeUint32:
		return Value{typ: ft, bits: uint64(uint32(wv.Bits))}
	case TypeSfixed32:
		return Value{typ: ft, bits: uint64(int64(int32(uint32(wv.Bits))))}
	case TypeBool:
		if wv.Bits != 0 {
			return Value{typ: ft, bits: 1}
		}
		return Value{typ: ft}
	default:
		// int64, uint64, fixed32/64, sfixed64, float, double keep their bits.
		return Value{typ: ft, bits: wv.Bits}
	}
}

// DecodeValue decodes one scalar of type ft from the start of b using the
// type's expected (non-packed) wire type.
func DecodeValue(b []byte, ft FieldType) (Value, int, error) {
	if !ft.IsScalar() {
		return Value{}, 0, fmt.Errorf("%w: %s is not a scalar type", ErrTypeMismatch, ft)
	}
	wv, n, err := DecodeWireValue(b, ft.ExpectedWireType())
	if err != nil {
		return Value{}, 0, err
	}
	return ValueFromWire(wv, ft), n, nil
}

// AppendValue appends the bare encoding of v (no tag) to b.
func AppendValue(b []byte, v Value) []byte {
	switch v.typ {
	case TypeSint32:
		return AppendVarint(b, EncodeZigZag32(int32(v.bits)))
	case TypeSint64:
		return AppendVarint(b, EncodeZigZag64(int64(v.bits)))
	case TypeFloat, TypeFixed32, TypeSfixed32:
		return AppendFixed32(b, uint32(v.bits))
	case TypeDouble, TypeFixed64, TypeSfixed64:
		return AppendFixed64(b, v.bits)
	default:
		// int32 and enum keep their sign extension, so negatives take 10 bytes.
		return AppendVarint(b, v.bits)
	}
}
