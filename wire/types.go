package wire

import "fmt"

// ===== PROTOBUF WIRE FORMAT TYPES =====

// WireType represents protobuf wire format types
type WireType uint8

const (
	WireVarint     WireType = 0 // int32, int64, uint32, uint64, sint32, sint64, bool, enum
	WireFixed64    WireType = 1 // fixed64, sfixed64, double
	WireBytes      WireType = 2 // string, bytes, embedded messages, packed repeated fields
	WireStartGroup WireType = 3 // group start marker
	WireEndGroup   WireType = 4 // group end marker
	WireFixed32    WireType = 5 // fixed32, sfixed32, float
)

// IsValid reports whether w is one of the six defined wire types.
func (w WireType) IsValid() bool {
	return w <= WireFixed32
}

func (w WireType) String() string {
	switch w {
	case WireVarint:
		return "varint"
	case WireFixed64:
		return "64-bit"
	case WireBytes:
		return "length-delimited"
	case WireStartGroup:
		return "start-group"
	case WireEndGroup:
		return "end-group"
	case WireFixed32:
		return "32-bit"
	default:
		return fmt.Sprintf("WireType(%d)", uint8(w))
	}
}

// FieldNumber represents a protobuf field number
type FieldNumber int32

const (
	MinFieldNumber FieldNumber = 1
	MaxFieldNumber FieldNumber = 1<<29 - 1
)

// Tag is one decoded field header: field number + wire type.
type Tag struct {
	FieldNumber FieldNumber
	WireType    WireType
}

// MakeTag creates a tag from field number and wire type
func MakeTag(fieldNumber FieldNumber, wireType WireType) Tag {
	return Tag{FieldNumber: fieldNumber, WireType: wireType}
}

// Encode returns the varint payload of the tag.
func (t Tag) Encode() uint64 {
	return uint64(t.FieldNumber)<<3 | uint64(t.WireType&0x7)
}

// ParseTag splits a raw tag varint into field number and wire type
func ParseTag(raw uint64) Tag {
	return Tag{FieldNumber: FieldNumber(raw >> 3), WireType: WireType(raw & 0x7)}
}

func (t Tag) String() string {
	return fmt.Sprintf("%d:%s", t.FieldNumber, t.WireType)
}

// FieldType is the declared protobuf type of a field. The numbering follows
// google.protobuf.FieldDescriptorProto.Type so descriptor kinds convert directly.
type FieldType uint8

const (
	// TypeNone is returned by a resolver to skip a field.
	TypeNone     FieldType = 0
	TypeDouble   FieldType = 1
	TypeFloat    FieldType = 2
	TypeInt64    FieldType = 3
	TypeUint64   FieldType = 4
	TypeInt32    FieldType = 5
	TypeFixed64  FieldType = 6
	TypeFixed32  FieldType = 7
	TypeBool     FieldType = 8
	TypeString   FieldType = 9
	TypeGroup    FieldType = 10
	TypeMessage  FieldType = 11
	TypeBytes    FieldType = 12
	TypeUint32   FieldType = 13
	TypeEnum     FieldType = 14
	TypeSfixed32 FieldType = 15
	TypeSfixed64 FieldType = 16
	TypeSint32   FieldType = 17
	TypeSint64   FieldType = 18
)

var typeInfo = [...]struct {
	name string
	wire WireType
}{
	TypeNone:     {"none", WireVarint},
	TypeDouble:   {"double", WireFixed64},
	TypeFloat:    {"float", WireFixed32},
	TypeInt64:    {"int64", WireVarint},
	TypeUint64:   {"uint64", WireVarint},
	TypeInt32:    {"int32", WireVarint},
	TypeFixed64:  {"fixed64", WireFixed64},
	TypeFixed32:  {"fixed32", WireFixed32},
	TypeBool:     {"bool", WireVarint},
	TypeString:   {"string", WireBytes},
	TypeGroup:    {"group", WireStartGroup},
	TypeMessage:  {"message", WireBytes},
	TypeBytes:    {"bytes", WireBytes},
	TypeUint32:   {"uint32", WireVarint},
	TypeEnum:     {"enum", WireVarint},
	TypeSfixed32: {"sfixed32", WireFixed32},
	TypeSfixed64: {"sfixed64", WireFixed64},
	TypeSint32:   {"sint32", WireVarint},
	TypeSint64:   {"sint64", WireVarint},
}

// IsValid reports whether t is a known field type other than TypeNone.
func (t FieldType) IsValid() bool {
	return t > TypeNone && int(t) < len(typeInfo)
}

func (t FieldType) String() string {
	if int(t) < len(typeInfo) {
		return typeInfo[t].name
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// ExpectedWireType returns the wire type a non-packed value of t is encoded with.
func (t FieldType) ExpectedWireType() WireType {
	if int(t) < len(typeInfo) {
		return typeInfo[t].wire
	}
	return WireVarint
}

// IsSubmessage reports whether values of t open a nested frame.
func (t FieldType) IsSubmessage() bool {
	return t == TypeMessage || t == TypeGroup
}

// IsString reports whether t carries a length-delimited payload handed out as bytes.
func (t FieldType) IsString() bool {
	return t == TypeString || t == TypeBytes
}

// IsScalar reports whether t decodes to a Value.
func (t FieldType) IsScalar() bool {
	return t.IsValid() && !t.IsSubmessage() && !t.IsString()
}

// IsPackable reports whether a repeated field of t may use packed encoding.
func (t FieldType) IsPackable() bool {
	return t.IsScalar()
}

// FixedSize returns the encoded width of fixed-width types and 0 for everything else.
func (t FieldType) FixedSize() int {
	switch t.ExpectedWireType() {
	case WireFixed32:
		if t.IsScalar() {
			return 4
		}
	case WireFixed64:
		if t.IsScalar() {
			return 8
		}
	}
	return 0
}

// WireValue is a raw scalar as it appears on the wire, before type interpretation.
// Fixed32 values occupy the low 32 bits of Bits.
type WireValue struct {
	Type WireType
	Bits uint64
}
