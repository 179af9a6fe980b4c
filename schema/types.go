package schema

import (
	"fmt"

	"github.com/anirudhraja/protostream/wire"
)

// ProtoRepo represents a collection of .proto files and their definitions.
type ProtoRepo struct {
	ProtoFiles map[string]*ProtoFile `json:"proto_files"`
}

// ProtoFile represents a single .proto file
type ProtoFile struct {
	Name     string     `json:"name"`     // file.proto
	Package  string     `json:"package"`  // package name
	Syntax   string     `json:"syntax"`   // proto2 or proto3
	Imports  []*Import  `json:"imports"`  // imported files
	Messages []*Message `json:"messages"` // top-level message definitions
	Enums    []*Enum    `json:"enums"`    // top-level enum definitions
}

// Import represents an import statement
type Import struct {
	Path   string `json:"path"`   // "google/protobuf/timestamp.proto"
	Public bool   `json:"public"` // public import
	Weak   bool   `json:"weak"`   // weak import
}

// Message represents a protobuf message definition. Name is fully qualified.
type Message struct {
	Name        string     `json:"name"`         // "pkg.User"
	Fields      []*Field   `json:"fields"`       // message fields
	NestedTypes []*Message `json:"nested_types"` // nested messages
	NestedEnums []*Enum    `json:"nested_enums"` // nested enums
	OneofGroups []*Oneof   `json:"oneof_groups"` // oneof groups
	MapEntry    bool       `json:"map_entry"`    // is this a map entry?

	byNumber map[wire.FieldNumber]*Field
}

// NewMessage returns a message with its field index built.
func NewMessage(name string, fields ...*Field) *Message {
	m := &Message{Name: name, Fields: fields}
	m.Reindex()
	return m
}

// Reindex rebuilds the field-number index after Fields was modified.
func (m *Message) Reindex() {
	m.byNumber = make(map[wire.FieldNumber]*Field, len(m.Fields))
	for _, f := range m.Fields {
		m.byNumber[f.Number] = f
	}
}

// FieldByNumber returns the field with the given number, or nil. Messages
// built as literals without Reindex are searched linearly.
func (m *Message) FieldByNumber(n wire.FieldNumber) *Field {
	if m == nil {
		return nil
	}
	if m.byNumber != nil {
		return m.byNumber[n]
	}
	for _, f := range m.Fields {
		if f.Number == n {
			return f
		}
	}
	return nil
}

// FieldByName returns the field with the given name, or nil.
func (m *Message) FieldByName(name string) *Field {
	if m == nil {
		return nil
	}
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Field represents a message field
type Field struct {
	Name       string           `json:"name"`        // "user_name"
	Number     wire.FieldNumber `json:"number"`      // 1
	Label      FieldLabel       `json:"label"`       // optional, required, repeated
	Type       wire.FieldType   `json:"type"`        // declared wire-level type
	Packed     bool             `json:"packed"`      // repeated scalar written as one packed run
	TypeName   string           `json:"type_name"`   // referenced message or enum as written in the source
	JsonName   string           `json:"json_name"`   // JSON field name
	OneofIndex int32            `json:"oneof_index"` // oneof group index (-1 if not in oneof)

	Message *Message `json:"-"` // resolved message for message, group and map fields
	Enum    *Enum    `json:"-"` // resolved enum for enum fields
}

// IsRepeated reports whether the field is repeated (maps included).
func (f *Field) IsRepeated() bool {
	return f.Label == LabelRepeated
}

// IsMap reports whether the field is a map, i.e. a repeated map entry message.
func (f *Field) IsMap() bool {
	return f.Message != nil && f.Message.MapEntry
}

func (f *Field) String() string {
	if f == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s = %d (%s)", f.Name, f.Number, f.Type)
}

// Oneof represents a oneof group
type Oneof struct {
	Name   string   `json:"name"`   // "user_info"
	Fields []*Field `json:"fields"` // fields in this oneof
}

// FieldLabel represents field labels
type FieldLabel string

const (
	LabelOptional FieldLabel = "optional"
	LabelRequired FieldLabel = "required"
	LabelRepeated FieldLabel = "repeated"
)

// Enum represents an enum definition
type Enum struct {
	Name       string       `json:"name"`        // "pkg.Status"
	Values     []*EnumValue `json:"values"`      // enum values
	AllowAlias bool         `json:"allow_alias"` // allow_alias option
}

// ValueByNumber returns the first value declared with number n, or nil.
func (e *Enum) ValueByNumber(n int32) *EnumValue {
	if e == nil {
		return nil
	}
	for _, v := range e.Values {
		if v.Number == n {
			return v
		}
	}
	return nil
}

// EnumValue represents an enum value
type EnumValue struct {
	Name   string `json:"name"`   // "ACTIVE"
	Number int32  `json:"number"` // 1
}
