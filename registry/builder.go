package registry

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	protoparserparser "github.com/yoheimuta/go-protoparser/v4/parser"

	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/wire"
)

var scalarTypes = map[string]wire.FieldType{
	"double":   wire.TypeDouble,
	"float":    wire.TypeFloat,
	"int64":    wire.TypeInt64,
	"uint64":   wire.TypeUint64,
	"int32":    wire.TypeInt32,
	"fixed64":  wire.TypeFixed64,
	"fixed32":  wire.TypeFixed32,
	"bool":     wire.TypeBool,
	"string":   wire.TypeString,
	"bytes":    wire.TypeBytes,
	"uint32":   wire.TypeUint32,
	"sfixed32": wire.TypeSfixed32,
	"sfixed64": wire.TypeSfixed64,
	"sint32":   wire.TypeSint32,
	"sint64":   wire.TypeSint64,
}

// unresolvedField is a field whose type names a message or enum that may be
// defined later in the same load.
type unresolvedField struct {
	field  *schema.Field
	scope  string
	packed *bool
}

// fileBuilder turns one parsed .proto file into schema types.
type fileBuilder struct {
	r          *Registry
	proto      *protoparserparser.Proto
	file       *schema.ProtoFile
	proto3     bool
	unresolved []unresolvedField
}

func newFileBuilder(r *Registry, path string, proto *protoparserparser.Proto) *fileBuilder {
	return &fileBuilder{
		r:     r,
		proto: proto,
		file:  &schema.ProtoFile{Name: path, Syntax: "proto2"},
	}
}

// build registers every message and enum of the file. Scalar fields are
// complete afterwards; named types wait for resolve.
func (b *fileBuilder) build() error {
	if b.proto.Syntax != nil {
		b.file.Syntax = strings.Trim(b.proto.Syntax.ProtobufVersion, `"'`)
	}
	b.proto3 = b.file.Syntax == "proto3"

	// The package has to be known before any name is registered.
	for _, body := range b.proto.ProtoBody {
		if pkg, ok := body.(*protoparserparser.Package); ok {
			b.file.Package = pkg.Name
		}
	}

	for _, body := range b.proto.ProtoBody {
		switch e := body.(type) {
		case *protoparserparser.Import:
			b.file.Imports = append(b.file.Imports, &schema.Import{
				Path:   strings.Trim(e.Location, `"'`),
				Public: e.Modifier == protoparserparser.ImportModifierPublic,
				Weak:   e.Modifier == protoparserparser.ImportModifierWeak,
			})
		case *protoparserparser.Message:
			msg, err := b.message(e.MessageName, e.MessageBody, b.file.Package)
			if err != nil {
				return err
			}
			b.file.Messages = append(b.file.Messages, msg)
		case *protoparserparser.Enum:
			enum, err := b.enum(e, b.file.Package)
			if err != nil {
				return err
			}
			b.file.Enums = append(b.file.Enums, enum)
		}
	}
	b.r.repo.ProtoFiles[b.file.Name] = b.file
	return nil
}

func (b *fileBuilder) message(name string, body []protoparserparser.Visitee, scope string) (*schema.Message, error) {
	msg := &schema.Message{Name: b.r.getFullName(scope, name)}
	if err := b.r.registerMessage(msg); err != nil {
		return nil, err
	}
	if err := b.body(msg, body); err != nil {
		return nil, errors.Wrapf(err, "message %s", msg.Name)
	}
	return msg, nil
}

func (b *fileBuilder) body(msg *schema.Message, body []protoparserparser.Visitee) error {
	for _, v := range body {
		switch e := v.(type) {
		case *protoparserparser.Field:
			label := schema.LabelOptional
			switch {
			case e.IsRepeated:
				label = schema.LabelRepeated
			case e.IsRequired:
				label = schema.LabelRequired
			}
			f, err := b.field(msg.Name, e.FieldName, e.FieldNumber, e.Type, label, e.FieldOptions, -1)
			if err != nil {
				return err
			}
			msg.Fields = append(msg.Fields, f)

		case *protoparserparser.MapField:
			f, err := b.mapField(msg, e)
			if err != nil {
				return err
			}
			msg.Fields = append(msg.Fields, f)

		case *protoparserparser.GroupField:
			nested, err := b.message(e.GroupName, e.MessageBody, msg.Name)
			if err != nil {
				return err
			}
			msg.NestedTypes = append(msg.NestedTypes, nested)
			num, err := parseFieldNumber(e.FieldNumber)
			if err != nil {
				return err
			}
			label := schema.LabelOptional
			switch {
			case e.IsRepeated:
				label = schema.LabelRepeated
			case e.IsRequired:
				label = schema.LabelRequired
			}
			name := strings.ToLower(e.GroupName)
			msg.Fields = append(msg.Fields, &schema.Field{
				Name:       name,
				Number:     num,
				Label:      label,
				Type:       wire.TypeGroup,
				TypeName:   nested.Name,
				JsonName:   jsonName(name),
				OneofIndex: -1,
				Message:    nested,
			})

		case *protoparserparser.Oneof:
			idx := int32(len(msg.OneofGroups))
			group := &schema.Oneof{Name: e.OneofName}
			for _, of := range e.OneofFields {
				f, err := b.field(msg.Name, of.FieldName, of.FieldNumber, of.Type, schema.LabelOptional, of.FieldOptions, idx)
				if err != nil {
					return err
				}
				group.Fields = append(group.Fields, f)
				msg.Fields = append(msg.Fields, f)
			}
			msg.OneofGroups = append(msg.OneofGroups, group)

		case *protoparserparser.Message:
			nested, err := b.message(e.MessageName, e.MessageBody, msg.Name)
			if err != nil {
				return err
			}
			msg.NestedTypes = append(msg.NestedTypes, nested)

		case *protoparserparser.Enum:
			enum, err := b.enum(e, msg.Name)
			if err != nil {
				return err
			}
			msg.NestedEnums = append(msg.NestedEnums, enum)
		}
	}
	msg.Reindex()
	return nil
}

func (b *fileBuilder) field(scope, name, number, typ string, label schema.FieldLabel, opts []*protoparserparser.FieldOption, oneof int32) (*schema.Field, error) {
	num, err := parseFieldNumber(number)
	if err != nil {
		return nil, errors.Wrapf(err, "field %s", name)
	}
	f := &schema.Field{
		Name:       name,
		Number:     num,
		Label:      label,
		TypeName:   typ,
		JsonName:   jsonName(name),
		OneofIndex: oneof,
	}
	packed := packedOption(opts)
	if ft, ok := scalarTypes[typ]; ok {
		f.Type = ft
		f.TypeName = ""
		b.setPacked(f, packed)
		return f, nil
	}
	b.unresolved = append(b.unresolved, unresolvedField{field: f, scope: scope, packed: packed})
	return f, nil
}

// mapField synthesizes the XxxEntry message protoc generates for a map.
func (b *fileBuilder) mapField(msg *schema.Message, e *protoparserparser.MapField) (*schema.Field, error) {
	entry := &schema.Message{Name: msg.Name + "." + camelCase(e.MapName) + "Entry", MapEntry: true}
	if err := b.r.registerMessage(entry); err != nil {
		return nil, err
	}
	key, err := b.field(entry.Name, "key", "1", e.KeyType, schema.LabelOptional, nil, -1)
	if err != nil {
		return nil, err
	}
	if !key.Type.IsScalar() && !key.Type.IsString() || key.Type == wire.TypeBytes ||
		key.Type == wire.TypeFloat || key.Type == wire.TypeDouble {
		return nil, errors.Errorf("map %s: invalid key type %s", e.MapName, e.KeyType)
	}
	value, err := b.field(entry.Name, "value", "2", e.Type, schema.LabelOptional, nil, -1)
	if err != nil {
		return nil, err
	}
	entry.Fields = []*schema.Field{key, value}
	entry.Reindex()
	msg.NestedTypes = append(msg.NestedTypes, entry)

	num, err := parseFieldNumber(e.FieldNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "map %s", e.MapName)
	}
	return &schema.Field{
		Name:       e.MapName,
		Number:     num,
		Label:      schema.LabelRepeated,
		Type:       wire.TypeMessage,
		TypeName:   entry.Name,
		JsonName:   jsonName(e.MapName),
		OneofIndex: -1,
		Message:    entry,
	}, nil
}

func (b *fileBuilder) enum(e *protoparserparser.Enum, scope string) (*schema.Enum, error) {
	enum := &schema.Enum{Name: b.r.getFullName(scope, e.EnumName)}
	for _, v := range e.EnumBody {
		switch x := v.(type) {
		case *protoparserparser.EnumField:
			n, err := strconv.ParseInt(x.Number, 0, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "enum %s value %s", enum.Name, x.Ident)
			}
			enum.Values = append(enum.Values, &schema.EnumValue{Name: x.Ident, Number: int32(n)})
		case *protoparserparser.Option:
			if x.OptionName == "allow_alias" && x.Constant == "true" {
				enum.AllowAlias = true
			}
		}
	}
	if err := b.r.registerEnum(enum); err != nil {
		return nil, err
	}
	return enum, nil
}

// resolve binds every named field type once all names are registered.
func (b *fileBuilder) resolve() error {
	for _, u := range b.unresolved {
		name, err := getReferencedType(u.field.TypeName, u.scope, b.r.symbols)
		if err != nil {
			return errors.Wrapf(err, "field %s.%s", u.scope, u.field.Name)
		}
		u.field.TypeName = name
		if msg, ok := b.r.messages[name]; ok {
			u.field.Type = wire.TypeMessage
			u.field.Message = msg
			continue
		}
		u.field.Type = wire.TypeEnum
		u.field.Enum = b.r.enums[name]
		b.setPacked(u.field, u.packed)
	}
	b.unresolved = nil
	return nil
}

// setPacked applies the packing rules: proto3 packs repeated scalars unless
// told otherwise, proto2 only with [packed = true].
func (b *fileBuilder) setPacked(f *schema.Field, opt *bool) {
	if !f.IsRepeated() || !f.Type.IsPackable() {
		return
	}
	if opt != nil {
		f.Packed = *opt
		return
	}
	f.Packed = b.proto3
}

func packedOption(opts []*protoparserparser.FieldOption) *bool {
	for _, o := range opts {
		if o.OptionName == "packed" {
			v := o.Constant == "true"
			return &v
		}
	}
	return nil
}

func parseFieldNumber(s string) (wire.FieldNumber, error) {
	n, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid field number %q", s)
	}
	if n < int64(wire.MinFieldNumber) || n > int64(wire.MaxFieldNumber) {
		return 0, errors.Errorf("field number %d out of range", n)
	}
	return wire.FieldNumber(n), nil
}
