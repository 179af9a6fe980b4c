package registry

import (
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/wire"
)

// LoadDescriptor loads a compiled file descriptor and, first, every file it
// imports. Files already loaded are skipped.
func (r *Registry) LoadDescriptor(fd protoreflect.FileDescriptor) error {
	r.init()
	var pending []protoreflect.MessageDescriptor
	if err := r.registerFileDescriptor(fd, &pending); err != nil {
		return err
	}
	for _, md := range pending {
		if err := r.buildDescriptorFields(md); err != nil {
			return errors.Wrapf(err, "message %s", md.FullName())
		}
	}
	return nil
}

// LoadFileDescriptorSet loads every file of a serialized descriptor set, as
// produced by protoc --descriptor_set_out.
func (r *Registry) LoadFileDescriptorSet(set *descriptorpb.FileDescriptorSet) error {
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return errors.Wrap(err, "invalid file descriptor set")
	}
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		err = r.LoadDescriptor(fd)
		return err == nil
	})
	return err
}

func (r *Registry) registerFileDescriptor(fd protoreflect.FileDescriptor, pending *[]protoreflect.MessageDescriptor) error {
	if fd.IsPlaceholder() {
		return errors.Errorf("file %s is a placeholder, its definitions are unknown", fd.Path())
	}
	if _, ok := r.loadedFiles[fd.Path()]; ok {
		return nil
	}
	r.loadedFiles[fd.Path()] = struct{}{}

	file := &schema.ProtoFile{
		Name:    fd.Path(),
		Package: string(fd.Package()),
		Syntax:  fd.Syntax().String(),
	}
	imports := fd.Imports()
	for i := 0; i < imports.Len(); i++ {
		imp := imports.Get(i)
		file.Imports = append(file.Imports, &schema.Import{Path: imp.Path(), Public: imp.IsPublic, Weak: imp.IsWeak})
		if imp.IsPlaceholder() {
			continue
		}
		if err := r.registerFileDescriptor(imp.FileDescriptor, pending); err != nil {
			return err
		}
	}

	var err error
	if file.Messages, err = r.registerMessageDescriptors(fd.Messages(), pending); err != nil {
		return err
	}
	if file.Enums, err = r.registerEnumDescriptors(fd.Enums()); err != nil {
		return err
	}
	r.repo.ProtoFiles[file.Name] = file
	level.Debug(r.Logger).Log("msg", "loaded file descriptor", "path", file.Name, "messages", len(file.Messages))
	return nil
}

func (r *Registry) registerMessageDescriptors(mds protoreflect.MessageDescriptors, pending *[]protoreflect.MessageDescriptor) ([]*schema.Message, error) {
	var out []*schema.Message
	for i := 0; i < mds.Len(); i++ {
		md := mds.Get(i)
		msg := &schema.Message{Name: string(md.FullName()), MapEntry: md.IsMapEntry()}
		if err := r.registerMessage(msg); err != nil {
			return nil, err
		}
		*pending = append(*pending, md)

		nested, err := r.registerMessageDescriptors(md.Messages(), pending)
		if err != nil {
			return nil, err
		}
		msg.NestedTypes = nested
		if msg.NestedEnums, err = r.registerEnumDescriptors(md.Enums()); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *Registry) registerEnumDescriptors(eds protoreflect.EnumDescriptors) ([]*schema.Enum, error) {
	var out []*schema.Enum
	for i := 0; i < eds.Len(); i++ {
		ed := eds.Get(i)
		enum := &schema.Enum{Name: string(ed.FullName())}
		values := ed.Values()
		for j := 0; j < values.Len(); j++ {
			v := values.Get(j)
			enum.Values = append(enum.Values, &schema.EnumValue{Name: string(v.Name()), Number: int32(v.Number())})
		}
		if opts, ok := ed.Options().(*descriptorpb.EnumOptions); ok && opts.GetAllowAlias() {
			enum.AllowAlias = true
		}
		if err := r.registerEnum(enum); err != nil {
			return nil, err
		}
		out = append(out, enum)
	}
	return out, nil
}

// buildDescriptorFields fills in the fields of an already registered message.
func (r *Registry) buildDescriptorFields(md protoreflect.MessageDescriptor) error {
	msg := r.messages[string(md.FullName())]

	oneofs := md.Oneofs()
	for i := 0; i < oneofs.Len(); i++ {
		msg.OneofGroups = append(msg.OneofGroups, &schema.Oneof{Name: string(oneofs.Get(i).Name())})
	}

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		f := &schema.Field{
			Name:       string(fd.Name()),
			Number:     wire.FieldNumber(fd.Number()),
			Type:       wire.FieldType(fd.Kind()),
			Packed:     fd.IsPacked(),
			JsonName:   fd.JSONName(),
			OneofIndex: -1,
		}
		switch fd.Cardinality() {
		case protoreflect.Repeated:
			f.Label = schema.LabelRepeated
		case protoreflect.Required:
			f.Label = schema.LabelRequired
		default:
			f.Label = schema.LabelOptional
		}
		if ref := fd.Message(); ref != nil {
			f.TypeName = string(ref.FullName())
			if f.Message = r.messages[f.TypeName]; f.Message == nil {
				return errors.Errorf("field %s: message %s is not loaded", fd.Name(), f.TypeName)
			}
		}
		if ref := fd.Enum(); ref != nil {
			f.TypeName = string(ref.FullName())
			if f.Enum = r.enums[f.TypeName]; f.Enum == nil {
				return errors.Errorf("field %s: enum %s is not loaded", fd.Name(), f.TypeName)
			}
		}
		if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
			f.OneofIndex = int32(od.Index())
			group := msg.OneofGroups[od.Index()]
			group.Fields = append(group.Fields, f)
		}
		msg.Fields = append(msg.Fields, f)
	}
	msg.Reindex()
	return nil
}

// loadWellKnown resolves an import of one of the google/protobuf files from
// the descriptors linked into this binary.
func (r *Registry) loadWellKnown(path string) error {
	fd, err := protoregistry.GlobalFiles.FindFileByPath(path)
	if err != nil {
		return errors.Wrapf(err, "well-known import %s", path)
	}
	return r.LoadDescriptor(fd)
}
