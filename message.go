package protostream

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protostream/registry"
	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/stream"
	"github.com/anirudhraja/protostream/wire"
)

// decodeMessage reads the fields of one message from src into a map keyed
// by field name. Repeated fields become []interface{}, map fields
// map[interface{}]interface{}, submessages map[string]interface{}.
func decodeMessage(src stream.Source, msg *schema.Message) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	for {
		f, ok := src.Next()
		if !ok {
			if src.EOF() {
				return result, nil
			}
			return nil, errors.Wrapf(src.Err(), "failed to decode message %s", msg.Name)
		}

		value, err := decodeValue(src, f)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode field %s", f.Name)
		}

		switch {
		case f.IsMap():
			entries, _ := result[f.Name].(map[interface{}]interface{})
			if entries == nil {
				entries = make(map[interface{}]interface{})
				result[f.Name] = entries
			}
			entry := value.(map[string]interface{})
			entries[mapEntryValue(f.Message, entry, "key")] = mapEntryValue(f.Message, entry, "value")
		case f.IsRepeated():
			list, _ := result[f.Name].([]interface{})
			result[f.Name] = append(list, value)
		default:
			result[f.Name] = value
		}
	}
}

func decodeValue(src stream.Source, f *schema.Field) (interface{}, error) {
	switch {
	case f.Type.IsSubmessage():
		if err := src.EnterSubmessage(); err != nil {
			return nil, err
		}
		m, err := decodeMessage(src, f.Message)
		if err != nil {
			return nil, err
		}
		return m, src.ExitSubmessage()
	case f.Type == wire.TypeString:
		b, err := src.ReadString(nil)
		return string(b), err
	case f.Type == wire.TypeBytes:
		return src.ReadString([]byte{})
	default:
		v, err := src.ReadValue()
		if err != nil {
			return nil, err
		}
		return v.Interface(), nil
	}
}

// mapEntryValue returns a key or value of a decoded map entry, or the zero
// value of its type when the entry omitted it.
func mapEntryValue(entryType *schema.Message, entry map[string]interface{}, name string) interface{} {
	if v, ok := entry[name]; ok {
		return v
	}
	f := entryType.FieldByName(name)
	if f == nil {
		return nil
	}
	switch {
	case f.Type == wire.TypeString:
		return ""
	case f.Type == wire.TypeBytes:
		return []byte{}
	case f.Type.IsSubmessage():
		return map[string]interface{}{}
	default:
		return wire.ValueFromWire(wire.WireValue{Type: f.Type.ExpectedWireType()}, f.Type).Interface()
	}
}

// mapEncoder writes message maps to a Sink. The registry resolves the
// payload types of google.protobuf.Any values.
type mapEncoder struct {
	registry *registry.Registry
}

// encodeMessage writes the entries of data to sink in field number order.
// Names the message does not define are ignored.
func (me mapEncoder) encodeMessage(sink stream.Sink, data map[string]interface{}, msg *schema.Message) error {
	type fieldEntry struct {
		value interface{}
		field *schema.Field
	}
	var entries []fieldEntry
	for name, value := range data {
		field := msg.FieldByName(name)
		if field == nil || value == nil {
			continue // Skip unknown fields
		}
		entries = append(entries, fieldEntry{value: value, field: field})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].field.Number < entries[j].field.Number
	})

	for _, entry := range entries {
		var err error
		switch {
		case entry.field.IsMap():
			err = me.encodeMap(sink, entry.value, entry.field)
		case entry.field.IsRepeated():
			err = me.encodeRepeated(sink, entry.value, entry.field)
		default:
			err = me.encodeValue(sink, entry.value, entry.field)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to encode field %s", entry.field.Name)
		}
	}
	return nil
}

func (me mapEncoder) encodeValue(sink stream.Sink, value interface{}, f *schema.Field) error {
	if _, err := sink.Put(f); err != nil {
		return err
	}
	switch {
	case f.Type.IsSubmessage():
		value, err := me.wellKnownInput(f.Message, value)
		if err != nil {
			return err
		}
		m, ok := value.(map[string]interface{})
		if !ok {
			return errors.Errorf("message value must be map[string]interface{}, got %T", value)
		}
		if err := sink.StartSubmessage(); err != nil {
			return err
		}
		if err := me.encodeMessage(sink, m, f.Message); err != nil {
			return err
		}
		return sink.EndSubmessage()
	case f.Type.IsString():
		switch s := value.(type) {
		case string:
			return sink.WriteString([]byte(s))
		case []byte:
			return sink.WriteString(s)
		}
		return errors.Errorf("%s value must be string or []byte, got %T", f.Type, value)
	default:
		v, err := toValue(f, value)
		if err != nil {
			return err
		}
		return sink.WriteValue(v)
	}
}

// encodeRepeated writes each element of a slice. The sink packs the
// elements of packed fields.
func (me mapEncoder) encodeRepeated(sink stream.Sink, value interface{}, f *schema.Field) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice || (f.Type == wire.TypeBytes && rv.Type().Elem().Kind() == reflect.Uint8) {
		return errors.Errorf("repeated field value must be a slice, got %T", value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := me.encodeValue(sink, rv.Index(i).Interface(), f); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}
	return nil
}

// encodeMap writes one entry message per key, in key order so the output is
// deterministic.
func (me mapEncoder) encodeMap(sink stream.Sink, value interface{}, f *schema.Field) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map {
		return errors.Errorf("map field value must be a map, got %T", value)
	}
	keyField, valueField := f.Message.FieldByName("key"), f.Message.FieldByName("value")
	if keyField == nil || valueField == nil {
		return errors.Errorf("map entry %s lacks key or value field", f.Message.Name)
	}

	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	for _, k := range keys {
		if _, err := sink.Put(f); err != nil {
			return err
		}
		if err := sink.StartSubmessage(); err != nil {
			return err
		}
		if err := me.encodeValue(sink, k.Interface(), keyField); err != nil {
			return errors.Wrapf(err, "map key %v", k.Interface())
		}
		if v := rv.MapIndex(k).Interface(); v != nil {
			if err := me.encodeValue(sink, v, valueField); err != nil {
				return errors.Wrapf(err, "map value for key %v", k.Interface())
			}
		}
		if err := sink.EndSubmessage(); err != nil {
			return err
		}
	}
	return nil
}
