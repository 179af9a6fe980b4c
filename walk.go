package protostream

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protostream/parser"
	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/wire"
)

// SkipSubmessage may be returned by a WalkFunc when it is called for a
// submessage. The walk then continues after the submessage.
var SkipSubmessage = errors.New("skip this submessage")

// WalkFunc is called for every known field, in wire order. path holds the
// names of the enclosing submessage fields followed by field's own name.
//
// value is a wire.Value for scalars, the payload for strings and bytes, and
// nil when a submessage or group starts. path and byte payloads are only
// valid until the function returns.
type WalkFunc func(path []string, field *schema.Field, value interface{}) error

// Walk calls fn for every field of a messageType message without building
// it in memory. Unknown fields are skipped. An error from fn other than
// SkipSubmessage ends the walk and is returned.
func (p *Protostream) Walk(data []byte, messageType string, fn WalkFunc) error {
	msg, err := p.message(messageType)
	if err != nil {
		return err
	}
	root := p.registry.MessageIndex(msg)
	if root < 0 {
		return errors.Errorf("message %s is not registered", messageType)
	}

	w := walker{p: p, fn: fn}
	cfg := p.cfg
	cfg.UserDataSize = 4
	ps := parser.New(parser.Funcs{
		TagFunc:             w.tag,
		ValueFunc:           w.value,
		StringFunc:          w.str,
		StartSubmessageFunc: w.start,
		EndSubmessageFunc:   w.end,
	}, cfg)
	binary.LittleEndian.PutUint32(ps.FrameUserData(0), uint32(root))

	n, err := ps.Parse(data)
	if err != nil {
		return err
	}
	return ps.Finish(data[n:])
}

// walker keeps the field names of the open frames. The message of each frame
// is kept in the parser's per-frame user data as a registry handle.
type walker struct {
	p    *Protostream
	fn   WalkFunc
	path []string
}

func (w *walker) frameMessage(ps *parser.Parser) *schema.Message {
	return w.p.registry.MessageAt(int(binary.LittleEndian.Uint32(ps.UserData())))
}

func (w *walker) tag(ps *parser.Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
	f := w.frameMessage(ps).FieldByNumber(tag.FieldNumber)
	if f == nil {
		return wire.TypeNone, nil, nil
	}
	return f.Type, f, nil
}

func (w *walker) value(_ *parser.Parser, v wire.Value, field interface{}) error {
	f := field.(*schema.Field)
	return w.fn(append(w.path, f.Name), f, v)
}

func (w *walker) str(_ *parser.Parser, s []byte, field interface{}) error {
	f := field.(*schema.Field)
	return w.fn(append(w.path, f.Name), f, s)
}

func (w *walker) start(ps *parser.Parser, field interface{}) error {
	f := field.(*schema.Field)
	idx := w.p.registry.MessageIndex(f.Message)
	if idx < 0 {
		return errors.Errorf("message %s of field %s is not registered", f.TypeName, f.Name)
	}
	binary.LittleEndian.PutUint32(ps.UserData(), uint32(idx))

	w.path = append(w.path, f.Name)
	err := w.fn(w.path, f, nil)
	if errors.Is(err, SkipSubmessage) {
		// Skipped frames close without an end callback.
		w.path = w.path[:len(w.path)-1]
		ps.SkipFrom(ps.Depth())
		return nil
	}
	return err
}

func (w *walker) end(*parser.Parser) error {
	w.path = w.path[:len(w.path)-1]
	return nil
}
