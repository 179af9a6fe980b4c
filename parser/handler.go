package parser

import (
	"errors"

	"github.com/anirudhraja/protostream/wire"
)

// ErrStop may be returned by any Handler method to end the current Parse call
// early. It is not a failure: Parse returns it unchanged, the parser stays
// usable, and the next Parse call continues after the last delivered event.
var ErrStop = errors.New("parser: stopped by handler")

// Handler receives parse events in wire order.
//
// For every field the parser first calls Tag. Returning wire.TypeNone skips the
// field, including every field nested in a skipped submessage or group. For
// any other type the parser then calls exactly one of:
//   - Value, once per scalar (once per element for packed runs),
//   - String, with the payload of a string or bytes field,
//   - StartSubmessage, followed later by the matching EndSubmessage.
//
// The field value returned by Tag is handed back to Value, String and
// StartSubmessage for that field. Slices passed to String are only valid until
// the callback returns.
type Handler interface {
	Tag(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error)
	Value(p *Parser, v wire.Value, field interface{}) error
	String(p *Parser, s []byte, field interface{}) error
	StartSubmessage(p *Parser, field interface{}) error
	EndSubmessage(p *Parser) error
}

// Funcs adapts a set of functions to the Handler interface. Nil functions are
// no-ops; a nil TagFunc skips every field.
type Funcs struct {
	TagFunc             func(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error)
	ValueFunc           func(p *Parser, v wire.Value, field interface{}) error
	StringFunc          func(p *Parser, s []byte, field interface{}) error
	StartSubmessageFunc func(p *Parser, field interface{}) error
	EndSubmessageFunc   func(p *Parser) error
}

var _ Handler = Funcs{}

func (f Funcs) Tag(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
	if f.TagFunc == nil {
		return wire.TypeNone, nil, nil
	}
	return f.TagFunc(p, tag)
}

func (f Funcs) Value(p *Parser, v wire.Value, field interface{}) error {
	if f.ValueFunc == nil {
		return nil
	}
	return f.ValueFunc(p, v, field)
}

func (f Funcs) String(p *Parser, s []byte, field interface{}) error {
	if f.StringFunc == nil {
		return nil
	}
	return f.StringFunc(p, s, field)
}

func (f Funcs) StartSubmessage(p *Parser, field interface{}) error {
	if f.StartSubmessageFunc == nil {
		return nil
	}
	return f.StartSubmessageFunc(p, field)
}

func (f Funcs) EndSubmessage(p *Parser) error {
	if f.EndSubmessageFunc == nil {
		return nil
	}
	return f.EndSubmessageFunc(p)
}
