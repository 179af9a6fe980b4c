package stream

import (
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/anirudhraja/protostream/parser"
	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/wire"
)

var (
	errNoField         = errors.New("stream: no field announced")
	errNoValue         = errors.New("stream: current field has no scalar value")
	errNoString        = errors.New("stream: current field has no string value")
	errNoSubmessage    = errors.New("stream: current field is not a submessage")
	errNotInSubmessage = errors.New("stream: not inside a submessage")
)

type eventKind uint8

const (
	evNone eventKind = iota
	evValue
	evString
	evStart
	evEnd
)

// event is one parser callback, held until the caller reads it.
type event struct {
	kind  eventKind
	field *schema.Field
	value wire.Value
}

// Decoder is a Source that parses protobuf messages of one type from a
// ByteSource. Fields the schema does not know are skipped. Each element of
// a packed run is returned by its own Next call.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	status
	src    ByteSource
	p      *parser.Parser
	logger log.Logger

	buf    []byte // input not yet consumed by the parser starts at pos
	pos    int
	srcEOF bool

	levels []*schema.Message // message type per parser depth
	depth  int               // submessages entered by the caller
	done   bool              // the current submessage has ended
	cur    event
	str    []byte
}

var _ Source = (*Decoder)(nil)

// NewDecoder returns a Decoder for messages of type msg read from src.
// cfg.UserDataSize is ignored.
func NewDecoder(src ByteSource, msg *schema.Message, cfg parser.Config) *Decoder {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	cfg.UserDataSize = 0
	d := &Decoder{
		src:    src,
		logger: cfg.Logger,
		levels: []*schema.Message{msg},
	}
	d.p = parser.New(decodeHandler{d}, cfg)
	return d
}

// Reset discards all state and starts decoding a new message from src.
func (d *Decoder) Reset(src ByteSource) {
	d.status = status{}
	d.src = src
	d.p.Reset()
	d.buf = d.buf[:0]
	d.pos = 0
	d.srcEOF = false
	d.levels = d.levels[:1]
	d.depth = 0
	d.done = false
	d.cur = event{}
	d.str = d.str[:0]
}

// Depth returns the number of submessages entered.
func (d *Decoder) Depth() int { return d.depth }

// Offset returns the number of input bytes consumed.
func (d *Decoder) Offset() int64 { return d.p.Offset() }

func (d *Decoder) Next() (*schema.Field, bool) {
	if d.err != nil {
		return nil, false
	}
	if d.done {
		d.eof = true
		return nil, false
	}
	d.discard()
	ok, err := d.fetch()
	if err != nil {
		d.fail(err)
		return nil, false
	}
	if !ok {
		d.eof = true
		return nil, false
	}
	if d.cur.kind == evEnd {
		d.cur = event{}
		d.done = true
		d.eof = true
		return nil, false
	}
	d.eof = false
	return d.cur.field, true
}

func (d *Decoder) ReadValue() (wire.Value, error) {
	if d.err != nil {
		return wire.Value{}, d.err
	}
	if d.cur.kind != evValue {
		return wire.Value{}, errNoValue
	}
	v := d.cur.value
	d.cur = event{}
	return v, nil
}

// ReadString appends the payload of the current string or bytes field to dst.
func (d *Decoder) ReadString(dst []byte) ([]byte, error) {
	if d.err != nil {
		return dst, d.err
	}
	if d.cur.kind != evString {
		return dst, errNoString
	}
	d.cur = event{}
	return append(dst, d.str...), nil
}

// SkipValue discards the current field. A submessage that was not entered is
// skipped with everything it contains.
func (d *Decoder) SkipValue() error {
	if d.err != nil {
		return d.err
	}
	d.discard()
	return nil
}

func (d *Decoder) EnterSubmessage() error {
	if d.err != nil {
		return d.err
	}
	if d.cur.kind != evStart {
		return errNoSubmessage
	}
	d.cur = event{}
	d.depth++
	d.eof = false
	return nil
}

// ExitSubmessage returns to the parent message. Fields of the submessage
// that were not read yet are skipped.
func (d *Decoder) ExitSubmessage() error {
	if d.err != nil {
		return d.err
	}
	if d.depth == 0 {
		return errNotInSubmessage
	}
	if !d.done {
		d.p.SkipFrom(d.depth)
	}
	d.cur = event{}
	d.done = false
	d.depth--
	d.eof = false
	return nil
}

// discard drops the current event. A submessage the caller did not enter is
// already open in the parser, so its frame is switched to skipping.
func (d *Decoder) discard() {
	if d.cur.kind == evStart {
		d.p.SkipFrom(d.depth + 1)
	}
	d.cur = event{}
}

// fetch runs the parser until it delivers the next event. It returns false
// once the input is exhausted.
func (d *Decoder) fetch() (bool, error) {
	for {
		n, err := d.p.Parse(d.buf[d.pos:])
		d.pos += n
		if err == parser.ErrStop {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if d.srcEOF {
			if err := d.p.Finish(d.buf[d.pos:]); err != nil {
				return false, err
			}
			return false, nil
		}
		if err := d.fill(); err != nil {
			return false, err
		}
	}
}

// fill moves the unconsumed tail to the front of buf and appends new input.
func (d *Decoder) fill() error {
	if d.pos > 0 {
		d.buf = d.buf[:copy(d.buf, d.buf[d.pos:])]
		d.pos = 0
	}
	var err error
	d.buf, err = d.src.Append(d.buf, DefaultChunkSize)
	switch {
	case err == io.EOF:
		d.srcEOF = true
		return nil
	case err != nil:
		level.Warn(d.logger).Log("msg", "reading protobuf input failed", "offset", d.p.Offset(), "err", err)
		return errors.Wrap(err, "decoder input")
	}
	return nil
}

// decodeHandler turns parser callbacks into Decoder events. Every event
// stops the parser so Next can hand it out.
type decodeHandler struct {
	d *Decoder
}

func (h decodeHandler) Tag(p *parser.Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
	f := h.d.levels[p.Depth()].FieldByNumber(tag.FieldNumber)
	if f == nil {
		return wire.TypeNone, nil, nil
	}
	return f.Type, f, nil
}

func (h decodeHandler) Value(_ *parser.Parser, v wire.Value, field interface{}) error {
	h.d.cur = event{kind: evValue, field: field.(*schema.Field), value: v}
	return parser.ErrStop
}

func (h decodeHandler) String(_ *parser.Parser, s []byte, field interface{}) error {
	h.d.str = append(h.d.str[:0], s...)
	h.d.cur = event{kind: evString, field: field.(*schema.Field)}
	return parser.ErrStop
}

func (h decodeHandler) StartSubmessage(p *parser.Parser, field interface{}) error {
	f := field.(*schema.Field)
	h.d.levels = append(h.d.levels[:p.Depth()], f.Message)
	h.d.cur = event{kind: evStart, field: f}
	return parser.ErrStop
}

func (h decodeHandler) EndSubmessage(*parser.Parser) error {
	h.d.cur = event{kind: evEnd}
	return parser.ErrStop
}
