package stream

import (
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/wire"
)

// encFrame buffers the contents of one open message. Frame 0 is the
// top-level message, whose bytes go to the ByteSink as fields complete.
type encFrame struct {
	field  *schema.Field // field that opened the frame, nil for frame 0
	enc    *wire.Encoder
	run    *schema.Field // packed field whose run is still open
	runBuf []byte
}

// Encoder is a Sink that writes the protobuf encoding of the fields it is
// given to a ByteSink.
//
// Submessages are buffered until EndSubmessage because their length prefix
// comes first. Consecutive values of a packed field become one packed run.
// Completed top-level fields are written as soon as possible; bytes the
// ByteSink does not accept stay buffered, EOF reports true, and the next
// write or Flush offers them again.
//
// An Encoder is not safe for concurrent use.
type Encoder struct {
	status
	dst    ByteSink
	logger log.Logger

	frames []encFrame
	open   int // number of frames in use
	sent   int // bytes of frame 0 already accepted by dst
	cur    *schema.Field
}

var _ Sink = (*Encoder)(nil)

func NewEncoder(dst ByteSink, logger log.Logger) *Encoder {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	e := &Encoder{dst: dst, logger: logger}
	e.frames = []encFrame{{enc: wire.NewEncoder()}}
	e.open = 1
	return e
}

// Reset discards buffered output and state and switches to dst.
func (e *Encoder) Reset(dst ByteSink) {
	e.status = status{}
	e.dst = dst
	for i := range e.frames {
		e.frames[i].enc.Reset()
		e.frames[i].run = nil
		e.frames[i].runBuf = e.frames[i].runBuf[:0]
		e.frames[i].field = nil
	}
	e.open = 1
	e.sent = 0
	e.cur = nil
}

// Depth returns the number of open submessages.
func (e *Encoder) Depth() int { return e.open - 1 }

// Buffered returns the number of completed top-level bytes not yet accepted
// by the ByteSink.
func (e *Encoder) Buffered() int { return e.frames[0].enc.Len() - e.sent }

func (e *Encoder) top() *encFrame { return &e.frames[e.open-1] }

// Put announces the next field. It always accepts the field and returns 1.
func (e *Encoder) Put(f *schema.Field) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if f == nil {
		return 0, errNoField
	}
	if e.cur != nil {
		return 0, errors.Errorf("stream: field %s announced before field %s was written", f.Name, e.cur.Name)
	}
	e.cur = f
	return 1, nil
}

func (e *Encoder) WriteValue(v wire.Value) error {
	f, err := e.take()
	if err != nil {
		return err
	}
	if v.Type() != f.Type {
		return e.fail(errors.Wrapf(wire.ErrTypeMismatch, "field %d: %s value written to %s field", f.Number, v.Type(), f.Type))
	}
	fr := e.top()
	if f.Packed && f.IsRepeated() {
		if fr.run != f {
			e.closeRun(fr)
			fr.run = f
		}
		fr.runBuf = wire.AppendValue(fr.runBuf, v)
		return nil
	}
	e.closeRun(fr)
	fr.enc.EncodeField(f.Number, v)
	return e.fieldDone()
}

// WriteString writes a string or bytes payload. For a message or group field
// b is taken to be the already encoded submessage.
func (e *Encoder) WriteString(b []byte) error {
	f, err := e.take()
	if err != nil {
		return err
	}
	fr := e.top()
	e.closeRun(fr)
	switch {
	case f.Type.IsString(), f.Type == wire.TypeMessage:
		fr.enc.EncodeTag(f.Number, wire.WireBytes)
		fr.enc.EncodeBytes(b)
	case f.Type == wire.TypeGroup:
		fr.enc.EncodeTag(f.Number, wire.WireStartGroup)
		fr.enc.EncodeRaw(b)
		fr.enc.EncodeTag(f.Number, wire.WireEndGroup)
	default:
		return e.fail(errors.Wrapf(wire.ErrTypeMismatch, "field %d: string written to %s field", f.Number, f.Type))
	}
	return e.fieldDone()
}

func (e *Encoder) StartSubmessage() error {
	f, err := e.take()
	if err != nil {
		return err
	}
	if !f.Type.IsSubmessage() {
		return e.fail(errors.Wrapf(wire.ErrTypeMismatch, "field %d: submessage started on %s field", f.Number, f.Type))
	}
	e.closeRun(e.top())
	if e.open == len(e.frames) {
		e.frames = append(e.frames, encFrame{enc: wire.NewEncoder()})
	}
	fr := &e.frames[e.open]
	fr.field = f
	fr.enc.Reset()
	e.open++
	return nil
}

func (e *Encoder) EndSubmessage() error {
	if e.err != nil {
		return e.err
	}
	if e.open == 1 {
		return e.fail(errors.Wrap(wire.ErrStructure, "no open submessage to end"))
	}
	if e.cur != nil {
		return e.fail(errors.Errorf("stream: submessage ended before field %s was written", e.cur.Name))
	}
	child := e.top()
	e.closeRun(child)
	e.open--
	parent := e.top()
	f := child.field
	if f.Type == wire.TypeGroup {
		parent.enc.EncodeTag(f.Number, wire.WireStartGroup)
		parent.enc.EncodeRaw(child.enc.Bytes())
		parent.enc.EncodeTag(f.Number, wire.WireEndGroup)
	} else {
		parent.enc.EncodeTag(f.Number, wire.WireBytes)
		parent.enc.EncodeBytes(child.enc.Bytes())
	}
	child.field = nil
	return e.fieldDone()
}

// Flush closes an open top-level packed run and writes every completed byte.
// It keeps offering bytes while the ByteSink makes progress and returns
// io.ErrShortWrite if it stops accepting them. Flush does not fail the
// Encoder; it may be retried.
func (e *Encoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	if e.open == 1 {
		e.closeRun(&e.frames[0])
	}
	return e.drain()
}

// take consumes the field announced by Put.
func (e *Encoder) take() (*schema.Field, error) {
	if e.err != nil {
		return nil, e.err
	}
	f := e.cur
	if f == nil {
		return nil, errNoField
	}
	e.cur = nil
	return f, nil
}

func (e *Encoder) closeRun(fr *encFrame) {
	if fr.run == nil {
		return
	}
	fr.enc.EncodeTag(fr.run.Number, wire.WireBytes)
	fr.enc.EncodeBytes(fr.runBuf)
	fr.run = nil
	fr.runBuf = fr.runBuf[:0]
}

// fieldDone writes out a completed top-level field. A ByteSink that does not
// keep up is not an error here.
func (e *Encoder) fieldDone() error {
	if e.open > 1 {
		return nil
	}
	if err := e.drain(); err != nil && err != io.ErrShortWrite {
		return err
	}
	return nil
}

func (e *Encoder) drain() error {
	out := e.frames[0].enc
	for e.sent < out.Len() {
		n, err := e.dst.Put(out.Bytes()[e.sent:])
		e.sent += n
		if err != nil {
			level.Warn(e.logger).Log("msg", "writing protobuf output failed", "buffered", out.Len()-e.sent, "err", err)
			return e.fail(errors.Wrap(err, "encoder output"))
		}
		if n == 0 {
			e.eof = true
			return io.ErrShortWrite
		}
	}
	out.Reset()
	e.sent = 0
	e.eof = false
	return nil
}
