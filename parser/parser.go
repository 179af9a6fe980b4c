// Package parser implements an incremental, callback-driven parser for the
// protobuf wire format.
//
// A Parser is fed arbitrary chunks of input with Parse. It consumes as many
// complete fields as the chunk holds, reports them to a Handler in wire order
// and returns how many leading bytes it consumed. The caller keeps the
// unconsumed suffix and presents it again, followed by new data, on the next
// call. The message never has to be buffered as a whole.
package parser

import (
	"errors"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/anirudhraja/protostream/wire"
)

type pendingKind uint8

const (
	pendNone   pendingKind = iota
	pendString             // accumulating a string/bytes payload
	pendPacked             // decoding elements of a packed run
	pendSkip               // discarding a delimited payload
)

// pending is a length-delimited field whose header has been consumed but
// whose payload has not been fully delivered yet.
type pending struct {
	kind      pendingKind
	field     wire.FieldNumber
	typ       wire.FieldType
	ctx       interface{}
	remaining int64
}

// Parser is the parse state for one stream. It is not safe for concurrent use.
type Parser struct {
	h      Handler
	cfg    Config
	logger log.Logger

	offset int64
	frames []frame
	udata  []byte
	pend   pending
	str    *StringBuffer
	ownStr bool
	err    error
}

// maxRetainedString bounds the allocation a parser-owned string buffer keeps
// across Reset.
const maxRetainedString = 1 << 20

// New returns a parser that reports to h.
func New(h Handler, cfg Config) *Parser {
	ownStr := cfg.StringBuffer == nil
	cfg.applyDefaults()
	p := &Parser{
		h:      h,
		cfg:    cfg,
		logger: cfg.Logger,
		frames: make([]frame, 0, cfg.MaxDepth+1),
		udata:  make([]byte, cfg.UserDataSize*(cfg.MaxDepth+1)),
		str:    cfg.StringBuffer,
		ownStr: ownStr,
	}
	p.Reset()
	return p
}

// Reset prepares the parser for a new, independent stream with the same
// handler and configuration. It also clears a fatal error.
func (p *Parser) Reset() {
	p.offset = 0
	p.frames = append(p.frames[:0], frame{end: unbounded, limit: unbounded})
	clear(p.udata)
	p.pend = pending{}
	if p.ownStr && p.str.Cap() > maxRetainedString {
		p.str = &StringBuffer{}
	}
	p.str.Reset()
	p.err = nil
}

// Offset returns the absolute number of bytes consumed since the last Reset.
func (p *Parser) Offset() int64 {
	return p.offset
}

// Pending reports whether a length-delimited payload is partially consumed.
func (p *Parser) Pending() bool {
	return p.pend.kind != pendNone
}

// Err returns the fatal error that halted the parser, if any.
func (p *Parser) Err() error {
	return p.err
}

// Parse consumes complete fields from buf and returns the number of bytes
// consumed. A nil error with n < len(buf) means buf ends inside a field; the
// remaining bytes must be passed again with more data appended.
//
// ErrStop is returned when a handler asked to stop. Any other error is fatal:
// every later call returns it until Reset.
func (p *Parser) Parse(buf []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	pos := 0
	for {
		if p.pend.kind != pendNone {
			n, err := p.resume(buf[pos:])
			pos += n
			if err != nil {
				return pos, p.fail(err)
			}
			if p.pend.kind != pendNone {
				return pos, nil
			}
		}
		if err := p.popFinished(); err != nil {
			return pos, p.fail(err)
		}
		if pos == len(buf) {
			return pos, nil
		}
		n, err := p.parseField(buf[pos:])
		pos += n
		if err != nil {
			return pos, p.fail(err)
		}
		if n == 0 {
			return pos, nil
		}
	}
}

// Finish tells the parser the input has really ended. rest is whatever the
// last Parse call left unconsumed. A partial field at that point is reported
// as a truncation error; open submessages are not checked.
func (p *Parser) Finish(rest []byte) error {
	if p.err != nil {
		return p.err
	}
	if len(rest) > 0 || p.pend.kind != pendNone {
		return p.fail(wire.NewParseError(wire.ErrTruncated, p.offset, p.pend.field, nil, "input ended inside a field"))
	}
	return nil
}

func (p *Parser) fail(err error) error {
	if errors.Is(err, ErrStop) {
		return ErrStop
	}
	p.err = err
	level.Debug(p.logger).Log("msg", "protobuf parse failed", "offset", p.offset, "depth", p.Depth(), "err", err)
	return err
}

// truncated decides what running out of input at start means: normally a
// resumption point, but a field that cannot end before the frame limit
// already inside b is a structural error.
func (p *Parser) truncated(b []byte, start int64, field wire.FieldNumber) error {
	if lim := p.top().limit; lim != unbounded && int64(len(b)) >= lim-start {
		return wire.NewParseError(wire.ErrStructure, start, field, nil, "field overruns end of enclosing submessage")
	}
	return nil
}

func (p *Parser) mismatch(start int64, tag wire.Tag, ft wire.FieldType) error {
	return wire.NewParseError(wire.ErrTypeMismatch, start, tag.FieldNumber, nil, "field type %s cannot be encoded as %s", ft, tag.WireType)
}

// parseField parses one field starting at b[0]. It returns 0 and a nil error
// when b does not hold enough of the field to make progress.
func (p *Parser) parseField(b []byte) (int, error) {
	start := p.offset
	tag, tn, err := wire.DecodeTag(b)
	if err != nil {
		if errors.Is(err, wire.ErrTruncated) {
			return 0, p.truncated(b, start, 0)
		}
		return 0, wire.NewParseError(nil, start, 0, err, "")
	}
	if start+int64(tn) > p.top().limit {
		return 0, wire.NewParseError(wire.ErrStructure, start, tag.FieldNumber, nil, "tag overruns end of enclosing submessage")
	}

	switch tag.WireType {
	case wire.WireEndGroup:
		return p.endGroup(tag, tn, start)
	case wire.WireStartGroup:
		return p.startGroup(tag, tn)
	case wire.WireBytes:
		return p.parseDelimited(b, tag, tn, start)
	default:
		return p.parseScalar(b, tag, tn, start)
	}
}

func (p *Parser) parseScalar(b []byte, tag wire.Tag, tn int, start int64) (int, error) {
	wv, vn, err := wire.DecodeWireValue(b[tn:], tag.WireType)
	if err != nil {
		if errors.Is(err, wire.ErrTruncated) {
			return 0, p.truncated(b, start, tag.FieldNumber)
		}
		return 0, wire.NewParseError(nil, start, tag.FieldNumber, err, "")
	}
	n := tn + vn
	if start+int64(n) > p.top().limit {
		return 0, wire.NewParseError(wire.ErrStructure, start, tag.FieldNumber, nil, "value overruns end of enclosing submessage")
	}
	if p.top().skip {
		p.offset += int64(n)
		return n, nil
	}

	ft, field, err := p.h.Tag(p, tag)
	if err != nil {
		return 0, err
	}
	if ft == wire.TypeNone {
		p.offset += int64(n)
		return n, nil
	}
	if !ft.IsScalar() || !wire.WireTypeMatches(tag.WireType, ft) {
		return 0, p.mismatch(start, tag, ft)
	}
	p.offset += int64(n)
	return n, p.h.Value(p, wire.ValueFromWire(wv, ft), field)
}

func (p *Parser) parseDelimited(b []byte, tag wire.Tag, tn int, start int64) (int, error) {
	l, ln, err := wire.DecodeLength(b[tn:])
	if err != nil {
		if errors.Is(err, wire.ErrTruncated) {
			return 0, p.truncated(b, start, tag.FieldNumber)
		}
		return 0, wire.NewParseError(nil, start, tag.FieldNumber, err, "")
	}
	hdr := tn + ln
	end := start + int64(hdr) + int64(l)
	if end > p.top().limit {
		return 0, wire.NewParseError(wire.ErrStructure, start, tag.FieldNumber, nil, "length %d overruns end of enclosing submessage", l)
	}
	if p.top().skip {
		p.offset += int64(hdr)
		p.pend = pending{kind: pendSkip, field: tag.FieldNumber, remaining: int64(l)}
		return hdr, nil
	}

	ft, field, err := p.h.Tag(p, tag)
	if err != nil {
		return 0, err
	}
	switch {
	case ft == wire.TypeNone:
		p.offset += int64(hdr)
		p.pend = pending{kind: pendSkip, field: tag.FieldNumber, remaining: int64(l)}
		return hdr, nil
	case !wire.WireTypeMatches(tag.WireType, ft):
		return 0, p.mismatch(start, tag, ft)
	case ft == wire.TypeMessage:
		if err := p.push(frame{end: end}, field, hdr); err != nil {
			if p.offset == start {
				return 0, err
			}
			return hdr, err
		}
		return hdr, nil
	case ft.IsString():
		p.offset += int64(hdr)
		p.str.Reset()
		p.pend = pending{kind: pendString, field: tag.FieldNumber, typ: ft, ctx: field, remaining: int64(l)}
		return hdr, nil
	default:
		p.offset += int64(hdr)
		p.pend = pending{kind: pendPacked, field: tag.FieldNumber, typ: ft, ctx: field, remaining: int64(l)}
		return hdr, nil
	}
}

func (p *Parser) startGroup(tag wire.Tag, tn int) (int, error) {
	start := p.offset
	f := frame{end: unbounded, group: tag.FieldNumber}
	var field interface{}
	if !p.top().skip {
		ft, fv, err := p.h.Tag(p, tag)
		if err != nil {
			return 0, err
		}
		switch {
		case ft == wire.TypeNone:
			f.skip = true
		case !wire.WireTypeMatches(tag.WireType, ft):
			return 0, p.mismatch(start, tag, ft)
		}
		field = fv
	}
	if err := p.push(f, field, tn); err != nil {
		if p.offset == start {
			return 0, err
		}
		return tn, err
	}
	return tn, nil
}

func (p *Parser) endGroup(tag wire.Tag, tn int, start int64) (int, error) {
	top := p.top()
	if top.group == 0 {
		return 0, wire.NewParseError(wire.ErrStructure, start, tag.FieldNumber, nil, "end-group tag outside of a group")
	}
	if top.group != tag.FieldNumber {
		return 0, wire.NewParseError(wire.ErrStructure, start, tag.FieldNumber, nil, "end-group tag does not match open group %d", top.group)
	}
	p.offset += int64(tn)
	return tn, p.pop()
}

// resume continues the pending delimited field with the bytes in b.
func (p *Parser) resume(b []byte) (int, error) {
	pd := &p.pend
	switch pd.kind {
	case pendSkip:
		n := pd.remaining
		if int64(len(b)) < n {
			n = int64(len(b))
		}
		p.offset += n
		pd.remaining -= n
		if pd.remaining == 0 {
			*pd = pending{}
		}
		return int(n), nil

	case pendString:
		if p.str.Len() == 0 && int64(len(b)) >= pd.remaining {
			// The whole payload is in view: hand it out without copying.
			n := int(pd.remaining)
			field := pd.ctx
			*pd = pending{}
			p.offset += int64(n)
			return n, p.h.String(p, b[:n:n], field)
		}
		n := pd.remaining
		if int64(len(b)) < n {
			n = int64(len(b))
		}
		p.str.write(b[:n])
		p.offset += n
		pd.remaining -= n
		if pd.remaining > 0 {
			return int(n), nil
		}
		field := pd.ctx
		*pd = pending{}
		return int(n), p.h.String(p, p.str.Bytes(), field)

	case pendPacked:
		consumed := 0
		for pd.remaining > 0 {
			avail := b[consumed:]
			run := avail
			if int64(len(run)) > pd.remaining {
				run = run[:pd.remaining]
			}
			v, n, err := wire.DecodeValue(run, pd.typ)
			if err != nil {
				if !errors.Is(err, wire.ErrTruncated) {
					return consumed, wire.NewParseError(nil, p.offset, pd.field, err, "")
				}
				if int64(len(avail)) >= pd.remaining {
					return consumed, wire.NewParseError(wire.ErrMalformed, p.offset, pd.field, nil, "packed element overruns its run")
				}
				return consumed, nil
			}
			consumed += n
			p.offset += int64(n)
			pd.remaining -= int64(n)
			field := pd.ctx
			if pd.remaining == 0 {
				*pd = pending{}
			}
			if err := p.h.Value(p, v, field); err != nil {
				return consumed, err
			}
		}
		*pd = pending{}
		return consumed, nil
	}
	return 0, nil
}
