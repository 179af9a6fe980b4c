package parser

import (
	"math"

	"github.com/anirudhraja/protostream/wire"
)

// unbounded marks frames that end on an end-group marker (or never, for the root).
const unbounded int64 = math.MaxInt64

// frame is the parser state for one level of nesting.
type frame struct {
	end   int64            // absolute end offset of a delimited frame, unbounded otherwise
	limit int64            // tightest bounded end of this frame and all its ancestors
	group wire.FieldNumber // field number of an open group, 0 for delimited frames
	skip  bool             // contents are discarded without callbacks
}

func (p *Parser) top() *frame {
	return &p.frames[len(p.frames)-1]
}

// push opens a frame after checking the depth limit, consumes hdr bytes and
// reports the start to the handler unless the frame is skipped.
func (p *Parser) push(f frame, field interface{}, hdr int) error {
	if len(p.frames) > p.cfg.MaxDepth {
		return wire.NewParseError(wire.ErrStructure, p.offset, f.group, nil, "nesting depth exceeds %d", p.cfg.MaxDepth)
	}
	parent := p.top()
	f.limit = parent.limit
	if f.end < f.limit {
		f.limit = f.end
	}
	if parent.skip {
		f.skip = true
	}
	p.offset += int64(hdr)
	p.frames = append(p.frames, f)
	clear(p.UserData())
	if f.skip {
		return nil
	}
	return p.h.StartSubmessage(p, field)
}

// pop closes the innermost frame. The handler sees the frame on top of the
// stack while EndSubmessage runs.
func (p *Parser) pop() error {
	var err error
	if !p.top().skip {
		err = p.h.EndSubmessage(p)
	}
	p.frames = p.frames[:len(p.frames)-1]
	return err
}

// popFinished closes every delimited frame whose end offset has been reached.
func (p *Parser) popFinished() error {
	for len(p.frames) > 1 {
		top := p.top()
		if top.end == unbounded {
			if top.limit != unbounded && p.offset >= top.limit {
				return wire.NewParseError(wire.ErrStructure, p.offset, top.group, nil, "group not terminated before end of enclosing submessage")
			}
			return nil
		}
		if p.offset < top.end {
			return nil
		}
		if err := p.pop(); err != nil {
			return err
		}
	}
	return nil
}

// Depth returns the number of open submessages and groups.
func (p *Parser) Depth() int {
	return len(p.frames) - 1
}

// UserData returns the scratch bytes of the innermost frame. The region is
// zeroed when the frame is pushed and stays valid until it is popped.
func (p *Parser) UserData() []byte {
	return p.FrameUserData(p.Depth())
}

// FrameUserData returns the scratch bytes of the frame at depth d, where 0 is
// the top-level message.
func (p *Parser) FrameUserData(d int) []byte {
	size := p.cfg.UserDataSize
	if d < 0 || d > p.Depth() {
		return nil
	}
	return p.udata[d*size : (d+1)*size : (d+1)*size]
}

// SkipFrom discards the remaining contents of every open frame at depth d or
// deeper. Skipped frames are closed silently, without EndSubmessage calls.
// The top-level frame cannot be skipped.
func (p *Parser) SkipFrom(d int) {
	if d < 1 {
		d = 1
	}
	if d > p.Depth() {
		return
	}
	for i := d; i < len(p.frames); i++ {
		p.frames[i].skip = true
	}
	if p.pend.kind == pendString || p.pend.kind == pendPacked {
		p.pend = pending{kind: pendSkip, field: p.pend.field, remaining: p.pend.remaining}
	}
}
