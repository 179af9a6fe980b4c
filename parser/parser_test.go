package parser

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/anirudhraja/protostream/wire"
)

// recorder resolves field numbers through a flat table and logs every
// callback as a string.
type recorder struct {
	types  map[wire.FieldNumber]wire.FieldType
	events []string
	stop   bool // return ErrStop after every delivered event
}

func (r *recorder) handler() Funcs {
	ret := func() error {
		if r.stop {
			return ErrStop
		}
		return nil
	}
	return Funcs{
		TagFunc: func(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
			r.events = append(r.events, "tag "+tag.String())
			return r.types[tag.FieldNumber], tag.FieldNumber, nil
		},
		ValueFunc: func(p *Parser, v wire.Value, field interface{}) error {
			r.events = append(r.events, fmt.Sprintf("value %d %s", field, v))
			return ret()
		},
		StringFunc: func(p *Parser, s []byte, field interface{}) error {
			r.events = append(r.events, fmt.Sprintf("string %d %q", field, s))
			return ret()
		},
		StartSubmessageFunc: func(p *Parser, field interface{}) error {
			r.events = append(r.events, fmt.Sprintf("start %d", field))
			return ret()
		},
		EndSubmessageFunc: func(p *Parser) error {
			r.events = append(r.events, "end")
			return ret()
		},
	}
}

// feed drives p the way an embedder does: unconsumed bytes are kept and
// re-presented with the next chunk.
func feed(p *Parser, chunks ...[]byte) ([]byte, error) {
	var rest []byte
	for _, c := range chunks {
		buf := append(rest, c...)
		n, err := p.Parse(buf)
		if err != nil {
			return buf[n:], err
		}
		rest = append([]byte(nil), buf[n:]...)
	}
	return rest, nil
}

func tagged(num protowire.Number, typ protowire.Type) []byte {
	return protowire.AppendTag(nil, num, typ)
}

func varintField(num protowire.Number, v uint64) []byte {
	return protowire.AppendVarint(tagged(num, protowire.VarintType), v)
}

func bytesField(num protowire.Number, body []byte) []byte {
	return protowire.AppendBytes(tagged(num, protowire.BytesType), body)
}

func groupField(num protowire.Number, body ...[]byte) []byte {
	b := tagged(num, protowire.StartGroupType)
	for _, part := range body {
		b = append(b, part...)
	}
	return append(b, tagged(num, protowire.EndGroupType)...)
}

func concat(parts ...[]byte) []byte {
	var b []byte
	for _, part := range parts {
		b = append(b, part...)
	}
	return b
}

var testTypes = map[wire.FieldNumber]wire.FieldType{
	1:  wire.TypeInt32,
	2:  wire.TypeString,
	3:  wire.TypeMessage,
	4:  wire.TypeInt32,
	5:  wire.TypeGroup,
	6:  wire.TypeFixed32,
	7:  wire.TypeSfixed64,
	8:  wire.TypeSint64,
	11: wire.TypeDouble,
	12: wire.TypeBytes,
}

// mixedMessage exercises every kind of field the parser handles.
func mixedMessage() []byte {
	var packed []byte
	for _, v := range []uint64{1, 300, 70000} {
		packed = protowire.AppendVarint(packed, v)
	}
	var zigzag []byte
	for _, v := range []int64{-1, 2, -3} {
		zigzag = protowire.AppendVarint(zigzag, protowire.EncodeZigZag(v))
	}
	return concat(
		varintField(1, 150),
		bytesField(2, []byte("hello world")),
		bytesField(3, concat(
			varintField(1, 7),
			bytesField(2, []byte("in")),
			bytesField(4, packed),
			bytesField(3, nil),
		)),
		groupField(5,
			varintField(1, 5),
			protowire.AppendFixed32(tagged(6, protowire.Fixed32Type), math.MaxUint32),
			protowire.AppendFixed64(tagged(7, protowire.Fixed64Type), uint64(0xfffffffffffffffe)),
		),
		bytesField(9, []byte("skip me")),
		groupField(10, groupField(10), varintField(1, 1), bytesField(3, varintField(1, 2))),
		bytesField(8, zigzag),
		protowire.AppendFixed64(tagged(11, protowire.Fixed64Type), math.Float64bits(3.5)),
		varintField(1, math.MaxUint64),
		bytesField(12, nil),
	)
}

var mixedEvents = []string{
	"tag 1:varint", "value 1 int32(150)",
	"tag 2:length-delimited", `string 2 "hello world"`,
	"tag 3:length-delimited", "start 3",
	"tag 1:varint", "value 1 int32(7)",
	"tag 2:length-delimited", `string 2 "in"`,
	"tag 4:length-delimited", "value 4 int32(1)", "value 4 int32(300)", "value 4 int32(70000)",
	"tag 3:length-delimited", "start 3", "end",
	"end",
	"tag 5:start-group", "start 5",
	"tag 1:varint", "value 1 int32(5)",
	"tag 6:32-bit", "value 6 fixed32(4294967295)",
	"tag 7:64-bit", "value 7 sfixed64(-2)",
	"end",
	"tag 9:length-delimited",
	"tag 10:start-group",
	"tag 8:length-delimited", "value 8 sint64(-1)", "value 8 sint64(2)", "value 8 sint64(-3)",
	"tag 11:64-bit", "value 11 double(3.5)",
	"tag 1:varint", "value 1 int32(-1)",
	"tag 12:length-delimited", `string 12 ""`,
}

func TestParse_MixedMessage(t *testing.T) {
	data := mixedMessage()
	r := &recorder{types: testTypes}
	p := New(r.handler(), Config{})

	n, err := p.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, int64(len(data)), p.Offset())
	assert.Equal(t, 0, p.Depth())
	assert.False(t, p.Pending())
	require.NoError(t, p.Finish(data[n:]))

	if diff := cmp.Diff(mixedEvents, r.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_SplitAtEveryBoundary(t *testing.T) {
	data := mixedMessage()
	for i := 0; i <= len(data); i++ {
		r := &recorder{types: testTypes}
		p := New(r.handler(), Config{})

		rest, err := feed(p, data[:i], data[i:])
		require.NoError(t, err, "split at %d", i)
		require.Empty(t, rest, "split at %d", i)
		require.NoError(t, p.Finish(rest))
		if diff := cmp.Diff(mixedEvents, r.events); diff != "" {
			t.Fatalf("split at %d: events mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestParse_ByteAtATime(t *testing.T) {
	data := mixedMessage()
	chunks := make([][]byte, len(data))
	for i := range data {
		chunks[i] = data[i : i+1]
	}
	r := &recorder{types: testTypes}
	sb := NewStringBuffer(4)
	p := New(r.handler(), Config{StringBuffer: sb})

	rest, err := feed(p, chunks...)
	require.NoError(t, err)
	require.Empty(t, rest)
	if diff := cmp.Diff(mixedEvents, r.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	// "hello world" was assembled in the caller's buffer.
	assert.GreaterOrEqual(t, sb.Cap(), len("hello world"))
}

func TestParse_StopAndResume(t *testing.T) {
	data := mixedMessage()
	r := &recorder{types: testTypes, stop: true}
	p := New(r.handler(), Config{})

	buf := data
	stops := 0
	for {
		n, err := p.Parse(buf)
		buf = buf[n:]
		if errors.Is(err, ErrStop) {
			stops++
			require.Less(t, stops, 1000, "parser does not make progress")
			continue
		}
		require.NoError(t, err)
		break
	}
	assert.Empty(t, buf)
	assert.NoError(t, p.Err(), "ErrStop must not be sticky")
	if diff := cmp.Diff(mixedEvents, r.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Scenarios(t *testing.T) {
	tooLong := append(tagged(1, protowire.VarintType), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01)

	tests := []struct {
		name    string
		types   map[wire.FieldNumber]wire.FieldType
		input   []byte
		want    []string
		wantErr error
	}{
		{
			name:  "varint field",
			types: map[wire.FieldNumber]wire.FieldType{1: wire.TypeInt32},
			input: varintField(1, 150),
			want:  []string{"tag 1:varint", "value 1 int32(150)"},
		},
		{
			name:  "group",
			types: map[wire.FieldNumber]wire.FieldType{2: wire.TypeGroup, 3: wire.TypeInt32},
			input: groupField(2, varintField(3, 5)),
			want:  []string{"tag 2:start-group", "start 2", "tag 3:varint", "value 3 int32(5)", "end"},
		},
		{
			name:  "packed int32",
			types: map[wire.FieldNumber]wire.FieldType{4: wire.TypeInt32},
			input: bytesField(4, []byte{1, 2, 3}),
			want:  []string{"tag 4:length-delimited", "value 4 int32(1)", "value 4 int32(2)", "value 4 int32(3)"},
		},
		{
			name:    "eleven byte varint",
			types:   map[wire.FieldNumber]wire.FieldType{1: wire.TypeInt32},
			input:   tooLong,
			want:    nil,
			wantErr: wire.ErrMalformed,
		},
		{
			name:    "mismatched end group",
			types:   map[wire.FieldNumber]wire.FieldType{2: wire.TypeGroup, 3: wire.TypeInt32},
			input:   concat(tagged(2, protowire.StartGroupType), varintField(3, 5), tagged(3, protowire.EndGroupType)),
			want:    []string{"tag 2:start-group", "start 2", "tag 3:varint", "value 3 int32(5)"},
			wantErr: wire.ErrStructure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{types: tt.types}
			p := New(r.handler(), Config{})
			_, err := p.Parse(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if diff := cmp.Diff(tt.want, r.events); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	nested := func(depth int) []byte {
		var b []byte
		for i := 0; i < depth; i++ {
			b = bytesField(3, b)
		}
		return b
	}

	tests := []struct {
		name    string
		cfg     Config
		input   []byte
		wantErr error
	}{
		{
			name:    "depth limit",
			cfg:     Config{MaxDepth: 2},
			input:   nested(3),
			wantErr: wire.ErrStructure,
		},
		{
			name:    "nested length overruns parent",
			input:   concat(tagged(3, protowire.BytesType), []byte{3}, tagged(3, protowire.BytesType), []byte{5, 0, 0, 0, 0, 0}),
			wantErr: wire.ErrStructure,
		},
		{
			name:    "value straddles submessage end",
			input:   bytesField(3, []byte{0x08, 0x96}),
			wantErr: wire.ErrStructure,
		},
		{
			name:    "value overruns submessage end",
			input:   concat(tagged(3, protowire.BytesType), []byte{2, 0x08, 0x96, 0x01}),
			wantErr: wire.ErrStructure,
		},
		{
			name:    "end group outside group",
			input:   tagged(5, protowire.EndGroupType),
			wantErr: wire.ErrStructure,
		},
		{
			name:    "end group inside delimited submessage",
			input:   bytesField(3, tagged(5, protowire.EndGroupType)),
			wantErr: wire.ErrStructure,
		},
		{
			name:    "group left open at end of submessage",
			input:   bytesField(3, concat(tagged(5, protowire.StartGroupType), varintField(1, 1))),
			wantErr: wire.ErrStructure,
		},
		{
			name:    "field number zero",
			input:   []byte{0x00, 0x01},
			wantErr: wire.ErrInvalidFieldNumber,
		},
		{
			name:    "invalid wire type",
			input:   []byte{0x0e},
			wantErr: wire.ErrInvalidWireType,
		},
		{
			name:    "string sent as varint",
			input:   varintField(2, 1),
			wantErr: wire.ErrTypeMismatch,
		},
		{
			name:    "int32 sent as fixed32",
			input:   protowire.AppendFixed32(tagged(1, protowire.Fixed32Type), 1),
			wantErr: wire.ErrTypeMismatch,
		},
		{
			name:    "group sent length delimited",
			input:   bytesField(5, nil),
			wantErr: wire.ErrTypeMismatch,
		},
		{
			name:    "message sent as group",
			input:   groupField(3),
			wantErr: wire.ErrTypeMismatch,
		},
		{
			name:    "packed element overruns run",
			input:   bytesField(4, []byte{0x96}),
			wantErr: wire.ErrMalformed,
		},
		{
			name:    "overflowing varint",
			input:   append(tagged(1, protowire.VarintType), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02),
			wantErr: wire.ErrVarintOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{types: testTypes}
			p := New(r.handler(), tt.cfg)
			_, err := p.Parse(tt.input)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)

			var perr *wire.ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, err, p.Err())
		})
	}
}

func TestParse_ZeroLengthSubmessage(t *testing.T) {
	r := &recorder{types: testTypes}
	p := New(r.handler(), Config{})

	_, err := feed(p, bytesField(3, nil), varintField(1, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"tag 3:length-delimited", "start 3", "end", "tag 1:varint", "value 1 int32(1)"}, r.events)
}

func TestParse_UnknownSubmessageIsSkipped(t *testing.T) {
	r := &recorder{types: map[wire.FieldNumber]wire.FieldType{1: wire.TypeInt32}}
	p := New(r.handler(), Config{})

	data := concat(
		bytesField(3, concat(varintField(1, 9), bytesField(3, varintField(1, 9)))),
		groupField(5, groupField(5, varintField(1, 9)), bytesField(2, []byte("x"))),
		varintField(1, 1),
	)
	_, err := p.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tag 3:length-delimited",
		"tag 5:start-group",
		"tag 1:varint", "value 1 int32(1)",
	}, r.events)
}

func TestParse_FatalErrorIsSticky(t *testing.T) {
	r := &recorder{types: testTypes}
	p := New(r.handler(), Config{})

	_, err := p.Parse(tagged(5, protowire.EndGroupType))
	require.ErrorIs(t, err, wire.ErrStructure)

	n, err2 := p.Parse(varintField(1, 1))
	assert.Zero(t, n)
	assert.Equal(t, err, err2)
	assert.Empty(t, r.events)

	p.Reset()
	assert.NoError(t, p.Err())
	_, err = p.Parse(varintField(1, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"tag 1:varint", "value 1 int32(1)"}, r.events)
	assert.Equal(t, int64(2), p.Offset())
}

func TestParse_Finish(t *testing.T) {
	data := concat(varintField(1, 1), bytesField(2, []byte("abcdef")))

	t.Run("complete", func(t *testing.T) {
		p := New(Funcs{}, Config{})
		rest, err := feed(p, data)
		require.NoError(t, err)
		require.NoError(t, p.Finish(rest))
	})
	t.Run("partial length prefix", func(t *testing.T) {
		p := New(Funcs{}, Config{})
		rest, err := feed(p, data[:3])
		require.NoError(t, err)
		require.Len(t, rest, 1)
		require.ErrorIs(t, p.Finish(rest), wire.ErrTruncated)
		assert.ErrorIs(t, p.Err(), wire.ErrTruncated)
	})
	t.Run("pending string", func(t *testing.T) {
		r := &recorder{types: testTypes}
		p := New(r.handler(), Config{})
		rest, err := feed(p, data[:len(data)-2])
		require.NoError(t, err)
		require.Empty(t, rest)
		require.True(t, p.Pending())
		require.ErrorIs(t, p.Finish(rest), wire.ErrTruncated)
	})
	t.Run("open submessage is not an error", func(t *testing.T) {
		r := &recorder{types: testTypes}
		p := New(r.handler(), Config{})
		rest, err := feed(p, bytesField(3, varintField(1, 1))[:2])
		require.NoError(t, err)
		require.NoError(t, p.Finish(rest))
	})
}

func TestParse_StringZeroCopy(t *testing.T) {
	data := bytesField(2, []byte("payload"))
	sb := NewStringBuffer(0)
	var got []byte
	p := New(Funcs{
		TagFunc: func(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
			return wire.TypeString, nil, nil
		},
		StringFunc: func(p *Parser, s []byte, field interface{}) error {
			got = s
			return nil
		},
	}, Config{StringBuffer: sb})

	_, err := p.Parse(data)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
	assert.Same(t, &data[2], &got[0])
	assert.Zero(t, sb.Len())
}

func TestParser_UserData(t *testing.T) {
	var seen []byte
	p := New(Funcs{
		TagFunc: func(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
			if tag.FieldNumber == 3 {
				return wire.TypeMessage, tag.FieldNumber, nil
			}
			return wire.TypeInt32, tag.FieldNumber, nil
		},
		StartSubmessageFunc: func(p *Parser, field interface{}) error {
			ud := p.UserData()
			if ud[0] != 0 {
				return fmt.Errorf("user data not cleared at depth %d", p.Depth())
			}
			ud[0] = byte(p.Depth())
			return nil
		},
		ValueFunc: func(p *Parser, v wire.Value, field interface{}) error {
			for d := 0; d <= p.Depth(); d++ {
				seen = append(seen, p.FrameUserData(d)[0])
			}
			return nil
		},
	}, Config{UserDataSize: 2})

	data := concat(
		bytesField(3, bytesField(3, varintField(1, 1))),
		bytesField(3, varintField(1, 1)),
	)
	_, err := p.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 0, 1}, seen)
	assert.Len(t, p.UserData(), 2)
	assert.Nil(t, p.FrameUserData(1))
}

func TestParser_SkipFrom(t *testing.T) {
	r := &recorder{types: testTypes}
	h := r.handler()
	start := h.StartSubmessageFunc
	h.StartSubmessageFunc = func(p *Parser, field interface{}) error {
		if err := start(p, field); err != nil {
			return err
		}
		p.SkipFrom(p.Depth())
		return nil
	}
	p := New(h, Config{})

	data := concat(
		bytesField(3, concat(varintField(1, 7), bytesField(2, []byte("in")))),
		varintField(1, 1),
	)
	for i := 0; i <= len(data); i++ {
		r.events = nil
		p.Reset()
		_, err := feed(p, data[:i], data[i:])
		require.NoError(t, err)
		assert.Equal(t, []string{"tag 3:length-delimited", "start 3", "tag 1:varint", "value 1 int32(1)"}, r.events, "split at %d", i)
	}
}

func TestParser_SkipFromPendingString(t *testing.T) {
	var strings []string
	p := New(Funcs{
		TagFunc: func(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
			return testTypes[tag.FieldNumber], nil, nil
		},
		StringFunc: func(p *Parser, s []byte, field interface{}) error {
			strings = append(strings, string(s))
			return nil
		},
	}, Config{})

	data := concat(bytesField(3, bytesField(2, []byte("inner"))), bytesField(2, []byte("outer")))
	// Stop inside the inner string, then abandon the submessage.
	rest, err := feed(p, data[:6])
	require.NoError(t, err)
	require.True(t, p.Pending())
	p.SkipFrom(1)
	rest, err = feed(p, append(rest, data[6:]...))
	require.NoError(t, err)
	require.Empty(t, rest)
	assert.Equal(t, []string{"outer"}, strings)
}

func TestParser_ResetDropsOversizedBuffer(t *testing.T) {
	big := make([]byte, maxRetainedString+1)
	data := bytesField(2, big)
	p := New(Funcs{TagFunc: func(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
		return wire.TypeBytes, nil, nil
	}}, Config{})

	_, err := feed(p, data[:10], data[10:])
	require.NoError(t, err)
	require.Greater(t, p.str.Cap(), maxRetainedString)
	p.Reset()
	assert.Zero(t, p.str.Cap())

	own := NewStringBuffer(0)
	p = New(Funcs{TagFunc: func(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
		return wire.TypeBytes, nil, nil
	}}, Config{StringBuffer: own})
	_, err = feed(p, data[:10], data[10:])
	require.NoError(t, err)
	p.Reset()
	assert.Same(t, own, p.str)
	assert.Zero(t, own.Len())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())
	assert.Error(t, (&Config{MaxDepth: -1}).Validate())
	assert.Error(t, (&Config{UserDataSize: -1}).Validate())
}

func BenchmarkParse(b *testing.B) {
	data := mixedMessage()
	p := New(Funcs{
		TagFunc: func(p *Parser, tag wire.Tag) (wire.FieldType, interface{}, error) {
			return testTypes[tag.FieldNumber], nil, nil
		},
	}, Config{})
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Reset()
		if _, err := p.Parse(data); err != nil {
			b.Fatal(err)
		}
	}
}
