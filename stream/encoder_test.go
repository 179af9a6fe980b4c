package stream

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/wire"
)

func field(t *testing.T, name string) *schema.Field {
	t.Helper()
	f := outerType.FieldByName(name)
	require.NotNil(t, f, name)
	return f
}

// writeOuter writes the fields of outerBytes, minus the unknown one.
func writeOuter(t *testing.T, e *Encoder) {
	t.Helper()
	put := func(name string) {
		t.Helper()
		_, err := e.Put(field(t, name))
		require.NoError(t, err)
	}
	a := innerType.FieldByNumber(1)

	put("id")
	require.NoError(t, e.WriteValue(wire.ValueOfInt32(150)))
	put("name")
	require.NoError(t, e.WriteString([]byte("hi")))
	put("inner")
	require.NoError(t, e.StartSubmessage())
	_, err := e.Put(a)
	require.NoError(t, err)
	require.NoError(t, e.WriteValue(wire.ValueOfInt32(7)))
	require.NoError(t, e.EndSubmessage())
	for _, v := range []int32{1, 2, 3} {
		put("codes")
		require.NoError(t, e.WriteValue(wire.ValueOfInt32(v)))
	}
	put("grp")
	require.NoError(t, e.StartSubmessage())
	_, err = e.Put(a)
	require.NoError(t, err)
	require.NoError(t, e.WriteValue(wire.ValueOfInt32(8)))
	require.NoError(t, e.EndSubmessage())
	put("delta")
	require.NoError(t, e.WriteValue(wire.ValueOfSint64(-3)))
}

func outerBytesKnown() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 150)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "hi")
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, innerBytes(7))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{1, 2, 3})
	b = protowire.AppendTag(b, 5, protowire.StartGroupType)
	b = append(b, innerBytes(8)...)
	b = protowire.AppendTag(b, 5, protowire.EndGroupType)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(-3))
	return b
}

func TestEncoder_Fields(t *testing.T) {
	sink := &BufferSink{}
	e := NewEncoder(sink, nil)
	writeOuter(t, e)
	require.NoError(t, e.Flush())
	assert.Equal(t, outerBytesKnown(), sink.Bytes())
	assert.Zero(t, e.Buffered())
}

func TestEncoder_WritesCompletedFields(t *testing.T) {
	sink := &BufferSink{}
	e := NewEncoder(sink, nil)

	_, err := e.Put(field(t, "id"))
	require.NoError(t, err)
	require.NoError(t, e.WriteValue(wire.ValueOfInt32(1)))
	assert.Equal(t, []byte{0x08, 0x01}, sink.Bytes())

	// Nothing of an open submessage reaches the sink.
	_, err = e.Put(field(t, "inner"))
	require.NoError(t, err)
	require.NoError(t, e.StartSubmessage())
	_, err = e.Put(innerType.FieldByNumber(1))
	require.NoError(t, err)
	require.NoError(t, e.WriteValue(wire.ValueOfInt32(2)))
	assert.Equal(t, 1, e.Depth())
	assert.Len(t, sink.Bytes(), 2)

	require.NoError(t, e.EndSubmessage())
	assert.Equal(t, []byte{0x08, 0x01, 0x1a, 0x02, 0x08, 0x02}, sink.Bytes())
}

func TestEncoder_PackedRuns(t *testing.T) {
	sink := &BufferSink{}
	e := NewEncoder(sink, nil)
	codes, id := field(t, "codes"), field(t, "id")
	write := func(f *schema.Field, v int32) {
		t.Helper()
		_, err := e.Put(f)
		require.NoError(t, err)
		require.NoError(t, e.WriteValue(wire.ValueOfInt32(v)))
	}

	write(codes, 1)
	write(codes, 2)
	assert.Empty(t, sink.Bytes(), "open run must not be written")
	write(id, 5)
	write(codes, 3)
	require.NoError(t, e.Flush())

	var want []byte
	want = protowire.AppendTag(want, 4, protowire.BytesType)
	want = protowire.AppendBytes(want, []byte{1, 2})
	want = protowire.AppendTag(want, 1, protowire.VarintType)
	want = protowire.AppendVarint(want, 5)
	want = protowire.AppendTag(want, 4, protowire.BytesType)
	want = protowire.AppendBytes(want, []byte{3})
	assert.Equal(t, want, sink.Bytes())
}

func TestEncoder_PreEncodedSubmessage(t *testing.T) {
	sink := &BufferSink{}
	e := NewEncoder(sink, nil)
	for _, name := range []string{"inner", "grp"} {
		_, err := e.Put(field(t, name))
		require.NoError(t, err)
		require.NoError(t, e.WriteString(innerBytes(4)))
	}
	require.NoError(t, e.Flush())

	var want []byte
	want = protowire.AppendTag(want, 3, protowire.BytesType)
	want = protowire.AppendBytes(want, innerBytes(4))
	want = protowire.AppendTag(want, 5, protowire.StartGroupType)
	want = append(want, innerBytes(4)...)
	want = protowire.AppendTag(want, 5, protowire.EndGroupType)
	assert.Equal(t, want, sink.Bytes())
}

func TestEncoder_Backpressure(t *testing.T) {
	t.Run("blocked", func(t *testing.T) {
		sink := &BufferSink{Blocked: true}
		e := NewEncoder(sink, nil)
		writeOuter(t, e)
		assert.True(t, e.EOF())
		assert.NoError(t, e.Err())
		assert.Empty(t, sink.Bytes())

		assert.Equal(t, io.ErrShortWrite, e.Flush())
		assert.NoError(t, e.Err(), "a short write must not fail the encoder")

		sink.Blocked = false
		require.NoError(t, e.Flush())
		assert.False(t, e.EOF())
		assert.Equal(t, outerBytesKnown(), sink.Bytes())
	})

	t.Run("three bytes per put", func(t *testing.T) {
		sink := &BufferSink{Limit: 3}
		e := NewEncoder(sink, nil)
		writeOuter(t, e)
		require.NoError(t, e.Flush())
		assert.Equal(t, outerBytesKnown(), sink.Bytes())
	})

	t.Run("unblocked midway", func(t *testing.T) {
		sink := &BufferSink{Blocked: true}
		e := NewEncoder(sink, nil)
		_, err := e.Put(field(t, "id"))
		require.NoError(t, err)
		require.NoError(t, e.WriteValue(wire.ValueOfInt32(1)))
		assert.Equal(t, 2, e.Buffered())

		sink.Blocked = false
		_, err = e.Put(field(t, "name"))
		require.NoError(t, err)
		require.NoError(t, e.WriteString([]byte("x")))
		assert.Equal(t, []byte{0x08, 0x01, 0x12, 0x01, 'x'}, sink.Bytes())
		assert.Zero(t, e.Buffered())
	})
}

type failingSink struct {
	status
}

func (s *failingSink) Put([]byte) (int, error) {
	return 0, s.fail(io.ErrClosedPipe)
}

func TestEncoder_SinkError(t *testing.T) {
	e := NewEncoder(&failingSink{}, nil)
	_, err := e.Put(field(t, "id"))
	require.NoError(t, err)
	err = e.WriteValue(wire.ValueOfInt32(1))
	require.ErrorIs(t, err, io.ErrClosedPipe)
	assert.ErrorIs(t, e.Err(), io.ErrClosedPipe)

	_, err = e.Put(field(t, "id"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestEncoder_Errors(t *testing.T) {
	t.Run("value without field", func(t *testing.T) {
		e := NewEncoder(&BufferSink{}, nil)
		assert.Error(t, e.WriteValue(wire.ValueOfInt32(1)))
		assert.NoError(t, e.Err())
	})
	t.Run("field announced twice", func(t *testing.T) {
		e := NewEncoder(&BufferSink{}, nil)
		_, err := e.Put(field(t, "id"))
		require.NoError(t, err)
		_, err = e.Put(field(t, "id"))
		assert.Error(t, err)
	})
	t.Run("value type", func(t *testing.T) {
		e := NewEncoder(&BufferSink{}, nil)
		_, err := e.Put(field(t, "id"))
		require.NoError(t, err)
		assert.ErrorIs(t, e.WriteValue(wire.ValueOfInt64(1)), wire.ErrTypeMismatch)
		assert.ErrorIs(t, e.Err(), wire.ErrTypeMismatch)
	})
	t.Run("string on scalar", func(t *testing.T) {
		e := NewEncoder(&BufferSink{}, nil)
		_, err := e.Put(field(t, "id"))
		require.NoError(t, err)
		assert.ErrorIs(t, e.WriteString([]byte("x")), wire.ErrTypeMismatch)
	})
	t.Run("submessage on scalar", func(t *testing.T) {
		e := NewEncoder(&BufferSink{}, nil)
		_, err := e.Put(field(t, "name"))
		require.NoError(t, err)
		assert.ErrorIs(t, e.StartSubmessage(), wire.ErrTypeMismatch)
	})
	t.Run("unbalanced end", func(t *testing.T) {
		e := NewEncoder(&BufferSink{}, nil)
		assert.ErrorIs(t, e.EndSubmessage(), wire.ErrStructure)
	})
}

func TestEncoder_Reset(t *testing.T) {
	e := NewEncoder(&BufferSink{}, nil)
	_, err := e.Put(field(t, "id"))
	require.NoError(t, err)
	require.Error(t, e.WriteValue(wire.ValueOfBool(true)))

	sink := &BufferSink{}
	e.Reset(sink)
	writeOuter(t, e)
	require.NoError(t, e.Flush())
	assert.Equal(t, outerBytesKnown(), sink.Bytes())
}
