package protostream

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/wire"
)

func TestCoerceToInt64(t *testing.T) {
	tests := []struct {
		in      interface{}
		want    int64
		wantErr bool
	}{
		{in: 7, want: 7},
		{in: int8(-7), want: -7},
		{in: uint32(math.MaxUint32), want: math.MaxUint32},
		{in: json.Number("1e3"), want: 1000},
		{in: json.Number("-12"), want: -12},
		{in: float64(2), want: 2},
		{in: "42", want: 42},
		{in: "4.2e1", want: 42},
		{in: 1.5, wantErr: true},
		{in: "x", wantErr: true},
		{in: uint64(math.MaxUint64), wantErr: true},
		{in: 1e300, wantErr: true},
		{in: true, wantErr: true},
	}
	for _, tt := range tests {
		got, err := coerceToInt64(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%T(%v)", tt.in, tt.in)
			continue
		}
		require.NoError(t, err, "%T(%v)", tt.in, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestCoerceToUint64(t *testing.T) {
	tests := []struct {
		in      interface{}
		want    uint64
		wantErr bool
	}{
		{in: uint64(math.MaxUint64), want: math.MaxUint64},
		{in: 3, want: 3},
		{in: json.Number("18446744073709551615"), want: math.MaxUint64},
		{in: json.Number("2e2"), want: 200},
		{in: "9", want: 9},
		{in: -1, wantErr: true},
		{in: -1.0, wantErr: true},
		{in: "-1", wantErr: true},
		{in: []int{1}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := coerceToUint64(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%T(%v)", tt.in, tt.in)
			continue
		}
		require.NoError(t, err, "%T(%v)", tt.in, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestToValue(t *testing.T) {
	status := &schema.Enum{Name: "Status", Values: []*schema.EnumValue{{Name: "OFF", Number: 0}, {Name: "ON", Number: 1}}}
	field := func(ft wire.FieldType) *schema.Field {
		return &schema.Field{Name: "f", Number: 1, Type: ft, Enum: status}
	}

	tests := []struct {
		name    string
		typ     wire.FieldType
		in      interface{}
		want    wire.Value
		wantErr string
	}{
		{name: "enum by name", typ: wire.TypeEnum, in: "ON", want: wire.ValueOfEnum(1)},
		{name: "enum by number", typ: wire.TypeEnum, in: 5, want: wire.ValueOfEnum(5)},
		{name: "enum unknown name", typ: wire.TypeEnum, in: "MAYBE", wantErr: "invalid syntax"},
		{name: "bool", typ: wire.TypeBool, in: "true", want: wire.ValueOfBool(true)},
		{name: "bool from number", typ: wire.TypeBool, in: 1, wantErr: "expected bool"},
		{name: "float", typ: wire.TypeFloat, in: 2, want: wire.ValueOfFloat(2)},
		{name: "double infinity", typ: wire.TypeDouble, in: "-Infinity", want: wire.ValueOfDouble(math.Inf(-1))},
		{name: "sint32", typ: wire.TypeSint32, in: json.Number("-2"), want: wire.ValueOfSint32(-2)},
		{name: "sfixed64", typ: wire.TypeSfixed64, in: int64(math.MinInt64), want: wire.ValueOfSfixed64(math.MinInt64)},
		{name: "fixed32", typ: wire.TypeFixed32, in: uint32(9), want: wire.ValueOfFixed32(9)},
		{name: "fixed32 overflow", typ: wire.TypeFixed32, in: uint64(1) << 32, wantErr: "overflows fixed32"},
		{name: "uint32 overflow", typ: wire.TypeUint32, in: "4294967296", wantErr: "overflows uint32"},
		{name: "int32 overflow", typ: wire.TypeInt32, in: int64(math.MaxInt32) + 1, wantErr: "overflows int32"},
		{name: "fixed64", typ: wire.TypeFixed64, in: 10, want: wire.ValueOfFixed64(10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toValue(field(tt.typ), tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}
