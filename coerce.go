package protostream

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/wire"
)

// toValue converts a Go value from a message map into a scalar of the
// field's type. Numbers may arrive as any Go numeric type, json.Number or a
// numeric string; enum fields also take the value name.
func toValue(f *schema.Field, v interface{}) (wire.Value, error) {
	switch f.Type {
	case wire.TypeBool:
		b, err := coerceToBool(v)
		return wire.ValueOfBool(b), err
	case wire.TypeFloat:
		x, err := coerceToFloat64(v)
		return wire.ValueOfFloat(float32(x)), err
	case wire.TypeDouble:
		x, err := coerceToFloat64(v)
		return wire.ValueOfDouble(x), err
	case wire.TypeEnum:
		if name, ok := v.(string); ok && f.Enum != nil {
			for _, ev := range f.Enum.Values {
				if ev.Name == name {
					return wire.ValueOfEnum(ev.Number), nil
				}
			}
		}
		x, err := coerceToInt64(v)
		if err == nil && (x < math.MinInt32 || x > math.MaxInt32) {
			err = errors.Errorf("enum value %d out of range", x)
		}
		return wire.ValueOfEnum(int32(x)), err
	case wire.TypeUint32, wire.TypeFixed32, wire.TypeUint64, wire.TypeFixed64:
		x, err := coerceToUint64(v)
		if err != nil {
			return wire.Value{}, err
		}
		switch f.Type {
		case wire.TypeUint32:
			if x > math.MaxUint32 {
				return wire.Value{}, errors.Errorf("value %d overflows %s", x, f.Type)
			}
			return wire.ValueOfUint32(uint32(x)), nil
		case wire.TypeFixed32:
			if x > math.MaxUint32 {
				return wire.Value{}, errors.Errorf("value %d overflows %s", x, f.Type)
			}
			return wire.ValueOfFixed32(uint32(x)), nil
		case wire.TypeUint64:
			return wire.ValueOfUint64(x), nil
		default:
			return wire.ValueOfFixed64(x), nil
		}
	default:
		x, err := coerceToInt64(v)
		if err != nil {
			return wire.Value{}, err
		}
		switch f.Type {
		case wire.TypeInt64:
			return wire.ValueOfInt64(x), nil
		case wire.TypeSint64:
			return wire.ValueOfSint64(x), nil
		case wire.TypeSfixed64:
			return wire.ValueOfSfixed64(x), nil
		}
		if x < math.MinInt32 || x > math.MaxInt32 {
			return wire.Value{}, errors.Errorf("value %d overflows %s", x, f.Type)
		}
		switch f.Type {
		case wire.TypeInt32:
			return wire.ValueOfInt32(int32(x)), nil
		case wire.TypeSint32:
			return wire.ValueOfSint32(int32(x)), nil
		case wire.TypeSfixed32:
			return wire.ValueOfSfixed32(int32(x)), nil
		}
		return wire.Value{}, errors.Errorf("%s is not a scalar type", f.Type)
	}
}

// Helpers to coerce JSON inputs to integers (accept exponent/float forms if integral)
func coerceToInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, errors.Errorf("value %d overflows int64", t)
		}
		return int64(t), nil
	case json.Number:
		if iv, err := t.Int64(); err == nil {
			return iv, nil
		}
		return integralFloat(t.String(), false)
	case float64:
		return integral(t, false)
	case float32:
		return integral(float64(t), false)
	case string:
		if strings.ContainsAny(t, ".eE") {
			return integralFloat(t, false)
		}
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, errors.Errorf("expected integer-like, got %T", v)
	}
}

func coerceToUint64(v interface{}) (uint64, error) {
	switch t := v.(type) {
	case uint64:
		return t, nil
	case uint32:
		return uint64(t), nil
	case uint:
		return uint64(t), nil
	case uint16:
		return uint64(t), nil
	case uint8:
		return uint64(t), nil
	case int64, int32, int, int16, int8:
		x, _ := coerceToInt64(t)
		if x < 0 {
			return 0, errors.Errorf("negative value %d for unsigned field", x)
		}
		return uint64(x), nil
	case json.Number:
		if uv, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return uv, nil
		}
		x, err := integralFloat(t.String(), true)
		return uint64(x), err
	case float64:
		x, err := integral(t, true)
		return uint64(x), err
	case string:
		if strings.ContainsAny(t, ".eE") {
			x, err := integralFloat(t, true)
			return uint64(x), err
		}
		return strconv.ParseUint(t, 10, 64)
	default:
		return 0, errors.Errorf("expected unsigned-integer-like, got %T", v)
	}
}

func integralFloat(s string, unsigned bool) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return integral(f, unsigned)
}

func integral(f float64, unsigned bool) (int64, error) {
	if f != math.Trunc(f) || (unsigned && f < 0) {
		return 0, errors.Errorf("non-integer numeric %v for integer field", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errors.Errorf("numeric %v out of range", f)
	}
	return int64(f), nil
}

func coerceToFloat64(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		switch t {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return strconv.ParseFloat(t, 64)
	default:
		x, err := coerceToInt64(v)
		if err != nil {
			return 0, errors.Errorf("expected number, got %T", v)
		}
		return float64(x), nil
	}
}

func coerceToBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(t)
	default:
		return false, errors.Errorf("expected bool, got %T", v)
	}
}
