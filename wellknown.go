package protostream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/stream"
)

var wrapperTypes = map[string]bool{
	"google.protobuf.DoubleValue": true,
	"google.protobuf.FloatValue":  true,
	"google.protobuf.Int64Value":  true,
	"google.protobuf.UInt64Value": true,
	"google.protobuf.Int32Value":  true,
	"google.protobuf.UInt32Value": true,
	"google.protobuf.BoolValue":   true,
	"google.protobuf.StringValue": true,
	"google.protobuf.BytesValue":  true,
}

// wellKnownInput converts the JSON-native and Go-native forms of well-known
// types into their message map shapes. Other values are returned unchanged.
func (me mapEncoder) wellKnownInput(msg *schema.Message, value interface{}) (interface{}, error) {
	if msg == nil {
		return value, nil
	}
	if wrapperTypes[msg.Name] {
		if _, ok := value.(map[string]interface{}); !ok {
			return map[string]interface{}{"value": value}, nil
		}
		return value, nil
	}

	switch msg.Name {
	case "google.protobuf.Timestamp":
		var ts *timestamppb.Timestamp
		switch v := value.(type) {
		case time.Time:
			ts = timestamppb.New(v)
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, errors.Wrap(err, "invalid timestamp")
			}
			ts = timestamppb.New(t)
		default:
			return value, nil
		}
		if err := ts.CheckValid(); err != nil {
			return nil, err
		}
		return secondsNanos(ts.Seconds, ts.Nanos), nil
	case "google.protobuf.Duration":
		var d *durationpb.Duration
		switch v := value.(type) {
		case time.Duration:
			d = durationpb.New(v)
		case string:
			sec, ns, err := parseDurationString(v)
			if err != nil {
				return nil, err
			}
			d = &durationpb.Duration{Seconds: sec, Nanos: ns}
		default:
			return value, nil
		}
		if err := d.CheckValid(); err != nil {
			return nil, err
		}
		return secondsNanos(d.Seconds, d.Nanos), nil
	case "google.protobuf.FieldMask":
		if s, ok := value.(string); ok {
			return map[string]interface{}{"paths": parseFieldMaskString(s)}, nil
		}
	case "google.protobuf.Any":
		if m, ok := value.(map[string]interface{}); ok {
			return me.normalizeAnyInput(m)
		}
	case "google.protobuf.Struct":
		if m, ok := value.(map[string]interface{}); ok {
			if _, isShaped := m["fields"]; isShaped {
				return m, nil
			}
			fields := make(map[string]interface{}, len(m))
			for k, v := range m {
				fields[k] = jsonToValueMessage(v)
			}
			return map[string]interface{}{"fields": fields}, nil
		}
	case "google.protobuf.Value":
		return jsonToValueMessage(value), nil
	case "google.protobuf.ListValue":
		if arr, ok := value.([]interface{}); ok {
			return map[string]interface{}{"values": jsonToValueList(arr)}, nil
		}
	}
	return value, nil
}

// secondsNanos builds a Timestamp or Duration map, leaving out zero parts the
// way proto3 encoding does.
func secondsNanos(seconds int64, nanos int32) map[string]interface{} {
	m := make(map[string]interface{}, 2)
	if seconds != 0 {
		m["seconds"] = seconds
	}
	if nanos != 0 {
		m["nanos"] = nanos
	}
	return m
}

// normalizeAnyInput converts {"@type": url, ...payload...} or
// {"type_url": url, "value": payload} into the Any message map, encoding the
// payload with the type the URL names.
func (me mapEncoder) normalizeAnyInput(m map[string]interface{}) (map[string]interface{}, error) {
	typeURL, _ := m["@type"].(string)
	if typeURL == "" {
		typeURL, _ = m["type_url"].(string)
	}
	if typeURL == "" {
		return nil, errors.New("Any missing @type/type_url")
	}
	if !strings.Contains(typeURL, "/") {
		typeURL = "type.googleapis.com/" + typeURL
	}

	if raw, ok := m["value"]; ok {
		switch rv := raw.(type) {
		case string:
			b, err := base64.StdEncoding.DecodeString(rv)
			if err != nil {
				return nil, errors.Wrap(err, "Any.value not base64")
			}
			return map[string]interface{}{"type_url": typeURL, "value": b}, nil
		case []byte:
			return map[string]interface{}{"type_url": typeURL, "value": rv}, nil
		case map[string]interface{}:
			b, err := me.packAnyPayload(rv, typeURL)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"type_url": typeURL, "value": b}, nil
		default:
			return nil, errors.Errorf("unsupported Any.value type %T", raw)
		}
	}

	payload := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k != "@type" && k != "type_url" {
			payload[k] = v
		}
	}
	b, err := me.packAnyPayload(payload, typeURL)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"type_url": typeURL, "value": b}, nil
}

func (me mapEncoder) packAnyPayload(payload map[string]interface{}, typeURL string) ([]byte, error) {
	typeName := typeURL[strings.LastIndex(typeURL, "/")+1:]
	if me.registry == nil {
		return nil, errors.Errorf("unknown Any type %s", typeName)
	}
	msg, err := me.registry.GetMessage(typeName)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown Any type %s", typeName)
	}
	var buf bytes.Buffer
	e := stream.NewEncoder(stream.NewWriterSink(&buf), nil)
	if err := me.encodeMessage(e, payload, msg); err != nil {
		return nil, err
	}
	if err := e.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isValueMessageMap reports whether m already has the google.protobuf.Value
// message shape.
func isValueMessageMap(m map[string]interface{}) bool {
	for _, k := range []string{"null_value", "number_value", "string_value", "bool_value"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	if sv, ok := m["struct_value"].(map[string]interface{}); ok {
		if _, ok := sv["fields"].(map[string]interface{}); ok {
			return true
		}
	}
	if lv, ok := m["list_value"].(map[string]interface{}); ok {
		if _, ok := lv["values"].([]interface{}); ok {
			return true
		}
	}
	return false
}

// jsonToValueMessage converts a plain JSON value into a google.protobuf.Value
// message map.
func jsonToValueMessage(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok && isValueMessageMap(m) {
		return m
	}
	switch t := v.(type) {
	case nil:
		return map[string]interface{}{"null_value": 0}
	case bool:
		return map[string]interface{}{"bool_value": t}
	case string:
		return map[string]interface{}{"string_value": t}
	case map[string]interface{}:
		fields := make(map[string]interface{}, len(t))
		for k, vv := range t {
			fields[k] = jsonToValueMessage(vv)
		}
		return map[string]interface{}{"struct_value": map[string]interface{}{"fields": fields}}
	case []interface{}:
		return map[string]interface{}{"list_value": map[string]interface{}{"values": jsonToValueList(t)}}
	}
	if f, err := coerceToFloat64(v); err == nil {
		return map[string]interface{}{"number_value": f}
	}
	b, _ := json.Marshal(v)
	return map[string]interface{}{"string_value": string(b)}
}

func jsonToValueList(arr []interface{}) []interface{} {
	out := make([]interface{}, len(arr))
	for i := range arr {
		out[i] = jsonToValueMessage(arr[i])
	}
	return out
}

func parseFieldMaskString(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, camelToSnake(p))
		}
	}
	return out
}

// camelToSnake converts lowerCamelCase to snake_case
func camelToSnake(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i != 0 {
				out = append(out, '_')
			}
			c = c - 'A' + 'a'
		}
		out = append(out, c)
	}
	return string(out)
}

// parseDurationString parses the JSON form of a duration, e.g. "1.010000001s".
func parseDurationString(ds string) (int64, int32, error) {
	core, ok := strings.CutSuffix(ds, "s")
	if !ok {
		return 0, 0, errors.New("invalid duration: missing 's' suffix")
	}
	neg := strings.HasPrefix(core, "-")
	core = strings.TrimLeft(core, "+-")

	secPart, fracPart, _ := strings.Cut(core, ".")
	if secPart == "" {
		secPart = "0"
	}
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "invalid duration seconds")
	}
	if len(fracPart) > 9 {
		return 0, 0, errors.New("invalid duration nanos precision")
	}
	var ns int64
	if fracPart != "" {
		fracPart += strings.Repeat("0", 9-len(fracPart))
		if ns, err = strconv.ParseInt(fracPart, 10, 32); err != nil {
			return 0, 0, errors.Wrap(err, "invalid duration nanos")
		}
	}
	if neg {
		sec, ns = -sec, -ns
	}
	return sec, int32(ns), nil
}
