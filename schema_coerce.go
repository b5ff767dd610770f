package authcore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Document stores and JSON round trips return values in their loosest form:
// times as strings, numbers as float64, arrays as []any. The helpers below
// bring them back to the declared field type.

func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	case int64:
		return time.UnixMilli(t), true
	case int:
		return time.UnixMilli(int64(t)), true
	case float64:
		return time.UnixMilli(int64(t)), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(n), true
	}
	return time.Time{}, false
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func coerceInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := coerceFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func coerceBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	case int64:
		return b != 0, true
	case int:
		return b != 0, true
	case float64:
		return b != 0, true
	}
	return false, false
}

func coerceStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	case string:
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out, true
		}
		if s == "" {
			return []string{}, true
		}
		return strings.Split(s, ","), true
	case []byte:
		return coerceStringSlice(string(s))
	}
	return nil, false
}

// coerceValue converts v to the representation of the field type. Strict
// mode is used for input and rejects values of the wrong shape. Lenient mode
// is used on data read from storage and keeps values it cannot convert.
func coerceValue(t FieldType, v any, strict bool) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		ok  bool
	)
	switch t {
	case FieldString:
		switch s := v.(type) {
		case string:
			out, ok = s, true
		case []byte:
			out, ok = string(s), true
		}
	case FieldNumber:
		if i, isInt := coerceInt(v); isInt {
			out, ok = i, true
		} else {
			out, ok = coerceFloat(v)
		}
	case FieldBoolean:
		out, ok = coerceBool(v)
	case FieldDate:
		out, ok = coerceTime(v)
	case FieldStringArray:
		out, ok = coerceStringSlice(v)
	case FieldJSON, "":
		if s, isStr := v.(string); isStr && !strict {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded, nil
			}
		}
		out, ok = v, true
	default:
		out, ok = v, true
	}
	if !ok {
		if strict {
			return nil, fmt.Errorf("expected %s, got %T", t, v)
		}
		return v, nil
	}
	return out, nil
}
