package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// toStarlark converts a tool result into a Starlark value. Structured
// results (maps, slices) convert recursively; anything else falls back to a
// JSON round trip so plans always receive plain data values, never host
// objects.
func toStarlark(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case []byte:
		return starlark.Bytes(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		return starlark.Float(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("convert number %q: %w", v.String(), err)
		}
		return starlark.Float(f), nil
	case []any:
		elems := make([]starlark.Value, len(v))
		for i, e := range v {
			converted, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = converted
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(v))
		for k, val := range v {
			converted, err := toStarlark(val)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return d, nil
	}

	// Unknown host type: flatten through JSON.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported tool result type %T", v)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return starlark.String(string(data)), nil
	}
	return toStarlark(generic)
}

// fromStarlark converts a Starlark argument value into plain Go data for
// tool invocation.
func fromStarlark(v starlark.Value) any {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.String:
		return string(v)
	case starlark.Bytes:
		return []byte(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		return v.String()
	case starlark.Float:
		return float64(v)
	case *starlark.List:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			out = append(out, fromStarlark(v.Index(i)))
		}
		return out
	case starlark.Tuple:
		out := make([]any, 0, len(v))
		for _, e := range v {
			out = append(out, fromStarlark(e))
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				k = item[0].String()
			}
			out[k] = fromStarlark(item[1])
		}
		return out
	default:
		return v.String()
	}
}

// normalizeValue reduces a plan's raw return value to text. A mapping with a
// "result" entry normalizes to that entry's text form, other mappings to
// their serialized form, sequences to their elements joined with a single
// space, and everything else to its text form.
func normalizeValue(v starlark.Value) string {
	switch v := v.(type) {
	case *starlark.Dict:
		if entry, found, err := v.Get(starlark.String("result")); err == nil && found {
			return textForm(entry)
		}
		return v.String()
	case *starlark.List:
		parts := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts = append(parts, textForm(v.Index(i)))
		}
		return strings.Join(parts, " ")
	case starlark.Tuple:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			parts = append(parts, textForm(e))
		}
		return strings.Join(parts, " ")
	default:
		return textForm(v)
	}
}

// textForm is the scalar text rendering: strings unquoted, everything else
// in Starlark display form.
func textForm(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
