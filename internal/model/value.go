package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind discriminates the variants of a config value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a config-map value: null, a scalar, a list or a map. Numbers
// keep their source literal so round-trips and rendered artifacts stay
// byte-stable.
type Value struct {
	Kind ValueKind
	Str  string // KindString: the string; KindNumber: the numeric literal
	Bool bool
	List []Value
	Map  map[string]Value
}

// NullValue returns the null value.
func NullValue() Value {
	return Value{Kind: KindNull}
}

// StringValue returns a string value.
func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// NumberValue returns a number value from its literal form.
func NumberValue(literal string) Value {
	return Value{Kind: KindNumber, Str: literal}
}

// IntValue returns a number value for i.
func IntValue(i int) Value {
	return Value{Kind: KindNumber, Str: strconv.Itoa(i)}
}

// BoolValue returns a boolean value.
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// ListValue returns a list value.
func ListValue(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindList, List: items}
}

// ValueFromAny converts a decoded YAML/JSON value into a Value.
func ValueFromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(t), nil
	case int64:
		return NumberValue(strconv.FormatInt(t, 10)), nil
	case uint64:
		return NumberValue(strconv.FormatUint(t, 10)), nil
	case float64:
		return NumberValue(strconv.FormatFloat(t, 'f', -1, 64)), nil
	case json.Number:
		return NumberValue(t.String()), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			val, err := ValueFromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, val)
		}
		return Value{Kind: KindList, List: items}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			val, err := ValueFromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = val
		}
		return Value{Kind: KindMap, Map: m}, nil
	default:
		return Value{}, fmt.Errorf("unsupported config value type %T", v)
	}
}

// IsUnset reports whether the value counts as unconfigured: null, empty
// string, empty list or empty map. Zero numbers and false are configured.
func (v Value) IsUnset() bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == ""
	case KindList:
		return len(v.List) == 0
	case KindMap:
		return len(v.Map) == 0
	default:
		return false
	}
}

// EnvString renders the value for a task environment: lists and maps as
// their JSON textual form, scalars stringified, null as the empty string.
func (v Value) EnvString() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindString:
		return v.Str
	case KindNumber:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return []byte(v.Str), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindMap:
		if v.Map == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Map)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, err := ValueFromAny(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// ConfigMap is the config of a port or the envs of an entrypoint.
type ConfigMap map[string]Value

// Keys returns the key set in sorted order.
func (c ConfigMap) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (c ConfigMap) Clone() ConfigMap {
	if c == nil {
		return nil
	}
	out := make(ConfigMap, len(c))
	for k, v := range c {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	out := v
	if v.List != nil {
		out.List = make([]Value, len(v.List))
		for i, item := range v.List {
			out.List[i] = item.clone()
		}
	}
	if v.Map != nil {
		out.Map = make(map[string]Value, len(v.Map))
		for k, item := range v.Map {
			out.Map[k] = item.clone()
		}
	}
	return out
}

// ConfigMapFromAny converts a decoded YAML/JSON object into a ConfigMap.
func ConfigMapFromAny(m map[string]any) (ConfigMap, error) {
	out := make(ConfigMap, len(m))
	for k, raw := range m {
		v, err := ValueFromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("config key %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
