package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueIsUnset(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		unset bool
	}{
		{"null", NullValue(), true},
		{"empty string", StringValue(""), true},
		{"empty list", ListValue(), true},
		{"empty map", Value{Kind: KindMap, Map: map[string]Value{}}, true},
		{"string", StringValue("x"), false},
		{"zero number", IntValue(0), false},
		{"false", BoolValue(false), false},
		{"list with items", ListValue(StringValue("a")), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.unset, tc.value.IsUnset())
		})
	}
}

func TestValueEnvString(t *testing.T) {
	assert.Equal(t, "", NullValue().EnvString())
	assert.Equal(t, "hello", StringValue("hello").EnvString())
	assert.Equal(t, "42", IntValue(42).EnvString())
	assert.Equal(t, "true", BoolValue(true).EnvString())
	assert.Equal(t, `["a","b"]`, ListValue(StringValue("a"), StringValue("b")).EnvString())
}

func TestValueNumberLiteralRoundTrip(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`0.50`), &v))
	assert.Equal(t, KindNumber, v.Kind)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `0.50`, string(out))
}

func TestValueJSONRoundTrip(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"a":[1,"x",null],"b":true}`), &v))
	require.Equal(t, KindMap, v.Kind)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,"x",null],"b":true}`, string(out))
}

func TestConfigMapClone(t *testing.T) {
	orig := ConfigMap{"LIST": ListValue(StringValue("a"))}
	clone := orig.Clone()
	clone["LIST"].List[0] = StringValue("changed")

	assert.Equal(t, "a", orig["LIST"].List[0].Str)
}

func TestConfigMapFromAnyRejectsUnsupported(t *testing.T) {
	_, err := ConfigMapFromAny(map[string]any{"K": struct{}{}})
	assert.Error(t, err)
}
