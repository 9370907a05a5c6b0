package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAccessors(t *testing.T) {
	s, ok := String("hello").StringVal()
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	i, ok := Int(42).IntVal()
	assert.True(t, ok)
	assert.Equal(t, int64(42), i)

	b, ok := Bool(true).BoolVal()
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = String("nope").IntVal()
	assert.False(t, ok)

	assert.True(t, Null().IsNull())
	assert.False(t, Int(0).IsNull())
}

func TestValueIntCoercionFromDouble(t *testing.T) {
	// Models frequently send integral parameters as JSON doubles.
	i, ok := Double(30).IntVal()
	assert.True(t, ok)
	assert.Equal(t, int64(30), i)

	_, ok = Double(30.5).IntVal()
	assert.False(t, ok)

	f, ok := Int(7).DoubleVal()
	assert.True(t, ok)
	assert.Equal(t, 7.0, f)
}

func TestValueMarshalDeterministic(t *testing.T) {
	v := Object(map[string]Value{
		"zebra": Int(1),
		"alpha": String("x"),
		"mid":   Bool(false),
	})
	first, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"x","mid":false,"zebra":1}`, string(first))

	for i := 0; i < 10; i++ {
		again, err := json.Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestValueRoundTrip(t *testing.T) {
	v := Object(map[string]Value{
		"name":    String("leg day"),
		"sets":    Int(4),
		"load":    Double(62.5),
		"done":    Bool(false),
		"notes":   Null(),
		"targets": Array(String("quads"), String("glutes")),
	})

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var back Value
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v.Interface(), back.Interface())
}

func TestFromInterfaceNumberSplit(t *testing.T) {
	v, err := FromInterface(json.Number("12"))
	require.NoError(t, err)
	assert.Equal(t, KindInt, v.Kind())

	v, err = FromInterface(json.Number("12.5"))
	require.NoError(t, err)
	assert.Equal(t, KindDouble, v.Kind())

	// Plain float64 from encoding/json is split by representability too.
	v, err = FromInterface(3.0)
	require.NoError(t, err)
	assert.Equal(t, KindInt, v.Kind())

	_, err = FromInterface(struct{}{})
	assert.Error(t, err)
}

func TestParseArgs(t *testing.T) {
	args, err := ParseArgs([]byte(`{"glasses": 2, "flavor": "plain"}`))
	require.NoError(t, err)

	g, ok := args["glasses"].IntVal()
	assert.True(t, ok)
	assert.Equal(t, int64(2), g)

	f, ok := args["flavor"].StringVal()
	assert.True(t, ok)
	assert.Equal(t, "plain", f)
}

func TestParseArgsEmptyAndMalformed(t *testing.T) {
	args, err := ParseArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = ParseArgs([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = ParseArgs([]byte(`{"broken`))
	assert.Error(t, err)
	assert.Empty(t, args)
}
