package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsJSONRoundTrip(t *testing.T) {
	due := time.Date(2024, 3, 9, 14, 30, 15, 123_000_000, time.FixedZone("CET", 3600))
	in := Fields{
		"title":    String("Write report"),
		"estimate": Float(3),
		"count":    Int(7),
		"done":     Bool(false),
		"dueDate":  Timestamp(due),
		"tags":     Strings([]string{"a", "b"}),
		"budget":   Map(map[string]Value{"currency": String("EUR"), "estimated": Float(1200.5)}),
		"note":     Null(),
	}

	data, err := EncodeFields(in)
	require.NoError(t, err)

	out, err := DecodeFields(data)
	require.NoError(t, err)

	assert.Equal(t, KindFloat, out["estimate"].Kind())
	assert.Equal(t, KindInt, out["count"].Kind())
	assert.True(t, out["note"].IsNull())

	got, ok := out["dueDate"].AsTime()
	require.True(t, ok)
	assert.True(t, got.Equal(due))
	assert.Equal(t, time.UTC, got.Location())

	for k, v := range in {
		assert.Truef(t, Equal(v, out[k]), "field %s: %v != %v", k, v, out[k])
	}
}

func TestFieldsDecodeWithEncodingJSON(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"n":1,"x":1.5,"at":{"$ts":1700000000000000}}`), &f))

	assert.Equal(t, KindInt, f["n"].Kind())
	assert.Equal(t, KindFloat, f["x"].Kind())
	ts, ok := f["at"].AsTime()
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), ts.Unix())
}

func TestMarshalRejectsNaN(t *testing.T) {
	_, err := Float(nan()).MarshalJSON()
	assert.Error(t, err)
}

func TestFromGo(t *testing.T) {
	type status string
	now := time.Now()

	tests := []struct {
		name string
		in   any
		kind Kind
	}{
		{"nil", nil, KindNull},
		{"bool", true, KindBool},
		{"int", 42, KindInt},
		{"uint8", uint8(3), KindInt},
		{"float32", float32(1.5), KindFloat},
		{"named string", status("todo"), KindString},
		{"time", now, KindTimestamp},
		{"nil time pointer", (*time.Time)(nil), KindNull},
		{"time pointer", &now, KindTimestamp},
		{"string slice", []string{"a"}, KindArray},
		{"any map", map[string]any{"a": 1}, KindMap},
		{"value", String("x"), KindString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := FromGo(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
		})
	}

	_, err := FromGo(struct{}{})
	assert.Error(t, err)
	_, err = FromGo(map[int]string{1: "a"})
	assert.Error(t, err)
}

func TestCompareOrdersByKindThenValue(t *testing.T) {
	ordered := []Value{
		Null(),
		Bool(false),
		Bool(true),
		Int(-1),
		Float(0.5),
		Int(1),
		Timestamp(time.Unix(0, 0)),
		String("a"),
		String("b"),
		Array(Int(1)),
		Array(Int(1), Int(2)),
		Map(map[string]Value{"a": Int(1)}),
	}
	for i := 1; i < len(ordered); i++ {
		assert.Equalf(t, -1, Compare(ordered[i-1], ordered[i]), "%v < %v", ordered[i-1], ordered[i])
		assert.Equalf(t, 1, Compare(ordered[i], ordered[i-1]), "%v > %v", ordered[i], ordered[i-1])
	}
	assert.True(t, Equal(Int(2), Float(2)))
	assert.False(t, Equal(String("1"), Int(1)))
}

func TestFieldsGetNestedPath(t *testing.T) {
	f := Fields{"budget": Map(map[string]Value{"currency": String("USD")})}

	v, ok := f.Get("budget.currency")
	require.True(t, ok)
	assert.Equal(t, "USD", v.String())

	_, ok = f.Get("budget.missing")
	assert.False(t, ok)
	_, ok = f.Get("budget.currency.deeper")
	assert.False(t, ok)
}

func TestFieldsMergeAndValidate(t *testing.T) {
	base := Fields{"a": Int(1), "b": Int(2)}
	merged := base.Merge(Fields{"b": Delete(), "c": Int(3)})

	assert.Equal(t, Fields{"a": Int(1), "c": Int(3)}, merged)
	assert.Len(t, base, 2)

	assert.NoError(t, merged.Validate())
	assert.ErrorIs(t, Fields{"createdAt": Int(1)}.Validate(), ErrInvalidField)
	assert.ErrorIs(t, Fields{"a.b": Int(1)}.Validate(), ErrInvalidField)
	assert.ErrorIs(t, Fields{"$ts": Int(1)}.Validate(), ErrInvalidField)
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
