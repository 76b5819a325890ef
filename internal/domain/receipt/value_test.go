package receipt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{name: "null equals null", a: Null(), b: Null(), want: true},
		{name: "zero value is null", a: Value{}, b: Null(), want: true},
		{name: "same string", a: String("ikea"), b: String("ikea"), want: true},
		{name: "different string", a: String("ikea"), b: String("IKEA"), want: false},
		{name: "same number, different text", a: mustNumber(t, "1.50"), b: Number(1.5), want: true},
		{name: "exponent form", a: mustNumber(t, "1e2"), b: Number(100), want: true},
		{name: "integers beyond float64", a: mustNumber(t, "9007199254740993"), b: mustNumber(t, "9007199254740992"), want: false},
		{name: "numbers by value", a: Number(12), b: Number(12.0), want: true},
		{name: "number vs string", a: Number(1), b: String("1"), want: false},
		{name: "bool", a: Bool(true), b: Bool(false), want: false},
		{name: "null vs empty string", a: Null(), b: String(""), want: false},
		{
			name: "nested list",
			a:    List(String("a"), List(Number(1))),
			b:    List(String("a"), List(Number(1))),
			want: true,
		},
		{
			name: "list order matters",
			a:    List(String("a"), String("b")),
			b:    List(String("b"), String("a")),
			want: false,
		},
		{
			name: "map ignores key order",
			a:    Map(map[string]Value{"x": Number(1), "y": Bool(true)}),
			b:    Map(map[string]Value{"y": Bool(true), "x": Number(1)}),
			want: true,
		},
		{
			name: "map with missing key",
			a:    Map(map[string]Value{"x": Number(1)}),
			b:    Map(map[string]Value{"y": Number(1)}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestValue_JSON(t *testing.T) {
	raw := `{"total":12.5,"tags":["food","work"],"fav":true,"note":null,"meta":{"pages":2}}`

	var fields Fields
	require.NoError(t, json.Unmarshal([]byte(raw), &fields))

	assert.True(t, fields["total"].Equal(Number(12.5)))
	assert.True(t, fields["tags"].Equal(List(String("food"), String("work"))))
	assert.True(t, fields["fav"].Equal(Bool(true)))
	assert.True(t, fields["note"].IsNull())
	assert.True(t, fields["meta"].Equal(Map(map[string]Value{"pages": Number(2)})))

	out, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func mustNumber(t *testing.T, text string) Value {
	t.Helper()
	v, err := ParseNumber(text)
	require.NoError(t, err)
	return v
}

func TestValue_JSONKeepsNumberText(t *testing.T) {
	raw := `{"id":12345678901234567890,"price":0.10000000000000000001,"small":-3}`

	var fields Fields
	require.NoError(t, json.Unmarshal([]byte(raw), &fields))

	text, ok := fields["id"].NumberText()
	require.True(t, ok)
	assert.Equal(t, "12345678901234567890", text)

	out, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"id":12345678901234567890`)
	assert.Contains(t, string(out), `"price":0.10000000000000000001`)
	assert.Contains(t, string(out), `"small":-3`)
}

func TestParseNumber(t *testing.T) {
	for _, ok := range []string{"0", "-1", "12.50", "1e-7", "6.02E+23"} {
		_, err := ParseNumber(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "01", "1.", ".5", "+1", "NaN", "0x10", "1/3", " 1"} {
		_, err := ParseNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestFromInterface(t *testing.T) {
	v, err := FromInterface([]string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, v.Equal(List(String("a"), String("b"))))

	v, err = FromInterface(int64(7))
	require.NoError(t, err)
	assert.True(t, v.Equal(Number(7)))

	v, err = FromInterface(uint64(18446744073709551615))
	require.NoError(t, err)
	text, _ := v.NumberText()
	assert.Equal(t, "18446744073709551615", text)

	_, err = FromInterface(struct{}{})
	assert.Error(t, err)
}

func TestValue_CloneIsDeep(t *testing.T) {
	inner := map[string]Value{"a": Number(1)}
	v := Map(inner)
	c := v.Clone()

	inner["a"] = Number(2)

	m, ok := c.AsMap()
	require.True(t, ok)
	assert.True(t, m["a"].Equal(Number(1)))
}

func TestFields_Sanitized(t *testing.T) {
	f := Fields{
		"displayName":        String("Lunch"),
		AttrServerVersion:    Number(3),
		AttrReceiptID:        String("r1"),
		AttrUserEditedFields: List(String("displayName")),
		"":                   String("x"),
	}

	got := f.Sanitized()

	assert.Equal(t, []string{"displayName"}, got.Names())
	assert.Len(t, f, 5, "input must not be modified")
}

func TestValue_Accessors(t *testing.T) {
	n, ok := Number(4.5).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 4.5, n)

	b, ok := Bool(true).AsBool()
	assert.True(t, ok)
	assert.True(t, b)

	items, ok := List(String("a"), Null()).AsList()
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, KindString, items[0].Kind())
	assert.True(t, items[1].IsNull())

	_, ok = String("4.5").AsNumber()
	assert.False(t, ok)
	_, ok = Null().AsBool()
	assert.False(t, ok)
	_, ok = Map(nil).AsList()
	assert.False(t, ok)
}
