package codec

import (
	"math"
	"math/big"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcksafe/pcksafe/pickle"
)

func TestTupleAndBytes(t *testing.T) {
	graph := pickle.DictOf(
		"ids", pickle.Tuple{int64(1), int64(2), int64(3)},
		"raw", pickle.Bytes("\xff\xfe"),
	)

	doc, err := Encode(graph)
	require.NoError(t, err)

	want := pickle.DictOf(
		"ids", pickle.DictOf("__tuple__", int64(3), "__items__", []interface{}{int64(1), int64(2), int64(3)}),
		"raw", pickle.DictOf("__bytestring__", true, "__string__", "ÿþ"),
	)
	assert.True(t, pickle.Equal(want, doc), spew.Sdump(doc))

	js, err := Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"ids":{"__tuple__":3,"__items__":[1,2,3]},"raw":{"__bytestring__":true,"__string__":"ÿþ"}}`, string(js))

	back, err := Unmarshal(js)
	require.NoError(t, err)
	got, err := Decode(back)
	require.NoError(t, err)
	assert.True(t, pickle.Equal(graph, got), spew.Sdump(got))

	raw, _ := got.(*pickle.Dict).Get("raw")
	assert.Equal(t, pickle.Bytes("\xff\xfe"), raw)
}

func TestIntegerKeys(t *testing.T) {
	graph := pickle.DictOf(int64(42), "answer", "name", "x")

	doc, err := Encode(graph)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"42", "name"}, doc.(*pickle.Dict).Keys())

	got, err := Decode(doc)
	require.NoError(t, err)
	v, ok := got.(*pickle.Dict).Get(int64(42))
	require.True(t, ok)
	assert.Equal(t, "answer", v)
	_, ok = got.(*pickle.Dict).Get("42")
	assert.False(t, ok)
}

func TestRoundtrip(t *testing.T) {
	graphs := []interface{}{
		nil,
		true,
		int64(-7),
		new(big.Int).Lsh(big.NewInt(1), 80),
		2.5,
		"café",
		pickle.Bytes("caf\xe9"),
		pickle.Tuple{},
		pickle.Tuple{pickle.Tuple{"nested"}, []interface{}{pickle.Bytes("\x80")}},
		[]interface{}{int64(1), "a", nil},
		pickle.DictOf(
			"members", pickle.DictOf("a@example.com", int64(0)),
			"topics", []interface{}{pickle.Tuple{"t", "re", "", false}},
			"bounce_info", pickle.NewDict(),
			int64(-3), pickle.Tuple{int64(3)},
			new(big.Int).Lsh(big.NewInt(1), 70), "big key",
		),
	}

	for _, g := range graphs {
		doc, err := Encode(g)
		require.NoError(t, err, spew.Sdump(g))
		js, err := Marshal(doc)
		require.NoError(t, err)
		back, err := Unmarshal(js)
		require.NoError(t, err, string(js))
		got, err := Decode(back)
		require.NoError(t, err, string(js))
		if !pickle.Equal(g, got) {
			t.Errorf("failed roundtripping %s\njson %s\ngot %s", spew.Sdump(g), js, spew.Sdump(got))
		}
	}
}

func TestEncodeIsIdempotent(t *testing.T) {
	graph := pickle.DictOf(
		"t", pickle.Tuple{int64(1), pickle.Bytes("\xfe")},
		"b", pickle.Bytes("\x00\xff"),
		int64(7), []interface{}{pickle.Tuple{}},
	)
	doc, err := Encode(graph)
	require.NoError(t, err)

	again, err := Encode(doc)
	require.NoError(t, err)
	assert.True(t, pickle.Equal(doc, again), spew.Sdump(again))

	first, err := Marshal(doc)
	require.NoError(t, err)
	second, err := Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestKeyNormalisation(t *testing.T) {
	graph := pickle.DictOf(
		pickle.Bytes("caf\xe9"), int64(1),
		true, int64(2),
		nil, int64(3),
		1.5, int64(4),
	)
	doc, err := Encode(graph)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"café", "true", "null", "1.5"}, doc.(*pickle.Dict).Keys())
}

func TestDecodeMalformed(t *testing.T) {
	docs := []string{
		`{"__tuple__": 3, "__items__": [1, 2]}`,
		`{"__tuple__": -1, "__items__": []}`,
		`{"__tuple__": 99999999999999999999999, "__items__": []}`,
		`{"__bytestring__": true, "__string__": "snowman ☃"}`,
		`[{"x": {"__tuple__": 0, "__items__": [1]}}]`,
	}
	for _, js := range docs {
		doc, err := Unmarshal([]byte(js))
		require.NoError(t, err)
		_, err = Decode(doc)
		assert.ErrorIs(t, err, ErrMalformedDocument, js)
	}
}

func TestTagLookalikesStayMappings(t *testing.T) {
	docs := []string{
		`{"__tuple__": 1, "__items__": [1], "extra": 0}`,
		`{"__tuple__": "1", "__items__": [1]}`,
		`{"__bytestring__": false, "__string__": "x"}`,
		`{"__bytestring__": true, "__string__": 5}`,
	}
	for _, js := range docs {
		doc, err := Unmarshal([]byte(js))
		require.NoError(t, err)
		got, err := Decode(doc)
		require.NoError(t, err, js)
		_, ok := got.(*pickle.Dict)
		assert.True(t, ok, js)
	}
}

func TestEncodeUnrepresentable(t *testing.T) {
	values := []interface{}{
		&pickle.Instance{Class: pickle.Class{Module: "Mailman.Bouncer", Name: "_BounceInfo"}},
		pickle.DictOf("bounce", &pickle.Instance{}),
		math.NaN(),
		math.Inf(-1),
		pickle.DictOf(math.Inf(1), "x"),
		pickle.Class{Module: "a", Name: "b"},
	}
	for _, v := range values {
		_, err := Encode(v)
		assert.ErrorIs(t, err, ErrUnrepresentable, spew.Sdump(v))
	}
}

func TestIntKey(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"+7", int64(7)},
		{" 12 ", int64(12)},
		{"007", int64(7)},
		{"123456789012345678901234567890", bigInt("123456789012345678901234567890")},
	}
	for _, tt := range tests {
		got, ok := IntKey(tt.in)
		require.True(t, ok, tt.in)
		assert.True(t, pickle.Equal(tt.want, got), tt.in)
	}

	for _, s := range []string{"", " ", "-", "+-1", "1.0", "1e3", "0x10", "12a", "١٢"} {
		_, ok := IntKey(s)
		assert.False(t, ok, s)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		0:          "0.0",
		1:          "1.0",
		-2.5:       "-2.5",
		0.1:        "0.1",
		1234567.0:  "1234567.0",
		1e16:       "1e+16",
		1.5e-5:     "1.5e-05",
		0.0001:     "0.0001",
		123456e100: "1.23456e+105",
	}
	for f, want := range tests {
		assert.Equal(t, want, FormatFloat(f))
	}
}

func bigInt(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

func TestDecodeWholeFloatTupleCount(t *testing.T) {
	doc, err := Unmarshal([]byte(`{"__tuple__": 2.0, "__items__": [1, "x"]}`))
	require.NoError(t, err)
	got, err := Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, pickle.Tuple{int64(1), "x"}, got)

	doc, err = Unmarshal([]byte(`{"__tuple__": 3.0, "__items__": [1]}`))
	require.NoError(t, err)
	_, err = Decode(doc)
	assert.ErrorIs(t, err, ErrMalformedDocument)

	doc, err = Unmarshal([]byte(`{"__tuple__": 1.5, "__items__": [1]}`))
	require.NoError(t, err)
	got, err = Decode(doc)
	require.NoError(t, err)
	_, ok := got.(*pickle.Dict)
	assert.True(t, ok, "fractional count is not a tag")
}

// sharedPairs nests n pairs, each holding the previous pair twice.
func sharedPairs(n int) interface{} {
	var v interface{} = int64(1)
	for i := 0; i < n; i++ {
		v = pickle.Tuple{v, v}
	}
	return v
}

func TestEncodeLimit(t *testing.T) {
	small := sharedPairs(3)
	doc, err := EncodeLimit(small, 15)
	require.NoError(t, err)
	want, err := Encode(small)
	require.NoError(t, err)
	assert.True(t, pickle.Equal(want, doc))

	_, err = EncodeLimit(small, 14)
	assert.ErrorIs(t, err, ErrTooLarge)

	// 2^60 leaves behind 60 shared pairs
	_, err = EncodeLimit(sharedPairs(60), 1<<20)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = EncodeLimit(small, 0)
	assert.ErrorIs(t, err, ErrTooLarge)
}
