package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcksafe/pcksafe/pickle"
)

func TestUnmarshalKeepsOrder(t *testing.T) {
	doc, err := Unmarshal([]byte(`{"z": 1, "a": {"y": 2, "b": 3}, "m": [1.5, 2e3, -0]}`))
	require.NoError(t, err)

	d := doc.(*pickle.Dict)
	assert.Equal(t, []interface{}{"z", "a", "m"}, d.Keys())
	a, _ := d.Get("a")
	assert.Equal(t, []interface{}{"y", "b"}, a.(*pickle.Dict).Keys())
	m, _ := d.Get("m")
	assert.Equal(t, []interface{}{1.5, 2000.0, int64(0)}, m)
}

func TestUnmarshalJSONC(t *testing.T) {
	doc, err := Unmarshal([]byte(`{
		// list settings
		"advertised": true, /* public */
		"owner": ["admin@example.com",],
	}`))
	require.NoError(t, err)
	assert.True(t, pickle.Equal(pickle.DictOf(
		"advertised", true,
		"owner", []interface{}{"admin@example.com"},
	), doc))
}

func TestUnmarshalErrors(t *testing.T) {
	for _, js := range []string{``, `{`, `{"a" 1}`, `[1] [2]`, `{"a": 1}}`, `nope`} {
		_, err := Unmarshal([]byte(js))
		assert.ErrorIs(t, err, ErrBadJSON, js)
	}
}

func TestMarshalEscapes(t *testing.T) {
	doc := pickle.DictOf("k", "a\"b\\c\nd\te\x01<>&é")
	js, err := Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"k":"a\"b\\c\nd\te\u0001<>&é"}`, string(js))

	// the output must be valid JSON
	var std map[string]string
	require.NoError(t, json.Unmarshal(js, &std))
	assert.Equal(t, "a\"b\\c\nd\te\x01<>&é", std["k"])
}

func TestMarshalFloatsStayFloats(t *testing.T) {
	js, err := Marshal([]interface{}{1.0, 1e20, int64(1)})
	require.NoError(t, err)
	assert.Equal(t, `[1.0,1e+20,1]`, string(js))

	back, err := Unmarshal(js)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1.0, 1e20, int64(1)}, back)
}

func TestMarshalRejects(t *testing.T) {
	for _, v := range []interface{}{
		pickle.Tuple{},
		pickle.Bytes("x"),
		pickle.DictOf(int64(1), "x"),
		"\xff",
	} {
		_, err := Marshal(v)
		assert.ErrorIs(t, err, ErrUnrepresentable)
	}
}

func TestMarshalLimit(t *testing.T) {
	doc := []interface{}{"abc", int64(1)}
	js, err := MarshalLimit(doc, 11)
	require.NoError(t, err)
	assert.Equal(t, `["abc",1]`, string(js))

	_, err = MarshalLimit(doc, 8)
	assert.ErrorIs(t, err, ErrTooLarge)

	shared := []interface{}{"x"}
	for i := 0; i < 60; i++ {
		shared = []interface{}{shared, shared}
	}
	_, err = MarshalLimit(shared, 1<<20)
	assert.ErrorIs(t, err, ErrTooLarge)
}
