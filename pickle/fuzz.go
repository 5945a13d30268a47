//go:build gofuzz
// +build gofuzz

package pickle

import (
	"math/big"

	"github.com/google/go-cmp/cmp"
)

var fuzzPolicy, _ = NewPolicy(DefaultAllowList()...)

var bigComparer = cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 })

func Fuzz(data []byte) int {
	d := NewDecoder(fuzzPolicy)

	v, err := d.Unmarshal(data)
	if err != nil {
		return 0
	}

	enc, err := (&Encoder{}).Marshal(v)
	if err != nil {
		// non-finite floats and cyclic instances are not writable
		return 0
	}

	v2, err := d.Unmarshal(enc)
	if err != nil {
		panic("unmarshalling marshalled data")
	}

	if !Equal(v, v2) {
		panic("failed to roundtrip: " + cmp.Diff(v, v2, cmp.AllowUnexported(Dict{}), bigComparer))
	}

	return 1
}

func FuzzSanitize(data []byte) int {
	v, err := NewDecoder(fuzzPolicy).Unmarshal(data)
	if err != nil {
		return 0
	}

	d, ok := Sanitize(v).(*Dict)
	if !ok {
		return 0
	}

	if bi, ok := d.Get(BounceInfoKey); ok && bi.(*Dict).Len() != 0 {
		panic("bounce_info survived sanitizing")
	}
	if ev, ok := d.Get(EvictionsKey); ok && ev.(*Dict).Len() != 0 {
		panic("evictions survived sanitizing")
	}

	return 1
}
