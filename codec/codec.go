package codec

import (
	"fmt"
	"math"
	"math/big"
	"unicode/utf8"

	"github.com/pcksafe/pcksafe/pickle"
)

// tag keys
const (
	TupleKey      = "__tuple__"
	ItemsKey      = "__items__"
	ByteStringKey = "__bytestring__"
	StringKey     = "__string__"
)

// Encode returns the document form of v. Instances, non-finite floats and
// keys that have no text form are ErrUnrepresentable.
func Encode(v interface{}) (interface{}, error) {
	return (&encoder{}).encode(v)
}

// EncodeLimit is Encode visiting at most maxNodes values. Shared parts of
// a graph are visited once per reference, so a small pickle can stand for
// a huge document; past the budget EncodeLimit fails with ErrTooLarge.
func EncodeLimit(v interface{}, maxNodes int64) (interface{}, error) {
	if maxNodes <= 0 {
		return nil, fmt.Errorf("%w: node budget %d", ErrTooLarge, maxNodes)
	}
	return (&encoder{limited: true, left: maxNodes}).encode(v)
}

type encoder struct {
	limited bool
	left    int64
}

func (e *encoder) encode(v interface{}) (interface{}, error) {
	if e.limited {
		if e.left--; e.left < 0 {
			return nil, fmt.Errorf("%w: more values than the node budget", ErrTooLarge)
		}
	}

	switch v := v.(type) {
	case nil, bool, int64, *big.Int:
		return v, nil

	case int:
		return int64(v), nil

	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: float %v", ErrUnrepresentable, v)
		}
		return v, nil

	case string:
		if utf8.ValidString(v) {
			return v, nil
		}
		return byteString(v), nil

	case pickle.Bytes:
		if utf8.ValidString(string(v)) {
			return string(v), nil
		}
		return byteString(string(v)), nil

	case []interface{}:
		return e.encodeSlice(v)

	case pickle.Tuple:
		items, err := e.encodeSlice(v)
		if err != nil {
			return nil, err
		}
		return pickle.DictOf(TupleKey, int64(len(items)), ItemsKey, items), nil

	case *pickle.Dict:
		out := pickle.NewDict()
		for _, it := range v.Items() {
			k, err := Key(it.Key)
			if err != nil {
				return nil, err
			}
			ev, err := e.encode(it.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			if err := out.Set(k, ev); err != nil {
				return nil, err
			}
		}
		return out, nil

	case *pickle.Instance:
		return nil, fmt.Errorf("%w: instance of %s", ErrUnrepresentable, v.Class)
	}

	return nil, fmt.Errorf("%w: %T", ErrUnrepresentable, v)
}

func byteString(b string) *pickle.Dict {
	return pickle.DictOf(ByteStringKey, true, StringKey, Latin1(b))
}

func (e *encoder) encodeSlice(l []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(l))
	for i, el := range l {
		ev, err := e.encode(el)
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

// Decode reverses Encode. A tag whose parts disagree, such as a tuple count
// that does not match its items, is ErrMalformedDocument.
func Decode(doc interface{}) (interface{}, error) {
	switch v := doc.(type) {
	case nil, bool, int64, *big.Int, float64, string:
		return v, nil

	case int:
		return int64(v), nil

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			dv, err := Decode(e)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil

	case *pickle.Dict:
		if t, ok, err := decodeTuple(v); ok || err != nil {
			return t, err
		}
		if b, ok, err := decodeByteString(v); ok || err != nil {
			return b, err
		}
		return decodeDict(v)
	}

	return nil, fmt.Errorf("%w: %T is not a document value", ErrMalformedDocument, doc)
}

func decodeTuple(d *pickle.Dict) (interface{}, bool, error) {
	if d.Len() != 2 {
		return nil, false, nil
	}
	n, ok := d.Get(TupleKey)
	if !ok {
		return nil, false, nil
	}
	iv, ok := d.Get(ItemsKey)
	if !ok {
		return nil, false, nil
	}
	items, ok := iv.([]interface{})
	if !ok {
		return nil, false, nil
	}

	var count int64
	switch n := n.(type) {
	case int64:
		count = n
	case int:
		count = int64(n)
	case *big.Int:
		count = -1
	case float64:
		// JSON writers that only know doubles emit 2.0
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, false, nil
		}
		count = int64(n)
		if float64(count) != n {
			count = -1
		}
	default:
		return nil, false, nil
	}
	if count != int64(len(items)) {
		return nil, true, fmt.Errorf("%w: tuple of %d items tagged with count %v", ErrMalformedDocument, len(items), n)
	}

	t := make(pickle.Tuple, len(items))
	for i, e := range items {
		dv, err := Decode(e)
		if err != nil {
			return nil, true, err
		}
		t[i] = dv
	}
	return t, true, nil
}

func decodeByteString(d *pickle.Dict) (interface{}, bool, error) {
	if d.Len() != 2 {
		return nil, false, nil
	}
	flag, ok := d.Get(ByteStringKey)
	if !ok || flag != true {
		return nil, false, nil
	}
	sv, ok := d.Get(StringKey)
	if !ok {
		return nil, false, nil
	}
	s, ok := sv.(string)
	if !ok {
		return nil, false, nil
	}
	b, err := FromLatin1(s)
	if err != nil {
		return nil, true, err
	}
	return pickle.Bytes(b), true, nil
}

func decodeDict(d *pickle.Dict) (*pickle.Dict, error) {
	out := pickle.NewDict()
	for _, it := range d.Items() {
		k, ok := it.Key.(string)
		if !ok {
			return nil, fmt.Errorf("%w: key of type %T", ErrMalformedDocument, it.Key)
		}
		var key interface{} = k
		if n, ok := IntKey(k); ok {
			key = n
		}
		dv, err := Decode(it.Value)
		if err != nil {
			return nil, err
		}
		if err := out.Set(key, dv); err != nil {
			return nil, err
		}
	}
	return out, nil
}
