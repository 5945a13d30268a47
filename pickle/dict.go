package pickle

import (
	"fmt"
	"math"
	"math/big"
)

// Item is one key/value pair of a Dict.
type Item struct {
	Key   interface{}
	Value interface{}
}

// Dict is a python dict that remembers insertion order.
//
// Keys must be hashable: string, Bytes, int64, *big.Int, float64, bool or
// nil. Two big integers with the same value are the same key.
type Dict struct {
	items []Item
	index map[interface{}]int
}

type bigKey string

type noneKey struct{}

// all NaN keys are one key
type nanKey struct{}

// NewDict returns an empty dict.
func NewDict() *Dict {
	return &Dict{index: make(map[interface{}]int)}
}

// DictOf builds a dict from alternating keys and values. It panics on an odd
// argument count or an unhashable key, so it is meant for literals.
func DictOf(kv ...interface{}) *Dict {
	if len(kv)%2 != 0 {
		panic("pickle: DictOf needs an even number of arguments")
	}
	d := NewDict()
	for i := 0; i < len(kv); i += 2 {
		if err := d.Set(kv[i], kv[i+1]); err != nil {
			panic(err)
		}
	}
	return d
}

func hashKey(k interface{}) (interface{}, error) {
	switch k := k.(type) {
	case nil:
		return noneKey{}, nil
	case float64:
		if math.IsNaN(k) {
			return nanKey{}, nil
		}
		return k, nil
	case string, Bytes, int64, bool:
		return k, nil
	case int:
		return int64(k), nil
	case *big.Int:
		if k.IsInt64() {
			return k.Int64(), nil
		}
		return bigKey(k.String()), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnhashable, k)
}

// Len returns the number of items.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.items)
}

// Get returns the value stored under k.
func (d *Dict) Get(k interface{}) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	hk, err := hashKey(k)
	if err != nil {
		return nil, false
	}
	i, ok := d.index[hk]
	if !ok {
		return nil, false
	}
	return d.items[i].Value, true
}

// Set stores v under k. An existing key keeps its position.
func (d *Dict) Set(k, v interface{}) error {
	hk, err := hashKey(k)
	if err != nil {
		return err
	}
	if d.index == nil {
		d.index = make(map[interface{}]int)
	}
	if i, ok := d.index[hk]; ok {
		d.items[i].Value = v
		return nil
	}
	if n, ok := k.(int); ok {
		k = int64(n)
	}
	d.index[hk] = len(d.items)
	d.items = append(d.items, Item{Key: k, Value: v})
	return nil
}

// Delete removes k and reports whether it was present.
func (d *Dict) Delete(k interface{}) bool {
	if d == nil {
		return false
	}
	hk, err := hashKey(k)
	if err != nil {
		return false
	}
	i, ok := d.index[hk]
	if !ok {
		return false
	}
	delete(d.index, hk)
	d.items = append(d.items[:i], d.items[i+1:]...)
	for j := i; j < len(d.items); j++ {
		hk, _ := hashKey(d.items[j].Key)
		d.index[hk] = j
	}
	return true
}

// Items returns the pairs in insertion order. The slice is a copy.
func (d *Dict) Items() []Item {
	if d == nil {
		return nil
	}
	out := make([]Item, len(d.items))
	copy(out, d.items)
	return out
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []interface{} {
	if d == nil {
		return nil
	}
	out := make([]interface{}, len(d.items))
	for i, it := range d.items {
		out[i] = it.Key
	}
	return out
}

func (d *Dict) setValueAt(i int, v interface{}) { d.items[i].Value = v }
