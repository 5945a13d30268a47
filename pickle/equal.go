package pickle

import (
	"math"
	"math/big"
)

// Equal reports whether two object graphs are the same. Dict order is not
// significant; tuples never equal lists and Bytes never equals a string.
// Each pair of shared containers is compared once.
func Equal(a, b interface{}) bool {
	return (&comparer{seen: make(map[[2]interface{}]bool)}).equal(a, b)
}

type comparer struct {
	// container pairs already found equal, or being compared
	seen map[[2]interface{}]bool
}

// visit reports whether the pair needs comparing and marks it.
func (c *comparer) visit(a, b interface{}) bool {
	if a == nil || b == nil {
		return true
	}
	pair := [2]interface{}{a, b}
	if c.seen[pair] {
		return false
	}
	c.seen[pair] = true
	return true
}

func (c *comparer) equal(a, b interface{}) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case bool, string, Bytes, Class:
		return a == b
	case int:
		return c.equal(int64(a), b)
	case int64:
		switch b := b.(type) {
		case int64:
			return a == b
		case int:
			return a == int64(b)
		case *big.Int:
			return b.IsInt64() && b.Int64() == a
		}
		return false
	case *big.Int:
		switch b := b.(type) {
		case *big.Int:
			return a.Cmp(b) == 0
		case int64, int:
			return c.equal(b, a)
		}
		return false
	case float64:
		bf, ok := b.(float64)
		if !ok {
			return false
		}
		return a == bf || (math.IsNaN(a) && math.IsNaN(bf))
	case []interface{}:
		bl, ok := b.([]interface{})
		return ok && c.equalSlices(a, bl)
	case Tuple:
		bt, ok := b.(Tuple)
		return ok && c.equalSlices(a, bt)
	case *Dict:
		bd, ok := b.(*Dict)
		if !ok || a.Len() != bd.Len() {
			return false
		}
		if !c.visit(a, bd) {
			return true
		}
		for _, it := range a.Items() {
			bv, ok := bd.Get(it.Key)
			if !ok || !c.equal(it.Value, bv) {
				return false
			}
		}
		return true
	case *Instance:
		bi, ok := b.(*Instance)
		if !ok || a.Class != bi.Class {
			return false
		}
		if !c.visit(a, bi) {
			return true
		}
		return c.equal(a.Args, bi.Args) && c.equal(a.State, bi.State)
	}
	return false
}

func (c *comparer) equalSlices(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	if !c.visit(&a[0], &b[0]) {
		return true
	}
	for i := range a {
		if !c.equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
