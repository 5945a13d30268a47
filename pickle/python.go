package pickle

import (
	"math/big"
	"unicode/utf8"
)

// types for emulating python data structures

// Tuple represents a python tuple. It is distinct from a list ([]interface{}).
type Tuple []interface{}

// Bytes represents a python byte string whose content is not valid UTF-8.
type Bytes string

// Class is a module-qualified class reference.
type Class struct {
	Module string
	Name   string
}

func (c Class) String() string { return c.Module + "." + c.Name }

// Instance represents an object of an allowed class. Nothing of the class
// itself runs: Args are the constructor arguments found in the stream and
// State is whatever BUILD supplied.
type Instance struct {
	Class Class
	Args  Tuple
	State interface{}
}

// TextOrBytes returns b as a string when it is valid UTF-8, and as Bytes
// otherwise.
func TextOrBytes(b []byte) interface{} {
	if utf8.Valid(b) {
		return string(b)
	}
	return Bytes(b)
}

// normInt collapses a big.Int that fits into int64.
func normInt(n *big.Int) interface{} {
	if n.IsInt64() {
		return n.Int64()
	}
	return n
}
