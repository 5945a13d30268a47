package pickle

import (
	"errors"
	"fmt"

	"github.com/dchest/siphash"
)

// Errors
var (
	ErrTruncated         = errors.New("pickle: truncated stream")
	ErrNoStop            = errors.New("pickle: stream ended without STOP")
	ErrUnsupportedOpcode = errors.New("pickle: unsupported opcode")
	ErrDisallowedClass   = errors.New("pickle: disallowed class reference")
	ErrUnhashable        = errors.New("pickle: unhashable dict key")
	ErrCyclic            = errors.New("pickle: cyclic object graph")
	ErrMissingKey        = errors.New("pickle: requested key not present")
	ErrNotDict           = errors.New("pickle: top-level value is not a dict")
	ErrUnencodable       = errors.New("pickle: value cannot be pickled")
)

// ErrCorrupt is returned if the pickle stream was corrupt
type ErrCorrupt struct {
	Err    string
	Offset int
}

// internal constants used for corrupt
var (
	errStackUnderflow = "stack underflow"
	errNoMark         = "no MARK on the stack"
	errBadMemo        = "memo key not found"
	errBadInt         = "bad integer literal"
	errBadFloat       = "bad float literal"
	errBadString      = "bad string literal"
	errBadUnicode     = "bad unicode literal"
	errBadGlobal      = "bad global reference"
	errBadLength      = "bad length"
	errNotCallable    = "REDUCE/NEWOBJ target is not a class"
	errNotTuple       = "arguments are not a tuple"
	errNotList        = "APPEND target is not a list"
	errNotDict        = "SETITEM target is not a dict"
	errBadBuild       = "BUILD target is not an instance"
	errBadProtocol    = "unsupported protocol version"
	errOddItems       = "odd number of items for SETITEMS"
)

func (c ErrCorrupt) Error() string {
	return fmt.Sprintf("pickle: corrupt stream at offset %d: %s", c.Offset, c.Err)
}

// fingerprint key; fixed so operator logs and caller errors correlate across runs
const (
	refKey0 = 0x7063_6b73_6166_6501
	refKey1 = 0x636c_6173_7372_6566
)

// DisallowedClassError reports a class reference refused by the Policy.
//
// Module and Name are meant for the operator log of the process that ran the
// decoder. Ref is a keyed fingerprint of the reference; it is the only part
// that Error includes, so it is safe to hand to less trusted callers.
type DisallowedClassError struct {
	Module string
	Name   string
	Ref    string
}

func newDisallowedClassError(module, name string) *DisallowedClassError {
	return &DisallowedClassError{
		Module: module,
		Name:   name,
		Ref:    ClassRef(module, name),
	}
}

func (e *DisallowedClassError) Error() string {
	return "pickle: disallowed class reference " + e.Ref
}

func (e *DisallowedClassError) Is(target error) bool { return target == ErrDisallowedClass }

// ClassRef returns the fingerprint used in DisallowedClassError.Ref.
func ClassRef(module, name string) string {
	h := siphash.Hash(refKey0, refKey1, []byte(module+"\x00"+name))
	return fmt.Sprintf("%016x", h)
}
