package pickle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"runtime"
	"strings"
	"unicode/utf8"
)

// Encoder writes object graphs as protocol 2 pickles, the format Mailman 2
// itself uses for list configurations.
type Encoder struct{}

type encodeState struct {
	active map[interface{}]bool
	depth  int

	// containers reached more than once are written once and memoized
	refs map[interface{}]int
	memo map[interface{}]uint32
}

// Marshal returns the pickle encoding of v.
//
// ASCII text is written as a python 2 str and any other text as unicode, so
// python 2 readers see the types they started with. Dicts keep their order.
func (e *Encoder) Marshal(v interface{}) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}

			if s, ok := r.(string); ok {
				err = errors.New(s)
			} else {
				err = r.(error)
			}
		}
	}()

	s := &encodeState{
		active: make(map[interface{}]bool),
		refs:   make(map[interface{}]int),
		memo:   make(map[interface{}]uint32),
	}
	s.count(v, 0)

	b = make([]byte, 0, 64)
	b = append(b, opPROTO, writeProtocol)
	b = s.encode(b, v)
	b = append(b, opSTOP)

	return b, nil
}

func (s *encodeState) encode(b []byte, v interface{}) []byte {
	if s.depth > maxDepth {
		panic(fmt.Errorf("%w: nesting too deep", ErrUnencodable))
	}
	s.depth++
	defer func() { s.depth-- }()

	switch v := v.(type) {
	case nil:
		b = append(b, opNONE)
	case bool:
		if v {
			b = append(b, opNEWTRUE)
		} else {
			b = append(b, opNEWFALSE)
		}
	case int:
		b = encodeInt(b, int64(v))
	case int64:
		b = encodeInt(b, v)
	case *big.Int:
		if v.IsInt64() {
			b = encodeInt(b, v.Int64())
		} else {
			b = encodeLong(b, v)
		}
	case float64:
		b = append(b, opBINFLOAT)
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(v))
	case string:
		b = encodeText(b, v)
	case Bytes:
		b = encodeStr(b, string(v))
	case Tuple:
		b = s.shared(b, identity(v), func(b []byte) []byte { return s.encodeTuple(b, v) })
	case []interface{}:
		b = s.shared(b, identity(v), func(b []byte) []byte { return s.encodeList(b, v) })
	case *Dict:
		b = s.shared(b, v, func(b []byte) []byte { return s.encodeDict(b, v) })
	case Class:
		b = encodeGlobal(b, v)
	case *Instance:
		b = s.shared(b, v, func(b []byte) []byte { return s.encodeInstance(b, v) })
	default:
		panic(fmt.Errorf("%w: %T", ErrUnencodable, v))
	}

	return b
}

// identity names a tuple or list by its backing array; empty ones have
// none and are never memoized.
func identity(l []interface{}) interface{} {
	if len(l) == 0 {
		return nil
	}
	return &l[0]
}

// count records how often each container is reached, descending into a
// container only the first time.
func (s *encodeState) count(v interface{}, depth int) {
	if depth > maxDepth {
		return
	}

	var key interface{}
	var children []interface{}
	switch v := v.(type) {
	case Tuple:
		key, children = identity(v), v
	case []interface{}:
		key, children = identity(v), v
	case *Dict:
		key = v
		for _, it := range v.Items() {
			children = append(children, it.Key, it.Value)
		}
	case *Instance:
		key = v
		children = append(append(children, v.Args...), v.State)
	default:
		return
	}
	if key == nil {
		return
	}

	s.refs[key]++
	if s.refs[key] > 1 {
		return
	}
	for _, c := range children {
		s.count(c, depth+1)
	}
}

// shared writes a container through write, or fetches it from the memo if
// it was written before. Containers reached more than once are memoized.
func (s *encodeState) shared(b []byte, key interface{}, write func([]byte) []byte) []byte {
	if key == nil {
		return write(b)
	}
	if n, ok := s.memo[key]; ok {
		if n <= math.MaxUint8 {
			return append(b, opBINGET, byte(n))
		}
		b = append(b, opLONG_BINGET)
		return binary.LittleEndian.AppendUint32(b, n)
	}

	b = write(b)
	if s.refs[key] < 2 {
		return b
	}
	n := uint32(len(s.memo))
	s.memo[key] = n
	if n <= math.MaxUint8 {
		return append(b, opBINPUT, byte(n))
	}
	b = append(b, opLONG_BINPUT)
	return binary.LittleEndian.AppendUint32(b, n)
}

func encodeInt(b []byte, n int64) []byte {
	switch {
	case n >= 0 && n <= math.MaxUint8:
		b = append(b, opBININT1, byte(n))
	case n >= 0 && n <= math.MaxUint16:
		b = append(b, opBININT2)
		b = binary.LittleEndian.AppendUint16(b, uint16(n))
	case n >= math.MinInt32 && n <= math.MaxInt32:
		b = append(b, opBININT)
		b = binary.LittleEndian.AppendUint32(b, uint32(int32(n)))
	default:
		b = encodeLong(b, big.NewInt(n))
	}
	return b
}

func encodeLong(b []byte, n *big.Int) []byte {
	p := longBytes(n)
	if len(p) <= math.MaxUint8 {
		b = append(b, opLONG1, byte(len(p)))
	} else {
		b = append(b, opLONG4)
		b = binary.LittleEndian.AppendUint32(b, uint32(len(p)))
	}
	return append(b, p...)
}

// longBytes is the shortest little-endian two's complement form of n.
func longBytes(n *big.Int) []byte {
	if n.Sign() == 0 {
		return nil
	}
	m := n
	if n.Sign() < 0 {
		m = new(big.Int).Neg(n)
		m.Sub(m, big.NewInt(1))
	}
	size := m.BitLen()/8 + 1

	u := new(big.Int).Set(n)
	if n.Sign() < 0 {
		u.Add(u, new(big.Int).Lsh(big.NewInt(1), uint(8*size)))
	}
	p := u.FillBytes(make([]byte, size))
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
	return p
}

func isASCII(str string) bool {
	for i := 0; i < len(str); i++ {
		if str[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func encodeText(b []byte, str string) []byte {
	if isASCII(str) {
		return encodeStr(b, str)
	}
	if !utf8.ValidString(str) {
		panic(fmt.Errorf("%w: invalid UTF-8 in text", ErrUnencodable))
	}
	b = append(b, opBINUNICODE)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(str)))
	return append(b, str...)
}

// encodeStr writes a python 2 str.
func encodeStr(b []byte, str string) []byte {
	if len(str) <= math.MaxUint8 {
		b = append(b, opSHORT_BINSTRING, byte(len(str)))
	} else {
		b = append(b, opBINSTRING)
		b = binary.LittleEndian.AppendUint32(b, uint32(len(str)))
	}
	return append(b, str...)
}

func encodeGlobal(b []byte, c Class) []byte {
	if c.Module == "" || c.Name == "" || strings.ContainsRune(c.Module+c.Name, '\n') {
		panic(fmt.Errorf("%w: class %q", ErrUnencodable, c.String()))
	}
	b = append(b, opGLOBAL)
	b = append(b, c.Module...)
	b = append(b, '\n')
	b = append(b, c.Name...)
	return append(b, '\n')
}

func (s *encodeState) encodeTuple(b []byte, t Tuple) []byte {
	switch len(t) {
	case 0:
		return append(b, opEMPTY_TUPLE)
	case 1, 2, 3:
		for _, e := range t {
			b = s.encode(b, e)
		}
		return append(b, opTUPLE1+byte(len(t)-1))
	}
	b = append(b, opMARK)
	for _, e := range t {
		b = s.encode(b, e)
	}
	return append(b, opTUPLE)
}

func (s *encodeState) enter(v interface{}) {
	if s.active[v] {
		panic(ErrCyclic)
	}
	s.active[v] = true
}

func (s *encodeState) encodeList(b []byte, l []interface{}) []byte {
	if len(l) > 0 {
		// slices are not comparable; the backing array identifies the list
		key := &l[0]
		s.enter(key)
		defer delete(s.active, key)
	}

	b = append(b, opEMPTY_LIST)
	for start := 0; start < len(l); start += batchSize {
		batch := l[start:min(start+batchSize, len(l))]
		if len(batch) == 1 {
			b = s.encode(b, batch[0])
			b = append(b, opAPPEND)
			continue
		}
		b = append(b, opMARK)
		for _, e := range batch {
			b = s.encode(b, e)
		}
		b = append(b, opAPPENDS)
	}
	return b
}

func (s *encodeState) encodeDict(b []byte, d *Dict) []byte {
	s.enter(d)
	defer delete(s.active, d)

	items := d.Items()
	b = append(b, opEMPTY_DICT)
	for start := 0; start < len(items); start += batchSize {
		batch := items[start:min(start+batchSize, len(items))]
		if len(batch) == 1 {
			b = s.encode(b, batch[0].Key)
			b = s.encode(b, batch[0].Value)
			b = append(b, opSETITEM)
			continue
		}
		b = append(b, opMARK)
		for _, it := range batch {
			b = s.encode(b, it.Key)
			b = s.encode(b, it.Value)
		}
		b = append(b, opSETITEMS)
	}
	return b
}

func (s *encodeState) encodeInstance(b []byte, inst *Instance) []byte {
	s.enter(inst)
	defer delete(s.active, inst)

	b = append(b, opMARK)
	b = encodeGlobal(b, inst.Class)
	for _, a := range inst.Args {
		b = s.encode(b, a)
	}
	b = append(b, opOBJ)
	if inst.State != nil {
		b = s.encode(b, inst.State)
		b = append(b, opBUILD)
	}
	return b
}
