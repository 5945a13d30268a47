package pickle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxDepth bounds container nesting in a decoded graph
const maxDepth = 1000

// Decoder turns pickle streams into object graphs, resolving only the class
// references its Policy allows.
type Decoder struct {
	Policy *Policy
}

// NewDecoder returns a decoder restricted to p. A nil policy refuses every
// class reference.
func NewDecoder(p *Policy) *Decoder {
	return &Decoder{Policy: p}
}

// list is the mutable form of a python list while the stream is running;
// the memo may hold it while later opcodes still append to it.
type list struct {
	items []interface{}
}

type decodeState struct {
	policy *Policy
	b      []byte
	idx    int
	op     int // offset of the opcode being run
	stack  []interface{}
	marks  []int
	memo   map[int]interface{}
}

// Decode reads r to the end and unmarshals it.
func (d *Decoder) Decode(r io.Reader) (interface{}, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return d.Unmarshal(b)
}

// Unmarshal parses the pickle in b and returns the decoded object graph.
// Trailing bytes after STOP are ignored, as python's loader does.
func (d *Decoder) Unmarshal(b []byte) (interface{}, error) {
	s := &decodeState{
		policy: d.Policy,
		b:      b,
		memo:   make(map[int]interface{}),
	}

	v, err := s.run()
	if err != nil {
		return nil, err
	}

	f := freezer{
		active: make(map[interface{}]bool),
		done:   make(map[interface{}]interface{}),
	}
	return f.freeze(v, 0)
}

func (s *decodeState) corrupt(msg string) error {
	return ErrCorrupt{Err: msg, Offset: s.op}
}

func (s *decodeState) run() (interface{}, error) {
	for s.idx < len(s.b) {
		s.op = s.idx
		op := s.b[s.idx]
		s.idx++

		var err error

		switch op {
		case opPROTO:
			var p []byte
			if p, err = s.read(1); err == nil && p[0] > highestProtocol {
				err = s.corrupt(errBadProtocol)
			}

		case opFRAME:
			// frames only group opcodes for buffered readers
			_, err = s.read(8)

		case opSTOP:
			v, err := s.pop()
			if err != nil {
				return nil, err
			}
			return v, nil

		case opMARK:
			s.marks = append(s.marks, len(s.stack))

		case opPOP:
			if n := len(s.marks); n > 0 && s.marks[n-1] == len(s.stack) {
				s.marks = s.marks[:n-1]
			} else {
				_, err = s.pop()
			}

		case opPOP_MARK:
			_, err = s.popMark()

		case opDUP:
			var v interface{}
			if v, err = s.top(); err == nil {
				s.push(v)
			}

		case opNONE:
			s.push(nil)

		case opNEWTRUE:
			s.push(true)

		case opNEWFALSE:
			s.push(false)

		case opINT:
			err = s.loadInt()

		case opBININT:
			var p []byte
			if p, err = s.read(4); err == nil {
				s.push(int64(int32(binary.LittleEndian.Uint32(p))))
			}

		case opBININT1:
			var p []byte
			if p, err = s.read(1); err == nil {
				s.push(int64(p[0]))
			}

		case opBININT2:
			var p []byte
			if p, err = s.read(2); err == nil {
				s.push(int64(binary.LittleEndian.Uint16(p)))
			}

		case opLONG:
			var line []byte
			if line, err = s.readLine(); err == nil {
				lit := strings.TrimSuffix(strings.TrimSpace(string(line)), "L")
				n, ok := new(big.Int).SetString(lit, 10)
				if !ok {
					err = s.corrupt(errBadInt)
					break
				}
				s.push(normInt(n))
			}

		case opLONG1, opLONG4:
			err = s.loadBinLong(op)

		case opFLOAT:
			var line []byte
			if line, err = s.readLine(); err == nil {
				f, perr := strconv.ParseFloat(strings.TrimSpace(string(line)), 64)
				if perr != nil {
					err = s.corrupt(errBadFloat)
					break
				}
				s.push(f)
			}

		case opBINFLOAT:
			var p []byte
			if p, err = s.read(8); err == nil {
				s.push(math.Float64frombits(binary.BigEndian.Uint64(p)))
			}

		case opSTRING:
			var line, str []byte
			if line, err = s.readLine(); err == nil {
				if str, err = unquoteString(line); err != nil {
					err = s.corrupt(errBadString)
					break
				}
				s.push(TextOrBytes(str))
			}

		case opUNICODE:
			var line []byte
			if line, err = s.readLine(); err == nil {
				var str string
				if str, err = decodeRawUnicodeEscape(line); err != nil {
					err = s.corrupt(errBadUnicode)
					break
				}
				s.push(str)
			}

		case opBINSTRING, opSHORT_BINSTRING, opBINUNICODE, opSHORT_BINUNICODE,
			opBINUNICODE8, opBINBYTES, opSHORT_BINBYTES, opBINBYTES8:
			var p []byte
			if p, err = s.readCounted(op); err == nil {
				s.push(TextOrBytes(p))
			}

		case opEMPTY_LIST:
			s.push(&list{})

		case opLIST:
			var items []interface{}
			if items, err = s.popMark(); err == nil {
				s.push(&list{items: items})
			}

		case opAPPEND:
			var v, t interface{}
			if v, err = s.pop(); err != nil {
				break
			}
			if t, err = s.top(); err != nil {
				break
			}
			l, ok := t.(*list)
			if !ok {
				err = s.corrupt(errNotList)
				break
			}
			l.items = append(l.items, v)

		case opAPPENDS:
			var items []interface{}
			var t interface{}
			if items, err = s.popMark(); err != nil {
				break
			}
			if t, err = s.top(); err != nil {
				break
			}
			l, ok := t.(*list)
			if !ok {
				err = s.corrupt(errNotList)
				break
			}
			l.items = append(l.items, items...)

		case opEMPTY_TUPLE:
			s.push(Tuple{})

		case opTUPLE:
			var items []interface{}
			if items, err = s.popMark(); err == nil {
				s.push(Tuple(items))
			}

		case opTUPLE1, opTUPLE2, opTUPLE3:
			n := int(op-opTUPLE1) + 1
			if err = s.need(n); err == nil {
				t := make(Tuple, n)
				copy(t, s.stack[len(s.stack)-n:])
				s.stack = s.stack[:len(s.stack)-n]
				s.push(t)
			}

		case opEMPTY_DICT:
			s.push(NewDict())

		case opDICT:
			var items []interface{}
			if items, err = s.popMark(); err != nil {
				break
			}
			d := NewDict()
			if err = s.setItems(d, items); err == nil {
				s.push(d)
			}

		case opSETITEM:
			var k, v, t interface{}
			if v, err = s.pop(); err != nil {
				break
			}
			if k, err = s.pop(); err != nil {
				break
			}
			if t, err = s.top(); err != nil {
				break
			}
			d, ok := t.(*Dict)
			if !ok {
				err = s.corrupt(errNotDict)
				break
			}
			err = d.Set(k, v)

		case opSETITEMS:
			var items []interface{}
			var t interface{}
			if items, err = s.popMark(); err != nil {
				break
			}
			if t, err = s.top(); err != nil {
				break
			}
			d, ok := t.(*Dict)
			if !ok {
				err = s.corrupt(errNotDict)
				break
			}
			err = s.setItems(d, items)

		case opPUT:
			var line []byte
			if line, err = s.readLine(); err == nil {
				var i int
				if i, err = strconv.Atoi(strings.TrimSpace(string(line))); err != nil {
					err = s.corrupt(errBadInt)
					break
				}
				err = s.put(i)
			}

		case opBINPUT:
			var p []byte
			if p, err = s.read(1); err == nil {
				err = s.put(int(p[0]))
			}

		case opLONG_BINPUT:
			var p []byte
			if p, err = s.read(4); err == nil {
				err = s.put(int(binary.LittleEndian.Uint32(p)))
			}

		case opMEMOIZE:
			err = s.put(len(s.memo))

		case opGET:
			var line []byte
			if line, err = s.readLine(); err == nil {
				var i int
				if i, err = strconv.Atoi(strings.TrimSpace(string(line))); err != nil {
					err = s.corrupt(errBadInt)
					break
				}
				err = s.get(i)
			}

		case opBINGET:
			var p []byte
			if p, err = s.read(1); err == nil {
				err = s.get(int(p[0]))
			}

		case opLONG_BINGET:
			var p []byte
			if p, err = s.read(4); err == nil {
				err = s.get(int(binary.LittleEndian.Uint32(p)))
			}

		case opGLOBAL:
			var c Class
			if c, err = s.readGlobal(); err == nil {
				s.push(c)
			}

		case opSTACK_GLOBAL:
			var mod, name interface{}
			if name, err = s.pop(); err != nil {
				break
			}
			if mod, err = s.pop(); err != nil {
				break
			}
			m, mok := mod.(string)
			n, nok := name.(string)
			if !mok || !nok {
				err = s.corrupt(errBadGlobal)
				break
			}
			if !s.policy.Allows(m, n) {
				return nil, newDisallowedClassError(m, n)
			}
			s.push(Class{Module: m, Name: n})

		case opINST:
			var c Class
			var args []interface{}
			if c, err = s.readGlobal(); err != nil {
				break
			}
			if args, err = s.popMark(); err == nil {
				s.push(&Instance{Class: c, Args: Tuple(args)})
			}

		case opOBJ:
			var items []interface{}
			if items, err = s.popMark(); err != nil {
				break
			}
			if len(items) == 0 {
				err = s.corrupt(errStackUnderflow)
				break
			}
			c, ok := items[0].(Class)
			if !ok {
				err = s.corrupt(errNotCallable)
				break
			}
			s.push(&Instance{Class: c, Args: Tuple(items[1:])})

		case opREDUCE, opNEWOBJ:
			var callable, args interface{}
			if args, err = s.pop(); err != nil {
				break
			}
			if callable, err = s.pop(); err != nil {
				break
			}
			err = s.construct(callable, args, nil)

		case opNEWOBJ_EX:
			var callable, args, kwargs interface{}
			if kwargs, err = s.pop(); err != nil {
				break
			}
			if args, err = s.pop(); err != nil {
				break
			}
			if callable, err = s.pop(); err != nil {
				break
			}
			kw, ok := kwargs.(*Dict)
			if !ok {
				err = s.corrupt(errNotDict)
				break
			}
			err = s.construct(callable, args, kw)

		case opBUILD:
			var state, t interface{}
			if state, err = s.pop(); err != nil {
				break
			}
			if t, err = s.top(); err != nil {
				break
			}
			inst, ok := t.(*Instance)
			if !ok {
				err = s.corrupt(errBadBuild)
				break
			}
			inst.State = state

		case opEXT1, opEXT2, opEXT4:
			// the extension registry maps codes to classes we cannot see
			n := map[byte]int{opEXT1: 1, opEXT2: 2, opEXT4: 4}[op]
			var p []byte
			if p, err = s.read(n); err != nil {
				break
			}
			code := 0
			for i := n - 1; i >= 0; i-- {
				code = code<<8 | int(p[i])
			}
			return nil, newDisallowedClassError("copyreg.extension", strconv.Itoa(code))

		case opPERSID, opBINPERSID, opEMPTY_SET, opADDITEMS, opFROZENSET,
			opBYTEARRAY8, opNEXT_BUFFER, opREADONLY_BUFFER:
			return nil, fmt.Errorf("%w 0x%02x at offset %d", ErrUnsupportedOpcode, op, s.op)

		default:
			return nil, fmt.Errorf("%w 0x%02x at offset %d", ErrUnsupportedOpcode, op, s.op)
		}

		if err != nil {
			return nil, err
		}
	}

	return nil, ErrNoStop
}

func (s *decodeState) push(v interface{}) {
	s.stack = append(s.stack, v)
}

// need checks that n values sit above the innermost mark.
func (s *decodeState) need(n int) error {
	floor := 0
	if len(s.marks) > 0 {
		floor = s.marks[len(s.marks)-1]
	}
	if len(s.stack)-floor < n {
		return s.corrupt(errStackUnderflow)
	}
	return nil
}

func (s *decodeState) pop() (interface{}, error) {
	if err := s.need(1); err != nil {
		return nil, err
	}
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v, nil
}

func (s *decodeState) top() (interface{}, error) {
	if err := s.need(1); err != nil {
		return nil, err
	}
	return s.stack[len(s.stack)-1], nil
}

func (s *decodeState) popMark() ([]interface{}, error) {
	if len(s.marks) == 0 {
		return nil, s.corrupt(errNoMark)
	}
	m := s.marks[len(s.marks)-1]
	s.marks = s.marks[:len(s.marks)-1]
	items := append([]interface{}(nil), s.stack[m:]...)
	s.stack = s.stack[:m]
	return items, nil
}

func (s *decodeState) put(i int) error {
	v, err := s.top()
	if err != nil {
		return err
	}
	s.memo[i] = v
	return nil
}

func (s *decodeState) get(i int) error {
	v, ok := s.memo[i]
	if !ok {
		return s.corrupt(errBadMemo)
	}
	s.push(v)
	return nil
}

func (s *decodeState) setItems(d *Dict, items []interface{}) error {
	if len(items)%2 != 0 {
		return s.corrupt(errOddItems)
	}
	for i := 0; i < len(items); i += 2 {
		if err := d.Set(items[i], items[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (s *decodeState) construct(callable, args interface{}, kwargs *Dict) error {
	c, ok := callable.(Class)
	if !ok {
		return s.corrupt(errNotCallable)
	}
	t, ok := args.(Tuple)
	if !ok {
		return s.corrupt(errNotTuple)
	}
	inst := &Instance{Class: c, Args: t}
	if kwargs.Len() > 0 {
		inst.State = kwargs
	}
	s.push(inst)
	return nil
}

func (s *decodeState) read(n int) ([]byte, error) {
	if n < 0 || n > len(s.b)-s.idx {
		return nil, ErrTruncated
	}
	p := s.b[s.idx : s.idx+n]
	s.idx += n
	return p, nil
}

func (s *decodeState) readLine() ([]byte, error) {
	i := bytes.IndexByte(s.b[s.idx:], '\n')
	if i < 0 {
		return nil, ErrTruncated
	}
	line := s.b[s.idx : s.idx+i]
	s.idx += i + 1
	return line, nil
}

func (s *decodeState) readCounted(op byte) ([]byte, error) {
	var width int
	switch op {
	case opSHORT_BINSTRING, opSHORT_BINUNICODE, opSHORT_BINBYTES:
		width = 1
	case opBINSTRING, opBINUNICODE, opBINBYTES:
		width = 4
	default:
		width = 8
	}

	p, err := s.read(width)
	if err != nil {
		return nil, err
	}

	var n uint64
	switch width {
	case 1:
		n = uint64(p[0])
	case 4:
		if op == opBINSTRING && int32(binary.LittleEndian.Uint32(p)) < 0 {
			return nil, s.corrupt(errBadLength)
		}
		n = uint64(binary.LittleEndian.Uint32(p))
	default:
		n = binary.LittleEndian.Uint64(p)
	}

	if n > uint64(len(s.b)-s.idx) {
		return nil, ErrTruncated
	}
	return s.read(int(n))
}

func (s *decodeState) loadInt() error {
	line, err := s.readLine()
	if err != nil {
		return err
	}
	lit := strings.TrimSpace(string(line))
	switch lit {
	case "00":
		s.push(false)
		return nil
	case "01":
		s.push(true)
		return nil
	}
	n, ok := new(big.Int).SetString(lit, 10)
	if !ok {
		return s.corrupt(errBadInt)
	}
	s.push(normInt(n))
	return nil
}

func (s *decodeState) loadBinLong(op byte) error {
	var n int
	if op == opLONG1 {
		p, err := s.read(1)
		if err != nil {
			return err
		}
		n = int(p[0])
	} else {
		p, err := s.read(4)
		if err != nil {
			return err
		}
		l := int32(binary.LittleEndian.Uint32(p))
		if l < 0 {
			return s.corrupt(errBadLength)
		}
		n = int(l)
	}
	p, err := s.read(n)
	if err != nil {
		return err
	}
	s.push(normInt(decodeLong(p)))
	return nil
}

// readGlobal reads the "module\nname\n" operand of GLOBAL and INST and
// checks it against the policy before anything is built from it.
func (s *decodeState) readGlobal() (Class, error) {
	mod, err := s.readLine()
	if err != nil {
		return Class{}, err
	}
	name, err := s.readLine()
	if err != nil {
		return Class{}, err
	}
	if len(mod) == 0 || len(name) == 0 || !utf8.Valid(mod) || !utf8.Valid(name) {
		return Class{}, s.corrupt(errBadGlobal)
	}
	m, n := string(mod), string(name)
	if !s.policy.Allows(m, n) {
		return Class{}, newDisallowedClassError(m, n)
	}
	return Class{Module: m, Name: n}, nil
}

// decodeLong decodes a little-endian two's complement integer.
func decodeLong(p []byte) *big.Int {
	n := new(big.Int)
	if len(p) == 0 {
		return n
	}
	be := make([]byte, len(p))
	for i, c := range p {
		be[len(p)-1-i] = c
	}
	n.SetBytes(be)
	if p[len(p)-1]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(8*len(p))))
	}
	return n
}

// unquoteString undoes python 2's repr() of a str, as written by STRING.
func unquoteString(line []byte) ([]byte, error) {
	if len(line) < 2 {
		return nil, fmt.Errorf("short literal")
	}
	q := line[0]
	if (q != '\'' && q != '"') || line[len(line)-1] != q {
		return nil, fmt.Errorf("unquoted literal")
	}
	body := line[1 : len(line)-1]
	out := make([]byte, 0, len(body))

	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(body) {
			return nil, fmt.Errorf("trailing backslash")
		}
		switch e := body[i]; e {
		case '\\', '\'', '"':
			out = append(out, e)
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'a':
			out = append(out, '\a')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'v':
			out = append(out, '\v')
		case '\n':
			// line continuation
		case 'x':
			if i+2 >= len(body) {
				return nil, fmt.Errorf("short \\x escape")
			}
			v, err := strconv.ParseUint(string(body[i+1:i+3]), 16, 8)
			if err != nil {
				return nil, err
			}
			out = append(out, byte(v))
			i += 2
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(body) && j < i+3 && body[j] >= '0' && body[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(string(body[i:j]), 8, 16)
			out = append(out, byte(v))
			i = j - 1
		default:
			out = append(out, '\\', e)
		}
	}
	return out, nil
}

// decodeRawUnicodeEscape decodes python's raw-unicode-escape codec, used by
// the UNICODE opcode: \uXXXX and \UXXXXXXXX escapes, every other byte is a
// latin-1 code point.
func decodeRawUnicodeEscape(p []byte) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c != '\\' {
			sb.WriteRune(rune(c))
			continue
		}
		// only an odd run of backslashes starts an escape
		j := i
		for j < len(p) && p[j] == '\\' {
			j++
		}
		run := j - i
		if run%2 == 0 || j >= len(p) || (p[j] != 'u' && p[j] != 'U') {
			sb.WriteString(strings.Repeat("\\", run))
			i = j - 1
			continue
		}
		sb.WriteString(strings.Repeat("\\", run-1))
		width := 4
		if p[j] == 'U' {
			width = 8
		}
		if j+1+width > len(p) {
			return "", fmt.Errorf("short \\%c escape", p[j])
		}
		v, err := strconv.ParseUint(string(p[j+1:j+1+width]), 16, 32)
		if err != nil || v > utf8.MaxRune {
			return "", fmt.Errorf("bad \\%c escape", p[j])
		}
		sb.WriteRune(rune(v))
		i = j + width
	}
	return sb.String(), nil
}

// freezer turns the mutable decode-time containers into the final variant
// set, rejecting cycles.
type freezer struct {
	active map[interface{}]bool
	done   map[interface{}]interface{}
}

func (f *freezer) freeze(v interface{}, depth int) (interface{}, error) {
	if depth > maxDepth {
		return nil, ErrCorrupt{Err: "nesting too deep"}
	}

	switch v := v.(type) {
	case *list:
		if out, ok := f.done[v]; ok {
			return out, nil
		}
		if f.active[v] {
			return nil, ErrCyclic
		}
		f.active[v] = true
		out := make([]interface{}, len(v.items))
		for i, e := range v.items {
			fe, err := f.freeze(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = fe
		}
		delete(f.active, v)
		f.done[v] = out
		return out, nil

	case Tuple:
		if len(v) == 0 {
			return Tuple{}, nil
		}
		// every tuple owns its backing array, so memo copies share &v[0]
		id := &v[0]
		if out, ok := f.done[id]; ok {
			return out, nil
		}
		out := make(Tuple, len(v))
		for i, e := range v {
			fe, err := f.freeze(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = fe
		}
		f.done[id] = out
		return out, nil

	case *Dict:
		if _, ok := f.done[v]; ok {
			return v, nil
		}
		if f.active[v] {
			return nil, ErrCyclic
		}
		f.active[v] = true
		for i, it := range v.items {
			fv, err := f.freeze(it.Value, depth+1)
			if err != nil {
				return nil, err
			}
			v.setValueAt(i, fv)
		}
		delete(f.active, v)
		f.done[v] = v
		return v, nil

	case *Instance:
		if _, ok := f.done[v]; ok {
			return v, nil
		}
		if f.active[v] {
			return nil, ErrCyclic
		}
		f.active[v] = true
		args, err := f.freeze(v.Args, depth+1)
		if err != nil {
			return nil, err
		}
		v.Args = args.(Tuple)
		if v.State, err = f.freeze(v.State, depth+1); err != nil {
			return nil, err
		}
		delete(f.active, v)
		f.done[v] = v
		return v, nil
	}

	return v, nil
}
