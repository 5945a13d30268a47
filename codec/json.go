package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/jsonc"

	"github.com/pcksafe/pcksafe/pickle"
)

const hex = "0123456789abcdef"

// Marshal writes a document as compact JSON. Dict order is kept, text is
// written as raw UTF-8 and floats always carry a point or an exponent.
func Marshal(doc interface{}) ([]byte, error) {
	return (&writer{}).appendJSON(make([]byte, 0, 256), doc, 0)
}

// MarshalLimit is Marshal failing with ErrTooLarge once the output passes
// maxBytes.
func MarshalLimit(doc interface{}, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("%w: output budget %d", ErrTooLarge, maxBytes)
	}
	return (&writer{max: maxBytes}).appendJSON(make([]byte, 0, 256), doc, 0)
}

type writer struct {
	max int64
}

func (w *writer) appendJSON(b []byte, v interface{}, depth int) ([]byte, error) {
	if depth > 1000 {
		return nil, fmt.Errorf("%w: nesting too deep", ErrUnrepresentable)
	}
	if w.max > 0 && int64(len(b)) > w.max {
		return nil, fmt.Errorf("%w: more than %d bytes of JSON", ErrTooLarge, w.max)
	}

	var err error
	switch v := v.(type) {
	case nil:
		b = append(b, "null"...)
	case bool:
		b = strconv.AppendBool(b, v)
	case int64:
		b = strconv.AppendInt(b, v, 10)
	case int:
		b = strconv.AppendInt(b, int64(v), 10)
	case *big.Int:
		b = v.Append(b, 10)
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: float %v", ErrUnrepresentable, v)
		}
		b = append(b, FormatFloat(v)...)
	case string:
		if b, err = appendString(b, v); err != nil {
			return nil, err
		}
	case []interface{}:
		b = append(b, '[')
		for i, e := range v {
			if i > 0 {
				b = append(b, ',')
			}
			if b, err = w.appendJSON(b, e, depth+1); err != nil {
				return nil, err
			}
		}
		b = append(b, ']')
	case *pickle.Dict:
		b = append(b, '{')
		for i, it := range v.Items() {
			k, ok := it.Key.(string)
			if !ok {
				return nil, fmt.Errorf("%w: key of type %T", ErrUnrepresentable, it.Key)
			}
			if i > 0 {
				b = append(b, ',')
			}
			if b, err = appendString(b, k); err != nil {
				return nil, err
			}
			b = append(b, ':')
			if b, err = w.appendJSON(b, it.Value, depth+1); err != nil {
				return nil, err
			}
		}
		b = append(b, '}')
	default:
		return nil, fmt.Errorf("%w: %T in document", ErrUnrepresentable, v)
	}
	if w.max > 0 && int64(len(b)) > w.max {
		return nil, fmt.Errorf("%w: more than %d bytes of JSON", ErrTooLarge, w.max)
	}
	return b, nil
}

func appendString(b []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: text is not UTF-8", ErrUnrepresentable)
	}
	b = append(b, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		b = append(b, s[start:i]...)
		switch c {
		case '"', '\\':
			b = append(b, '\\', c)
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		default:
			b = append(b, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
		}
		start = i + 1
	}
	b = append(b, s[start:]...)
	return append(b, '"'), nil
}

// Unmarshal parses JSON or JSONC into a document. Objects become
// *pickle.Dict in source order, integers int64 or *big.Int and all other
// numbers float64.
func Unmarshal(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()

	v, err := readValue(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: data after the document", ErrBadJSON)
	}
	return v, nil
}

func readValue(dec *json.Decoder, depth int) (interface{}, error) {
	if depth > 1000 {
		return nil, fmt.Errorf("%w: nesting too deep", ErrBadJSON)
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}

	switch tok := tok.(type) {
	case json.Delim:
		switch tok {
		case '{':
			d := pickle.NewDict()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
				}
				k, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("%w: object key %v", ErrBadJSON, kt)
				}
				v, err := readValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				if err := d.Set(k, v); err != nil {
					return nil, err
				}
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
			}
			return d, nil

		case '[':
			l := []interface{}{}
			for dec.More() {
				v, err := readValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				l = append(l, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
			}
			return l, nil
		}
		return nil, fmt.Errorf("%w: unexpected %v", ErrBadJSON, tok)

	case json.Number:
		return parseNumber(string(tok))

	case string, bool, nil:
		return tok, nil
	}

	return nil, fmt.Errorf("%w: unexpected token %v", ErrBadJSON, tok)
}

func parseNumber(s string) (interface{}, error) {
	if !strings.ContainsAny(s, ".eE") {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("%w: number %s", ErrBadJSON, s)
		}
		if n.IsInt64() {
			return n.Int64(), nil
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: number %s", ErrBadJSON, s)
	}
	return f, nil
}
