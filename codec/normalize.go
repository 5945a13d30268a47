package codec

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/pcksafe/pcksafe/pickle"
)

// Latin1 decodes raw bytes into text, one rune per byte.
func Latin1(b string) string {
	s, err := charmap.ISO8859_1.NewDecoder().String(b)
	if err != nil {
		// every byte has a code point in ISO-8859-1
		panic(err)
	}
	return s
}

// FromLatin1 reverses Latin1. Text holding a rune above U+00FF is
// malformed.
func FromLatin1(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: byte string is not UTF-8", ErrMalformedDocument)
	}
	for _, r := range s {
		if r > 0xff {
			return "", fmt.Errorf("%w: byte string holds %U", ErrMalformedDocument, r)
		}
	}
	b, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return b, nil
}

// Key returns the document form of a dict key.
func Key(k interface{}) (string, error) {
	switch k := k.(type) {
	case string:
		if utf8.ValidString(k) {
			return k, nil
		}
		return Latin1(k), nil
	case pickle.Bytes:
		if utf8.ValidString(string(k)) {
			return string(k), nil
		}
		return Latin1(string(k)), nil
	case int64:
		return strconv.FormatInt(k, 10), nil
	case int:
		return strconv.Itoa(k), nil
	case *big.Int:
		return k.String(), nil
	case bool:
		if k {
			return "true", nil
		}
		return "false", nil
	case nil:
		return "null", nil
	case float64:
		if math.IsInf(k, 0) || math.IsNaN(k) {
			return "", fmt.Errorf("%w: non-finite key %v", ErrUnrepresentable, k)
		}
		return FormatFloat(k), nil
	}
	return "", fmt.Errorf("%w: key of type %T", ErrUnrepresentable, k)
}

// IntKey reports whether s is an integer literal in the form python's int()
// accepts: optional surrounding whitespace, an optional sign, decimal
// digits.
func IntKey(s string) (interface{}, bool) {
	lit := strings.TrimSpace(s)
	digits := strings.TrimLeft(lit, "+-")
	if len(lit)-len(digits) > 1 || digits == "" {
		return nil, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return nil, false
		}
	}
	n, ok := new(big.Int).SetString(lit, 10)
	if !ok {
		return nil, false
	}
	if n.IsInt64() {
		return n.Int64(), true
	}
	return n, true
}

// FormatFloat formats f the way python's repr does, so it always reads
// back as a float.
func FormatFloat(f float64) string {
	e := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return e
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
