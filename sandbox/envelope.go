package sandbox

import (
	"fmt"
	"log/slog"

	"github.com/fxamacker/cbor/v2"

	"github.com/pcksafe/pcksafe/blob"
	"github.com/pcksafe/pcksafe/pickle"
)

// Request is what the executor tells a worker on its stdin.
type Request struct {
	Session   string   `cbor:"session"`
	Root      string   `cbor:"root"`
	UID       int      `cbor:"uid"`
	GID       int      `cbor:"gid"`
	AllowList []string `cbor:"allow_list"`
	Limit     int64    `cbor:"limit"`
	Keys      []string `cbor:"keys,omitempty"`
	LogLevel  string   `cbor:"log_level,omitempty"`
}

// Response is the single message a worker writes to its channel.
type Response struct {
	Document []byte   `cbor:"document,omitempty"`
	Failure  *Failure `cbor:"failure,omitempty"`
}

// Failure describes why a worker produced no document. Only the class
// fingerprint of a refused class reference is carried, never its name.
type Failure struct {
	Kind    string `cbor:"kind"`
	Step    string `cbor:"step,omitempty"`
	Ref     string `cbor:"ref,omitempty"`
	Message string `cbor:"message,omitempty"`
}

// failure kinds
const (
	kindSetup      = "setup"
	kindDisallowed = "disallowed_class"
	kindTooLarge   = "too_large"
	kindDecode     = "decode"
	kindMissingKey = "missing_key"
	kindEncode     = "encode"
	kindRequest    = "request"
)

// maxRequest bounds the request a worker reads from stdin
const maxRequest = 1 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sandbox: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 16,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("sandbox: CBOR decoder initialization failed: " + err.Error())
	}
}

func (r *Request) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(r.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// err turns a worker response into the error the caller sees.
func (r *Response) err() error {
	f := r.Failure
	if f == nil {
		if len(r.Document) == 0 {
			return ErrEmptyResult
		}
		return nil
	}

	switch f.Kind {
	case kindSetup:
		return &SetupError{Step: f.Step, Err: f.Message}
	case kindDisallowed:
		if f.Ref == "" {
			return fmt.Errorf("%w: refused class without fingerprint", ErrBadResponse)
		}
		return &pickle.DisallowedClassError{Ref: f.Ref}
	case kindTooLarge:
		return fmt.Errorf("%w: %s", blob.ErrTooLarge, f.Message)
	}
	return &WorkerError{Kind: f.Kind, Message: f.Message}
}
