package sandbox

import (
	"errors"

	"github.com/pcksafe/pcksafe/codec"
	"github.com/pcksafe/pcksafe/pickle"
)

// Errors
var (
	ErrSetupFailed  = errors.New("sandbox: setup failed")
	ErrEmptyResult  = errors.New("sandbox: worker produced no document")
	ErrDecodeFailed = errors.New("sandbox: pickle could not be decoded")
	ErrBadResponse  = errors.New("sandbox: malformed worker response")
)

// SetupError reports the confinement step that failed. The worker never
// decodes after one.
type SetupError struct {
	Step string
	Err  string
}

func (e *SetupError) Error() string {
	return "sandbox: setup failed at " + e.Step + ": " + e.Err
}

func (e *SetupError) Is(target error) bool { return target == ErrSetupFailed }

// WorkerError is a failure the worker reported after confinement that has
// no more specific error of its own.
type WorkerError struct {
	Kind    string
	Message string
}

func (e *WorkerError) Error() string {
	return "sandbox: worker " + e.Kind + ": " + e.Message
}

func (e *WorkerError) Unwrap() error {
	switch e.Kind {
	case kindDecode:
		return ErrDecodeFailed
	case kindMissingKey:
		return pickle.ErrMissingKey
	case kindEncode:
		return codec.ErrUnrepresentable
	}
	return nil
}
