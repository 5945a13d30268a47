package pcksafe

import (
	"github.com/pcksafe/pcksafe/blob"
	"github.com/pcksafe/pcksafe/codec"
	"github.com/pcksafe/pcksafe/pickle"
	"github.com/pcksafe/pcksafe/sandbox"
)

// Errors returned by a Converter. Each matches with errors.Is against the
// error of the package that raises it.
var (
	ErrBlobTooLarge       = blob.ErrTooLarge
	ErrDisallowedClass    = pickle.ErrDisallowedClass
	ErrEmptyDecodeResult  = sandbox.ErrEmptyResult
	ErrSandboxSetupFailed = sandbox.ErrSetupFailed
	ErrMalformedDocument  = codec.ErrMalformedDocument
)
