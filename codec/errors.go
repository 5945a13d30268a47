package codec

import "errors"

// Errors
var (
	ErrMalformedDocument = errors.New("codec: malformed document")
	ErrUnrepresentable   = errors.New("codec: value has no document form")
	ErrBadJSON           = errors.New("codec: bad JSON")
	ErrTooLarge          = errors.New("codec: document exceeds its budget")
)
