package picture

import (
	"errors"
	"fmt"
)

// Failure classes of the upload pipeline. Every error returned by Service
// is an *Error whose Kind is one of these; test with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrProcessingFailed   = errors.New("processing failed")
	ErrLinkFailed         = errors.New("link failed")
	ErrNotFound           = errors.New("not found")
)

// Error is a classified pipeline failure. Message is safe to return to
// clients and never contains filesystem paths; Err carries the cause for logs.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}
