package pipeline

import (
	"errors"
	"net/http"
)

// ErrorKind classifies a failed run for the caller.
type ErrorKind uint8

const (
	KindClientInput ErrorKind = iota + 1
	KindFormat
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindClientInput:
		return "client_input"
	case KindFormat:
		return "format"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind onto a response status.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindClientInput, KindFormat:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Messages returned for failures whose detail stays server side.
const (
	MessageUnsupportedFormat = "Audio format not supported or ffmpeg is missing."
	MessageInternal          = "Internal error while processing audio."
)

// Error is the only error type Process returns. Message is safe to show to
// clients; Err carries the detail for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func clientError(message string, err error) *Error {
	return &Error{Kind: KindClientInput, Message: message, Err: err}
}

func formatError(err error) *Error {
	return &Error{Kind: KindFormat, Message: MessageUnsupportedFormat, Err: err}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: MessageInternal, Err: err}
}

// asError wraps anything that is not already an *Error as internal.
func asError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return internalError(err)
}
