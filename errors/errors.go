package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorTransport
	ErrorProtocol
	ErrorInvalidArgument
	ErrorMemory
)

// TransportError represents transport-layer specific errors
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorSocketCreateFailure
	TransportErrorSocketConnectFailure
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorConnectionClosed
	TransportErrorDnsFailure
	TransportErrorTimeout
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
)

var transportErrorNames = map[TransportError]string{
	TransportErrorSocketCreateFailure:  "socket create failure",
	TransportErrorSocketConnectFailure: "socket connect failure",
	TransportErrorSocketReadFailure:    "socket read failure",
	TransportErrorSocketWriteFailure:   "socket write failure",
	TransportErrorConnectionClosed:     "connection closed",
	TransportErrorDnsFailure:           "dns failure",
	TransportErrorTimeout:              "timeout",
	TransportErrorIoUringInit:          "io_uring init",
	TransportErrorIoUringSubmit:        "io_uring submit",
}

func (e TransportError) String() string {
	if s, ok := transportErrorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("transport error %d", int(e))
}

// ProtocolError represents protocol-layer specific errors.
// All of them are terminal for the current response cycle.
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	// The start line's version token is not HTTP/1.1.
	ProtocolErrorUnsupportedVersion
	// The start line lacks its delimiter or carries an unparsable status code.
	ProtocolErrorMalformedStartLine
	// A header line has no name/value separator.
	ProtocolErrorMalformedHeaderLine
	// The Content-Length value is unparsable or too long.
	ProtocolErrorInvalidContentLength
	// A chunk-size token is unparsable or too long.
	ProtocolErrorInvalidChunkSize
	// The CRLF after chunk data or after the last chunk is absent or wrong.
	ProtocolErrorMissingChunkTerminator
	// The transport ended before the response completed.
	ProtocolErrorTruncatedResponse
	// The buffer filled up before a complete line could be found.
	ProtocolErrorMessageTooLarge
)

var protocolErrorNames = map[ProtocolError]string{
	ProtocolErrorUnsupportedVersion:     "unsupported version",
	ProtocolErrorMalformedStartLine:     "malformed start line",
	ProtocolErrorMalformedHeaderLine:    "malformed header line",
	ProtocolErrorInvalidContentLength:   "invalid content length",
	ProtocolErrorInvalidChunkSize:       "invalid chunk size",
	ProtocolErrorMissingChunkTerminator: "missing chunk terminator",
	ProtocolErrorTruncatedResponse:      "truncated response",
	ProtocolErrorMessageTooLarge:        "message too large",
}

func (e ProtocolError) String() string {
	if s, ok := protocolErrorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("protocol error %d", int(e))
}

// HttpError is the main error type for the HTTP client
type HttpError struct {
	Type          ErrorType
	TransportErr  TransportError
	ProtocolErr   ProtocolError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *HttpError) Error() string {
	if e == nil {
		return "no error"
	}

	var typeStr string
	switch e.Type {
	case ErrorTransport:
		typeStr = fmt.Sprintf("Transport error (%s)", e.TransportErr)
	case ErrorProtocol:
		typeStr = fmt.Sprintf("Protocol error (%s)", e.ProtocolErr)
	case ErrorInvalidArgument:
		typeStr = "Invalid argument"
	case ErrorMemory:
		typeStr = "Memory error"
	default:
		typeStr = "Unknown error"
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support
func (e *HttpError) Unwrap() error {
	return e.UnderlyingErr
}

// Is reports whether target is an *HttpError of the same type and code.
// Message and cause are ignored, so a freshly built error works as a
// template for errors.Is.
func (e *HttpError) Is(target error) bool {
	t, ok := target.(*HttpError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Type == t.Type && e.TransportErr == t.TransportErr && e.ProtocolErr == t.ProtocolErr
}

// NewTransportError creates a new transport error
func NewTransportError(err TransportError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorTransport,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(err ProtocolError, message string) *HttpError {
	return &HttpError{
		Type:        ErrorProtocol,
		ProtocolErr: err,
		Message:     message,
	}
}

// WrapProtocolError creates a protocol error caused by another error
func WrapProtocolError(err ProtocolError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorProtocol,
		ProtocolErr:   err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *HttpError {
	return &HttpError{
		Type:    ErrorInvalidArgument,
		Message: message,
	}
}

// IsProtocolError reports whether err carries the given protocol error code
func IsProtocolError(err error, code ProtocolError) bool {
	var h *HttpError
	return stderrors.As(err, &h) && h.Type == ErrorProtocol && h.ProtocolErr == code
}

// IsTransportError reports whether err carries the given transport error code
func IsTransportError(err error, code TransportError) bool {
	var h *HttpError
	return stderrors.As(err, &h) && h.Type == ErrorTransport && h.TransportErr == code
}
