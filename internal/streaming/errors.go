package streaming

import "errors"

// Sentinel errors for the streaming core. HTTP handlers in internal/httpapi
// translate these into status codes per the error table in SPEC_FULL §7.
var (
	ErrStreamNotFound      = errors.New("streaming: stream not found")
	ErrStreamAlreadyExists = errors.New("streaming: stream already exists")
	ErrStreamCompleted     = errors.New("streaming: stream is terminal")
	ErrInvalidOffset       = errors.New("streaming: invalid offset")
	ErrClientDisconnected  = errors.New("streaming: client disconnected")
	ErrBufferOverflow      = errors.New("streaming: buffer overflow")
	ErrToolIterationLimit  = errors.New("streaming: tool iteration limit exceeded")
	ErrProvider            = errors.New("streaming: provider error")
)

// ErrorCode maps a sentinel error to the wire error_code used in synthetic
// Error events and JSON error bodies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrStreamNotFound):
		return "STREAM_NOT_FOUND"
	case errors.Is(err, ErrStreamAlreadyExists):
		return "STREAM_ALREADY_EXISTS"
	case errors.Is(err, ErrStreamCompleted):
		return "STREAM_COMPLETED"
	case errors.Is(err, ErrInvalidOffset):
		return "INVALID_OFFSET"
	case errors.Is(err, ErrClientDisconnected):
		return "CLIENT_DISCONNECTED"
	case errors.Is(err, ErrBufferOverflow):
		return "BUFFER_OVERFLOW"
	case errors.Is(err, ErrToolIterationLimit):
		return "ITERATION_LIMIT"
	case errors.Is(err, ErrProvider):
		return "PROVIDER_ERROR"
	default:
		return "STREAM_ERROR"
	}
}
