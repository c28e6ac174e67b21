package protocol

import "fmt"

// Code is an engine-level error code carried by error response frames.
// Application failures never use these codes; they travel inside the payload.
type Code uint32

const (
	CodeUnknown Code = iota
	CodeMethodNotFound
	CodeInvalidRequest
	CodeMalformedRequest
	CodeInvalidMessageFormat
	CodeInternalError
)

func (c Code) String() string {
	switch c {
	case CodeUnknown:
		return "unknown"
	case CodeMethodNotFound:
		return "method not found"
	case CodeInvalidRequest:
		return "invalid request"
	case CodeMalformedRequest:
		return "malformed request"
	case CodeInvalidMessageFormat:
		return "invalid message format"
	case CodeInternalError:
		return "internal error"
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// Error is an engine-level failure reported by the remote peer.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code=%s msg=%s", e.Code, e.Message)
}

// Errorf returns an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
