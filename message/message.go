// Package message defines the inbound request envelope handed to service
// handlers and middleware.
//
// A Request is built by the peer's read loop from a request frame. It is
// independent of the wire layout so that middleware never touches frames.
package message

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Request carries one inbound call.
type Request struct {
	ID            uint32 // sequence number the response must echo
	ServiceMethod string // Format: "ServiceName.MethodName", e.g., "Adder.Add"
	Payload       []byte // opaque request bytes, decoded by the service wrapper
}

// Split separates ServiceMethod on its first '.'.
// ok is false when there is no separator or either side is empty.
func (r *Request) Split() (service, method string, ok bool) {
	service, method, ok = strings.Cut(r.ServiceMethod, ".")
	if !ok || service == "" || method == "" {
		return "", "", false
	}
	return service, method, true
}

// NormalizeMethod lower-cases the first letter of a method name so that
// "Add" and "add" resolve to the same handler.
func NormalizeMethod(name string) string {
	if name == "" {
		return name
	}
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToLower(r)) + name[size:]
}
