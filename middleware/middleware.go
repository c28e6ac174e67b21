// Package middleware wraps inbound request handlers.
//
// Middlewares compose in the onion model: Chain(A, B, C)(h) runs
// A.before → B.before → C.before → h → C.after → B.after → A.after.
package middleware

import (
	"context"

	"github.com/jibuji/go-stream-rpc/message"
)

// HandlerFunc serves one inbound request and returns the raw response payload.
// A non-nil error is reported to the caller as an engine-level error.
type HandlerFunc func(ctx context.Context, req *message.Request) ([]byte, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
