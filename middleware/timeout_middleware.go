package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jibuji/go-stream-rpc/message"
)

var ErrTimeout = errors.New("request timed out")

// TimeOutMiddleware fails a call that takes longer than timeout. The handler
// keeps running in the background but sees its context cancelled.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp []byte
				err  error
			}
			done := make(chan result, 1)
			go func() {
				// the caller's recover cannot see this goroutine
				defer func() {
					if r := recover(); r != nil {
						done <- result{nil, fmt.Errorf("panic: %v", r)}
					}
				}()
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
