package middleware

import (
	"context"
	"errors"

	"github.com/jibuji/go-stream-rpc/message"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware creates a token-bucket limiter shared by every request
// passing through it.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
