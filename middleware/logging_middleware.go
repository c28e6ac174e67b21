package middleware

import (
	"context"
	"time"

	"github.com/jibuji/go-stream-rpc/message"
	"go.uber.org/zap"
)

// LoggingMiddleware logs every inbound call with its duration, and the error
// if the handler failed.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.ServiceMethod),
				zap.Uint32("seq", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("call failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			logger.Info("call served", append(fields, zap.Int("response_size", len(resp)))...)
			return resp, nil
		}
	}
}
