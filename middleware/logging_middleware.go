package middleware

import (
	"context"
	"time"

	"krpc/message"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every request with its duration, and its error if
// it failed.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.ServiceMethod()),
				zap.String("peer", req.Peer),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Error != "" {
				logger.Warn("request failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				logger.Info("request served", append(fields, zap.Int("bytes", len(resp.Payload)))...)
			}
			return resp
		}
	}
}
