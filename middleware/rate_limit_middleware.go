package middleware

import (
	"context"

	"krpc/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests beyond r per second with the given
// burst, using a token bucket shared by every connection of the provider.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Failed("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
