// Package middleware wraps the provider's request handler.
//
// Chain(A, B, C)(h) == A(B(C(h))): A runs first on the way in and last on the
// way out.
package middleware

import (
	"context"

	"krpc/message"
)

// HandlerFunc handles one decoded request.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
