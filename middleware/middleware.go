// Package middleware wraps the server's command dispatch with cross-cutting
// behaviour. Chain(A, B, C)(h) runs A.before → B.before → C.before → h →
// C.after → B.after → A.after.
package middleware

import (
	"context"

	"sockopt/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one, outermost first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
