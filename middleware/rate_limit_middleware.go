package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"sockopt/message"
	"sockopt/protocol"
)

// RateLimitMiddleware rejects requests beyond r per second (token bucket of
// size burst) with CodeBusy instead of queueing them.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Fail(protocol.CodeBusy, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
