package middleware

import (
	"context"
	"fmt"
	"time"

	"sockopt/message"
	"sockopt/protocol"
)

// TimeOutMiddleware answers with CodeTimeout when the handler takes longer
// than timeout. The handler keeps running in the background and sees the
// cancelled context; its late result is dropped. A panic in the handler
// goroutine becomes a CodeInternal reply, since no recover further out can
// reach it.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- message.Fail(protocol.CodeInternal, fmt.Sprintf("panic: %v", r))
					}
				}()
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Fail(protocol.CodeTimeout, "request timed out")
			}
		}
	}
}
