package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sockopt/message"
	"sockopt/protocol"
)

// RecoverMiddleware turns a handler panic into a CodeInternal reply so one bad
// command cannot take the daemon down. Use it innermost, next to dispatch, so
// the middlewares around it see the CodeInternal reply.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("sockopt handler panic",
						zap.Int32("cmd", req.Header.CommandID), zap.Any("panic", r), zap.Stack("stack"))
					resp = message.Fail(protocol.CodeInternal, fmt.Sprintf("panic: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}
