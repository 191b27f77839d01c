package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sockopt/message"
)

// LoggingMiddleware logs every transaction at debug level and failed ones at warn.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.Stringer("kind", req.Header.Kind),
				zap.Int32("cmd", req.Header.CommandID),
				zap.Int("in_bytes", len(req.Body)),
				zap.Int("out_bytes", len(resp.Body)),
				zap.Int32("pid", req.Peer.PID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Code != 0 {
				logger.Warn("sockopt failed", append(fields, zap.Int32("errcode", resp.Code), zap.String("errstr", resp.ErrString))...)
				return resp
			}
			logger.Debug("sockopt", fields...)
			return resp
		}
	}
}
