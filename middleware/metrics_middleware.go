package middleware

import (
	"context"
	"time"

	"sockopt/message"
	"sockopt/metrics"
)

// MetricsMiddleware records every transaction in m.
func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			m.InFlight.Inc()
			defer m.InFlight.Dec()

			start := time.Now()
			resp := next(ctx, req)
			m.Observe(req.Header.Kind, req.Header.CommandID, resp.Code, time.Since(start), len(req.Body), len(resp.Body))
			return resp
		}
	}
}
