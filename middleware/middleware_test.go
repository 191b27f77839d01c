package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sockopt/message"
	"sockopt/metrics"
	"sockopt/protocol"
)

// echoHandler returns the request body.
func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.OK(req.Body)
}

// slowHandler sleeps 200ms unless cancelled.
func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return message.OK([]byte("late"))
}

func failHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Fail(42, "bad request")
}

func panicHandler(ctx context.Context, req *message.Request) *message.Response {
	panic("boom")
}

func getRequest(cmd int32, body string) *message.Request {
	return &message.Request{
		Header: *protocol.NewRequestHeader(protocol.OpGet, cmd, len(body)),
		Body:   []byte(body),
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp := handler(context.Background(), getRequest(3, "ok"))
	if string(resp.Body) != "ok" {
		t.Fatalf("expect body 'ok', got '%s'", resp.Body)
	}

	LoggingMiddleware(zap.New(core))(failHandler)(context.Background(), getRequest(4, ""))

	if logs.Len() != 2 {
		t.Fatalf("expect 2 log entries, got %d", logs.Len())
	}
	warn := logs.FilterMessage("sockopt failed").All()
	if len(warn) != 1 || warn[0].ContextMap()["errcode"] != int32(42) {
		t.Fatalf("expect one failure entry with errcode 42, got %+v", warn)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), getRequest(1, "x"))
	if resp.Code != 0 {
		t.Fatalf("expect no error, got %d %q", resp.Code, resp.ErrString)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), getRequest(1, ""))
	if resp.Code != protocol.CodeTimeout || resp.ErrString != "request timed out" {
		t.Fatalf("expect timeout error, got %d %q", resp.Code, resp.ErrString)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), getRequest(1, ""))
		if resp.Code != 0 {
			t.Fatalf("request %d should pass, got error: %d", i, resp.Code)
		}
	}

	resp := handler(context.Background(), getRequest(1, ""))
	if resp.Code != protocol.CodeBusy {
		t.Fatalf("request 3 should be rate limited, got: %d", resp.Code)
	}
}

func TestRecover(t *testing.T) {
	handler := RecoverMiddleware(zap.NewNop())(panicHandler)

	resp := handler(context.Background(), getRequest(9, ""))
	if resp.Code != protocol.CodeInternal {
		t.Fatalf("expect internal error, got %d", resp.Code)
	}
	if resp.ErrString != "panic: boom" {
		t.Fatalf("unexpected errstr %q", resp.ErrString)
	}
}

func TestTimeoutRecoversHandlerPanic(t *testing.T) {
	handler := Chain(RecoverMiddleware(zap.NewNop()), TimeOutMiddleware(time.Second))(panicHandler)

	resp := handler(context.Background(), getRequest(9, ""))
	if resp.Code != protocol.CodeInternal || resp.ErrString != "panic: boom" {
		t.Fatalf("expect internal error from the handler goroutine, got %d %q", resp.Code, resp.ErrString)
	}
}

func TestInnerRecoverIsObserved(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	core, logs := observer.New(zap.DebugLevel)
	handler := Chain(
		LoggingMiddleware(zap.New(core)),
		MetricsMiddleware(m),
		TimeOutMiddleware(time.Second),
		RecoverMiddleware(zap.NewNop()),
	)(panicHandler)

	resp := handler(context.Background(), getRequest(9, ""))
	if resp.Code != protocol.CodeInternal {
		t.Fatalf("expect internal error, got %d", resp.Code)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("GET", "9", "-8")); got != 1 {
		t.Fatalf("expect the panicking GET to be counted, got %v", got)
	}
	if logs.FilterMessage("sockopt failed").Len() != 1 {
		t.Fatalf("expect the panicking GET to be logged, got %d entries", logs.Len())
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	handler := MetricsMiddleware(m)(echoHandler)

	handler(context.Background(), getRequest(3, "abcd"))
	MetricsMiddleware(m)(failHandler)(context.Background(), getRequest(3, ""))

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("GET", "3", "0")); got != 1 {
		t.Fatalf("expect 1 successful GET, got %v", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("GET", "3", "42")); got != 1 {
		t.Fatalf("expect 1 failed GET, got %v", got)
	}
	if got := testutil.ToFloat64(m.InFlight); got != 0 {
		t.Fatalf("expect no requests in flight, got %v", got)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chained := Chain(mark("a"), mark("b"), TimeOutMiddleware(500*time.Millisecond))
	resp := chained(echoHandler)(context.Background(), getRequest(1, "ok"))

	if resp.Code != 0 || string(resp.Body) != "ok" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expect outermost first, got %v", order)
	}
}
