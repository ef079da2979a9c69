package middleware

import (
	"context"
	"testing"
	"time"

	"krpc/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return &message.Response{Payload: []byte("ok")}
}

func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return &message.Response{Payload: []byte("ok")}
}

func failingHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Failed("boom")
}

func newRequest() *message.Request {
	return &message.Request{
		Header: message.RPCHeader{ServiceName: "UserService", MethodName: "Login"},
		Peer:   "127.0.0.1:50000",
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	resp := LoggingMiddleware(logger)(echoHandler)(context.Background(), newRequest())
	require.NotNil(t, resp)
	assert.Equal(t, "ok", string(resp.Payload))

	resp = LoggingMiddleware(logger)(failingHandler)(context.Background(), newRequest())
	assert.Equal(t, "boom", resp.Error)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "request served", entries[0].Message)
	assert.Equal(t, "UserService.Login", entries[0].ContextMap()["method"])
	assert.Equal(t, "request failed", entries[1].Message)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestTimeoutPass(t *testing.T) {
	resp := TimeOutMiddleware(500*time.Millisecond)(echoHandler)(context.Background(), newRequest())
	assert.Empty(t, resp.Error)
}

func TestTimeoutExceeded(t *testing.T) {
	resp := TimeOutMiddleware(50*time.Millisecond)(slowHandler)(context.Background(), newRequest())
	assert.Equal(t, "request timed out", resp.Error)
}

func TestRateLimit(t *testing.T) {
	// 1 per second with a burst of 2: two pass, the third is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newRequest())
		require.Empty(t, resp.Error, "request %d", i)
	}
	resp := handler(context.Background(), newRequest())
	assert.Equal(t, "rate limit exceeded", resp.Error)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name+">")
				resp := next(ctx, req)
				order = append(order, "<"+name)
				return resp
			}
		}
	}

	resp := Chain(mark("a"), mark("b"), TimeOutMiddleware(500*time.Millisecond))(echoHandler)(context.Background(), newRequest())
	assert.Empty(t, resp.Error)
	assert.Equal(t, []string{"a>", "b>", "<b", "<a"}, order)
}
