package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"krpc/registry/registrytest"
	"krpc/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Arith struct{}

func (a *Arith) Square(ctx context.Context, args *wrapperspb.Int64Value, reply *wrapperspb.Int64Value) error {
	reply.Value = args.GetValue() * args.GetValue()
	return nil
}

func startServer(t *testing.T) *registrytest.Registry {
	t.Helper()
	svr := server.NewServer()
	require.NoError(t, svr.NotifyService(&Arith{}))
	reg := registrytest.New()
	go svr.Serve("tcp", "127.0.0.1:0", "", reg)
	select {
	case <-svr.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server not ready")
	}
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return reg
}

func TestClientCall(t *testing.T) {
	reg := startServer(t)
	c := NewClient(reg, 2)
	defer c.Close()

	reply := &wrapperspb.Int64Value{}
	require.NoError(t, c.Call(context.Background(), "Arith.Square", wrapperspb.Int64(12), reply))
	assert.Equal(t, int64(144), reply.GetValue())
}

func TestClientConcurrentCalls(t *testing.T) {
	reg := startServer(t)
	c := NewClient(reg, 4)
	defer c.Close()

	var wg sync.WaitGroup
	for i := int64(1); i <= 16; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			reply := &wrapperspb.Int64Value{}
			if assert.NoError(t, c.Call(ctx, "Arith.Square", wrapperspb.Int64(n), reply)) {
				assert.Equal(t, n*n, reply.GetValue())
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, len(c.pool), 4)
}

// Square(0) is an all-default message, which encodes to zero bytes. The
// provider cannot send it, so the call fails promptly instead of waiting.
func TestClientEmptyReplyFails(t *testing.T) {
	reg := startServer(t)
	c := NewClient(reg, 1)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := c.Call(ctx, "Arith.Square", wrapperspb.Int64(0), &wrapperspb.Int64Value{})
	assert.ErrorIs(t, err, ErrCallFailed)
	assert.Contains(t, err.Error(), "connection closed by peer")
	assert.Less(t, time.Since(start), 2*time.Second)

	// The next call reconnects.
	reply := &wrapperspb.Int64Value{}
	require.NoError(t, c.Call(ctx, "Arith.Square", wrapperspb.Int64(3), reply))
	assert.Equal(t, int64(9), reply.GetValue())
}

func TestClientErrors(t *testing.T) {
	reg := startServer(t)
	c := NewClient(reg, 0)

	err := c.Call(context.Background(), "ArithSquare", wrapperspb.Int64(1), &wrapperspb.Int64Value{})
	assert.ErrorIs(t, err, ErrInvalidMethod)

	err = c.Call(context.Background(), "Arith.Cube", wrapperspb.Int64(1), &wrapperspb.Int64Value{})
	assert.ErrorIs(t, err, ErrCallFailed)
	assert.Contains(t, err.Error(), "/Arith/Cube")

	require.NoError(t, c.Close())
	err = c.Call(context.Background(), "Arith.Square", wrapperspb.Int64(1), &wrapperspb.Int64Value{})
	assert.ErrorIs(t, err, ErrClosed)
}
