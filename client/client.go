// Package client offers an error-returning call API on top of channels.
//
// A channel owns one connection and serves one call at a time, so the client
// keeps a small pool of them: concurrent Calls each borrow a channel, and
// idle channels are kept for reuse up to the pool size.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"krpc/channel"
	"krpc/registry"
	"krpc/rpc"
)

// DefaultPoolSize is the number of idle channels kept when none is given.
const DefaultPoolSize = 4

var (
	ErrCallFailed    = errors.New("rpc call failed")
	ErrInvalidMethod = errors.New("invalid service method")
	ErrClosed        = errors.New("client closed")
)

// Client is safe for concurrent use.
type Client struct {
	registry registry.Registry
	opts     []channel.Option
	pool     chan *channel.Channel

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client resolving providers through reg. opts apply to
// every channel the client creates.
func NewClient(reg registry.Registry, poolSize int, opts ...channel.Option) *Client {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Client{
		registry: reg,
		opts:     opts,
		pool:     make(chan *channel.Channel, poolSize),
	}
}

func (c *Client) getChannel() (*channel.Channel, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	select {
	case ch := <-c.pool:
		return ch, nil
	default:
		return channel.New(c.registry, c.opts...), nil
	}
}

func (c *Client) putChannel(ch *channel.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		ch.Close()
		return
	}
	select {
	case c.pool <- ch:
	default:
		ch.Close()
	}
}

// Call invokes serviceMethod ("Service.Method") and blocks until reply is
// filled or the call fails. A failed call returns an error wrapping
// ErrCallFailed with the controller's error text.
func (c *Client) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	method, ok := rpc.ParseMethod(serviceMethod)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, serviceMethod)
	}

	ch, err := c.getChannel()
	if err != nil {
		return err
	}
	defer c.putChannel(ch)

	status := rpc.NewCallStatus()
	ch.CallMethod(ctx, method, status, args, reply)
	if status.Failed() {
		return fmt.Errorf("%w: %s: %s", ErrCallFailed, serviceMethod, status.ErrorText())
	}
	return nil
}

// Close closes every pooled channel. Calls in progress finish, and their
// channels are closed when returned.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for {
		select {
		case ch := <-c.pool:
			ch.Close()
		default:
			return nil
		}
	}
}
