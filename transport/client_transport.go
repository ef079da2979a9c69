// Package transport owns the single outbound connection behind a channel.
//
// The protocol has no request identifiers, so a connection carries one call
// at a time, strictly alternating:
//
//	caller ──frame──► provider
//	caller ◄──resp─── provider
//
// Any send or receive failure closes the socket and clears the handle; the
// next call dials again instead of reusing a dead connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"krpc/metrics"

	"go.uber.org/zap"
)

const (
	DefaultMaxResponseSize = 64 * 1024
	DefaultConnectTimeout  = 3 * time.Second
	DefaultCallTimeout     = 10 * time.Second
	DefaultRetryDelay      = 50 * time.Millisecond
	MaxRetryDelay          = 2 * time.Second
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrPeerClosed       = errors.New("transport: connection closed by peer")
	ErrResponseTooLarge = errors.New("transport: response too large")
)

// ClientTransport is not safe for concurrent use; each channel owns one.
type ClientTransport struct {
	conn            net.Conn
	addr            string
	connectTimeout  time.Duration
	callTimeout     time.Duration
	maxResponseSize int
	retryDelay      time.Duration
	logger          *zap.Logger
}

// Option configures a ClientTransport.
type Option func(*ClientTransport)

// WithConnectTimeout bounds a single dial attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *ClientTransport) { t.connectTimeout = d }
}

// WithCallTimeout bounds one round trip when the context has no deadline.
// The default is DefaultCallTimeout; zero means no bound.
func WithCallTimeout(d time.Duration) Option {
	return func(t *ClientTransport) { t.callTimeout = d }
}

// WithMaxResponseSize sets the largest response a single read accepts.
func WithMaxResponseSize(n int) Option {
	return func(t *ClientTransport) {
		if n > 0 {
			t.maxResponseSize = n
		}
	}
}

// WithRetryDelay sets the first backoff between dial attempts; it doubles on
// every retry up to MaxRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(t *ClientTransport) { t.retryDelay = d }
}

// WithLogger sets the logger; the default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(t *ClientTransport) { t.logger = l }
}

// NewClientTransport returns an unconnected transport.
func NewClientTransport(opts ...Option) *ClientTransport {
	t := &ClientTransport{
		connectTimeout:  DefaultConnectTimeout,
		callTimeout:     DefaultCallTimeout,
		maxResponseSize: DefaultMaxResponseSize,
		retryDelay:      DefaultRetryDelay,
		logger:          zap.L(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connected reports whether a reusable connection is held.
func (t *ClientTransport) Connected() bool {
	return t.conn != nil
}

// Addr returns the address of the held connection, or "" when absent.
func (t *ClientTransport) Addr() string {
	if t.conn == nil {
		return ""
	}
	return t.addr
}

// Dial connects to addr, trying at most 1+retries times with exponential
// backoff. An existing connection is closed first.
func (t *ClientTransport) Dial(ctx context.Context, addr string, retries int) error {
	t.Close()

	dialer := net.Dialer{Timeout: t.connectTimeout}
	peer := metrics.Peer(addr)

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := backoff(t.retryDelay, attempt)
			t.logger.Info("retrying connect", zap.String("addr", addr),
				zap.Int("attempt", attempt+1), zap.Duration("backoff", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("transport: connect %s: %w", addr, ctx.Err())
			}
		}

		var conn net.Conn
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			t.conn, t.addr = conn, addr
			metrics.Incr(metrics.ConnectCount, peer)
			t.logger.Info("connect server success", zap.String("addr", addr), zap.Int("attempt", attempt+1))
			return nil
		}
		metrics.Incr(metrics.ConnectFailedCount, peer)
		t.logger.Error("connect server error", zap.String("addr", addr),
			zap.Int("attempt", attempt+1), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("transport: connect %s: %w", addr, err)
}

// backoff returns the wait before retry n (n >= 1): base doubled n-1 times,
// capped at MaxRetryDelay. A base above the cap is used as is.
func backoff(base time.Duration, n int) time.Duration {
	if base <= 0 || base >= MaxRetryDelay {
		return max(base, 0)
	}
	d := base
	for i := 1; i < n && d < MaxRetryDelay; i++ {
		d *= 2
	}
	return min(d, MaxRetryDelay)
}

// RoundTrip writes frame in one call and returns the bytes of one read. On
// any failure the connection is closed and the handle cleared.
func (t *ClientTransport) RoundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	if err := t.conn.SetDeadline(t.deadline(ctx)); err != nil {
		t.Close()
		return nil, fmt.Errorf("transport: set deadline: %w", err)
	}

	if _, err := t.conn.Write(frame); err != nil {
		t.logger.Error("send error", zap.String("addr", t.addr), zap.Error(err))
		t.Close()
		return nil, fmt.Errorf("transport: send: %w", err)
	}

	buf := make([]byte, t.maxResponseSize+1)
	n, err := t.conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrPeerClosed
		}
		t.logger.Error("recv error", zap.String("addr", t.addr), zap.Error(err))
		t.Close()
		if errors.Is(err, ErrPeerClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("transport: recv: %w", err)
	}
	if n > t.maxResponseSize {
		t.Close()
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, t.maxResponseSize)
	}
	return buf[:n], nil
}

func (t *ClientTransport) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if t.callTimeout > 0 {
		return time.Now().Add(t.callTimeout)
	}
	return time.Time{}
}

// Close closes the held connection, if any, and clears the handle.
func (t *ClientTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn, t.addr = nil, ""
	return err
}
