// Package channel implements rpc.Channel over the registry and a single TCP
// connection.
//
// CallMethod pipeline:
//
//	not connected? ── registry.Connect → GetData("/Svc/Method") → ParseEndpoint → Dial (bounded retry)
//	      │
//	codec.Encode(req) → protocol.NewFrame(header, args) → write → one read → codec.Decode(resp)
//
// Every failure lands on the controller; none of them panic or exit. A
// Channel holds one connection and is not safe for concurrent use: callers
// that want parallelism give each goroutine its own Channel.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"krpc/codec"
	"krpc/config"
	"krpc/metrics"
	"krpc/protocol"
	"krpc/registry"
	"krpc/rpc"
	"krpc/transport"

	"go.uber.org/zap"
)

// DefaultConnectRetries is how many extra dial attempts follow a failed one.
const DefaultConnectRetries = 3

// ErrEmptyEndpoint is reported when a method node exists but holds no address.
var ErrEmptyEndpoint = errors.New("channel: registry returned an empty endpoint")

// lookupMu serializes registry reads from every channel in the process.
var lookupMu sync.Mutex

// Channel is the rpc.Channel of one caller: one registry, one connection.
type Channel struct {
	registry  registry.Registry
	transport *transport.ClientTransport
	codec     codec.Codec
	retries   int
	logger    *zap.Logger

	transportOpts []transport.Option
	endpoint      registry.Endpoint
}

// Option configures a Channel.
type Option func(*Channel)

// WithCodec sets the request/response codec. The default is protobuf.
func WithCodec(c codec.Codec) Option {
	return func(ch *Channel) { ch.codec = c }
}

// WithConnectRetries sets how many extra dial attempts follow a failed one.
func WithConnectRetries(n int) Option {
	return func(ch *Channel) {
		if n >= 0 {
			ch.retries = n
		}
	}
}

// WithTransportOptions passes options to the underlying ClientTransport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(ch *Channel) { ch.transportOpts = append(ch.transportOpts, opts...) }
}

// WithLogger sets the logger; the default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(ch *Channel) { ch.logger = l }
}

// New creates a channel that resolves endpoints through reg. Nothing is
// dialed until the first call or an explicit Connect.
func New(reg registry.Registry, opts ...Option) *Channel {
	ch := &Channel{
		registry: reg,
		codec:    &codec.ProtoCodec{},
		retries:  DefaultConnectRetries,
		logger:   zap.L(),
	}
	for _, opt := range opts {
		opt(ch)
	}
	ch.logger = ch.logger.Named("channel")
	ch.transport = transport.NewClientTransport(
		append([]transport.Option{transport.WithLogger(ch.logger)}, ch.transportOpts...)...,
	)
	return ch
}

// NewFromConfig applies the rpc_* keys of cfg before opts.
func NewFromConfig(cfg *config.Config, reg registry.Registry, opts ...Option) *Channel {
	base := []Option{
		WithConnectRetries(cfg.Int(config.KeyConnectRetries, DefaultConnectRetries)),
		WithTransportOptions(
			transport.WithConnectTimeout(cfg.Millis(config.KeyConnectTimeout, transport.DefaultConnectTimeout)),
			transport.WithCallTimeout(cfg.Millis(config.KeyCallTimeout, transport.DefaultCallTimeout)),
			transport.WithMaxResponseSize(cfg.Int(config.KeyMaxResponseSize, transport.DefaultMaxResponseSize)),
		),
	}
	return New(reg, append(base, opts...)...)
}

// Connected reports whether the channel holds a live connection handle.
func (ch *Channel) Connected() bool {
	return ch.transport.Connected()
}

// Endpoint returns the endpoint of the current connection.
func (ch *Channel) Endpoint() (registry.Endpoint, bool) {
	if !ch.transport.Connected() {
		return registry.Endpoint{}, false
	}
	return ch.endpoint, true
}

// Connect resolves the endpoint of method and dials it. CallMethod does this
// lazily; calling it up front surfaces lookup and dial errors early.
func (ch *Channel) Connect(ctx context.Context, method rpc.MethodDescriptor) error {
	ep, err := ch.resolve(ctx, method)
	if err != nil {
		return err
	}
	if err := ch.transport.Dial(ctx, ep.String(), ch.retries); err != nil {
		return err
	}
	ch.endpoint = ep
	return nil
}

func (ch *Channel) resolve(ctx context.Context, method rpc.MethodDescriptor) (registry.Endpoint, error) {
	if err := ch.registry.Connect(ctx); err != nil {
		return registry.Endpoint{}, err
	}

	path := registry.MethodPath(method.ServiceName(), method.MethodName())
	lookupMu.Lock()
	value, err := ch.registry.GetData(ctx, path)
	lookupMu.Unlock()
	if err != nil {
		ch.logger.Error("service lookup failed", zap.String("path", path), zap.Error(err))
		return registry.Endpoint{}, fmt.Errorf("channel: lookup %s: %w", path, err)
	}
	if value == "" {
		ch.logger.Error("service lookup returned empty endpoint", zap.String("path", path))
		return registry.Endpoint{}, fmt.Errorf("%w: %s", ErrEmptyEndpoint, path)
	}

	ep, err := registry.ParseEndpoint(value)
	if err != nil {
		ch.logger.Error("address is invalid", zap.String("path", path), zap.String("value", value))
		return registry.Endpoint{}, err
	}
	ch.logger.Debug("service resolved", zap.String("path", path), zap.Stringer("endpoint", ep))
	return ep, nil
}

// CallMethod performs one blocking call. The outcome is reported on ctrl;
// resp is only populated when ctrl.Failed() is false afterwards.
func (ch *Channel) CallMethod(ctx context.Context, method rpc.MethodDescriptor, ctrl rpc.Controller, req, resp any) {
	start := time.Now()
	service, name := method.ServiceName(), method.MethodName()
	labels := metrics.Method(service, name)
	metrics.Incr(metrics.CallCount, labels)

	fail := func(reason string) {
		ctrl.SetFailed(reason)
		metrics.Incr(metrics.CallFailedCount, labels)
	}

	if !ch.transport.Connected() {
		if err := ch.Connect(ctx, method); err != nil {
			fail(err.Error())
			return
		}
	}

	args, err := ch.codec.Encode(req)
	if err != nil {
		ch.logger.Error("serialize request fail", zap.String("method", service+"."+name), zap.Error(err))
		fail("serialize request fail: " + err.Error())
		return
	}

	frame, err := protocol.NewFrame(service, name, args)
	if err != nil {
		fail("serialize rpc header error: " + err.Error())
		return
	}

	data, err := ch.transport.RoundTrip(ctx, frame)
	if err != nil {
		fail(err.Error())
		return
	}
	metrics.Add(metrics.CallBytesOut, len(frame), labels)
	metrics.Add(metrics.CallBytesIn, len(data), labels)

	if err := ch.codec.Decode(data, resp); err != nil {
		ch.logger.Error("parse response fail", zap.String("method", service+"."+name), zap.Error(err))
		ch.transport.Close()
		fail("parse response fail: " + err.Error())
		return
	}
	metrics.Since(metrics.CallLatency, start, labels)
}

// Close drops the connection. The channel stays usable; the next call
// reconnects.
func (ch *Channel) Close() error {
	return ch.transport.Close()
}

var _ rpc.Channel = (*Channel)(nil)
