// Package server implements the provider: it publishes its services in the
// registry and answers framed requests.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine, strictly request/response)
//	  → protocol.Decode → middleware chain → businessHandler (reflect.Call) → write payload
//
// A failed request gets no answer: the connection is closed so the caller's
// single read returns and the call fails.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"krpc/codec"
	"krpc/message"
	"krpc/metrics"
	"krpc/middleware"
	"krpc/protocol"
	"krpc/registry"

	"go.uber.org/zap"
)

var (
	ErrNoServices      = errors.New("server: no services registered")
	ErrShutdownTimeout = errors.New("server: timeout waiting for ongoing requests to finish")
)

// Server is the provider. Register services with NotifyService before Serve.
type Server struct {
	serviceMap  map[string]*service
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	codec       codec.Codec
	logger      *zap.Logger

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool
	ready    chan struct{} // closed once listening and published

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithCodec sets the codec for request and response messages. It must match
// the one the callers use; the default is protobuf.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithLogger sets the logger; the default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer returns a provider with no services.
func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap: make(map[string]*service),
		codec:      &codec.ProtoCodec{},
		logger:     zap.L(),
		ready:      make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("server")
	return s
}

// NotifyService registers rcvr. Its exported methods with an rpc signature
// become callable as "<Service>.<Method>", where Service is the type name or
// the result of ServiceName() when rcvr implements Namer.
func (svr *Server) NotifyService(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	if _, dup := svr.serviceMap[svc.name]; dup {
		return fmt.Errorf("server: service %s already registered", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	svr.logger.Info("service registered", zap.String("service", svc.name),
		zap.Strings("methods", svc.methodNames()))
	return nil
}

// Use registers a middleware. Middlewares run in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Ready is closed once Serve is listening and its nodes are published.
func (svr *Server) Ready() <-chan struct{} {
	return svr.ready
}

// Addr returns the listening address, or nil before Serve listens.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// Serve listens on address, publishes every method under advertiseAddr (the
// listener's address when empty) and then accepts connections until Shutdown.
// A nil reg skips publishing.
func (svr *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	if len(svr.serviceMap) == 0 {
		return ErrNoServices
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", address, err)
	}

	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		listener.Close()
		return nil
	}
	svr.listener = listener
	svr.mu.Unlock()

	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	if reg != nil {
		if err := svr.publish(reg, advertiseAddr); err != nil {
			listener.Close()
			return err
		}
	}
	svr.logger.Info("provider listening", zap.String("address", listener.Addr().String()),
		zap.String("advertise", advertiseAddr))
	close(svr.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// publish creates /Service as a persistent node and /Service/Method as an
// ephemeral node holding addr.
func (svr *Server) publish(reg registry.Registry, addr string) error {
	ctx := context.Background()
	if err := reg.Connect(ctx); err != nil {
		return fmt.Errorf("server: registry: %w", err)
	}

	names := make([]string, 0, len(svr.serviceMap))
	for name := range svr.serviceMap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := reg.CreateNode(ctx, registry.ServicePath(name), nil, registry.NodePersistent); err != nil {
			return err
		}
		for _, method := range svr.serviceMap[name].methodNames() {
			if err := reg.CreateNode(ctx, registry.MethodPath(name, method), []byte(addr), registry.NodeEphemeral); err != nil {
				return err
			}
		}
		svr.logger.Info("service published", zap.String("service", name), zap.String("address", addr))
	}
	return nil
}

func (svr *Server) track(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	return true
}

func (svr *Server) untrack(conn net.Conn) {
	svr.mu.Lock()
	delete(svr.conns, conn)
	svr.mu.Unlock()
	conn.Close()
}

// handleConn serves one connection. Requests are handled in arrival order,
// each answered before the next is read.
func (svr *Server) handleConn(conn net.Conn) {
	if !svr.track(conn) {
		conn.Close()
		return
	}
	defer svr.untrack(conn)

	peer := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)
	for {
		header, args, err := protocol.Decode(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !svr.shutdown.Load() {
				svr.logger.Warn("bad request frame", zap.String("peer", peer), zap.Error(err))
			}
			return
		}
		req := &message.Request{Header: *header, Args: args, Peer: peer}
		if !svr.handleRequest(conn, req) {
			return
		}
	}
}

// handleRequest runs req through the handler chain and writes the payload.
// It reports whether the connection should stay open.
func (svr *Server) handleRequest(conn net.Conn, req *message.Request) bool {
	if !svr.begin() {
		return false
	}
	defer svr.wg.Done()

	start := time.Now()
	labels := metrics.Method(req.Header.ServiceName, req.Header.MethodName)
	metrics.Incr(metrics.ProviderRequestCount, labels)

	resp := svr.handler(context.Background(), req)
	if resp.Error != "" {
		metrics.Incr(metrics.ProviderRequestFailedCount, labels)
		svr.logger.Warn("request failed, closing connection", zap.String("path", req.Header.Path()),
			zap.String("peer", req.Peer), zap.String("error", resp.Error))
		return false
	}

	// Responses carry no framing, so an empty reply is indistinguishable
	// from no reply. Closing makes the caller's read return.
	if len(resp.Payload) == 0 {
		metrics.Incr(metrics.ProviderRequestFailedCount, labels)
		svr.logger.Warn("empty reply, closing connection", zap.String("path", req.Header.Path()),
			zap.String("peer", req.Peer))
		return false
	}

	if _, err := conn.Write(resp.Payload); err != nil {
		metrics.Incr(metrics.ProviderRequestFailedCount, labels)
		svr.logger.Warn("write response failed", zap.String("peer", req.Peer), zap.Error(err))
		return false
	}
	metrics.Since(metrics.ProviderRequestLatency, start, labels)
	return true
}

// begin registers an in-flight request unless Shutdown has started.
func (svr *Server) begin() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

// Shutdown stops accepting connections, waits up to timeout for in-flight
// requests and then closes every open connection. Ephemeral nodes stay until
// the registry session that created them is closed.
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = ErrShutdownTimeout
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}

// businessHandler decodes the arguments, invokes the method and encodes the
// reply. It sits at the end of the middleware chain.
func (svr *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	svc, ok := svr.serviceMap[req.Header.ServiceName]
	if !ok {
		return message.Failed("rpc: can't find service " + req.Header.ServiceName)
	}
	method, ok := svc.method[req.Header.MethodName]
	if !ok {
		return message.Failed("rpc: can't find method " + req.Header.Path())
	}

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)

	if err := svr.codec.Decode(req.Args, argv.Interface()); err != nil {
		return message.Failed("rpc: decode args: " + err.Error())
	}
	if err := svc.call(ctx, method, argv, replyv); err != nil {
		return message.Failed(err.Error())
	}

	payload, err := svr.codec.Encode(replyv.Interface())
	if err != nil {
		return message.Failed("rpc: encode reply: " + err.Error())
	}
	return &message.Response{Payload: payload}
}
