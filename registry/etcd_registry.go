// Package registry provides the coordination-service client used to publish
// and look up method endpoints.
//
// etcd plays the role of the coordination service. Keys mirror the node tree
// a provider publishes:
//
//	/UserService          ""                 persistent
//	/UserService/Login    "127.0.0.1:7000"   ephemeral
//
// Ephemeral nodes are attached to one lease per session. The lease is kept
// alive while the session lives and revoked on Close, so a crashed provider
// disappears once its lease expires.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"krpc/config"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

const (
	DefaultSessionTimeout = 6 * time.Second
	DefaultDialTimeout    = 5 * time.Second
	DefaultLeaseTTL       = 10 // seconds
)

// EtcdRegistry implements Registry on etcd v3. One EtcdRegistry is one
// session; it is safe to share between goroutines once connected.
type EtcdRegistry struct {
	endpoints      []string
	dialTimeout    time.Duration
	sessionTimeout time.Duration
	leaseTTL       int64
	logger         *zap.Logger

	ctx    context.Context // session lifetime, cancelled by Close
	cancel context.CancelFunc

	mu      sync.Mutex
	client  *clientv3.Client
	leaseID clientv3.LeaseID

	state       atomic.Int32
	connected   chan struct{} // closed once the session first reaches Connected
	connectOnce sync.Once
}

// Option configures an EtcdRegistry.
type Option func(*EtcdRegistry)

// WithDialTimeout bounds the etcd client dial.
func WithDialTimeout(d time.Duration) Option {
	return func(r *EtcdRegistry) { r.dialTimeout = d }
}

// WithSessionTimeout bounds how long Connect waits for the session.
func WithSessionTimeout(d time.Duration) Option {
	return func(r *EtcdRegistry) { r.sessionTimeout = d }
}

// WithLeaseTTL sets the TTL in seconds of the lease backing ephemeral nodes.
func WithLeaseTTL(ttl int64) Option {
	return func(r *EtcdRegistry) { r.leaseTTL = ttl }
}

// WithLogger sets the logger; the default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(r *EtcdRegistry) { r.logger = l }
}

// NewEtcdRegistry creates a registry for the given endpoints. No connection
// is attempted until Connect.
func NewEtcdRegistry(endpoints []string, opts ...Option) *EtcdRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &EtcdRegistry{
		endpoints:      endpoints,
		dialTimeout:    DefaultDialTimeout,
		sessionTimeout: DefaultSessionTimeout,
		leaseTTL:       DefaultLeaseTTL,
		logger:         zap.L(),
		ctx:            ctx,
		cancel:         cancel,
		connected:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("registry")
	return r
}

// NewFromConfig reads the coordination-service address and timeouts from cfg.
// Options are applied after the config values.
func NewFromConfig(cfg *config.Config, opts ...Option) (*EtcdRegistry, error) {
	endpoints := cfg.RegistryEndpoints()
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: set %s and %s", ErrNoEndpoints, config.KeyRegistryIP, config.KeyRegistryPort)
	}
	base := []Option{
		WithSessionTimeout(cfg.Millis(config.KeyRegistrySessionTimeout, DefaultSessionTimeout)),
		WithDialTimeout(cfg.Millis(config.KeyRegistryDialTimeout, DefaultDialTimeout)),
	}
	return NewEtcdRegistry(endpoints, append(base, opts...)...), nil
}

// State returns the current session state.
func (r *EtcdRegistry) State() State {
	return State(r.state.Load())
}

// Connect starts the session if needed and blocks until it is connected,
// ctx is done, or the session timeout elapses. Calling Connect on a connected
// registry returns immediately.
func (r *EtcdRegistry) Connect(ctx context.Context) error {
	if err := r.start(); err != nil {
		return err
	}

	timer := time.NewTimer(r.sessionTimeout)
	defer timer.Stop()

	select {
	case <-r.connected:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry: connect: %w", ctx.Err())
	case <-r.ctx.Done():
		return fmt.Errorf("registry: connect: %w", ErrNotConnected)
	case <-timer.C:
		r.logger.Error("session not established", zap.Strings("endpoints", r.endpoints),
			zap.Duration("timeout", r.sessionTimeout))
		return fmt.Errorf("%w after %s", ErrSessionTimeout, r.sessionTimeout)
	}
}

// start creates the etcd client once and hands its connection to the
// session watcher. The client dials in the background.
func (r *EtcdRegistry) start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return fmt.Errorf("registry: closed: %w", ErrNotConnected)
	}
	if r.client != nil {
		return nil
	}
	if len(r.endpoints) == 0 {
		return ErrNoEndpoints
	}

	c, err := clientv3.New(clientv3.Config{
		Endpoints:   r.endpoints,
		DialTimeout: r.dialTimeout,
		Logger:      r.logger.Named("etcd"),
		Context:     r.ctx,
	})
	if err != nil {
		r.logger.Error("session init failed", zap.Strings("endpoints", r.endpoints), zap.Error(err))
		return fmt.Errorf("registry: init session: %w", err)
	}
	r.client = c
	r.state.Store(int32(Connecting))
	go r.watchSession(c.ActiveConnection())
	return nil
}

// watchSession runs for the session lifetime and mirrors the gRPC connection
// state into the registry state, releasing Connect on the first Ready.
func (r *EtcdRegistry) watchSession(conn *grpc.ClientConn) {
	for {
		s := conn.GetState()
		switch s {
		case connectivity.Ready:
			if State(r.state.Swap(int32(Connected))) != Connected {
				r.logger.Info("session connected", zap.Strings("endpoints", r.endpoints))
			}
			r.connectOnce.Do(func() { close(r.connected) })
		case connectivity.Shutdown:
			r.state.Store(int32(Disconnected))
			return
		case connectivity.Idle:
			r.state.Store(int32(Connecting))
			conn.Connect()
		default:
			if State(r.state.Swap(int32(Connecting))) == Connected {
				r.logger.Warn("session lost, reconnecting", zap.String("grpc_state", s.String()))
			}
		}
		if !conn.WaitForStateChange(r.ctx, s) {
			r.state.Store(int32(Disconnected))
			return
		}
	}
}

func (r *EtcdRegistry) activeClient() (*clientv3.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil, ErrNotConnected
	}
	return r.client, nil
}

// CreateNode creates path with data unless it already exists. The existence
// check and the put run in one transaction, so concurrent creators agree on a
// single value.
func (r *EtcdRegistry) CreateNode(ctx context.Context, path string, data []byte, mode NodeMode) error {
	cli, err := r.activeClient()
	if err != nil {
		return err
	}

	var opts []clientv3.OpOption
	if mode == NodeEphemeral {
		lease, err := r.sessionLease(ctx, cli)
		if err != nil {
			return err
		}
		opts = append(opts, clientv3.WithLease(lease))
	}

	resp, err := cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
		Then(clientv3.OpPut(path, string(data), opts...)).
		Commit()
	if err != nil {
		r.logger.Error("node create failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("registry: create %s: %w", path, err)
	}
	if resp.Succeeded {
		r.logger.Info("node created", zap.String("path", path), zap.Stringer("mode", mode))
	} else {
		r.logger.Debug("node exists", zap.String("path", path))
	}
	return nil
}

// sessionLease grants the session lease on first use and keeps it alive
// until Close.
func (r *EtcdRegistry) sessionLease(ctx context.Context, cli *clientv3.Client) (clientv3.LeaseID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaseID != 0 {
		return r.leaseID, nil
	}

	lease, err := cli.Grant(ctx, r.leaseTTL)
	if err != nil {
		return 0, fmt.Errorf("registry: grant lease: %w", err)
	}
	ch, err := cli.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return 0, fmt.Errorf("registry: keepalive lease: %w", err)
	}
	// Drain keepalive responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.Int64("lease", int64(lease.ID)))
	}()

	r.leaseID = lease.ID
	return lease.ID, nil
}

// GetData returns the value stored at path. A missing node is ErrNoNode.
func (r *EtcdRegistry) GetData(ctx context.Context, path string) (string, error) {
	cli, err := r.activeClient()
	if err != nil {
		return "", err
	}
	resp, err := cli.Get(ctx, path)
	if err != nil {
		r.logger.Error("get failed", zap.String("path", path), zap.Error(err))
		return "", fmt.Errorf("registry: get %s: %w", path, err)
	}
	if len(resp.Kvs) == 0 {
		r.logger.Error("node not found", zap.String("path", path))
		return "", fmt.Errorf("%w: %s", ErrNoNode, path)
	}
	return string(resp.Kvs[0].Value), nil
}

// Close revokes the session lease, removing ephemeral nodes, and closes the
// client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.client != nil && r.leaseID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if _, rerr := r.client.Revoke(ctx, r.leaseID); rerr != nil {
			r.logger.Warn("lease revoke failed", zap.Error(rerr))
		}
		cancel()
		r.leaseID = 0
	}
	r.cancel()
	if r.client != nil {
		err = r.client.Close()
		r.client = nil
	}
	r.state.Store(int32(Disconnected))
	return err
}
