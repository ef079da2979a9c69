package registry

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"krpc/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const etcdAddr = "127.0.0.1:2379"

// connectEtcd returns a connected registry, or skips when no etcd is
// listening locally.
func connectEtcd(t *testing.T) *EtcdRegistry {
	t.Helper()
	conn, err := net.DialTimeout("tcp", etcdAddr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("etcd not reachable at %s: %v", etcdAddr, err)
	}
	conn.Close()

	reg := NewEtcdRegistry([]string{etcdAddr}, WithSessionTimeout(3*time.Second))
	require.NoError(t, reg.Connect(context.Background()))
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestNotConnected(t *testing.T) {
	reg := NewEtcdRegistry([]string{etcdAddr})
	assert.Equal(t, Disconnected, reg.State())

	_, err := reg.GetData(context.Background(), "/UserService/Login")
	assert.ErrorIs(t, err, ErrNotConnected)
	err = reg.CreateNode(context.Background(), "/UserService", nil, NodePersistent)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectTimeout(t *testing.T) {
	// Nothing listens on port 1; the session never becomes ready.
	reg := NewEtcdRegistry([]string{"127.0.0.1:1"}, WithSessionTimeout(200*time.Millisecond))
	defer reg.Close()

	start := time.Now()
	err := reg.Connect(context.Background())
	assert.ErrorIs(t, err, ErrSessionTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, Connecting, reg.State())
}

func TestConnectContextCancelled(t *testing.T) {
	reg := NewEtcdRegistry([]string{"127.0.0.1:1"}, WithSessionTimeout(time.Minute))
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := reg.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectAfterClose(t *testing.T) {
	reg := NewEtcdRegistry([]string{etcdAddr})
	require.NoError(t, reg.Close())
	assert.ErrorIs(t, reg.Connect(context.Background()), ErrNotConnected)
	assert.Equal(t, Disconnected, reg.State())
}

func TestNewFromConfig(t *testing.T) {
	_, err := NewFromConfig(config.New())
	assert.ErrorIs(t, err, ErrNoEndpoints)

	reg, err := NewFromConfig(config.FromMap(map[string]string{
		config.KeyRegistryIP:             "127.0.0.1",
		config.KeyRegistryPort:           "2379",
		config.KeyRegistrySessionTimeout: "1500",
	}))
	require.NoError(t, err)
	defer reg.Close()
	assert.Equal(t, []string{"127.0.0.1:2379"}, reg.endpoints)
	assert.Equal(t, 1500*time.Millisecond, reg.sessionTimeout)
	assert.Equal(t, DefaultDialTimeout, reg.dialTimeout)
}

func TestCreateAndGet(t *testing.T) {
	reg := connectEtcd(t)
	ctx := context.Background()
	assert.Equal(t, Connected, reg.State())

	service := fmt.Sprintf("RegistryTest%d", time.Now().UnixNano())
	path := MethodPath(service, "Login")

	require.NoError(t, reg.CreateNode(ctx, ServicePath(service), nil, NodePersistent))
	require.NoError(t, reg.CreateNode(ctx, path, []byte("127.0.0.1:7000"), NodeEphemeral))

	value, err := reg.GetData(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", value)

	// Creating again keeps the first value.
	require.NoError(t, reg.CreateNode(ctx, path, []byte("127.0.0.1:9999"), NodeEphemeral))
	value, err = reg.GetData(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", value)

	_, err = reg.GetData(ctx, MethodPath(service, "Missing"))
	assert.ErrorIs(t, err, ErrNoNode)

	reg.client.Delete(ctx, ServicePath(service))
}

func TestEphemeralNodeRemovedOnClose(t *testing.T) {
	owner := connectEtcd(t)
	observer := connectEtcd(t)
	ctx := context.Background()

	path := MethodPath(fmt.Sprintf("EphemeralTest%d", time.Now().UnixNano()), "Login")
	require.NoError(t, owner.CreateNode(ctx, path, []byte("127.0.0.1:7001"), NodeEphemeral))

	value, err := observer.GetData(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", value)

	require.NoError(t, owner.Close())

	_, err = observer.GetData(ctx, path)
	assert.ErrorIs(t, err, ErrNoNode)
}
