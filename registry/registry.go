package registry

import (
	"context"
	"errors"
)

var (
	ErrNoNode          = errors.New("registry: node does not exist")
	ErrNotConnected    = errors.New("registry: session is not connected")
	ErrSessionTimeout  = errors.New("registry: timed out waiting for session")
	ErrNoEndpoints     = errors.New("registry: no coordination service endpoints configured")
	ErrInvalidEndpoint = errors.New("registry: invalid endpoint")
)

// NodeMode selects the lifetime of a created node.
type NodeMode int

const (
	// NodePersistent nodes outlive the session that created them.
	NodePersistent NodeMode = iota
	// NodeEphemeral nodes are removed when the creating session ends.
	NodeEphemeral
)

// String returns the mode name.
func (m NodeMode) String() string {
	if m == NodeEphemeral {
		return "ephemeral"
	}
	return "persistent"
}

// State is the session state: Disconnected → Connecting → Connected.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Registry maps method paths "/{Service}/{Method}" to "ip:port" values.
//
// Connect must return before CreateNode or GetData are meaningful; the
// implementation reports ErrNotConnected when no session was ever started.
type Registry interface {
	Connect(ctx context.Context) error
	CreateNode(ctx context.Context, path string, data []byte, mode NodeMode) error
	GetData(ctx context.Context, path string) (string, error)
	State() State
	Close() error
}

// ServicePath returns "/{service}".
func ServicePath(service string) string {
	return "/" + service
}

// MethodPath returns "/{service}/{method}".
func MethodPath(service, method string) string {
	return "/" + service + "/" + method
}
