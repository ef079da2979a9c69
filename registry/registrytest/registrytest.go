// Package registrytest provides an in-memory registry.Registry for tests.
package registrytest

import (
	"context"
	"fmt"
	"sync"

	"krpc/registry"
)

// Registry keeps nodes in a map. Ephemeral nodes are removed by Close.
type Registry struct {
	// ConnectErr, when set, is returned by every Connect.
	ConnectErr error

	mu        sync.Mutex
	nodes     map[string]string
	ephemeral map[string]bool
	gets      int
	connected bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		nodes:     make(map[string]string),
		ephemeral: make(map[string]bool),
	}
}

// Connect returns ConnectErr, or marks the registry connected.
func (r *Registry) Connect(ctx context.Context) error {
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	return nil
}

// CreateNode stores data at path unless path exists.
func (r *Registry) CreateNode(ctx context.Context, path string, data []byte, mode registry.NodeMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[path]; !ok {
		r.nodes[path] = string(data)
		r.ephemeral[path] = mode == registry.NodeEphemeral
	}
	return nil
}

// GetData returns the value at path, or registry.ErrNoNode.
func (r *Registry) GetData(ctx context.Context, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	v, ok := r.nodes[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", registry.ErrNoNode, path)
	}
	return v, nil
}

// State reports Connected after a successful Connect.
func (r *Registry) State() registry.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return registry.Connected
	}
	return registry.Disconnected
}

// Close removes ephemeral nodes.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, eph := range r.ephemeral {
		if eph {
			delete(r.nodes, path)
			delete(r.ephemeral, path)
		}
	}
	r.connected = false
	return nil
}

// Set stores value at path, overwriting any existing node.
func (r *Registry) Set(path, value string) {
	r.mu.Lock()
	r.nodes[path] = value
	r.mu.Unlock()
}

// Node returns the value at path without counting as a lookup.
func (r *Registry) Node(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.nodes[path]
	return v, ok
}

// Ephemeral reports whether path was created as an ephemeral node.
func (r *Registry) Ephemeral(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ephemeral[path]
}

// Gets returns how many GetData calls have been made.
func (r *Registry) Gets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

var _ registry.Registry = (*Registry)(nil)
