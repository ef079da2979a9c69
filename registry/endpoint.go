package registry

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is the reachable address of a provider.
type Endpoint struct {
	Host string
	Port uint16
}

// ParseEndpoint splits a registry value at its first ':'. A value without the
// separator, with an empty host, or with a port outside 1..65535 is rejected.
func ParseEndpoint(value string) (Endpoint, error) {
	host, port, ok := strings.Cut(value, ":")
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q has no ':' separator", ErrInvalidEndpoint, value)
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q has an empty host", ErrInvalidEndpoint, value)
	}
	p, err := strconv.ParseUint(strings.TrimSpace(port), 10, 16)
	if err != nil || p == 0 {
		return Endpoint{}, fmt.Errorf("%w: %q has a bad port", ErrInvalidEndpoint, value)
	}
	return Endpoint{Host: host, Port: uint16(p)}, nil
}

// String returns the dialable "host:port" form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}
