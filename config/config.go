// Package config loads the key=value runtime configuration shared by the
// registry client, the channel and the provider.
//
// File format, one entry per line:
//
//	# comment
//	zookeeperip   = 127.0.0.1
//	zookeeperport = 2379
//
// Lines without '=' are skipped. Key and value are trimmed, the value keeps
// everything after the first '='. A repeated key overwrites the earlier one.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Keys read by the framework.
const (
	KeyRegistryIP             = "zookeeperip"
	KeyRegistryPort           = "zookeeperport"
	KeyRegistryEndpoints      = "registry_endpoints"
	KeyRegistrySessionTimeout = "registry_session_timeout_ms"
	KeyRegistryDialTimeout    = "registry_dial_timeout_ms"
	KeyServerIP               = "rpcserverip"
	KeyServerPort             = "rpcserverport"
	KeyConnectTimeout         = "rpc_connect_timeout_ms"
	KeyCallTimeout            = "rpc_call_timeout_ms"
	KeyMaxResponseSize        = "rpc_max_response_size"
	KeyConnectRetries         = "rpc_connect_retries"
	KeyLogLevel               = "log_level"
)

// Config is populated once and read-only afterwards, so it is safe to share
// between goroutines without locking.
type Config struct {
	values map[string]string
}

// New returns an empty config.
func New() *Config {
	return &Config{values: make(map[string]string)}
}

// FromMap builds a config from already parsed pairs.
func FromMap(m map[string]string) *Config {
	c := New()
	for k, v := range m {
		c.values[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return c
}

// Load reads the file at path. An unreadable file is an error; callers at
// process start treat it as fatal.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	c := New()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		c.parseLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) parseLine(line string) {
	line = strings.TrimSpace(strings.TrimRight(line, "\r\n"))
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	c.values[strings.TrimSpace(key)] = strings.TrimSpace(value)
}

// Get returns the value for key, or "" when the key is absent.
// Use Lookup when an empty value must be told apart from a missing key.
func (c *Config) Get(key string) string {
	return c.values[key]
}

// Lookup returns the value for key and whether it was present.
func (c *Config) Lookup(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Len reports the number of keys.
func (c *Config) Len() int {
	return len(c.values)
}

// Int returns key parsed as an integer, or def when absent or malformed.
func (c *Config) Int(key string, def int) int {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Millis reads key as a number of milliseconds.
func (c *Config) Millis(key string, def time.Duration) time.Duration {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// RegistryEndpoints returns the coordination-service endpoints. An explicit
// registry_endpoints list wins over the zookeeperip/zookeeperport pair.
func (c *Config) RegistryEndpoints() []string {
	if list := c.values[KeyRegistryEndpoints]; list != "" {
		var eps []string
		for _, ep := range strings.Split(list, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				eps = append(eps, ep)
			}
		}
		return eps
	}
	host, port := c.values[KeyRegistryIP], c.values[KeyRegistryPort]
	if host == "" || port == "" {
		return nil
	}
	return []string{host + ":" + port}
}

// ServerAddr returns the provider address built from rpcserverip and
// rpcserverport, or "" when either is missing.
func (c *Config) ServerAddr() string {
	host, port := c.values[KeyServerIP], c.values[KeyServerPort]
	if host == "" || port == "" {
		return ""
	}
	return host + ":" + port
}
