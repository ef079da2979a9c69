// Package metrics names the telemetry emitted by the channel and the provider.
// Values go to the go-metrics global sink; install one with metrics.NewGlobal
// to export them.
package metrics

import (
	"time"

	"github.com/hashicorp/go-metrics"
)

var (
	CallCount       = []string{"krpc", "call", "count"}
	CallFailedCount = []string{"krpc", "call", "failed", "count"}
	CallLatency     = []string{"krpc", "call", "latency"}
	CallBytesOut    = []string{"krpc", "call", "bytes", "out"}
	CallBytesIn     = []string{"krpc", "call", "bytes", "in"}

	ConnectCount       = []string{"krpc", "connect", "count"}
	ConnectFailedCount = []string{"krpc", "connect", "failed", "count"}

	ProviderRequestCount       = []string{"krpc", "provider", "request", "count"}
	ProviderRequestFailedCount = []string{"krpc", "provider", "request", "failed", "count"}
	ProviderRequestLatency     = []string{"krpc", "provider", "request", "latency"}
)

// Label is a metric label name.
type Label string

var (
	LabelService Label = "service"
	LabelMethod  Label = "method"
	LabelPeer    Label = "peer"
	LabelReason  Label = "reason"
)

// M returns the label with value val.
func (lab Label) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// Method returns the service and method labels for a call.
func Method(service, method string) []metrics.Label {
	return []metrics.Label{LabelService.M(service), LabelMethod.M(method)}
}

// Incr adds one to the counter key.
func Incr(key []string, labels []metrics.Label) {
	metrics.IncrCounterWithLabels(key, 1, labels)
}

// Add adds n to the counter key.
func Add(key []string, n int, labels []metrics.Label) {
	metrics.IncrCounterWithLabels(key, float32(n), labels)
}

// Since records the time elapsed since start.
func Since(key []string, start time.Time, labels []metrics.Label) {
	metrics.MeasureSinceWithLabels(key, start, labels)
}

// Peer returns the label for a remote address.
func Peer(addr string) []metrics.Label {
	return []metrics.Label{LabelPeer.M(addr)}
}

// Setup installs an in-memory sink as the global sink for a process named
// serviceName. SIGUSR1 dumps the current values to stderr.
func Setup(serviceName string) (*metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(sink)

	cfg := metrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	if _, err := metrics.NewGlobal(cfg, sink); err != nil {
		return nil, err
	}
	return sink, nil
}
