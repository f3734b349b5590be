package telemetry

import (
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"netsync/logging"
)

// Metric keys shared by the transport, authority, and client.
const (
	KeyBytesSent         = "transport_bytes_sent"
	KeyBytesReceived     = "transport_bytes_received"
	KeyPacketsDropped    = "transport_packets_dropped_total"
	KeyHeartbeatsSent    = "heartbeats_sent_total"
	KeyHeartbeatsApplied = "heartbeats_applied_total"
	KeyHeartbeatsStale   = "heartbeats_stale_total"
	KeyRewinds           = "prediction_rewinds_total"
	KeyReplayedTicks     = "prediction_replayed_ticks_total"
	KeySpawnRequests     = "spawn_requests_total"
	KeyMalformedPackets  = "malformed_packets_total"
	KeyPeersActive       = "peers_active"
	KeyEntities          = "entities_live"
	KeyTick              = "tick_current"
)

// Counters is a Metrics backed by logging.Metrics that can render its
// values for humans.
type Counters struct {
	metrics *logging.Metrics
	sink    Metrics
}

// NewCounters wraps metrics. A nil argument allocates a private set.
func NewCounters(metrics *logging.Metrics) *Counters {
	if metrics == nil {
		metrics = &logging.Metrics{}
	}
	return &Counters{metrics: metrics, sink: WrapMetrics(metrics)}
}

func (c *Counters) Add(key string, delta uint64) {
	if c == nil {
		return
	}
	c.sink.Add(key, delta)
}

func (c *Counters) Store(key string, value uint64) {
	if c == nil {
		return
	}
	c.sink.Store(key, value)
}

// Value returns the current value of key.
func (c *Counters) Value(key string) uint64 {
	if c == nil {
		return 0
	}
	return c.metrics.Value(key)
}

// Snapshot copies every value.
func (c *Counters) Snapshot() map[string]uint64 {
	if c == nil {
		return nil
	}
	return c.metrics.Snapshot()
}

// Humanized renders every value: byte counters as sizes, everything else
// with thousands separators.
func (c *Counters) Humanized() map[string]string {
	snapshot := c.Snapshot()
	out := make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		out[k] = FormatValue(k, v)
	}
	return out
}

// Summary renders "key=value" pairs for keys, or for every key when none
// are given, in a stable order suitable for a periodic log line.
func (c *Counters) Summary(keys ...string) string {
	snapshot := c.Snapshot()
	if len(keys) == 0 {
		keys = make([]string, 0, len(snapshot))
		for k := range snapshot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+FormatValue(k, snapshot[k]))
	}
	return strings.Join(parts, " ")
}

// FormatValue renders one metric for humans.
func FormatValue(key string, value uint64) string {
	if strings.Contains(key, "bytes") {
		return humanize.Bytes(value)
	}
	return humanize.Comma(int64(value))
}
