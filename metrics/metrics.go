// Package metrics adapts the manager's and engine's metric calls onto
// Prometheus gauges, registering a GaugeVec per metric name on first use
// and letting arbitrary call sites update them by name thereafter.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/glyphcore/taskgraph/stats"
)

// registry is the state shared by a Client and every Client derived from it
// via WithTags: the gauge cache and the mutex guarding it must be shared,
// not copied, or two tagged clients could register the same metric name
// twice.
type registry struct {
	namespace string

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec

	poolSize *prometheus.GaugeVec
}

// Client adapts an arbitrary stats.StatsClient call onto Prometheus gauges,
// registering one GaugeVec per metric name the first time it's seen (keyed
// by the tag set accumulated via WithTags) and one GaugeVec for engine pool
// sizes keyed by accessor. Namespace prefixes every registered metric, the
// way performancecounters.go's PerfCounter entries all share a namespace.
type Client struct {
	reg  *registry
	tags []string
}

var _ stats.StatsClient = (*Client)(nil)

// NewClient constructs a metrics.Client and registers its per-accessor pool
// size gauge. Panics via prometheus.MustRegister if namespace's metrics are
// already registered in the default registry, matching
// performancecounters.go's init-time MustRegister pattern.
func NewClient(namespace string) *Client {
	reg := &registry{
		namespace: namespace,
		gauges:    make(map[string]*prometheus.GaugeVec),
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pool_size",
			Help:      "Number of live worker goroutines in an accessor's engine pool.",
		}, []string{"accessor"}),
	}
	prometheus.MustRegister(reg.poolSize)
	return &Client{reg: reg}
}

// Tags returns the tag set this client attaches to every metric it reports.
func (c *Client) Tags() []string { return c.tags }

// WithTags returns a Client that reports the same metrics with an extended
// tag set, sharing the parent's registered gauges.
func (c *Client) WithTags(tags ...string) stats.StatsClient {
	return &Client{
		reg:  c.reg,
		tags: stats.UnionStringSlice(c.tags, tags),
	}
}

// Count is implemented as an absolute gauge set rather than a delta to
// accumulate. The manager reports task_count and task_count_sync as
// point-in-time totals through Gauge; nothing in this module calls Count.
func (c *Client) Count(name string, value int64, rate float64) {
	c.Gauge(name, float64(value), rate)
}

// Gauge sets the named metric's value, creating and registering its
// GaugeVec on first use.
func (c *Client) Gauge(name string, value float64, rate float64) {
	g := c.gaugeFor(name)
	g.WithLabelValues(strings.Join(c.tags, ",")).Set(value)
}

// Timing records a duration as a gauge in milliseconds; this domain has no
// latency-sensitive call sites yet, but the method must exist to satisfy
// stats.StatsClient.
func (c *Client) Timing(name string, value time.Duration, rate float64) {
	g := c.gaugeFor(name + "_ms")
	g.WithLabelValues(strings.Join(c.tags, ",")).Set(float64(value.Milliseconds()))
}

// PoolSize reports an accessor's live worker count, satisfying
// engine.Stats.
func (c *Client) PoolSize(accessor string, n int) {
	c.reg.poolSize.WithLabelValues(accessor).Set(float64(n))
}

func (c *Client) gaugeFor(name string) *prometheus.GaugeVec {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	g, ok := c.reg.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.reg.namespace,
			Name:      sanitize(name),
			Help:      fmt.Sprintf("%s, reported via stats.StatsClient.", name),
		}, []string{"tags"})
		prometheus.MustRegister(g)
		c.reg.gauges[name] = g
	}
	return g
}

// sanitize maps a stats metric name onto a valid Prometheus metric name
// (letters, digits, underscores only); this domain's names are already
// snake_case, so this is a defensive no-op in practice.
func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		b := name[i]
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_' {
			out[i] = b
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}
