package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestGaugeRegistersOncePerName(t *testing.T) {
	c := NewClient("taskgraph_test_gauge")

	c.Gauge("task_count", 3, 1)
	c.Gauge("task_count", 5, 1)

	g := c.gaugeFor("task_count").WithLabelValues("")
	if got := gaugeValue(t, g); got != 5 {
		t.Fatalf("gauge value = %v, want 5", got)
	}
}

func TestWithTagsSharesRegistryAcrossDerivedClients(t *testing.T) {
	c := NewClient("taskgraph_test_tags")
	tagged := c.WithTags("accessor:gpu")

	tagged.Gauge("task_count", 7, 1)

	// The base client's gaugeFor must resolve to the same registered
	// GaugeVec a derived, tagged client wrote through, since both share
	// one registry.
	g := c.gaugeFor("task_count").WithLabelValues("accessor:gpu")
	if got := gaugeValue(t, g); got != 7 {
		t.Fatalf("gauge value = %v, want 7", got)
	}
}

func TestPoolSizeReportsPerAccessor(t *testing.T) {
	c := NewClient("taskgraph_test_pool")
	c.PoolSize("gpu", 4)
	c.PoolSize("cpu", 1)

	if got := gaugeValue(t, c.reg.poolSize.WithLabelValues("gpu")); got != 4 {
		t.Fatalf("gpu pool size = %v, want 4", got)
	}
	if got := gaugeValue(t, c.reg.poolSize.WithLabelValues("cpu")); got != 1 {
		t.Fatalf("cpu pool size = %v, want 1", got)
	}
}
