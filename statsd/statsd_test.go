package statsd_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/glyphcore/taskgraph/statsd"
)

func TestStatsClient_WithTags(t *testing.T) {
	c, err := statsd.NewStatsClient("localhost:19444")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c1 := c.WithTags("foo", "bar")
	if tags := c1.Tags(); !reflect.DeepEqual(tags, []string{"bar", "foo"}) {
		t.Fatalf("unexpected tags: %+v", tags)
	}

	c2 := c1.WithTags("bar", "baz")
	if tags := c2.Tags(); !reflect.DeepEqual(tags, []string{"bar", "baz", "foo"}) {
		t.Fatalf("unexpected tags: %+v", tags)
	}
}

func TestStatsClient_Methods(t *testing.T) {
	c, err := statsd.NewStatsClient("localhost:19444")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	dur, _ := time.ParseDuration("123us")
	c.Count("cc", 1, 1.0)
	c.Gauge("gg", 10, 1.0)
	c.Timing("tt", dur, 1.0)
}
