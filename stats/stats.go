// Copyright 2017 Pilosa Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats defines the generic metrics sink the manager and engine
// pools report to. Concrete backends (package statsd, package metrics)
// implement StatsClient; callers that don't care which backend is wired in
// only ever see this interface.
package stats

import (
	"sort"
	"time"
)

// StatsClient represents a client to a stats server.
type StatsClient interface {
	// Tags returns a sorted list of tags on the client.
	Tags() []string

	// WithTags returns a new client with additional tags appended.
	WithTags(tags ...string) StatsClient

	// Count tracks the number of times something occurs per second.
	Count(name string, value int64, rate float64)

	// Gauge sets the value of a metric.
	Gauge(name string, value float64, rate float64)

	// Timing tracks timing information for a metric.
	Timing(name string, value time.Duration, rate float64)
}

// NopStatsClient discards everything. It's the default when a caller
// doesn't configure a metrics backend.
var NopStatsClient StatsClient = nopStatsClient{}

type nopStatsClient struct{}

func (nopStatsClient) Tags() []string                              { return nil }
func (c nopStatsClient) WithTags(tags ...string) StatsClient       { return c }
func (nopStatsClient) Count(name string, value int64, rate float64) {}
func (nopStatsClient) Gauge(name string, value float64, rate float64) {}
func (nopStatsClient) Timing(name string, value time.Duration, rate float64) {}

// MultiStatsClient joins multiple stats clients together, so the manager
// can be configured to report to more than one backend (e.g. statsd and
// Prometheus) without knowing either concretely.
type MultiStatsClient []StatsClient

func (a MultiStatsClient) Tags() []string {
	if len(a) > 0 {
		return a[0].Tags()
	}
	return nil
}

func (a MultiStatsClient) WithTags(tags ...string) StatsClient {
	other := make(MultiStatsClient, len(a))
	for i := range a {
		other[i] = a[i].WithTags(tags...)
	}
	return other
}

func (a MultiStatsClient) Count(name string, value int64, rate float64) {
	for _, c := range a {
		c.Count(name, value, rate)
	}
}

func (a MultiStatsClient) Gauge(name string, value float64, rate float64) {
	for _, c := range a {
		c.Gauge(name, value, rate)
	}
}

func (a MultiStatsClient) Timing(name string, value time.Duration, rate float64) {
	for _, c := range a {
		c.Timing(name, value, rate)
	}
}

// UnionStringSlice returns a sorted set of tags which combine a & b.
func UnionStringSlice(a, b []string) []string {
	sort.Strings(a)
	sort.Strings(b)

	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return nil
	}

	other := make([]string, 0, n)
	for len(a) > 0 || len(b) > 0 {
		switch {
		case len(a) == 0:
			other, b = append(other, b[0]), b[1:]
		case len(b) == 0:
			other, a = append(other, a[0]), a[1:]
		case a[0] < b[0]:
			other, a = append(other, a[0]), a[1:]
		case b[0] < a[0]:
			other, b = append(other, b[0]), b[1:]
		default:
			other, a, b = append(other, a[0]), a[1:], b[1:]
		}
	}
	return other
}
