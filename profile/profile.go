// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package profile records the timing and memory checkpoints emitted by the
// solver into Prometheus collectors.
package profile

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Profiler accumulates named durations and heap checkpoints.
// It is safe for concurrent use by several solver runs.
type Profiler struct {
	registry *prometheus.Registry
	timings  *prometheus.HistogramVec
	heap     *prometheus.GaugeVec
	checks   *prometheus.CounterVec

	mu     sync.Mutex
	totals map[string]Timing
	// Skip reading runtime.MemStats, which stops the world.
	noMem bool
}

// Timing is the accumulated duration and call count of one name.
type Timing struct {
	Name  string
	Total time.Duration
	Calls int
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithoutMemory disables heap sampling in MemCheck; checkpoints are still counted.
func WithoutMemory() Option {
	return func(p *Profiler) { p.noMem = true }
}

// New creates a Profiler whose collectors are registered under namespace
// on a private registry.
func New(namespace string, opts ...Option) *Profiler {
	p := &Profiler{
		registry: prometheus.NewRegistry(),
		timings: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "section_duration_seconds",
			Help:      "Duration of profiled solver sections.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"section"}),
		heap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_alloc_bytes",
			Help:      "Heap bytes allocated at the last memory checkpoint.",
		}, []string{"checkpoint"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Number of memory checkpoints reached.",
		}, []string{"checkpoint"}),
		totals: make(map[string]Timing),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.registry.MustRegister(p.timings, p.heap, p.checks)
	return p
}

// Registry exposes the collectors, e.g. for promhttp.HandlerFor.
func (p *Profiler) Registry() *prometheus.Registry {
	return p.registry
}

// AddTime records the time elapsed since start under name.
func (p *Profiler) AddTime(name string, start time.Time) {
	d := time.Since(start)
	p.timings.WithLabelValues(name).Observe(d.Seconds())

	p.mu.Lock()
	t := p.totals[name]
	t.Name = name
	t.Total += d
	t.Calls++
	p.totals[name] = t
	p.mu.Unlock()
}

// MemCheck records the current heap allocation under name.
func (p *Profiler) MemCheck(name string) {
	p.checks.WithLabelValues(name).Inc()
	if p.noMem {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	p.heap.WithLabelValues(name).Set(float64(ms.HeapAlloc))
}

// Snapshot returns the accumulated timings, longest total first.
func (p *Profiler) Snapshot() []Timing {
	p.mu.Lock()
	out := make([]Timing, 0, len(p.totals))
	for _, t := range p.totals {
		out = append(out, t)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}
