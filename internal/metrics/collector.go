// Package metrics keeps a bounded, in-process window of named numeric samples
// and optionally mirrors them into Prometheus.
//
// The window is approximate history: once Capacity samples are retained the
// oldest sample is dropped for every new one. Summaries are computed over the
// retained window only, so callers that need fine resolution must poll often.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCapacity is the window size used when none is given.
const DefaultCapacity = 1000

// Sample is one recorded measurement.
type Sample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Aggregate summarises the retained samples of one name.
type Aggregate struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
}

// Collector is safe for concurrent use by every orchestrator worker.
type Collector struct {
	mu       sync.Mutex
	ring     []Sample
	head     int // index of the oldest sample once the ring is full
	capacity int
	now      func() time.Time
	mirror   *promMirror
}

// Option configures a Collector.
type Option func(*Collector)

// WithRegisterer mirrors every sample into Prometheus collectors registered on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Collector) {
		c.mirror = newPromMirror(reg)
	}
}

// WithClock overrides the sample timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// NewCollector creates a collector retaining at most capacity samples.
func NewCollector(capacity int, opts ...Option) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Collector{
		ring:     make([]Sample, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record appends a sample, evicting the oldest one when the window is full.
func (c *Collector) Record(name string, value float64, tags map[string]string) {
	s := Sample{Name: name, Value: value, Timestamp: c.now(), Tags: copyTags(tags)}

	c.mu.Lock()
	if len(c.ring) < c.capacity {
		c.ring = append(c.ring, s)
	} else {
		c.ring[c.head] = s
		c.head = (c.head + 1) % c.capacity
	}
	c.mu.Unlock()

	if c.mirror != nil {
		c.mirror.observe(name, value)
	}
}

// Increment records a +1 counter sample.
func (c *Collector) Increment(name string, tags map[string]string) {
	c.Record(name, 1, tags)
}

// IncrementBy records a counter sample of the given value.
func (c *Collector) IncrementBy(name string, value float64, tags map[string]string) {
	c.Record(name, value, tags)
}

// Samples returns a copy of the retained window, oldest first.
func (c *Collector) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Sample, 0, len(c.ring))
	out = append(out, c.ring[c.head:]...)
	out = append(out, c.ring[:c.head]...)
	return out
}

// Len returns the number of retained samples.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ring)
}

// Summary returns count, sum and average per name over the retained window.
func (c *Collector) Summary() map[string]Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Aggregate)
	for _, s := range c.ring {
		a := out[s.Name]
		a.Count++
		a.Sum += s.Value
		out[s.Name] = a
	}
	for name, a := range out {
		a.Avg = a.Sum / float64(a.Count)
		out[name] = a
	}
	return out
}

// Clear drops every retained sample. The Prometheus mirror keeps its totals.
func (c *Collector) Clear() {
	c.mu.Lock()
	c.ring = c.ring[:0]
	c.head = 0
	c.mu.Unlock()
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
