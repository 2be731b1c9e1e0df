package metrics

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_WindowKeepsMostRecent(t *testing.T) {
	const capacity = 10
	c := NewCollector(capacity)

	for i := 0; i < capacity+5; i++ {
		c.Record("email.sent", float64(i), nil)
	}

	samples := c.Samples()
	require.Len(t, samples, capacity)
	for i, s := range samples {
		assert.Equal(t, float64(i+5), s.Value, "sample %d", i)
	}
}

func TestCollector_Summary(t *testing.T) {
	c := NewCollector(0)
	c.Increment("email.sent", nil)
	c.Increment("email.sent", nil)
	c.Record("email.duration_ms", 10, map[string]string{"sender": "a@example.com"})
	c.Record("email.duration_ms", 30, nil)

	sum := c.Summary()
	assert.Equal(t, Aggregate{Count: 2, Sum: 2, Avg: 1}, sum["email.sent"])
	assert.Equal(t, Aggregate{Count: 2, Sum: 40, Avg: 20}, sum["email.duration_ms"])
	_, ok := sum["email.failed"]
	assert.False(t, ok)
}

func TestCollector_SummaryOnlyCoversWindow(t *testing.T) {
	c := NewCollector(2)
	c.Record("latency", 100, nil)
	c.Record("latency", 2, nil)
	c.Record("latency", 4, nil)

	assert.Equal(t, Aggregate{Count: 2, Sum: 6, Avg: 3}, c.Summary()["latency"])
}

func TestCollector_Clear(t *testing.T) {
	c := NewCollector(3)
	for i := 0; i < 5; i++ {
		c.Increment("x", nil)
	}
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Summary())

	c.Record("y", 7, nil)
	require.Len(t, c.Samples(), 1)
	assert.Equal(t, "y", c.Samples()[0].Name)
}

func TestCollector_TagsAreCopied(t *testing.T) {
	c := NewCollector(5)
	tags := map[string]string{"industry": "dental"}
	c.Increment("email.sent", tags)
	tags["industry"] = "legal"

	assert.Equal(t, "dental", c.Samples()[0].Tags["industry"])
}

func TestCollector_ConcurrentRecord(t *testing.T) {
	c := NewCollector(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Increment(fmt.Sprintf("worker.%d", w%2), nil)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, c.Len())
	total := 0
	for _, a := range c.Summary() {
		total += a.Count
	}
	assert.Equal(t, 50, total)
}

func TestCollector_PrometheusMirror(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(1, WithRegisterer(reg))

	c.Increment("email.sent", nil)
	c.Increment("email.sent", nil)
	c.Record("email.duration_ms", 42, nil)

	m := c.mirror
	assert.Equal(t, float64(2), testutil.ToFloat64(m.samples.WithLabelValues("email.sent")))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.lastValue.WithLabelValues("email.duration_ms")))
	// the window holds one sample but the exported total keeps counting
	assert.Equal(t, 1, c.Len())
}
