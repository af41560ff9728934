package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/location"
	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
)

var (
	_ location.Observer       = (*Metrics)(nil)
	_ pebblestore.MetricsHook = (*Metrics)(nil)
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "global")

	m.Transition(element.Available, element.Negotiating)
	m.Transition(element.Available, element.Negotiating)
	m.Conflict("getwork")
	m.ObserveLookup(false)
	m.ObserveBatchCommit(time.Millisecond, 3, 100)
	m.SetElements(map[element.Status]int{element.Available: 4})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("Available", "Negotiating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("getwork")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("unavailable")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.batchOps))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Elements.WithLabelValues("Available")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Elements.WithLabelValues("Done")))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			var queue string
			for _, l := range metric.GetLabel() {
				if l.GetName() == "queue" {
					queue = l.GetValue()
				}
			}
			assert.Equal(t, "global", queue, f.GetName())
		}
	}
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop()
		NewNop()
	})
}
