// Package metrics holds the Prometheus collectors of one queue process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmwm/workqueue/internal/element"
)

const namespace = "workqueue"

// Metrics groups the collectors of one queue.
type Metrics struct {
	Injected        prometheus.Counter
	Duplicates      prometheus.Counter
	SplittingErrors prometheus.Counter
	Rejected        prometheus.Counter
	Acquired        prometheus.Counter
	GetWorkDuration prometheus.Histogram
	Transitions     *prometheus.CounterVec
	Conflicts       *prometheus.CounterVec
	Deferred        prometheus.Counter
	Expired         prometheus.Counter
	Purged          prometheus.Counter
	SyncCycles      *prometheus.CounterVec
	Pulled          prometheus.Counter
	Pushed          prometheus.Counter
	Delivered       prometheus.Counter
	Lookups         *prometheus.CounterVec
	Elements        *prometheus.GaugeVec

	storeWrite *prometheus.HistogramVec
	storeBytes *prometheus.CounterVec
	batchOps   prometheus.Counter
}

// New registers the collectors for queue with reg.
func New(reg prometheus.Registerer, queue string) *Metrics {
	labels := prometheus.Labels{"queue": queue}
	f := promauto.With(reg)
	return &Metrics{
		Injected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "elements_injected_total", ConstLabels: labels,
			Help: "Elements created by queueWork.",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "elements_duplicate_total", ConstLabels: labels,
			Help: "Elements skipped by queueWork because they already exist.",
		}),
		SplittingErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "splitting_errors_total", ConstLabels: labels,
			Help: "Tasks that failed to split.",
		}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "closed_request_injections_total", ConstLabels: labels,
			Help: "Injections refused because the request was already closed.",
		}),
		Acquired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "elements_acquired_total", ConstLabels: labels,
			Help: "Elements handed out by getWork.",
		}),
		GetWorkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "getwork_duration_seconds", ConstLabels: labels,
			Help:    "Time spent matching and claiming in getWork.",
			Buckets: prometheus.DefBuckets,
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_transitions_total", ConstLabels: labels,
			Help: "Element status transitions written.",
		}, []string{"from", "to"}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "revision_conflicts_total", ConstLabels: labels,
			Help: "Writes that lost a revision check.",
		}, []string{"op"}),
		Deferred: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deferred_updates_total", ConstLabels: labels,
			Help: "Updates left for the next cycle after exhausting retries.",
		}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "negotiations_expired_total", ConstLabels: labels,
			Help: "Negotiating elements returned to Available.",
		}),
		Purged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "elements_purged_total", ConstLabels: labels,
			Help: "Elements deleted with archived requests.",
		}),
		SyncCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_cycles_total", ConstLabels: labels,
			Help: "Synchronization cycles with the parent queue.",
		}, []string{"result"}),
		Pulled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_pulled_total", ConstLabels: labels,
			Help: "Elements pulled from the parent queue.",
		}),
		Pushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_pushed_total", ConstLabels: labels,
			Help: "Status updates accepted by the parent queue.",
		}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handoff_delivered_total", ConstLabels: labels,
			Help: "Acquired elements handed to job creation.",
		}),
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "location_lookups_total", ConstLabels: labels,
			Help: "Location service lookups by result.",
		}, []string{"result"}),
		Elements: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "elements", ConstLabels: labels,
			Help: "Elements per status seen by the last cleanup pass.",
		}, []string{"status"}),
		storeWrite: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "op_duration_seconds", ConstLabels: labels,
			Help:    "Pebble operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		storeBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "bytes_total", ConstLabels: labels,
			Help: "Bytes read from and written to Pebble.",
		}, []string{"op"}),
		batchOps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "batch_ops_total", ConstLabels: labels,
			Help: "Operations committed in Pebble batches.",
		}),
	}
}

// NewNop returns collectors on a private registry.
func NewNop() *Metrics { return New(prometheus.NewRegistry(), "") }

// Transition counts one status change.
func (m *Metrics) Transition(from, to element.Status) {
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

// Conflict counts one lost revision check.
func (m *Metrics) Conflict(op string) { m.Conflicts.WithLabelValues(op).Inc() }

// SetElements replaces the per-status gauge.
func (m *Metrics) SetElements(counts map[element.Status]int) {
	for _, s := range element.AllStatuses {
		m.Elements.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// ObserveLookup implements location.Observer.
func (m *Metrics) ObserveLookup(ok bool) {
	if ok {
		m.Lookups.WithLabelValues("ok").Inc()
		return
	}
	m.Lookups.WithLabelValues("unavailable").Inc()
}

// ObserveWrite, ObserveRead and ObserveBatchCommit implement the Pebble
// metrics hook.
func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storeWrite.WithLabelValues("write").Observe(elapsed.Seconds())
	m.storeBytes.WithLabelValues("write").Add(float64(bytes))
}

func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storeWrite.WithLabelValues("read").Observe(elapsed.Seconds())
	m.storeBytes.WithLabelValues("read").Add(float64(bytes))
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.storeWrite.WithLabelValues("batch").Observe(elapsed.Seconds())
	m.storeBytes.WithLabelValues("write").Add(float64(bytes))
	m.batchOps.Add(float64(numOps))
}
