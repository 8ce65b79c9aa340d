// Package metrics exposes delivery and cycle counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"video_notifier/internal/domain"
)

const namespace = "video_notifier"

// Collector implements service.Metrics.
type Collector struct {
	deliveries         *prometheus.CounterVec
	deliveryLatency    prometheus.Histogram
	cycles             *prometheus.CounterVec
	cycleDuration      *prometheus.HistogramVec
	sourcesChecked     prometheus.Counter
	sourcesSkipped     prometheus.Counter
	itemsFound         prometheus.Counter
	obligationsCreated prometheus.Counter
	removed            *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Processed obligations by outcome.",
		}, []string{"outcome"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent processing one obligation.",
			Buckets:   prometheus.DefBuckets,
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished check and clean cycles.",
		}, []string{"kind"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of check and clean cycles.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}, []string{"kind"}),
		sourcesChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_checked_total",
			Help:      "Sources fetched successfully.",
		}),
		sourcesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_skipped_total",
			Help:      "Sources whose fetch failed.",
		}),
		itemsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_found_total",
			Help:      "New items stored.",
		}),
		obligationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obligations_created_total",
			Help:      "Delivery obligations enqueued.",
		}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removed_total",
			Help:      "Rows removed by clean cycles.",
		}, []string{"entity"}),
	}

	reg.MustRegister(
		c.deliveries,
		c.deliveryLatency,
		c.cycles,
		c.cycleDuration,
		c.sourcesChecked,
		c.sourcesSkipped,
		c.itemsFound,
		c.obligationsCreated,
		c.removed,
	)

	return c
}

func (c *Collector) ObserveDelivery(outcome string, duration time.Duration) {
	c.deliveries.WithLabelValues(outcome).Inc()
	c.deliveryLatency.Observe(duration.Seconds())
}

func (c *Collector) ObserveCycle(summary *domain.CycleSummary) {
	kind := string(summary.Kind)
	c.cycles.WithLabelValues(kind).Inc()
	c.cycleDuration.WithLabelValues(kind).Observe(float64(summary.DurationMS) / 1000)

	switch summary.Kind {
	case domain.CycleCheck:
		c.sourcesChecked.Add(float64(summary.SourcesChecked))
		c.sourcesSkipped.Add(float64(summary.SourcesSkipped))
		c.itemsFound.Add(float64(summary.ItemsFound))
		c.obligationsCreated.Add(float64(summary.ObligationsCreated))
	case domain.CycleClean:
		c.removed.WithLabelValues("destination").Add(float64(summary.RemovedDestinations))
		c.removed.WithLabelValues("source").Add(float64(summary.RemovedSources))
		c.removed.WithLabelValues("item").Add(float64(summary.RemovedItems))
	}
}

type pendingCounter interface {
	Pending(ctx context.Context) (int64, error)
}

// RegisterQueueDepth reports the number of pending obligations at scrape time.
// A failed count is reported as -1.
func RegisterQueueDepth(reg prometheus.Registerer, queue pendingCounter, timeout time.Duration) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_obligations",
		Help:      "Obligations waiting in the delivery queue.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		n, err := queue.Pending(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}))
}

// Handler serves the gathered metrics under path.
func Handler(gatherer prometheus.Gatherer, path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
