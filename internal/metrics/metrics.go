// Package metrics exposes pipeline measurements in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "handsfree"

// Collector records pipeline measurements into its own registry
type Collector struct {
	registry *prometheus.Registry

	segmentsSealed        prometheus.Counter
	segmentsDiscarded     *prometheus.CounterVec
	transcriptions        *prometheus.CounterVec
	transcriptionDuration *prometheus.HistogramVec
	sessionsStarted       prometheus.Counter
	sessionsStopped       *prometheus.CounterVec
	queueDepth            prometheus.Gauge
}

// New creates a collector with pipeline and Go runtime metrics registered
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		segmentsSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_sealed_total",
			Help:      "Total number of segments sealed and queued for transcription",
		}),
		segmentsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_discarded_total",
			Help:      "Total number of segments dropped before transcription",
		}, []string{"reason"}), // reason: no_speech, too_small
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total number of transcription calls by result",
		}, []string{"result"}), // result: success, empty, or an error kind
		transcriptionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Duration of transcription calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"result"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of listening sessions started",
		}),
		sessionsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of listening sessions ended by stop reason",
		}, []string{"stop_reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of sealed segments waiting for transcription",
		}),
	}

	c.registry.MustRegister(
		c.segmentsSealed,
		c.segmentsDiscarded,
		c.transcriptions,
		c.transcriptionDuration,
		c.sessionsStarted,
		c.sessionsStopped,
		c.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an http.Handler for the metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (c *Collector) SegmentSealed() {
	c.segmentsSealed.Inc()
}

func (c *Collector) SegmentDiscarded(reason string) {
	c.segmentsDiscarded.WithLabelValues(reason).Inc()
}

func (c *Collector) Transcription(result string, took time.Duration) {
	c.transcriptions.WithLabelValues(result).Inc()
	c.transcriptionDuration.WithLabelValues(result).Observe(took.Seconds())
}

func (c *Collector) SessionStarted() {
	c.sessionsStarted.Inc()
}

func (c *Collector) SessionStopped(reason string) {
	c.sessionsStopped.WithLabelValues(reason).Inc()
}

func (c *Collector) QueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}
