package blackbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by Writer and Reader.
type Metrics struct {
	framesWritten prometheus.Counter
	bytesWritten  prometheus.Counter
	noChange      prometheus.Counter
	writeFailures prometheus.Counter
	overwrites    prometheus.Counter
	framesDecoded prometheus.Counter
	corruptFrames prometheus.Counter
	deltaSize     prometheus.Histogram
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace   string
	constLabels prometheus.Labels
	registry    prometheus.Registerer
}

// WithNamespace sets the metric namespace. Default: "blackbox".
func WithNamespace(ns string) MetricsOption {
	return func(c *metricsConfig) {
		c.namespace = ns
	}
}

// WithConstLabels adds constant labels to every collector.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *metricsConfig) {
		c.constLabels = labels
	}
}

// WithRegistry registers the collectors with reg. Without it the collectors are
// created but not registered anywhere.
func WithRegistry(reg prometheus.Registerer) MetricsOption {
	return func(c *metricsConfig) {
		c.registry = reg
	}
}

// NewMetrics creates the recorder collectors. Registering two sets with the same
// namespace on one registry panics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{namespace: "blackbox"}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.namespace,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.constLabels,
		})
	}

	return &Metrics{
		framesWritten: counter("frames_written_total", "Frames fully written to the sink."),
		bytesWritten:  counter("bytes_written_total", "Framed bytes written to the sink."),
		noChange:      counter("no_change_total", "Capture cycles whose snapshot matched the previous one."),
		writeFailures: counter("sink_write_failures_total", "Frames abandoned because the sink failed."),
		overwrites:    counter("mailbox_overwrites_total", "Snapshots replaced before the writer consumed them."),
		framesDecoded: counter("frames_decoded_total", "Frames decoded into snapshots."),
		corruptFrames: counter("corrupt_frames_total", "Frames rejected by the reader."),
		deltaSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.namespace,
			Name:        "delta_size_bytes",
			Help:        "Encoded delta size per non-empty capture cycle.",
			ConstLabels: cfg.constLabels,
			Buckets:     []float64{4, 8, 16, 32, 64, 96, 128, 192, 256},
		}),
	}
}
