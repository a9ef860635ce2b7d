// Package metrics exports rtpqos analysis results as Prometheus series.
package metrics

import (
	"context"
	"errors"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
)

// Error reasons used as the "reason" label of the errors counter.
const (
	ReasonEmptyStream      = "empty_stream"
	ReasonInsufficientData = "insufficient_data"
	ReasonInvalidPacket    = "invalid_packet"
	ReasonCanceled         = "canceled"
	ReasonOther            = "other"
)

// MetricsConfig names the exported series.
type MetricsConfig struct {
	// Namespace prefixes every series name.
	Namespace string

	// Subsystem follows the namespace.
	Subsystem string
}

// DefaultMetricsConfig returns the rtpqos_leg_* naming.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "rtpqos",
		Subsystem: "leg",
	}
}

// Collector records one observation per analysed leg. It is safe for
// concurrent use.
type Collector struct {
	analyzed   *prometheus.CounterVec
	errors     *prometheus.CounterVec
	packets    prometheus.Counter
	lost       prometheus.Counter
	duplicates prometheus.Counter
	loss       prometheus.Histogram
	jitter     prometheus.Histogram
	level      prometheus.Histogram
}

// NewCollector creates the series and registers them on reg. A nil reg
// uses prometheus.DefaultRegisterer. Registering twice on the same
// registry panics, as with promauto.
func NewCollector(config MetricsConfig, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if config.Namespace == "" {
		config.Namespace = DefaultMetricsConfig().Namespace
	}
	f := promauto.With(reg)
	ns, sub := config.Namespace, config.Subsystem

	return &Collector{
		analyzed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "analyzed_total",
			Help:      "Call legs analysed, by codec",
		}, []string{"codec"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "errors_total",
			Help:      "Call legs whose analysis failed, by reason",
		}, []string{"reason"}),
		packets: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "packets_total",
			Help:      "Packets received across analysed legs",
		}),
		lost: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "lost_packets_total",
			Help:      "Packets never received across analysed legs",
		}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "duplicate_packets_total",
			Help:      "Duplicate packets removed across analysed legs",
		}),
		loss: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "loss_ratio",
			Help:      "Per-leg ratio of lost to received packets",
			Buckets:   []float64{0, 0.001, 0.005, 0.01, 0.03, 0.08, 0.15, 0.3, 1},
		}),
		jitter: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "jitter_ms",
			Help:      "Per-leg final smoothed interarrival jitter in milliseconds",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500},
		}),
		level: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "rms_level_db",
			Help:      "Per-leg RMS level of the raw payload bytes in dB",
			Buckets:   prometheus.LinearBuckets(0, 6, 8),
		}),
	}
}

// Observe records a successful analysis.
func (c *Collector) Observe(stats *rtpqos.StreamStats) {
	if stats == nil {
		return
	}
	codecs := stats.Codecs
	if len(codecs) == 0 {
		codecs = []string{"unknown"}
	}
	for _, codec := range codecs {
		c.analyzed.WithLabelValues(codec).Inc()
	}

	c.packets.Add(float64(stats.Packets))
	c.lost.Add(float64(stats.Lost))
	c.duplicates.Add(float64(stats.DuplicatePackets()))

	c.loss.Observe(stats.Loss)
	c.jitter.Observe(stats.FinalJitter())
	// Silent legs have a level of -Inf, which would land in no useful bucket.
	if !math.IsInf(stats.RMSLevel, 0) {
		c.level.Observe(stats.RMSLevel)
	}
}

// ObserveError records a failed analysis.
func (c *Collector) ObserveError(err error) {
	if err == nil {
		return
	}
	c.errors.WithLabelValues(Reason(err)).Inc()
}

// Reason maps an analysis error to its metric label.
func Reason(err error) string {
	switch {
	case errors.Is(err, rtpqos.ErrEmptyStream):
		return ReasonEmptyStream
	case errors.Is(err, rtpqos.ErrInsufficientData):
		return ReasonInsufficientData
	case errors.Is(err, rtpqos.ErrInvalidPacket):
		return ReasonInvalidPacket
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	default:
		return ReasonOther
	}
}
