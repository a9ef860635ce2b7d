package interceptor

import (
	"errors"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
)

// FactoryOption configures the QoSInterceptorFactory.
type FactoryOption func(*QoSInterceptorFactory) error

// QoSInterceptorFactory creates QoSInterceptor instances for each
// PeerConnection. Register it with the interceptor registry to get a QoS
// report for every received stream.
type QoSInterceptorFactory struct {
	config        rtpqos.AnalyzerConfig
	streamTimeout time.Duration
	useClockRate  bool
	onReport      func(id string, r Report)
	observer      Observer
	loggerFactory logging.LoggerFactory
}

// WithAnalyzerConfig replaces the analysis configuration.
// Default: rtpqos.DefaultAnalyzerConfig()
func WithAnalyzerConfig(config rtpqos.AnalyzerConfig) FactoryOption {
	return func(f *QoSInterceptorFactory) error {
		f.config = config
		return nil
	}
}

// WithLookaheadWindow sets how many packets ahead a gap is searched for
// late arrivals. Default: 10
func WithLookaheadWindow(n int) FactoryOption {
	return func(f *QoSInterceptorFactory) error {
		if n <= 0 {
			return errors.New("lookahead window must be positive")
		}
		f.config.Reconciler.LookaheadWindow = n
		return nil
	}
}

// WithLatePolicy sets how packets behind the expected sequence number are
// treated. Default: rtpqos.LateKeep
func WithLatePolicy(p rtpqos.LatePolicy) FactoryOption {
	return func(f *QoSInterceptorFactory) error {
		f.config.Reconciler.LatePolicy = p
		return nil
	}
}

// WithFactoryStreamTimeout sets how long a silent stream is kept before it
// is analysed. Default: 5 seconds
func WithFactoryStreamTimeout(d time.Duration) FactoryOption {
	return func(f *QoSInterceptorFactory) error {
		if d <= 0 {
			return errors.New("stream timeout must be positive")
		}
		f.streamTimeout = d
		return nil
	}
}

// WithStreamClockRate makes streams use their negotiated clock rate as the
// analysis sample rate. Default: false (use the configured SampleRate)
func WithStreamClockRate(enabled bool) FactoryOption {
	return func(f *QoSInterceptorFactory) error {
		f.useClockRate = enabled
		return nil
	}
}

// WithFactoryOnReport sets a callback invoked for every analysed stream.
// The callback receives the id the PeerConnection was created with.
func WithFactoryOnReport(fn func(id string, r Report)) FactoryOption {
	return func(f *QoSInterceptorFactory) error {
		f.onReport = fn
		return nil
	}
}

// WithMetrics feeds every report to o, typically a metrics.Collector shared
// by all PeerConnections.
func WithMetrics(o Observer) FactoryOption {
	return func(f *QoSInterceptorFactory) error {
		f.observer = o
		return nil
	}
}

// WithLoggerFactory sets the factory used to create interceptor loggers.
// Default: logging.NewDefaultLoggerFactory()
func WithLoggerFactory(lf logging.LoggerFactory) FactoryOption {
	return func(f *QoSInterceptorFactory) error {
		if lf == nil {
			return errors.New("logger factory must not be nil")
		}
		f.loggerFactory = lf
		return nil
	}
}

// NewQoSInterceptorFactory creates a new factory for QoSInterceptor instances.
//
// Example:
//
//	factory, err := NewQoSInterceptorFactory(
//	    WithStreamClockRate(true),
//	    WithFactoryOnReport(func(id string, r Report) { ... }),
//	)
//	if err != nil {
//	    return err
//	}
//	registry.Add(factory)
func NewQoSInterceptorFactory(opts ...FactoryOption) (*QoSInterceptorFactory, error) {
	f := &QoSInterceptorFactory{
		config:        rtpqos.DefaultAnalyzerConfig(),
		streamTimeout: defaultStreamTimeout,
		loggerFactory: logging.NewDefaultLoggerFactory(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// NewInterceptor creates a new QoSInterceptor for a PeerConnection.
// This method is called by the interceptor registry when setting up a connection.
func (f *QoSInterceptorFactory) NewInterceptor(id string) (interceptor.Interceptor, error) {
	opts := []InterceptorOption{
		WithStreamTimeout(f.streamTimeout),
		WithClockRate(f.useClockRate),
		WithLogger(f.loggerFactory.NewLogger(loggerScope)),
	}
	if f.observer != nil {
		opts = append(opts, WithObserver(f.observer))
	}
	if f.onReport != nil {
		onReport := f.onReport
		opts = append(opts, WithOnReport(func(r Report) { onReport(id, r) }))
	}

	return NewQoSInterceptor(f.config, opts...), nil
}
