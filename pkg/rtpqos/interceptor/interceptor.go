package interceptor

import (
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
	"github.com/thesyncim/rtpqos/pkg/rtpqos/internal"
)

const (
	// defaultStreamTimeout is how long a stream may stay silent before it is
	// considered ended and analysed.
	defaultStreamTimeout = 5 * time.Second

	// loggerScope is the pion/logging scope of the interceptor.
	loggerScope = "rtpqos"
)

// Trigger tells why a stream was analysed.
type Trigger string

// Stream end triggers.
const (
	TriggerUnbind  Trigger = "unbind"
	TriggerBye     Trigger = "bye"
	TriggerTimeout Trigger = "timeout"
	TriggerClose   Trigger = "close"
)

// Report is the outcome of analysing one remote stream.
type Report struct {
	// SSRC identifies the stream.
	SSRC uint32

	// Trigger is the event that ended the stream.
	Trigger Trigger

	// Stats is nil when Err is set.
	Stats *rtpqos.StreamStats

	// Err is the analysis error, if any.
	Err error
}

// Observer receives every analysis outcome. *metrics.Collector implements it.
type Observer interface {
	Observe(stats *rtpqos.StreamStats)
	ObserveError(err error)
}

// QoSInterceptor is a Pion interceptor that buffers incoming RTP packets per
// SSRC and runs rtpqos analysis once a stream ends. A stream ends when it is
// unbound, when the remote side sends an RTCP BYE for it, when it has been
// silent for the stream timeout, or when the interceptor is closed.
//
// Usage:
//
//	i := NewQoSInterceptor(rtpqos.DefaultAnalyzerConfig(),
//	    WithOnReport(func(r Report) { log.Println(r.SSRC, r.Stats) }))
//	// Add to interceptor registry via QoSInterceptorFactory...
type QoSInterceptor struct {
	interceptor.NoOp // Embed for interface compliance

	config       rtpqos.AnalyzerConfig
	useClockRate bool
	timeout      time.Duration
	onReport     func(Report)
	observer     Observer
	log          logging.LeveledLogger
	clock        internal.Clock

	streams sync.Map // SSRC (uint32) -> *streamState

	// Lifecycle
	closed    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once // Ensures cleanup loop starts only once
	closeOnce sync.Once
}

// InterceptorOption is a functional option for configuring QoSInterceptor.
type InterceptorOption func(*QoSInterceptor)

// WithOnReport sets the callback invoked for every analysed stream. It runs
// on the goroutine that ended the stream and must not block.
func WithOnReport(fn func(Report)) InterceptorOption {
	return func(i *QoSInterceptor) {
		i.onReport = fn
	}
}

// WithObserver feeds every report to o, typically a metrics.Collector.
func WithObserver(o Observer) InterceptorOption {
	return func(i *QoSInterceptor) {
		i.observer = o
	}
}

// WithLogger sets the logger. Default is a pion/logging default logger with
// scope "rtpqos".
func WithLogger(log logging.LeveledLogger) InterceptorOption {
	return func(i *QoSInterceptor) {
		i.log = log
	}
}

// WithStreamTimeout sets how long a silent stream is kept before it is
// analysed. Default is 5 seconds.
func WithStreamTimeout(d time.Duration) InterceptorOption {
	return func(i *QoSInterceptor) {
		i.timeout = d
	}
}

// WithClockRate makes each stream use its negotiated RTP clock rate as the
// analysis sample rate instead of the configured one.
func WithClockRate(enabled bool) InterceptorOption {
	return func(i *QoSInterceptor) {
		i.useClockRate = enabled
	}
}

// NewQoSInterceptor creates an interceptor analysing streams with config.
func NewQoSInterceptor(config rtpqos.AnalyzerConfig, opts ...InterceptorOption) *QoSInterceptor {
	i := &QoSInterceptor{
		config:  config,
		timeout: defaultStreamTimeout,
		clock:   internal.MonotonicClock{},
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.log == nil {
		i.log = logging.NewDefaultLoggerFactory().NewLogger(loggerScope)
	}
	if i.timeout <= 0 {
		i.timeout = defaultStreamTimeout
	}
	return i
}

// Close analyses every stream still open and stops the cleanup loop.
func (i *QoSInterceptor) Close() error {
	i.closeOnce.Do(func() {
		close(i.closed)
		i.wg.Wait()
		i.streams.Range(func(_, value any) bool {
			i.finish(value.(*streamState), TriggerClose)
			return true
		})
	})
	return nil
}

// BindRTCPReader watches incoming RTCP for BYE packets naming a recorded
// stream.
func (i *QoSInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, a, err := reader.Read(b, a)
		if err == nil && n > 0 {
			i.processRTCP(b[:n])
		}
		return n, a, err
	})
}

// BindRemoteStream is called by Pion when a new remote stream is detected.
// It wraps the reader to record every packet.
func (i *QoSInterceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	// Start cleanup loop on first stream (only once)
	i.startOnce.Do(func() {
		i.wg.Add(1)
		go i.cleanupLoop()
	})

	state := newStreamState(info.SSRC, i.streamAnalyzer(info), i.clock.Now())
	i.streams.Store(info.SSRC, state)
	i.log.Debugf("recording stream ssrc=%d mime=%s clock=%d", info.SSRC, info.MimeType, info.ClockRate)

	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, a, err := reader.Read(b, a)
		if err == nil && n > 0 {
			i.processRTP(b[:n], state)
		}
		return n, a, err
	})
}

// UnbindRemoteStream is called by Pion when a remote stream is removed.
func (i *QoSInterceptor) UnbindRemoteStream(info *interceptor.StreamInfo) {
	if value, ok := i.streams.Load(info.SSRC); ok {
		i.finish(value.(*streamState), TriggerUnbind)
	}
}

// streamAnalyzer builds the analyzer of one stream. The negotiated payload
// type is named after its MIME subtype, so dynamic types such as Opus report
// a codec name instead of a number.
func (i *QoSInterceptor) streamAnalyzer(info *interceptor.StreamInfo) *rtpqos.Analyzer {
	config := i.config
	if i.useClockRate && info.ClockRate > 0 {
		config.SampleRate = int(info.ClockRate)
	}

	if name := mimeSubtype(info.MimeType); name != "" {
		base := config.Codecs
		if base == nil {
			base = rtpqos.DefaultCodecTable()
		}
		pt := info.PayloadType
		config.Codecs = rtpqos.CodecResolverFunc(func(payloadType uint8) string {
			if payloadType == pt {
				return name
			}
			return base.CodecName(payloadType)
		})
	}
	return rtpqos.NewAnalyzer(config)
}

func mimeSubtype(mime string) string {
	if idx := strings.IndexByte(mime, '/'); idx >= 0 {
		return mime[idx+1:]
	}
	return mime
}

// processRTP parses an RTP packet and records it.
func (i *QoSInterceptor) processRTP(raw []byte, state *streamState) {
	pkt := getPacket()
	defer putPacket(pkt)

	if err := pkt.Unmarshal(raw); err != nil {
		i.log.Tracef("dropping malformed rtp on ssrc=%d: %v", state.SSRC(), err)
		return
	}
	state.add(pkt, i.clock.Now())
}

// processRTCP finishes every recorded stream named by a BYE.
func (i *QoSInterceptor) processRTCP(raw []byte) {
	pkts, err := rtcp.Unmarshal(raw)
	if err != nil {
		return // Not our concern, other interceptors see it too
	}
	for _, p := range pkts {
		bye, ok := p.(*rtcp.Goodbye)
		if !ok {
			continue
		}
		for _, ssrc := range bye.Sources {
			if value, ok := i.streams.Load(ssrc); ok {
				i.finish(value.(*streamState), TriggerBye)
			}
		}
	}
}

// finish analyses a stream once and publishes the report.
func (i *QoSInterceptor) finish(state *streamState, trigger Trigger) {
	packets, ok := state.finish()
	if !ok {
		return
	}
	i.streams.Delete(state.SSRC())

	report := Report{SSRC: state.SSRC(), Trigger: trigger}
	report.Stats, report.Err = state.analyzer.Analyze(packets)

	if report.Err != nil {
		i.log.Warnf("stream ssrc=%d (%s): analysis failed after %d packets: %v",
			report.SSRC, trigger, len(packets), report.Err)
		if i.observer != nil {
			i.observer.ObserveError(report.Err)
		}
	} else {
		i.log.Infof("stream ssrc=%d (%s): packets=%d lost=%d loss=%.4f jitter=%.2fms codecs=%v",
			report.SSRC, trigger, report.Stats.Packets, report.Stats.Lost,
			report.Stats.Loss, report.Stats.FinalJitter(), report.Stats.Codecs)
		if i.observer != nil {
			i.observer.Observe(report.Stats)
		}
	}

	if i.onReport != nil {
		i.onReport(report)
	}
}

// cleanupLoop periodically analyses streams that went silent.
func (i *QoSInterceptor) cleanupLoop() {
	defer i.wg.Done()

	interval := time.Second
	if half := i.timeout / 2; half < interval {
		interval = half
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case <-ticker.C:
			i.cleanupInactiveStreams(i.clock.Now())
		}
	}
}

// cleanupInactiveStreams finishes streams that haven't received packets for
// longer than the stream timeout.
func (i *QoSInterceptor) cleanupInactiveStreams(now time.Time) {
	i.streams.Range(func(_, value any) bool {
		state := value.(*streamState)
		if now.Sub(state.LastPacket()) > i.timeout {
			i.finish(state, TriggerTimeout)
		}
		return true // Continue iteration
	})
}
