package interceptor

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
	"github.com/thesyncim/rtpqos/pkg/rtpqos/internal"
	"github.com/thesyncim/rtpqos/pkg/rtpqos/testutil"
)

const testSSRC = uint32(0x12345678)

// mockRTPReader is a test reader that returns pre-defined packets.
type mockRTPReader struct {
	packets [][]byte
	index   int
}

func (m *mockRTPReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	if m.index >= len(m.packets) {
		return 0, nil, nil
	}
	pkt := m.packets[m.index]
	m.index++
	n := copy(b, pkt)
	return n, a, nil
}

// mockRTCPReader returns one pre-marshalled compound packet per Read.
type mockRTCPReader struct {
	packets [][]byte
	index   int
}

func (m *mockRTCPReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	if m.index >= len(m.packets) {
		return 0, nil, nil
	}
	n := copy(b, m.packets[m.index])
	m.index++
	return n, a, nil
}

// reportRecorder collects reports and observer calls.
type reportRecorder struct {
	mu       sync.Mutex
	reports  []Report
	observed []*rtpqos.StreamStats
	errs     []error
}

func (r *reportRecorder) OnReport(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *reportRecorder) Observe(stats *rtpqos.StreamStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, stats)
}

func (r *reportRecorder) ObserveError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *reportRecorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}

// newTestInterceptor wires a recorder and a mock clock.
func newTestInterceptor(t *testing.T, opts ...InterceptorOption) (*QoSInterceptor, *reportRecorder, *internal.MockClock) {
	t.Helper()
	rec := &reportRecorder{}
	opts = append([]InterceptorOption{WithOnReport(rec.OnReport), WithObserver(rec)}, opts...)
	i := NewQoSInterceptor(rtpqos.DefaultAnalyzerConfig(), opts...)
	clock := internal.NewMockClock(time.Time{})
	i.clock = clock
	t.Cleanup(func() { _ = i.Close() })
	return i, rec, clock
}

func pcmuInfo(ssrc uint32) *interceptor.StreamInfo {
	return &interceptor.StreamInfo{
		SSRC:        ssrc,
		MimeType:    "audio/PCMU",
		ClockRate:   8000,
		PayloadType: 0,
	}
}

func marshalLeg(ssrc uint32, leg []rtpqos.CapturedPacket) [][]byte {
	out := make([][]byte, len(leg))
	for i, p := range leg {
		out[i] = testutil.MarshalRTP(ssrc, p)
	}
	return out
}

// feed binds a stream and reads every packet through it, advancing the
// clock by interval after each read.
func feed(t *testing.T, i *QoSInterceptor, clock *internal.MockClock, info *interceptor.StreamInfo, packets [][]byte, interval time.Duration) {
	t.Helper()
	wrapped := i.BindRemoteStream(info, &mockRTPReader{packets: packets})
	buf := make([]byte, 1500)
	for range packets {
		n, _, err := wrapped.Read(buf, nil)
		require.NoError(t, err)
		require.Greater(t, n, 0)
		clock.Advance(interval)
	}
}

func g711Packets(count int) [][]byte {
	leg := testutil.ContiguousLeg(internal.NewMockClock(time.Time{}), count, testutil.G711Config())
	return marshalLeg(testSSRC, leg)
}

func TestNewQoSInterceptor(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		i := NewQoSInterceptor(rtpqos.DefaultAnalyzerConfig())
		require.NotNil(t, i)
		assert.Equal(t, defaultStreamTimeout, i.timeout)
		assert.False(t, i.useClockRate)
		assert.NotNil(t, i.log)
		assert.NotNil(t, i.closed)
	})

	t.Run("with custom options", func(t *testing.T) {
		i := NewQoSInterceptor(rtpqos.DefaultAnalyzerConfig(),
			WithStreamTimeout(time.Second),
			WithClockRate(true),
		)
		assert.Equal(t, time.Second, i.timeout)
		assert.True(t, i.useClockRate)
	})

	t.Run("non-positive timeout uses default", func(t *testing.T) {
		i := NewQoSInterceptor(rtpqos.DefaultAnalyzerConfig(), WithStreamTimeout(0))
		assert.Equal(t, defaultStreamTimeout, i.timeout)
	})
}

func TestUnbindRemoteStream_Reports(t *testing.T) {
	i, rec, clock := newTestInterceptor(t)
	info := pcmuInfo(testSSRC)
	feed(t, i, clock, info, g711Packets(50), 20*time.Millisecond)

	i.UnbindRemoteStream(info)

	reports := rec.Reports()
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, testSSRC, r.SSRC)
	assert.Equal(t, TriggerUnbind, r.Trigger)
	require.NoError(t, r.Err)
	assert.Equal(t, 50, r.Stats.Packets)
	assert.Zero(t, r.Stats.Lost)
	assert.Equal(t, []string{"PCMU"}, r.Stats.Codecs)
	assert.Equal(t, 980*time.Millisecond, r.Stats.Duration)
	assert.Zero(t, r.Stats.MaxJitter())
	assert.Len(t, rec.observed, 1)

	_, tracked := i.streams.Load(testSSRC)
	assert.False(t, tracked, "stream should be released after its report")
}

func TestUnbindRemoteStream_UnknownStream(t *testing.T) {
	i, rec, _ := newTestInterceptor(t)
	i.UnbindRemoteStream(pcmuInfo(99))
	assert.Empty(t, rec.Reports())
}

func TestProcessRTP_LossAndDuplicates(t *testing.T) {
	i, rec, clock := newTestInterceptor(t)
	leg := testutil.ContiguousLeg(internal.NewMockClock(time.Time{}), 30, testutil.G711Config())
	leg = testutil.Drop(leg, 10, 11)
	leg = testutil.Duplicate(leg, 3)

	info := pcmuInfo(testSSRC)
	feed(t, i, clock, info, marshalLeg(testSSRC, leg), 20*time.Millisecond)
	i.UnbindRemoteStream(info)

	reports := rec.Reports()
	require.Len(t, reports, 1)
	require.NoError(t, reports[0].Err)
	assert.Equal(t, 29, reports[0].Stats.Packets)
	assert.Equal(t, 2, reports[0].Stats.Lost)
	assert.Equal(t, 1, reports[0].Stats.DuplicatePackets())
}

func TestProcessRTP_MalformedPacketIgnored(t *testing.T) {
	i, _, clock := newTestInterceptor(t)
	packets := g711Packets(3)
	packets = append(packets[:1], append([][]byte{{0x80, 0x00}}, packets[1:]...)...)

	feed(t, i, clock, pcmuInfo(testSSRC), packets, 20*time.Millisecond)

	value, ok := i.streams.Load(testSSRC)
	require.True(t, ok)
	assert.Equal(t, 3, value.(*streamState).Len())
}

func TestBindRTCPReader_ByeFinishesStream(t *testing.T) {
	i, rec, clock := newTestInterceptor(t)
	feed(t, i, clock, pcmuInfo(testSSRC), g711Packets(10), 20*time.Millisecond)
	feed(t, i, clock, pcmuInfo(0xBEEF), marshalLeg(0xBEEF, testutil.ContiguousLeg(clock, 5, testutil.G711Config())), 20*time.Millisecond)

	rr, err := rtcp.Marshal([]rtcp.Packet{&rtcp.ReceiverReport{SSRC: 1}})
	require.NoError(t, err)
	bye, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.ReceiverReport{SSRC: 1},
		&rtcp.Goodbye{Sources: []uint32{testSSRC, 0xDEAD}},
	})
	require.NoError(t, err)

	reader := i.BindRTCPReader(&mockRTCPReader{packets: [][]byte{rr, {0xFF}, bye}})
	buf := make([]byte, 1500)

	for k := 0; k < 2; k++ {
		_, _, err := reader.Read(buf, nil)
		require.NoError(t, err)
	}
	assert.Empty(t, rec.Reports(), "receiver reports and garbage must not end streams")

	_, _, err = reader.Read(buf, nil)
	require.NoError(t, err)

	reports := rec.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, testSSRC, reports[0].SSRC)
	assert.Equal(t, TriggerBye, reports[0].Trigger)
	assert.Equal(t, 10, reports[0].Stats.Packets)

	_, tracked := i.streams.Load(uint32(0xBEEF))
	assert.True(t, tracked, "other streams keep recording")
}

func TestStreamTimeout_FinishesInactiveStreams(t *testing.T) {
	i, rec, clock := newTestInterceptor(t, WithStreamTimeout(2*time.Second))
	feed(t, i, clock, pcmuInfo(testSSRC), g711Packets(10), 20*time.Millisecond)

	i.cleanupInactiveStreams(clock.Now().Add(time.Second))
	assert.Empty(t, rec.Reports(), "active stream must not be finished")

	i.cleanupInactiveStreams(clock.Now().Add(3 * time.Second))
	reports := rec.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, TriggerTimeout, reports[0].Trigger)
}

func TestClose_FinishesOpenStreams(t *testing.T) {
	i, rec, clock := newTestInterceptor(t)
	feed(t, i, clock, pcmuInfo(1), marshalLeg(1, testutil.ContiguousLeg(clock, 5, testutil.G711Config())), 20*time.Millisecond)
	feed(t, i, clock, pcmuInfo(2), marshalLeg(2, testutil.ContiguousLeg(clock, 5, testutil.G711Config())), 20*time.Millisecond)

	require.NoError(t, i.Close())
	require.NoError(t, i.Close(), "Close must be idempotent")

	reports := rec.Reports()
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, TriggerClose, r.Trigger)
		assert.NoError(t, r.Err)
	}
}

func TestClose_BeforeGoroutinesStarted(t *testing.T) {
	i := NewQoSInterceptor(rtpqos.DefaultAnalyzerConfig())
	assert.NoError(t, i.Close())
}

func TestFinish_ReportsOnce(t *testing.T) {
	i, rec, clock := newTestInterceptor(t)
	info := pcmuInfo(testSSRC)
	feed(t, i, clock, info, g711Packets(10), 20*time.Millisecond)

	value, _ := i.streams.Load(testSSRC)
	state := value.(*streamState)

	i.UnbindRemoteStream(info)
	i.finish(state, TriggerTimeout)
	require.NoError(t, i.Close())

	assert.Len(t, rec.Reports(), 1)
}

func TestFinish_AnalysisError(t *testing.T) {
	i, rec, clock := newTestInterceptor(t)

	empty := pcmuInfo(1)
	i.BindRemoteStream(empty, &mockRTPReader{})
	i.UnbindRemoteStream(empty)

	single := pcmuInfo(2)
	feed(t, i, clock, single, marshalLeg(2, testutil.ContiguousLeg(clock, 1, testutil.G711Config())), 20*time.Millisecond)
	i.UnbindRemoteStream(single)

	reports := rec.Reports()
	require.Len(t, reports, 2)
	assert.ErrorIs(t, reports[0].Err, rtpqos.ErrEmptyStream)
	assert.Nil(t, reports[0].Stats)
	assert.ErrorIs(t, reports[1].Err, rtpqos.ErrInsufficientData)
	assert.Len(t, rec.errs, 2)
	assert.Empty(t, rec.observed)
}

func TestStreamAnalyzer_NegotiatedCodec(t *testing.T) {
	cfg := testutil.G711Config()
	cfg.PayloadType = 111
	cfg.SamplesPerPacket = 960
	cfg.PayloadSize = 80
	opus := &interceptor.StreamInfo{SSRC: testSSRC, MimeType: "audio/opus", ClockRate: 48000, PayloadType: 111}

	t.Run("configured sample rate", func(t *testing.T) {
		i, rec, clock := newTestInterceptor(t)
		feed(t, i, clock, opus, marshalLeg(testSSRC, testutil.ContiguousLeg(clock, 5, cfg)), 20*time.Millisecond)
		i.UnbindRemoteStream(opus)

		r := rec.Reports()[0]
		require.NoError(t, r.Err)
		assert.Equal(t, []string{"opus"}, r.Stats.Codecs)
		assert.Equal(t, rtpqos.DefaultSampleRate, r.Stats.SampleRate)
		// 960 ticks read at 8 kHz is 120ms against 20ms arrival spacing.
		assert.Greater(t, r.Stats.MaxJitter(), 0.0)
	})

	t.Run("stream clock rate", func(t *testing.T) {
		i, rec, clock := newTestInterceptor(t, WithClockRate(true))
		feed(t, i, clock, opus, marshalLeg(testSSRC, testutil.ContiguousLeg(clock, 5, cfg)), 20*time.Millisecond)
		i.UnbindRemoteStream(opus)

		r := rec.Reports()[0]
		require.NoError(t, r.Err)
		assert.Equal(t, 48000, r.Stats.SampleRate)
		assert.Zero(t, r.Stats.MaxJitter())
	})
}

func TestMimeSubtype(t *testing.T) {
	assert.Equal(t, "PCMU", mimeSubtype("audio/PCMU"))
	assert.Equal(t, "opus", mimeSubtype("opus"))
	assert.Equal(t, "", mimeSubtype(""))
}

func TestCleanupLoop_StartsOnlyOnce(t *testing.T) {
	i, _, _ := newTestInterceptor(t)
	for k := uint32(0); k < 5; k++ {
		i.BindRemoteStream(pcmuInfo(k), &mockRTPReader{})
	}
	// A second cleanup goroutine would make Close wait on an extra Done.
	done := make(chan struct{})
	go func() {
		_ = i.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
