package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
	qosinterceptor "github.com/thesyncim/rtpqos/pkg/rtpqos/interceptor"
)

func newTestServer(t *testing.T) (*Server, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	cfg := DefaultConfig()
	cfg.Log = log
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return srv, hook
}

func sampleStats() *rtpqos.StreamStats {
	return &rtpqos.StreamStats{
		Packets:      100,
		CleanPackets: 98,
		Lost:         2,
		Loss:         0.02,
		Duplicates:   0.01,
		Codecs:       []string{"PCMU"},
		PayloadTypes: []uint8{0},
		Jitter:       []float64{0.5, 1.5, 1.25},
		Duration:     1960 * time.Millisecond,
		SampleRate:   8000,
		RMSLevel:     -3.5,
		Bitrate:      64000,
		PeakBitrate:  65280,
	}
}

func TestServerStartStop(t *testing.T) {
	srv, _ := newTestServer(t)

	addr, err := srv.Start()
	require.NoError(t, err)
	assert.NotEmpty(t, addr)
	assert.NotEqual(t, ":0", addr)
	assert.Equal(t, addr, srv.Addr())

	url := "http://" + addr + "/"
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "RTP QoS Monitor")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get(url)
	assert.Error(t, err, "expected connection error after shutdown")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":0", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 100, cfg.MaxReports)
	assert.Equal(t, 5*time.Second, cfg.StreamTimeout)
	assert.Equal(t, rtpqos.DefaultAnalyzerConfig(), cfg.Analyzer)
}

func TestNewServer_FillsZeroConfig(t *testing.T) {
	srv, err := NewServer(Config{Addr: ":0"})
	require.NoError(t, err)

	assert.Equal(t, 100, srv.cfg.MaxReports)
	assert.Equal(t, 5*time.Second, srv.cfg.StreamTimeout)
	assert.Same(t, logrus.StandardLogger(), srv.log)
}

func TestServerDoubleStart(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Shutdown(context.Background())

	addr1, err := srv.Start()
	require.NoError(t, err)

	addr2, err := srv.Start()
	require.NoError(t, err)
	assert.Equal(t, addr1, addr2)
}

func TestServerShutdownNotStarted(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.Empty(t, srv.Addr())
}

func TestServer_UnknownPath(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReports_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleReports_Lists(t *testing.T) {
	srv, _ := newTestServer(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	srv.Reports().Add(NewStoredReport("pc-1", qosinterceptor.Report{
		SSRC:    0x12345678,
		Trigger: qosinterceptor.TriggerBye,
		Stats:   sampleStats(),
	}, at))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)

	r := got[0]
	assert.Equal(t, "pc-1", r["peer"])
	assert.Equal(t, "0x12345678", r["ssrc"])
	assert.Equal(t, "bye", r["trigger"])
	assert.Equal(t, float64(100), r["packets"])
	assert.Equal(t, float64(2), r["lost"])
	assert.Equal(t, 1.25, r["jitter_ms"])
	assert.Equal(t, 1.5, r["max_jitter_ms"])
	assert.Equal(t, -3.5, r["rms_level_db"])
	assert.Equal(t, float64(1960), r["duration_ms"])
	assert.Equal(t, []interface{}{"PCMU"}, r["codecs"])
	assert.NotContains(t, r, "error")
}

func TestHandleReports_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reports", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleOffer_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleOffer_InvalidJSON(t *testing.T) {
	srv, hook := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{not json"))
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "failed to decode offer", hook.LastEntry().Message)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestHandleOffer_InvalidSDP(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader(`{"type":"offer","sdp":"garbage"}`))
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	srv.peersMu.Lock()
	defer srv.peersMu.Unlock()
	assert.Empty(t, srv.peers, "rejected peer must not stay registered")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.collector.Observe(sampleStats())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "rtpqos_leg_packets_total 100")
	assert.Contains(t, body, "rtpqos_leg_lost_packets_total 2")
	assert.Contains(t, body, `rtpqos_leg_analyzed_total{codec="PCMU"} 1`)
}

func TestReportStore_Eviction(t *testing.T) {
	store := NewReportStore(3)
	for i := 0; i < 5; i++ {
		store.Add(StoredReport{Peer: fmt.Sprintf("pc-%d", i)})
	}

	got := store.List()
	require.Len(t, got, 3)
	assert.Equal(t, "pc-2", got[0].Peer)
	assert.Equal(t, "pc-3", got[1].Peer)
	assert.Equal(t, "pc-4", got[2].Peer)
}

func TestReportStore_ListIsCopy(t *testing.T) {
	store := NewReportStore(2)
	store.Add(StoredReport{Peer: "pc-1"})

	got := store.List()
	got[0].Peer = "changed"
	assert.Equal(t, "pc-1", store.List()[0].Peer)
}

func TestReportStore_NonPositiveMax(t *testing.T) {
	store := NewReportStore(0)
	store.Add(StoredReport{Peer: "a"})
	store.Add(StoredReport{Peer: "b"})

	got := store.List()
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Peer)
}

func TestNewStoredReport_Stats(t *testing.T) {
	at := time.Unix(1700000000, 0)
	r := NewStoredReport("pc-7", qosinterceptor.Report{
		SSRC:    1,
		Trigger: qosinterceptor.TriggerTimeout,
		Stats:   sampleStats(),
	}, at)

	assert.Equal(t, "pc-7", r.Peer)
	assert.Equal(t, "0x00000001", r.SSRC)
	assert.Equal(t, "timeout", r.Trigger)
	assert.Equal(t, at, r.ReceivedAt)
	assert.Empty(t, r.Error)
	assert.Equal(t, 100, r.Packets)
	assert.Equal(t, int64(1960), r.DurationMs)
	assert.Equal(t, 8000, r.SampleRate)
	assert.Equal(t, int64(64000), r.BitrateBps)
	assert.Equal(t, int64(65280), r.PeakBitrate)
	require.NotNil(t, r.RMSLevelDB)
	assert.Equal(t, -3.5, *r.RMSLevelDB)
	assert.NotEmpty(t, r.Quality)
}

func TestNewStoredReport_Silence(t *testing.T) {
	stats := sampleStats()
	stats.RMSLevel = math.Inf(-1)

	r := NewStoredReport("pc-1", qosinterceptor.Report{SSRC: 2, Trigger: qosinterceptor.TriggerClose, Stats: stats}, time.Now())
	assert.Nil(t, r.RMSLevelDB)

	// -Inf would make the encoder fail.
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "rms_level_db")
}

func TestNewStoredReport_Error(t *testing.T) {
	r := NewStoredReport("pc-1", qosinterceptor.Report{
		SSRC:    3,
		Trigger: qosinterceptor.TriggerUnbind,
		Err:     rtpqos.ErrInsufficientData,
	}, time.Now())

	assert.Equal(t, rtpqos.ErrInsufficientData.Error(), r.Error)
	assert.Zero(t, r.Packets)
	assert.Empty(t, r.Quality)
	assert.Nil(t, r.RMSLevelDB)
}

func TestLogrusFactory(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)

	l := newLogrusFactory(log, logrus.Fields{"component": "interceptor"}).NewLogger("rtpqos")
	l.Infof("stream %d analysed", 7)
	l.Warn("late packet")
	l.Debugf("x=%s", "y")

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "stream 7 analysed", entries[0].Message)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, "rtpqos", entries[0].Data["scope"])
	assert.Equal(t, "interceptor", entries[0].Data["component"])
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, logrus.DebugLevel, entries[2].Level)
	assert.Equal(t, "x=y", entries[2].Message)
}
