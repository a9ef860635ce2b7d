//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/rtpqos/cmd/qos-monitor/server"
	"github.com/thesyncim/rtpqos/pkg/rtpqos/testutil"
)

// startServer starts a monitor on a random port and stops it at test end.
func startServer(t *testing.T, streamTimeout time.Duration) (*server.Server, string) {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.StreamTimeout = streamTimeout
	cfg.Log = logrus.StandardLogger()
	srv, err := server.NewServer(cfg)
	require.NoError(t, err)

	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})
	t.Logf("server started on %s", addr)
	return srv, addr
}

// openBrowser launches Chrome and loads the monitor page.
func openBrowser(t *testing.T, addr string) *testutil.BrowserClient {
	t.Helper()

	client, err := testutil.NewBrowserClient(testutil.DefaultBrowserConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, client.Close())
	})

	_, err = client.Navigate("http://" + addr)
	require.NoError(t, err)
	require.NoError(t, client.WaitStable())
	return client
}

// TestChrome_CanConnect checks the infrastructure: the server starts on a
// random port, Chrome loads the page and WebRTC is available.
func TestChrome_CanConnect(t *testing.T) {
	_, addr := startServer(t, 5*time.Second)
	client := openBrowser(t, addr)

	title := client.Page().MustElement("title").MustText()
	assert.Contains(t, title, "RTP QoS Monitor")

	res, err := client.Eval(`() => typeof RTCPeerConnection !== 'undefined'`)
	require.NoError(t, err)
	assert.True(t, res.Value.Bool(), "RTCPeerConnection not available in browser")
}

// TestChrome_CallReport places a short call from Chrome's fake microphone
// and checks the report the monitor publishes once the call ends.
func TestChrome_CallReport(t *testing.T) {
	srv, addr := startServer(t, 2*time.Second)
	client := openBrowser(t, addr)

	_, err := client.Eval(`() => { startCall(); return true; }`)
	require.NoError(t, err)

	err = client.WaitTrue(`() => pc !== null && pc.connectionState === 'connected'`, 20*time.Second)
	require.NoError(t, err, "call never connected")

	// 3s of PCMU at 20ms per packet.
	time.Sleep(3 * time.Second)

	_, err = client.Eval(`() => { stopCall(); return true; }`)
	require.NoError(t, err)

	// pion may bind and unbind a probe stream before the real one; wait
	// for the report that carries audio.
	var r server.StoredReport
	require.Eventually(t, func() bool {
		for _, rep := range srv.Reports().List() {
			if rep.Error == "" && rep.Packets > 0 {
				r = rep
				return true
			}
		}
		return false
	}, 20*time.Second, 200*time.Millisecond, "no audio report after hang up")

	t.Logf("report: trigger=%s packets=%d lost=%d loss=%.4f jitter=%.2fms quality=%s",
		r.Trigger, r.Packets, r.Lost, r.Loss, r.JitterMs, r.Quality)

	assert.Equal(t, []string{"PCMU"}, r.Codecs)
	assert.Equal(t, 8000, r.SampleRate)
	assert.Greater(t, r.Packets, 50)
	assert.Less(t, r.Loss, 0.05, "loopback call should not lose packets")
	assert.Greater(t, r.DurationMs, int64(1000))
	assert.NotNil(t, r.RMSLevelDB)

	// The page polls the same data.
	resp, err := http.Get("http://" + addr + "/reports")
	require.NoError(t, err)
	defer resp.Body.Close()

	var listed []server.StoredReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	ssrcs := make([]string, 0, len(listed))
	for _, l := range listed {
		ssrcs = append(ssrcs, l.SSRC)
	}
	assert.Contains(t, ssrcs, r.SSRC)
}
