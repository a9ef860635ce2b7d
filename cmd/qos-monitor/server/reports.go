package server

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
	"github.com/thesyncim/rtpqos/pkg/rtpqos/capture"
	qosinterceptor "github.com/thesyncim/rtpqos/pkg/rtpqos/interceptor"
)

// StoredReport is the JSON form of one stream report.
type StoredReport struct {
	Peer       string    `json:"peer"`
	SSRC       string    `json:"ssrc"`
	Trigger    string    `json:"trigger"`
	ReceivedAt time.Time `json:"received_at"`
	Error      string    `json:"error,omitempty"`

	Packets      int      `json:"packets"`
	Lost         int      `json:"lost"`
	Loss         float64  `json:"loss"`
	Duplicates   float64  `json:"duplicates"`
	Late         int      `json:"late"`
	Codecs       []string `json:"codecs,omitempty"`
	SampleRate   int      `json:"sample_rate,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
	JitterMs     float64  `json:"jitter_ms"`
	MaxJitterMs  float64  `json:"max_jitter_ms"`
	RMSLevelDB   *float64 `json:"rms_level_db,omitempty"`
	BitrateBps   int64    `json:"bitrate_bps"`
	PeakBitrate  int64    `json:"peak_bitrate_bps"`
	Quality      string   `json:"quality,omitempty"`
}

// NewStoredReport converts an interceptor report received from peer.
func NewStoredReport(peer string, r qosinterceptor.Report, at time.Time) StoredReport {
	out := StoredReport{
		Peer:       peer,
		SSRC:       capture.LegID(r.SSRC),
		Trigger:    string(r.Trigger),
		ReceivedAt: at,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
		return out
	}

	s := r.Stats
	out.Packets = s.Packets
	out.Lost = s.Lost
	out.Loss = s.Loss
	out.Duplicates = s.Duplicates
	out.Late = s.Late
	out.Codecs = s.Codecs
	out.SampleRate = s.SampleRate
	out.DurationMs = s.Duration.Milliseconds()
	out.JitterMs = s.FinalJitter()
	out.MaxJitterMs = s.MaxJitter()
	if !math.IsInf(s.RMSLevel, 0) && !math.IsNaN(s.RMSLevel) {
		level := s.RMSLevel
		out.RMSLevelDB = &level
	}
	out.BitrateBps = s.Bitrate
	out.PeakBitrate = s.PeakBitrate
	out.Quality = s.Quality(rtpqos.DefaultQualityThresholds()).String()
	return out
}

// ReportStore keeps the most recent reports. It is safe for concurrent use.
type ReportStore struct {
	mu      sync.Mutex
	max     int
	reports []StoredReport
}

// NewReportStore creates a store holding at most max reports.
func NewReportStore(max int) *ReportStore {
	if max <= 0 {
		max = 1
	}
	return &ReportStore{max: max}
}

// Add appends r, evicting the oldest report when full.
func (s *ReportStore) Add(r StoredReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) == s.max {
		copy(s.reports, s.reports[1:])
		s.reports = s.reports[:len(s.reports)-1]
	}
	s.reports = append(s.reports, r)
}

// List returns the stored reports, oldest first.
func (s *ReportStore) List() []StoredReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredReport, len(s.reports))
	copy(out, s.reports)
	return out
}

// HandleReports serves the stored reports as a JSON array.
func (s *Server) HandleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.reports.List()); err != nil {
		s.log.WithError(err).Warn("failed to write reports")
	}
}
