package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
)

// legReport is the printable result of one leg.
type legReport struct {
	Leg          string   `json:"leg"`
	Error        string   `json:"error,omitempty"`
	Packets      int      `json:"packets,omitempty"`
	CleanPackets int      `json:"clean_packets,omitempty"`
	Lost         int      `json:"lost"`
	Loss         float64  `json:"loss"`
	Duplicates   float64  `json:"duplicates"`
	Late         int      `json:"late"`
	Codecs       []string `json:"codecs,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
	MeanJitterMs float64  `json:"mean_jitter_ms"`
	MaxJitterMs  float64  `json:"max_jitter_ms"`
	JitterMs     float64  `json:"final_jitter_ms"`
	// RMSLevelDB is omitted for silent legs, whose level is -Inf.
	RMSLevelDB  *float64 `json:"rms_level_db,omitempty"`
	Bitrate     int64    `json:"bitrate_bps"`
	PeakBitrate int64    `json:"peak_bitrate_bps"`
	Quality     string   `json:"quality,omitempty"`
}

func newLegReport(res rtpqos.LegResult) legReport {
	r := legReport{Leg: res.ID}
	if res.Err != nil {
		r.Error = res.Err.Error()
		return r
	}

	s := res.Stats
	r.Packets = s.Packets
	r.CleanPackets = s.CleanPackets
	r.Lost = s.Lost
	r.Loss = s.Loss
	r.Duplicates = s.Duplicates
	r.Late = s.Late
	r.Codecs = s.Codecs
	r.DurationMs = s.Duration.Milliseconds()
	r.MeanJitterMs = s.MeanJitter()
	r.MaxJitterMs = s.MaxJitter()
	r.JitterMs = s.FinalJitter()
	if !math.IsInf(s.RMSLevel, 0) && !math.IsNaN(s.RMSLevel) {
		level := s.RMSLevel
		r.RMSLevelDB = &level
	}
	r.Bitrate = s.Bitrate
	r.PeakBitrate = s.PeakBitrate
	r.Quality = s.Quality(rtpqos.DefaultQualityThresholds()).String()
	return r
}

func writeJSON(w io.Writer, reports []legReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func writeTable(w io.Writer, reports []legReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LEG\tPACKETS\tLOST\tLOSS\tDUP\tLATE\tJITTER(ms)\tLEVEL(dB)\tKBPS\tCODECS\tQUALITY")
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t-\t-\t-\t-\terror: %s\n", r.Leg, r.Error)
			continue
		}
		level := "-inf"
		if r.RMSLevelDB != nil {
			level = fmt.Sprintf("%.1f", *r.RMSLevelDB)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f%%\t%.2f%%\t%d\t%.2f\t%s\t%.1f\t%s\t%s\n",
			r.Leg, r.Packets, r.Lost, r.Loss*100, r.Duplicates*100, r.Late,
			r.JitterMs, level, float64(r.Bitrate)/1000, strings.Join(r.Codecs, ","), r.Quality)
	}
	return tw.Flush()
}
