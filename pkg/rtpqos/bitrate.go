package rtpqos

import "time"

// DefaultBitrateWindow is the sliding window used for peak bitrate.
const DefaultBitrateWindow = time.Second

// rateSample is one payload byte count at an arrival time.
type rateSample struct {
	timestamp time.Time
	bytes     int64
}

// RateWindow tracks payload bitrate over a sliding time window.
//
// Usage:
//
//	w := NewRateWindow(time.Second)
//	w.Update(len(pkt.Payload), pkt.ArrivalTime)
//	if rate, ok := w.Rate(); ok {
//	    fmt.Printf("Current rate: %d bps\n", rate)
//	}
type RateWindow struct {
	size       time.Duration
	samples    []rateSample
	totalBytes int64
}

// NewRateWindow creates a window of the given size. A size <= 0 falls back to
// DefaultBitrateWindow.
func NewRateWindow(size time.Duration) *RateWindow {
	if size <= 0 {
		size = DefaultBitrateWindow
	}
	return &RateWindow{
		size:    size,
		samples: make([]rateSample, 0, 64),
	}
}

// Update adds bytes received at now and expires samples that fell out of the
// window. Samples must be added in non-decreasing time order.
func (w *RateWindow) Update(bytes int, now time.Time) {
	w.removeExpired(now)
	w.samples = append(w.samples, rateSample{timestamp: now, bytes: int64(bytes)})
	w.totalBytes += int64(bytes)
}

// Rate returns the bitrate over the samples currently in the window.
// It returns ok=false with fewer than two samples or less than 1ms between the
// oldest and newest sample.
func (w *RateWindow) Rate() (bitsPerSec int64, ok bool) {
	if len(w.samples) < 2 {
		return 0, false
	}
	elapsed := w.samples[len(w.samples)-1].timestamp.Sub(w.samples[0].timestamp)
	if elapsed < time.Millisecond {
		return 0, false
	}
	return int64(float64(w.totalBytes*8) / elapsed.Seconds()), true
}

func (w *RateWindow) removeExpired(now time.Time) {
	cutoff := now.Add(-w.size)

	expired := 0
	for i, s := range w.samples {
		if !s.timestamp.Before(cutoff) {
			break
		}
		w.totalBytes -= s.bytes
		expired = i + 1
	}
	if expired > 0 {
		w.samples = w.samples[expired:]
	}
}

// Bitrates returns the mean payload bitrate between the first and last packet
// and the peak bitrate over any full sliding window of the given size. A leg
// shorter than one window reports its mean as the peak.
func Bitrates(packets []CapturedPacket, window time.Duration) (mean, peak int64) {
	if len(packets) < 2 {
		return 0, 0
	}

	w := NewRateWindow(window)
	start := packets[0].ArrivalTime
	var total int64
	for _, pkt := range packets {
		total += int64(len(pkt.Payload))
		w.Update(len(pkt.Payload), pkt.ArrivalTime)
		if pkt.ArrivalTime.Sub(start) < w.size {
			continue
		}
		if rate, ok := w.Rate(); ok && rate > peak {
			peak = rate
		}
	}

	elapsed := packets[len(packets)-1].ArrivalTime.Sub(start)
	if elapsed >= time.Millisecond {
		mean = int64(float64(total*8) / elapsed.Seconds())
	}
	if peak == 0 {
		peak = mean
	}
	return mean, peak
}
