package rtpqos

import (
	"math"
	"time"
)

// DefaultJitterGain is the RFC 3550 smoothing factor of the interarrival
// jitter estimator.
const DefaultJitterGain = 1.0 / 16

// ComputeDeltas returns, for each consecutive pair of clean packets, the
// arrival time difference and the RTP timestamp difference, both in
// milliseconds. The RTP difference assumes the media clock runs at sampleRate
// and is unwrapped across the 32-bit timestamp boundary.
func ComputeDeltas(clean []CapturedPacket, sampleRate int) (frame, rtp []float64) {
	if len(clean) < 2 {
		return nil, nil
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	frame = make([]float64, len(clean)-1)
	rtp = make([]float64, len(clean)-1)
	for i := 1; i < len(clean); i++ {
		arrival := clean[i].ArrivalTime.Sub(clean[i-1].ArrivalTime)
		ticks := UnwrapTimestamp(clean[i-1].Timestamp, clean[i].Timestamp)
		frame[i-1] = float64(arrival) / float64(time.Millisecond)
		rtp[i-1] = float64(ticks) * 1000 / float64(sampleRate)
	}
	return frame, rtp
}

// UnwrapTimestamp returns the signed distance from prev to curr on the 32-bit
// RTP timestamp circle, so a rollover reads as a small forward step.
func UnwrapTimestamp(prev, curr uint32) int64 {
	return int64(int32(curr - prev))
}

// JitterFilter is the one-pole estimator J = J + gain*(|D| - J), seeded at 0.
// The zero value is not usable; create one with NewJitterFilter.
type JitterFilter struct {
	gain     float64
	estimate float64
}

// NewJitterFilter creates a filter with the given gain. A gain outside (0, 1]
// falls back to DefaultJitterGain.
func NewJitterFilter(gain float64) *JitterFilter {
	if gain <= 0 || gain > 1 || math.IsNaN(gain) {
		gain = DefaultJitterGain
	}
	return &JitterFilter{gain: gain}
}

// Update feeds one instantaneous jitter sample (the absolute difference between
// arrival and RTP deltas) and returns the new estimate.
func (f *JitterFilter) Update(sample float64) float64 {
	f.estimate += (math.Abs(sample) - f.estimate) * f.gain
	return f.estimate
}

// Estimate returns the current estimate without updating it.
func (f *JitterFilter) Estimate() float64 {
	return f.estimate
}

// Reset returns the estimate to 0.
func (f *JitterFilter) Reset() {
	f.estimate = 0
}

// SmoothJitter folds the filter over frame and RTP deltas and returns one
// estimate per delta pair. Both slices must be of equal length.
func SmoothJitter(frame, rtp []float64, gain float64) []float64 {
	n := len(frame)
	if len(rtp) < n {
		n = len(rtp)
	}
	filter := NewJitterFilter(gain)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = filter.Update(frame[i] - rtp[i])
	}
	return out
}
