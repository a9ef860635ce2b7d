// Package rtpqos computes quality-of-service statistics for a single captured
// RTP call leg: packet loss, duplication, jitter, signal level and codec usage.
package rtpqos

import (
	"math"
	"time"
)

// Sequence and clock constants for narrowband telephony RTP.
const (
	// RTPMaxSeq is the largest RTP sequence number. The 16-bit counter wraps
	// to 0 after this value.
	RTPMaxSeq = 65535

	// DefaultSampleRate is the RTP media clock assumed for audio legs (Hz).
	DefaultSampleRate = 8000
)

// CapturedPacket is one already-parsed RTP packet of a call leg, in the order
// it was captured. It is input only and is never modified by the analysis.
type CapturedPacket struct {
	// Seq is the RTP sequence number.
	Seq uint16

	// Timestamp is the RTP media clock value, in samples at the leg's sample rate.
	Timestamp uint32

	// PayloadType identifies the codec (see CodecTable).
	PayloadType uint8

	// Payload is the encoded audio carried by the packet.
	Payload []byte

	// ArrivalTime is the capture time of the packet. It must be non-decreasing
	// across the leg but need not follow Seq order.
	ArrivalTime time.Time
}

// Leg is a named packet list for batch analysis.
type Leg struct {
	// ID identifies the leg to the caller (file name, SSRC, call id...).
	ID string

	// Packets is the leg in arrival order.
	Packets []CapturedPacket
}

// StreamStats is the result of analysing one leg. It is produced once and
// never modified afterwards.
type StreamStats struct {
	// Packets is the number of packets in the original capture.
	Packets int

	// CleanPackets is the number of packets left after reconciliation.
	CleanPackets int

	// Lost is the number of sequence numbers counted as lost.
	Lost int

	// Loss is Lost divided by Packets.
	Loss float64

	// Duplicates is the ratio of duplicate packets to Packets.
	Duplicates float64

	// Late is the number of packets that arrived behind the expected sequence
	// number without being an immediate repeat.
	Late int

	// Codecs holds one codec name per distinct payload type, in ascending
	// payload type order.
	Codecs []string

	// PayloadTypes lists the distinct payload types matching Codecs.
	PayloadTypes []uint8

	// FrameDeltas holds the arrival time difference between consecutive clean
	// packets in milliseconds.
	FrameDeltas []float64

	// Jitter holds the smoothed jitter estimate after each delta, in milliseconds.
	// It has one entry less than the clean sequence.
	Jitter []float64

	// Duration is the time between the first and last clean packet arrival.
	Duration time.Duration

	// SampleRate is the RTP clock rate used for timestamp conversion.
	SampleRate int

	// RMSLevel is the root mean square level of the concatenated payload
	// bytes in decibels. Silence yields negative infinity.
	RMSLevel float64

	// Bitrate is the mean payload bitrate over Duration in bits per second.
	// Zero when Duration is zero.
	Bitrate int64

	// PeakBitrate is the highest payload bitrate seen over any sliding
	// bitrate window.
	PeakBitrate int64
}

// MeanJitter returns the average of the jitter series in milliseconds.
func (s *StreamStats) MeanJitter() float64 {
	if len(s.Jitter) == 0 {
		return 0
	}
	var sum float64
	for _, j := range s.Jitter {
		sum += j
	}
	return sum / float64(len(s.Jitter))
}

// MaxJitter returns the largest jitter estimate in milliseconds.
func (s *StreamStats) MaxJitter() float64 {
	var highest float64
	for _, j := range s.Jitter {
		if j > highest {
			highest = j
		}
	}
	return highest
}

// FinalJitter returns the last jitter estimate, which is the value an RTCP
// receiver report would carry at the end of the leg.
func (s *StreamStats) FinalJitter() float64 {
	if len(s.Jitter) == 0 {
		return 0
	}
	return s.Jitter[len(s.Jitter)-1]
}

// DuplicatePackets returns the number of duplicates removed from the leg.
func (s *StreamStats) DuplicatePackets() int {
	return int(math.Round(s.Duplicates * float64(s.Packets)))
}
