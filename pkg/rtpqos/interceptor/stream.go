package interceptor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
	"github.com/thesyncim/rtpqos/pkg/rtpqos/capture"
)

// streamState records one remote RTP stream until it is analysed.
//
// The reader goroutine appends packets while the cleanup loop and RTCP
// reader check activity, so packets are guarded by mu and the last arrival
// is kept in an atomic.Value.
type streamState struct {
	ssrc     uint32
	analyzer *rtpqos.Analyzer

	mu      sync.Mutex
	packets []rtpqos.CapturedPacket

	lastPacketTime atomic.Value // stores time.Time
	finished       atomic.Bool
}

// newStreamState creates a stream whose last activity is now.
func newStreamState(ssrc uint32, analyzer *rtpqos.Analyzer, now time.Time) *streamState {
	s := &streamState{
		ssrc:     ssrc,
		analyzer: analyzer,
	}
	s.lastPacketTime.Store(now)
	return s
}

// add records pkt as received at now. Packets arriving after the stream
// was finished are ignored.
func (s *streamState) add(pkt *rtp.Packet, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished.Load() {
		return
	}
	s.packets = append(s.packets, capture.FromRTP(pkt, now))
	s.lastPacketTime.Store(now)
}

// finish marks the stream done and hands over its packets. Only the first
// call returns ok.
func (s *streamState) finish() ([]rtpqos.CapturedPacket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished.CompareAndSwap(false, true) {
		return nil, false
	}
	packets := s.packets
	s.packets = nil
	return packets, true
}

// Len returns the number of packets recorded so far.
func (s *streamState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

// LastPacket returns the arrival time of the most recent packet.
func (s *streamState) LastPacket() time.Time {
	return s.lastPacketTime.Load().(time.Time)
}

// SSRC returns the stream's SSRC identifier.
func (s *streamState) SSRC() uint32 {
	return s.ssrc
}
