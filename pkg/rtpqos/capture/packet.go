// Package capture turns recorded RTP traffic into rtpqos call legs.
//
// It reads raw RTP datagrams, rtptools rtpdump files and JSON packet traces,
// and splits the packets of a capture into one leg per SSRC.
package capture

import (
	"fmt"
	"time"

	"github.com/pion/rtp"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
)

// FromRTP converts a parsed RTP packet received at arrival. The payload is
// copied, so pkt may be reused by the caller.
func FromRTP(pkt *rtp.Packet, arrival time.Time) rtpqos.CapturedPacket {
	payload := make([]byte, len(pkt.Payload))
	copy(payload, pkt.Payload)

	return rtpqos.CapturedPacket{
		Seq:         pkt.SequenceNumber,
		Timestamp:   pkt.Timestamp,
		PayloadType: pkt.PayloadType,
		Payload:     payload,
		ArrivalTime: arrival,
	}
}

// Decode parses one RTP datagram and returns the captured packet with the
// SSRC it was sent from.
func Decode(raw []byte, arrival time.Time) (rtpqos.CapturedPacket, uint32, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return rtpqos.CapturedPacket{}, 0, fmt.Errorf("decode rtp: %w", err)
	}
	if pkt.Version != 2 {
		return rtpqos.CapturedPacket{}, 0, fmt.Errorf("decode rtp: unsupported version %d", pkt.Version)
	}
	return FromRTP(&pkt, arrival), pkt.SSRC, nil
}
