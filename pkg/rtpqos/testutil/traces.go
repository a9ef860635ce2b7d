// Package testutil provides synthetic RTP legs and browser automation for
// rtpqos tests.
package testutil

import (
	"time"

	"github.com/pion/rtp"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
	"github.com/thesyncim/rtpqos/pkg/rtpqos/internal"
)

// LegConfig describes a synthetic constant-rate audio leg.
type LegConfig struct {
	// StartSeq is the sequence number of the first packet.
	StartSeq uint16

	// StartTimestamp is the RTP timestamp of the first packet.
	StartTimestamp uint32

	// Interval is the packetization time.
	Interval time.Duration

	// SamplesPerPacket is the RTP timestamp increment per packet.
	SamplesPerPacket uint32

	// PayloadType is stamped on every packet.
	PayloadType uint8

	// PayloadSize is the number of payload bytes per packet.
	PayloadSize int

	// Fill produces the payload byte at offset j of packet i.
	// If nil, payloads are zero (digital silence).
	Fill func(i, j int) byte
}

// G711Config returns a 20ms PCMU leg at 8 kHz: 160 samples and 160 bytes
// per packet.
func G711Config() LegConfig {
	return LegConfig{
		Interval:         20 * time.Millisecond,
		SamplesPerPacket: 160,
		PayloadType:      0,
		PayloadSize:      160,
	}
}

// SquareWave fills payloads with an alternating full-scale int8 pattern.
func SquareWave(_, j int) byte {
	if j%2 == 0 {
		return 0x7F
	}
	return 0x81
}

// ContiguousLeg generates count in-order packets with perfect timing.
// Arrival times come from clock, which advances cfg.Interval per packet.
func ContiguousLeg(clock *internal.MockClock, count int, cfg LegConfig) []rtpqos.CapturedPacket {
	packets := make([]rtpqos.CapturedPacket, count)
	for i := 0; i < count; i++ {
		packets[i] = rtpqos.CapturedPacket{
			Seq:         cfg.StartSeq + uint16(i),
			Timestamp:   cfg.StartTimestamp + uint32(i)*cfg.SamplesPerPacket,
			PayloadType: cfg.PayloadType,
			Payload:     payload(i, cfg),
			ArrivalTime: clock.Tick(cfg.Interval),
		}
	}
	return packets
}

func payload(i int, cfg LegConfig) []byte {
	b := make([]byte, cfg.PayloadSize)
	if cfg.Fill != nil {
		for j := range b {
			b[j] = cfg.Fill(i, j)
		}
	}
	return b
}

// Drop removes every packet whose sequence number is listed.
func Drop(packets []rtpqos.CapturedPacket, seqs ...uint16) []rtpqos.CapturedPacket {
	drop := make(map[uint16]bool, len(seqs))
	for _, s := range seqs {
		drop[s] = true
	}
	out := make([]rtpqos.CapturedPacket, 0, len(packets))
	for _, p := range packets {
		if !drop[p.Seq] {
			out = append(out, p)
		}
	}
	return out
}

// Duplicate inserts a copy of packets[index] right after it, arriving at
// the same instant.
func Duplicate(packets []rtpqos.CapturedPacket, index int) []rtpqos.CapturedPacket {
	out := make([]rtpqos.CapturedPacket, 0, len(packets)+1)
	out = append(out, packets[:index+1]...)
	out = append(out, packets[index])
	return append(out, packets[index+1:]...)
}

// Move relocates the packet at from so it arrives at position to. Arrival
// times stay attached to positions, so the leg remains non-decreasing.
func Move(packets []rtpqos.CapturedPacket, from, to int) []rtpqos.CapturedPacket {
	out := make([]rtpqos.CapturedPacket, len(packets))
	copy(out, packets)

	moved := out[from]
	if from < to {
		copy(out[from:to], out[from+1:to+1])
	} else {
		copy(out[to+1:from+1], out[to:from])
	}
	out[to] = moved

	for i := range out {
		out[i].ArrivalTime = packets[i].ArrivalTime
	}
	return out
}

// Delay shifts the arrival of packets[index] by d. Later packets are pushed
// back as needed so arrival order is preserved.
func Delay(packets []rtpqos.CapturedPacket, index int, d time.Duration) []rtpqos.CapturedPacket {
	out := make([]rtpqos.CapturedPacket, len(packets))
	copy(out, packets)

	out[index].ArrivalTime = out[index].ArrivalTime.Add(d)
	for i := index + 1; i < len(out); i++ {
		if out[i].ArrivalTime.Before(out[i-1].ArrivalTime) {
			out[i].ArrivalTime = out[i-1].ArrivalTime
		}
	}
	return out
}

// MarshalRTP encodes p as an RTP packet from ssrc.
func MarshalRTP(ssrc uint32, p rtpqos.CapturedPacket) []byte {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.Seq,
			Timestamp:      p.Timestamp,
			SSRC:           ssrc,
		},
		Payload: p.Payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		// Marshal only fails on malformed extensions, which are never set here.
		panic(err)
	}
	return raw
}
