package capture

import (
	"fmt"
	"sort"
	"time"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
)

// Demuxer splits a capture into one leg per SSRC. Packets keep their
// arrival order within each leg. It is not safe for concurrent use.
type Demuxer struct {
	legs  map[uint32]*demuxLeg
	order []uint32
}

type demuxLeg struct {
	first   time.Time
	packets []rtpqos.CapturedPacket
}

// NewDemuxer creates an empty Demuxer.
func NewDemuxer() *Demuxer {
	return &Demuxer{legs: make(map[uint32]*demuxLeg)}
}

// Add appends p to the leg of ssrc.
func (d *Demuxer) Add(ssrc uint32, p rtpqos.CapturedPacket) {
	leg, ok := d.legs[ssrc]
	if !ok {
		leg = &demuxLeg{first: p.ArrivalTime}
		d.legs[ssrc] = leg
		d.order = append(d.order, ssrc)
	}
	leg.packets = append(leg.packets, p)
}

// AddRaw decodes an RTP datagram and adds it.
func (d *Demuxer) AddRaw(raw []byte, arrival time.Time) error {
	p, ssrc, err := Decode(raw, arrival)
	if err != nil {
		return err
	}
	d.Add(ssrc, p)
	return nil
}

// Len returns the number of distinct SSRCs seen.
func (d *Demuxer) Len() int {
	return len(d.order)
}

// Legs returns one leg per SSRC, ordered by the arrival of each leg's first
// packet. Ties keep the order in which the SSRCs were first seen. Leg IDs
// are the SSRC in hex, e.g. "0x1234abcd".
func (d *Demuxer) Legs() []rtpqos.Leg {
	order := make([]uint32, len(d.order))
	copy(order, d.order)
	sort.SliceStable(order, func(i, j int) bool {
		return d.legs[order[i]].first.Before(d.legs[order[j]].first)
	})

	legs := make([]rtpqos.Leg, 0, len(order))
	for _, ssrc := range order {
		legs = append(legs, rtpqos.Leg{
			ID:      LegID(ssrc),
			Packets: d.legs[ssrc].packets,
		})
	}
	return legs
}

// LegID formats an SSRC the way Legs names its legs.
func LegID(ssrc uint32) string {
	return fmt.Sprintf("0x%08x", ssrc)
}
