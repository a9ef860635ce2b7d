package interceptor

import (
	"sync"

	"github.com/pion/rtp"
)

// packetPool reuses rtp.Packet values for parsing. The payload is copied
// out by capture.FromRTP before the packet is returned.
var packetPool = sync.Pool{
	New: func() any {
		return &rtp.Packet{}
	},
}

// getPacket retrieves a packet from the pool.
func getPacket() *rtp.Packet {
	return packetPool.Get().(*rtp.Packet)
}

// putPacket resets pkt and returns it to the pool.
func putPacket(pkt *rtp.Packet) {
	*pkt = rtp.Packet{}
	packetPool.Put(pkt)
}
