package rtpqos

import (
	"sort"
	"strconv"
)

// CodecResolver maps an RTP payload type to a codec name.
type CodecResolver interface {
	CodecName(payloadType uint8) string
}

// CodecTable is a static payload type to codec name mapping. Payload types
// missing from the table resolve to their decimal string.
type CodecTable map[uint8]string

// DefaultCodecTable returns the static RFC 3551 audio payload types used by
// narrowband telephony.
func DefaultCodecTable() CodecTable {
	return CodecTable{
		0:  "PCMU",
		3:  "GSM",
		4:  "G723",
		8:  "PCMA",
		9:  "G722",
		10: "L16",
		11: "L16",
		13: "CN",
		18: "G729",
	}
}

// CodecName implements CodecResolver.
func (t CodecTable) CodecName(payloadType uint8) string {
	if name, ok := t[payloadType]; ok {
		return name
	}
	return strconv.Itoa(int(payloadType))
}

// CodecResolverFunc adapts a function to CodecResolver.
type CodecResolverFunc func(payloadType uint8) string

// CodecName implements CodecResolver.
func (f CodecResolverFunc) CodecName(payloadType uint8) string {
	return f(payloadType)
}

// PayloadTypes returns the distinct payload types of packets in ascending order.
func PayloadTypes(packets []CapturedPacket) []uint8 {
	seen := make(map[uint8]struct{})
	out := make([]uint8, 0, 2)
	for _, pkt := range packets {
		if _, ok := seen[pkt.PayloadType]; ok {
			continue
		}
		seen[pkt.PayloadType] = struct{}{}
		out = append(out, pkt.PayloadType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Codecs resolves one codec name per distinct payload type of packets, in
// ascending payload type order. A nil resolver uses DefaultCodecTable.
func Codecs(packets []CapturedPacket, resolver CodecResolver) []string {
	if resolver == nil {
		resolver = DefaultCodecTable()
	}
	types := PayloadTypes(packets)
	names := make([]string, len(types))
	for i, pt := range types {
		names[i] = resolver.CodecName(pt)
	}
	return names
}
