package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
)

// TracedPacket is one packet of a JSON trace. Seq and PayloadType are wide
// integers so that out-of-range values survive decoding and can be reported.
type TracedPacket struct {
	// ArrivalTimeUs is the arrival time in microseconds since the Unix epoch.
	ArrivalTimeUs int64 `json:"arrival_time_us"`

	// Seq is the RTP sequence number, 0..65535.
	Seq int `json:"seq"`

	// Timestamp is the RTP timestamp.
	Timestamp uint32 `json:"timestamp"`

	// PayloadType is the RTP payload type, 0..127.
	PayloadType int `json:"payload_type"`

	// Payload is the media payload, base64 in JSON.
	Payload []byte `json:"payload"`
}

// ArrivalTime converts the arrival time from microseconds to time.Time.
func (p TracedPacket) ArrivalTime() time.Time {
	return time.Unix(0, p.ArrivalTimeUs*1000)
}

// Trace is a recorded or synthetic call leg in JSON form.
type Trace struct {
	// Name is a short identifier for the trace (e.g., "wifi_burst_loss").
	Name string `json:"name"`

	// Description explains what network conditions the trace represents.
	Description string `json:"description"`

	// Packets is the list of packets in arrival order.
	Packets []TracedPacket `json:"packets"`
}

// LoadTrace reads a trace from a JSON file.
//
// File format:
//
//	{
//	    "name": "trace_name",
//	    "description": "Description of network scenario",
//	    "packets": [
//	        {"arrival_time_us": 0, "seq": 1, "timestamp": 160, "payload_type": 0, "payload": "f39/fw=="},
//	        ...
//	    ]
//	}
func LoadTrace(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file %s: %w", path, err)
	}
	defer f.Close()

	trace, err := ReadTrace(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trace file %s: %w", path, err)
	}
	return trace, nil
}

// ReadTrace decodes a trace from r.
func ReadTrace(r io.Reader) (*Trace, error) {
	var trace Trace
	if err := json.NewDecoder(r).Decode(&trace); err != nil {
		return nil, err
	}
	return &trace, nil
}

// WriteTrace encodes t to w as indented JSON.
func WriteTrace(w io.Writer, t *Trace) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

// NewTrace records packets as a trace.
func NewTrace(name, description string, packets []rtpqos.CapturedPacket) *Trace {
	t := &Trace{
		Name:        name,
		Description: description,
		Packets:     make([]TracedPacket, len(packets)),
	}
	for i, p := range packets {
		t.Packets[i] = TracedPacket{
			ArrivalTimeUs: p.ArrivalTime.UnixMicro(),
			Seq:           int(p.Seq),
			Timestamp:     p.Timestamp,
			PayloadType:   int(p.PayloadType),
			Payload:       p.Payload,
		}
	}
	return t
}

// CapturedPackets converts the trace into analyzer input. A sequence number
// or payload type outside its RTP range yields an *rtpqos.InvalidPacketError.
func (t *Trace) CapturedPackets() ([]rtpqos.CapturedPacket, error) {
	out := make([]rtpqos.CapturedPacket, len(t.Packets))
	for i, p := range t.Packets {
		if p.Seq < 0 || p.Seq > rtpqos.RTPMaxSeq {
			return nil, &rtpqos.InvalidPacketError{
				Index:  i,
				Reason: fmt.Sprintf("sequence number %d out of range", p.Seq),
			}
		}
		if p.PayloadType < 0 || p.PayloadType > 127 {
			return nil, &rtpqos.InvalidPacketError{
				Index:  i,
				Reason: fmt.Sprintf("payload type %d out of range", p.PayloadType),
			}
		}
		out[i] = rtpqos.CapturedPacket{
			Seq:         uint16(p.Seq),
			Timestamp:   p.Timestamp,
			PayloadType: uint8(p.PayloadType),
			Payload:     p.Payload,
			ArrivalTime: p.ArrivalTime(),
		}
	}
	return out, nil
}

// Leg returns the trace as a named leg.
func (t *Trace) Leg() (rtpqos.Leg, error) {
	packets, err := t.CapturedPackets()
	if err != nil {
		return rtpqos.Leg{}, err
	}
	return rtpqos.Leg{ID: t.Name, Packets: packets}, nil
}
