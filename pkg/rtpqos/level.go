package rtpqos

import "math"

// RMSLevel treats the concatenation of payloads as signed 8-bit samples and
// returns their root mean square level in decibels (20*log10(rms)).
//
// An empty concatenation returns ErrInsufficientData. All-zero samples return
// negative infinity.
func RMSLevel(payloads ...[]byte) (float64, error) {
	var (
		sumSquares float64
		count      int
	)
	for _, p := range payloads {
		for _, b := range p {
			v := float64(int8(b))
			sumSquares += v * v
		}
		count += len(p)
	}
	if count == 0 {
		return 0, ErrInsufficientData
	}

	rms := math.Sqrt(sumSquares) / math.Sqrt(float64(count))
	return 20 * math.Log10(rms), nil
}

// payloadsOf collects the payload of every packet in order.
func payloadsOf(packets []CapturedPacket) [][]byte {
	out := make([][]byte, len(packets))
	for i, pkt := range packets {
		out[i] = pkt.Payload
	}
	return out
}
