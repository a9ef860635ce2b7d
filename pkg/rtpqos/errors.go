package rtpqos

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyStream is returned when a leg has no packets, so no initial
	// expected sequence number exists.
	ErrEmptyStream = errors.New("rtpqos: empty stream")

	// ErrInsufficientData is returned when fewer than two clean packets remain
	// or the concatenated payload is empty.
	ErrInsufficientData = errors.New("rtpqos: insufficient data")

	// ErrInvalidPacket is returned when a packet violates the input contract.
	ErrInvalidPacket = errors.New("rtpqos: invalid packet")
)

// InvalidPacketError describes which packet of a leg broke the input contract.
// It matches ErrInvalidPacket with errors.Is.
type InvalidPacketError struct {
	// Index is the arrival position of the offending packet.
	Index int

	// Reason is a short human readable description.
	Reason string
}

// Error implements the error interface.
func (e *InvalidPacketError) Error() string {
	return fmt.Sprintf("rtpqos: invalid packet at index %d: %s", e.Index, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidPacket.
func (e *InvalidPacketError) Unwrap() error {
	return ErrInvalidPacket
}

// Validate checks the input contract of a leg: it must be non-empty and every
// packet must carry a capture time that does not go backwards.
func Validate(packets []CapturedPacket) error {
	if len(packets) == 0 {
		return ErrEmptyStream
	}
	for i, pkt := range packets {
		if pkt.ArrivalTime.IsZero() {
			return &InvalidPacketError{Index: i, Reason: "missing arrival time"}
		}
		if i > 0 && pkt.ArrivalTime.Before(packets[i-1].ArrivalTime) {
			return &InvalidPacketError{Index: i, Reason: "arrival time goes backwards"}
		}
	}
	return nil
}
