package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
)

// rtpdump layout, as written by rtptools' rtpdump -F dump.
const (
	rtpdumpMagic      = "#!rtpplay1.0 "
	rtpdumpFileHeader = 16
	rtpdumpRecHeader  = 8

	// maxPreamble bounds the text line so garbage input fails fast.
	maxPreamble = 256
)

// ErrNotRTPDump is returned when the input does not start with an rtpdump
// preamble.
var ErrNotRTPDump = errors.New("capture: not an rtpdump file")

// RTPDumpReader reads RTP packets from an rtpdump file. RTCP records are
// skipped.
type RTPDumpReader struct {
	r *bufio.Reader

	// Source is the "address/port" the capture was taken on.
	Source string

	// Start is the capture start time. Record offsets are relative to it.
	Start time.Time
}

// NewRTPDumpReader reads the preamble and file header from r.
func NewRTPDumpReader(r io.Reader) (*RTPDumpReader, error) {
	br := bufio.NewReader(r)

	line, err := readPreamble(br)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, rtpdumpMagic) {
		return nil, ErrNotRTPDump
	}

	var hdr [rtpdumpFileHeader]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("rtpdump header: %w", unexpected(err))
	}
	sec := binary.BigEndian.Uint32(hdr[0:4])
	usec := binary.BigEndian.Uint32(hdr[4:8])

	return &RTPDumpReader{
		r:      br,
		Source: strings.TrimSpace(strings.TrimPrefix(line, rtpdumpMagic)),
		Start:  time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)),
	}, nil
}

func readPreamble(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for sb.Len() < maxPreamble {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrNotRTPDump
			}
			return "", err
		}
		if b == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
	return "", ErrNotRTPDump
}

// Next returns the next RTP datagram and its arrival time. It returns io.EOF
// after the last record.
func (d *RTPDumpReader) Next() ([]byte, time.Time, error) {
	for {
		var hdr [rtpdumpRecHeader]byte
		if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, time.Time{}, io.EOF
			}
			return nil, time.Time{}, fmt.Errorf("rtpdump record: %w", unexpected(err))
		}

		length := int(binary.BigEndian.Uint16(hdr[0:2]))
		plen := binary.BigEndian.Uint16(hdr[2:4])
		offset := binary.BigEndian.Uint32(hdr[4:8])

		if length < rtpdumpRecHeader {
			return nil, time.Time{}, fmt.Errorf("rtpdump record: length %d shorter than header", length)
		}
		body := make([]byte, length-rtpdumpRecHeader)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, time.Time{}, fmt.Errorf("rtpdump record: %w", unexpected(err))
		}

		// plen 0 marks an RTCP record.
		if plen == 0 {
			continue
		}
		if int(plen) < len(body) {
			body = body[:plen]
		}
		return body, d.Start.Add(time.Duration(offset) * time.Millisecond), nil
	}
}

// ReadRTPDump reads a whole rtpdump file and splits it into legs by SSRC.
func ReadRTPDump(r io.Reader) ([]rtpqos.Leg, error) {
	dr, err := NewRTPDumpReader(r)
	if err != nil {
		return nil, err
	}

	demux := NewDemuxer()
	for n := 0; ; n++ {
		raw, arrival, err := dr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := demux.AddRaw(raw, arrival); err != nil {
			return nil, fmt.Errorf("rtpdump packet %d: %w", n, err)
		}
	}
	return demux.Legs(), nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
