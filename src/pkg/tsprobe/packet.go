// Package tsprobe inspects MPEG-TS packets: program tables, PES timestamps,
// random access points and the SPS of H.264/H.265 video.
package tsprobe

import (
	"bufio"
	"errors"
	"io"
)

const (
	PacketSize = 188
	SyncByte   = 0x47

	StreamTypeH264 = 0x1B
	StreamTypeH265 = 0x24
	StreamTypeAAC  = 0x0F
	StreamTypeAC3  = 0x81
	StreamTypeMPEG = 0x03

	PIDPAT = 0x0000
)

var ErrLostSync = errors.New("lost ts sync")

// Packet is one 188 byte transport packet.
type Packet []byte

func (p Packet) PID() uint16 {
	return uint16(p[1]&0x1F)<<8 | uint16(p[2])
}

func (p Packet) PayloadUnitStart() bool {
	return p[1]&0x40 != 0
}

func (p Packet) hasAdaptation() bool {
	return p[3]&0x20 != 0
}

func (p Packet) hasPayload() bool {
	return p[3]&0x10 != 0
}

// RandomAccess reports the random_access_indicator of the adaptation field.
func (p Packet) RandomAccess() bool {
	return p.hasAdaptation() && p[4] > 0 && p[5]&0x40 != 0
}

// Payload returns the bytes after the header and adaptation field, nil when
// the packet carries none.
func (p Packet) Payload() []byte {
	if !p.hasPayload() {
		return nil
	}
	offset := 4
	if p.hasAdaptation() {
		offset = 5 + int(p[4])
	}
	if offset >= PacketSize {
		return nil
	}
	return p[offset:]
}

// Reader splits a byte stream into packets, skipping garbage between them.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, PacketSize*64)}
}

// ReadPacket returns the next packet. The returned slice is freshly
// allocated. A trailing partial packet yields io.ErrUnexpectedEOF.
func (r *Reader) ReadPacket() (Packet, error) {
	skipped := 0
	for {
		b, err := r.r.Peek(1)
		if err != nil {
			return nil, err
		}
		if b[0] == SyncByte {
			break
		}
		if _, err := r.r.Discard(1); err != nil {
			return nil, err
		}
		skipped++
		if skipped > PacketSize*16 {
			return nil, ErrLostSync
		}
	}
	pkt := make(Packet, PacketSize)
	if _, err := io.ReadFull(r.r, pkt); err != nil {
		return nil, err
	}
	return pkt, nil
}

// section returns the PSI section after the pointer field.
func section(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	start := 1 + int(payload[0])
	if start >= len(payload) {
		return nil
	}
	return payload[start:]
}

// ParsePAT returns the PMT PID of the first program in a PAT payload.
func ParsePAT(payload []byte) (uint16, bool) {
	table := section(payload)
	if len(table) < 12 || table[0] != 0x00 {
		return 0, false
	}
	sectionLength := int(table[1]&0x0F)<<8 | int(table[2])
	end := 3 + sectionLength - 4 // CRC
	if end > len(table) {
		end = len(table)
	}
	for off := 8; off+4 <= end; off += 4 {
		program := int(table[off])<<8 | int(table[off+1])
		if program == 0 {
			continue // network PID
		}
		return uint16(table[off+2]&0x1F)<<8 | uint16(table[off+3]), true
	}
	return 0, false
}

// ElementaryStream is a PMT entry.
type ElementaryStream struct {
	Type uint8
	PID  uint16
}

// ParsePMT returns the elementary streams of a PMT payload.
func ParsePMT(payload []byte) ([]ElementaryStream, bool) {
	table := section(payload)
	if len(table) < 16 || table[0] != 0x02 {
		return nil, false
	}
	sectionLength := int(table[1]&0x0F)<<8 | int(table[2])
	programInfoLength := int(table[10]&0x0F)<<8 | int(table[11])
	end := 3 + sectionLength - 4
	if end > len(table) {
		end = len(table)
	}
	var streams []ElementaryStream
	for off := 12 + programInfoLength; off+5 <= end; {
		streams = append(streams, ElementaryStream{
			Type: table[off],
			PID:  uint16(table[off+1]&0x1F)<<8 | uint16(table[off+2]),
		})
		esInfoLength := int(table[off+3]&0x0F)<<8 | int(table[off+4])
		off += 5 + esInfoLength
	}
	return streams, len(streams) > 0
}

// VideoStream picks the first H.264 or H.265 stream.
func VideoStream(streams []ElementaryStream) (ElementaryStream, Codec, bool) {
	for _, s := range streams {
		switch s.Type {
		case StreamTypeH264:
			return s, CodecH264, true
		case StreamTypeH265:
			return s, CodecH265, true
		}
	}
	return ElementaryStream{}, CodecUnknown, false
}

// ParsePES parses the header at the start of a PES payload. It returns the
// 33 bit PTS when present and the elementary stream bytes after the header.
func ParsePES(payload []byte) (pts int64, hasPTS bool, data []byte, ok bool) {
	if len(payload) < 9 || payload[0] != 0 || payload[1] != 0 || payload[2] != 1 {
		return 0, false, nil, false
	}
	headerEnd := 9 + int(payload[8])
	if headerEnd > len(payload) {
		return 0, false, nil, false
	}
	if payload[7]&0x80 != 0 && len(payload) >= 14 {
		b := payload[9:14]
		pts = int64(b[0]>>1&0x07)<<30 | int64(b[1])<<22 | int64(b[2]>>1)<<15 | int64(b[3])<<7 | int64(b[4]>>1)
		hasPTS = true
	}
	return pts, hasPTS, payload[headerEnd:], true
}

const (
	ptsWrap = int64(1) << 33
	// ClockRate is the PTS tick rate.
	ClockRate = 90000
)

// PTSUnwrapper turns 33 bit PTS values into a monotonic timeline across
// wraparounds. Reordered frames around a wrap are handled too.
type PTSUnwrapper struct {
	last   int64
	cycles int64
	init   bool
}

func (u *PTSUnwrapper) Unwrap(pts int64) int64 {
	if !u.init {
		u.init = true
		u.last = pts
		return pts
	}
	d := pts - u.last
	switch {
	case d < -ptsWrap/2:
		u.cycles++
	case d > ptsWrap/2:
		u.cycles--
	}
	u.last = pts
	return pts + u.cycles*ptsWrap
}

// TicksToNs converts 90kHz ticks to nanoseconds.
func TicksToNs(ticks int64) int64 {
	return ticks * 100000 / 9
}
