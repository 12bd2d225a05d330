// Package tstest builds synthetic MPEG-TS streams for tests.
package tstest

import (
	"math/bits"

	"github.com/camvigil/camvigil/src/pkg/tsprobe"
)

const (
	PMTPID   uint16 = 0x1000
	VideoPID uint16 = 0x0100
	AudioPID uint16 = 0x0101
)

// Muxer writes a one program stream with a video and an AAC audio track.
// CRCs are left zero.
type Muxer struct {
	VideoType uint8
	cc        map[uint16]uint8
}

func NewMuxer(videoType uint8) *Muxer {
	return &Muxer{VideoType: videoType, cc: map[uint16]uint8{}}
}

func (m *Muxer) nextCC(pid uint16) uint8 {
	cc := m.cc[pid]
	m.cc[pid] = (cc + 1) & 0x0F
	return cc
}

// Tables returns a PAT and a PMT packet.
func (m *Muxer) Tables() []byte {
	pat := []byte{
		0x00, // pointer
		0x00, 0xB0, 13, 0x00, 0x01, 0xC1, 0x00, 0x00,
		0x00, 0x01, 0xE0 | byte(PMTPID>>8), byte(PMTPID & 0xFF),
		0, 0, 0, 0,
	}
	pmt := []byte{
		0x00,
		0x02, 0xB0, 9 + 10 + 4, 0x00, 0x01, 0xC1, 0x00, 0x00,
		0xE0 | byte(VideoPID>>8), byte(VideoPID & 0xFF), 0xF0, 0x00,
		m.VideoType, 0xE0 | byte(VideoPID>>8), byte(VideoPID & 0xFF), 0xF0, 0x00,
		tsprobe.StreamTypeAAC, 0xE0 | byte(AudioPID>>8), byte(AudioPID & 0xFF), 0xF0, 0x00,
		0, 0, 0, 0,
	}
	out := psiPacket(0, m.nextCC(0), pat)
	return append(out, psiPacket(PMTPID, m.nextCC(PMTPID), pmt)...)
}

func psiPacket(pid uint16, cc uint8, payload []byte) []byte {
	pkt := header(pid, true, cc, false)
	n := copy(pkt[4:], payload)
	for i := 4 + n; i < tsprobe.PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

func header(pid uint16, pusi bool, cc uint8, adaptation bool) []byte {
	pkt := make([]byte, tsprobe.PacketSize)
	pkt[0] = tsprobe.SyncByte
	pkt[1] = byte(pid>>8) & 0x1F
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | cc&0x0F
	if adaptation {
		pkt[3] |= 0x20
	}
	return pkt
}

// VideoFrame packetizes one access unit. Keyframes carry the
// random_access_indicator when rai is set.
func (m *Muxer) VideoFrame(pts int64, rai bool, au []byte) []byte {
	return m.pes(VideoPID, 0xE0, pts, rai, au)
}

func (m *Muxer) AudioFrame(pts int64, data []byte) []byte {
	return m.pes(AudioPID, 0xC0, pts, false, data)
}

func (m *Muxer) pes(pid uint16, streamID byte, pts int64, rai bool, es []byte) []byte {
	data := append(PESHeader(streamID, pts), es...)
	var out []byte
	first := true
	for len(data) > 0 {
		flag := rai && first
		room := 184
		if flag {
			room -= 2
		}
		n := len(data)
		if n > room {
			n = room
		}
		adapt := 184 - n
		pkt := header(pid, first, m.nextCC(pid), adapt > 0)
		off := 4
		if adapt > 0 {
			pkt[4] = byte(adapt - 1)
			off = 5
			if adapt > 1 {
				if flag {
					pkt[5] = 0x40
				}
				for i := 6; i < 4+adapt; i++ {
					pkt[i] = 0xFF
				}
				off = 4 + adapt
			}
		}
		copy(pkt[off:], data[:n])
		data = data[n:]
		out = append(out, pkt...)
		first = false
	}
	return out
}

// PESHeader returns a PES header with a PTS.
func PESHeader(streamID byte, pts int64) []byte {
	return []byte{
		0x00, 0x00, 0x01, streamID,
		0x00, 0x00,
		0x80, 0x80, 0x05,
		0x21 | byte(pts>>29)&0x0E,
		byte(pts >> 22),
		byte(pts>>14)&0xFE | 0x01,
		byte(pts >> 7),
		byte(pts<<1)&0xFE | 0x01,
	}
}

// H264AccessUnit returns an Annex B access unit of about size bytes. A
// keyframe carries sps, a PPS and an IDR slice.
func H264AccessUnit(keyframe bool, sps []byte, size int) []byte {
	startCode := []byte{0, 0, 0, 1}
	var au []byte
	if keyframe {
		au = append(au, startCode...)
		au = append(au, sps...)
		au = append(au, startCode...)
		au = append(au, 0x68, 0xCE, 0x38, 0x80)
		au = append(au, startCode...)
		au = append(au, 0x65)
	} else {
		au = append(au, startCode...)
		au = append(au, 0x41)
	}
	for len(au) < size {
		au = append(au, 0x9A)
	}
	return au
}

// H265AccessUnit is H264AccessUnit for H.265 slices, without parameter sets.
func H265AccessUnit(keyframe bool, size int) []byte {
	au := []byte{0, 0, 0, 1}
	if keyframe {
		au = append(au, 19<<1, 0x01) // IDR_W_RADL
	} else {
		au = append(au, 1<<1, 0x01) // TRAIL_R
	}
	for len(au) < size {
		au = append(au, 0x9A)
	}
	return au
}

type bitWriter struct {
	buf []byte
	n   int
}

func (w *bitWriter) bit(b uint64) {
	if w.n%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b != 0 {
		w.buf[len(w.buf)-1] |= 1 << (7 - uint(w.n%8))
	}
	w.n++
}

func (w *bitWriter) bits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bit(v >> uint(i) & 1)
	}
}

func (w *bitWriter) ue(v uint64) {
	x := v + 1
	n := bits.Len64(x)
	w.bits(0, n-1)
	w.bits(x, n)
}

// H264SPS encodes a baseline profile SPS NAL unit for a picture of
// width x height. Both must be multiples of 16.
func H264SPS(width, height int) []byte {
	w := &bitWriter{}
	w.bits(66, 8) // profile_idc
	w.bits(0, 8)  // constraint flags
	w.bits(30, 8) // level_idc
	w.ue(0)       // seq_parameter_set_id
	w.ue(0)       // log2_max_frame_num_minus4
	w.ue(2)       // pic_order_cnt_type
	w.ue(1)       // max_num_ref_frames
	w.bit(0)      // gaps_in_frame_num_value_allowed_flag
	w.ue(uint64(width/16 - 1))
	w.ue(uint64(height/16 - 1))
	w.bit(1) // frame_mbs_only_flag
	w.bit(1) // direct_8x8_inference_flag
	w.bit(0) // frame_cropping_flag
	w.bit(0) // vui_parameters_present_flag
	w.bit(1) // rbsp_stop_one_bit
	return append([]byte{0x67}, emulationPrevention(w.buf)...)
}

func emulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+4)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
