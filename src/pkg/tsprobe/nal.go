package tsprobe

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecH265:
		return "H265"
	default:
		return "unknown"
	}
}

const (
	h264NALIDR = 5
	h264NALSPS = 7

	h265NALBLAWLP = 16
	h265NALCRA    = 21
	h265NALVPS    = 32
	h265NALSPS    = 33
	h265NALPPS    = 34
)

// VideoInfo is what an SPS tells about the picture.
type VideoInfo struct {
	Codec  Codec
	Width  int
	Height int
	FPS    float64
}

// SplitNALUnits splits an Annex B byte stream at 3 and 4 byte start codes.
// Bytes before the first start code are ignored.
func SplitNALUnits(data []byte) [][]byte {
	var nals [][]byte
	start := -1
	for i := 0; i+2 < len(data); {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				end := i
				// a fourth zero belongs to the next start code
				for end > start && data[end-1] == 0 {
					end--
				}
				if end > start {
					nals = append(nals, data[start:end])
				}
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nals = append(nals, data[start:])
	}
	return nals
}

func nalType(codec Codec, nal []byte) (int, bool) {
	switch codec {
	case CodecH264:
		if len(nal) < 1 {
			return 0, false
		}
		return int(nal[0] & 0x1F), true
	case CodecH265:
		if len(nal) < 2 {
			return 0, false
		}
		return int(nal[0]>>1) & 0x3F, true
	}
	return 0, false
}

// IsRandomAccessNAL reports NAL units that start or announce a random
// access point: IDR and SPS for H.264; IRAP slices and VPS/SPS/PPS for H.265.
func IsRandomAccessNAL(codec Codec, nal []byte) bool {
	t, ok := nalType(codec, nal)
	if !ok {
		return false
	}
	switch codec {
	case CodecH264:
		return t == h264NALIDR || t == h264NALSPS
	case CodecH265:
		return (t >= h265NALBLAWLP && t <= h265NALCRA) || (t >= h265NALVPS && t <= h265NALPPS)
	}
	return false
}

// ContainsRandomAccess scans an access unit for a random access NAL.
func ContainsRandomAccess(codec Codec, au []byte) bool {
	for _, nal := range SplitNALUnits(au) {
		if IsRandomAccessNAL(codec, nal) {
			return true
		}
	}
	return false
}

// ParseSPS decodes a single SPS NAL unit, header included.
func ParseSPS(codec Codec, nal []byte) (VideoInfo, error) {
	info := VideoInfo{Codec: codec}
	switch codec {
	case CodecH264:
		var sps h264.SPS
		if err := sps.Unmarshal(nal); err != nil {
			return info, err
		}
		info.Width = sps.Width()
		info.Height = sps.Height()
		info.FPS = sps.FPS()
	case CodecH265:
		var sps h265.SPS
		if err := sps.Unmarshal(nal); err != nil {
			return info, err
		}
		info.Width = sps.Width()
		info.Height = sps.Height()
		info.FPS = sps.FPS()
	default:
		return info, fmt.Errorf("unsupported codec %v", codec)
	}
	// SPS without timing info, or nonsense
	if info.FPS <= 0 || info.FPS >= 300 {
		info.FPS = 0
	}
	return info, nil
}

// FindVideoInfo returns the picture description of the first decodable SPS
// in an access unit.
func FindVideoInfo(codec Codec, au []byte) (VideoInfo, bool) {
	for _, nal := range SplitNALUnits(au) {
		t, ok := nalType(codec, nal)
		if !ok {
			continue
		}
		if (codec == CodecH264 && t == h264NALSPS) || (codec == CodecH265 && t == h265NALSPS) {
			if info, err := ParseSPS(codec, nal); err == nil {
				return info, true
			}
		}
	}
	return VideoInfo{Codec: codec}, false
}
