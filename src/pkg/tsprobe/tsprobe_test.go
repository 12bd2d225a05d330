package tsprobe_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camvigil/camvigil/src/pkg/tsprobe"
	"github.com/camvigil/camvigil/src/pkg/tsprobe/tstest"
)

func readAll(t *testing.T, data []byte) []tsprobe.Packet {
	t.Helper()
	r := tsprobe.NewReader(bytes.NewReader(data))
	var pkts []tsprobe.Packet
	for {
		pkt, err := r.ReadPacket()
		if err == io.EOF {
			return pkts
		}
		require.NoError(t, err)
		pkts = append(pkts, pkt)
	}
}

func TestTablesAndPES(t *testing.T) {
	m := tstest.NewMuxer(tsprobe.StreamTypeH264)
	sps := tstest.H264SPS(640, 480)
	var stream []byte
	stream = append(stream, m.Tables()...)
	stream = append(stream, m.VideoFrame(9000, true, tstest.H264AccessUnit(true, sps, 600))...)

	pkts := readAll(t, stream)
	require.GreaterOrEqual(t, len(pkts), 4)

	pmtPID, ok := tsprobe.ParsePAT(pkts[0].Payload())
	require.True(t, ok)
	assert.Equal(t, tstest.PMTPID, pmtPID)

	require.Equal(t, pmtPID, pkts[1].PID())
	streams, ok := tsprobe.ParsePMT(pkts[1].Payload())
	require.True(t, ok)
	require.Len(t, streams, 2)
	video, codec, ok := tsprobe.VideoStream(streams)
	require.True(t, ok)
	assert.Equal(t, tstest.VideoPID, video.PID)
	assert.Equal(t, tsprobe.CodecH264, codec)

	first := pkts[2]
	assert.True(t, first.PayloadUnitStart())
	assert.True(t, first.RandomAccess())
	assert.False(t, pkts[3].RandomAccess())
	pts, hasPTS, es, ok := tsprobe.ParsePES(first.Payload())
	require.True(t, ok)
	require.True(t, hasPTS)
	assert.Equal(t, int64(9000), pts)

	var au []byte
	au = append(au, es...)
	for _, p := range pkts[3:] {
		au = append(au, p.Payload()...)
	}
	assert.True(t, tsprobe.ContainsRandomAccess(codec, au))
	info, ok := tsprobe.FindVideoInfo(codec, au)
	require.True(t, ok)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 480, info.Height)
	assert.Equal(t, "H264", info.Codec.String())
}

func TestParsePESLargePTS(t *testing.T) {
	pts := int64(1)<<33 - 1
	got, hasPTS, _, ok := tsprobe.ParsePES(append(tstest.PESHeader(0xE0, pts), 0xAA))
	require.True(t, ok)
	require.True(t, hasPTS)
	assert.Equal(t, pts, got)

	_, _, _, ok = tsprobe.ParsePES([]byte{0, 0, 2, 0xE0, 0, 0, 0x80, 0x80, 5})
	assert.False(t, ok)
}

func TestReaderResync(t *testing.T) {
	m := tstest.NewMuxer(tsprobe.StreamTypeH264)
	stream := append([]byte{0x00, 0x12, 0x34}, m.Tables()...)
	pkts := readAll(t, stream)
	require.Len(t, pkts, 2)
	assert.Equal(t, uint16(tsprobe.PIDPAT), pkts[0].PID())

	r := tsprobe.NewReader(bytes.NewReader(m.Tables()[:100]))
	_, err := r.ReadPacket()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	r = tsprobe.NewReader(bytes.NewReader(make([]byte, tsprobe.PacketSize*20)))
	_, err = r.ReadPacket()
	assert.ErrorIs(t, err, tsprobe.ErrLostSync)
}

func TestPTSUnwrapper(t *testing.T) {
	wrap := int64(1) << 33
	var u tsprobe.PTSUnwrapper
	assert.Equal(t, wrap-9000, u.Unwrap(wrap-9000))
	assert.Equal(t, wrap+1000, u.Unwrap(1000))
	// reordered frame from before the wrap
	assert.Equal(t, wrap-3000, u.Unwrap(wrap-3000))
	assert.Equal(t, wrap+4000, u.Unwrap(4000))
}

func TestTicksToNs(t *testing.T) {
	assert.Equal(t, int64(1e9), tsprobe.TicksToNs(tsprobe.ClockRate))
	assert.Equal(t, int64(40e6), tsprobe.TicksToNs(3600))
}

func TestSplitNALUnits(t *testing.T) {
	data := []byte{0xFF, 0, 0, 0, 1, 0x67, 0x01, 0, 0, 1, 0x68, 0x02, 0, 0, 0, 1, 0x65}
	nals := tsprobe.SplitNALUnits(data)
	require.Len(t, nals, 3)
	assert.Equal(t, []byte{0x67, 0x01}, nals[0])
	assert.Equal(t, []byte{0x68, 0x02}, nals[1])
	assert.Equal(t, []byte{0x65}, nals[2])
	assert.Empty(t, tsprobe.SplitNALUnits([]byte{1, 2, 3}))
}

func TestRandomAccessNAL(t *testing.T) {
	assert.True(t, tsprobe.IsRandomAccessNAL(tsprobe.CodecH264, []byte{0x65}))
	assert.True(t, tsprobe.IsRandomAccessNAL(tsprobe.CodecH264, []byte{0x67}))
	assert.False(t, tsprobe.IsRandomAccessNAL(tsprobe.CodecH264, []byte{0x41}))

	assert.True(t, tsprobe.ContainsRandomAccess(tsprobe.CodecH265, tstest.H265AccessUnit(true, 64)))
	assert.False(t, tsprobe.ContainsRandomAccess(tsprobe.CodecH265, tstest.H265AccessUnit(false, 64)))
	assert.True(t, tsprobe.IsRandomAccessNAL(tsprobe.CodecH265, []byte{33 << 1, 0x01}))
	assert.False(t, tsprobe.IsRandomAccessNAL(tsprobe.CodecUnknown, []byte{0x65}))
}

func TestParseSPSRejectsGarbage(t *testing.T) {
	_, err := tsprobe.ParseSPS(tsprobe.CodecH264, []byte{0x67})
	assert.Error(t, err)
	_, err = tsprobe.ParseSPS(tsprobe.CodecUnknown, []byte{0x67})
	assert.Error(t, err)
}
