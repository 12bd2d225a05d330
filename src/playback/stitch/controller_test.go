package stitch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/camvigil/camvigil/src/playback/index"
)

const dayStart = int64(1_000_000)

// a [0,100) b [100,200) gap c [250,300), relative to the day start
func testTable() index.StitchTable {
	x := index.Build([]index.Row{
		{Path: "a", StartNs: dayStart, EndNs: dayStart + 100},
		{Path: "b", StartNs: dayStart + 100, EndNs: dayStart + 200},
		{Path: "c", StartNs: dayStart + 250, EndNs: dayStart + 300},
	}, dayStart, dayStart+1000, 10)
	return x.ExportForStitching()
}

type harness struct {
	c      *Controller
	player *MockPlayer
	pe     chan PlayerEvent
	closed bool
}

func newHarness(t *testing.T) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{player: NewMockPlayer(ctrl), pe: make(chan PlayerEvent, 8)}
	h.player.EXPECT().Events().Return((<-chan PlayerEvent)(h.pe))
	h.c = NewController(context.Background(), h.player, nil)
	t.Cleanup(func() {
		if !h.closed {
			h.player.EXPECT().Teardown()
			h.c.Close()
		}
	})
	return h
}

func (h *harness) expect(t *testing.T, want ...Event) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-h.c.Events():
			require.Equal(t, w, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %#v", w)
		}
	}
}

func (h *harness) expectOpen(path string, offset int64, rate float64) *gomock.Call {
	return h.player.EXPECT().Play().After(
		h.player.EXPECT().Seek(offset).After(
			h.player.EXPECT().SetRate(rate).After(
				h.player.EXPECT().Open(path))))
}

func TestPlayWithoutPlaylist(t *testing.T) {
	h := newHarness(t)
	h.c.Play()
	h.expect(t, Error{Kind: ErrKindPlaylist, Text: "no playlist"})
	h.c.PlayAtVirtual(10)
	h.expect(t, Error{Kind: ErrKindPlaylist, Text: "no playlist"})
}

func TestPlayThroughPlaylist(t *testing.T) {
	h := newHarness(t)
	h.c.SetPlaylist(testTable(), dayStart)

	h.expectOpen("a", 0, 1)
	h.c.Play()
	h.expect(t,
		StateChanged{State: Opening},
		SegmentChanged{Index: 0, Path: "a"},
		StateChanged{State: Playing},
	)

	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 40}
	h.expect(t, Position{DayOffsetNs: 40})

	h.expectOpen("b", 0, 1)
	h.pe <- PlayerEvent{Kind: PlayerEOS}
	// no state change while switching files
	h.expect(t, SegmentChanged{Index: 1, Path: "b"})

	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 10}
	h.expect(t, Position{DayOffsetNs: 110})

	h.expectOpen("c", 0, 1)
	h.pe <- PlayerEvent{Kind: PlayerEOS}
	h.expect(t, SegmentChanged{Index: 2, Path: "c"})
	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 5}
	h.expect(t, Position{DayOffsetNs: 255})

	h.pe <- PlayerEvent{Kind: PlayerEOS}
	h.expect(t, StateChanged{State: Ended}, PlaylistEnded{})

	// ended is terminal until a new playlist
	h.c.Play()
	h.player.EXPECT().Stop()
	h.c.SetPlaylist(testTable(), dayStart)
	h.expect(t, StateChanged{State: Idle})
}

func TestPlayAtVirtual(t *testing.T) {
	h := newHarness(t)
	h.c.SetPlaylist(testTable(), dayStart)

	h.expectOpen("b", 50, 1)
	h.c.PlayAtVirtual(150)
	h.expect(t,
		StateChanged{State: Opening},
		SegmentChanged{Index: 1, Path: "b"},
		StateChanged{State: Playing},
	)

	// clamped to the last nanosecond
	h.expectOpen("c", 49, 1)
	h.c.PlayAtVirtual(500)
	h.expect(t, SegmentChanged{Index: 2, Path: "c"})

	// same file: seek in place
	seek := h.player.EXPECT().Seek(int64(30))
	h.player.EXPECT().Play().After(seek)
	h.c.PlayAtVirtual(230)
	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 30}
	h.expect(t, Position{DayOffsetNs: 280})

	h.expectOpen("a", 0, 1)
	h.c.PlayAtVirtual(-20)
	h.expect(t, SegmentChanged{Index: 0, Path: "a"})
}

func TestSeekWall(t *testing.T) {
	h := newHarness(t)
	h.c.SetPlaylist(testTable(), dayStart)

	// in the gap: next file
	h.expectOpen("c", 0, 1)
	h.c.SeekWall(220)
	h.expect(t,
		StateChanged{State: Opening},
		SegmentChanged{Index: 2, Path: "c"},
		StateChanged{State: Playing},
	)

	h.expectOpen("a", 50, 1)
	h.c.SeekWall(50)
	h.expect(t, SegmentChanged{Index: 0, Path: "a"})

	// past the end: nothing
	h.c.SeekWall(900)
	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 51}
	h.expect(t, Position{DayOffsetNs: 51})
}

func TestPositionRelativeToDayStart(t *testing.T) {
	h := newHarness(t)
	table := testTable()
	// the index window started 400ns after the day
	h.c.SetPlaylist(table, dayStart-400)

	h.expectOpen("b", 0, 1)
	h.c.SeekWall(500)
	h.expect(t,
		StateChanged{State: Opening},
		SegmentChanged{Index: 1, Path: "b"},
		StateChanged{State: Playing},
	)
	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 7}
	h.expect(t, Position{DayOffsetNs: 507})
}

func TestSetRate(t *testing.T) {
	h := newHarness(t)
	h.c.SetPlaylist(testTable(), dayStart)

	// set while idle, applied on open
	h.c.SetRate(2)
	h.expectOpen("a", 0, 2)
	h.c.Play()
	h.expect(t,
		StateChanged{State: Opening},
		SegmentChanged{Index: 0, Path: "a"},
		StateChanged{State: Playing},
	)
	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 33}
	h.expect(t, Position{DayOffsetNs: 33})

	// zero means normal speed, applied at the current position
	h.player.EXPECT().Seek(int64(33)).After(h.player.EXPECT().SetRate(1.0))
	h.c.SetRate(0)
	h.player.EXPECT().Pause()
	h.c.Pause()
	h.expect(t, StateChanged{State: Paused})
	h.player.EXPECT().Play()
	h.c.Play()
	h.expect(t, StateChanged{State: Playing})

	h.expectOpen("b", 0, 1)
	h.pe <- PlayerEvent{Kind: PlayerEOS}
	h.expect(t, SegmentChanged{Index: 1, Path: "b"})
}

func TestPauseResumeStop(t *testing.T) {
	h := newHarness(t)
	h.c.SetPlaylist(testTable(), dayStart)
	h.expectOpen("a", 0, 1)
	h.c.Play()
	h.expect(t,
		StateChanged{State: Opening},
		SegmentChanged{Index: 0, Path: "a"},
		StateChanged{State: Playing},
	)

	h.player.EXPECT().Pause()
	h.c.Pause()
	h.expect(t, StateChanged{State: Paused})
	// pausing twice is a no-op
	h.c.Pause()

	h.player.EXPECT().Play()
	h.c.Play()
	h.expect(t, StateChanged{State: Playing})

	h.player.EXPECT().Stop()
	h.c.Stop()
	h.expect(t, StateChanged{State: Idle})

	// the playlist survives Stop
	h.expectOpen("a", 0, 1)
	h.c.Play()
	h.expect(t, StateChanged{State: Opening})
}

func TestPlayerFailures(t *testing.T) {
	h := newHarness(t)
	h.c.SetPlaylist(testTable(), dayStart)

	h.player.EXPECT().Open("a").Return(errors.New("boom"))
	h.c.Play()
	h.expect(t,
		StateChanged{State: Opening},
		Error{Kind: ErrKindPlayer, Text: "open: boom"},
		StateChanged{State: Idle},
	)

	h.expectOpen("a", 0, 1)
	h.c.Play()
	h.expect(t,
		StateChanged{State: Opening},
		SegmentChanged{Index: 0, Path: "a"},
		StateChanged{State: Playing},
	)

	h.player.EXPECT().Stop()
	h.pe <- PlayerEvent{Kind: PlayerError, Err: errors.New("decoder gone")}
	h.expect(t,
		Error{Kind: ErrKindPlayer, Text: "decoder gone"},
		StateChanged{State: Idle},
	)
}

func TestCloseTearsDownPlayer(t *testing.T) {
	h := newHarness(t)
	h.player.EXPECT().Teardown()
	h.c.Close()
	h.closed = true
	h.c.Close()
	// commands after close are dropped without blocking
	for i := 0; i < commandQueueSize*2; i++ {
		h.c.Play()
	}
}

func TestClampedEntrySeeksIntoFile(t *testing.T) {
	h := newHarness(t)
	// b overlaps a by 5ns, its entry starts 5ns into the file
	x := index.Build([]index.Row{
		{Path: "a", StartNs: dayStart, EndNs: dayStart + 100},
		{Path: "b", StartNs: dayStart + 95, EndNs: dayStart + 200},
	}, dayStart, dayStart+1000, 10)
	h.c.SetPlaylist(x.ExportForStitching(), dayStart)

	h.expectOpen("b", 5, 1)
	h.c.PlayAtVirtual(100)
	h.expect(t,
		StateChanged{State: Opening},
		SegmentChanged{Index: 1, Path: "b"},
		StateChanged{State: Playing},
	)
	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 15}
	h.expect(t, Position{DayOffsetNs: 110})
}

func TestEventsOfPreviousFileDropped(t *testing.T) {
	h := newHarness(t)
	h.c.SetPlaylist(testTable(), dayStart)

	h.expectOpen("a", 0, 1)
	h.c.Play()
	h.expect(t,
		StateChanged{State: Opening},
		SegmentChanged{Index: 0, Path: "a"},
		StateChanged{State: Playing},
	)

	h.expectOpen("c", 10, 1)
	h.c.PlayAtVirtual(210)
	h.expect(t, SegmentChanged{Index: 2, Path: "c"})

	// a's end arrives after c was opened
	h.pe <- PlayerEvent{Kind: PlayerEOS, Generation: 1}
	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 90, Generation: 1}
	h.pe <- PlayerEvent{Kind: PlayerPosition, PositionNs: 20, Generation: 2}
	h.expect(t, Position{DayOffsetNs: 270})

	h.pe <- PlayerEvent{Kind: PlayerEOS, Generation: 2}
	h.expect(t, StateChanged{State: Ended}, PlaylistEnded{})
}
