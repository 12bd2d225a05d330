// Package stitch plays a playlist of files as one gapless timeline on top of
// a single-file Player.
package stitch

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/pkg/sentry"
	"github.com/camvigil/camvigil/src/playback/index"
)

const (
	commandQueueSize = 32
	eventQueueSize   = 64
)

type command func(c *Controller)

// Controller owns its Player. Every method except Close only enqueues a
// command; commands run in submission order on the controller goroutine.
type Controller struct {
	player Player
	logger logrus.FieldLogger

	cmds      chan command
	events    chan Event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the controller goroutine
	table      index.StitchTable
	dayStartNs int64
	state      State
	current    int
	positionNs int64 // player position inside the current file
	rate       float64
	opens      uint64
}

func NewController(ctx context.Context, player Player, logger logrus.FieldLogger) *Controller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Controller{
		player:  player,
		logger:  logger.WithField("module", "stitch"),
		cmds:    make(chan command, commandQueueSize),
		events:  make(chan Event, eventQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		state:   Idle,
		current: -1,
		rate:    1,
	}
	sentry.GoWithContext(ctx, c.run)
	return c
}

// Events delivers controller events in order. It is never closed.
func (c *Controller) Events() <-chan Event {
	return c.events
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	playerEvents := c.player.Events()
	for {
		select {
		case <-c.quit:
			c.player.Teardown()
			return
		case <-ctx.Done():
			c.player.Teardown()
			return
		case cmd := <-c.cmds:
			cmd(c)
		case ev, ok := <-playerEvents:
			if !ok {
				playerEvents = nil
				continue
			}
			c.onPlayerEvent(ev)
		}
	}
}

func (c *Controller) enqueue(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.done:
	}
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.quit:
	}
}

// Close tears the player down and stops the controller. It waits for both.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
}

// SetPlaylist replaces the timeline and resets to Idle. Wall starts in table
// are relative to table.OriginNs; positions are published relative to
// dayStartNs.
func (c *Controller) SetPlaylist(table index.StitchTable, dayStartNs int64) {
	c.enqueue(func(c *Controller) {
		if c.current >= 0 {
			c.playerCall("stop", c.player.Stop())
		}
		c.table = table
		c.dayStartNs = dayStartNs
		c.current = -1
		c.positionNs = 0
		c.setState(Idle)
		c.logger.WithField("files", table.Len()).Debug("playlist set")
	})
}

func (c *Controller) Play() {
	c.enqueue(func(c *Controller) {
		switch {
		case c.table.Len() == 0:
			c.emit(Error{Kind: ErrKindPlaylist, Text: "no playlist"})
		case c.state == Ended:
			c.logger.Debug("play ignored after end of playlist")
		case c.current < 0:
			c.open(0, 0)
		default:
			if c.playerCall("play", c.player.Play()) {
				c.setState(Playing)
			}
		}
	})
}

func (c *Controller) Pause() {
	c.enqueue(func(c *Controller) {
		if c.state != Playing {
			return
		}
		if c.playerCall("pause", c.player.Pause()) {
			c.setState(Paused)
		}
	})
}

// Stop closes the current file; the playlist is kept.
func (c *Controller) Stop() {
	c.enqueue(func(c *Controller) {
		if c.current >= 0 {
			c.playerCall("stop", c.player.Stop())
		}
		c.current = -1
		c.positionNs = 0
		c.setState(Idle)
	})
}

// PlayAtVirtual starts playback at v on the gapless timeline.
func (c *Controller) PlayAtVirtual(v int64) {
	c.enqueue(func(c *Controller) { c.playAtVirtual(v) })
}

// SeekWall starts playback at w nanoseconds after the day start. Inside a gap
// playback continues at the next file; past the last file nothing happens.
func (c *Controller) SeekWall(w int64) {
	c.enqueue(func(c *Controller) {
		n := c.table.Len()
		if n == 0 {
			c.emit(Error{Kind: ErrKindPlaylist, Text: "no playlist"})
			return
		}
		rel := c.dayStartNs + w - c.table.OriginNs
		starts := c.table.WallStartsNs
		i := sort.Search(n, func(i int) bool { return starts[i] > rel }) - 1
		if i >= 0 && rel < starts[i]+c.table.DurationsNs[i] {
			c.playAtVirtual(c.table.VirtualOffsetsNs[i] + rel - starts[i])
			return
		}
		if next := i + 1; next < n {
			c.playAtVirtual(c.table.VirtualOffsetsNs[next])
			return
		}
		c.logger.WithField("wall_ns", w).Debug("seek past the last file ignored")
	})
}

// SetRate changes the playback rate. Zero or less means 1.
func (c *Controller) SetRate(rate float64) {
	c.enqueue(func(c *Controller) {
		if rate <= 0 {
			rate = 1
		}
		c.rate = rate
		if c.current < 0 {
			return
		}
		if c.playerCall("set rate", c.player.SetRate(rate)) {
			c.playerCall("seek", c.player.Seek(c.positionNs))
		}
	})
}

func (c *Controller) playAtVirtual(v int64) {
	total := c.table.TotalNs()
	if total <= 0 {
		c.emit(Error{Kind: ErrKindPlaylist, Text: "no playlist"})
		return
	}
	if v < 0 {
		v = 0
	}
	if v >= total {
		v = total - 1
	}
	offsets := c.table.VirtualOffsetsNs
	i := sort.Search(len(offsets), func(i int) bool { return offsets[i] > v }) - 1
	if i != c.current {
		c.open(i, v-offsets[i])
		return
	}
	pos := c.table.FileOffsetsNs[i] + v - offsets[i]
	if !c.playerCall("seek", c.player.Seek(pos)) {
		return
	}
	c.positionNs = pos
	if c.playerCall("play", c.player.Play()) {
		c.setState(Playing)
	}
}

// open switches the player to entry i, offsetNs into the entry, and plays
// it. While playing the state stays Playing across the switch.
func (c *Controller) open(i int, offsetNs int64) {
	if c.state != Playing {
		c.setState(Opening)
	}
	path := c.table.Paths[i]
	if !c.playerCall("open", c.player.Open(path)) {
		return
	}
	c.opens++
	if !c.playerCall("set rate", c.player.SetRate(c.rate)) {
		return
	}
	pos := c.table.FileOffsetsNs[i] + offsetNs
	if !c.playerCall("seek", c.player.Seek(pos)) {
		return
	}
	c.current = i
	c.positionNs = pos
	c.emit(SegmentChanged{Index: i, Path: path})
	if c.playerCall("play", c.player.Play()) {
		c.setState(Playing)
	}
}

// playerCall reports err as an Error event and resets to Idle.
func (c *Controller) playerCall(op string, err error) bool {
	if err == nil {
		return true
	}
	c.logger.WithError(err).WithField("op", op).Error("player call failed")
	c.emit(Error{Kind: ErrKindPlayer, Text: op + ": " + err.Error()})
	c.current = -1
	c.setState(Idle)
	return false
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emit(StateChanged{State: s})
}

func (c *Controller) onPlayerEvent(ev PlayerEvent) {
	if ev.Generation != 0 && ev.Generation != c.opens {
		c.logger.WithFields(logrus.Fields{
			"kind":       ev.Kind,
			"generation": ev.Generation,
		}).Debug("event of a previous file dropped")
		return
	}
	switch ev.Kind {
	case PlayerEOS:
		if c.state != Playing || c.current < 0 {
			return
		}
		if next := c.current + 1; next < c.table.Len() {
			c.open(next, 0)
			return
		}
		c.setState(Ended)
		c.emit(PlaylistEnded{})
	case PlayerError:
		text := "unknown player error"
		if ev.Err != nil {
			text = ev.Err.Error()
		}
		c.logger.WithField("current", c.current).Error(text)
		c.emit(Error{Kind: ErrKindPlayer, Text: text})
		if c.current >= 0 {
			_ = c.player.Stop()
		}
		c.current = -1
		c.setState(Idle)
	case PlayerPosition:
		if c.current < 0 {
			return
		}
		c.positionNs = ev.PositionNs
		entryPos := ev.PositionNs - c.table.FileOffsetsNs[c.current]
		wall := c.table.OriginNs + c.table.WallStartsNs[c.current] + entryPos
		c.emit(Position{DayOffsetNs: wall - c.dayStartNs})
	case PlayerDuration:
		c.logger.WithFields(logrus.Fields{
			"current":     c.current,
			"duration_ns": ev.DurationNs,
		}).Debug("file duration reported")
	}
}
