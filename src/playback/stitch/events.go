package stitch

type State int

const (
	Idle State = iota
	Opening
	Playing
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is published by a Controller on its Events channel.
type Event interface {
	isEvent()
}

type StateChanged struct {
	State State
}

type SegmentChanged struct {
	Index int
	Path  string
}

// Position is the playback position as nanoseconds since the day start.
type Position struct {
	DayOffsetNs int64
}

// PlaylistEnded follows the switch to the Ended state.
type PlaylistEnded struct{}

type Error struct {
	Kind string
	Text string
}

const (
	ErrKindPlaylist = "playlist"
	ErrKindPlayer   = "player"
)

func (StateChanged) isEvent()   {}
func (SegmentChanged) isEvent() {}
func (Position) isEvent()       {}
func (PlaylistEnded) isEvent()  {}
func (Error) isEvent()          {}
