//go:generate go run go.uber.org/mock/mockgen -package stitch -destination mock_test.go github.com/camvigil/camvigil/src/playback/stitch Player
package stitch

type PlayerEventKind int

const (
	PlayerEOS PlayerEventKind = iota
	PlayerError
	PlayerPosition
	PlayerDuration
)

func (k PlayerEventKind) String() string {
	switch k {
	case PlayerEOS:
		return "eos"
	case PlayerError:
		return "error"
	case PlayerPosition:
		return "position"
	case PlayerDuration:
		return "duration"
	default:
		return "unknown"
	}
}

// PlayerEvent is reported by a Player on its Events channel, in order.
type PlayerEvent struct {
	Kind PlayerEventKind
	// PositionNs and DurationNs are intra-file.
	PositionNs int64
	DurationNs int64
	Err        error
	// Generation is the number of successful Open calls when the event was
	// produced. Zero leaves the event untagged.
	Generation uint64
}

// Player plays one file at a time. Calls are made from a single goroutine.
type Player interface {
	Open(path string) error
	Play() error
	Pause() error
	Stop() error
	Seek(ns int64) error
	SetRate(rate float64) error
	// Teardown releases the player synchronously. No calls follow it.
	Teardown()
	Events() <-chan PlayerEvent
}
