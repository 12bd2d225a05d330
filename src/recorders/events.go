package recorders

import (
	"github.com/camvigil/camvigil/src/pkg/tsprobe"
)

// Event is emitted by a recorder, in order, on the channel it was created
// with.
type Event interface {
	Camera() int
}

// SegmentOpened is sent once the first keyframe of a new file was written.
type SegmentOpened struct {
	CameraIndex int
	Path        string
	StartNs     int64
	Video       tsprobe.VideoInfo
}

// SegmentClosed is sent after the file was flushed, synced and closed.
type SegmentClosed struct {
	CameraIndex int
	Path        string
	EndNs       int64
	DurationMs  int64
}

// RecordingError is sent when the recorder gives up. It is the last event of
// that recorder.
type RecordingError struct {
	CameraIndex int
	Message     string
}

func (e SegmentOpened) Camera() int  { return e.CameraIndex }
func (e SegmentClosed) Camera() int  { return e.CameraIndex }
func (e RecordingError) Camera() int { return e.CameraIndex }
