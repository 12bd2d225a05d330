package store

import "time"

type SegmentStatus int

const (
	StatusOpen   SegmentStatus = 0
	StatusClosed SegmentStatus = 1
)

func (s SegmentStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Camera is a camera row that has recordings.
type Camera struct {
	ID      int64
	Name    string
	MainURL string
}

// Video describes the elementary video stream of a segment. Zero when unknown.
type Video struct {
	Codec  string
	Width  int
	Height int
}

// Segment is a segment row as seen by playback. EndNs is the effective end.
type Segment struct {
	Path       string
	StartNs    int64
	EndNs      int64
	DurationMs int64
	Video      Video
}

// OpenSegment is a segment row that was never finalized.
type OpenSegment struct {
	ID        int64
	SessionID string
	CameraURL string
	Path      string
	StartNs   int64
}

// EffectiveEnd is end when positive, else start plus duration when the
// duration is positive, else start. A segment still being written therefore
// has zero length until it is finalized.
func EffectiveEnd(startNs, endNs, durationMs int64) int64 {
	if endNs > 0 {
		return endNs
	}
	if durationMs > 0 {
		return startNs + durationMs*int64(time.Millisecond)
	}
	return startNs
}

// effectiveEndSQL mirrors EffectiveEnd for a segments row aliased s.
const effectiveEndSQL = `CASE
	WHEN s.end_utc_ns IS NOT NULL AND s.end_utc_ns > 0 THEN s.end_utc_ns
	WHEN COALESCE(s.duration_ms, 0) > 0 THEN s.start_utc_ns + s.duration_ms * 1000000
	ELSE s.start_utc_ns
END`

// DayWindow returns [local midnight, next local midnight) of day (YYYY-MM-DD)
// in loc as unix nanoseconds. Days with a DST change are 23 or 25 hours long.
func DayWindow(day string, loc *time.Location) (int64, int64, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return 0, 0, err
	}
	next := time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)
	return d.UnixNano(), next.UnixNano(), nil
}
