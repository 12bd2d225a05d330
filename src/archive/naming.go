// Package archive holds the on-disk conventions shared by the recorder and
// the playback side.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

const (
	// SegmentExt is the container written by the recorder.
	SegmentExt = ".ts"

	timestampLayout = "20060102_150405"
)

var segmentNamePattern = regexp.MustCompile(`^archive_cam(\d+)_(\d{8}_\d{6})(?:_(\d+))?(\.[A-Za-z0-9]+)$`)

// SegmentName is what a segment file name encodes.
type SegmentName struct {
	CameraIndex int
	// Start is the nominal start, second resolution, in the parse location.
	Start time.Time
	// Seq disambiguates files that started within the same second.
	Seq int
	Ext string
}

func (n SegmentName) String() string {
	name := fmt.Sprintf("archive_cam%d_%s", n.CameraIndex, n.Start.Format(timestampLayout))
	if n.Seq > 0 {
		name += "_" + strconv.Itoa(n.Seq)
	}
	return name + n.Ext
}

// SegmentFileName formats archive_cam<index>_<YYYYMMDD>_<HHMMSS><ext> in the
// location of start.
func SegmentFileName(cameraIndex int, start time.Time, ext string) string {
	return SegmentName{CameraIndex: cameraIndex, Start: start, Ext: ext}.String()
}

// NewSegmentPath returns a path in dir for a segment starting at start that
// does not exist yet.
func NewSegmentPath(dir string, cameraIndex int, start time.Time, ext string) string {
	n := SegmentName{CameraIndex: cameraIndex, Start: start, Ext: ext}
	for {
		p := filepath.Join(dir, n.String())
		if _, err := os.Lstat(p); os.IsNotExist(err) {
			return p
		}
		n.Seq++
	}
}

// ParseSegmentName recovers camera index and nominal start from a segment
// path. The timestamp is interpreted in loc (time.Local when nil).
func ParseSegmentName(path string, loc *time.Location) (SegmentName, bool) {
	if loc == nil {
		loc = time.Local
	}
	m := segmentNamePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return SegmentName{}, false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return SegmentName{}, false
	}
	start, err := time.ParseInLocation(timestampLayout, m[2], loc)
	if err != nil {
		return SegmentName{}, false
	}
	seq := 0
	if m[3] != "" {
		if seq, err = strconv.Atoi(m[3]); err != nil {
			return SegmentName{}, false
		}
	}
	return SegmentName{CameraIndex: idx, Start: start, Seq: seq, Ext: m[4]}, true
}
