// Package index turns the segment rows of one camera and window into a
// playlist of non-overlapping files, the gaps between them and the lookup
// tables used by playback and export.
package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/archive"
	"github.com/camvigil/camvigil/src/store"
)

// DefaultGapThreshold is the smallest hole reported as a gap.
const DefaultGapThreshold = 2 * time.Second

// Row is one raw segment. EndNs and DurationMs may be zero when unknown.
type Row struct {
	Path       string
	StartNs    int64
	EndNs      int64
	DurationMs int64
}

func (r Row) effectiveEnd() int64 {
	return store.EffectiveEnd(r.StartNs, r.EndNs, r.DurationMs)
}

// RowsFromSegments converts reader results. Their end is already effective.
func RowsFromSegments(segs []store.Segment) []Row {
	rows := make([]Row, 0, len(segs))
	for _, s := range segs {
		rows = append(rows, Row{Path: s.Path, StartNs: s.StartNs, EndNs: s.EndNs, DurationMs: s.DurationMs})
	}
	return rows
}

// RowFromFile synthesizes a row for a file that has no stored metadata. The
// start comes from the file name; duration may be zero.
func RowFromFile(path string, loc *time.Location, duration time.Duration) (Row, bool) {
	name, ok := archive.ParseSegmentName(path, loc)
	if !ok {
		return Row{}, false
	}
	return Row{Path: path, StartNs: name.Start.UnixNano(), DurationMs: duration.Milliseconds()}, true
}

// FileSeg is a playlist entry clipped to the window. FileStartNs is where
// the file itself starts; it is before StartNs when the entry was clipped.
type FileSeg struct {
	Path        string
	StartNs     int64
	EndNs       int64
	FileStartNs int64
}

func (f FileSeg) DurationNs() int64 {
	return f.EndNs - f.StartNs
}

type Gap struct {
	StartNs int64
	EndNs   int64
}

func (g Gap) DurationNs() int64 {
	return g.EndNs - g.StartNs
}

// Index is immutable once built.
type Index struct {
	t0, t1    int64
	threshold int64
	files     []FileSeg
	gaps      []Gap
	starts    []int64
}

// Build normalizes rows against the window [t0, t1). Overlaps are resolved in
// favour of the segment that starts earlier. A negative threshold selects
// DefaultGapThreshold.
func Build(rows []Row, t0, t1 int64, threshold time.Duration) *Index {
	if threshold < 0 {
		threshold = DefaultGapThreshold
	}
	if t1 < t0 {
		t0, t1 = t1, t0
	}
	x := &Index{t0: t0, t1: t1, threshold: int64(threshold)}

	clipped := make([]FileSeg, 0, len(rows))
	for _, r := range rows {
		if r.Path == "" {
			continue
		}
		start, end := max(r.StartNs, t0), min(r.effectiveEnd(), t1)
		if end <= start {
			continue
		}
		clipped = append(clipped, FileSeg{Path: r.Path, StartNs: start, EndNs: end, FileStartNs: r.StartNs})
	}
	sort.SliceStable(clipped, func(i, j int) bool {
		return clipped[i].StartNs < clipped[j].StartNs
	})

	lastEnd := t0
	for _, f := range clipped {
		if f.StartNs-lastEnd > x.threshold {
			x.gaps = append(x.gaps, Gap{StartNs: lastEnd, EndNs: f.StartNs})
		}
		f.StartNs = max(f.StartNs, lastEnd)
		if f.EndNs <= f.StartNs {
			continue
		}
		x.files = append(x.files, f)
		x.starts = append(x.starts, f.StartNs)
		lastEnd = f.EndNs
	}

	if len(x.files) == 0 {
		x.gaps = []Gap{{StartNs: t0, EndNs: t1}}
	} else if t1-lastEnd > x.threshold {
		x.gaps = append(x.gaps, Gap{StartNs: lastEnd, EndNs: t1})
	}
	return x
}

// MapWallClock finds the entry playing at t and the offset into it. It fails
// in gaps, before the first file and at or after the last end.
func (x *Index) MapWallClock(t int64) (int, int64, bool) {
	i := sort.Search(len(x.starts), func(i int) bool { return x.starts[i] > t }) - 1
	if i < 0 || t >= x.files[i].EndNs {
		return -1, 0, false
	}
	return i, t - x.files[i].StartNs, true
}

// NextSegmentIndexAfter returns the first file starting strictly after t, or
// -1.
func (x *Index) NextSegmentIndexAfter(t int64) int {
	i := sort.Search(len(x.starts), func(i int) bool { return x.starts[i] > t })
	if i == len(x.starts) {
		return -1
	}
	return i
}

// StitchTable lays the playlist on a gapless virtual timeline. Slices are
// parallel; wall starts are relative to OriginNs. FileOffsetsNs is the
// position inside each file where its entry begins.
type StitchTable struct {
	OriginNs         int64
	Paths            []string
	WallStartsNs     []int64
	VirtualOffsetsNs []int64
	DurationsNs      []int64
	FileOffsetsNs    []int64
}

func (t StitchTable) Len() int {
	return len(t.Paths)
}

// TotalNs is the length of the virtual timeline.
func (t StitchTable) TotalNs() int64 {
	n := t.Len()
	if n == 0 {
		return 0
	}
	return t.VirtualOffsetsNs[n-1] + t.DurationsNs[n-1]
}

func (x *Index) ExportForStitching() StitchTable {
	n := len(x.files)
	table := StitchTable{
		OriginNs:         x.t0,
		Paths:            make([]string, 0, n),
		WallStartsNs:     make([]int64, 0, n),
		VirtualOffsetsNs: make([]int64, 0, n),
		DurationsNs:      make([]int64, 0, n),
		FileOffsetsNs:    make([]int64, 0, n),
	}
	var offset int64
	for _, f := range x.files {
		table.Paths = append(table.Paths, f.Path)
		table.WallStartsNs = append(table.WallStartsNs, f.StartNs-x.t0)
		table.VirtualOffsetsNs = append(table.VirtualOffsetsNs, offset)
		table.DurationsNs = append(table.DurationsNs, f.DurationNs())
		table.FileOffsetsNs = append(table.FileOffsetsNs, f.StartNs-f.FileStartNs)
		offset += f.DurationNs()
	}
	return table
}

// Files returns the playlist. Callers must not modify it.
func (x *Index) Files() []FileSeg {
	return x.files
}

func (x *Index) Gaps() []Gap {
	return x.gaps
}

// Window returns the normalized window.
func (x *Index) Window() (int64, int64) {
	return x.t0, x.t1
}

func (x *Index) Len() int {
	return len(x.files)
}

// FirstNs is the start of the first file, 0 for an empty playlist.
func (x *Index) FirstNs() int64 {
	if len(x.files) == 0 {
		return 0
	}
	return x.files[0].StartNs
}

// LastNs is the end of the last file, 0 for an empty playlist.
func (x *Index) LastNs() int64 {
	if len(x.files) == 0 {
		return 0
	}
	return x.files[len(x.files)-1].EndNs
}

func (x *Index) TotalCoveredNs() int64 {
	var total int64
	for _, f := range x.files {
		total += f.DurationNs()
	}
	return total
}

// TotalSpanNs is LastNs - FirstNs, gaps included.
func (x *Index) TotalSpanNs() int64 {
	return x.LastNs() - x.FirstNs()
}

func (x *Index) DebugDump(logger logrus.FieldLogger) {
	logger.WithFields(logrus.Fields{
		"window_start": time.Unix(0, x.t0).Format(time.RFC3339),
		"window_end":   time.Unix(0, x.t1).Format(time.RFC3339),
		"files":        len(x.files),
		"gaps":         len(x.gaps),
		"covered":      time.Duration(x.TotalCoveredNs()).String(),
		"span":         time.Duration(x.TotalSpanNs()).String(),
	}).Debug("segment index")
	for i, f := range x.files {
		logger.WithField("file", fmt.Sprintf("#%d %s +%s", i, f.Path, time.Duration(f.DurationNs()))).
			Debugf("[%d, %d)", f.StartNs-x.t0, f.EndNs-x.t0)
	}
	for _, g := range x.gaps {
		logger.WithField("gap", time.Duration(g.DurationNs()).String()).
			Debugf("[%d, %d)", g.StartNs-x.t0, g.EndNs-x.t0)
	}
}
