// Package timeline reduces recorded spans to merged coverage for display.
package timeline

import (
	"sort"

	"github.com/camvigil/camvigil/src/store"
)

type Span struct {
	StartNs int64
	EndNs   int64
}

// SpansFromSegments takes the effective extent of each segment.
func SpansFromSegments(segs []store.Segment) []Span {
	spans := make([]Span, 0, len(segs))
	for _, s := range segs {
		spans = append(spans, Span{StartNs: s.StartNs, EndNs: s.EndNs})
	}
	return spans
}

type Timeline struct {
	t0, t1 int64
	spans  []Span
}

// New clips raw to [t0, t1), caps every span at the raw start of the one
// after it and unions what touches or overlaps.
func New(raw []Span, t0, t1 int64) *Timeline {
	tl := &Timeline{t0: t0, t1: t1}
	if t1 <= t0 {
		return tl
	}

	clipped := make([]Span, 0, len(raw))
	for _, s := range raw {
		if s.EndNs <= t0 || s.StartNs >= t1 {
			continue
		}
		clipped = append(clipped, Span{StartNs: max(s.StartNs, t0), EndNs: min(s.EndNs, t1)})
	}
	sort.SliceStable(clipped, func(i, j int) bool {
		return clipped[i].StartNs < clipped[j].StartNs
	})
	for i := 0; i+1 < len(clipped); i++ {
		if next := clipped[i+1].StartNs; clipped[i].EndNs > next {
			clipped[i].EndNs = max(next, clipped[i].StartNs)
		}
	}

	for _, s := range clipped {
		s.StartNs, s.EndNs = max(s.StartNs, t0), min(s.EndNs, t1)
		if s.EndNs <= s.StartNs {
			continue
		}
		if n := len(tl.spans); n > 0 && s.StartNs <= tl.spans[n-1].EndNs {
			tl.spans[n-1].EndNs = max(tl.spans[n-1].EndNs, s.EndNs)
			continue
		}
		tl.spans = append(tl.spans, s)
	}
	return tl
}

// FractionFor maps t linearly onto [0, 1] across the window.
func (tl *Timeline) FractionFor(t int64) float64 {
	if tl.t1 <= tl.t0 {
		return 0
	}
	f := float64(t-tl.t0) / float64(tl.t1-tl.t0)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func (tl *Timeline) TotalCoveredNs() int64 {
	var total int64
	for _, s := range tl.spans {
		total += s.EndNs - s.StartNs
	}
	return total
}

func (tl *Timeline) Spans() []Span {
	return tl.spans
}

func (tl *Timeline) Window() (int64, int64) {
	return tl.t0, tl.t1
}
