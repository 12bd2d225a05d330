package export

import (
	"github.com/camvigil/camvigil/src/playback/index"
)

// Part is a cut of one file. InStartNs and InEndNs are positions inside the
// file.
type Part struct {
	Path      string
	InStartNs int64
	InEndNs   int64
}

// ComputeParts intersects the playlist with the selection [selStartNs,
// selEndNs), given relative to dayStartNs.
func ComputeParts(files []index.FileSeg, dayStartNs, selStartNs, selEndNs int64) []Part {
	absStart, absEnd := dayStartNs+selStartNs, dayStartNs+selEndNs
	var parts []Part
	for _, f := range files {
		s, e := max(f.StartNs, absStart), min(f.EndNs, absEnd)
		if e > s {
			parts = append(parts, Part{
				Path:      f.Path,
				InStartNs: s - f.FileStartNs,
				InEndNs:   e - f.FileStartNs,
			})
		}
		if f.EndNs >= absEnd {
			break
		}
	}
	return parts
}
