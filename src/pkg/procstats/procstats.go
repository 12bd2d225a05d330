// Package procstats reports resource usage of this process and of the
// ffmpeg sources it runs.
package procstats

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

type Self struct {
	Alloc uint64 `json:"alloc"`
	Sys   uint64 `json:"sys"`
	NumGC uint32 `json:"num_gc"`
	// Goroutines is a rough leak indicator for long running recorders.
	Goroutines int `json:"goroutines"`
}

type Process struct {
	PID        int32  `json:"pid"`
	Name       string `json:"name"`
	RSS        uint64 `json:"rss"`
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
}

type Snapshot struct {
	Self    Self      `json:"self"`
	Sources []Process `json:"sources"`
}

func GetSelf() Self {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Self{
		Alloc:      m.Alloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// GetProcess returns memory and I/O counters of pid. I/O counters are left
// zero where the platform does not expose them.
func GetProcess(pid int) (*Process, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return nil, err
	}
	name, _ := p.Name()
	stats := &Process{
		PID:  int32(pid),
		Name: name,
		RSS:  memInfo.RSS,
	}
	if io, err := p.IOCounters(); err == nil {
		stats.ReadBytes = io.ReadBytes
		stats.WriteBytes = io.WriteBytes
	}
	return stats, nil
}

// Collect skips pids that exited in the meantime.
func Collect(pids []int) Snapshot {
	snap := Snapshot{Self: GetSelf(), Sources: make([]Process, 0, len(pids))}
	for _, pid := range pids {
		if pid <= 0 {
			continue
		}
		if p, err := GetProcess(pid); err == nil {
			snap.Sources = append(snap.Sources, *p)
		}
	}
	return snap
}
