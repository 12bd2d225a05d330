// Package ffprobe asks ffprobe for the properties of recorded files.
package ffprobe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"time"

	"github.com/tidwall/gjson"
)

var ErrNoDuration = errors.New("ffprobe reported no duration")

// Prober runs an ffprobe binary.
type Prober struct {
	Path string
}

func New(path string) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	return &Prober{Path: path}
}

// Info is the subset of ffprobe output the archive cares about.
type Info struct {
	Duration   time.Duration
	Size       int64
	VideoCodec string
	Width      int
	Height     int
}

// Probe runs ffprobe on path.
func (p *Prober) Probe(ctx context.Context, path string) (*Info, error) {
	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return Parse(out)
}

// Duration probes only the container duration.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if info.Duration <= 0 {
		return 0, ErrNoDuration
	}
	return info.Duration, nil
}

// Parse reads ffprobe -print_format json output.
func Parse(out []byte) (*Info, error) {
	if !gjson.ValidBytes(out) {
		return nil, fmt.Errorf("invalid ffprobe output")
	}
	doc := gjson.ParseBytes(out)
	info := &Info{
		Duration: time.Duration(math.Round(doc.Get("format.duration").Float() * float64(time.Second))),
		Size:     doc.Get("format.size").Int(),
	}
	video := doc.Get(`streams.#(codec_type=="video")`)
	if video.Exists() {
		info.VideoCodec = video.Get("codec_name").String()
		info.Width = int(video.Get("width").Int())
		info.Height = int(video.Get("height").Int())
	}
	return info, nil
}
