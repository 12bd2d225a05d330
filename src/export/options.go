package export

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"

	"github.com/camvigil/camvigil/src/configs"
)

const (
	DefaultBaseNameTmpl = `CamVigil_{{ .Day | date "2006-01-02" }}`
	outputExt           = ".mp4"
	partExt             = ".mkv"
	// precise cuts start decoding this far before the requested start
	coarseSeekMargin = 3 * time.Second
)

type Options struct {
	FfmpegPath string
	OutDir     string
	// BaseName is used as is when set, else BaseNameTmpl is rendered.
	BaseName     string
	BaseNameTmpl string
	Precise      bool
	VideoCodec   string
	Preset       string
	CRF          int
	CopyAudio    bool
}

func OptionsFromConfig(cfg configs.Export) Options {
	return Options{
		FfmpegPath:   cfg.FfmpegPath,
		OutDir:       cfg.OutDir,
		BaseNameTmpl: cfg.BaseNameTmpl,
		Precise:      cfg.Precise,
		VideoCodec:   cfg.VideoCodec,
		Preset:       cfg.Preset,
		CRF:          cfg.CRF,
		CopyAudio:    cfg.CopyAudio,
	}
}

func (o Options) withDefaults() Options {
	if o.FfmpegPath == "" {
		o.FfmpegPath = "ffmpeg"
	}
	if o.OutDir == "" {
		o.OutDir = "."
	}
	if o.BaseNameTmpl == "" {
		o.BaseNameTmpl = DefaultBaseNameTmpl
	}
	if o.VideoCodec == "" {
		o.VideoCodec = "libx264"
	}
	if o.Preset == "" {
		o.Preset = "veryfast"
	}
	if o.CRF <= 0 {
		o.CRF = 18
	}
	return o
}

type nameData struct {
	Day   time.Time
	Start time.Time
	End   time.Time
}

// baseName renders the output name for a selection of day.
func (o Options) baseName(day, start, end time.Time) (string, error) {
	if o.BaseName != "" {
		return o.BaseName, nil
	}
	tmpl, err := template.New("basename").Funcs(sprig.TxtFuncMap()).Parse(o.BaseNameTmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse base name template: %w", err)
	}
	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, nameData{Day: day, Start: start, End: end}); err != nil {
		return "", fmt.Errorf("failed to render base name: %w", err)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("base name template rendered nothing")
	}
	return buf.String(), nil
}

func (o Options) videoArgs() []string {
	return []string{
		"-c:v", o.VideoCodec,
		"-preset", o.Preset,
		"-crf", fmt.Sprint(o.CRF),
		"-pix_fmt", "yuv420p",
	}
}

func (o Options) audioArgs() []string {
	if o.CopyAudio {
		return []string{"-c:a", "copy"}
	}
	return []string{"-c:a", "aac", "-b:a", "128k"}
}
