package flag

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin"

	"github.com/camvigil/camvigil/src/configs"
	"github.com/camvigil/camvigil/src/consts"
)

var (
	app = kingpin.New(consts.AppName, "Continuous camera archiving with time-indexed playback.").Version(consts.AppVersion)

	Debug       = app.Flag("debug", "Enable debug mode.").Default("false").Bool()
	Conf        = app.Flag("config", "Config file.").Short('c').Default("").String()
	ArchiveRoot = app.Flag("archive-root", "Directory the archive is written under.").Default("").String()
	// zero when not given
	SegmentDuration = app.Flag("segment-duration", "Length of one segment file, 5m when unset.").Duration()
	Cameras         = app.Flag("camera", "Main stream url of a camera, repeatable.").Short('i').Strings()
	FfmpegPath      = app.Flag("ffmpeg", "Path of the ffmpeg binary.").Default("").String()
	MetricsBind     = app.Flag("metrics-bind", "Address of the health and metrics server.").Default("").String()
	EnvFile         = app.Flag("env-file", "Optional .env file.").Default(".env").String()
)

func init() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
}

// GenConfigFromFlags builds a config when no config file is given.
func GenConfigFromFlags() *configs.Config {
	cfg := configs.NewConfig()
	for i, url := range *Cameras {
		cfg.Cameras = append(cfg.Cameras, configs.CameraProfile{
			Name:    fmt.Sprintf("Camera %d", i+1),
			MainURL: url,
		})
	}
	Override(cfg)
	return cfg
}

// Override applies the flags given on the command line on top of cfg.
func Override(cfg *configs.Config) {
	if *Debug {
		cfg.Debug = true
	}
	if *ArchiveRoot != "" {
		cfg.Archive.Root = *ArchiveRoot
	}
	if *SegmentDuration > 0 {
		cfg.Archive.SegmentDuration = *SegmentDuration
	}
	if *FfmpegPath != "" {
		cfg.Archive.FfmpegPath = *FfmpegPath
		cfg.Export.FfmpegPath = *FfmpegPath
	}
	if *MetricsBind != "" {
		cfg.Metrics.Enable = true
		cfg.Metrics.Bind = *MetricsBind
	}
}
