package configs

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraProfile is one entry of the ordered camera list.
// Index in Config.Cameras is the camera index used in file names.
type CameraProfile struct {
	Name    string `yaml:"name" json:"name"`
	MainURL string `yaml:"main_url" json:"main_url"`
	SubURL  string `yaml:"sub_url,omitempty" json:"sub_url,omitempty"`
}

type Log struct {
	OutPutFolder string `yaml:"out_put_folder" json:"out_put_folder"`
	SaveLastLog  bool   `yaml:"save_last_log" json:"save_last_log"`
	SaveEveryLog bool   `yaml:"save_every_log" json:"save_every_log"`
	// RotateDays is how many daily log files are kept, <=0 keeps all.
	RotateDays int `yaml:"rotate_days" json:"rotate_days"`
}

type Archive struct {
	// Root is the archive root used when no storage collaborator announces one.
	Root            string        `yaml:"root" json:"root"`
	SegmentDuration time.Duration `yaml:"segment_duration" json:"segment_duration"`
	FfmpegPath      string        `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FfprobePath     string        `yaml:"ffprobe_path" json:"ffprobe_path"`
	RTSPTransport   string        `yaml:"rtsp_transport" json:"rtsp_transport"`
	// TimeoutInUs is passed to ffmpeg as -rw_timeout / -timeout.
	TimeoutInUs int `yaml:"timeout_in_us" json:"timeout_in_us"`
}

type Playback struct {
	GapThreshold   time.Duration `yaml:"gap_threshold" json:"gap_threshold"`
	QueryCacheSize int           `yaml:"query_cache_size" json:"query_cache_size"`
	QueryCacheTTL  time.Duration `yaml:"query_cache_ttl" json:"query_cache_ttl"`
}

type Export struct {
	FfmpegPath string `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	OutDir     string `yaml:"out_dir" json:"out_dir"`
	// BaseNameTmpl is a text/template with sprig functions, .Day is the exported day.
	BaseNameTmpl string `yaml:"base_name_tmpl" json:"base_name_tmpl"`
	Precise      bool   `yaml:"precise" json:"precise"`
	VideoCodec   string `yaml:"video_codec" json:"video_codec"`
	Preset       string `yaml:"preset" json:"preset"`
	CRF          int    `yaml:"crf" json:"crf"`
	CopyAudio    bool   `yaml:"copy_audio" json:"copy_audio"`
}

type Metrics struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Bind   string `yaml:"bind" json:"bind"`
}

func (m *Metrics) verify() error {
	if m == nil || !m.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", m.Bind); err != nil {
		return fmt.Errorf("invalid metrics bind address: %w", err)
	}
	return nil
}

type Sentry struct {
	Enable bool   `yaml:"enable" json:"enable"`
	DSN    string `yaml:"dsn,omitempty" json:"-"`
}

type Config struct {
	File    string `yaml:"-" json:"-"`
	Version int64  `yaml:"-" json:"-"`

	Debug    bool            `yaml:"debug" json:"debug"`
	Log      Log             `yaml:"log" json:"log"`
	Archive  Archive         `yaml:"archive" json:"archive"`
	Cameras  []CameraProfile `yaml:"cameras" json:"cameras"`
	Playback Playback        `yaml:"playback" json:"playback"`
	Export   Export          `yaml:"export" json:"export"`
	Metrics  Metrics         `yaml:"metrics" json:"metrics"`
	Sentry   Sentry          `yaml:"sentry" json:"sentry"`
}

// current config pointer, swapped atomically
var config atomic.Value // stores *Config

var currentDebug atomic.Bool

var updateMu sync.Mutex

func SetCurrentConfig(cfg *Config) {
	if cfg == nil {
		config.Store((*Config)(nil))
		currentDebug.Store(false)
		return
	}
	config.Store(cfg)
	currentDebug.Store(cfg.Debug)
}

func GetCurrentConfig() *Config {
	v := config.Load()
	if v == nil {
		return nil
	}
	return v.(*Config)
}

func IsDebug() bool {
	return currentDebug.Load()
}

// Update clones the current config, applies mutator, persists it when the
// config has a backing file and swaps it in. mutator must not keep c.
func Update(mutator func(c *Config) error) (*Config, error) {
	updateMu.Lock()
	defer updateMu.Unlock()
	old := GetCurrentConfig()
	var base *Config
	if old == nil {
		base = NewConfig()
	} else {
		base = CloneConfig(old)
	}
	if err := mutator(base); err != nil {
		return nil, err
	}
	if old == nil {
		base.Version = 1
	} else {
		base.Version = old.Version + 1
	}
	if base.File != "" {
		if err := base.Marshal(); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}
	SetCurrentConfig(base)
	return base, nil
}

func SetDebug(v bool) (*Config, error) {
	return Update(func(c *Config) error { c.Debug = v; return nil })
}

func SetSegmentDuration(d time.Duration) (*Config, error) {
	return Update(func(c *Config) error {
		if err := verifySegmentDuration(d); err != nil {
			return err
		}
		c.Archive.SegmentDuration = d
		return nil
	})
}

var defaultConfig = Config{
	Debug: false,
	Log: Log{
		OutPutFolder: "./",
		SaveLastLog:  true,
		SaveEveryLog: false,
		RotateDays:   7,
	},
	Archive: Archive{
		Root:            "",
		SegmentDuration: 300 * time.Second,
		FfmpegPath:      "ffmpeg",
		FfprobePath:     "ffprobe",
		RTSPTransport:   "tcp",
		TimeoutInUs:     10000000,
	},
	Cameras: []CameraProfile{},
	Playback: Playback{
		GapThreshold:   2 * time.Second,
		QueryCacheSize: 256,
		QueryCacheTTL:  30 * time.Second,
	},
	Export: Export{
		FfmpegPath:   "ffmpeg",
		OutDir:       "./exports",
		BaseNameTmpl: `CamVigil_{{ .Day | date "2006-01-02" }}`,
		Precise:      false,
		VideoCodec:   "libx264",
		Preset:       "veryfast",
		CRF:          18,
		CopyAudio:    true,
	},
	Metrics: Metrics{
		Enable: false,
		Bind:   "127.0.0.1:9310",
	},
}

func NewConfig() *Config {
	c := defaultConfig
	c.Cameras = []CameraProfile{}
	return &c
}

var (
	minSegmentDuration = 5 * time.Second
	maxSegmentDuration = 24 * time.Hour
)

func verifySegmentDuration(d time.Duration) error {
	if d < minSegmentDuration || d > maxSegmentDuration {
		return fmt.Errorf("segment duration must be between %s and %s, got %s",
			minSegmentDuration, maxSegmentDuration, d)
	}
	return nil
}

// Verify will return an error when this config has problem.
func (c *Config) Verify() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := verifySegmentDuration(c.Archive.SegmentDuration); err != nil {
		return err
	}
	if c.Archive.Root != "" {
		if _, err := os.Stat(c.Archive.Root); err != nil {
			return fmt.Errorf(`archive root "%s" does not exist`, c.Archive.Root)
		}
	}
	if c.Playback.GapThreshold < 0 {
		return errors.New("gap threshold must not be negative")
	}
	if c.Export.CRF < 0 || c.Export.CRF > 51 {
		return fmt.Errorf("crf must be within [0, 51], got %d", c.Export.CRF)
	}
	seen := make(map[string]struct{}, len(c.Cameras))
	for i, cam := range c.Cameras {
		url := strings.TrimSpace(cam.MainURL)
		if url == "" {
			return fmt.Errorf("camera %d has no main_url", i)
		}
		if _, ok := seen[url]; ok {
			return fmt.Errorf("camera main_url %q is listed twice", url)
		}
		seen[url] = struct{}{}
	}
	if err := c.Metrics.verify(); err != nil {
		return err
	}
	return nil
}

func NewConfigWithBytes(b []byte) (*Config, error) {
	c := defaultConfig
	c.Cameras = nil
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.Cameras == nil {
		c.Cameras = []CameraProfile{}
	}
	return &c, nil
}

func NewConfigWithFile(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("can`t open file: %s: %w", file, err)
	}
	c, err := NewConfigWithBytes(b)
	if err != nil {
		return nil, err
	}
	c.File = file
	return c, nil
}

func (c *Config) Marshal() error {
	if c.File == "" {
		return errors.New("config path not set")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.File, b, 0644)
}

// CloneConfig copies c deeply enough for copy-then-swap updates.
func CloneConfig(src *Config) *Config {
	if src == nil {
		return nil
	}
	cp := *src
	if src.Cameras != nil {
		cp.Cameras = make([]CameraProfile, len(src.Cameras))
		copy(cp.Cameras, src.Cameras)
	}
	return &cp
}
