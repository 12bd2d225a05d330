package recorders

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/pkg/utils"
)

// stopGracePeriod is how long ffmpeg gets to honour "q" before it is killed.
const stopGracePeriod = 3 * time.Second

// Source produces an MPEG-TS byte stream for one camera.
type Source interface {
	// Start launches the source. The returned reader reaches EOF once the
	// source has exited.
	Start(ctx context.Context) (io.Reader, error)
	// Stop asks the source to finish. It does not wait.
	Stop() error
	// Wait blocks until the source has exited and reports how it ended.
	Wait() error
	PID() int
}

type ffmpegSourceConfig struct {
	FfmpegPath    string
	URL           string
	RTSPTransport string
	TimeoutInUs   int
}

// ffmpegSource remuxes a camera stream to MPEG-TS on stdout without
// transcoding.
type ffmpegSource struct {
	cfg    ffmpegSourceConfig
	logger logrus.FieldLogger

	cmdLock   sync.Mutex
	cmd       *exec.Cmd
	cmdStdIn  io.WriteCloser
	stderr    *utils.FilteredLineWriter
	closeOnce sync.Once
}

func newFFmpegSource(cfg ffmpegSourceConfig, logger logrus.FieldLogger) Source {
	return &ffmpegSource{cfg: cfg, logger: logger}
}

func (s *ffmpegSource) args() []string {
	args := []string{
		"-hide_banner",
		"-nostats",
		"-loglevel", "warning",
	}
	if strings.HasPrefix(strings.ToLower(s.cfg.URL), "rtsp") {
		if s.cfg.RTSPTransport != "" {
			args = append(args, "-rtsp_transport", s.cfg.RTSPTransport)
		}
		if s.cfg.TimeoutInUs > 0 {
			args = append(args, "-timeout", strconv.Itoa(s.cfg.TimeoutInUs))
		}
	} else if s.cfg.TimeoutInUs > 0 {
		args = append(args, "-rw_timeout", strconv.Itoa(s.cfg.TimeoutInUs))
	}
	return append(args,
		"-i", s.cfg.URL,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c", "copy",
		"-f", "mpegts",
		"pipe:1",
	)
}

// Start launches ffmpeg. ctx is not bound to the process: stopping goes
// through Stop so the last file is always finalized.
func (s *ffmpegSource) Start(ctx context.Context) (io.Reader, error) {
	s.cmdLock.Lock()
	defer s.cmdLock.Unlock()
	if s.cmd != nil {
		return nil, fmt.Errorf("ffmpeg already started")
	}
	path := s.cfg.FfmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.Command(path, s.args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	s.stderr = utils.NewLoggerWriter(s.logger)
	cmd.Stderr = s.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	s.cmd = cmd
	s.cmdStdIn = stdin
	s.logger.WithField("pid", cmd.Process.Pid).Debug("ffmpeg started")
	return stdout, nil
}

func (s *ffmpegSource) Stop() (err error) {
	s.closeOnce.Do(func() {
		s.cmdLock.Lock()
		defer s.cmdLock.Unlock()
		if s.cmd == nil || s.cmd.Process == nil {
			return
		}
		if _, err = s.cmdStdIn.Write([]byte("q")); err != nil {
			err = fmt.Errorf("error sending stop command to ffmpeg: %w", err)
		}
		process := s.cmd.Process
		time.AfterFunc(stopGracePeriod, func() {
			// already exited is fine
			_ = process.Kill()
		})
	})
	return err
}

func (s *ffmpegSource) Wait() error {
	s.cmdLock.Lock()
	cmd := s.cmd
	s.cmdLock.Unlock()
	if cmd == nil {
		return nil
	}
	err := cmd.Wait()
	if s.stderr != nil {
		s.stderr.Flush()
	}
	return err
}

func (s *ffmpegSource) PID() int {
	s.cmdLock.Lock()
	defer s.cmdLock.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}
