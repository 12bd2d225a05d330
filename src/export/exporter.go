// Package export cuts a selection out of the archive with ffmpeg and joins
// the cuts into one file.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/metrics"
	"github.com/camvigil/camvigil/src/pkg/utils"
	"github.com/camvigil/camvigil/src/playback/index"
)

var (
	ErrInvalidSelection = errors.New("invalid selection")
	ErrNoPlaylist       = errors.New("no playlist")
	ErrNoParts          = errors.New("no intersecting parts")
	ErrCanceled         = errors.New("canceled")
	ErrStepFailed       = errors.New("export step failed")
)

const (
	stderrTailSize = 4 * 1024
	// ffmpeg gets this long to let go of its pipes after being killed
	killWaitDelay = 2 * time.Second
)

// Request selects [SelStartNs, SelEndNs) relative to DayStartNs out of Files.
type Request struct {
	Files      []index.FileSeg
	DayStartNs int64
	SelStartNs int64
	SelEndNs   int64
}

type Result struct {
	OutputPath string
	Parts      int
}

// Exporter runs one export. It is not reusable.
type Exporter struct {
	req    Request
	opts   Options
	logger logrus.FieldLogger

	onProgress func(fraction float64)

	lock     sync.Mutex
	cancel   context.CancelFunc
	canceled bool
	commands []string
}

func New(req Request, opts Options, logger logrus.FieldLogger) *Exporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Exporter{
		req:    req,
		opts:   opts.withDefaults(),
		logger: logger.WithField("module", "export"),
	}
}

// OnProgress sets a callback receiving the finished fraction in (0, 1]. It
// is called from the goroutine running Run.
func (e *Exporter) OnProgress(fn func(fraction float64)) {
	e.onProgress = fn
}

// Cancel stops a running export, killing the current ffmpeg. Run then
// returns ErrCanceled.
func (e *Exporter) Cancel() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.canceled = true
	if e.cancel != nil {
		e.cancel()
	}
}

// Commands returns the command lines run so far.
func (e *Exporter) Commands() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]string(nil), e.commands...)
}

// Parts validates the request and returns the cuts it needs.
func (e *Exporter) Parts() ([]Part, error) {
	if e.req.SelEndNs <= e.req.SelStartNs {
		return nil, ErrInvalidSelection
	}
	if len(e.req.Files) == 0 {
		return nil, ErrNoPlaylist
	}
	parts := ComputeParts(e.req.Files, e.req.DayStartNs, e.req.SelStartNs, e.req.SelEndNs)
	if len(parts) == 0 {
		return nil, ErrNoParts
	}
	return parts, nil
}

func (e *Exporter) Run(ctx context.Context) (result *Result, err error) {
	started := time.Now()
	defer func() {
		outcome := "finished"
		switch {
		case errors.Is(err, ErrCanceled):
			outcome = "canceled"
		case err != nil:
			outcome = "failed"
		}
		metrics.Exports.WithLabelValues(outcome).Inc()
		metrics.ExportSeconds.Observe(time.Since(started).Seconds())
		fields := logrus.Fields{"outcome": outcome, "elapsed": time.Since(started).String()}
		if err != nil {
			e.logger.WithError(err).WithFields(fields).Warn("export ended")
		} else {
			e.logger.WithFields(fields).WithField("output", result.OutputPath).Info("export ended")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.lock.Lock()
	if e.canceled {
		e.lock.Unlock()
		return nil, ErrCanceled
	}
	e.cancel = cancel
	e.lock.Unlock()

	parts, err := e.Parts()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	day := time.Unix(0, e.req.DayStartNs)
	baseName, err := e.opts.baseName(day,
		time.Unix(0, e.req.DayStartNs+e.req.SelStartNs), time.Unix(0, e.req.DayStartNs+e.req.SelEndNs))
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp(e.opts.OutDir, ".export-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			e.logger.WithError(rmErr).WithField("dir", tmpDir).Warn("failed to remove temp directory")
		}
	}()

	e.logger.WithFields(logrus.Fields{
		"parts":   len(parts),
		"precise": e.opts.Precise,
		"name":    baseName,
	}).Info("export started")

	steps := len(parts) + 1
	partPaths := make([]string, 0, len(parts))
	for i, part := range parts {
		if ctx.Err() != nil {
			return nil, ErrCanceled
		}
		partPath := filepath.Join(tmpDir, fmt.Sprintf("part_%04d%s", i, partExt))
		if err := e.run(ctx, fmt.Sprintf("cut part %d", i), e.cutArgs(part, partPath)); err != nil {
			return nil, err
		}
		partPaths = append(partPaths, partPath)
		e.progress(float64(i+1) / float64(steps))
	}

	if ctx.Err() != nil {
		return nil, ErrCanceled
	}
	listPath := filepath.Join(tmpDir, "concat.txt")
	if err := writeConcatList(listPath, partPaths); err != nil {
		return nil, err
	}
	joined := filepath.Join(tmpDir, "joined"+outputExt)
	if err := e.run(ctx, "concat", e.concatArgs(listPath, joined)); err != nil {
		return nil, err
	}
	outPath := uniquePath(e.opts.OutDir, baseName, outputExt)
	if err := os.Rename(joined, outPath); err != nil {
		return nil, fmt.Errorf("failed to move output: %w", err)
	}
	e.progress(1)
	return &Result{OutputPath: outPath, Parts: len(parts)}, nil
}

func (e *Exporter) progress(f float64) {
	if e.onProgress != nil {
		e.onProgress(f)
	}
}

func seconds(ns int64) string {
	return fmt.Sprintf("%.6f", float64(ns)/float64(time.Second))
}

func (e *Exporter) cutArgs(p Part, out string) []string {
	if !e.opts.Precise {
		return []string{
			"-hide_banner", "-y",
			"-ss", seconds(p.InStartNs),
			"-to", seconds(p.InEndNs),
			"-i", p.Path,
			"-c", "copy",
			"-avoid_negative_ts", "make_zero",
			out,
		}
	}
	coarse := max(0, p.InStartNs-int64(coarseSeekMargin))
	args := []string{
		"-hide_banner", "-y",
		"-ss", seconds(coarse),
		"-i", p.Path,
		"-ss", seconds(p.InStartNs - coarse),
		"-to", seconds(p.InEndNs - coarse),
	}
	args = append(args, e.opts.videoArgs()...)
	args = append(args, "-fflags", "+genpts", "-reset_timestamps", "1")
	args = append(args, e.opts.audioArgs()...)
	// parts are matroska; faststart belongs to the final mp4 only
	return append(args, out)
}

func (e *Exporter) concatArgs(list, out string) []string {
	args := []string{"-hide_banner", "-y", "-f", "concat", "-safe", "0", "-i", list}
	if e.opts.Precise {
		args = append(args, e.opts.videoArgs()...)
		args = append(args, e.opts.audioArgs()...)
	} else {
		args = append(args, "-c", "copy")
	}
	return append(args, "-movflags", "+faststart", out)
}

// run executes one ffmpeg step. A failure carries the tail of its stderr.
func (e *Exporter) run(ctx context.Context, step string, args []string) error {
	cmd := exec.CommandContext(ctx, e.opts.FfmpegPath, args...)
	cmd.WaitDelay = killWaitDelay
	stderr := utils.NewRingBuffer(stderrTailSize)
	cmd.Stderr = stderr

	e.lock.Lock()
	e.commands = append(e.commands, e.opts.FfmpegPath+" "+strings.Join(args, " "))
	e.lock.Unlock()
	e.logger.WithField("step", step).Debug(cmd.String())

	err := cmd.Run()
	if ctx.Err() != nil {
		return ErrCanceled
	}
	if err != nil {
		tail := strings.TrimSpace(stderr.String())
		e.logger.WithError(err).WithFields(logrus.Fields{
			"step":   step,
			"stderr": tail,
		}).Error("ffmpeg failed")
		return fmt.Errorf("%w: %s: %v: %s", ErrStepFailed, step, err, tail)
	}
	return nil
}

func writeConcatList(path string, parts []string) error {
	var b strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	return nil
}

// uniquePath returns dir/base+ext, or dir/base(N)+ext for the first free N
// from 2.
func uniquePath(dir, base, ext string) string {
	path := filepath.Join(dir, base+ext)
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, n, ext))
	}
}
