// Package log sets up the process wide logrus logger: text lines on stderr,
// optional per-run and per-day files, and debug toggling from the config.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/configs"
	"github.com/camvigil/camvigil/src/pkg/sentry"
)

const (
	dayFilePrefix     = "camvigil"
	debugPollInterval = 500 * time.Millisecond
)

var (
	watchLock   sync.Mutex
	cancelWatch context.CancelFunc
)

// New applies the current config to the standard logger. Debug changes made
// through configs are followed until ctx is done.
func New(ctx context.Context) (*logrus.Logger, error) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		cfg = configs.NewConfig()
	}
	out, err := outputs(cfg.Log, time.Now())
	if err != nil {
		return nil, err
	}
	logger := logrus.StandardLogger()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	applyDebug(logger, cfg.Debug)
	watchDebug(ctx, logger, cfg.Debug)
	return logger, nil
}

func outputs(c configs.Log, now time.Time) (io.Writer, error) {
	if !c.SaveEveryLog && !c.SaveLastLog {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(c.OutPutFolder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log folder %s: %w", c.OutPutFolder, err)
	}
	writers := []io.Writer{os.Stderr}
	if c.SaveEveryLog {
		path := filepath.Join(c.OutPutFolder, now.Format("run-2006-01-02-15-04-05")+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		writers = append(writers, f)
	}
	if c.SaveLastLog {
		writers = append(writers, newDayFileWriter(c.OutPutFolder, dayFilePrefix, c.RotateDays))
	}
	return io.MultiWriter(writers...), nil
}

func applyDebug(logger *logrus.Logger, debug bool) {
	level := logrus.InfoLevel
	if debug {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	logger.SetReportCaller(debug)
}

// watchDebug replaces the watcher of a previous New.
func watchDebug(ctx context.Context, logger *logrus.Logger, debug bool) {
	watchLock.Lock()
	if cancelWatch != nil {
		cancelWatch()
	}
	ctx, cancelWatch = context.WithCancel(ctx)
	watchLock.Unlock()

	sentry.GoWithContext(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(debugPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if now := configs.IsDebug(); now != debug {
					applyDebug(logger, now)
					debug = now
				}
			}
		}
	})
}

// dayFileWriter appends to <prefix>-YYYY-MM-DD.log, switching files at local
// midnight. Files older than keepDays are removed on each switch; keepDays
// <= 0 keeps every file.
type dayFileWriter struct {
	dir      string
	prefix   string
	keepDays int
	clock    func() time.Time

	mu  sync.Mutex
	day string
	f   *os.File
}

func newDayFileWriter(dir, prefix string, keepDays int) *dayFileWriter {
	return &dayFileWriter{dir: dir, prefix: prefix, keepDays: keepDays, clock: time.Now}
}

func (w *dayFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock()
	if day := now.Format(time.DateOnly); w.f == nil || day != w.day {
		if err := w.switchTo(day, now); err != nil {
			return 0, err
		}
	}
	return w.f.Write(p)
}

func (w *dayFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *dayFileWriter) switchTo(day string, now time.Time) error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	f, err := os.OpenFile(w.path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.f, w.day = f, day
	w.prune(now)
	return nil
}

func (w *dayFileWriter) path(day string) string {
	return filepath.Join(w.dir, w.prefix+"-"+day+".log")
}

func (w *dayFileWriter) prune(now time.Time) {
	if w.keepDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -w.keepDays)
	matches, _ := filepath.Glob(filepath.Join(w.dir, w.prefix+"-*.log"))
	for _, path := range matches {
		var y, m, d int
		name := filepath.Base(path)
		if _, err := fmt.Sscanf(name[len(w.prefix)+1:], "%4d-%2d-%2d.log", &y, &m, &d); err != nil {
			continue
		}
		if time.Date(y, time.Month(m), d, 0, 0, 0, 0, now.Location()).Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}

// GetLogger returns the process wide logger.
func GetLogger() *logrus.Logger {
	return logrus.StandardLogger()
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return logrus.StandardLogger().WithFields(fields)
}
