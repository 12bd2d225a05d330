// Package camlogger provides per-camera loggers that also keep the most recent
// formatted lines in memory for diagnostics.
package camlogger

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	applog "github.com/camvigil/camvigil/src/log"
	"github.com/camvigil/camvigil/src/pkg/sentry"
	"github.com/camvigil/camvigil/src/pkg/utils"
)

const DefaultBufferSize = 32 * 1024

type cameraLoggerKey struct{}

// loggers that already carry a recentLinesHook
var hooked sync.Map

// recentLinesHook copies every entry logged through a CameraLogger into that
// logger's ring buffer. The logger is found through the entry context.
type recentLinesHook struct{}

func (h *recentLinesHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *recentLinesHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	logger, ok := entry.Context.Value(cameraLoggerKey{}).(*CameraLogger)
	if !ok || logger == nil {
		return nil
	}
	formatted, err := entry.Logger.Formatter.Format(entry)
	if err != nil {
		return nil
	}
	logger.recent.Write(formatted)
	return nil
}

// CameraLogger embeds a logrus entry carrying camera_index and camera fields.
type CameraLogger struct {
	*logrus.Entry
	index  int
	recent *utils.RingBuffer
}

// New creates a logger on base. A nil base means the process wide logger.
func New(base *logrus.Logger, index int, name, url string) *CameraLogger {
	if base == nil {
		base = applog.GetLogger()
	}
	l := &CameraLogger{
		index:  index,
		recent: utils.NewRingBuffer(DefaultBufferSize),
	}
	ctx := context.WithValue(context.Background(), cameraLoggerKey{}, l)
	l.Entry = base.WithContext(ctx).WithFields(logrus.Fields{
		"camera_index": index,
		"camera":       name,
		"url":          sentry.Scrub(url),
	})
	if _, loaded := hooked.LoadOrStore(base, struct{}{}); !loaded {
		base.AddHook(&recentLinesHook{})
	}
	return l
}

func (l *CameraLogger) Index() int {
	return l.index
}

// Recent returns the buffered log text, oldest first.
func (l *CameraLogger) Recent() string {
	return l.recent.String()
}
