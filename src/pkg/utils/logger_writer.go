package utils

import (
	"bytes"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/configs"
)

// LineHandler receives one line without its newline. isImportant is set when
// the line contains one of the filter keywords.
type LineHandler func(line string, isImportant bool)

// MaxLineLength forces a line out when no newline shows up for this long.
const MaxLineLength = 4096

// DefaultKeywords mark lines that are forwarded even outside debug mode.
var DefaultKeywords = []string{"error", "fatal", "fail", "invalid", "warning", "warn"}

// FilteredLineWriter splits a byte stream (typically a child's stderr) into
// lines and hands them to a LineHandler. Outside debug mode only lines with a
// keyword are forwarded.
type FilteredLineWriter struct {
	handler  LineHandler
	keywords []string

	mu  sync.Mutex
	buf []byte
}

func NewFilteredLineWriter(handler LineHandler, keywords ...string) *FilteredLineWriter {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	return &FilteredLineWriter{handler: handler, keywords: keywords}
}

func (w *FilteredLineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexAny(w.buf, "\r\n")
		if idx < 0 {
			break
		}
		w.handleLine(string(w.buf[:idx]))
		w.buf = w.buf[idx+1:]
	}
	if len(w.buf) > MaxLineLength {
		w.handleLine(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush forwards a trailing partial line.
func (w *FilteredLineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.handleLine(string(w.buf))
		w.buf = w.buf[:0]
	}
}

func (w *FilteredLineWriter) handleLine(line string) {
	if w.handler == nil || strings.TrimSpace(line) == "" {
		return
	}
	lower := strings.ToLower(line)
	important := false
	for _, kw := range w.keywords {
		if strings.Contains(lower, kw) {
			important = true
			break
		}
	}
	if important || configs.IsDebug() {
		w.handler(line, important)
	}
}

// NewLoggerWriter routes lines into logger, choosing the level from the
// line content. Unimportant lines go to Debug.
func NewLoggerWriter(logger logrus.FieldLogger, keywords ...string) *FilteredLineWriter {
	if logger == nil {
		return NewFilteredLineWriter(func(string, bool) {}, keywords...)
	}
	return NewFilteredLineWriter(func(line string, isImportant bool) {
		if !isImportant {
			logger.Debug(line)
			return
		}
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error") || strings.Contains(lower, "fatal"):
			logger.Error(line)
		case strings.Contains(lower, "warn"):
			logger.Warn(line)
		default:
			logger.Info(line)
		}
	}, keywords...)
}
