//go:generate go run go.uber.org/mock/mockgen -package recorders -destination mock_test.go github.com/camvigil/camvigil/src/recorders Recorder
package recorders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/metrics"
	"github.com/camvigil/camvigil/src/pkg/camlogger"
	"github.com/camvigil/camvigil/src/pkg/sentry"
	"github.com/camvigil/camvigil/src/pkg/tsprobe"
)

const (
	begin uint32 = iota
	pending
	running
	stopped
)

// for test
var newSource = func(cfg Config, logger logrus.FieldLogger) Source {
	return newFFmpegSource(ffmpegSourceConfig{
		FfmpegPath:    cfg.FfmpegPath,
		URL:           cfg.URL,
		RTSPTransport: cfg.RTSPTransport,
		TimeoutInUs:   cfg.TimeoutInUs,
	}, logger)
}

// Config describes one camera recording.
type Config struct {
	CameraIndex     int
	Name            string
	URL             string
	OutputDir       string
	SegmentDuration time.Duration
	// MasterStart is shared by all recorders of a session so their files
	// line up on one clock.
	MasterStart time.Time

	FfmpegPath    string
	RTSPTransport string
	TimeoutInUs   int
}

type Recorder interface {
	Start(ctx context.Context) error
	// Close stops the source gracefully and waits until the last file is
	// finalized.
	Close()
	// Done is closed when the recorder has exited for any reason.
	Done() <-chan struct{}
	UpdateSegmentDuration(d time.Duration, immediate bool)
	CameraIndex() int
	URL() string
	StartTime() time.Time
	CurrentFile() string
	GetStatus() map[string]interface{}
	GetSourcePID() int
}

type recorder struct {
	cfg       Config
	events    chan<- Event
	logger    *camlogger.CameraLogger
	startTime time.Time

	source     Source
	sourceLock sync.RWMutex
	seg        *segmenter

	state    uint32
	stopping atomic.Bool
	done     chan struct{}
}

// NewRecorder creates a recorder sending its events to events. The channel
// must be drained until Done is closed.
func NewRecorder(cfg Config, events chan<- Event, logger *camlogger.CameraLogger) Recorder {
	if logger == nil {
		logger = camlogger.New(nil, cfg.CameraIndex, cfg.Name, cfg.URL)
	}
	r := &recorder{
		cfg:    cfg,
		events: events,
		logger: logger,
		state:  begin,
		done:   make(chan struct{}),
	}
	r.seg = newSegmenter(cfg.CameraIndex, cfg.OutputDir, cfg.SegmentDuration, cfg.MasterStart, r.emit, logger)
	return r
}

func (r *recorder) emit(e Event) {
	switch ev := e.(type) {
	case SegmentOpened:
		metrics.SegmentsOpened.WithLabelValues(r.label()).Inc()
	case SegmentClosed:
		metrics.SegmentsClosed.WithLabelValues(r.label()).Inc()
		metrics.SegmentDuration.WithLabelValues(r.label()).Observe(float64(ev.DurationMs) / 1000)
	case RecordingError:
		metrics.RecordingErrors.WithLabelValues(r.label()).Inc()
	}
	r.events <- e
}

func (r *recorder) label() string {
	return fmt.Sprint(r.cfg.CameraIndex)
}

func (r *recorder) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&r.state, begin, pending) {
		return ErrRecorderAlreadyStarted
	}
	r.startTime = time.Now()
	src := newSource(r.cfg, r.logger)
	stream, err := src.Start(ctx)
	if err != nil {
		atomic.StoreUint32(&r.state, stopped)
		r.logger.WithError(err).Error("failed to start source")
		sentry.GoWithContext(ctx, func(ctx context.Context) {
			defer close(r.done)
			r.emit(RecordingError{CameraIndex: r.cfg.CameraIndex, Message: err.Error()})
		})
		return nil
	}
	r.sourceLock.Lock()
	r.source = src
	r.sourceLock.Unlock()
	if r.stopping.Load() {
		// Close raced with Start before the source was visible
		_ = src.Stop()
	}

	sentry.GoWithContext(ctx, func(ctx context.Context) { r.run(ctx, src, stream) })
	r.logger.WithField("dir", r.cfg.OutputDir).Info("Record Start")
	metrics.RecordersRunning.Inc()
	atomic.CompareAndSwapUint32(&r.state, pending, running)
	return nil
}

func (r *recorder) run(ctx context.Context, src Source, stream io.Reader) {
	defer close(r.done)
	defer metrics.RecordersRunning.Dec()

	readErr := r.seg.run(tsprobe.NewReader(stream))
	if readErr != nil {
		// the source may still be producing; nobody reads it anymore
		if err := src.Stop(); err != nil {
			r.logger.WithError(err).Warn("failed to stop source")
		}
		sentry.Go(func() { _, _ = io.Copy(io.Discard, stream) })
	}
	finishErr := r.seg.finish()
	waitErr := src.Wait()

	switch {
	case readErr != nil:
		r.emit(RecordingError{CameraIndex: r.cfg.CameraIndex, Message: readErr.Error()})
	case finishErr != nil:
		r.emit(RecordingError{CameraIndex: r.cfg.CameraIndex, Message: finishErr.Error()})
	case !r.stopping.Load():
		msg := ErrSourceExited.Error()
		if waitErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, waitErr)
		}
		r.logger.Warn(msg)
		r.emit(RecordingError{CameraIndex: r.cfg.CameraIndex, Message: msg})
	default:
		if waitErr != nil && !isExpectedExit(waitErr) {
			r.logger.WithError(waitErr).Debug("source exit status")
		}
	}
	atomic.StoreUint32(&r.state, stopped)
}

func isExpectedExit(err error) bool {
	var exitErr interface{ ExitCode() int }
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 255
}

func (r *recorder) Close() {
	if r.stopping.Swap(true) {
		<-r.done
		return
	}
	if atomic.LoadUint32(&r.state) == begin {
		atomic.StoreUint32(&r.state, stopped)
		close(r.done)
		return
	}
	r.sourceLock.RLock()
	src := r.source
	r.sourceLock.RUnlock()
	if src != nil {
		if err := src.Stop(); err != nil {
			r.logger.WithError(err).Warn("failed to end recorder")
		}
	}
	<-r.done
	r.logger.Info("Record End")
}

func (r *recorder) Done() <-chan struct{} {
	return r.done
}

func (r *recorder) UpdateSegmentDuration(d time.Duration, immediate bool) {
	if d <= 0 {
		return
	}
	r.seg.setDuration(d, immediate)
	r.logger.WithFields(logrus.Fields{
		"segment_duration": d,
		"immediate":        immediate,
	}).Info("segment duration updated")
}

func (r *recorder) CameraIndex() int {
	return r.cfg.CameraIndex
}

func (r *recorder) URL() string {
	return r.cfg.URL
}

func (r *recorder) StartTime() time.Time {
	return r.startTime
}

func (r *recorder) CurrentFile() string {
	return r.seg.currentPath()
}

func (r *recorder) GetStatus() map[string]interface{} {
	status := r.seg.status()
	status["camera_index"] = r.cfg.CameraIndex
	status["camera"] = r.cfg.Name
	status["state"] = stateName(atomic.LoadUint32(&r.state))
	if pid := r.GetSourcePID(); pid > 0 {
		status["pid"] = pid
	}
	return status
}

func (r *recorder) GetSourcePID() int {
	r.sourceLock.RLock()
	defer r.sourceLock.RUnlock()
	if r.source == nil {
		return 0
	}
	return r.source.PID()
}

func stateName(s uint32) string {
	switch s {
	case begin:
		return "begin"
	case pending:
		return "pending"
	case running:
		return "running"
	default:
		return "stopped"
	}
}
