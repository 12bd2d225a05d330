package recorders

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/pkg/tsprobe"
	"github.com/camvigil/camvigil/src/pkg/tsprobe/tstest"
)

// 25 fps
const frameTicks = tsprobe.ClockRate / 25

// h264Stream returns program tables followed by frames [from, to) with a
// keyframe every gop frames.
func h264Stream(m *tstest.Muxer, from, to, gop int, withTables bool) []byte {
	var out []byte
	if withTables {
		out = append(out, m.Tables()...)
	}
	sps := tstest.H264SPS(640, 480)
	for i := from; i < to; i++ {
		key := i%gop == 0
		pts := int64(i) * frameTicks
		out = append(out, m.VideoFrame(pts, key, tstest.H264AccessUnit(key, sps, 600))...)
		out = append(out, m.AudioFrame(pts, make([]byte, 64))...)
	}
	return out
}

// fakeSource streams data through a pipe. With hold it keeps the pipe open
// until Stop, like ffmpeg reading a live camera.
type fakeSource struct {
	data     []byte
	hold     bool
	startErr error
	waitErr  error

	pr       *io.PipeReader
	pw       *io.PipeWriter
	written  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

func newFakeSource(data []byte, hold bool) *fakeSource {
	return &fakeSource{
		data:    data,
		hold:    hold,
		written: make(chan struct{}),
		stop:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (s *fakeSource) Start(ctx context.Context) (io.Reader, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.pr, s.pw = io.Pipe()
	go func() {
		defer close(s.exited)
		_, err := s.pw.Write(s.data)
		close(s.written)
		if err == nil && s.hold {
			<-s.stop
		}
		s.pw.Close()
	}()
	return s.pr, nil
}

func (s *fakeSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *fakeSource) Wait() error {
	<-s.exited
	return s.waitErr
}

func (s *fakeSource) PID() int {
	return 4242
}

func useSources(t interface{ Cleanup(func()) }, sources ...*fakeSource) {
	orig := newSource
	var (
		mu   sync.Mutex
		next int
	)
	newSource = func(cfg Config, logger logrus.FieldLogger) Source {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(sources) {
			s := newFakeSource(nil, false)
			s.startErr = errors.New("no more fake sources")
			return s
		}
		s := sources[next]
		next++
		return s
	}
	t.Cleanup(func() { newSource = orig })
}

func collect(events <-chan Event, done <-chan struct{}) []Event {
	var out []Event
	for {
		select {
		case e := <-events:
			out = append(out, e)
		case <-done:
			for {
				select {
				case e := <-events:
					out = append(out, e)
				default:
					return out
				}
			}
		}
	}
}
