package recorders

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/archive"
	"github.com/camvigil/camvigil/src/pkg/tsprobe"
)

const (
	// enough of an access unit to find its parameter sets and first slice
	maxScanBytes = 64 * 1024
	writeBufSize = 256 * 1024
)

var errWriteFailed = errors.New("segment write failed")

// segmenter cuts an MPEG-TS packet stream into files at video random access
// points. Packets are held back one access unit so the cut happens before
// the keyframe that starts the next file.
type segmenter struct {
	cameraIndex int
	dir         string
	masterStart time.Time
	now         func() time.Time
	emit        func(Event)
	logger      logrus.FieldLogger

	mu         sync.Mutex
	target     time.Duration
	pending    time.Duration
	forceSplit bool
	path       string
	segments   int
	bytes      int64

	pat      tsprobe.Packet
	pmt      tsprobe.Packet
	pmtPID   int
	videoPID int
	codec    tsprobe.Codec

	unwrapper    tsprobe.PTSUnwrapper
	firstPts     int64
	havePts      bool
	streamOffset time.Duration
	arrived      bool

	au       []tsprobe.Packet
	auData   []byte
	auPts    int64
	auHasPts bool
	auRAI    bool

	file        *os.File
	w           *bufio.Writer
	segStartPts int64
	segStartNs  int64
	lastPts     int64
	frameTicks  int64
}

func newSegmenter(cameraIndex int, dir string, target time.Duration, masterStart time.Time, emit func(Event), logger logrus.FieldLogger) *segmenter {
	return &segmenter{
		cameraIndex: cameraIndex,
		dir:         dir,
		target:      target,
		masterStart: masterStart,
		now:         time.Now,
		emit:        emit,
		logger:      logger,
		pmtPID:      -1,
		videoPID:    -1,
	}
}

// setDuration stores d for the next file. With immediate the current file is
// cut at the next keyframe.
func (s *segmenter) setDuration(d time.Duration, immediate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = d
	if immediate {
		s.forceSplit = true
	}
}

func (s *segmenter) currentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *segmenter) status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.target
	if s.pending > 0 {
		target = s.pending
	}
	return map[string]interface{}{
		"file_path":        s.path,
		"segments":         s.segments,
		"bytes_written":    s.bytes,
		"segment_duration": target.String(),
		"codec":            s.codec.String(),
	}
}

// run consumes packets until the reader ends. io.EOF is a normal end.
func (s *segmenter) run(r *tsprobe.Reader) error {
	for {
		pkt, err := r.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if err := s.handle(pkt); err != nil {
			return err
		}
	}
}

func (s *segmenter) handle(pkt tsprobe.Packet) error {
	if !s.arrived {
		s.arrived = true
		s.streamOffset = s.now().Sub(s.masterStart)
	}
	pid := int(pkt.PID())
	switch {
	case pid == tsprobe.PIDPAT && pkt.PayloadUnitStart():
		if pmtPID, ok := tsprobe.ParsePAT(pkt.Payload()); ok {
			s.pmtPID = int(pmtPID)
			s.pat = pkt
		}
	case pid == s.pmtPID && pkt.PayloadUnitStart():
		if streams, ok := tsprobe.ParsePMT(pkt.Payload()); ok {
			s.pmt = pkt
			if es, codec, ok := tsprobe.VideoStream(streams); ok {
				if s.videoPID != int(es.PID) {
					s.logger.WithFields(logrus.Fields{"pid": es.PID, "codec": codec}).Debug("video stream found")
				}
				s.videoPID = int(es.PID)
				s.mu.Lock()
				s.codec = codec
				s.mu.Unlock()
			}
		}
	case pid == s.videoPID && pkt.PayloadUnitStart():
		if err := s.flushAccessUnit(); err != nil {
			return err
		}
		s.beginAccessUnit(pkt)
		return nil
	}

	if len(s.au) > 0 {
		s.au = append(s.au, pkt)
		if pid == s.videoPID && len(s.auData) < maxScanBytes {
			s.auData = append(s.auData, pkt.Payload()...)
		}
		return nil
	}
	return s.write(pkt)
}

func (s *segmenter) beginAccessUnit(pkt tsprobe.Packet) {
	s.au = append(s.au[:0], pkt)
	s.auData = s.auData[:0]
	s.auRAI = pkt.RandomAccess()
	s.auHasPts = false
	pts, hasPts, data, ok := tsprobe.ParsePES(pkt.Payload())
	if !ok {
		return
	}
	s.auData = append(s.auData, data...)
	if hasPts {
		s.auPts = s.unwrapper.Unwrap(pts)
		s.auHasPts = true
		if !s.havePts {
			s.havePts = true
			s.firstPts = s.auPts
		}
	}
}

// wallNs maps a video PTS onto the wall clock shared by all cameras of the
// session.
func (s *segmenter) wallNs(pts int64) int64 {
	return s.masterStart.Add(s.streamOffset).UnixNano() + tsprobe.TicksToNs(pts-s.firstPts)
}

func (s *segmenter) flushAccessUnit() error {
	if len(s.au) == 0 {
		return nil
	}
	defer func() {
		s.au = s.au[:0]
		s.auData = s.auData[:0]
	}()

	if s.auHasPts {
		keyframe := s.auRAI || tsprobe.ContainsRandomAccess(s.codec, s.auData)
		if keyframe {
			if s.file == nil {
				if err := s.open(s.auPts); err != nil {
					return err
				}
			} else if s.shouldRotate(s.auPts) {
				s.closeSegment(s.auPts)
				if err := s.open(s.auPts); err != nil {
					return err
				}
			}
		}
		if s.file != nil && s.auPts > s.lastPts {
			if d := s.auPts - s.lastPts; d < tsprobe.ClockRate {
				s.frameTicks = d
			}
			s.lastPts = s.auPts
		}
	}
	for _, pkt := range s.au {
		if err := s.write(pkt); err != nil {
			return err
		}
	}
	return nil
}

func (s *segmenter) shouldRotate(pts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceSplit {
		return true
	}
	return time.Duration(tsprobe.TicksToNs(pts-s.segStartPts)) >= s.target
}

func (s *segmenter) open(pts int64) error {
	startNs := s.wallNs(pts)
	path := archive.NewSegmentPath(s.dir, s.cameraIndex, time.Unix(0, startNs), archive.SegmentExt)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", errWriteFailed, err)
	}

	s.mu.Lock()
	if s.pending > 0 {
		s.target = s.pending
		s.pending = 0
	}
	s.forceSplit = false
	s.path = path
	s.segments++
	s.mu.Unlock()

	s.file = f
	s.w = bufio.NewWriterSize(f, writeBufSize)
	s.segStartPts = pts
	s.segStartNs = startNs
	s.lastPts = pts

	// every file starts with the program tables so it plays on its own
	for _, pkt := range []tsprobe.Packet{s.pat, s.pmt} {
		if pkt == nil {
			continue
		}
		if err := s.write(pkt); err != nil {
			return err
		}
	}

	video, _ := tsprobe.FindVideoInfo(s.codec, s.auData)
	s.logger.WithFields(logrus.Fields{
		"path":   path,
		"width":  video.Width,
		"height": video.Height,
	}).Info("segment opened")
	s.emit(SegmentOpened{
		CameraIndex: s.cameraIndex,
		Path:        path,
		StartNs:     startNs,
		Video:       video,
	})
	return nil
}

func (s *segmenter) write(pkt tsprobe.Packet) error {
	if s.w == nil {
		return nil
	}
	n, err := s.w.Write(pkt)
	s.mu.Lock()
	s.bytes += int64(n)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", errWriteFailed, err)
	}
	return nil
}

// closeSegment finalizes the current file. endPts is the first PTS that
// does not belong to it.
func (s *segmenter) closeSegment(endPts int64) {
	if s.file == nil {
		return
	}
	path := s.file.Name()
	endNs := s.segStartNs + tsprobe.TicksToNs(endPts-s.segStartPts)
	var errs []error
	if err := s.w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := s.file.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.WithError(err).WithField("path", path).Error("failed to finalize segment")
	}
	s.file = nil
	s.w = nil

	s.mu.Lock()
	s.path = ""
	s.mu.Unlock()

	durationMs := (endNs - s.segStartNs) / int64(time.Millisecond)
	s.logger.WithFields(logrus.Fields{
		"path":        path,
		"duration_ms": durationMs,
	}).Info("segment closed")
	s.emit(SegmentClosed{
		CameraIndex: s.cameraIndex,
		Path:        path,
		EndNs:       endNs,
		DurationMs:  durationMs,
	})
}

// finish writes the held back access unit and closes the last file. The
// end of the last file is one frame after its last PTS.
func (s *segmenter) finish() error {
	err := s.flushAccessUnit()
	if s.file != nil {
		s.closeSegment(s.lastPts + s.frameTicks)
	}
	return err
}
