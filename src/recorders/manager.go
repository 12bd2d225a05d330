package recorders

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/archive"
	"github.com/camvigil/camvigil/src/configs"
	"github.com/camvigil/camvigil/src/instance"
	"github.com/camvigil/camvigil/src/interfaces"
	"github.com/camvigil/camvigil/src/metrics"
	"github.com/camvigil/camvigil/src/pkg/camlogger"
	"github.com/camvigil/camvigil/src/pkg/ffprobe"
	"github.com/camvigil/camvigil/src/pkg/sentry"
	"github.com/camvigil/camvigil/src/store"
)

// Listener observes the archive. Callbacks run on the manager's event
// goroutine and must not block.
type Listener interface {
	OnArchiveAvailable(root string)
	OnArchiveUnavailable()
	OnRecorderEvent(e Event)
}

type Manager interface {
	interfaces.Module
	// OnArchiveAvailable starts one recorder per configured camera writing
	// under root. A different active root is stopped first.
	OnArchiveAvailable(ctx context.Context, root string) error
	// OnArchiveUnavailable stops all recorders and waits until their last
	// segments are persisted.
	OnArchiveUnavailable(ctx context.Context)
	UpdateSegmentDuration(d time.Duration, immediate bool)
	AddListener(l Listener)
	RemoveRecorder(ctx context.Context, cameraIndex int) error
	GetRecorder(ctx context.Context, cameraIndex int) (Recorder, error)
	HasRecorder(ctx context.Context, cameraIndex int) bool
	GetAllSourcePIDs() []int
	GetRecorderStatus(ctx context.Context, cameraIndex int) (map[string]interface{}, error)
	ArchiveRoot() string
	SessionID() string
}

type durationProber interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// for test
var (
	newRecorder = NewRecorder
	openWriter  = func(path string) (*store.Writer, error) {
		return store.OpenWriter(path, logrus.StandardLogger())
	}
	diskUsage = disk.Usage
)

func NewManager(ctx context.Context) Manager {
	m := &manager{
		recorders: make(map[int]Recorder),
		logger:    logrus.WithField("module", "recorders"),
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.RecorderManager = m
	}
	return m
}

type manager struct {
	// serializes archive availability transitions
	archiveLock sync.Mutex

	lock      sync.RWMutex
	recorders map[int]Recorder
	logger    *logrus.Entry

	// archive session, guarded by sessionLock
	sessionLock sync.Mutex
	root        string
	sessionID   string
	masterStart time.Time
	writer      *store.Writer
	events      chan Event
	pumpDone    chan struct{}

	cameraURLs sync.Map // camera index -> main url

	listenersLock sync.RWMutex
	listeners     []Listener

	segmentDuration time.Duration
	prober          durationProber
	started         bool
}

func (m *manager) Start(ctx context.Context) error {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		cfg = configs.NewConfig()
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.WaitGroup.Add(1)
		m.started = true
	}
	if cfg.Archive.Root != "" {
		return m.OnArchiveAvailable(ctx, cfg.Archive.Root)
	}
	m.logger.Info("no archive root configured, waiting for storage")
	return nil
}

func (m *manager) Close(ctx context.Context) {
	m.OnArchiveUnavailable(ctx)
	if inst := instance.GetInstance(ctx); inst != nil && m.started {
		m.started = false
		inst.WaitGroup.Done()
	}
}

func (m *manager) AddListener(l Listener) {
	m.listenersLock.Lock()
	defer m.listenersLock.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *manager) eachListener(fn func(l Listener)) {
	m.listenersLock.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenersLock.RUnlock()
	for _, l := range listeners {
		fn(l)
	}
}

func (m *manager) OnArchiveAvailable(ctx context.Context, root string) error {
	m.archiveLock.Lock()
	defer m.archiveLock.Unlock()
	return m.archiveAvailable(ctx, root)
}

func (m *manager) OnArchiveUnavailable(ctx context.Context) {
	m.archiveLock.Lock()
	defer m.archiveLock.Unlock()
	m.archiveUnavailable(ctx)
}

func (m *manager) archiveAvailable(ctx context.Context, root string) error {
	m.sessionLock.Lock()
	active := m.root
	m.sessionLock.Unlock()
	if active == root {
		return nil
	}
	if active != "" {
		m.archiveUnavailable(ctx)
	}

	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		cfg = configs.NewConfig()
	}
	dir := archive.Dir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		m.logger.WithError(err).WithField("root", root).Error("failed to create archive directory")
		return ErrArchiveUnavailable
	}
	m.logFreeSpace(root)

	writer, err := openWriter(archive.StorePath(root))
	if err != nil {
		m.logger.WithError(err).WithField("root", root).Error("failed to open store")
		return err
	}
	m.recoverOpenSegments(ctx, writer, cfg)

	for _, cam := range cfg.Cameras {
		writer.EnsureCamera(cam.MainURL, cam.SubURL, cam.Name)
	}
	segmentDuration := m.getSegmentDuration(cfg)
	sessionID := strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", "")
	writer.BeginSession(sessionID, dir, int(segmentDuration/time.Second))

	m.sessionLock.Lock()
	m.root = root
	m.sessionID = sessionID
	m.masterStart = time.Now()
	m.writer = writer
	m.events = make(chan Event, 64)
	m.pumpDone = make(chan struct{})
	events, pumpDone := m.events, m.pumpDone
	m.sessionLock.Unlock()

	sentry.GoWithContext(ctx, func(ctx context.Context) { m.pump(events, pumpDone, writer, sessionID) })
	m.eachListener(func(l Listener) { l.OnArchiveAvailable(root) })

	m.logger.WithFields(logrus.Fields{
		"root":       root,
		"session_id": sessionID,
		"cameras":    len(cfg.Cameras),
	}).Info("archive available, recording started")

	for i, cam := range cfg.Cameras {
		if err := m.addRecorder(ctx, i, cam, cfg, segmentDuration); err != nil {
			m.logger.WithError(err).WithField("camera_index", i).Error("failed to add recorder")
		}
	}
	return nil
}

func (m *manager) getSegmentDuration(cfg *configs.Config) time.Duration {
	m.sessionLock.Lock()
	defer m.sessionLock.Unlock()
	if m.segmentDuration > 0 {
		return m.segmentDuration
	}
	return cfg.Archive.SegmentDuration
}

func (m *manager) logFreeSpace(root string) {
	usage, err := diskUsage(root)
	if err != nil {
		m.logger.WithError(err).WithField("root", root).Warn("failed to read disk usage")
		return
	}
	metrics.ArchiveFreeBytes.Set(float64(usage.Free))
	m.logger.WithFields(logrus.Fields{
		"root":         root,
		"free_bytes":   usage.Free,
		"used_percent": usage.UsedPercent,
	}).Info("archive storage")
}

// recoverOpenSegments finalizes rows a previous run left open. The duration
// comes from ffprobe when the file can be probed.
func (m *manager) recoverOpenSegments(ctx context.Context, writer *store.Writer, cfg *configs.Config) {
	open, err := writer.ListOpenSegments()
	if err != nil {
		m.logger.WithError(err).Warn("failed to list open segments")
		return
	}
	if len(open) == 0 {
		return
	}
	prober := m.prober
	if prober == nil {
		prober = ffprobe.New(cfg.Archive.FfprobePath)
	}
	for _, seg := range open {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		d, err := prober.Duration(probeCtx, seg.Path)
		cancel()
		if err != nil {
			m.logger.WithError(err).WithField("path", seg.Path).Warn("failed to probe stale segment")
			writer.FinalizeSegmentByPath(seg.Path, 0, 0)
		} else {
			writer.FinalizeSegmentByPath(seg.Path, seg.StartNs+int64(d), d.Milliseconds())
		}
		metrics.RecoveredSegments.Inc()
	}
	m.logger.WithField("count", len(open)).Info("recovered stale segments")
}

func (m *manager) addRecorder(ctx context.Context, index int, cam configs.CameraProfile, cfg *configs.Config, segmentDuration time.Duration) error {
	m.lock.Lock()
	m.sessionLock.Lock()
	root, masterStart, events := m.root, m.masterStart, m.events
	m.sessionLock.Unlock()
	if root == "" {
		m.lock.Unlock()
		return ErrArchiveUnavailable
	}
	if _, ok := m.recorders[index]; ok {
		m.lock.Unlock()
		return ErrRecorderExist
	}
	rec := newRecorder(Config{
		CameraIndex:     index,
		Name:            cam.Name,
		URL:             cam.MainURL,
		OutputDir:       archive.Dir(root),
		SegmentDuration: segmentDuration,
		MasterStart:     masterStart,
		FfmpegPath:      cfg.Archive.FfmpegPath,
		RTSPTransport:   cfg.Archive.RTSPTransport,
		TimeoutInUs:     cfg.Archive.TimeoutInUs,
	}, events, camlogger.New(nil, index, cam.Name, cam.MainURL))
	m.recorders[index] = rec
	m.lock.Unlock()

	m.cameraURLs.Store(index, cam.MainURL)
	if err := rec.Start(ctx); err != nil {
		m.forget(index, rec)
		return err
	}
	sentry.Go(func() {
		<-rec.Done()
		m.forget(index, rec)
	})
	return nil
}

// forget drops rec from the map unless it was already replaced.
func (m *manager) forget(index int, rec Recorder) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if cur, ok := m.recorders[index]; ok && cur == rec {
		delete(m.recorders, index)
	}
}

// pump is the single owner of the writer while the session lasts.
func (m *manager) pump(events <-chan Event, done chan<- struct{}, writer *store.Writer, sessionID string) {
	defer close(done)
	openPaths := make(map[int]string)
	for e := range events {
		switch ev := e.(type) {
		case SegmentOpened:
			url, _ := m.cameraURLs.Load(ev.CameraIndex)
			cameraURL, _ := url.(string)
			writer.AddSegmentOpened(sessionID, cameraURL, ev.Path, ev.StartNs, store.Video{
				Codec:  codecName(ev.Video.Codec.String()),
				Width:  ev.Video.Width,
				Height: ev.Video.Height,
			})
			openPaths[ev.CameraIndex] = ev.Path
		case SegmentClosed:
			writer.FinalizeSegmentByPath(ev.Path, ev.EndNs, ev.DurationMs)
			if openPaths[ev.CameraIndex] == ev.Path {
				delete(openPaths, ev.CameraIndex)
			}
		case RecordingError:
			m.logger.WithFields(logrus.Fields{
				"camera_index": ev.CameraIndex,
				"error":        ev.Message,
			}).Error("recording stopped")
			writer.MarkError(openPaths[ev.CameraIndex], ev.Message)
		}
		m.eachListener(func(l Listener) { l.OnRecorderEvent(e) })
	}
}

func codecName(s string) string {
	if s == "unknown" {
		return ""
	}
	return s
}

func (m *manager) archiveUnavailable(ctx context.Context) {
	m.lock.Lock()
	recs := make([]Recorder, 0, len(m.recorders))
	for index, rec := range m.recorders {
		recs = append(recs, rec)
		delete(m.recorders, index)
	}
	m.lock.Unlock()

	var wg sync.WaitGroup
	for _, rec := range recs {
		wg.Add(1)
		rec := rec
		sentry.Go(func() {
			defer wg.Done()
			rec.Close()
		})
	}
	wg.Wait()

	m.sessionLock.Lock()
	root, events, pumpDone, writer := m.root, m.events, m.pumpDone, m.writer
	m.root, m.sessionID, m.events, m.pumpDone, m.writer = "", "", nil, nil, nil
	m.sessionLock.Unlock()
	if root == "" {
		return
	}
	// recorders that already exited on their own are done too, nothing
	// sends on events anymore
	close(events)
	<-pumpDone
	if err := writer.Close(); err != nil {
		m.logger.WithError(err).Warn("failed to close store")
	}
	m.eachListener(func(l Listener) { l.OnArchiveUnavailable() })
	m.logger.WithField("root", root).Info("archive unavailable, recording stopped")
}

func (m *manager) UpdateSegmentDuration(d time.Duration, immediate bool) {
	if d <= 0 {
		return
	}
	m.sessionLock.Lock()
	m.segmentDuration = d
	m.sessionLock.Unlock()

	m.lock.RLock()
	defer m.lock.RUnlock()
	for _, rec := range m.recorders {
		rec.UpdateSegmentDuration(d, immediate)
	}
}

func (m *manager) RemoveRecorder(ctx context.Context, cameraIndex int) error {
	m.lock.Lock()
	rec, ok := m.recorders[cameraIndex]
	if !ok {
		m.lock.Unlock()
		return ErrRecorderNotExist
	}
	delete(m.recorders, cameraIndex)
	m.lock.Unlock()
	rec.Close()
	return nil
}

func (m *manager) GetRecorder(ctx context.Context, cameraIndex int) (Recorder, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	r, ok := m.recorders[cameraIndex]
	if !ok {
		return nil, ErrRecorderNotExist
	}
	return r, nil
}

func (m *manager) HasRecorder(ctx context.Context, cameraIndex int) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.recorders[cameraIndex]
	return ok
}

func (m *manager) GetAllSourcePIDs() []int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	pids := make([]int, 0, len(m.recorders))
	for _, rec := range m.recorders {
		if pid := rec.GetSourcePID(); pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

func (m *manager) GetRecorderStatus(ctx context.Context, cameraIndex int) (map[string]interface{}, error) {
	rec, err := m.GetRecorder(ctx, cameraIndex)
	if err != nil {
		return nil, err
	}
	return rec.GetStatus(), nil
}

func (m *manager) ArchiveRoot() string {
	m.sessionLock.Lock()
	defer m.sessionLock.Unlock()
	return m.root
}

func (m *manager) SessionID() string {
	m.sessionLock.Lock()
	defer m.sessionLock.Unlock()
	return m.sessionID
}
