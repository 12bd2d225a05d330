// Package playback serves what the archive holds to playback and export:
// cameras, recorded days, and per-day segment indexes.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/archive"
	"github.com/camvigil/camvigil/src/configs"
	"github.com/camvigil/camvigil/src/instance"
	"github.com/camvigil/camvigil/src/interfaces"
	"github.com/camvigil/camvigil/src/metrics"
	"github.com/camvigil/camvigil/src/playback/index"
	"github.com/camvigil/camvigil/src/playback/timeline"
	"github.com/camvigil/camvigil/src/recorders"
	"github.com/camvigil/camvigil/src/store"
)

var ErrArchiveNotReady = errors.New("archive is not available")

var (
	_ interfaces.Module  = (*Catalog)(nil)
	_ recorders.Listener = (*Catalog)(nil)
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 30 * time.Second
)

// Catalog answers archive queries from a read-only store connection and
// caches the results until a recorder reports a new or closed segment.
type Catalog struct {
	lock   sync.RWMutex
	reader *store.Reader
	root   string

	cache     gcache.Cache
	loc       *time.Location
	threshold time.Duration
	logger    *logrus.Entry
}

func NewCatalog(ctx context.Context) *Catalog {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		cfg = configs.NewConfig()
	}
	c := &Catalog{
		loc:       time.Local,
		threshold: cfg.Playback.GapThreshold,
		logger:    logrus.WithField("module", "catalog"),
	}
	if c.threshold <= 0 {
		c.threshold = index.DefaultGapThreshold
	}
	inst := instance.GetInstance(ctx)
	if inst != nil && inst.Cache != nil {
		c.cache = inst.Cache
	} else {
		size, ttl := cfg.Playback.QueryCacheSize, cfg.Playback.QueryCacheTTL
		if size <= 0 {
			size = defaultCacheSize
		}
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		c.cache = gcache.New(size).LRU().Expiration(ttl).Build()
	}
	if inst != nil {
		inst.Catalog = c
	}
	return c
}

// Start subscribes to the recorder manager of the instance, when there is
// one, and opens its archive if it is already available.
func (c *Catalog) Start(ctx context.Context) error {
	inst := instance.GetInstance(ctx)
	if inst == nil {
		return nil
	}
	mgr, ok := inst.RecorderManager.(recorders.Manager)
	if !ok {
		return nil
	}
	mgr.AddListener(c)
	if root := mgr.ArchiveRoot(); root != "" {
		c.OnArchiveAvailable(root)
	}
	return nil
}

func (c *Catalog) Close(ctx context.Context) {
	c.OnArchiveUnavailable()
}

func (c *Catalog) OnArchiveAvailable(root string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.root == root && c.reader != nil {
		return
	}
	c.closeReader()
	reader, err := store.OpenReader(archive.StorePath(root), c.loc)
	if err != nil {
		c.logger.WithError(err).WithField("root", root).Error("failed to open archive for reading")
		return
	}
	c.reader = reader
	c.root = root
	c.cache.Purge()
	c.logger.WithField("root", root).Info("archive catalog opened")
}

func (c *Catalog) OnArchiveUnavailable() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closeReader()
	c.cache.Purge()
}

func (c *Catalog) closeReader() {
	if c.reader == nil {
		return
	}
	if err := c.reader.Close(); err != nil {
		c.logger.WithError(err).Warn("failed to close archive reader")
	}
	c.reader = nil
	c.root = ""
}

func (c *Catalog) OnRecorderEvent(e recorders.Event) {
	switch e.(type) {
	case recorders.SegmentOpened, recorders.SegmentClosed:
		// waits for in-flight loads so none of them caches rows older
		// than this event
		c.lock.Lock()
		c.cache.Purge()
		c.lock.Unlock()
	}
}

// Root is the archive being served, "" when none.
func (c *Catalog) Root() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.root
}

func (c *Catalog) Location() *time.Location {
	return c.loc
}

func (c *Catalog) query(ctx context.Context, name, key string, load func(r *store.Reader) (interface{}, error)) (interface{}, error) {
	cacheKey := name + "/" + key
	c.lock.RLock()
	defer c.lock.RUnlock()
	if v, err := c.cache.Get(cacheKey); err == nil {
		metrics.CatalogQueries.WithLabelValues(name, "hit").Inc()
		return v, nil
	}
	if c.reader == nil {
		return nil, ErrArchiveNotReady
	}
	v, err := load(c.reader)
	if err != nil {
		metrics.CatalogQueries.WithLabelValues(name, "error").Inc()
		return nil, err
	}
	metrics.CatalogQueries.WithLabelValues(name, "miss").Inc()
	if err := c.cache.Set(cacheKey, v); err != nil {
		c.logger.WithError(err).WithField("key", cacheKey).Debug("failed to cache query result")
	}
	return v, nil
}

// Cameras lists cameras that have recordings.
func (c *Catalog) Cameras(ctx context.Context) ([]store.Camera, error) {
	v, err := c.query(ctx, "cameras", "", func(r *store.Reader) (interface{}, error) {
		return r.ListCameras(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]store.Camera), nil
}

// Days lists the local dates with recordings of a camera, as YYYY-MM-DD.
func (c *Catalog) Days(ctx context.Context, cameraID int64) ([]string, error) {
	v, err := c.query(ctx, "days", fmt.Sprint(cameraID), func(r *store.Reader) (interface{}, error) {
		return r.ListDays(ctx, cameraID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (c *Catalog) Segments(ctx context.Context, cameraID int64, day string) ([]store.Segment, error) {
	v, err := c.query(ctx, "segments", fmt.Sprintf("%d/%s", cameraID, day), func(r *store.Reader) (interface{}, error) {
		return r.ListSegments(ctx, cameraID, day)
	})
	if err != nil {
		return nil, err
	}
	return v.([]store.Segment), nil
}

// DayIndex builds the playlist of a camera for one local day. The index
// window is the day window.
func (c *Catalog) DayIndex(ctx context.Context, cameraID int64, day string) (*index.Index, error) {
	start, end, err := store.DayWindow(day, c.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	segs, err := c.Segments(ctx, cameraID, day)
	if err != nil {
		return nil, err
	}
	return index.Build(index.RowsFromSegments(segs), start, end, c.threshold), nil
}

// DayTimeline is the coverage of a camera for one local day.
func (c *Catalog) DayTimeline(ctx context.Context, cameraID int64, day string) (*timeline.Timeline, error) {
	start, end, err := store.DayWindow(day, c.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	segs, err := c.Segments(ctx, cameraID, day)
	if err != nil {
		return nil, err
	}
	return timeline.New(timeline.SpansFromSegments(segs), start, end), nil
}
