package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"

	"github.com/camvigil/camvigil/src/pkg/procstats"
	"github.com/camvigil/camvigil/src/pkg/sentry"
)

const (
	defaultCollectInterval = 15 * time.Second
	// below this the collector warns on every sample
	lowSpaceRatio = 0.95
)

// for test
var diskUsage = disk.Usage

// Collector samples the archive filesystem and the ffmpeg sources into the
// gauges of Registry.
type Collector struct {
	root     func() string
	pids     func() []int
	interval time.Duration
	logger   *logrus.Entry

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// NewCollector takes providers for the active archive root ("" while there
// is none) and the source process ids.
func NewCollector(root func() string, pids func() []int) *Collector {
	return &Collector{
		root:     root,
		pids:     pids,
		interval: defaultCollectInterval,
		logger:   logrus.WithField("module", "metrics"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) error {
	c.collect()
	sentry.GoWithContext(ctx, func(ctx context.Context) {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.collect()
			}
		}
	})
	return nil
}

func (c *Collector) Close(ctx context.Context) {
	c.once.Do(func() { close(c.stop) })
	select {
	case <-c.done:
	case <-ctx.Done():
	}
}

func (c *Collector) collect() {
	if root := c.root(); root != "" {
		if usage, err := diskUsage(root); err != nil {
			c.logger.WithError(err).WithField("root", root).Debug("failed to read disk usage")
		} else {
			ratio := usage.UsedPercent / 100
			ArchiveFreeBytes.Set(float64(usage.Free))
			ArchiveUsedRatio.Set(ratio)
			if ratio >= lowSpaceRatio {
				c.logger.WithFields(logrus.Fields{
					"root":       root,
					"free_bytes": usage.Free,
				}).Warn("archive storage is almost full")
			}
		}
	}
	var rss uint64
	for _, p := range procstats.Collect(c.pids()).Sources {
		rss += p.RSS
	}
	SourcesRSSBytes.Set(float64(rss))
}
