package admission

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/driftserve/drift/internal/observability"
)

const defaultSweepInterval = 10 * time.Second

// diskUsage and cacheSize are swappable for tests.
var diskUsage = disk.Usage

var cacheSize = func(dir string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			// Sessions delete their scratch files while we walk.
			return nil
		}
		total += uint64(info.Size())
		return nil
	})
	return total, err
}

// Start launches the periodic sweep: expire overdue waiters, promote
// starved ones, refresh disk pressure.
func (c *Controller) Start() error {
	interval := c.cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	cr := cron.New()
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", interval), c.Sweep); err != nil {
		return fmt.Errorf("schedule admission sweep: %w", err)
	}
	cr.Start()

	c.mu.Lock()
	c.cron = cr
	c.mu.Unlock()

	c.logger.Info("admission sweep started", slog.Duration("interval", interval))
	return nil
}

// Stop halts the sweep and waits for an in-flight run to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		<-cr.Stop().Done()
	}
}

// Sweep runs one maintenance pass. Exported so tests and the admin API
// can force a pass without waiting for the schedule.
func (c *Controller) Sweep() {
	c.refreshPressure()

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	// Expire waiters past their priority deadline.
	kept := c.queue[:0]
	for _, w := range c.queue {
		if w.resolved {
			continue
		}
		if now.After(w.deadline) {
			w.resolved = true
			w.result <- waitResult{err: ErrTimedOut}
			c.logger.Info("admission wait timed out",
				slog.String("session_id", w.req.SessionID),
				slog.String("priority", w.req.Priority.String()))
			continue
		}
		kept = append(kept, w)
	}
	c.queue = kept

	// Promote waiters starved past the threshold so a stream of
	// interactive requests cannot pin background work forever. Promotion
	// moves the waiter to the queue head once.
	if c.cfg.StarvationThreshold > 0 {
		for i, w := range c.queue {
			if w.promoted || w.req.Priority == PriorityInteractive {
				continue
			}
			if now.Sub(w.enqueued) > c.cfg.StarvationThreshold {
				w.promoted = true
				copy(c.queue[1:i+1], c.queue[:i])
				c.queue[0] = w
				c.logger.Info("promoted starved waiter",
					slog.String("session_id", w.req.SessionID),
					slog.String("priority", w.req.Priority.String()))
				break
			}
		}
	}
}

// refreshPressure samples free space under the transcode dir. A stat
// failure is treated as normal pressure: refusing all playback because
// statfs hiccuped is worse than briefly over-admitting.
func (c *Controller) refreshPressure() {
	usage, err := diskUsage(c.disk.TranscodeDir)
	pressure := PressureNormal
	if err != nil {
		observability.WithError(c.logger, err).Warn("disk usage check failed",
			slog.String("path", c.disk.TranscodeDir))
	} else {
		switch {
		case usage.Free < uint64(c.disk.CriticalFree):
			pressure = PressureCritical
		case usage.Free < uint64(c.disk.WarningFree):
			pressure = PressureWarning
		}
	}

	// A cache over its configured budget denies background work, same as
	// a low-free-space warning, so the idle reaper can catch up.
	if pressure == PressureNormal && c.disk.TotalCacheMax > 0 {
		size, err := cacheSize(c.disk.TranscodeDir)
		if err != nil {
			observability.WithError(c.logger, err).Warn("cache size check failed",
				slog.String("path", c.disk.TranscodeDir))
		} else if size > uint64(c.disk.TotalCacheMax) {
			pressure = PressureWarning
		}
	}

	c.mu.Lock()
	if pressure != c.pressure {
		c.logger.Info("disk pressure changed",
			slog.Int("from", int(c.pressure)),
			slog.Int("to", int(pressure)))
		c.pressure = pressure
	}
	c.mu.Unlock()
}
