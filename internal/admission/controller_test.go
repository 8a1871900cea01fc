package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftserve/drift/internal/config"
)

func testConfig() config.AdmissionConfig {
	return config.AdmissionConfig{
		MaxConcurrent:       2,
		MaxQueueDepth:       4,
		InteractiveTimeout:  5 * time.Second,
		NormalTimeout:       10 * time.Second,
		BackgroundTimeout:   time.Minute,
		StarvationThreshold: 30 * time.Second,
		SweepInterval:       10 * time.Second,
	}
}

func testController(t *testing.T) *Controller {
	t.Helper()
	return NewController(testConfig(), config.DiskConfig{TranscodeDir: t.TempDir()}, slog.Default())
}

func TestRequestAdmitsUnderCapacity(t *testing.T) {
	c := testController(t)

	a, err := c.Request(context.Background(), Request{SessionID: "a", Priority: PriorityInteractive})
	require.NoError(t, err)
	assert.Equal(t, "a", a.SessionID)

	b, err := c.Request(context.Background(), Request{SessionID: "b", Priority: PriorityNormal})
	require.NoError(t, err)
	assert.Equal(t, "b", b.SessionID)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 0, stats.QueueDepth)
}

func TestRequestQueuesAtCapacityAndReleaseAdmits(t *testing.T) {
	c := testController(t)
	_, err := c.Request(context.Background(), Request{SessionID: "a"})
	require.NoError(t, err)
	_, err = c.Request(context.Background(), Request{SessionID: "b"})
	require.NoError(t, err)

	admitted := make(chan *Ticket, 1)
	go func() {
		t3, err := c.Request(context.Background(), Request{SessionID: "c"})
		if err == nil {
			admitted <- t3
		}
	}()

	require.Eventually(t, func() bool {
		return c.Stats().QueueDepth == 1
	}, time.Second, 5*time.Millisecond)

	select {
	case <-admitted:
		t.Fatal("admitted while at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	c.Release("a")
	select {
	case ticket := <-admitted:
		assert.Equal(t, "c", ticket.SessionID)
	case <-time.After(time.Second):
		t.Fatal("release did not admit queue head")
	}
	assert.Equal(t, 2, c.Stats().Active)
}

// The capacity check and the admit are one critical section: many
// concurrent requests against one free slot admit exactly one.
func TestAdmissionIsAtomic(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 3
	cfg.MaxQueueDepth = 100
	c := NewController(cfg, config.DiskConfig{TranscodeDir: t.TempDir()}, slog.Default())

	const n = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Request(ctx, Request{SessionID: string(rune('A' + i))})
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, admitted)
	assert.Equal(t, 3, c.Stats().Active)
}

func TestQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxQueueDepth = 1
	c := NewController(cfg, config.DiskConfig{TranscodeDir: t.TempDir()}, slog.Default())

	_, err := c.Request(context.Background(), Request{SessionID: "a"})
	require.NoError(t, err)

	go c.Request(context.Background(), Request{SessionID: "b"}) //nolint:errcheck
	require.Eventually(t, func() bool {
		return c.Stats().QueueDepth == 1
	}, time.Second, 5*time.Millisecond)

	_, err = c.Request(context.Background(), Request{SessionID: "c"})
	assert.ErrorIs(t, err, ErrQueueFull)

	// The preemption policy declines, so even an interactive request is
	// refused rather than evicting the running session.
	_, err = c.Request(context.Background(), Request{SessionID: "d", Priority: PriorityInteractive})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, c.Stats().Active)
}

func TestQueuePriorityOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	c := NewController(cfg, config.DiskConfig{TranscodeDir: t.TempDir()}, slog.Default())

	_, err := c.Request(context.Background(), Request{SessionID: "hold"})
	require.NoError(t, err)

	order := make(chan string, 2)
	enqueue := func(id string, p Priority) {
		go func() {
			if _, err := c.Request(context.Background(), Request{SessionID: id, Priority: p}); err == nil {
				order <- id
			}
		}()
		require.Eventually(t, func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			for _, w := range c.queue {
				if w.req.SessionID == id {
					return true
				}
			}
			return false
		}, time.Second, 5*time.Millisecond)
	}

	// Background arrives first but interactive jumps ahead.
	enqueue("bg", PriorityBackground)
	enqueue("ui", PriorityInteractive)

	c.Release("hold")
	assert.Equal(t, "ui", <-order)
	c.Release("ui")
	assert.Equal(t, "bg", <-order)
}

func TestRequestContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	c := NewController(cfg, config.DiskConfig{TranscodeDir: t.TempDir()}, slog.Default())

	_, err := c.Request(context.Background(), Request{SessionID: "a"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx, Request{SessionID: "b"})
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return c.Stats().QueueDepth == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, c.Stats().QueueDepth)
}

func TestSweepExpiresOverdueWaiters(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.InteractiveTimeout = time.Millisecond
	c := NewController(cfg, config.DiskConfig{TranscodeDir: t.TempDir()}, slog.Default())

	_, err := c.Request(context.Background(), Request{SessionID: "a"})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), Request{SessionID: "b", Priority: PriorityInteractive})
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return c.Stats().QueueDepth == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	c.Sweep()
	assert.ErrorIs(t, <-errCh, ErrTimedOut)
	assert.Equal(t, 0, c.Stats().QueueDepth)
}

func TestSweepPromotesStarvedWaiter(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.StarvationThreshold = time.Millisecond
	c := NewController(cfg, config.DiskConfig{TranscodeDir: t.TempDir()}, slog.Default())

	_, err := c.Request(context.Background(), Request{SessionID: "hold"})
	require.NoError(t, err)

	order := make(chan string, 2)
	wait := func(id string, p Priority) {
		go func() {
			if _, err := c.Request(context.Background(), Request{SessionID: id, Priority: p}); err == nil {
				order <- id
			}
		}()
	}
	wait("bg", PriorityBackground)
	require.Eventually(t, func() bool { return c.Stats().QueueDepth == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(5 * time.Millisecond) // bg is now past the starvation threshold
	wait("ui", PriorityInteractive)
	require.Eventually(t, func() bool { return c.Stats().QueueDepth == 2 }, time.Second, 5*time.Millisecond)

	c.Sweep() // promotes bg to the head despite ui's priority
	c.Release("hold")
	assert.Equal(t, "bg", <-order)
}

func TestDiskPressure(t *testing.T) {
	orig := diskUsage
	t.Cleanup(func() { diskUsage = orig })

	tests := []struct {
		name        string
		free        uint64
		statErr     error
		priority    Priority
		wantErr     error
		wantPressed Pressure
	}{
		{"normal admits all", 100 << 30, nil, PriorityBackground, nil, PressureNormal},
		{"warning denies background", 5 << 30, nil, PriorityBackground, ErrDiskPressure, PressureWarning},
		{"warning admits interactive", 5 << 30, nil, PriorityInteractive, nil, PressureWarning},
		{"critical denies all", 1 << 30, nil, PriorityInteractive, ErrDiskCritical, PressureCritical},
		{"stat failure is normal", 0, errors.New("statfs: no such device"), PriorityBackground, nil, PressureNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diskUsage = func(string) (*disk.UsageStat, error) {
				if tt.statErr != nil {
					return nil, tt.statErr
				}
				return &disk.UsageStat{Free: tt.free}, nil
			}

			c := NewController(testConfig(), config.DiskConfig{
				TranscodeDir: t.TempDir(),
				WarningFree:  10 << 30,
				CriticalFree: 2 << 30,
			}, slog.Default())
			c.Sweep()
			assert.Equal(t, tt.wantPressed, c.Stats().Pressure)

			_, err := c.Request(context.Background(), Request{SessionID: "s", Priority: tt.priority})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCacheBudgetPressure(t *testing.T) {
	origUsage, origSize := diskUsage, cacheSize
	t.Cleanup(func() { diskUsage, cacheSize = origUsage, origSize })

	diskUsage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 100 << 30}, nil
	}
	cacheSize = func(string) (uint64, error) { return 150 << 30, nil }

	c := NewController(testConfig(), config.DiskConfig{
		TranscodeDir:  t.TempDir(),
		WarningFree:   10 << 30,
		CriticalFree:  2 << 30,
		TotalCacheMax: 100 << 30,
	}, slog.Default())
	c.Sweep()

	// Plenty of free space, but the cache is over budget: background work
	// is held back while interactive playback still admits.
	assert.Equal(t, PressureWarning, c.Stats().Pressure)
	_, err := c.Request(context.Background(), Request{SessionID: "bg", Priority: PriorityBackground})
	assert.ErrorIs(t, err, ErrDiskPressure)
	_, err = c.Request(context.Background(), Request{SessionID: "ui", Priority: PriorityInteractive})
	assert.NoError(t, err)

	// Back under budget, the next sweep clears the pressure.
	cacheSize = func(string) (uint64, error) { return 50 << 30, nil }
	c.Sweep()
	assert.Equal(t, PressureNormal, c.Stats().Pressure)
}

func TestTryPreemptAlwaysFalse(t *testing.T) {
	c := testController(t)
	assert.False(t, c.TryPreempt(Request{SessionID: "x", Priority: PriorityInteractive}))
}

func TestCloseRejectsWaiters(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	c := NewController(cfg, config.DiskConfig{TranscodeDir: t.TempDir()}, slog.Default())

	_, err := c.Request(context.Background(), Request{SessionID: "a"})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), Request{SessionID: "b"})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.Stats().QueueDepth == 1 }, time.Second, 5*time.Millisecond)

	c.Close()
	assert.ErrorIs(t, <-errCh, ErrClosed)

	_, err = c.Request(context.Background(), Request{SessionID: "c"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityInteractive, ParsePriority("interactive"))
	assert.Equal(t, PriorityBackground, ParsePriority("background"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))
	assert.Equal(t, PriorityNormal, ParsePriority(""))
	assert.Equal(t, PriorityNormal, ParsePriority("garbage"))
}
