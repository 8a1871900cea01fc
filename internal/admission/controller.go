// Package admission protects finite transcoding capacity. Sessions ask
// for a slot before spawning an encoder; the controller admits up to the
// configured concurrency, queues the rest in priority order, and refuses
// work when the transcode disk is under pressure.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/observability"
)

// Priority orders queued admission requests. Lower values admit first.
type Priority int

const (
	// PriorityInteractive is a user pressing play.
	PriorityInteractive Priority = 0
	// PriorityNormal covers prefetch and continue-watching warmup.
	PriorityNormal Priority = 50
	// PriorityBackground is library-wide pre-transcoding.
	PriorityBackground Priority = 100
)

// ParsePriority maps the wire name to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "interactive":
		return PriorityInteractive
	case "background":
		return PriorityBackground
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityInteractive:
		return "interactive"
	case PriorityBackground:
		return "background"
	default:
		return "normal"
	}
}

// Pressure is the transcode disk state sampled by the sweep.
type Pressure int

const (
	PressureNormal Pressure = iota
	PressureWarning
	PressureCritical
)

var (
	// ErrQueueFull means the wait queue is at capacity.
	ErrQueueFull = errors.New("admission: queue full")
	// ErrDiskCritical means free space is below the critical threshold;
	// no work is admitted.
	ErrDiskCritical = errors.New("admission: disk critically full")
	// ErrDiskPressure means free space is below the warning threshold;
	// background work is not admitted.
	ErrDiskPressure = errors.New("admission: disk under pressure")
	// ErrTimedOut means the request waited past its priority's deadline.
	ErrTimedOut = errors.New("admission: timed out waiting for capacity")
	// ErrClosed means the controller is shutting down.
	ErrClosed = errors.New("admission: controller closed")
)

// Request asks for one transcoding slot.
type Request struct {
	SessionID string
	Priority  Priority
}

// Ticket is an admitted slot. The holder must call Release exactly once.
type Ticket struct {
	SessionID  string
	Priority   Priority
	AdmittedAt time.Time
}

// waiter is a queued request. result is buffered so the resolver never
// blocks; resolved guards against double delivery.
type waiter struct {
	req      Request
	enqueued time.Time
	deadline time.Time
	promoted bool
	resolved bool
	result   chan waitResult
}

type waitResult struct {
	ticket *Ticket
	err    error
}

// Controller serializes capacity decisions behind one mutex so the
// check-and-admit step is atomic: two concurrent requests can never both
// take the last slot.
type Controller struct {
	cfg    config.AdmissionConfig
	disk   config.DiskConfig
	logger *slog.Logger

	mu       sync.Mutex
	active   map[string]*Ticket
	queue    []*waiter
	pressure Pressure
	closed   bool
	cron     *cron.Cron
}

// NewController creates a controller; call Start to begin the sweep.
func NewController(cfg config.AdmissionConfig, disk config.DiskConfig, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		disk:   disk,
		logger: observability.WithComponent(logger, "admission"),
		active: make(map[string]*Ticket),
	}
}

// Request blocks until the session is admitted, rejected, timed out or
// the context is cancelled. Exactly one outcome is delivered.
func (c *Controller) Request(ctx context.Context, req Request) (*Ticket, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if err := c.pressureDeniesLocked(req.Priority); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if len(c.active) < c.cfg.MaxConcurrent {
		t := c.admitLocked(req)
		c.mu.Unlock()
		return t, nil
	}
	if len(c.queue) >= c.cfg.MaxQueueDepth {
		// Last resort before refusing outright: evict a lower-priority
		// session if the preemption policy allows it.
		if c.tryPreemptLocked(req) {
			t := c.admitLocked(req)
			c.mu.Unlock()
			return t, nil
		}
		c.mu.Unlock()
		return nil, ErrQueueFull
	}

	now := time.Now()
	w := &waiter{
		req:      req,
		enqueued: now,
		deadline: now.Add(c.timeoutFor(req.Priority)),
		result:   make(chan waitResult, 1),
	}
	c.enqueueLocked(w)
	c.mu.Unlock()

	c.logger.Debug("queued for admission",
		slog.String("session_id", req.SessionID),
		slog.String("priority", req.Priority.String()))

	select {
	case res := <-w.result:
		return res.ticket, res.err
	case <-ctx.Done():
		c.mu.Lock()
		if w.resolved {
			// Admission raced the cancellation; give the slot back.
			c.mu.Unlock()
			if res := <-w.result; res.ticket != nil {
				c.Release(res.ticket.SessionID)
			}
			return nil, ctx.Err()
		}
		w.resolved = true
		c.removeLocked(w)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// TryPreempt evicts a lower-priority session to admit req immediately.
// Eviction mid-stream is intentionally not implemented, so the policy
// always declines and the full queue refuses the request.
func (c *Controller) TryPreempt(req Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tryPreemptLocked(req)
}

func (c *Controller) tryPreemptLocked(req Request) bool {
	return false
}

// Release frees the session's slot and admits the queue head if capacity
// allows. Releasing an unknown session is a no-op.
func (c *Controller) Release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[sessionID]; !ok {
		return
	}
	delete(c.active, sessionID)
	c.admitNextLocked()
}

// Stats is a point-in-time snapshot for the admin API.
type Stats struct {
	Active     int      `json:"active"`
	QueueDepth int      `json:"queue_depth"`
	Pressure   Pressure `json:"disk_pressure"`
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Active: len(c.active), QueueDepth: len(c.queue), Pressure: c.pressure}
}

func (c *Controller) timeoutFor(p Priority) time.Duration {
	switch p {
	case PriorityInteractive:
		return c.cfg.InteractiveTimeout
	case PriorityBackground:
		return c.cfg.BackgroundTimeout
	default:
		return c.cfg.NormalTimeout
	}
}

func (c *Controller) pressureDeniesLocked(p Priority) error {
	switch c.pressure {
	case PressureCritical:
		return ErrDiskCritical
	case PressureWarning:
		if p == PriorityBackground {
			return ErrDiskPressure
		}
	}
	return nil
}

func (c *Controller) admitLocked(req Request) *Ticket {
	t := &Ticket{SessionID: req.SessionID, Priority: req.Priority, AdmittedAt: time.Now()}
	c.active[req.SessionID] = t
	return t
}

// enqueueLocked keeps the queue sorted by priority, FIFO within equal
// priority; promoted waiters hold their position.
func (c *Controller) enqueueLocked(w *waiter) {
	at := len(c.queue)
	for i, q := range c.queue {
		if w.req.Priority < q.req.Priority && !q.promoted {
			at = i
			break
		}
	}
	c.queue = append(c.queue, nil)
	copy(c.queue[at+1:], c.queue[at:])
	c.queue[at] = w
}

func (c *Controller) removeLocked(w *waiter) {
	for i, q := range c.queue {
		if q == w {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// admitNextLocked hands free slots to the queue head until capacity or
// the queue runs out.
func (c *Controller) admitNextLocked() {
	for len(c.queue) > 0 && len(c.active) < c.cfg.MaxConcurrent {
		w := c.queue[0]
		c.queue = c.queue[1:]
		if w.resolved {
			continue
		}
		w.resolved = true
		w.result <- waitResult{ticket: c.admitLocked(w.req)}
	}
}

// Close rejects all waiters and stops accepting requests. The sweep, if
// started, must be stopped separately via Stop.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, w := range c.queue {
		if !w.resolved {
			w.resolved = true
			w.result <- waitResult{err: ErrClosed}
		}
	}
	c.queue = nil
}
