package spotlight

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// periodic calls fn once per interval on its own goroutine until stopped.
type periodic struct {
	fn       func()
	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func newPeriodic(fn func()) *periodic {
	return &periodic{fn: fn}
}

// start (re)starts the loop with the given interval. A running loop is stopped first.
func (p *periodic) start(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.interval = interval
	p.done = make(chan struct{})
	go p.run(ctx, interval, p.done)
}

// stop cancels the loop and waits for it to exit. Safe to call when not running.
func (p *periodic) stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *periodic) stopLocked() bool {
	if p.cancel == nil {
		return false
	}
	p.cancel()
	p.cancel = nil
	<-p.done
	return true
}

func (p *periodic) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *periodic) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A stop racing with the tick wins.
			if ctx.Err() != nil {
				return
			}
			p.fn()
		}
	}
}

// RotationTimer triggers a rotation once per interval while running.
// It owns no participant data, only the cadence.
type RotationTimer struct {
	classroomID uuid.UUID
	loop        *periodic
	logger      *zap.Logger
}

// NewRotationTimer creates a stopped timer that calls rotate on each interval.
func NewRotationTimer(classroomID uuid.UUID, rotate func(), logger *zap.Logger) *RotationTimer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RotationTimer{classroomID: classroomID, loop: newPeriodic(rotate), logger: logger}
}

// Start begins rotating every intervalSec seconds. When already running the interval is replaced.
func (t *RotationTimer) Start(intervalSec int) {
	if intervalSec <= 0 {
		intervalSec = DefaultRotationInterval
	}
	t.StartEvery(time.Duration(intervalSec) * time.Second)
}

// StartEvery is Start with an arbitrary duration.
func (t *RotationTimer) StartEvery(interval time.Duration) {
	t.loop.start(interval)
	t.logger.Info("spotlight rotation started", zap.String("classroom_id", t.classroomID.String()), zap.Duration("interval", interval))
}

// Stop cancels the pending rotation. Calling Stop on a stopped timer does nothing.
// Must not be called from inside the rotate callback.
func (t *RotationTimer) Stop() {
	if t.loop.stop() {
		t.logger.Info("spotlight rotation stopped", zap.String("classroom_id", t.classroomID.String()))
	}
}

// Running reports whether the timer is started.
func (t *RotationTimer) Running() bool { return t.loop.running() }

// Interval returns the interval of the last start.
func (t *RotationTimer) Interval() time.Duration {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	return t.loop.interval
}
