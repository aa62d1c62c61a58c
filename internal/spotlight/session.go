package spotlight

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionStopped is returned by mutations on a session that has been stopped.
var ErrSessionStopped = errors.New("spotlight session stopped")

// Notifier receives every applied store event together with the resulting state.
// Notify runs while the session lock is held and must not block or call back into the session.
type Notifier interface {
	Notify(classroomID uuid.UUID, ev Event, snap Snapshot)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(classroomID uuid.UUID, ev Event, snap Snapshot)

// Notify calls f.
func (f NotifierFunc) Notify(classroomID uuid.UUID, ev Event, snap Snapshot) { f(classroomID, ev, snap) }

// Session is the live spotlight of one classroom: the store, the one-second countdown and the
// rotation timer. All mutations go through one lock, so user intents, countdown ticks and
// rotations are applied one at a time in arrival order.
type Session struct {
	ClassroomID uuid.UUID

	// ctl serializes timer control; mu guards the store and is the only lock timer callbacks take.
	ctl       sync.Mutex
	mu        sync.Mutex
	store     *Store
	stopped   bool
	startedAt time.Time
	rotation  *RotationTimer
	countdown *periodic
	tickEvery time.Duration
	logger    *zap.Logger
}

// NewSession creates a stopped session; call Start to run the countdown.
func NewSession(classroomID uuid.UUID, cfg Config, logger *zap.Logger, notifiers ...Notifier) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		ClassroomID: classroomID,
		store:       NewStore(cfg),
		tickEvery:   time.Second,
		logger:      logger.With(zap.String("classroom_id", classroomID.String())),
	}
	for _, n := range notifiers {
		n := n
		s.store.OnEvent(func(ev Event) {
			n.Notify(classroomID, ev, s.store.Snapshot())
		})
	}
	s.rotation = NewRotationTimer(classroomID, func() { _, _ = s.Rotate() }, logger)
	s.countdown = newPeriodic(func() { _, _ = s.Tick() })
	return s
}

// Start runs the per-second countdown and, when configured, auto rotation.
func (s *Session) Start() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	cfg := s.store.Config()
	s.startedAt = time.Now()
	every := s.tickEvery
	s.mu.Unlock()

	s.countdown.start(every)
	if cfg.AutoRotate {
		s.rotation.Start(cfg.RotationInterval)
	}
	s.logger.Info("spotlight session started", zap.Int("max_active", cfg.MaxActive), zap.Bool("queue_enabled", cfg.QueueEnabled))
}

// Stop cancels the countdown and the rotation timer. Further mutations fail with ErrSessionStopped.
func (s *Session) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	// Timer goroutines take s.mu; stop them without holding it.
	s.rotation.Stop()
	s.countdown.stop()
	s.logger.Info("spotlight session stopped")
}

// Add admits a participant to the spotlight.
func (s *Session) Add(participantID uuid.UUID, kind Kind, reason string, duration int, priority Priority) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Entry{}, ErrSessionStopped
	}
	return s.store.Add(participantID, kind, reason, duration, priority)
}

// Remove takes a participant out of the spotlight.
func (s *Session) Remove(participantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionStopped
	}
	return s.store.Remove(participantID)
}

// Extend gives an active participant more time.
func (s *Session) Extend(participantID uuid.UUID, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionStopped
	}
	return s.store.Extend(participantID, seconds)
}

// Rotate swaps the front active and queued entries; it reports whether anything moved.
func (s *Session) Rotate() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false, ErrSessionStopped
	}
	return s.store.Rotate(), nil
}

// Tick applies one second of countdown.
func (s *Session) Tick() ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrSessionStopped
	}
	expired := s.store.Tick()
	for _, id := range expired {
		s.logger.Debug("spotlight expired", zap.String("participant_id", id.String()))
	}
	return expired, nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot()
}

// Config returns the session configuration, including the current auto-rotate setting.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Config()
}

// SetAutoRotate turns the rotation timer on or off. intervalSec <= 0 keeps the current interval.
func (s *Session) SetAutoRotate(enabled bool, intervalSec int) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if intervalSec > 0 {
		s.store.cfg.RotationInterval = intervalSec
	}
	s.store.cfg.AutoRotate = enabled
	interval := s.store.cfg.RotationInterval
	s.mu.Unlock()

	if enabled {
		s.rotation.Start(interval)
	} else {
		s.rotation.Stop()
	}
	return nil
}

// StartedAt returns when Start was called (zero before).
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// AutoRotating reports whether the rotation timer is running.
func (s *Session) AutoRotating() bool { return s.rotation.Running() }
