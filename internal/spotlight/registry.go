package spotlight

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry holds running spotlight sessions per classroom (thread-safe).
type Registry struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	notifiers []Notifier
	logger    *zap.Logger
	onCount   func(n int)
}

// NewRegistry creates a registry whose sessions report to the given notifiers.
func NewRegistry(logger *zap.Logger, notifiers ...Notifier) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions:  make(map[uuid.UUID]*Session),
		notifiers: notifiers,
		logger:    logger,
	}
}

// SetCountHandler sets a callback invoked with the number of running sessions after each start/stop.
func (reg *Registry) SetCountHandler(fn func(n int)) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.onCount = fn
}

// Start returns the running session for classroomID, creating and starting one with cfg if none exists.
// created is false when a session was already running (cfg is then ignored).
func (reg *Registry) Start(classroomID uuid.UUID, cfg Config) (s *Session, created bool) {
	reg.mu.Lock()
	if existing := reg.sessions[classroomID]; existing != nil {
		reg.mu.Unlock()
		return existing, false
	}
	s = NewSession(classroomID, cfg, reg.logger, reg.notifiers...)
	reg.sessions[classroomID] = s
	n, onCount := len(reg.sessions), reg.onCount
	reg.mu.Unlock()

	s.Start()
	if onCount != nil {
		onCount(n)
	}
	return s, true
}

// Get returns the running session for classroomID.
func (reg *Registry) Get(classroomID uuid.UUID) (*Session, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s, ok := reg.sessions[classroomID]
	return s, ok
}

// Stop stops the session for classroomID and removes it from the registry.
func (reg *Registry) Stop(classroomID uuid.UUID) bool {
	reg.mu.Lock()
	s := reg.sessions[classroomID]
	delete(reg.sessions, classroomID)
	n, onCount := len(reg.sessions), reg.onCount
	reg.mu.Unlock()
	if s == nil {
		return false
	}
	s.Stop()
	if onCount != nil {
		onCount(n)
	}
	return true
}

// StopAll stops every running session (server shutdown).
func (reg *Registry) StopAll() {
	reg.mu.Lock()
	sessions := reg.sessions
	reg.sessions = make(map[uuid.UUID]*Session)
	onCount := reg.onCount
	reg.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
	}
	if onCount != nil {
		onCount(0)
	}
}

// OnAudience stops the classroom's session once nobody is connected. It matches the hub's audience callback.
func (reg *Registry) OnAudience(classroomID uuid.UUID, count int) {
	if count > 0 {
		return
	}
	if reg.Stop(classroomID) {
		reg.logger.Info("spotlight session stopped, classroom empty", zap.String("classroom_id", classroomID.String()))
	}
}

// OnLeave takes a participant who left the classroom out of the spotlight, promoting the next in queue.
// It matches the hub's leave callback.
func (reg *Registry) OnLeave(classroomID, participantID uuid.UUID, _ time.Time) {
	s, ok := reg.Get(classroomID)
	if !ok {
		return
	}
	err := s.Remove(participantID)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrSessionStopped) {
		reg.logger.Warn("remove departed participant failed", zap.Error(err),
			zap.String("classroom_id", classroomID.String()), zap.String("participant_id", participantID.String()))
	}
}

// Count returns the number of running sessions.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.sessions)
}
