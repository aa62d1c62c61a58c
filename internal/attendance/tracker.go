package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/models"
)

// SessionStore is the persistence the Tracker writes to (implemented by Repository).
type SessionStore interface {
	LogJoin(ctx context.Context, classroomID, userID uuid.UUID, at time.Time) error
	LogLeave(ctx context.Context, classroomID, userID uuid.UUID, at time.Time) error
	GetOrCreateActiveSession(ctx context.Context, classroomID uuid.UUID) (*models.ClassSession, error)
	UpdatePeak(ctx context.Context, sessionID uuid.UUID, peak int) error
	IncrementSpotlightEvents(ctx context.Context, sessionID uuid.UUID) error
	EndSession(ctx context.Context, sessionID uuid.UUID) error
}

type liveSession struct {
	id   uuid.UUID
	peak int
}

// Tracker turns hub connection callbacks into session logs and class session stats.
// A class session opens with the first connection to a classroom and ends when the last one leaves.
type Tracker struct {
	store   SessionStore
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	live map[uuid.UUID]*liveSession
}

// NewTracker creates a tracker writing to store.
func NewTracker(store SessionStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:   store,
		logger:  logger,
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
		live:    make(map[uuid.UUID]*liveSession),
	}
}

func (t *Tracker) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), t.timeout)
}

// OnJoin logs a user's first connection to a classroom.
func (t *Tracker) OnJoin(classroomID, userID uuid.UUID) {
	ctx, cancel := t.ctx()
	defer cancel()
	if err := t.store.LogJoin(ctx, classroomID, userID, t.now()); err != nil {
		t.logger.Warn("log join failed", zap.Error(err), zap.String("classroom_id", classroomID.String()), zap.String("user_id", userID.String()))
	}
}

// OnLeave closes the user's open session log.
func (t *Tracker) OnLeave(classroomID, userID uuid.UUID, _ time.Time) {
	ctx, cancel := t.ctx()
	defer cancel()
	if err := t.store.LogLeave(ctx, classroomID, userID, t.now()); err != nil {
		t.logger.Warn("log leave failed", zap.Error(err), zap.String("classroom_id", classroomID.String()), zap.String("user_id", userID.String()))
	}
}

// OnAudience tracks the peak connection count and ends the class session when the room empties.
func (t *Tracker) OnAudience(classroomID uuid.UUID, count int) {
	ctx, cancel := t.ctx()
	defer cancel()
	if count == 0 {
		t.mu.Lock()
		ls := t.live[classroomID]
		delete(t.live, classroomID)
		t.mu.Unlock()
		if ls != nil {
			if err := t.store.EndSession(ctx, ls.id); err != nil {
				t.logger.Warn("end class session failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
			}
		}
		return
	}
	ls, err := t.session(ctx, classroomID)
	if err != nil {
		t.logger.Warn("class session lookup failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
		return
	}
	t.mu.Lock()
	raise := count > ls.peak
	if raise {
		ls.peak = count
	}
	t.mu.Unlock()
	if raise {
		if err := t.store.UpdatePeak(ctx, ls.id, count); err != nil {
			t.logger.Warn("update peak failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
		}
	}
}

// CountSpotlightEvent adds one spotlight change to the classroom's live session, if any.
func (t *Tracker) CountSpotlightEvent(classroomID uuid.UUID) {
	t.mu.Lock()
	ls := t.live[classroomID]
	t.mu.Unlock()
	if ls == nil {
		return
	}
	ctx, cancel := t.ctx()
	defer cancel()
	if err := t.store.IncrementSpotlightEvents(ctx, ls.id); err != nil {
		t.logger.Warn("count spotlight event failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
	}
}

func (t *Tracker) session(ctx context.Context, classroomID uuid.UUID) (*liveSession, error) {
	t.mu.Lock()
	ls := t.live[classroomID]
	t.mu.Unlock()
	if ls != nil {
		return ls, nil
	}
	s, err := t.store.GetOrCreateActiveSession(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing := t.live[classroomID]; existing != nil {
		return existing, nil
	}
	ls = &liveSession{id: s.ID, peak: s.PeakAttendees}
	t.live[classroomID] = ls
	return ls, nil
}
