package whiteboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/internal/realtime"
)

// Client events handled by the service.
const (
	EventStroke       = "whiteboard_stroke"
	EventUndo         = "whiteboard_undo"
	EventRedo         = "whiteboard_redo"
	EventClear        = "whiteboard_clear"
	EventSync         = "whiteboard_sync"
	EventStudentsDraw = "whiteboard_students_draw"
)

var ErrNotAllowed = errors.New("not allowed to draw")

// Router registers client event handlers (implemented by realtime.Hub).
type Router interface {
	Handle(event string, fn realtime.EventHandler)
}

// Broadcaster is implemented by realtime.Hub.
type Broadcaster interface {
	BroadcastToClassroomAndPublish(classroomID uuid.UUID, event string, payload interface{})
}

// Service owns the boards of all classrooms on this instance and persists them after every change.
type Service struct {
	mu         sync.Mutex
	boards     map[uuid.UUID]*boardEntry
	maxStrokes int
	store      SnapshotStore
	hub        Broadcaster
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a whiteboard service. store may be nil (boards live only in memory).
func NewService(maxStrokes int, store SnapshotStore, hub Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		boards:     make(map[uuid.UUID]*boardEntry),
		maxStrokes: maxStrokes,
		store:      store,
		hub:        hub,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register routes whiteboard_* client events to the service.
func (s *Service) Register(r Router) {
	r.Handle(EventStroke, s.handleStroke)
	r.Handle(EventUndo, s.handleHistory)
	r.Handle(EventRedo, s.handleHistory)
	r.Handle(EventClear, s.handleClear)
	r.Handle(EventSync, s.handleSync)
	r.Handle(EventStudentsDraw, s.handleStudentsDraw)
}

type boardEntry struct {
	board *Board
	load  sync.Once
}

// Board returns the board of a classroom, loading its snapshot on first use.
func (s *Service) Board(ctx context.Context, classroomID uuid.UUID) *Board {
	s.mu.Lock()
	e, ok := s.boards[classroomID]
	if !ok {
		e = &boardEntry{board: NewBoard(classroomID, s.maxStrokes)}
		s.boards[classroomID] = e
	}
	s.mu.Unlock()
	e.load.Do(func() {
		if s.store == nil {
			return
		}
		snap, found, err := s.store.Load(ctx, classroomID)
		if err != nil {
			s.logger.Warn("load whiteboard failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
			return
		}
		if found {
			e.board.Restore(snap)
		}
	})
	return e.board
}

// Drop forgets the in-memory board of a classroom.
func (s *Service) Drop(classroomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boards, classroomID)
}

func mayDraw(role models.Role, b *Board) bool {
	return models.ParticipantRoleFor(role) == models.ParticipantTeacher ||
		(role == models.RoleStudent && b.StudentsDraw())
}

func isTeacher(role models.Role) bool {
	return models.ParticipantRoleFor(role) == models.ParticipantTeacher
}

func (s *Service) handleStroke(in realtime.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := s.Board(ctx, in.ClassroomID)
	if !mayDraw(in.Role, b) {
		replyError(in, ErrNotAllowed)
		return
	}
	var st Stroke
	if err := json.Unmarshal(in.Data, &st); err != nil {
		replyError(in, ErrInvalidStroke)
		return
	}
	st.AuthorID = in.UserID
	added, err := b.Add(st, s.now())
	if err != nil {
		replyError(in, err)
		return
	}
	s.hub.BroadcastToClassroomAndPublish(in.ClassroomID, EventStroke, added)
	s.persist(ctx, b)
}

func (s *Service) handleHistory(in realtime.Inbound) {
	if !isTeacher(in.Role) {
		replyError(in, ErrNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := s.Board(ctx, in.ClassroomID)
	var err error
	if in.Event == EventUndo {
		err = b.Undo()
	} else {
		err = b.Redo()
	}
	if err != nil {
		replyError(in, err)
		return
	}
	s.broadcastState(ctx, b)
}

func (s *Service) handleClear(in realtime.Inbound) {
	if !isTeacher(in.Role) {
		replyError(in, ErrNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := s.Board(ctx, in.ClassroomID)
	b.Clear()
	s.broadcastState(ctx, b)
}

func (s *Service) handleStudentsDraw(in realtime.Inbound) {
	if !isTeacher(in.Role) {
		replyError(in, ErrNotAllowed)
		return
	}
	var payload struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(in.Data, &payload); err != nil {
		replyError(in, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := s.Board(ctx, in.ClassroomID)
	b.SetStudentsDraw(payload.Allowed)
	s.broadcastState(ctx, b)
}

func (s *Service) handleSync(in realtime.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in.Reply("whiteboard_state", s.Board(ctx, in.ClassroomID).Snapshot())
}

func (s *Service) broadcastState(ctx context.Context, b *Board) {
	snap := b.Snapshot()
	s.hub.BroadcastToClassroomAndPublish(snap.ClassroomID, "whiteboard_state", snap)
	s.save(ctx, snap)
}

func (s *Service) persist(ctx context.Context, b *Board) {
	s.save(ctx, b.Snapshot())
}

func (s *Service) save(ctx context.Context, snap Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, snap); err != nil {
		s.logger.Warn("save whiteboard failed", zap.Error(err), zap.String("classroom_id", snap.ClassroomID.String()))
	}
}

func replyError(in realtime.Inbound, err error) {
	if in.Reply != nil {
		in.Reply("error", map[string]string{"event": in.Event, "message": err.Error()})
	}
}
