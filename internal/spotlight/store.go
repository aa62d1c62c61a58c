package spotlight

import (
	"github.com/google/uuid"
)

// Store holds the active spotlight slots and the waiting queue of one classroom.
// It is a synchronous state machine and is not safe for concurrent use; Session serializes access.
type Store struct {
	cfg       Config
	active    []Entry
	queue     []Entry
	listeners []Listener
	newID     func() uuid.UUID
}

// NewStore creates an empty store. Zero config fields fall back to DefaultConfig values.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = def.MaxActive
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = def.DefaultDuration
	}
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = def.RotationInterval
	}
	return &Store{cfg: cfg, newID: uuid.New}
}

// Config returns the store configuration.
func (s *Store) Config() Config { return s.cfg }

// OnEvent registers a listener called after every applied mutation.
func (s *Store) OnEvent(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Store) emit(ev Event) {
	for _, l := range s.listeners {
		l(ev)
	}
}

// Add admits a participant: into an active slot when one is free, otherwise to the queue tail.
// duration <= 0 uses the default duration; an empty priority means medium.
// All checks run before any mutation.
func (s *Store) Add(participantID uuid.UUID, kind Kind, reason string, duration int, priority Priority) (Entry, error) {
	if !kind.Valid() {
		return Entry{}, ErrInvalidKind
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return Entry{}, ErrInvalidPriority
	}
	if duration <= 0 {
		duration = s.cfg.DefaultDuration
	}
	if s.Contains(participantID) {
		return Entry{}, ErrDuplicateEntry
	}
	toActive := len(s.active) < s.cfg.MaxActive
	if !toActive && !s.cfg.QueueEnabled {
		return Entry{}, ErrCapacityExceeded
	}

	e := Entry{
		ID:               s.newID(),
		ParticipantID:    participantID,
		Kind:             kind,
		Priority:         priority,
		DurationSeconds:  duration,
		RemainingSeconds: duration,
		Reason:           reason,
	}
	if toActive {
		e.Active = true
		s.active = append(s.active, e)
	} else {
		e.QueuePosition = len(s.queue) + 1
		s.queue = append(s.queue, e)
	}
	added := e
	s.emit(Event{Kind: EventAdd, ParticipantID: participantID, Entry: &added})
	return e, nil
}

// Remove drops a participant from the spotlight. Freeing an active slot promotes the queue head.
func (s *Store) Remove(participantID uuid.UUID) error {
	return s.remove(participantID, false)
}

func (s *Store) remove(participantID uuid.UUID, expired bool) error {
	if i := indexOf(s.active, participantID); i >= 0 {
		removed := s.active[i]
		s.active = append(s.active[:i:i], s.active[i+1:]...)
		var promoted *Entry
		if len(s.queue) > 0 {
			next := activate(s.queue[0])
			s.queue = s.queue[1:]
			s.renumber()
			s.active = append(s.active, next)
			promoted = &next
		}
		s.emit(Event{Kind: EventRemove, ParticipantID: participantID, Entry: &removed, Promoted: promoted, Expired: expired})
		return nil
	}
	if i := indexOf(s.queue, participantID); i >= 0 {
		removed := s.queue[i]
		s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
		s.renumber()
		s.emit(Event{Kind: EventRemove, ParticipantID: participantID, Entry: &removed, Expired: expired})
		return nil
	}
	return ErrNotFound
}

// Extend adds seconds to an active entry's duration and remaining time. Queued entries are not extended.
func (s *Store) Extend(participantID uuid.UUID, seconds int) error {
	if seconds <= 0 {
		return ErrInvalidDuration
	}
	i := indexOf(s.active, participantID)
	if i < 0 {
		return ErrNotFound
	}
	s.active[i].DurationSeconds += seconds
	s.active[i].RemainingSeconds += seconds
	extended := s.active[i]
	s.emit(Event{Kind: EventExtend, ParticipantID: participantID, Entry: &extended})
	return nil
}

// Rotate swaps the front active entry with the front queued entry.
// The demoted entry goes to the queue tail, the promoted one to the active tail.
// It reports false and does nothing unless there are at least two active entries and a non-empty queue.
func (s *Store) Rotate() bool {
	if len(s.active) <= 1 || len(s.queue) == 0 {
		return false
	}
	demoted := s.active[0]
	demoted.Active = false
	demoted.RemainingSeconds = demoted.DurationSeconds
	promoted := activate(s.queue[0])

	active := make([]Entry, 0, len(s.active))
	active = append(active, s.active[1:]...)
	s.active = append(active, promoted)

	queue := make([]Entry, 0, len(s.queue))
	queue = append(queue, s.queue[1:]...)
	s.queue = append(queue, demoted)
	s.renumber()

	displaced := s.queue[len(s.queue)-1]
	s.emit(Event{Kind: EventRotate, ParticipantID: displaced.ParticipantID, Entry: &displaced, Promoted: &promoted})
	return true
}

// Tick counts every active entry down by one second and removes entries that reach zero.
// It returns the participants whose time expired, in active order.
func (s *Store) Tick() []uuid.UUID {
	var expired []uuid.UUID
	for i := range s.active {
		if s.active[i].RemainingSeconds > 0 {
			s.active[i].RemainingSeconds--
		}
		if s.active[i].RemainingSeconds == 0 {
			expired = append(expired, s.active[i].ParticipantID)
		}
	}
	for _, id := range expired {
		_ = s.remove(id, true)
	}
	return expired
}

// Contains reports whether the participant is active or queued.
func (s *Store) Contains(participantID uuid.UUID) bool {
	return indexOf(s.active, participantID) >= 0 || indexOf(s.queue, participantID) >= 0
}

// Get returns the participant's entry, active or queued.
func (s *Store) Get(participantID uuid.UUID) (Entry, bool) {
	if i := indexOf(s.active, participantID); i >= 0 {
		return s.active[i], true
	}
	if i := indexOf(s.queue, participantID); i >= 0 {
		return s.queue[i], true
	}
	return Entry{}, false
}

// Snapshot returns copies of the active and queue collections.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Active: make([]Entry, len(s.active)),
		Queue:  make([]Entry, len(s.queue)),
	}
	copy(snap.Active, s.active)
	copy(snap.Queue, s.queue)
	return snap
}

func (s *Store) renumber() {
	for i := range s.queue {
		s.queue[i].QueuePosition = i + 1
	}
}

func activate(e Entry) Entry {
	e.Active = true
	e.QueuePosition = 0
	e.RemainingSeconds = e.DurationSeconds
	return e
}

func indexOf(entries []Entry, participantID uuid.UUID) int {
	for i := range entries {
		if entries[i].ParticipantID == participantID {
			return i
		}
	}
	return -1
}
