package realtime

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// AudienceChangeHandler is called when the connection count of a classroom changes (e.g. for peak tracking).
type AudienceChangeHandler func(classroomID uuid.UUID, count int)

// Inbound is a client event routed to a registered EventHandler.
type Inbound struct {
	ClassroomID uuid.UUID
	UserID      uuid.UUID
	Role        models.Role
	Event       string
	Data        json.RawMessage
	// Reply sends an event back to the originating connection only.
	Reply func(event string, payload interface{})
}

// EventHandler handles one client event type (e.g. whiteboard strokes).
type EventHandler func(in Inbound)

type rosterEntry struct {
	participant models.Participant
	conns       int
}

// Hub maintains classroom_id -> set of connections, the live roster of each classroom, and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// classroomID -> map[clientID]*Client
	classrooms map[uuid.UUID]map[string]*Client
	rosters    map[uuid.UUID]map[uuid.UUID]*rosterEntry
	subs       map[uuid.UUID]func() // cancel Redis subscription per classroom
	handlers   map[string]EventHandler
	mu         sync.RWMutex
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
	onAudience AudienceChangeHandler
	onJoin     func(classroomID, userID uuid.UUID)
	onLeave    func(classroomID, userID uuid.UUID, joinedAt time.Time)
	onClients  func(total int)
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishClassroomEvent(classroomID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to classroom channels and invokes handler for events from other instances.
type RedisSubscriber interface {
	SubscribeClassroom(classroomID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil (single instance).
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		classrooms: make(map[uuid.UUID]map[string]*Client),
		rosters:    make(map[uuid.UUID]map[uuid.UUID]*rosterEntry),
		subs:       make(map[uuid.UUID]func()),
		handlers:   make(map[string]EventHandler),
		logger:     logger,
		redis:      redisPub,
		redisSub:   redisSub,
	}
}

// SetAudienceChangeHandler sets the callback for connection count changes (e.g. peak attendees).
func (h *Hub) SetAudienceChangeHandler(fn AudienceChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAudience = fn
}

// SetSessionLogger sets callbacks for a user's first connection to and last disconnection from a classroom.
func (h *Hub) SetSessionLogger(onJoin func(classroomID, userID uuid.UUID), onLeave func(classroomID, userID uuid.UUID, joinedAt time.Time)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onJoin = onJoin
	h.onLeave = onLeave
}

// SetClientCountHandler sets a callback with the total connection count across classrooms.
func (h *Hub) SetClientCountHandler(fn func(total int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClients = fn
}

// Handle routes client events named event to fn. Register handlers before serving connections.
func (h *Hub) Handle(event string, fn EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = fn
}

func (h *Hub) handler(event string) (EventHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.handlers[event]
	return fn, ok
}

// Register adds a client to a classroom and to its roster. Starts Redis subscription for this classroom if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.classrooms[c.ClassroomID] == nil {
		h.classrooms[c.ClassroomID] = make(map[string]*Client)
		h.rosters[c.ClassroomID] = make(map[uuid.UUID]*rosterEntry)
		if h.redisSub != nil {
			classroomID := c.ClassroomID
			cancel, err := h.redisSub.SubscribeClassroom(classroomID, func(event string, payload []byte) {
				h.BroadcastToClassroom(classroomID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
			} else {
				h.subs[classroomID] = cancel
			}
		}
	}
	h.classrooms[c.ClassroomID][c.ID] = c

	roster := h.rosters[c.ClassroomID]
	entry, ok := roster[c.UserID]
	firstJoin := !ok
	if firstJoin {
		entry = &rosterEntry{participant: models.Participant{
			ID:                c.UserID,
			DisplayName:       c.DisplayName,
			Role:              models.ParticipantRoleFor(c.Role),
			Present:           true,
			ConnectionQuality: models.QualityUnknown,
			JoinedAt:          c.JoinedAt,
		}}
		roster[c.UserID] = entry
	}
	entry.conns++
	participant := entry.participant

	count := len(h.classrooms[c.ClassroomID])
	total := h.totalLocked()
	onAudience, onJoin, onClients := h.onAudience, h.onJoin, h.onClients
	h.mu.Unlock()

	if onAudience != nil {
		onAudience(c.ClassroomID, count)
	}
	if onClients != nil {
		onClients(total)
	}
	if firstJoin {
		if onJoin != nil {
			onJoin(c.ClassroomID, c.UserID)
		}
		h.BroadcastToClassroomAndPublish(c.ClassroomID, "participant_joined", participant)
	}
	h.logger.Debug("client joined classroom", zap.String("client_id", c.ID), zap.String("classroom_id", c.ClassroomID.String()))
}

// Unregister removes a client from a classroom. The participant leaves the roster with their last connection.
// Cancels Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	var left bool
	var joinedAt time.Time
	m := h.classrooms[c.ClassroomID]
	if _, registered := m[c.ID]; !registered {
		h.mu.Unlock()
		return
	}
	delete(m, c.ID)
	count = len(m)
	if entry, ok := h.rosters[c.ClassroomID][c.UserID]; ok {
		entry.conns--
		if entry.conns <= 0 {
			delete(h.rosters[c.ClassroomID], c.UserID)
			left = true
			joinedAt = entry.participant.JoinedAt
		}
	}
	if count == 0 {
		delete(h.classrooms, c.ClassroomID)
		delete(h.rosters, c.ClassroomID)
		if cancel, ok := h.subs[c.ClassroomID]; ok {
			cancel()
			delete(h.subs, c.ClassroomID)
		}
	}
	total := h.totalLocked()
	onAudience, onLeave, onClients := h.onAudience, h.onLeave, h.onClients
	h.mu.Unlock()

	if onAudience != nil {
		onAudience(c.ClassroomID, count)
	}
	if onClients != nil {
		onClients(total)
	}
	if left {
		if onLeave != nil {
			onLeave(c.ClassroomID, c.UserID, joinedAt)
		}
		h.BroadcastToClassroomAndPublish(c.ClassroomID, "participant_left", map[string]string{"user_id": c.UserID.String()})
	}
	h.logger.Debug("client left classroom", zap.String("client_id", c.ID), zap.String("classroom_id", c.ClassroomID.String()))
}

func (h *Hub) totalLocked() int {
	n := 0
	for _, m := range h.classrooms {
		n += len(m)
	}
	return n
}

// BroadcastToClassroom sends a message to all clients in a classroom (local only).
func (h *Hub) BroadcastToClassroom(classroomID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal broadcast payload", zap.Error(err), zap.String("event", event))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.classrooms[classroomID]))
	for _, c := range h.classrooms[classroomID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastToClassroomAndPublish sends to local clients and publishes to Redis for other instances.
func (h *Hub) BroadcastToClassroomAndPublish(classroomID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal broadcast payload", zap.Error(err), zap.String("event", event))
		return
	}
	h.BroadcastToClassroom(classroomID, event, json.RawMessage(data))
	if h.redis != nil {
		if err := h.redis.PublishClassroomEvent(classroomID, event, data); err != nil {
			h.logger.Debug("redis publish failed", zap.Error(err), zap.String("event", event))
		}
	}
}

// AudienceCount returns the number of connected clients in a classroom.
func (h *Hub) AudienceCount(classroomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.classrooms[classroomID])
}

// SendToClient sends a message to a single client in a classroom (for WebRTC signaling and replies).
func (h *Hub) SendToClient(classroomID uuid.UUID, clientID string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	c, ok := h.classrooms[classroomID][clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// HasParticipant reports whether the user is connected to the classroom on this instance.
func (h *Hub) HasParticipant(classroomID, participantID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rosters[classroomID][participantID]
	return ok
}

// Participant returns the roster entry of one user.
func (h *Hub) Participant(classroomID, participantID uuid.UUID) (models.Participant, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.rosters[classroomID][participantID]
	if !ok {
		return models.Participant{}, false
	}
	return entry.participant, true
}

// Participants returns the roster ordered by join time.
func (h *Hub) Participants(classroomID uuid.UUID) []models.Participant {
	h.mu.RLock()
	list := make([]models.Participant, 0, len(h.rosters[classroomID]))
	for _, entry := range h.rosters[classroomID] {
		list = append(list, entry.participant)
	}
	h.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	return list
}

// RaisedHands returns participants with a raised hand, longest waiting first.
func (h *Hub) RaisedHands(classroomID uuid.UUID) []models.Participant {
	var out []models.Participant
	for _, p := range h.Participants(classroomID) {
		if p.HandRaised {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HandRaisedAt == nil || out[j].HandRaisedAt == nil {
			return out[j].HandRaisedAt == nil && out[i].HandRaisedAt != nil
		}
		return out[i].HandRaisedAt.Before(*out[j].HandRaisedAt)
	})
	return out
}

// UpdateParticipant applies fn to the roster entry under the hub lock and broadcasts participant_updated
// when the entry changed. It returns ErrNotInRoster when the user is not connected.
func (h *Hub) UpdateParticipant(classroomID, participantID uuid.UUID, fn func(p *models.Participant) error) (models.Participant, error) {
	h.mu.Lock()
	entry, ok := h.rosters[classroomID][participantID]
	if !ok {
		h.mu.Unlock()
		return models.Participant{}, ErrNotInRoster
	}
	before := entry.participant
	updated := before
	if err := fn(&updated); err != nil {
		h.mu.Unlock()
		return before, err
	}
	entry.participant = updated
	h.mu.Unlock()

	if !sameParticipant(before, updated) {
		h.BroadcastToClassroomAndPublish(classroomID, "participant_updated", updated)
	}
	return updated, nil
}

func sameParticipant(a, b models.Participant) bool {
	if (a.HandRaisedAt == nil) != (b.HandRaisedAt == nil) {
		return false
	}
	if a.HandRaisedAt != nil && !a.HandRaisedAt.Equal(*b.HandRaisedAt) {
		return false
	}
	a.HandRaisedAt, b.HandRaisedAt = nil, nil
	return a == b
}
