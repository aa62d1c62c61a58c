package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity is the authenticated user behind a WebSocket connection.
type Identity struct {
	UserID      uuid.UUID
	Role        models.Role
	DisplayName string
}

// TokenValidator validates the token passed in the ws query string.
type TokenValidator func(token string) (Identity, error)

// Client represents a single WebSocket connection in a classroom.
type Client struct {
	ID          string
	ClassroomID uuid.UUID
	UserID      uuid.UUID
	DisplayName string
	Role        models.Role
	JoinedAt    time.Time // set on connect for session log
	hub         *Hub
	sfu         *SFU
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// ClassroomAccess answers whether a user teaches a classroom (implemented by classrooms.Repository).
type ClassroomAccess interface {
	IsTeacher(ctx context.Context, classroomID, userID uuid.UUID) (bool, error)
}

// classroomRole is the role a user holds inside one classroom. Teacher accounts that do not teach it
// join as observers; admins keep their role everywhere.
func classroomRole(ctx context.Context, access ClassroomAccess, classroomID uuid.UUID, id Identity) (models.Role, error) {
	if access == nil || id.Role == models.RoleAdmin || models.ParticipantRoleFor(id.Role) != models.ParticipantTeacher {
		return id.Role, nil
	}
	ok, err := access.IsTeacher(ctx, classroomID, id.UserID)
	if err != nil {
		return "", err
	}
	if !ok {
		return models.RoleObserver, nil
	}
	return id.Role, nil
}

// ServeWs handles the WebSocket upgrade and runs the client loop. access may be nil, in which case
// the token role applies in every classroom.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator, sfu *SFU, access ClassroomAccess) gin.HandlerFunc {
	return func(c *gin.Context) {
		classroomIDStr := c.Query("classroom_id")
		token := c.Query("token")
		if classroomIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "classroom_id and token required"})
			return
		}
		classroomID, err := uuid.Parse(classroomIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid classroom_id"})
			return
		}
		id, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		id.Role, err = classroomRole(c.Request.Context(), access, classroomID, id)
		if err != nil {
			logger.Error("classroom access check failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check classroom access"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			ClassroomID: classroomID,
			UserID:      id.UserID,
			DisplayName: id.DisplayName,
			Role:        id.Role,
			JoinedAt:    time.Now().UTC(),
			hub:         hub,
			sfu:         sfu,
			conn:        conn,
			send:        make(chan WSMessage, 256),
			logger:      logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) sendToMe(event string, payload interface{}) {
	c.hub.SendToClient(c.ClassroomID, c.ID, event, payload)
}

func (c *Client) readPump() {
	defer func() {
		if c.sfu != nil {
			c.sfu.UnregisterClient(c.ClassroomID, c.ID)
			if models.ParticipantRoleFor(c.Role) == models.ParticipantTeacher {
				c.sfu.ClosePublisherOf(c.ClassroomID, c.ID)
			}
		}
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg WSMessage) {
	switch {
	case msg.Event == "join":
		c.hub.BroadcastToClassroomAndPublish(c.ClassroomID, "audience_count", map[string]int{
			"count": c.hub.AudienceCount(c.ClassroomID),
		})
		c.sendToMe("participants", c.hub.Participants(c.ClassroomID))
	case isPresenceEvent(msg.Event):
		if _, err := c.hub.ApplyPresence(c.ClassroomID, c.UserID, c.Role, msg.Event, msg.Data); err != nil {
			code := "invalid_payload"
			if errors.Is(err, ErrNotAllowed) {
				code = "forbidden"
			} else if errors.Is(err, ErrNotInRoster) {
				code = "not_in_class"
			}
			c.sendToMe("error", map[string]string{"event": msg.Event, "message": code})
		}
	case strings.HasPrefix(msg.Event, "webrtc_"):
		if c.sfu == nil {
			c.sendToMe("webrtc_error", map[string]string{"message": "screen_share_disabled"})
			return
		}
		if err := c.signal(msg); err != nil {
			code := signalErrorCode(err)
			c.sendToMe("webrtc_error", map[string]string{"message": code})
			if code == "failed" {
				c.logger.Warn("screen share signalling failed", zap.String("event", msg.Event),
					zap.String("classroom_id", c.ClassroomID.String()), zap.Error(err))
			}
		}
	case msg.Event == "chat_message", msg.Event == "reaction":
		c.hub.BroadcastToClassroomAndPublish(c.ClassroomID, msg.Event, map[string]interface{}{
			"user_id": c.UserID.String(),
			"name":    c.DisplayName,
			"data":    msg.Data,
		})
	default:
		if fn, ok := c.hub.handler(msg.Event); ok {
			fn(Inbound{
				ClassroomID: c.ClassroomID,
				UserID:      c.UserID,
				Role:        c.Role,
				Event:       msg.Event,
				Data:        msg.Data,
				Reply:       c.sendToMe,
			})
		}
	}
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Target    string                  `json:"target"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

var errBadSignal = errors.New("malformed signalling payload")

// signal routes one WebRTC signalling message to the SFU.
func (c *Client) signal(msg WSMessage) error {
	switch msg.Event {
	case "webrtc_publisher_offer", "webrtc_subscriber_answer":
		var p sdpPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.SDP == "" {
			return errBadSignal
		}
		if msg.Event == "webrtc_publisher_offer" {
			offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
			return c.sfu.HandlePublisherOffer(c.ClassroomID, c.ID, c.Role, offer, c.sendToMe)
		}
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
		return c.sfu.HandleSubscriberAnswer(c.ClassroomID, c.ID, answer)
	case "webrtc_subscribe":
		return c.sfu.HandleSubscribe(c.ClassroomID, c.ID, c.sendToMe)
	case "webrtc_ice":
		var p icePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return errBadSignal
		}
		switch p.Target {
		case "publisher":
			return c.sfu.HandlePublisherICE(c.ClassroomID, c.ID, p.Candidate)
		case "subscriber":
			return c.sfu.HandleSubscriberICE(c.ClassroomID, c.ID, p.Candidate)
		}
		return errBadSignal
	}
	return errBadSignal
}

func signalErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotPresenter):
		return "forbidden"
	case errors.Is(err, ErrNoScreenShare):
		return "no_stream"
	case errors.Is(err, errBadSignal):
		return "invalid_payload"
	}
	return "failed"
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
