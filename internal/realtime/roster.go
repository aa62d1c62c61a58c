package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kinderly/liveclass/internal/models"
)

var (
	ErrNotInRoster     = errors.New("participant not in classroom")
	ErrInvalidPresence = errors.New("invalid presence payload")
	ErrNotAllowed      = errors.New("not allowed")
)

// Presence events sent by clients to update their own roster entry.
const (
	EventHandRaise         = "hand_raise"
	EventHandLower         = "hand_lower"
	EventToggleAudio       = "toggle_audio"
	EventToggleVideo       = "toggle_video"
	EventConnectionQuality = "connection_quality"
)

type togglePayload struct {
	On *bool `json:"on"`
}

type qualityPayload struct {
	Quality models.ConnectionQuality `json:"quality"`
}

type handLowerPayload struct {
	UserID string `json:"user_id"` // teacher lowering a student's hand
}

func isPresenceEvent(event string) bool {
	switch event {
	case EventHandRaise, EventHandLower, EventToggleAudio, EventToggleVideo, EventConnectionQuality:
		return true
	}
	return false
}

// applyPresence mutates p for one presence event.
func applyPresence(p *models.Participant, event string, data json.RawMessage, now time.Time) error {
	switch event {
	case EventHandRaise:
		if !p.HandRaised {
			p.HandRaised = true
			p.HandRaisedAt = &now
		}
	case EventHandLower:
		p.HandRaised = false
		p.HandRaisedAt = nil
	case EventToggleAudio, EventToggleVideo:
		var t togglePayload
		if len(data) > 0 {
			if err := json.Unmarshal(data, &t); err != nil {
				return ErrInvalidPresence
			}
		}
		target := &p.AudioOn
		if event == EventToggleVideo {
			target = &p.VideoOn
		}
		if t.On != nil {
			*target = *t.On
		} else {
			*target = !*target
		}
	case EventConnectionQuality:
		var q qualityPayload
		if err := json.Unmarshal(data, &q); err != nil || !q.Quality.Valid() {
			return ErrInvalidPresence
		}
		p.ConnectionQuality = q.Quality
	default:
		return ErrInvalidPresence
	}
	return nil
}

// presenceTarget returns whose roster entry a presence event updates. Only teachers may lower someone else's hand.
func presenceTarget(sender uuid.UUID, role models.Role, event string, data json.RawMessage) (uuid.UUID, error) {
	if event != EventHandLower || len(data) == 0 {
		return sender, nil
	}
	var hl handLowerPayload
	if err := json.Unmarshal(data, &hl); err != nil || hl.UserID == "" {
		return sender, nil
	}
	target, err := uuid.Parse(hl.UserID)
	if err != nil {
		return uuid.Nil, ErrInvalidPresence
	}
	if target != sender && models.ParticipantRoleFor(role) != models.ParticipantTeacher {
		return uuid.Nil, ErrNotAllowed
	}
	return target, nil
}

// ApplyPresence updates the roster for a presence event sent by sender and broadcasts the change.
func (h *Hub) ApplyPresence(classroomID, sender uuid.UUID, role models.Role, event string, data json.RawMessage) (models.Participant, error) {
	target, err := presenceTarget(sender, role, event, data)
	if err != nil {
		return models.Participant{}, err
	}
	now := time.Now().UTC()
	return h.UpdateParticipant(classroomID, target, func(p *models.Participant) error {
		return applyPresence(p, event, data, now)
	})
}
