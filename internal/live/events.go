package live

import (
	"time"

	"vidloop-live/internal/models"
)

// EventType enumerates the session events flowing through the persistence
// queue.
type EventType string

const (
	// EventTypeSessionStarted marks a broadcaster going live.
	EventTypeSessionStarted EventType = "session_started"
	// EventTypeSessionEnded marks a session teardown.
	EventTypeSessionEnded EventType = "session_ended"
	// EventTypeComment represents a chat comment posted into a live room.
	EventTypeComment EventType = "comment"
	// EventTypeGift represents a delivered virtual gift.
	EventTypeGift EventType = "gift"
)

// Event is the wire representation forwarded to the persistence queue.
type Event struct {
	Type       EventType          `json:"type"`
	Session    *SessionEvent      `json:"session,omitempty"`
	Comment    *CommentRecord     `json:"comment,omitempty"`
	Gift       *models.GiftRecord `json:"gift,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// SessionEvent transports session lifecycle changes.
type SessionEvent struct {
	SessionID     string    `json:"liveId"`
	BroadcasterID string    `json:"broadcasterId"`
	Title         string    `json:"title"`
	Viewers       int       `json:"viewers"`
	Likes         int       `json:"likes"`
	Diamonds      int       `json:"diamonds"`
	At            time.Time `json:"at"`
}

// CommentRecord is a chat comment delivered into a live room. Rooms retain a
// bounded tail of these for late joiners; they are not persisted beyond the
// session.
type CommentRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"liveId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
