package domain

import (
	"time"
)

// RoomStatus represents the lifecycle state of a support conversation.
// Transitions are monotonic: waiting -> active -> closed. Closed is terminal.
type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusActive  RoomStatus = "active"
	RoomStatusClosed  RoomStatus = "closed"
)

// Open reports whether the room still accepts messages and joins.
func (s RoomStatus) Open() bool {
	return s == RoomStatusWaiting || s == RoomStatusActive
}

// AdminEntry is one staff member's participation record in a room.
// The roster keeps one entry per admin forever; leaving only flips IsActive.
type AdminEntry struct {
	AdminID  string    `json:"admin_id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
	IsActive bool      `json:"is_active"`
}

// Rating is the end-user's one-time score for a closed conversation.
type Rating struct {
	Score   int       `json:"score"`
	Comment string    `json:"comment,omitempty"`
	RatedAt time.Time `json:"rated_at"`
}

// ChatRoom is a single support conversation between one end-user and
// zero-or-more staff. Rooms are never hard-deleted.
type ChatRoom struct {
	ChatID        string       `json:"chat_id"`
	UserID        string       `json:"user_id"`
	UserName      string       `json:"user_name"`
	Topic         string       `json:"topic,omitempty"`
	Status        RoomStatus   `json:"status"`
	Admins        []AdminEntry `json:"admins"`
	LastMessage   string       `json:"last_message,omitempty"`
	LastMessageAt *time.Time   `json:"last_message_at,omitempty"`
	MessageCount  int          `json:"message_count"`
	UnreadCount   int          `json:"unread_count"`
	Rating        *Rating      `json:"rating,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
}

// AdminEntry returns the roster entry for adminID, or nil.
func (r *ChatRoom) AdminEntry(adminID string) *AdminEntry {
	for i := range r.Admins {
		if r.Admins[i].AdminID == adminID {
			return &r.Admins[i]
		}
	}
	return nil
}

// HasActiveAdmin reports whether any roster entry is currently active.
func (r *ChatRoom) HasActiveAdmin() bool {
	for i := range r.Admins {
		if r.Admins[i].IsActive {
			return true
		}
	}
	return false
}

// CreateRoomRequest is the body of POST /rooms.
type CreateRoomRequest struct {
	Topic string `json:"topic" binding:"max=200"`
}

// CloseRoomRequest is the body of PUT /rooms/:id/close.
type CloseRoomRequest struct {
	Rating *RatingRequest `json:"rating"`
}

// RatingRequest carries an optional user rating on close.
type RatingRequest struct {
	Score   int    `json:"score" binding:"required,min=1,max=5"`
	Comment string `json:"comment" binding:"max=1000"`
}

// ListRoomsRequest represents the query of GET /rooms.
type ListRoomsRequest struct {
	Status string `form:"status"`
}

// ListRoomsResponse is the payload of GET /rooms.
type ListRoomsResponse struct {
	Rooms []ChatRoom `json:"rooms"`
	Total int        `json:"total"`
}

// StatusResponse is the payload of GET /status.
type StatusResponse struct {
	StaffOnline int  `json:"staff_online"`
	Available   bool `json:"available"`
}
