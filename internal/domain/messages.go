package domain

import "time"

// WebSocket message types from client.
const (
	MsgTypeJoinRoom    = "join_room"
	MsgTypeLeaveRoom   = "leave_room"
	MsgTypeSendMessage = "send_message"
	MsgTypeMarkRead    = "mark_read"
	MsgTypeTypingStart = "typing_start"
	MsgTypeTypingStop  = "typing_stop"
	MsgTypeCloseRoom   = "close_room"
	MsgTypePing        = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeConnected       = "connected"
	MsgTypeRoomJoined      = "room_joined"
	MsgTypeMessageNew      = "message_new"
	MsgTypeMessageRead     = "message_read"
	MsgTypeTypingIndicator = "typing_indicator"
	MsgTypeRoomClosed      = "room_closed"
	MsgTypeAdminJoined     = "admin_joined"
	MsgTypeAdminLeft       = "admin_left"
	MsgTypePresenceChanged = "presence_changed"
	MsgTypeQueueMessage    = "queue_message"
	MsgTypeQueueChanged    = "queue_changed"
	MsgTypeError           = "error"
	MsgTypePong            = "pong"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeRoomClosed    = "ROOM_CLOSED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinRoomMessage struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

type LeaveRoomMessage struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

type SendMessageMessage struct {
	Type        string `json:"type"`
	ChatID      string `json:"chat_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

type MarkReadMessage struct {
	Type       string   `json:"type"`
	ChatID     string   `json:"chat_id"`
	MessageIDs []string `json:"message_ids,omitempty"`
}

type TypingMessage struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

type CloseRoomMessage struct {
	Type   string         `json:"type"`
	ChatID string         `json:"chat_id"`
	Rating *RatingRequest `json:"rating,omitempty"`
}

// Server -> Client messages

type ConnectedMessage struct {
	Type        string `json:"type"`
	IdentityID  string `json:"identity_id"`
	Name        string `json:"name"`
	IsAdmin     bool   `json:"is_admin"`
	StaffOnline int    `json:"staff_online"`
}

type RoomJoinedMessage struct {
	Type     string        `json:"type"`
	Room     *ChatRoom     `json:"room"`
	Messages []ChatMessage `json:"messages"`
}

type MessageNewMessage struct {
	Type    string       `json:"type"`
	Message *ChatMessage `json:"message"`
}

type MessageReadMessage struct {
	Type     string    `json:"type"`
	ChatID   string    `json:"chat_id"`
	ReaderID string    `json:"reader_id"`
	ReadAt   time.Time `json:"read_at"`
}

type TypingIndicatorMessage struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

type RoomClosedMessage struct {
	Type     string  `json:"type"`
	ChatID   string  `json:"chat_id"`
	ClosedBy string  `json:"closed_by"`
	Rating   *Rating `json:"rating,omitempty"`
}

type AdminEventMessage struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	AdminID   string `json:"admin_id"`
	AdminName string `json:"admin_name"`
}

type PresenceChangedMessage struct {
	Type        string `json:"type"`
	IdentityID  string `json:"identity_id"`
	Online      bool   `json:"online"`
	StaffOnline int    `json:"staff_online"`
}

type QueueMessageMessage struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	Excerpt  string `json:"excerpt"`
	UserName string `json:"user_name"`
}

type QueueChangedMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
