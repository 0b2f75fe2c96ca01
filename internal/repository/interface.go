package repository

import (
	"context"
	"errors"
	"time"

	"github.com/openclass/support-chat/internal/domain"
)

var ErrRoomNotFound = errors.New("room not found")

// Order is the sort direction for history reads.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// RoomUpdate is a partial-field update for a room row. Nil fields are left
// untouched. Counter fields carry absolute values; callers serialize
// read-modify-write per room.
type RoomUpdate struct {
	Status        *domain.RoomStatus
	LastMessage   *string
	LastMessageAt *time.Time
	MessageCount  *int
	UnreadCount   *int
	Rating        *domain.Rating
	ClosedAt      *time.Time
}

// RoomRepository is the durable store for rooms and their staff rosters.
type RoomRepository interface {
	Get(ctx context.Context, chatID string) (*domain.ChatRoom, error)
	Put(ctx context.Context, room *domain.ChatRoom) error
	Update(ctx context.Context, chatID string, upd RoomUpdate) error

	// FindOpenByUser returns the user's room with status waiting or active,
	// or ErrRoomNotFound when the user has none.
	FindOpenByUser(ctx context.Context, userID string) (*domain.ChatRoom, error)
	ListByUser(ctx context.Context, userID string) ([]domain.ChatRoom, error)
	// List returns rooms filtered by status; an empty status means all.
	List(ctx context.Context, status string, limit int) ([]domain.ChatRoom, error)

	// UpsertAdmin creates or replaces the roster entry keyed by AdminID.
	UpsertAdmin(ctx context.Context, chatID string, entry domain.AdminEntry) error
	SetAdminActive(ctx context.Context, chatID, adminID string, active bool) error

	Close() error
}

// MessageRepository is the append-only, per-room-ordered message store.
type MessageRepository interface {
	Append(ctx context.Context, msg *domain.ChatMessage) error
	// History returns up to limit messages of a room ordered by message id
	// (creation order) in the requested direction.
	History(ctx context.Context, chatID string, limit int, order Order) ([]domain.ChatMessage, error)

	Close() error
}
