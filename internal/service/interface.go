package service

import (
	"context"

	"github.com/openclass/support-chat/internal/domain"
	"github.com/openclass/support-chat/internal/hub"
)

// SupportService handles realtime room commands from live connections.
type SupportService interface {
	HandleJoinRoom(ctx context.Context, client *hub.Client, chatID string) error
	HandleLeaveRoom(ctx context.Context, client *hub.Client, chatID string) error
	HandleSendMessage(ctx context.Context, client *hub.Client, chatID, content, messageType string) error
	HandleMarkRead(ctx context.Context, client *hub.Client, chatID string, messageIDs []string) error
	HandleTyping(ctx context.Context, client *hub.Client, chatID string, typing bool) error
	HandleCloseRoom(ctx context.Context, client *hub.Client, chatID string, rating *domain.RatingRequest) error
	HandleDisconnect(ctx context.Context, client *hub.Client) error
}

// QueryService is the synchronous fallback surface for clients without a
// live connection.
type QueryService interface {
	CreateRoom(ctx context.Context, identity domain.Identity, topic string) (*domain.ChatRoom, error)
	ListRooms(ctx context.Context, identity domain.Identity, status string) (*domain.ListRoomsResponse, error)
	GetHistory(ctx context.Context, identity domain.Identity, chatID string, limit int) ([]domain.ChatMessage, error)
	CloseRoom(ctx context.Context, identity domain.Identity, chatID string, rating *domain.RatingRequest) (*domain.ChatRoom, error)
	Status(ctx context.Context) *domain.StatusResponse
}
