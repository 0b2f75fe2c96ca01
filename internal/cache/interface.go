package cache

import (
	"context"
	"errors"
	"time"

	"github.com/openclass/support-chat/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache is the read-side cache for room snapshots and recent history
// windows. Implementations must tolerate being skipped entirely; callers
// treat every cache error as a miss.
type Cache interface {
	GetRoom(ctx context.Context, chatID string) (*domain.ChatRoom, error)
	SetRoom(ctx context.Context, room *domain.ChatRoom, ttl time.Duration) error
	InvalidateRoom(ctx context.Context, chatID string) error

	GetHistory(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error)
	SetHistory(ctx context.Context, chatID string, limit int, messages []domain.ChatMessage, ttl time.Duration) error
	InvalidateHistory(ctx context.Context, chatID string) error

	Close() error
}
