package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openclass/support-chat/internal/audit"
	"github.com/openclass/support-chat/internal/domain"
	"github.com/openclass/support-chat/internal/repository"
	"github.com/openclass/support-chat/pkg/log"
)

const listLimit = 100

// CreateRoom returns the user's existing open room unchanged, or creates a
// new waiting room. Repeated create requests are idempotent.
func (s *Service) CreateRoom(ctx context.Context, identity domain.Identity, topic string) (*domain.ChatRoom, error) {
	unlock := s.lockUser(identity.ID)
	defer unlock()

	existing, err := s.rooms.FindOpenByUser(ctx, identity.ID)
	if err == nil {
		return existing, nil
	}
	if err != repository.ErrRoomNotFound {
		return nil, err
	}

	room := &domain.ChatRoom{
		ChatID:    uuid.New().String(),
		UserID:    identity.ID,
		UserName:  identity.Name,
		Topic:     topic,
		Status:    domain.RoomStatusWaiting,
		Admins:    []domain.AdminEntry{},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.rooms.Put(ctx, room); err != nil {
		return nil, err
	}

	s.hub.BroadcastToStaff(&domain.QueueChangedMessage{Type: domain.MsgTypeQueueChanged})

	audit.Log(ctx, audit.ActionCreateRoom, identity.ID, "created room "+room.ChatID)
	return room, nil
}

// ListRooms returns all rooms for staff (optionally filtered by status) and
// only the caller's own rooms for end-users.
func (s *Service) ListRooms(ctx context.Context, identity domain.Identity, status string) (*domain.ListRoomsResponse, error) {
	var (
		rooms []domain.ChatRoom
		err   error
	)
	if identity.IsAdmin {
		rooms, err = s.rooms.List(ctx, status, listLimit)
	} else {
		rooms, err = s.rooms.ListByUser(ctx, identity.ID)
		if err == nil && status != "" {
			filtered := rooms[:0]
			for _, room := range rooms {
				if string(room.Status) == status {
					filtered = append(filtered, room)
				}
			}
			rooms = filtered
		}
	}
	if err != nil {
		return nil, err
	}

	return &domain.ListRoomsResponse{Rooms: rooms, Total: len(rooms)}, nil
}

// GetHistory returns a room's messages ascending by creation. Authorization
// matches Join: the owner or any staff member.
func (s *Service) GetHistory(ctx context.Context, identity domain.Identity, chatID string, limit int) ([]domain.ChatMessage, error) {
	room, err := s.cachedRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !identity.IsAdmin && identity.ID != room.UserID {
		return nil, ErrForbidden
	}

	if limit <= 0 {
		limit = historyWindow
	}

	messages, err := s.messages.History(ctx, chatID, limit, repository.OrderAsc)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	return messages, nil
}

// CloseRoom closes a room through the same path as the realtime command, so
// it works without an open live connection.
func (s *Service) CloseRoom(ctx context.Context, identity domain.Identity, chatID string, rating *domain.RatingRequest) (*domain.ChatRoom, error) {
	return s.closeRoom(ctx, identity, chatID, rating)
}

// Status reports the current staff-online summary.
func (s *Service) Status(ctx context.Context) *domain.StatusResponse {
	count := s.presence.StaffCount()
	return &domain.StatusResponse{
		StaffOnline: count,
		Available:   count > 0,
	}
}

func (s *Service) cachedRoom(ctx context.Context, chatID string) (*domain.ChatRoom, error) {
	if s.cache != nil {
		if room, err := s.cache.GetRoom(ctx, chatID); err == nil {
			return room, nil
		}
	}

	room, err := s.getRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRoom(ctx, room, roomCacheTTL); err != nil {
			l := log.Ctx(ctx)
			l.Debug().Err(err).Msg("failed to cache room")
		}
	}
	return room, nil
}
