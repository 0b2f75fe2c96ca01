package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openclass/support-chat/internal/audit"
	"github.com/openclass/support-chat/internal/cache"
	"github.com/openclass/support-chat/internal/domain"
	"github.com/openclass/support-chat/internal/hub"
	"github.com/openclass/support-chat/internal/presence"
	"github.com/openclass/support-chat/internal/repository"
	"github.com/openclass/support-chat/pkg/log"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrForbidden     = errors.New("not a participant of this room")
	ErrNotInRoom     = errors.New("not subscribed to this room")
	ErrRoomClosed    = errors.New("room is closed")
	ErrEmptyMessage  = errors.New("message content is empty")
	ErrInvalidRating = errors.New("rating score must be between 1 and 5")
)

const (
	historyWindow = 50
	excerptLen    = 80

	roomCacheTTL    = 30 * time.Second
	historyCacheTTL = 10 * time.Second
)

// Service implements both SupportService (realtime commands) and
// QueryService (fallback HTTP surface) over the same room state machine.
type Service struct {
	hub      *hub.Hub
	presence *presence.Registry
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	cache    cache.Cache // optional; nil disables caching

	// Keyed mutexes serialize room mutations (roster upserts, counters,
	// close) and per-user room creation without ever holding a lock across
	// unrelated rooms or users.
	locks sync.Map
}

func NewService(
	h *hub.Hub,
	reg *presence.Registry,
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	c cache.Cache,
) *Service {
	return &Service{
		hub:      h,
		presence: reg,
		rooms:    rooms,
		messages: messages,
		cache:    c,
	}
}

func (s *Service) acquire(key string) func() {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) lockRoom(chatID string) func() {
	return s.acquire("room:" + chatID)
}

// lockUser serializes find-then-create so one user never ends up with two
// open rooms.
func (s *Service) lockUser(userID string) func() {
	return s.acquire("user:" + userID)
}

func (s *Service) HandleJoinRoom(ctx context.Context, c *hub.Client, chatID string) error {
	identity := c.Session.Identity

	unlock := s.lockRoom(chatID)
	room, err := s.getRoom(ctx, chatID)
	if err != nil {
		unlock()
		return err
	}

	if !identity.IsAdmin && identity.ID != room.UserID {
		unlock()
		return ErrForbidden
	}

	// Closed is terminal: staff may still subscribe to read the transcript,
	// but the roster and status never move again.
	adminJoin := identity.IsAdmin && room.Status.Open()

	if adminJoin {
		entry := room.AdminEntry(identity.ID)
		if entry == nil {
			entry = &domain.AdminEntry{
				AdminID:  identity.ID,
				Name:     identity.Name,
				JoinedAt: time.Now().UTC(),
			}
		}
		entry.IsActive = true
		if err := s.rooms.UpsertAdmin(ctx, chatID, *entry); err != nil {
			unlock()
			return fmt.Errorf("failed to upsert roster entry: %w", err)
		}

		if room.Status == domain.RoomStatusWaiting {
			active := domain.RoomStatusActive
			if err := s.rooms.Update(ctx, chatID, repository.RoomUpdate{Status: &active}); err != nil {
				unlock()
				return fmt.Errorf("failed to activate room: %w", err)
			}
		}
		s.invalidateRoom(ctx, chatID)
		room, err = s.rooms.Get(ctx, chatID)
		if err != nil {
			unlock()
			return s.mapRepoErr(err)
		}
	}
	unlock()

	s.hub.JoinRoom(c, chatID)
	c.Session.JoinRoom(chatID)

	history, err := s.recentHistory(ctx, chatID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldChatID, chatID).Msg("failed to load history on join")
		history = []domain.ChatMessage{}
	}

	c.SendMessage(&domain.RoomJoinedMessage{
		Type:     domain.MsgTypeRoomJoined,
		Room:     room,
		Messages: history,
	})

	if adminJoin {
		s.hub.BroadcastToRoom(chatID, &domain.AdminEventMessage{
			Type:      domain.MsgTypeAdminJoined,
			ChatID:    chatID,
			AdminID:   identity.ID,
			AdminName: identity.Name,
		}, "")
		s.hub.BroadcastToStaff(&domain.QueueChangedMessage{Type: domain.MsgTypeQueueChanged})
	}

	audit.Log(ctx, audit.ActionJoinRoom, identity.ID, "joined room "+chatID)
	return nil
}

// recentHistory returns the bounded recent window, most-recent-first fetched
// and reordered ascending for delivery.
func (s *Service) recentHistory(ctx context.Context, chatID string) ([]domain.ChatMessage, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetHistory(ctx, chatID, historyWindow); err == nil {
			return cached, nil
		}
	}

	recent, err := s.messages.History(ctx, chatID, historyWindow, repository.OrderDesc)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	if s.cache != nil {
		if err := s.cache.SetHistory(ctx, chatID, historyWindow, recent, historyCacheTTL); err != nil {
			l := log.Ctx(ctx)
			l.Debug().Err(err).Msg("failed to cache history")
		}
	}
	return recent, nil
}

func (s *Service) HandleLeaveRoom(ctx context.Context, c *hub.Client, chatID string) error {
	if !c.Session.InRoom(chatID) {
		return nil
	}

	s.hub.LeaveRoom(c, chatID)
	c.Session.LeaveRoom(chatID)

	return s.afterAdminLeft(ctx, c, chatID)
}

// afterAdminLeft flips the roster entry inactive and emits admin_left, but
// only when the identity's last connection has left the room.
func (s *Service) afterAdminLeft(ctx context.Context, c *hub.Client, chatID string) error {
	identity := c.Session.Identity
	if !identity.IsAdmin {
		return nil
	}
	if s.hub.IdentityInRoom(chatID, identity.ID, c.ID) {
		return nil
	}

	unlock := s.lockRoom(chatID)
	err := s.rooms.SetAdminActive(ctx, chatID, identity.ID, false)
	s.invalidateRoom(ctx, chatID)
	unlock()
	if err != nil {
		return fmt.Errorf("failed to deactivate roster entry: %w", err)
	}

	s.hub.BroadcastToRoom(chatID, &domain.AdminEventMessage{
		Type:      domain.MsgTypeAdminLeft,
		ChatID:    chatID,
		AdminID:   identity.ID,
		AdminName: identity.Name,
	}, "")
	s.hub.BroadcastToStaff(&domain.QueueChangedMessage{Type: domain.MsgTypeQueueChanged})

	audit.Log(ctx, audit.ActionLeaveRoom, identity.ID, "left room "+chatID)
	return nil
}

func (s *Service) HandleSendMessage(ctx context.Context, c *hub.Client, chatID, content, messageType string) error {
	identity := c.Session.Identity
	if !c.Session.InRoom(chatID) {
		return ErrNotInRoom
	}

	msgType := domain.MessageType(messageType)
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if msgType == domain.MessageTypeText && content == "" {
		return ErrEmptyMessage
	}

	unlock := s.lockRoom(chatID)
	defer unlock()

	room, err := s.getRoom(ctx, chatID)
	if err != nil {
		return err
	}
	if room.Status == domain.RoomStatusClosed {
		return ErrRoomClosed
	}

	role := domain.RoleUser
	if identity.IsAdmin {
		role = domain.RoleAdmin
	}

	now := time.Now().UTC()
	msgID, err := domain.NewMessageID(now)
	if err != nil {
		return fmt.Errorf("failed to generate message id: %w", err)
	}

	msg := &domain.ChatMessage{
		ChatID:     chatID,
		MessageID:  msgID,
		SenderID:   identity.ID,
		SenderName: identity.Name,
		SenderRole: role,
		Type:       msgType,
		Content:    content,
		CreatedAt:  now,
	}

	// Persist first; a store failure surfaces to the sender and nothing is
	// ever broadcast.
	if err := s.messages.Append(ctx, msg); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	count := room.MessageCount + 1
	upd := repository.RoomUpdate{
		LastMessage:   &msg.Content,
		LastMessageAt: &now,
		MessageCount:  &count,
	}
	if identity.ID == room.UserID {
		unread := room.UnreadCount + 1
		upd.UnreadCount = &unread
	}
	if err := s.rooms.Update(ctx, chatID, upd); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldChatID, chatID).Msg("failed to update room after send")
	}
	s.invalidateRoom(ctx, chatID)

	s.hub.BroadcastToRoom(chatID, &domain.MessageNewMessage{
		Type:    domain.MsgTypeMessageNew,
		Message: msg,
	}, "")

	if identity.ID == room.UserID && !s.hub.RoomHasStaff(chatID) {
		s.hub.BroadcastToStaff(&domain.QueueMessageMessage{
			Type:     domain.MsgTypeQueueMessage,
			ChatID:   chatID,
			Excerpt:  msg.Excerpt(excerptLen),
			UserName: identity.Name,
		})
	}

	audit.LogWithDetail(ctx, audit.ActionSendMessage, identity.ID, msgID, "sent message to room "+chatID)
	return nil
}

func (s *Service) HandleMarkRead(ctx context.Context, c *hub.Client, chatID string, messageIDs []string) error {
	identity := c.Session.Identity
	if !c.Session.InRoom(chatID) {
		return ErrNotInRoom
	}

	if identity.IsAdmin {
		unlock := s.lockRoom(chatID)
		zero := 0
		err := s.rooms.Update(ctx, chatID, repository.RoomUpdate{UnreadCount: &zero})
		s.invalidateRoom(ctx, chatID)
		unlock()
		if err != nil {
			return s.mapRepoErr(err)
		}
	}

	s.hub.BroadcastToRoom(chatID, &domain.MessageReadMessage{
		Type:     domain.MsgTypeMessageRead,
		ChatID:   chatID,
		ReaderID: identity.ID,
		ReadAt:   time.Now().UTC(),
	}, "")
	return nil
}

func (s *Service) HandleTyping(ctx context.Context, c *hub.Client, chatID string, typing bool) error {
	identity := c.Session.Identity
	if !c.Session.InRoom(chatID) {
		return ErrNotInRoom
	}

	// Ephemeral: never persisted, sender excluded, last state wins.
	s.hub.BroadcastToRoom(chatID, &domain.TypingIndicatorMessage{
		Type:     domain.MsgTypeTypingIndicator,
		ChatID:   chatID,
		UserID:   identity.ID,
		UserName: identity.Name,
		IsTyping: typing,
	}, c.ID)
	return nil
}

func (s *Service) HandleCloseRoom(ctx context.Context, c *hub.Client, chatID string, rating *domain.RatingRequest) error {
	_, err := s.closeRoom(ctx, c.Session.Identity, chatID, rating)
	return err
}

// closeRoom is the single close path shared by the realtime command and the
// fallback API. Closing an already-closed room is a no-op: no rating
// re-record and no re-broadcast.
func (s *Service) closeRoom(ctx context.Context, identity domain.Identity, chatID string, rating *domain.RatingRequest) (*domain.ChatRoom, error) {
	if rating != nil && (rating.Score < 1 || rating.Score > 5) {
		return nil, ErrInvalidRating
	}

	unlock := s.lockRoom(chatID)
	defer unlock()

	room, err := s.getRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if !identity.IsAdmin && identity.ID != room.UserID {
		return nil, ErrForbidden
	}

	if room.Status == domain.RoomStatusClosed {
		return room, nil
	}

	now := time.Now().UTC()
	closed := domain.RoomStatusClosed
	upd := repository.RoomUpdate{Status: &closed, ClosedAt: &now}

	// Ratings come only from the owning user and are never overwritten.
	if rating != nil && identity.ID == room.UserID && room.Rating == nil {
		room.Rating = &domain.Rating{Score: rating.Score, Comment: rating.Comment, RatedAt: now}
		upd.Rating = room.Rating
	}

	if err := s.rooms.Update(ctx, chatID, upd); err != nil {
		return nil, fmt.Errorf("failed to close room: %w", err)
	}
	room.Status = closed
	room.ClosedAt = &now

	msgID, err := domain.NewMessageID(now)
	if err == nil {
		sysMsg := &domain.ChatMessage{
			ChatID:     chatID,
			MessageID:  msgID,
			SenderID:   identity.ID,
			SenderName: identity.Name,
			SenderRole: domain.RoleSystem,
			Type:       domain.MessageTypeSystem,
			Content:    fmt.Sprintf("Conversation closed by %s", identity.Name),
			CreatedAt:  now,
		}
		if err := s.messages.Append(ctx, sysMsg); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldChatID, chatID).Msg("failed to append close message")
		} else {
			count := room.MessageCount + 1
			if err := s.rooms.Update(ctx, chatID, repository.RoomUpdate{MessageCount: &count}); err == nil {
				room.MessageCount = count
			}
		}
	}
	s.invalidateRoom(ctx, chatID)

	closedMsg := &domain.RoomClosedMessage{
		Type:     domain.MsgTypeRoomClosed,
		ChatID:   chatID,
		ClosedBy: identity.ID,
		Rating:   room.Rating,
	}
	s.hub.BroadcastToRoom(chatID, closedMsg, "")
	s.hub.BroadcastToStaff(&domain.QueueChangedMessage{Type: domain.MsgTypeQueueChanged})

	// A close through the fallback API can hit a room the owner is not
	// subscribed to; their live connections still hear about it on the
	// private identity channel.
	if !s.hub.IdentityInRoom(chatID, room.UserID, "") {
		s.hub.SendToIdentity(room.UserID, closedMsg)
	}

	audit.Log(ctx, audit.ActionCloseRoom, identity.ID, "closed room "+chatID)
	return room, nil
}

// HandleDisconnect applies the same side effects as an explicit leave for
// every room the connection was in, then drops presence.
func (s *Service) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	identity := c.Session.Identity

	for _, chatID := range c.Session.Rooms() {
		c.Session.LeaveRoom(chatID)
		if err := s.afterAdminLeft(ctx, c, chatID); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldChatID, chatID).Msg("failed to process leave on disconnect")
		}
	}

	if s.presence.Remove(identity) && identity.IsAdmin {
		s.hub.BroadcastToAll(&domain.PresenceChangedMessage{
			Type:        domain.MsgTypePresenceChanged,
			IdentityID:  identity.ID,
			Online:      false,
			StaffOnline: s.presence.StaffCount(),
		})
	}

	audit.Log(ctx, audit.ActionDisconnect, identity.ID, "disconnected")
	return nil
}

func (s *Service) getRoom(ctx context.Context, chatID string) (*domain.ChatRoom, error) {
	room, err := s.rooms.Get(ctx, chatID)
	if err != nil {
		return nil, s.mapRepoErr(err)
	}
	return room, nil
}

func (s *Service) invalidateRoom(ctx context.Context, chatID string) {
	if s.cache == nil {
		return
	}
	l := log.Ctx(ctx)
	if err := s.cache.InvalidateRoom(ctx, chatID); err != nil {
		l.Debug().Err(err).Msg("failed to invalidate room cache")
	}
	if err := s.cache.InvalidateHistory(ctx, chatID); err != nil {
		l.Debug().Err(err).Msg("failed to invalidate history cache")
	}
}

func (s *Service) mapRepoErr(err error) error {
	if errors.Is(err, repository.ErrRoomNotFound) {
		return ErrRoomNotFound
	}
	return err
}
