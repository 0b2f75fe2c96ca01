package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/openclass/support-chat/internal/domain"
)

// MemoryRoomRepository is an in-memory RoomRepository for tests and local
// runs without a Cassandra cluster. It mirrors the store contract exactly,
// including copy-on-read semantics.
type MemoryRoomRepository struct {
	mu    sync.RWMutex
	rooms map[string]*domain.ChatRoom
}

func NewMemoryRoomRepository() *MemoryRoomRepository {
	return &MemoryRoomRepository{rooms: make(map[string]*domain.ChatRoom)}
}

func (r *MemoryRoomRepository) Get(ctx context.Context, chatID string) (*domain.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[chatID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := copyRoom(room)
	return &cp, nil
}

func (r *MemoryRoomRepository) Put(ctx context.Context, room *domain.ChatRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := copyRoom(room)
	r.rooms[room.ChatID] = &cp
	return nil
}

func (r *MemoryRoomRepository) Update(ctx context.Context, chatID string, upd RoomUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[chatID]
	if !ok {
		return ErrRoomNotFound
	}

	if upd.Status != nil {
		room.Status = *upd.Status
	}
	if upd.LastMessage != nil {
		room.LastMessage = *upd.LastMessage
	}
	if upd.LastMessageAt != nil {
		t := *upd.LastMessageAt
		room.LastMessageAt = &t
	}
	if upd.MessageCount != nil {
		room.MessageCount = *upd.MessageCount
	}
	if upd.UnreadCount != nil {
		room.UnreadCount = *upd.UnreadCount
	}
	if upd.Rating != nil {
		rating := *upd.Rating
		room.Rating = &rating
	}
	if upd.ClosedAt != nil {
		t := *upd.ClosedAt
		room.ClosedAt = &t
	}
	return nil
}

func (r *MemoryRoomRepository) FindOpenByUser(ctx context.Context, userID string) (*domain.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		if room.UserID == userID && room.Status.Open() {
			cp := copyRoom(room)
			return &cp, nil
		}
	}
	return nil, ErrRoomNotFound
}

func (r *MemoryRoomRepository) ListByUser(ctx context.Context, userID string) ([]domain.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ChatRoom
	for _, room := range r.rooms {
		if room.UserID == userID {
			out = append(out, copyRoom(room))
		}
	}
	sortRooms(out)
	return out, nil
}

func (r *MemoryRoomRepository) List(ctx context.Context, status string, limit int) ([]domain.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ChatRoom
	for _, room := range r.rooms {
		if status != "" && string(room.Status) != status {
			continue
		}
		out = append(out, copyRoom(room))
	}
	sortRooms(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRoomRepository) UpsertAdmin(ctx context.Context, chatID string, entry domain.AdminEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[chatID]
	if !ok {
		return ErrRoomNotFound
	}
	for i := range room.Admins {
		if room.Admins[i].AdminID == entry.AdminID {
			room.Admins[i] = entry
			return nil
		}
	}
	room.Admins = append(room.Admins, entry)
	return nil
}

func (r *MemoryRoomRepository) SetAdminActive(ctx context.Context, chatID, adminID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[chatID]
	if !ok {
		return ErrRoomNotFound
	}
	for i := range room.Admins {
		if room.Admins[i].AdminID == adminID {
			room.Admins[i].IsActive = active
			return nil
		}
	}
	return nil
}

func (r *MemoryRoomRepository) Close() error { return nil }

func copyRoom(room *domain.ChatRoom) domain.ChatRoom {
	cp := *room
	cp.Admins = append([]domain.AdminEntry(nil), room.Admins...)
	if room.LastMessageAt != nil {
		t := *room.LastMessageAt
		cp.LastMessageAt = &t
	}
	if room.Rating != nil {
		rating := *room.Rating
		cp.Rating = &rating
	}
	if room.ClosedAt != nil {
		t := *room.ClosedAt
		cp.ClosedAt = &t
	}
	return cp
}

func sortRooms(rooms []domain.ChatRoom) {
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
}

// MemoryMessageRepository is an in-memory MessageRepository keeping per-room
// slices sorted by message id.
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string][]domain.ChatMessage
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[string][]domain.ChatMessage)}
}

func (r *MemoryMessageRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.messages[msg.ChatID], *msg)
	sort.Slice(list, func(i, j int) bool { return list[i].MessageID < list[j].MessageID })
	r.messages[msg.ChatID] = list
	return nil
}

func (r *MemoryMessageRepository) History(ctx context.Context, chatID string, limit int, order Order) ([]domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.messages[chatID]

	out := make([]domain.ChatMessage, len(list))
	copy(out, list)
	if order == OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryMessageRepository) Close() error { return nil }
