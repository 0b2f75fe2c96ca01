package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/openclass/support-chat/internal/config"
	"github.com/openclass/support-chat/internal/domain"
)

// Schema (see deploy/cassandra.cql):
//
//   chat_rooms        (chat_id PK)                     - room row
//   rooms_by_user     (user_id PK, chat_id CK)         - owner index
//   rooms_by_status   (status PK, chat_id CK)          - queue/list index
//   room_admins       (chat_id PK, admin_id CK)        - staff roster
//   messages_by_room  (chat_id PK, message_id CK ASC)  - ordered messages
//
// message_id is a ULID, so the clustering order is creation order.

// NewCassandraSession connects to the cluster with the configured
// consistency level.
func NewCassandraSession(cfg config.CassandraConfig) (*gocql.Session, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout

	switch cfg.Consistency {
	case "LOCAL_ONE":
		cluster.Consistency = gocql.LocalOne
	case "LOCAL_QUORUM":
		cluster.Consistency = gocql.LocalQuorum
	case "ONE":
		cluster.Consistency = gocql.One
	case "QUORUM":
		cluster.Consistency = gocql.Quorum
	default:
		cluster.Consistency = gocql.LocalOne
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}
	return session, nil
}

type CassandraRoomRepository struct {
	session *gocql.Session
}

func NewCassandraRoomRepository(session *gocql.Session) *CassandraRoomRepository {
	return &CassandraRoomRepository{session: session}
}

func (r *CassandraRoomRepository) Get(ctx context.Context, chatID string) (*domain.ChatRoom, error) {
	var (
		room          domain.ChatRoom
		lastMessageAt time.Time
		ratingScore   int
		ratingComment string
		ratedAt       time.Time
		closedAt      time.Time
	)

	err := r.session.Query(`
		SELECT chat_id, user_id, user_name, topic, status, last_message,
		       last_message_at, message_count, unread_count,
		       rating_score, rating_comment, rated_at, created_at, closed_at
		FROM chat_rooms WHERE chat_id = ?`, chatID).
		WithContext(ctx).
		Scan(&room.ChatID, &room.UserID, &room.UserName, &room.Topic,
			(*string)(&room.Status), &room.LastMessage, &lastMessageAt,
			&room.MessageCount, &room.UnreadCount,
			&ratingScore, &ratingComment, &ratedAt, &room.CreatedAt, &closedAt)
	if err == gocql.ErrNotFound {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	if !lastMessageAt.IsZero() {
		room.LastMessageAt = &lastMessageAt
	}
	if !closedAt.IsZero() {
		room.ClosedAt = &closedAt
	}
	if ratingScore > 0 {
		room.Rating = &domain.Rating{Score: ratingScore, Comment: ratingComment, RatedAt: ratedAt}
	}

	admins, err := r.roster(ctx, chatID)
	if err != nil {
		return nil, err
	}
	room.Admins = admins

	return &room, nil
}

func (r *CassandraRoomRepository) roster(ctx context.Context, chatID string) ([]domain.AdminEntry, error) {
	iter := r.session.Query(`
		SELECT admin_id, name, joined_at, is_active
		FROM room_admins WHERE chat_id = ?`, chatID).
		WithContext(ctx).Iter()

	var admins []domain.AdminEntry
	var e domain.AdminEntry
	for iter.Scan(&e.AdminID, &e.Name, &e.JoinedAt, &e.IsActive) {
		admins = append(admins, e)
		e = domain.AdminEntry{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return admins, nil
}

func (r *CassandraRoomRepository) Put(ctx context.Context, room *domain.ChatRoom) error {
	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
		INSERT INTO chat_rooms (chat_id, user_id, user_name, topic, status,
		                        last_message, message_count, unread_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		room.ChatID, room.UserID, room.UserName, room.Topic, string(room.Status),
		room.LastMessage, room.MessageCount, room.UnreadCount, room.CreatedAt)
	batch.Query(`INSERT INTO rooms_by_user (user_id, chat_id) VALUES (?, ?)`,
		room.UserID, room.ChatID)
	batch.Query(`INSERT INTO rooms_by_status (status, chat_id) VALUES (?, ?)`,
		string(room.Status), room.ChatID)

	if err := r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to put room: %w", err)
	}
	return nil
}

func (r *CassandraRoomRepository) Update(ctx context.Context, chatID string, upd RoomUpdate) error {
	// Status changes also move the rooms_by_status index row.
	if upd.Status != nil {
		var old string
		err := r.session.Query(`SELECT status FROM chat_rooms WHERE chat_id = ?`, chatID).
			WithContext(ctx).Scan(&old)
		if err == gocql.ErrNotFound {
			return ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read room status: %w", err)
		}
		if old != string(*upd.Status) {
			batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
			batch.Query(`DELETE FROM rooms_by_status WHERE status = ? AND chat_id = ?`, old, chatID)
			batch.Query(`INSERT INTO rooms_by_status (status, chat_id) VALUES (?, ?)`, string(*upd.Status), chatID)
			if err := r.session.ExecuteBatch(batch); err != nil {
				return fmt.Errorf("failed to move status index: %w", err)
			}
		}
	}

	set := ""
	args := make([]interface{}, 0, 8)
	add := func(col string, val interface{}) {
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, val)
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.LastMessage != nil {
		add("last_message", *upd.LastMessage)
	}
	if upd.LastMessageAt != nil {
		add("last_message_at", *upd.LastMessageAt)
	}
	if upd.MessageCount != nil {
		add("message_count", *upd.MessageCount)
	}
	if upd.UnreadCount != nil {
		add("unread_count", *upd.UnreadCount)
	}
	if upd.Rating != nil {
		add("rating_score", upd.Rating.Score)
		add("rating_comment", upd.Rating.Comment)
		add("rated_at", upd.Rating.RatedAt)
	}
	if upd.ClosedAt != nil {
		add("closed_at", *upd.ClosedAt)
	}
	if set == "" {
		return nil
	}

	args = append(args, chatID)
	if err := r.session.Query(`UPDATE chat_rooms SET `+set+` WHERE chat_id = ?`, args...).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	return nil
}

func (r *CassandraRoomRepository) FindOpenByUser(ctx context.Context, userID string) (*domain.ChatRoom, error) {
	rooms, err := r.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		if rooms[i].Status.Open() {
			return &rooms[i], nil
		}
	}
	return nil, ErrRoomNotFound
}

func (r *CassandraRoomRepository) ListByUser(ctx context.Context, userID string) ([]domain.ChatRoom, error) {
	iter := r.session.Query(`SELECT chat_id FROM rooms_by_user WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list rooms by user: %w", err)
	}

	return r.fetchAll(ctx, ids)
}

func (r *CassandraRoomRepository) List(ctx context.Context, status string, limit int) ([]domain.ChatRoom, error) {
	statuses := []string{status}
	if status == "" {
		statuses = []string{
			string(domain.RoomStatusWaiting),
			string(domain.RoomStatusActive),
			string(domain.RoomStatusClosed),
		}
	}

	var ids []string
	for _, st := range statuses {
		iter := r.session.Query(`SELECT chat_id FROM rooms_by_status WHERE status = ? LIMIT ?`, st, limit).
			WithContext(ctx).Iter()
		var id string
		for iter.Scan(&id) {
			ids = append(ids, id)
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to list rooms by status: %w", err)
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	return r.fetchAll(ctx, ids)
}

func (r *CassandraRoomRepository) fetchAll(ctx context.Context, ids []string) ([]domain.ChatRoom, error) {
	rooms := make([]domain.ChatRoom, 0, len(ids))
	for _, id := range ids {
		room, err := r.Get(ctx, id)
		if err == ErrRoomNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, nil
}

func (r *CassandraRoomRepository) UpsertAdmin(ctx context.Context, chatID string, entry domain.AdminEntry) error {
	// INSERT on the (chat_id, admin_id) key replaces in place, which is
	// exactly the idempotent roster upsert.
	if err := r.session.Query(`
		INSERT INTO room_admins (chat_id, admin_id, name, joined_at, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		chatID, entry.AdminID, entry.Name, entry.JoinedAt, entry.IsActive).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to upsert roster entry: %w", err)
	}
	return nil
}

func (r *CassandraRoomRepository) SetAdminActive(ctx context.Context, chatID, adminID string, active bool) error {
	if err := r.session.Query(`
		UPDATE room_admins SET is_active = ? WHERE chat_id = ? AND admin_id = ?`,
		active, chatID, adminID).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to update roster entry: %w", err)
	}
	return nil
}

func (r *CassandraRoomRepository) Close() error {
	return nil
}

type CassandraMessageRepository struct {
	session *gocql.Session
}

func NewCassandraMessageRepository(session *gocql.Session) *CassandraMessageRepository {
	return &CassandraMessageRepository{session: session}
}

func (r *CassandraMessageRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	if err := r.session.Query(`
		INSERT INTO messages_by_room (chat_id, message_id, sender_id, sender_name,
		                              sender_role, message_type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.MessageID, msg.SenderID, msg.SenderName,
		string(msg.SenderRole), string(msg.Type), msg.Content, msg.CreatedAt).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) History(ctx context.Context, chatID string, limit int, order Order) ([]domain.ChatMessage, error) {
	dir := "ASC"
	if order == OrderDesc {
		dir = "DESC"
	}

	iter := r.session.Query(`
		SELECT chat_id, message_id, sender_id, sender_name, sender_role,
		       message_type, content, created_at
		FROM messages_by_room
		WHERE chat_id = ?
		ORDER BY message_id `+dir+`
		LIMIT ?`, chatID, limit).
		WithContext(ctx).Iter()

	var messages []domain.ChatMessage
	var msg domain.ChatMessage
	for iter.Scan(&msg.ChatID, &msg.MessageID, &msg.SenderID, &msg.SenderName,
		(*string)(&msg.SenderRole), (*string)(&msg.Type), &msg.Content, &msg.CreatedAt) {
		messages = append(messages, msg)
		msg = domain.ChatMessage{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func (r *CassandraMessageRepository) Close() error {
	return nil
}
