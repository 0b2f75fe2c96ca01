package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/openclass/support-chat/internal/config"
	"github.com/openclass/support-chat/internal/domain"
	"github.com/openclass/support-chat/internal/hub"
	"github.com/openclass/support-chat/internal/presence"
	"github.com/openclass/support-chat/internal/repository"
)

var (
	owner = domain.Identity{ID: "user-1", Name: "alice"}
	staff = domain.Identity{ID: "admin-1", Name: "bob", IsAdmin: true}
)

type fixture struct {
	hub      *hub.Hub
	presence *presence.Registry
	rooms    *repository.MemoryRoomRepository
	messages *repository.MemoryMessageRepository
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		hub:      hub.NewHub(wsConfig()),
		presence: presence.NewRegistry(),
		rooms:    repository.NewMemoryRoomRepository(),
		messages: repository.NewMemoryMessageRepository(),
	}
	go f.hub.Run()
	f.svc = NewService(f.hub, f.presence, f.rooms, f.messages, nil)
	return f
}

func wsConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
	}
}

// connect registers a hub client without a real socket and tracks presence,
// matching what the connection handler does after a successful handshake.
// Register hands the client to the hub loop before returning, so frames
// broadcast afterwards always reach it.
func (f *fixture) connect(t *testing.T, id string, identity domain.Identity) *hub.Client {
	t.Helper()
	c := hub.NewClient(id, f.hub, nil, identity, wsConfig())
	f.presence.Add(identity)
	f.hub.Register(c)
	return c
}

// newRoom seeds a waiting room owned by the given user.
func (f *fixture) newRoom(t *testing.T, chatID string, user domain.Identity) *domain.ChatRoom {
	t.Helper()
	room := &domain.ChatRoom{
		ChatID:    chatID,
		UserID:    user.ID,
		UserName:  user.Name,
		Topic:     "billing",
		Status:    domain.RoomStatusWaiting,
		Admins:    []domain.AdminEntry{},
		CreatedAt: time.Now().UTC(),
	}
	if err := f.rooms.Put(context.Background(), room); err != nil {
		t.Fatalf("failed to seed room: %v", err)
	}
	return room
}

// recv reads frames from the client until one of the wanted type arrives.
func recv(t *testing.T, c *hub.Client, wantType string) map[string]interface{} {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-c.Send:
			var frame map[string]interface{}
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("failed to decode frame: %v", err)
			}
			if frame["type"] == wantType {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %s frame received within deadline", wantType)
		}
	}
}

func assertNoFrameOfType(t *testing.T, c *hub.Client, unwanted string) {
	t.Helper()
	for {
		select {
		case data := <-c.Send:
			var frame map[string]interface{}
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("failed to decode frame: %v", err)
			}
			if frame["type"] == unwanted {
				t.Fatalf("received unwanted %s frame: %s", unwanted, data)
			}
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func TestJoinRoomOwnerReceivesHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	for i, content := range []string{"first", "second"} {
		id, _ := domain.NewMessageID(time.Now().UTC().Add(time.Duration(i) * time.Second))
		f.messages.Append(ctx, &domain.ChatMessage{ChatID: "room-1", MessageID: id, SenderID: owner.ID, Content: content})
	}

	c := f.connect(t, "c1", owner)
	if err := f.svc.HandleJoinRoom(ctx, c, "room-1"); err != nil {
		t.Fatalf("HandleJoinRoom returned error: %v", err)
	}

	frame := recv(t, c, domain.MsgTypeRoomJoined)
	msgs, ok := frame["messages"].([]interface{})
	if !ok || len(msgs) != 2 {
		t.Fatalf("room_joined carried %d messages, want 2", len(msgs))
	}
	first := msgs[0].(map[string]interface{})
	if first["content"] != "first" {
		t.Error("history must be delivered in ascending creation order")
	}
	if !c.Session.InRoom("room-1") {
		t.Error("session must track the joined room")
	}
}

func TestJoinRoomForbiddenForStranger(t *testing.T) {
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	stranger := f.connect(t, "c1", domain.Identity{ID: "user-2", Name: "mallory"})
	if err := f.svc.HandleJoinRoom(context.Background(), stranger, "room-1"); err != ErrForbidden {
		t.Errorf("HandleJoinRoom error = %v, want ErrForbidden", err)
	}
	if stranger.Session.InRoom("room-1") {
		t.Error("forbidden join must not subscribe the session")
	}
}

func TestJoinRoomNotFound(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "c1", owner)
	if err := f.svc.HandleJoinRoom(context.Background(), c, "missing"); err != ErrRoomNotFound {
		t.Errorf("HandleJoinRoom error = %v, want ErrRoomNotFound", err)
	}
}

func TestAdminJoinActivatesRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	userConn := f.connect(t, "c1", owner)
	if err := f.svc.HandleJoinRoom(ctx, userConn, "room-1"); err != nil {
		t.Fatalf("owner join failed: %v", err)
	}
	recv(t, userConn, domain.MsgTypeRoomJoined)

	adminConn := f.connect(t, "c2", staff)
	if err := f.svc.HandleJoinRoom(ctx, adminConn, "room-1"); err != nil {
		t.Fatalf("admin join failed: %v", err)
	}

	room, _ := f.rooms.Get(ctx, "room-1")
	if room.Status != domain.RoomStatusActive {
		t.Errorf("room status = %s, want active after first admin join", room.Status)
	}
	if len(room.Admins) != 1 || !room.Admins[0].IsActive {
		t.Errorf("roster = %+v, want one active entry", room.Admins)
	}

	frame := recv(t, userConn, domain.MsgTypeAdminJoined)
	if frame["admin_id"] != staff.ID {
		t.Errorf("admin_joined admin_id = %v, want %s", frame["admin_id"], staff.ID)
	}

	joined := recv(t, adminConn, domain.MsgTypeRoomJoined)
	roomPayload := joined["room"].(map[string]interface{})
	if roomPayload["status"] != "active" {
		t.Error("room_joined sent to the admin must carry the activated room")
	}
}

func TestAdminRejoinKeepsSingleRosterEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	adminConn := f.connect(t, "c1", staff)
	for i := 0; i < 3; i++ {
		if err := f.svc.HandleJoinRoom(ctx, adminConn, "room-1"); err != nil {
			t.Fatalf("join %d failed: %v", i, err)
		}
	}

	room, _ := f.rooms.Get(ctx, "room-1")
	if len(room.Admins) != 1 {
		t.Errorf("roster has %d entries after repeated joins, want 1", len(room.Admins))
	}
}

func TestAdminMultiConnectionLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	userConn := f.connect(t, "c1", owner)
	f.svc.HandleJoinRoom(ctx, userConn, "room-1")
	recv(t, userConn, domain.MsgTypeRoomJoined)

	first := f.connect(t, "c2", staff)
	second := f.connect(t, "c3", staff)
	f.svc.HandleJoinRoom(ctx, first, "room-1")
	f.svc.HandleJoinRoom(ctx, second, "room-1")
	recv(t, userConn, domain.MsgTypeAdminJoined)

	// First connection leaves; the identity is still in the room.
	if err := f.svc.HandleLeaveRoom(ctx, first, "room-1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	room, _ := f.rooms.Get(ctx, "room-1")
	if !room.Admins[0].IsActive {
		t.Error("roster entry must stay active while another connection remains")
	}
	assertNoFrameOfType(t, userConn, domain.MsgTypeAdminLeft)

	// Last connection leaves; now the roster entry flips inactive.
	if err := f.svc.HandleLeaveRoom(ctx, second, "room-1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	room, _ = f.rooms.Get(ctx, "room-1")
	if room.Admins[0].IsActive {
		t.Error("roster entry must be inactive after the last connection left")
	}
	frame := recv(t, userConn, domain.MsgTypeAdminLeft)
	if frame["admin_id"] != staff.ID {
		t.Errorf("admin_left admin_id = %v, want %s", frame["admin_id"], staff.ID)
	}
}

func TestLeaveRoomNotJoinedIsNoop(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "c1", owner)
	if err := f.svc.HandleLeaveRoom(context.Background(), c, "room-1"); err != nil {
		t.Errorf("leaving a room never joined must be a no-op, got %v", err)
	}
}

func TestSendMessageBroadcastAndCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	userConn := f.connect(t, "c1", owner)
	adminConn := f.connect(t, "c2", staff)
	f.svc.HandleJoinRoom(ctx, userConn, "room-1")
	f.svc.HandleJoinRoom(ctx, adminConn, "room-1")

	if err := f.svc.HandleSendMessage(ctx, userConn, "room-1", "hello", ""); err != nil {
		t.Fatalf("HandleSendMessage returned error: %v", err)
	}

	frame := recv(t, adminConn, domain.MsgTypeMessageNew)
	msg := frame["message"].(map[string]interface{})
	if msg["content"] != "hello" || msg["sender_role"] != "user" {
		t.Errorf("unexpected message payload: %+v", msg)
	}
	// The sender's own connection receives it too.
	recv(t, userConn, domain.MsgTypeMessageNew)

	room, _ := f.rooms.Get(ctx, "room-1")
	if room.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", room.MessageCount)
	}
	if room.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1 after an owner message", room.UnreadCount)
	}
	if room.LastMessage != "hello" {
		t.Errorf("LastMessage = %q, want hello", room.LastMessage)
	}

	// Staff replies do not touch the unread counter.
	if err := f.svc.HandleSendMessage(ctx, adminConn, "room-1", "hi there", ""); err != nil {
		t.Fatalf("staff send failed: %v", err)
	}
	room, _ = f.rooms.Get(ctx, "room-1")
	if room.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, staff messages must not increment it", room.UnreadCount)
	}
	if room.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", room.MessageCount)
	}
}

func TestSendMessageValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)
	c := f.connect(t, "c1", owner)

	if err := f.svc.HandleSendMessage(ctx, c, "room-1", "hello", ""); err != ErrNotInRoom {
		t.Errorf("send before join error = %v, want ErrNotInRoom", err)
	}

	f.svc.HandleJoinRoom(ctx, c, "room-1")
	if err := f.svc.HandleSendMessage(ctx, c, "room-1", "", ""); err != ErrEmptyMessage {
		t.Errorf("empty text message error = %v, want ErrEmptyMessage", err)
	}
}

func TestSendMessageToClosedRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)
	c := f.connect(t, "c1", owner)
	f.svc.HandleJoinRoom(ctx, c, "room-1")

	if _, err := f.svc.closeRoom(ctx, owner, "room-1", nil); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := f.svc.HandleSendMessage(ctx, c, "room-1", "too late", ""); err != ErrRoomClosed {
		t.Errorf("send to closed room error = %v, want ErrRoomClosed", err)
	}
}

type failingMessages struct{}

func (failingMessages) Append(ctx context.Context, msg *domain.ChatMessage) error {
	return errors.New("store unavailable")
}

func (failingMessages) History(ctx context.Context, chatID string, limit int, order repository.Order) ([]domain.ChatMessage, error) {
	return nil, nil
}

func (failingMessages) Close() error { return nil }

func TestSendMessagePersistFailureSuppressesBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc = NewService(f.hub, f.presence, f.rooms, failingMessages{}, nil)
	f.newRoom(t, "room-1", owner)

	userConn := f.connect(t, "c1", owner)
	adminConn := f.connect(t, "c2", staff)
	f.svc.HandleJoinRoom(ctx, userConn, "room-1")
	f.svc.HandleJoinRoom(ctx, adminConn, "room-1")

	if err := f.svc.HandleSendMessage(ctx, userConn, "room-1", "hello", ""); err == nil {
		t.Fatal("expected an error when the store rejects the append")
	}

	assertNoFrameOfType(t, adminConn, domain.MsgTypeMessageNew)
	room, _ := f.rooms.Get(ctx, "room-1")
	if room.MessageCount != 0 {
		t.Errorf("MessageCount = %d, counters must not move on a failed persist", room.MessageCount)
	}
}

func TestQueueMessageOnlyWithoutStaffInRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	userConn := f.connect(t, "c1", owner)
	staffConn := f.connect(t, "c2", staff)
	f.svc.HandleJoinRoom(ctx, userConn, "room-1")

	// No staff in the room: the queue group gets a notification.
	if err := f.svc.HandleSendMessage(ctx, userConn, "room-1", "anyone there?", ""); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	frame := recv(t, staffConn, domain.MsgTypeQueueMessage)
	if frame["chat_id"] != "room-1" || frame["excerpt"] != "anyone there?" {
		t.Errorf("unexpected queue_message payload: %+v", frame)
	}

	// Staff joins the room: no more queue notifications for it.
	f.svc.HandleJoinRoom(ctx, staffConn, "room-1")
	recv(t, staffConn, domain.MsgTypeRoomJoined)
	if err := f.svc.HandleSendMessage(ctx, userConn, "room-1", "hello again", ""); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	assertNoFrameOfType(t, staffConn, domain.MsgTypeQueueMessage)
}

func TestMarkReadResetsUnreadForStaffOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	userConn := f.connect(t, "c1", owner)
	adminConn := f.connect(t, "c2", staff)
	f.svc.HandleJoinRoom(ctx, userConn, "room-1")
	f.svc.HandleJoinRoom(ctx, adminConn, "room-1")
	f.svc.HandleSendMessage(ctx, userConn, "room-1", "hello", "")

	// Owner mark_read broadcasts but never resets the counter.
	if err := f.svc.HandleMarkRead(ctx, userConn, "room-1", nil); err != nil {
		t.Fatalf("owner mark_read failed: %v", err)
	}
	room, _ := f.rooms.Get(ctx, "room-1")
	if room.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d after owner mark_read, want 1", room.UnreadCount)
	}

	if err := f.svc.HandleMarkRead(ctx, adminConn, "room-1", nil); err != nil {
		t.Fatalf("staff mark_read failed: %v", err)
	}
	room, _ = f.rooms.Get(ctx, "room-1")
	if room.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d after staff mark_read, want 0", room.UnreadCount)
	}

	frame := recv(t, userConn, domain.MsgTypeMessageRead)
	if frame["reader_id"] != owner.ID && frame["reader_id"] != staff.ID {
		t.Errorf("unexpected reader_id: %v", frame["reader_id"])
	}
}

func TestTypingIndicatorExcludesSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	userConn := f.connect(t, "c1", owner)
	adminConn := f.connect(t, "c2", staff)
	f.svc.HandleJoinRoom(ctx, userConn, "room-1")
	f.svc.HandleJoinRoom(ctx, adminConn, "room-1")
	recv(t, userConn, domain.MsgTypeAdminJoined)

	if err := f.svc.HandleTyping(ctx, userConn, "room-1", true); err != nil {
		t.Fatalf("HandleTyping returned error: %v", err)
	}

	frame := recv(t, adminConn, domain.MsgTypeTypingIndicator)
	if frame["user_id"] != owner.ID || frame["is_typing"] != true {
		t.Errorf("unexpected typing payload: %+v", frame)
	}
	assertNoFrameOfType(t, userConn, domain.MsgTypeTypingIndicator)

	if err := f.svc.HandleTyping(ctx, adminConn, "missing", true); err != ErrNotInRoom {
		t.Errorf("typing outside a joined room error = %v, want ErrNotInRoom", err)
	}
}

func TestCloseRoomIdempotentWithRating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	userConn := f.connect(t, "c1", owner)
	f.svc.HandleJoinRoom(ctx, userConn, "room-1")

	rating := &domain.RatingRequest{Score: 5, Comment: "great"}
	room, err := f.svc.closeRoom(ctx, owner, "room-1", rating)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if room.Status != domain.RoomStatusClosed || room.ClosedAt == nil {
		t.Errorf("room not closed: %+v", room)
	}
	if room.Rating == nil || room.Rating.Score != 5 {
		t.Errorf("rating not recorded: %+v", room.Rating)
	}

	frame := recv(t, userConn, domain.MsgTypeRoomClosed)
	if frame["closed_by"] != owner.ID {
		t.Errorf("closed_by = %v, want %s", frame["closed_by"], owner.ID)
	}

	// A system message marks the close in the transcript.
	history, _ := f.messages.History(ctx, "room-1", 10, repository.OrderAsc)
	if len(history) != 1 || history[0].SenderRole != domain.RoleSystem {
		t.Errorf("expected one system message in history, got %+v", history)
	}

	// Second close is a no-op: the rating survives and nothing re-broadcasts.
	again, err := f.svc.closeRoom(ctx, owner, "room-1", &domain.RatingRequest{Score: 1})
	if err != nil {
		t.Fatalf("repeated close failed: %v", err)
	}
	if again.Rating.Score != 5 {
		t.Error("rating must never be overwritten")
	}
	assertNoFrameOfType(t, userConn, domain.MsgTypeRoomClosed)
}

func TestCloseRoomRatingRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.closeRoom(ctx, owner, "room-1", &domain.RatingRequest{Score: 9}); err != ErrInvalidRating {
		t.Errorf("out-of-range score error = %v, want ErrInvalidRating", err)
	}

	// Staff may close but their rating is ignored.
	f.newRoom(t, "room-1", owner)
	room, err := f.svc.closeRoom(ctx, staff, "room-1", &domain.RatingRequest{Score: 3})
	if err != nil {
		t.Fatalf("staff close failed: %v", err)
	}
	if room.Rating != nil {
		t.Error("staff-submitted rating must be ignored")
	}

	// Strangers cannot close.
	f.newRoom(t, "room-2", owner)
	if _, err := f.svc.closeRoom(ctx, domain.Identity{ID: "user-2"}, "room-2", nil); err != ErrForbidden {
		t.Errorf("stranger close error = %v, want ErrForbidden", err)
	}
}

func TestHandleDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	userConn := f.connect(t, "c1", owner)
	f.svc.HandleJoinRoom(ctx, userConn, "room-1")
	recv(t, userConn, domain.MsgTypeRoomJoined)

	adminConn := f.connect(t, "c2", staff)
	f.svc.HandleJoinRoom(ctx, adminConn, "room-1")
	recv(t, userConn, domain.MsgTypeAdminJoined)

	if err := f.svc.HandleDisconnect(ctx, adminConn); err != nil {
		t.Fatalf("HandleDisconnect returned error: %v", err)
	}

	// The room sees the admin leave and everyone sees presence drop.
	recv(t, userConn, domain.MsgTypeAdminLeft)
	frame := recv(t, userConn, domain.MsgTypePresenceChanged)
	if frame["identity_id"] != staff.ID || frame["online"] != false {
		t.Errorf("unexpected presence payload: %+v", frame)
	}
	if frame["staff_online"] != float64(0) {
		t.Errorf("staff_online = %v, want 0", frame["staff_online"])
	}

	room, _ := f.rooms.Get(ctx, "room-1")
	if room.Admins[0].IsActive {
		t.Error("roster entry must be inactive after disconnect")
	}
	if f.presence.Online(staff.ID) {
		t.Error("identity must be offline after disconnect")
	}
	if len(adminConn.Session.Rooms()) != 0 {
		t.Error("session rooms must be cleared on disconnect")
	}
}

func TestAdminJoinClosedRoomIsReadOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)
	closed := domain.RoomStatusClosed
	f.rooms.Update(ctx, "room-1", repository.RoomUpdate{Status: &closed})

	watcher := f.connect(t, "c1", domain.Identity{ID: "admin-2", Name: "carol", IsAdmin: true})
	adminConn := f.connect(t, "c2", staff)

	if err := f.svc.HandleJoinRoom(ctx, adminConn, "room-1"); err != nil {
		t.Fatalf("joining a closed room for its transcript failed: %v", err)
	}

	joined := recv(t, adminConn, domain.MsgTypeRoomJoined)
	roomPayload := joined["room"].(map[string]interface{})
	if roomPayload["status"] != "closed" {
		t.Errorf("room_joined status = %v, want closed", roomPayload["status"])
	}

	room, _ := f.rooms.Get(ctx, "room-1")
	if room.Status != domain.RoomStatusClosed {
		t.Errorf("room status = %s, closed is terminal", room.Status)
	}
	if len(room.Admins) != 0 {
		t.Errorf("closed-room roster mutated by join: %+v", room.Admins)
	}

	assertNoFrameOfType(t, adminConn, domain.MsgTypeAdminJoined)
	assertNoFrameOfType(t, watcher, domain.MsgTypeQueueChanged)
}

func TestCloseRoomReachesUnsubscribedOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newRoom(t, "room-1", owner)

	// Connected but never joined the room, as after a page reload.
	ownerConn := f.connect(t, "c1", owner)

	if _, err := f.svc.CloseRoom(ctx, staff, "room-1", nil); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	frame := recv(t, ownerConn, domain.MsgTypeRoomClosed)
	if frame["chat_id"] != "room-1" || frame["closed_by"] != staff.ID {
		t.Errorf("unexpected room_closed payload: %+v", frame)
	}
}
