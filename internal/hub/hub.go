package hub

import (
	"encoding/json"
	"sync"

	"github.com/openclass/support-chat/internal/config"
	"github.com/openclass/support-chat/pkg/log"
)

// broadcast scopes
const (
	scopeRoom  = "room"
	scopeStaff = "staff"
	scopeAll   = "all"
)

// Hub owns all subscriber groups: per-room broadcast groups, the shared
// staff queue group, and the private per-identity channels. Fan-out is
// fire-and-forget: a slow subscriber is evicted, never waited on.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	rooms      map[string]map[string]*Client // chatID -> clientID -> client
	staff      map[string]*Client            // clientID -> client (queue group)
	identities map[string]map[string]*Client // identityID -> clientID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *envelope
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

type envelope struct {
	Scope   string
	Target  string // chatID for room scope, empty otherwise
	Message []byte
	Exclude string // client ID to exclude
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		staff:      make(map[string]*Client),
		identities: make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *envelope, 256),
		config:     cfg,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	identityID := client.Session.Identity.ID
	if _, ok := h.identities[identityID]; !ok {
		h.identities[identityID] = make(map[string]*Client)
	}
	h.identities[identityID][client.ID] = client

	if client.Session.Identity.IsAdmin {
		h.staff[client.ID] = client
	}

	l := log.L()
	l.Debug().Str(log.FieldClientID, client.ID).Msg("client registered")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	for chatID, members := range h.rooms {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}

	identityID := client.Session.Identity.ID
	if conns, ok := h.identities[identityID]; ok {
		delete(conns, client.ID)
		if len(conns) == 0 {
			delete(h.identities, identityID)
		}
	}

	delete(h.staff, client.ID)
	delete(h.clients, client.ID)
	close(client.Send)

	l := log.L()
	l.Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")
}

func (h *Hub) deliver(env *envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets map[string]*Client
	switch env.Scope {
	case scopeRoom:
		targets = h.rooms[env.Target]
	case scopeStaff:
		targets = h.staff
	case scopeAll:
		targets = h.clients
	}

	for clientID, client := range targets {
		if clientID == env.Exclude {
			continue
		}
		select {
		case client.Send <- env.Message:
		default:
			// Slow or gone; drop it rather than stall everyone else.
			go h.Unregister(client)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinRoom subscribes the client to a room's broadcast group.
func (h *Hub) JoinRoom(client *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[string]*Client)
	}
	h.rooms[chatID][client.ID] = client

	l := log.L()
	l.Info().Str(log.FieldClientID, client.ID).Str(log.FieldChatID, chatID).Msg("client joined room")
}

// LeaveRoom unsubscribes the client from a room's broadcast group.
func (h *Hub) LeaveRoom(client *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[chatID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}

	l := log.L()
	l.Info().Str(log.FieldClientID, client.ID).Str(log.FieldChatID, chatID).Msg("client left room")
}

// BroadcastToRoom sends a message to every subscriber of a room, optionally
// excluding one client.
func (h *Hub) BroadcastToRoom(chatID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.broadcast <- &envelope{Scope: scopeRoom, Target: chatID, Message: data, Exclude: exclude}
	return nil
}

// BroadcastToStaff sends a message to the shared staff queue group.
func (h *Hub) BroadcastToStaff(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.broadcast <- &envelope{Scope: scopeStaff, Message: data}
	return nil
}

// BroadcastToAll sends a message to every connected client.
func (h *Hub) BroadcastToAll(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.broadcast <- &envelope{Scope: scopeAll, Message: data}
	return nil
}

// SendToIdentity delivers a message on the private channel of an identity,
// reaching every connection that identity currently holds.
func (h *Hub) SendToIdentity(identityID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.identities[identityID] {
		select {
		case client.Send <- data:
		default:
			go h.Unregister(client)
		}
	}
	return nil
}

// RoomClientCount returns the number of connections subscribed to a room.
func (h *Hub) RoomClientCount(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// RoomHasStaff reports whether any staff connection is subscribed to the room.
func (h *Hub) RoomHasStaff(chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.rooms[chatID] {
		if client.Session.Identity.IsAdmin {
			return true
		}
	}
	return false
}

// IdentityInRoom reports whether the identity still has a connection
// subscribed to the room, excluding the given client. Used to keep a staff
// roster entry active while a second connection of the same admin remains.
func (h *Hub) IdentityInRoom(chatID, identityID, excludeClientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for clientID, client := range h.rooms[chatID] {
		if clientID == excludeClientID {
			continue
		}
		if client.Session.Identity.ID == identityID {
			return true
		}
	}
	return false
}
