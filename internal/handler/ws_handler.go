package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openclass/support-chat/internal/audit"
	"github.com/openclass/support-chat/internal/auth"
	"github.com/openclass/support-chat/internal/config"
	"github.com/openclass/support-chat/internal/domain"
	"github.com/openclass/support-chat/internal/hub"
	"github.com/openclass/support-chat/internal/presence"
	"github.com/openclass/support-chat/internal/service"
	"github.com/openclass/support-chat/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub       *hub.Hub
	presence  *presence.Registry
	validator *auth.Validator
	service   service.SupportService
	wsCfg     config.WebSocketConfig
}

func NewWSHandler(
	h *hub.Hub,
	reg *presence.Registry,
	validator *auth.Validator,
	svc service.SupportService,
	wsCfg config.WebSocketConfig,
) *WSHandler {
	return &WSHandler{
		hub:       h,
		presence:  reg,
		validator: validator,
		service:   svc,
		wsCfg:     wsCfg,
	}
}

// HandleWebSocket authenticates the handshake, registers presence, and
// starts the connection's pumps. Authentication fails closed: a bad token is
// rejected before the upgrade and before any presence registration.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.validator.Validate(bearerToken(r))
	if err != nil {
		audit.Log(r.Context(), audit.ActionAuthFailed, "", "websocket handshake rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, identity, h.wsCfg)

	// Presence registration completes before the connection can issue any
	// room command.
	first := h.presence.Add(identity)
	h.hub.Register(client)

	if first && identity.IsAdmin {
		h.hub.BroadcastToAll(&domain.PresenceChangedMessage{
			Type:        domain.MsgTypePresenceChanged,
			IdentityID:  identity.ID,
			Online:      true,
			StaffOnline: h.presence.StaffCount(),
		})
	}

	client.SendMessage(&domain.ConnectedMessage{
		Type:        domain.MsgTypeConnected,
		IdentityID:  identity.ID,
		Name:        identity.Name,
		IsAdmin:     identity.IsAdmin,
		StaffOnline: h.presence.StaffCount(),
	})

	audit.Log(r.Context(), audit.ActionConnect, identity.ID, "websocket connected")

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleMessage)
		// Read loop ended: explicit close or missed heartbeat. Either way
		// the teardown side effects are the same as an explicit leave.
		if err := h.service.HandleDisconnect(context.Background(), client); err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldClientID, client.ID).Msg("disconnect cleanup failed")
		}
	}()
}

// handleMessage dispatches one inbound frame as a tagged command. A failure
// in one command surfaces as a scoped error event and never tears down the
// connection or touches other connections.
func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			l := log.L()
			l.Error().Interface("panic", rec).Str(log.FieldClientID, client.ID).Msg("panic in message handler")
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "internal error"))
		}
	}()

	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid message format"))
		return
	}

	ctx := context.Background()

	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.ChatID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid join_room message"))
			return
		}
		h.reply(client, h.service.HandleJoinRoom(ctx, client, msg.ChatID))

	case domain.MsgTypeLeaveRoom:
		var msg domain.LeaveRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.ChatID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid leave_room message"))
			return
		}
		h.reply(client, h.service.HandleLeaveRoom(ctx, client, msg.ChatID))

	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.ChatID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid send_message message"))
			return
		}
		h.reply(client, h.service.HandleSendMessage(ctx, client, msg.ChatID, msg.Content, msg.MessageType))

	case domain.MsgTypeMarkRead:
		var msg domain.MarkReadMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.ChatID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid mark_read message"))
			return
		}
		h.reply(client, h.service.HandleMarkRead(ctx, client, msg.ChatID, msg.MessageIDs))

	case domain.MsgTypeTypingStart, domain.MsgTypeTypingStop:
		var msg domain.TypingMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.ChatID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid typing message"))
			return
		}
		h.reply(client, h.service.HandleTyping(ctx, client, msg.ChatID, base.Type == domain.MsgTypeTypingStart))

	case domain.MsgTypeCloseRoom:
		var msg domain.CloseRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.ChatID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid close_room message"))
			return
		}
		h.reply(client, h.service.HandleCloseRoom(ctx, client, msg.ChatID, msg.Rating))

	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "unknown message type"))
	}
}

func (h *WSHandler) reply(client *hub.Client, err error) {
	if err == nil {
		return
	}
	code, msg := errorCode(err)
	client.SendMessage(domain.NewErrorMessage(code, msg))
}

// errorCode maps service errors to stable machine-readable codes.
func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		return domain.ErrCodeNotFound, "room not found"
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotInRoom):
		return domain.ErrCodeForbidden, err.Error()
	case errors.Is(err, service.ErrRoomClosed):
		return domain.ErrCodeRoomClosed, "room is closed"
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrInvalidRating):
		return domain.ErrCodeBadRequest, err.Error()
	default:
		return domain.ErrCodeInternalError, "internal error"
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Browser WebSocket clients cannot set headers on the handshake.
	return r.URL.Query().Get("token")
}
