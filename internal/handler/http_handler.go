package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openclass/support-chat/internal/domain"
	"github.com/openclass/support-chat/internal/service"
	"github.com/openclass/support-chat/pkg/log"
	"github.com/openclass/support-chat/pkg/response"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// HTTPHandler is the synchronous fallback surface: room listing, history,
// create and close without a live connection.
type HTTPHandler struct {
	service     service.QueryService
	requireAuth gin.HandlerFunc
}

func NewHTTPHandler(svc service.QueryService, requireAuth gin.HandlerFunc) *HTTPHandler {
	return &HTTPHandler{
		service:     svc,
		requireAuth: requireAuth,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/status", h.Status)

		rooms := api.Group("/rooms", h.requireAuth)
		{
			rooms.GET("", h.ListRooms)
			rooms.POST("", h.CreateRoom)
			rooms.GET("/:id/messages", h.GetHistory)
			rooms.PUT("/:id/close", h.CloseRoom)
		}
	}

	r.GET("/health", h.HealthCheck)
}

func (h *HTTPHandler) Status(c *gin.Context) {
	response.Success(c, h.service.Status(c.Request.Context()))
}

func (h *HTTPHandler) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	identity, ok := GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req domain.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, err.Error())
		return
	}

	room, err := h.service.CreateRoom(ctx, identity, req.Topic)
	if err != nil {
		l.Error().Err(err).Msg("failed to create room")
		response.InternalError(c, "failed to create room")
		return
	}

	response.Created(c, room)
}

func (h *HTTPHandler) ListRooms(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	identity, ok := GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req domain.ListRoomsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.ListRooms(ctx, identity, req.Status)
	if err != nil {
		l.Error().Err(err).Msg("failed to list rooms")
		response.InternalError(c, "failed to list rooms")
		return
	}

	response.Success(c, result)
}

func (h *HTTPHandler) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	identity, ok := GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	chatID := c.Param("id")
	limit := defaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 && v <= maxLimit {
			limit = v
		}
	}

	messages, err := h.service.GetHistory(ctx, identity, chatID, limit)
	if err != nil {
		l.Error().Err(err).Str(log.FieldChatID, chatID).Msg("failed to get history")
		writeServiceError(c, err, "failed to get history")
		return
	}

	response.Success(c, messages)
}

func (h *HTTPHandler) CloseRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	identity, ok := GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	chatID := c.Param("id")

	var req domain.CloseRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, err.Error())
		return
	}

	room, err := h.service.CloseRoom(ctx, identity, chatID, req.Rating)
	if err != nil {
		l.Error().Err(err).Str(log.FieldChatID, chatID).Msg("failed to close room")
		writeServiceError(c, err, "failed to close room")
		return
	}

	response.Success(c, room)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func writeServiceError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		response.NotFound(c, "room not found")
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, "not a participant of this room")
	case errors.Is(err, service.ErrInvalidRating):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, msg)
	}
}
