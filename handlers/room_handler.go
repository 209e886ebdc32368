package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/6587027/VipStore-sub001/chat"
	"github.com/6587027/VipStore-sub001/middleware"
	"github.com/6587027/VipStore-sub001/models"
	"github.com/6587027/VipStore-sub001/redis"
	"github.com/6587027/VipStore-sub001/services"
)

// PresenceReader lists customers currently connected to any gateway instance.
type PresenceReader interface {
	Online(ctx context.Context) ([]redis.OnlineCustomer, error)
}

// RoomHandler is the plain HTTP surface of the chat for clients that cannot
// hold a websocket. Writes go through the gateway so live subscribers see them.
type RoomHandler struct {
	rooms    *services.RoomService
	messages *services.MessageService
	gateway  *chat.Gateway
	presence PresenceReader
	logger   zerolog.Logger
}

func NewRoomHandler(rooms *services.RoomService, messages *services.MessageService, gateway *chat.Gateway, presence PresenceReader, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		rooms:    rooms,
		messages: messages,
		gateway:  gateway,
		presence: presence,
		logger:   logger.With().Str("component", "room_handler").Logger(),
	}
}

// ListRooms returns the admin dashboard list, optionally filtered by status.
func (h *RoomHandler) ListRooms(c echo.Context) error {
	opts := services.ListOptions{Status: models.RoomStatus(c.QueryParam("status"))}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		opts.Limit = limit
	}

	rooms, err := h.rooms.ListAll(c.Request().Context(), opts)
	if err != nil {
		return h.writeError(c, err, "failed to fetch rooms")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rooms": rooms,
		"total": len(rooms),
	})
}

func (h *RoomHandler) GetRoom(c echo.Context) error {
	room, err := h.authorizedRoom(c)
	if err != nil {
		return h.writeError(c, err, "failed to fetch room")
	}
	return c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) UpdateStatus(c echo.Context) error {
	var req struct {
		Status models.RoomStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	room, err := h.gateway.SetRoomStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return h.writeError(c, err, "failed to update room")
	}
	return c.JSON(http.StatusOK, room)
}

// MarkRead is the admin read acknowledgement for clients without a websocket.
func (h *RoomHandler) MarkRead(c echo.Context) error {
	if err := h.gateway.AcknowledgeRoom(c.Request().Context(), c.Param("id")); err != nil {
		return h.writeError(c, err, "failed to mark room read")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *RoomHandler) DeleteRoom(c echo.Context) error {
	if err := h.gateway.DeleteRoom(c.Request().Context(), c.Param("id")); err != nil {
		return h.writeError(c, err, "failed to delete room")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "room deleted",
	})
}

// OnlineCustomers reads the shared presence hash.
func (h *RoomHandler) OnlineCustomers(c echo.Context) error {
	if h.presence == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "presence is not available"})
	}
	customers, err := h.presence.Online(c.Request().Context())
	if err != nil {
		return h.writeError(c, err, "failed to fetch online customers")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"customers": customers,
		"count":     len(customers),
	})
}

// authorizedRoom loads the :id room for an admin or for the customer owning it.
func (h *RoomHandler) authorizedRoom(c echo.Context) (*models.Room, error) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return nil, services.ErrAccessDenied
	}
	room, err := h.rooms.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !identity.IsAdmin() && room.CustomerID != identity.UserID {
		return nil, services.ErrAccessDenied
	}
	return room, nil
}

func (h *RoomHandler) writeError(c echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrCustomerRequired),
		errors.Is(err, models.ErrInvalidIdentity):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, chat.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{"error": "request timed out"})
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg(fallback)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

func parseBefore(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
