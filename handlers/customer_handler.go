package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/6587027/VipStore-sub001/middleware"
)

// CreateOrGetRoom returns the caller's support room, creating it on first use.
func (h *RoomHandler) CreateOrGetRoom(c echo.Context) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	if identity.IsAdmin() {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "only customers own support rooms"})
	}

	room, created, err := h.rooms.ResolveOrCreate(c.Request().Context(), identity.UserID, identity.DisplayName, identity.Email)
	if err != nil {
		return h.writeError(c, err, "failed to create room")
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.gateway.PublishRoomList(c.Request().Context())
	}
	return c.JSON(status, room)
}

// GetMessages pages backwards through a room's history.
func (h *RoomHandler) GetMessages(c echo.Context) error {
	room, err := h.authorizedRoom(c)
	if err != nil {
		return h.writeError(c, err, "failed to fetch messages")
	}

	before, err := parseBefore(c.QueryParam("before"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "before must be an RFC 3339 timestamp"})
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
	}

	page, err := h.messages.History(c.Request().Context(), room.ID, before, limit)
	if err != nil {
		return h.writeError(c, err, "failed to fetch messages")
	}
	return c.JSON(http.StatusOK, page)
}

// PostMessage sends through the same pipeline as the websocket send_message event.
func (h *RoomHandler) PostMessage(c echo.Context) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	msg, err := h.gateway.Post(c.Request().Context(), identity, c.Param("id"), req.Body)
	if err != nil {
		return h.writeError(c, err, "failed to send message")
	}
	return c.JSON(http.StatusCreated, msg)
}
