package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/6587027/VipStore-sub001/models"
)

type EventName string

// Inbound events.
const (
	EventJoin          EventName = "join"
	EventSendMessage   EventName = "send_message"
	EventAdminJoinRoom EventName = "admin_join_room"
	EventTypingStart   EventName = "typing_start"
	EventTypingStop    EventName = "typing_stop"
)

// Outbound events.
const (
	EventRoomHistory     EventName = "room_history"
	EventJoinSuccess     EventName = "join_success"
	EventJoinError       EventName = "join_error"
	EventNewMessage      EventName = "new_message"
	EventMessageError    EventName = "message_error"
	EventActionError     EventName = "action_error"
	EventRoomListUpdate  EventName = "room_list_update"
	EventPresenceOnline  EventName = "presence_online"
	EventPresenceOffline EventName = "presence_offline"
	EventUserTyping      EventName = "user_typing"
	EventUserStopTyping  EventName = "user_stop_typing"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Outbound struct {
	Event EventName   `json:"event"`
	Data  interface{} `json:"data"`
}

// Inbound is one decoded, validated client event.
type Inbound interface {
	Name() EventName
}

type JoinRequest struct {
	UserID      string      `json:"user_id"`
	Role        models.Role `json:"role"`
	DisplayName string      `json:"display_name"`
	Email       string      `json:"email,omitempty"`
}

func (JoinRequest) Name() EventName { return EventJoin }

func (r JoinRequest) Identity() models.Identity {
	return models.Identity{
		UserID:      r.UserID,
		Role:        r.Role,
		DisplayName: r.DisplayName,
		Email:       r.Email,
	}
}

type SendMessageRequest struct {
	RoomID string `json:"room_id"`
	Body   string `json:"body"`
}

func (SendMessageRequest) Name() EventName { return EventSendMessage }

type AdminJoinRoomRequest struct {
	RoomID string `json:"room_id"`
}

func (AdminJoinRoomRequest) Name() EventName { return EventAdminJoinRoom }

type TypingRequest struct {
	RoomID string `json:"room_id"`
	Active bool   `json:"-"`
}

func (r TypingRequest) Name() EventName {
	if r.Active {
		return EventTypingStart
	}
	return EventTypingStop
}

type JoinSuccessPayload struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	RoomID string      `json:"room_id,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	RoomID  string `json:"room_id,omitempty"`
}

type RoomHistoryPayload struct {
	RoomID   string           `json:"room_id"`
	Messages []models.Message `json:"messages"`
}

type RoomListPayload struct {
	Rooms []models.Room `json:"rooms"`
}

type PresencePayload struct {
	RoomID     string `json:"room_id"`
	CustomerID string `json:"customer_id"`
}

type TypingPayload struct {
	RoomID string      `json:"room_id"`
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
}

// DecodeInbound parses a raw frame into its typed event. Unknown event names and
// payloads that do not fit the event's schema are rejected here, before any
// component sees them.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var (
		event Inbound
		err   error
	)
	switch env.Event {
	case EventJoin:
		var req JoinRequest
		err = decodeData(env.Data, &req)
		event = req
	case EventSendMessage:
		var req SendMessageRequest
		err = decodeData(env.Data, &req)
		req.RoomID = strings.TrimSpace(req.RoomID)
		event = req
	case EventAdminJoinRoom:
		var req AdminJoinRoomRequest
		err = decodeData(env.Data, &req)
		req.RoomID = strings.TrimSpace(req.RoomID)
		if err == nil && req.RoomID == "" {
			err = fmt.Errorf("%w: room_id is required", ErrMalformedEvent)
		}
		event = req
	case EventTypingStart, EventTypingStop:
		var req TypingRequest
		err = decodeData(env.Data, &req)
		req.RoomID = strings.TrimSpace(req.RoomID)
		req.Active = env.Event == EventTypingStart
		event = req
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
