package chat

import (
	"errors"

	"github.com/6587027/VipStore-sub001/models"
	"github.com/6587027/VipStore-sub001/services"
)

var (
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrNotJoined        = errors.New("connection has not joined")
	ErrAlreadyJoined    = errors.New("connection already joined")
	ErrNotAdmin         = errors.New("admin role required")
	ErrNotSubscribed    = errors.New("not subscribed to room")
	ErrRateLimited      = errors.New("too many messages")
	ErrIdentityMismatch = errors.New("join identity does not match token")
	ErrUnauthenticated  = errors.New("authenticated identity required")
	ErrSendQueueFull    = errors.New("send queue full")
	ErrConnClosed       = errors.New("connection closed")
)

// clientMessage is the text sent to a client for err. Errors without a mapping
// are reported generically and logged by the caller.
func clientMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		return "message body must not be empty", true
	case errors.Is(err, services.ErrRoomNotFound):
		return "room not found", true
	case errors.Is(err, services.ErrAccessDenied):
		return "access to this room is denied", true
	case errors.Is(err, services.ErrInvalidStatus):
		return "invalid room status", true
	case errors.Is(err, services.ErrCustomerRequired), errors.Is(err, models.ErrInvalidIdentity):
		return "a valid user identity is required", true
	case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrUnknownEvent):
		return err.Error(), true
	case errors.Is(err, ErrNotJoined):
		return "join before sending events", true
	case errors.Is(err, ErrAlreadyJoined):
		return "connection already joined", true
	case errors.Is(err, ErrNotAdmin):
		return "admin role required", true
	case errors.Is(err, ErrUnauthenticated):
		return "authentication required", true
	case errors.Is(err, ErrIdentityMismatch):
		return "join identity does not match the authenticated user", true
	case errors.Is(err, ErrRateLimited):
		return "too many messages, slow down", true
	}
	return "internal error", false
}
