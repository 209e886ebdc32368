package services

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrEmptyMessage     = errors.New("message body is empty")
	ErrInvalidStatus    = errors.New("invalid room status")
	ErrInvalidRole      = errors.New("invalid sender role")
	ErrCustomerRequired = errors.New("customer id is required")
	ErrInvalidToken     = errors.New("invalid token")
)
