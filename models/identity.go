package models

import (
	"errors"
	"strings"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the already-authenticated user handed to the chat layer.
type Identity struct {
	UserID      string `json:"user_id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// Normalize trims the fields and defaults DisplayName to UserID, then validates.
func (i *Identity) Normalize() error {
	i.UserID = strings.TrimSpace(i.UserID)
	i.DisplayName = strings.TrimSpace(i.DisplayName)
	i.Email = strings.TrimSpace(i.Email)
	if i.UserID == "" || !i.Role.Valid() {
		return ErrInvalidIdentity
	}
	if i.DisplayName == "" {
		i.DisplayName = i.UserID
	}
	return nil
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
