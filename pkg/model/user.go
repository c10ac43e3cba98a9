package model

import (
	"strings"

	"github.com/google/uuid"
)

type UserID string

// User is the identity the conversation is held under. There is no real
// authentication; a guest identity is as valid as a named one.
type User struct {
	ID       UserID `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
	IsGuest  bool   `json:"isGuest"`
}

func newUserID(prefix string) UserID {
	return UserID(prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

// NewGuestUser creates an anonymous identity
func NewGuestUser() *User {
	return &User{
		ID:      newUserID("guest"),
		Name:    "Guest User",
		IsGuest: true,
	}
}

// NewUser creates a named identity
func NewUser(name, email, photoURL string) *User {
	return &User{
		ID:       newUserID("user"),
		Name:     name,
		Email:    email,
		PhotoURL: photoURL,
	}
}
