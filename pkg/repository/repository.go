package repository

import (
	"context"

	"github.com/m-mizutani/mkai/pkg/model"
)

// Repository persists the device-local application state: the logged-in
// identity and the session collection.
type Repository interface {
	// GetUser returns the stored identity, or nil if nobody is logged in
	GetUser(ctx context.Context) (*model.User, error)

	// PutUser stores the identity
	PutUser(ctx context.Context, user *model.User) error

	// DeleteUser removes the stored identity. Sessions are kept.
	DeleteUser(ctx context.Context) error

	// GetSessions returns the stored session collection in display order
	GetSessions(ctx context.Context) ([]*model.ChatSession, error)

	// PutSessions replaces the stored session collection
	PutSessions(ctx context.Context, sessions []*model.ChatSession) error
}
