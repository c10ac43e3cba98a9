package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/adapter"
	"github.com/m-mizutani/mkai/pkg/model"
)

const (
	userKey     = "mk_user"
	sessionsKey = "mk_sessions"
)

// kvRepository stores each value as one JSON document in a Storage
type kvRepository struct {
	storage adapter.Storage
}

// New creates a Repository on top of the given blob storage
func New(storage adapter.Storage) Repository {
	return &kvRepository{storage: storage}
}

func (r *kvRepository) load(ctx context.Context, key string, v any) (bool, error) {
	reader, err := r.storage.Get(ctx, key)
	if errors.Is(err, adapter.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to open stored value", goerr.V("key", key))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return false, goerr.Wrap(err, "failed to read stored value", goerr.V("key", key))
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, goerr.Wrap(err, "failed to unmarshal stored value", goerr.V("key", key))
	}
	return true, nil
}

func (r *kvRepository) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal value", goerr.V("key", key))
	}

	writer, err := r.storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer", goerr.V("key", key))
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write value", goerr.V("key", key))
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer", goerr.V("key", key))
	}
	return nil
}

func (r *kvRepository) GetUser(ctx context.Context) (*model.User, error) {
	var user model.User
	found, err := r.load(ctx, userKey, &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &user, nil
}

func (r *kvRepository) PutUser(ctx context.Context, user *model.User) error {
	if user == nil {
		return goerr.New("user is nil")
	}
	return r.save(ctx, userKey, user)
}

func (r *kvRepository) DeleteUser(ctx context.Context) error {
	if err := r.storage.Delete(ctx, userKey); err != nil {
		return goerr.Wrap(err, "failed to delete user")
	}
	return nil
}

func (r *kvRepository) GetSessions(ctx context.Context) ([]*model.ChatSession, error) {
	var sessions []*model.ChatSession
	if _, err := r.load(ctx, sessionsKey, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *kvRepository) PutSessions(ctx context.Context, sessions []*model.ChatSession) error {
	if sessions == nil {
		sessions = []*model.ChatSession{}
	}
	return r.save(ctx, sessionsKey, sessions)
}
